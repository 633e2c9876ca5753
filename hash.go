// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"crypto/sha1" //nolint:gosec // format-defined digest
	"encoding/hex"
	"hash"
	"hash/crc32"
	"strings"
)

// Digest is a 20-byte SHA1 digest stored in footer, index, and entry records.
type Digest [digestSize]byte

// String returns lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether all digest bytes are zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ContentDigest returns SHA1 over b.
func ContentDigest(b []byte) Digest {
	return Digest(sha1.Sum(b)) //nolint:gosec // format-defined digest
}

// DigestWriter accumulates a streaming SHA1 digest.
type DigestWriter struct {
	h hash.Hash
}

// NewDigestWriter returns an empty streaming digest.
func NewDigestWriter() *DigestWriter {
	return &DigestWriter{h: sha1.New()} //nolint:gosec // format-defined digest
}

// Write implements io.Writer.
func (w *DigestWriter) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Sum returns the digest of bytes written so far.
func (w *DigestWriter) Sum() Digest {
	var d Digest
	copy(d[:], w.h.Sum(nil))
	return d
}

// FNV-64 constants. The legacy hash swaps offset basis and prime.
const (
	fnv64Offset uint64 = 0xcbf29ce484222325
	fnv64Prime  uint64 = 0x00000100000001b3
)

// PathHash64 returns the path-hash-index key of path under seed for version v.
// Path is lowercased before hashing.
func PathHash64(path string, seed uint64, v Version) uint64 {
	lower := strings.ToLower(path)
	if v.Features().FixedPathHash {
		return pathHashFixed(lower, seed)
	}

	return pathHashLegacy(lower, seed)
}

// pathHashLegacy is the path hash shipped before version 11.
func pathHashLegacy(s string, seed uint64) uint64 {
	h := fnv64Prime + seed
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnv64Offset
	}

	return h
}

// pathHashFixed is FNV-1a 64 with the seed folded into the offset basis.
func pathHashFixed(s string, seed uint64) uint64 {
	h := fnv64Offset + seed
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnv64Prime
	}

	return h
}

// PathHashSeedFromName derives a path hash seed from an archive file name
// (CRC32 of the lowercased base name).
func PathHashSeedFromName(name string) uint64 {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	return uint64(crc32.ChecksumIEEE([]byte(strings.ToLower(base))))
}
