// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Info is the fixed-layout footer at the end of every pak archive.
type Info struct {
	// CompressionMethods maps entry method index i (1-based) to CompressionMethods[i-1].
	// Below version 8 it is always Zlib, Gzip, Oodle.
	CompressionMethods []string `json:"compression_methods,omitempty" yaml:"compression_methods,omitempty"`
	// IndexOffset is the absolute offset of the primary index region.
	IndexOffset int64 `json:"index_offset" yaml:"index_offset"`
	// IndexSize is the byte size of the primary index region (padded when encrypted).
	IndexSize int64 `json:"index_size" yaml:"index_size"`
	// Version is the archive format revision.
	Version Version `json:"version" yaml:"version"`
	// KeyGUID selects the encryption key (v7+); zero means default key.
	KeyGUID KeyGUID `json:"key_guid,omitzero" yaml:"key_guid,omitempty"`
	// IndexHash is SHA1 over the stored primary index bytes (decrypted, padded).
	IndexHash Digest `json:"index_hash" yaml:"index_hash"`
	// EncryptedIndex reports whether index regions are AES encrypted (v4+).
	EncryptedIndex bool `json:"encrypted_index,omitempty" yaml:"encrypted_index,omitempty"`
	// FrozenIndex is the frozen index flag (v9+); frozen archives are not supported.
	FrozenIndex bool `json:"frozen_index,omitempty" yaml:"frozen_index,omitempty"`
}

// legacyCompressionMethods are implied by every archive below version 8.
var legacyCompressionMethods = []string{CompressionZlib, CompressionGzip, CompressionOodle}

// NewInfo returns footer defaults for v.
func NewInfo(v Version) Info {
	info := Info{Version: v}
	if !v.Features().NamedCompression {
		info.CompressionMethods = append([]string(nil), legacyCompressionMethods...)
	}

	return info
}

// footerSize returns encoded footer size for v.
func footerSize(v Version) int64 {
	f := v.Features()
	size := int64(1 + 4 + 4 + 8 + 8 + digestSize)
	if f.KeyGUID {
		size += guidSize
	}
	if f.FrozenFlag {
		size++
	}

	return size + int64(f.CompressionSlots)*compressionMethodNameLen
}

// maxFooterSize is the largest known footer size.
var maxFooterSize = footerSize(VersionLatest)

// Size returns encoded footer size.
func (info Info) Size() int64 {
	return footerSize(info.Version)
}

// MethodName returns the compression method name for a 1-based entry method index.
// Index 0 returns "" and true.
func (info Info) MethodName(index uint32) (string, bool) {
	if index == 0 {
		return CompressionNone, true
	}
	if int(index) > len(info.CompressionMethods) {
		return "", false
	}

	return info.CompressionMethods[index-1], true
}

// MethodIndex returns the 1-based index of a method name (case-insensitive).
func (info Info) MethodIndex(name string) (uint32, bool) {
	if name == CompressionNone {
		return 0, true
	}

	for i, method := range info.CompressionMethods {
		if strings.EqualFold(method, name) {
			return uint32(i + 1), true //nolint:gosec // bounded by slot count
		}
	}

	return 0, false
}

// MarshalBinary encodes footer fields for info.Version.
func (info Info) MarshalBinary() ([]byte, error) {
	c := NewCursor(make([]byte, 0, info.Size()))
	if err := info.encode(c); err != nil {
		return nil, err
	}

	return c.Bytes(), nil
}

// encode writes version-gated footer fields in historical order.
func (info Info) encode(c *Cursor) error {
	if !info.Version.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, info.Version)
	}

	f := info.Version.Features()
	if f.KeyGUID {
		c.WriteGUID(info.KeyGUID)
	}

	c.WriteBool(info.EncryptedIndex && f.IndexEncryption)
	c.WriteU32(Magic)
	c.WriteI32(info.Version.Raw())
	c.WriteI64(info.IndexOffset)
	c.WriteI64(info.IndexSize)
	c.WriteDigest(info.IndexHash)
	if f.FrozenFlag {
		c.WriteBool(info.FrozenIndex)
	}

	if !f.NamedCompression {
		return nil
	}

	if len(info.CompressionMethods) > f.CompressionSlots {
		return fmt.Errorf("%w: %d compression methods, version %s has %d slots",
			ErrInvalidEncoding, len(info.CompressionMethods), info.Version, f.CompressionSlots)
	}

	slot := make([]byte, compressionMethodNameLen)
	for i := range f.CompressionSlots {
		clear(slot)
		if i < len(info.CompressionMethods) {
			name := info.CompressionMethods[i]
			if len(name) > compressionMethodNameLen {
				return fmt.Errorf("%w: compression method name %q exceeds %d bytes",
					ErrInvalidEncoding, name, compressionMethodNameLen)
			}

			copy(slot, name)
		}

		c.WriteBytes(slot)
	}

	return nil
}

// decodeInfo reads a footer laid out for v from c.
func decodeInfo(c *Cursor, v Version) (Info, error) {
	f := v.Features()
	info := Info{Version: v}

	var err error
	if f.KeyGUID {
		if info.KeyGUID, err = c.ReadGUID(); err != nil {
			return Info{}, err
		}
	}

	if info.EncryptedIndex, err = c.ReadBool(); err != nil {
		return Info{}, err
	}
	if !f.IndexEncryption {
		info.EncryptedIndex = false
	}

	magic, err := c.ReadU32()
	if err != nil {
		return Info{}, err
	}
	if magic != Magic {
		return Info{}, fmt.Errorf("%w: found 0x%08X", ErrBadMagic, magic)
	}

	raw, err := c.ReadI32()
	if err != nil {
		return Info{}, err
	}
	if raw != v.Raw() {
		return Info{}, fmt.Errorf("%w: footer version %d, expected %d", ErrUnsupportedVersion, raw, v.Raw())
	}

	if info.IndexOffset, err = c.ReadI64(); err != nil {
		return Info{}, err
	}
	if info.IndexSize, err = c.ReadI64(); err != nil {
		return Info{}, err
	}
	if info.IndexHash, err = c.ReadDigest(); err != nil {
		return Info{}, err
	}

	if f.FrozenFlag {
		if info.FrozenIndex, err = c.ReadBool(); err != nil {
			return Info{}, err
		}
	}

	if !f.NamedCompression {
		info.CompressionMethods = append([]string(nil), legacyCompressionMethods...)
		return info, nil
	}

	for range f.CompressionSlots {
		slot, err := c.ReadBytes(compressionMethodNameLen)
		if err != nil {
			return Info{}, err
		}

		info.CompressionMethods = append(info.CompressionMethods, string(bytes.TrimRight(slot, "\x00")))
	}

	for len(info.CompressionMethods) > 0 && info.CompressionMethods[len(info.CompressionMethods)-1] == "" {
		info.CompressionMethods = info.CompressionMethods[:len(info.CompressionMethods)-1]
	}

	return info, nil
}

// footerCandidates lists distinct footer sizes, newest layout first.
func footerCandidates() []int64 {
	out := make([]int64, 0, 5)
	all := Versions()
	for i := len(all) - 1; i >= 0; i-- {
		size := footerSize(all[i])
		if len(out) == 0 || out[len(out)-1] != size {
			out = append(out, size)
		}
	}

	return out
}

// ParseInfo locates and decodes the footer of an archive of total size bytes.
// Known footer sizes are tried newest first; magic and version must agree.
func ParseInfo(ra io.ReaderAt, size int64) (Info, error) {
	if ra == nil {
		return Info{}, ErrNilReader
	}

	tailLen := min(size, maxFooterSize)
	if tailLen <= 0 {
		return Info{}, fmt.Errorf("%w: archive is empty", ErrBadMagic)
	}

	tail := make([]byte, tailLen)
	if _, err := ra.ReadAt(tail, size-tailLen); err != nil && err != io.EOF {
		return Info{}, fmt.Errorf("read footer: %w", err)
	}

	var versionErr error
	for _, candidate := range footerCandidates() {
		if candidate > tailLen {
			continue
		}

		footer := tail[tailLen-candidate:]
		magicAt := int64(1)
		if candidate > footerSize(VersionDeleteRecords) {
			magicAt += guidSize
		}

		c := NewCursor(footer)
		_ = c.Seek(magicAt)
		magic, _ := c.ReadU32()
		if magic != Magic {
			continue
		}

		raw, _ := c.ReadI32()
		var version Version
		for _, v := range versionsForRaw(raw) {
			if footerSize(v) == candidate {
				version = v
				break
			}
		}

		if version == VersionUnknown {
			versionErr = fmt.Errorf("%w: raw version %d with %d-byte footer", ErrUnsupportedVersion, raw, candidate)
			continue
		}

		info, err := decodeInfo(NewCursor(footer), version)
		if err != nil {
			return Info{}, err
		}
		if info.FrozenIndex {
			return Info{}, fmt.Errorf("%w: frozen index", ErrUnsupportedVersion)
		}
		if info.IndexOffset < 0 || info.IndexSize < 0 || info.IndexOffset+info.IndexSize > size-candidate {
			return Info{}, fmt.Errorf("%w: index [%d,+%d) outside archive data of %d bytes",
				ErrInvalidEncoding, info.IndexOffset, info.IndexSize, size-candidate)
		}

		return info, nil
	}

	if versionErr != nil {
		return Info{}, versionErr
	}

	return Info{}, fmt.Errorf("%w: no known footer layout in last %d bytes", ErrBadMagic, tailLen)
}
