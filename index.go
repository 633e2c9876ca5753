// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"fmt"
	"io"
	"log/slog"
)

// IndexKind names the directory index encoding.
type IndexKind string

// Directory index encodings.
const (
	// IndexKindFlat is the legacy (path, entry) list used below version 10.
	IndexKindFlat IndexKind = "flat"
	// IndexKindHashed is the two-tier path hash index used from version 10.
	IndexKindHashed IndexKind = "hashed"
)

// DirectoryIndex resolves mount-relative paths to entry records.
// Implementations are immutable after parse and safe for concurrent use.
type DirectoryIndex interface {
	// Kind returns the index encoding.
	Kind() IndexKind
	// MountPoint returns the archive mount point.
	MountPoint() string
	// Len returns number of indexed paths, delete records included.
	Len() int
	// Paths returns all indexed paths in stored order.
	Paths() []string
	// Lookup returns the entry stored under p. Matching is exact first, then case-insensitive.
	Lookup(p string) (Entry, error)
	// Walk calls fn for every path in stored order until fn returns an error.
	Walk(fn func(p string, e Entry) error) error
}

// IndexRecord pairs a mount-relative path with its entry.
type IndexRecord struct {
	Path  string `json:"path" yaml:"path"`
	Entry Entry  `json:"entry" yaml:"entry"`
}

// indexSource reads and verifies index regions of one archive.
type indexSource struct {
	ra        io.ReaderAt
	cipher    *sectionCipher
	logger    *slog.Logger
	limit     int64
	cacheSize int
}

// readSection loads [offset, offset+size), decrypts it when the archive index
// is encrypted, and checks want against SHA1 of the (padded) plaintext.
func (s indexSource) readSection(name string, offset, size int64, want Digest) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > s.limit {
		return nil, fmt.Errorf("%w: %s region [%d,+%d) outside index area of %d bytes",
			ErrInvalidEncoding, name, offset, size, s.limit)
	}

	buf := make([]byte, size)
	if _, err := s.ra.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s region: %w", name, err)
	}

	if s.cipher != nil {
		if err := s.cipher.decrypt(buf); err != nil {
			return nil, fmt.Errorf("%s region: %w", name, err)
		}
	}

	got := ContentDigest(buf)
	if got != want {
		if s.cipher != nil {
			return nil, fmt.Errorf("%w: %w: %s region digest %s, want %s (wrong key?)",
				ErrDecryptionFailed, ErrIntegrityMismatch, name, got, want)
		}

		return nil, fmt.Errorf("%w: %s region digest %s, want %s", ErrIntegrityMismatch, name, got, want)
	}

	s.logger.Debug("index region loaded", "region", name, "offset", offset, "size", size)
	return buf, nil
}

// parseIndex reads the directory index described by info.
func parseIndex(ra io.ReaderAt, info Info, archiveSize int64, opts ReaderOptions) (DirectoryIndex, error) {
	src := indexSource{
		ra:        ra,
		limit:     archiveSize - info.Size(),
		logger:    opts.Logger,
		cacheSize: opts.EntryCacheSize,
	}

	if info.EncryptedIndex {
		key, err := resolveKey(opts.Keys, info.KeyGUID)
		if err != nil {
			return nil, fmt.Errorf("encrypted index: %w", err)
		}

		if src.cipher, err = newSectionCipher(key); err != nil {
			return nil, err
		}
	}

	primary, err := src.readSection("primary", info.IndexOffset, info.IndexSize, info.IndexHash)
	if err != nil {
		return nil, err
	}

	if info.Version.Features().PathHashIndex {
		return parseHashedIndex(primary, src, info.Version)
	}

	return parseFlatIndex(primary, info.Version)
}

// encodedIndex is the serialized form of a directory index.
type encodedIndex struct {
	// regions holds secondary regions in file order; each is written right after the primary.
	regions [][]byte
	// primary is the region referenced by the footer.
	primary []byte
}

// size returns total stored bytes of all regions.
func (e encodedIndex) size() int64 {
	n := int64(len(e.primary))
	for _, region := range e.regions {
		n += int64(len(region))
	}

	return n
}

// encodeIndex serializes records with the index variant selected by v.
// The returned digest covers the primary region referenced by the footer.
func encodeIndex(mount string, seed uint64, records []IndexRecord, v Version, indexOffset int64, cipher *sectionCipher) (encodedIndex, Digest, error) {
	if v.Features().PathHashIndex {
		enc := hashedIndexEncoder{
			cipher:  cipher,
			mount:   mount,
			records: records,
			seed:    seed,
			version: v,
		}

		return enc.encode(indexOffset)
	}

	plain, err := encodeFlatIndex(mount, records, v)
	if err != nil {
		return encodedIndex{}, Digest{}, err
	}

	stored, digest := sealSection(plain, cipher)
	return encodedIndex{primary: stored}, digest, nil
}
