// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Reader provides read-only access to a parsed pak archive.
type Reader struct {
	// ra is the underlying random-access reader used for payload reads.
	ra io.ReaderAt
	// file is set when Reader owns an *os.File opened via Open.
	file *os.File
	// index resolves paths to entries.
	index DirectoryIndex
	// keyErr is the key resolution failure reported on encrypted entry reads.
	keyErr error
	// cipher decrypts entry payloads; nil when no key is available.
	cipher *sectionCipher
	// opts are reader options with defaults applied.
	opts ReaderOptions
	// info is the parsed footer.
	info Info
	// size is total source size in bytes.
	size int64
	// keyOnce guards lazy entry key resolution.
	keyOnce sync.Once
	// mu guards closed state and close operation.
	mu sync.Mutex
	// closed reports whether Close was already called.
	closed bool
}

// Open opens a pak archive by path and parses footer and index.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{})
}

// OpenWithOptions opens a pak archive by path using explicit reader options.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(f, size, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.file = f
	return r, nil
}

// NewReader parses a pak archive from ra of known size.
func NewReader(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	opts.applyDefaults()

	info, err := ParseInfo(ra, size)
	if err != nil {
		return nil, err
	}

	opts.Logger.Debug("pak footer parsed",
		"version", info.Version.String(),
		"footer_size", info.Size(),
		"index_offset", info.IndexOffset,
		"index_size", info.IndexSize,
		"encrypted_index", info.EncryptedIndex,
		"key_guid", info.KeyGUID.String())

	index, err := parseIndex(ra, info, size, opts)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	opts.Logger.Debug("pak index parsed",
		"kind", string(index.Kind()),
		"mount_point", index.MountPoint(),
		"entries", index.Len())

	return &Reader{
		ra:    ra,
		size:  size,
		info:  info,
		index: index,
		opts:  opts,
	}, nil
}

// Info returns a copy of the parsed footer.
func (r *Reader) Info() Info {
	info := r.info
	info.CompressionMethods = append([]string(nil), r.info.CompressionMethods...)
	return info
}

// Version returns the archive format revision.
func (r *Reader) Version() Version {
	return r.info.Version
}

// Size returns the archive size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Index returns the parsed directory index.
func (r *Reader) Index() DirectoryIndex {
	return r.index
}

// MountPoint returns the archive mount point.
func (r *Reader) MountPoint() string {
	return r.index.MountPoint()
}

// Paths returns all indexed paths, delete records included.
func (r *Reader) Paths() []string {
	return r.index.Paths()
}

// Lookup returns the entry stored under p. Delete records are returned with Deleted set.
func (r *Reader) Lookup(p string) (Entry, error) {
	if err := r.checkOpen(); err != nil {
		return Entry{}, err
	}

	e, err := r.index.Lookup(p)
	if err != nil {
		return Entry{}, err
	}

	return r.withContentHash(e), nil
}

// Entries returns all entries in index order, filtered by opts.
func (r *Reader) Entries(opts ListOptions) ([]EntryInfo, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	entries := make([]EntryInfo, 0, r.index.Len())
	err := r.index.Walk(func(p string, e Entry) error {
		entries = append(entries, r.entryInfo(p, e))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return filterEntries(entries, opts), nil
}

// entryInfo pairs an entry with its path and method name.
func (r *Reader) entryInfo(p string, e Entry) EntryInfo {
	method, _ := r.info.MethodName(e.CompressionMethod)
	return EntryInfo{Path: p, Method: method, Entry: r.withContentHash(e)}
}

// withContentHash fills the digest of compact index records from the record
// header in front of the payload. The entry is returned unchanged when the
// header cannot be read.
func (r *Reader) withContentHash(e Entry) Entry {
	if !e.Hash.IsZero() || e.Deleted() {
		return e
	}
	if inline, err := r.inlineEntry(e); err == nil {
		e.Hash = inline.Hash
	}

	return e
}

// Close closes the underlying file if reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// checkOpen reports ErrClosed after Close.
func (r *Reader) checkOpen() error {
	if r == nil || r.ra == nil {
		return ErrNilReader
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	return nil
}

// entryCipher resolves the payload key once.
func (r *Reader) entryCipher() (*sectionCipher, error) {
	r.keyOnce.Do(func() {
		key, err := resolveKey(r.opts.Keys, r.info.KeyGUID)
		if err != nil {
			r.keyErr = err
			return
		}

		r.cipher, r.keyErr = newSectionCipher(key)
	})

	return r.cipher, r.keyErr
}

// inlineEntry decodes the record header stored in front of e's payload and
// checks it against the index record. Block offsets are returned absolute.
func (r *Reader) inlineEntry(e Entry) (Entry, error) {
	v := r.info.Version
	headerSize := e.HeaderSize(v)
	end := e.PayloadOffset(v) + e.StoredSize()
	if e.Offset < 0 || end > r.info.IndexOffset || end < e.Offset {
		return Entry{}, fmt.Errorf("%w: entry [%d,%d) outside data area of %d bytes",
			ErrInvalidEncoding, e.Offset, end, r.info.IndexOffset)
	}

	buf := make([]byte, headerSize)
	if _, err := r.ra.ReadAt(buf, e.Offset); err != nil && !errors.Is(err, io.EOF) {
		return Entry{}, fmt.Errorf("read record header: %w", err)
	}

	inline, err := decodeEntry(NewCursor(buf), v)
	if err != nil {
		return Entry{}, fmt.Errorf("record header at %d: %w", e.Offset, err)
	}

	if v.Features().RelativeChunkOffsets {
		for i := range inline.Blocks {
			inline.Blocks[i].Start += e.Offset
			inline.Blocks[i].End += e.Offset
		}
	}
	inline.Offset = e.Offset

	if !r.opts.SkipInlineCheck {
		if err := compareInlineEntry(e, inline); err != nil {
			return Entry{}, err
		}
	}

	return inline, nil
}

// compareInlineEntry reports fields on which the index and inline records disagree.
func compareInlineEntry(index, inline Entry) error {
	mismatch := func(field string, want, got any) error {
		return fmt.Errorf("%w: record header %s=%v, index has %v", ErrIntegrityMismatch, field, got, want)
	}

	switch {
	case index.Size != inline.Size:
		return mismatch("size", index.Size, inline.Size)
	case index.UncompressedSize != inline.UncompressedSize:
		return mismatch("uncompressed_size", index.UncompressedSize, inline.UncompressedSize)
	case index.CompressionMethod != inline.CompressionMethod:
		return mismatch("compression_method", index.CompressionMethod, inline.CompressionMethod)
	case index.Encrypted() != inline.Encrypted():
		return mismatch("encrypted", index.Encrypted(), inline.Encrypted())
	case len(index.Blocks) != len(inline.Blocks):
		return mismatch("blocks", len(index.Blocks), len(inline.Blocks))
	case !index.Hash.IsZero() && index.Hash != inline.Hash:
		return mismatch("hash", index.Hash, inline.Hash)
	}

	for i := range index.Blocks {
		if index.Blocks[i] != inline.Blocks[i] {
			return mismatch(fmt.Sprintf("block[%d]", i), index.Blocks[i], inline.Blocks[i])
		}
	}

	return nil
}
