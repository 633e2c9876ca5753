// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"fmt"
	"math"
	"strings"
)

// FlatIndex is the legacy index: mount point and (path, entry) pairs in stored order.
type FlatIndex struct {
	byKey   map[string]int
	byExact map[string]int
	mount   string
	records []IndexRecord
}

// newFlatIndex builds lookup maps over records. First occurrence wins on duplicates.
func newFlatIndex(mount string, records []IndexRecord) *FlatIndex {
	idx := &FlatIndex{
		mount:   mount,
		records: records,
		byExact: make(map[string]int, len(records)),
		byKey:   make(map[string]int, len(records)),
	}

	for i, rec := range records {
		if _, ok := idx.byExact[rec.Path]; !ok {
			idx.byExact[rec.Path] = i
		}

		key := strings.ToLower(rec.Path)
		if _, ok := idx.byKey[key]; !ok {
			idx.byKey[key] = i
		}
	}

	return idx
}

// Kind implements DirectoryIndex.
func (idx *FlatIndex) Kind() IndexKind { return IndexKindFlat }

// MountPoint implements DirectoryIndex.
func (idx *FlatIndex) MountPoint() string { return idx.mount }

// Len implements DirectoryIndex.
func (idx *FlatIndex) Len() int { return len(idx.records) }

// Records returns a copy of stored pairs.
func (idx *FlatIndex) Records() []IndexRecord {
	out := make([]IndexRecord, len(idx.records))
	for i, rec := range idx.records {
		out[i] = IndexRecord{Path: rec.Path, Entry: rec.Entry.Clone()}
	}

	return out
}

// Paths implements DirectoryIndex.
func (idx *FlatIndex) Paths() []string {
	out := make([]string, len(idx.records))
	for i, rec := range idx.records {
		out[i] = rec.Path
	}

	return out
}

// Lookup implements DirectoryIndex.
func (idx *FlatIndex) Lookup(p string) (Entry, error) {
	p = NormalizePath(p)
	if i, ok := idx.byExact[p]; ok {
		return idx.records[i].Entry.Clone(), nil
	}
	if i, ok := idx.byKey[strings.ToLower(p)]; ok {
		return idx.records[i].Entry.Clone(), nil
	}

	return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, p)
}

// Walk implements DirectoryIndex.
func (idx *FlatIndex) Walk(fn func(p string, e Entry) error) error {
	for _, rec := range idx.records {
		if err := fn(rec.Path, rec.Entry.Clone()); err != nil {
			return err
		}
	}

	return nil
}

// parseFlatIndex decodes mount point, count, and (path, full entry) pairs.
func parseFlatIndex(b []byte, v Version) (*FlatIndex, error) {
	c := NewCursor(b)
	mount, err := c.ReadString()
	if err != nil {
		return nil, fmt.Errorf("flat index mount point: %w", err)
	}

	count, err := c.ReadI32()
	if err != nil {
		return nil, fmt.Errorf("flat index entry count: %w", err)
	}

	// Smallest possible pair is an empty string plus a v2 record.
	minPair := int64(4 + 8 + 8 + 8 + 4 + digestSize)
	if count < 0 || int64(count)*minPair > c.Remaining() {
		return nil, fmt.Errorf("%w: flat index entry count %d with %d bytes left", ErrInvalidEncoding, count, c.Remaining())
	}

	records := make([]IndexRecord, 0, count)
	for i := range int(count) {
		name, err := c.ReadString()
		if err != nil {
			return nil, fmt.Errorf("flat index entry %d path: %w", i, err)
		}

		entry, err := decodeEntry(c, v)
		if err != nil {
			return nil, fmt.Errorf("flat index entry %d (%s): %w", i, name, err)
		}

		records = append(records, IndexRecord{Path: NormalizePath(name), Entry: entry})
	}

	return newFlatIndex(mount, records), nil
}

// encodeFlatIndex writes records in the given order.
func encodeFlatIndex(mount string, records []IndexRecord, v Version) ([]byte, error) {
	if len(records) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d entries", ErrSizeOverflow, len(records))
	}

	c := NewCursor(make([]byte, 0, 64*len(records)+64))
	c.WriteString(mount)
	c.WriteI32(int32(len(records))) //nolint:gosec // bounded above
	for _, rec := range records {
		c.WriteString(rec.Path)
		if err := encodeEntry(c, &rec.Entry, v, false); err != nil {
			return nil, fmt.Errorf("entry %s: %w", rec.Path, err)
		}
	}

	return c.Bytes(), nil
}
