// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"fmt"
	"io"
	"os"
)

// ReadInfo opens an archive and returns only its footer without reading the index.
func ReadInfo(path string) (Info, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	return ParseInfo(f, size)
}

// ListEntries opens an archive and returns entry metadata without payload reads.
func ListEntries(path string) ([]EntryInfo, error) {
	return ListEntriesWithOptions(path, ReaderOptions{}, ListOptions{})
}

// ListEntriesWithOptions opens an archive and returns filtered entry metadata.
func ListEntriesWithOptions(path string, opts ReaderOptions, list ListOptions) ([]EntryInfo, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ListEntriesFromReaderAt(f, size, opts, list)
}

// ListEntriesFromReaderAt parses footer and index from a random-access source and lists entries.
func ListEntriesFromReaderAt(ra io.ReaderAt, size int64, opts ReaderOptions, list ListOptions) ([]EntryInfo, error) {
	r, err := NewReader(ra, size, opts)
	if err != nil {
		return nil, err
	}

	return r.Entries(list)
}

// openFileWithSize opens a file and returns a handle plus current size.
func openFileWithSize(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open pak: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat: %w", err)
	}

	return f, fi.Size(), nil
}
