// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEntryCacheSize is the default number of decoded compact entries kept per hashed index.
const DefaultEntryCacheSize = 4096

// locationDeleted marks a path without an entry record.
const locationDeleted int32 = math.MinInt32

// pathHashEntry is one (hash, location) pair of the path hash table.
type pathHashEntry struct {
	hash     uint64
	location int32
}

// directoryFiles is one directory of the full directory tree.
type directoryFiles struct {
	name  string
	files []directoryFile
}

// directoryFile is one file name under a directory.
type directoryFile struct {
	name     string
	location int32
}

// HashedIndex is the two-tier index used from version 10: a sorted path hash
// table, a full directory tree, and a blob of compactly encoded entries that
// is decoded lazily on lookup.
type HashedIndex struct {
	cache       *lru.Cache[int32, Entry]
	byExact     map[string]int
	byKey       map[string]int
	mount       string
	hashes      []pathHashEntry
	dirs        []directoryFiles
	paths       []string
	locations   []int32
	blob        []byte
	fullEntries []Entry
	seed        uint64
	numEntries  int32
	version     Version
	hasHashes   bool
	hasTree     bool
}

// Kind implements DirectoryIndex.
func (idx *HashedIndex) Kind() IndexKind { return IndexKindHashed }

// MountPoint implements DirectoryIndex.
func (idx *HashedIndex) MountPoint() string { return idx.mount }

// Seed returns the path hash seed.
func (idx *HashedIndex) Seed() uint64 { return idx.seed }

// NumEntries returns the stored entry count field.
func (idx *HashedIndex) NumEntries() int { return int(idx.numEntries) }

// Len implements DirectoryIndex.
func (idx *HashedIndex) Len() int {
	if !idx.hasTree {
		return len(idx.hashes)
	}

	return len(idx.paths)
}

// Paths implements DirectoryIndex. Order follows the directory tree.
func (idx *HashedIndex) Paths() []string {
	return slices.Clone(idx.paths)
}

// Directories returns directory keys of the full tree in stored order.
func (idx *HashedIndex) Directories() []string {
	out := make([]string, len(idx.dirs))
	for i, dir := range idx.dirs {
		out[i] = dir.name
	}

	return out
}

// Lookup implements DirectoryIndex. The path hash table is consulted first and
// every candidate is confirmed against the directory tree; on mismatch the
// tree is scanned.
func (idx *HashedIndex) Lookup(p string) (Entry, error) {
	p = NormalizePath(p)
	if idx.hasHashes {
		h := PathHash64(p, idx.seed, idx.version)
		i := sort.Search(len(idx.hashes), func(i int) bool { return idx.hashes[i].hash >= h })
		for ; i < len(idx.hashes) && idx.hashes[i].hash == h; i++ {
			loc := idx.hashes[i].location
			if !idx.hasTree {
				return idx.entryAt(loc)
			}

			if treeLoc, ok := idx.treeLocation(p); ok && treeLoc == loc {
				return idx.entryAt(loc)
			}
		}
	}

	for i, candidate := range idx.paths {
		if candidate == p {
			return idx.entryAt(idx.locations[i])
		}
	}
	for i, candidate := range idx.paths {
		if strings.EqualFold(candidate, p) {
			return idx.entryAt(idx.locations[i])
		}
	}

	return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, p)
}

// Walk implements DirectoryIndex.
func (idx *HashedIndex) Walk(fn func(p string, e Entry) error) error {
	for i, p := range idx.paths {
		entry, err := idx.entryAt(idx.locations[i])
		if err != nil {
			return &EntryError{Path: p, Err: err}
		}
		if err := fn(p, entry); err != nil {
			return err
		}
	}

	return nil
}

// treeLocation resolves p through the tree maps, exact first.
func (idx *HashedIndex) treeLocation(p string) (int32, bool) {
	if i, ok := idx.byExact[p]; ok {
		return idx.locations[i], true
	}
	if i, ok := idx.byKey[strings.ToLower(p)]; ok {
		return idx.locations[i], true
	}

	return 0, false
}

// entryAt resolves a location value to an entry.
func (idx *HashedIndex) entryAt(loc int32) (Entry, error) {
	switch {
	case loc == locationDeleted:
		return Entry{Flags: FlagDeleted}, nil
	case loc < 0:
		i := -(int(loc) + 1)
		if i >= len(idx.fullEntries) {
			return Entry{}, fmt.Errorf("%w: full entry index %d of %d", ErrInvalidEncoding, i, len(idx.fullEntries))
		}

		return idx.fullEntries[i].Clone(), nil
	}

	if idx.cache != nil {
		if e, ok := idx.cache.Get(loc); ok {
			return e.Clone(), nil
		}
	}

	if int(loc) >= len(idx.blob) {
		return Entry{}, fmt.Errorf("%w: blob offset %d of %d", ErrInvalidEncoding, loc, len(idx.blob))
	}

	c := NewCursor(idx.blob)
	_ = c.Seek(int64(loc))
	e, err := decodeCompactEntry(c, idx.version)
	if err != nil {
		return Entry{}, fmt.Errorf("compact entry at blob offset %d: %w", loc, err)
	}

	if idx.cache != nil {
		idx.cache.Add(loc, e)
	}

	return e.Clone(), nil
}

// parseHashedIndex decodes the primary region and loads the secondary regions it references.
func parseHashedIndex(primary []byte, src indexSource, v Version) (*HashedIndex, error) {
	c := NewCursor(primary)
	idx := &HashedIndex{version: v}

	var err error
	if idx.mount, err = c.ReadString(); err != nil {
		return nil, fmt.Errorf("hashed index mount point: %w", err)
	}
	if idx.numEntries, err = c.ReadI32(); err != nil {
		return nil, fmt.Errorf("hashed index entry count: %w", err)
	}
	if idx.seed, err = c.ReadU64(); err != nil {
		return nil, fmt.Errorf("hashed index seed: %w", err)
	}

	hashRef, err := readRegionRef(c)
	if err != nil {
		return nil, fmt.Errorf("path hash region reference: %w", err)
	}
	treeRef, err := readRegionRef(c)
	if err != nil {
		return nil, fmt.Errorf("directory region reference: %w", err)
	}

	blobLen, err := c.ReadI32()
	if err != nil {
		return nil, fmt.Errorf("entry blob length: %w", err)
	}
	if blobLen < 0 || int64(blobLen) > c.Remaining() {
		return nil, fmt.Errorf("%w: entry blob length %d with %d bytes left", ErrInvalidEncoding, blobLen, c.Remaining())
	}

	blob, _ := c.ReadBytes(int(blobLen))
	idx.blob = slices.Clone(blob)

	fullCount, err := c.ReadI32()
	if err != nil {
		return nil, fmt.Errorf("full entry count: %w", err)
	}
	if fullCount < 0 || int64(fullCount)*(8+8+8+4+digestSize+1+4) > c.Remaining() {
		return nil, fmt.Errorf("%w: full entry count %d with %d bytes left", ErrInvalidEncoding, fullCount, c.Remaining())
	}

	idx.fullEntries = make([]Entry, 0, fullCount)
	for i := range int(fullCount) {
		e, err := decodeEntry(c, v)
		if err != nil {
			return nil, fmt.Errorf("full entry %d: %w", i, err)
		}

		idx.fullEntries = append(idx.fullEntries, e)
	}

	if hashRef.present {
		region, err := src.readSection("path hash", hashRef.offset, hashRef.size, hashRef.hash)
		if err != nil {
			return nil, err
		}
		if idx.hashes, err = decodePathHashRegion(region); err != nil {
			return nil, err
		}

		idx.hasHashes = true
	}

	if treeRef.present {
		region, err := src.readSection("directory", treeRef.offset, treeRef.size, treeRef.hash)
		if err != nil {
			return nil, err
		}

		rc := NewCursor(region)
		if idx.dirs, err = decodeDirectoryTree(rc); err != nil {
			return nil, fmt.Errorf("directory region: %w", err)
		}

		idx.hasTree = true
	}

	idx.buildTreeMaps()
	if err := idx.validateLocations(); err != nil {
		return nil, err
	}
	if idx.hasHashes && idx.hasTree {
		if err := idx.checkConsistency(); err != nil {
			return nil, err
		}
	}

	if src.cacheSize > 0 {
		if idx.cache, err = lru.New[int32, Entry](src.cacheSize); err != nil {
			return nil, fmt.Errorf("entry cache: %w", err)
		}
	}

	src.logger.Debug("hashed index parsed",
		"mount", idx.mount,
		"entries", idx.numEntries,
		"paths", len(idx.paths),
		"blob", len(idx.blob),
		"full_entries", len(idx.fullEntries))

	return idx, nil
}

// regionRef points at a secondary index region.
type regionRef struct {
	offset  int64
	size    int64
	hash    Digest
	present bool
}

// readRegionRef reads bool32 presence and, when set, offset, size, and digest.
func readRegionRef(c *Cursor) (regionRef, error) {
	var ref regionRef
	var err error
	if ref.present, err = c.ReadBool32(); err != nil || !ref.present {
		return ref, err
	}
	if ref.offset, err = c.ReadI64(); err != nil {
		return ref, err
	}
	if ref.size, err = c.ReadI64(); err != nil {
		return ref, err
	}
	if ref.hash, err = c.ReadDigest(); err != nil {
		return ref, err
	}

	return ref, nil
}

// writeRegionRef is the inverse of readRegionRef.
func writeRegionRef(c *Cursor, ref regionRef) {
	c.WriteBool32(ref.present)
	if !ref.present {
		return
	}

	c.WriteI64(ref.offset)
	c.WriteI64(ref.size)
	c.WriteDigest(ref.hash)
}

// decodePathHashRegion reads hash pairs and skips the pruned directory tree that follows.
func decodePathHashRegion(region []byte) ([]pathHashEntry, error) {
	c := NewCursor(region)
	count, err := c.ReadI32()
	if err != nil {
		return nil, fmt.Errorf("path hash count: %w", err)
	}
	if count < 0 || int64(count)*12 > c.Remaining() {
		return nil, fmt.Errorf("%w: path hash count %d with %d bytes left", ErrInvalidEncoding, count, c.Remaining())
	}

	hashes := make([]pathHashEntry, count)
	for i := range hashes {
		if hashes[i].hash, err = c.ReadU64(); err != nil {
			return nil, err
		}
		if hashes[i].location, err = c.ReadI32(); err != nil {
			return nil, err
		}
	}

	if _, err := decodeDirectoryTree(c); err != nil {
		return nil, fmt.Errorf("pruned directory index: %w", err)
	}

	slices.SortStableFunc(hashes, comparePathHash)
	return hashes, nil
}

// decodeDirectoryTree reads dirCount, then per directory its name and (file, location) pairs.
func decodeDirectoryTree(c *Cursor) ([]directoryFiles, error) {
	count, err := c.ReadI32()
	if err != nil {
		return nil, fmt.Errorf("directory count: %w", err)
	}
	if count < 0 || int64(count)*8 > c.Remaining() {
		return nil, fmt.Errorf("%w: directory count %d with %d bytes left", ErrInvalidEncoding, count, c.Remaining())
	}

	dirs := make([]directoryFiles, count)
	for i := range dirs {
		if dirs[i].name, err = c.ReadString(); err != nil {
			return nil, fmt.Errorf("directory %d name: %w", i, err)
		}

		n, err := c.ReadI32()
		if err != nil {
			return nil, fmt.Errorf("directory %s file count: %w", dirs[i].name, err)
		}
		if n < 0 || int64(n)*8 > c.Remaining() {
			return nil, fmt.Errorf("%w: directory %s file count %d with %d bytes left",
				ErrInvalidEncoding, dirs[i].name, n, c.Remaining())
		}

		dirs[i].files = make([]directoryFile, n)
		for j := range dirs[i].files {
			if dirs[i].files[j].name, err = c.ReadString(); err != nil {
				return nil, fmt.Errorf("directory %s file %d name: %w", dirs[i].name, j, err)
			}
			if dirs[i].files[j].location, err = c.ReadI32(); err != nil {
				return nil, err
			}
		}
	}

	return dirs, nil
}

// encodeDirectoryTree is the inverse of decodeDirectoryTree.
func encodeDirectoryTree(c *Cursor, dirs []directoryFiles) {
	c.WriteI32(int32(len(dirs))) //nolint:gosec // bounded by entry count
	for _, dir := range dirs {
		c.WriteString(dir.name)
		c.WriteI32(int32(len(dir.files))) //nolint:gosec // bounded by entry count
		for _, file := range dir.files {
			c.WriteString(file.name)
			c.WriteI32(file.location)
		}
	}
}

// buildTreeMaps flattens the tree into path order and lookup maps.
func (idx *HashedIndex) buildTreeMaps() {
	idx.paths = idx.paths[:0]
	idx.locations = idx.locations[:0]
	idx.byExact = make(map[string]int)
	idx.byKey = make(map[string]int)

	for _, dir := range idx.dirs {
		for _, file := range dir.files {
			p := joinEntryPath(dir.name, file.name)
			i := len(idx.paths)
			idx.paths = append(idx.paths, p)
			idx.locations = append(idx.locations, file.location)

			if _, ok := idx.byExact[p]; !ok {
				idx.byExact[p] = i
			}

			key := strings.ToLower(p)
			if _, ok := idx.byKey[key]; !ok {
				idx.byKey[key] = i
			}
		}
	}
}

// validateLocations rejects locations outside the blob or the full entry list.
func (idx *HashedIndex) validateLocations() error {
	check := func(where string, loc int32) error {
		switch {
		case loc == locationDeleted:
			return nil
		case loc < 0:
			if -(int(loc) + 1) >= len(idx.fullEntries) {
				return fmt.Errorf("%w: %s references full entry %d of %d",
					ErrInvalidEncoding, where, -(int(loc) + 1), len(idx.fullEntries))
			}
		case int(loc) >= len(idx.blob):
			return fmt.Errorf("%w: %s references blob offset %d of %d", ErrInvalidEncoding, where, loc, len(idx.blob))
		}

		return nil
	}

	for i, loc := range idx.locations {
		if err := check(idx.paths[i], loc); err != nil {
			return err
		}
	}
	for _, h := range idx.hashes {
		if err := check(fmt.Sprintf("hash %016x", h.hash), h.location); err != nil {
			return err
		}
	}

	return nil
}

// checkConsistency verifies that hash table and tree describe one path/location set.
func (idx *HashedIndex) checkConsistency() error {
	if len(idx.hashes) != len(idx.paths) {
		return fmt.Errorf("%w: path hash table has %d entries, directory tree has %d files",
			ErrInvalidEncoding, len(idx.hashes), len(idx.paths))
	}

	derived := make([]pathHashEntry, len(idx.paths))
	for i, p := range idx.paths {
		derived[i] = pathHashEntry{hash: PathHash64(p, idx.seed, idx.version), location: idx.locations[i]}
	}
	slices.SortFunc(derived, comparePathHash)

	stored := slices.Clone(idx.hashes)
	slices.SortFunc(stored, comparePathHash)
	for i := range derived {
		if derived[i] != stored[i] {
			return fmt.Errorf("%w: path hash table and directory tree disagree (hash %016x location %d)",
				ErrInvalidEncoding, derived[i].hash, derived[i].location)
		}
	}

	return nil
}

// comparePathHash orders pairs by hash, then location.
func comparePathHash(a, b pathHashEntry) int {
	if c := cmp.Compare(a.hash, b.hash); c != 0 {
		return c
	}

	return cmp.Compare(a.location, b.location)
}

// hashedIndexEncoder assigns blob offsets and derives both lookup structures.
type hashedIndexEncoder struct {
	cipher  *sectionCipher
	mount   string
	records []IndexRecord
	seed    uint64
	version Version
}

// encode serializes all regions. Primary is placed at indexOffset and the
// path hash and directory regions follow it in that order.
func (enc hashedIndexEncoder) encode(indexOffset int64) (encodedIndex, Digest, error) {
	if len(enc.records) > math.MaxInt32 {
		return encodedIndex{}, Digest{}, fmt.Errorf("%w: %d entries", ErrSizeOverflow, len(enc.records))
	}

	blob := NewCursor(nil)
	full := make([]Entry, 0)
	locations := make([]int32, len(enc.records))
	for i := range enc.records {
		e := &enc.records[i].Entry
		if canEncodeCompact(e, enc.version) && blob.Len() < math.MaxInt32 {
			locations[i] = int32(blob.Len()) //nolint:gosec // bounded above
			encodeCompactEntry(blob, e)
			continue
		}

		full = append(full, *e)
		locations[i] = -int32(len(full)) //nolint:gosec // bounded by record count
	}
	if blob.Len() > math.MaxInt32 {
		return encodedIndex{}, Digest{}, fmt.Errorf("%w: entry blob of %d bytes", ErrSizeOverflow, blob.Len())
	}

	hashes := make([]pathHashEntry, len(enc.records))
	tree := make(map[string][]directoryFile)
	for i, rec := range enc.records {
		hashes[i] = pathHashEntry{hash: PathHash64(rec.Path, enc.seed, enc.version), location: locations[i]}

		dir, name := splitEntryPath(rec.Path)
		tree[dir] = append(tree[dir], directoryFile{name: name, location: locations[i]})
		for _, parent := range parentDirectories(dir) {
			if _, ok := tree[parent]; !ok {
				tree[parent] = nil
			}
		}
	}
	slices.SortFunc(hashes, comparePathHash)

	hashRegion := NewCursor(nil)
	hashRegion.WriteI32(int32(len(hashes))) //nolint:gosec // bounded above
	for _, h := range hashes {
		hashRegion.WriteU64(h.hash)
		hashRegion.WriteI32(h.location)
	}
	encodeDirectoryTree(hashRegion, nil)

	dirNames := make([]string, 0, len(tree))
	for name := range tree {
		dirNames = append(dirNames, name)
	}
	slices.Sort(dirNames)

	dirs := make([]directoryFiles, len(dirNames))
	for i, name := range dirNames {
		files := tree[name]
		slices.SortFunc(files, func(a, b directoryFile) int { return strings.Compare(a.name, b.name) })
		dirs[i] = directoryFiles{name: name, files: files}
	}

	treeRegion := NewCursor(nil)
	encodeDirectoryTree(treeRegion, dirs)

	hashStored, hashDigest := sealSection(hashRegion.Bytes(), enc.cipher)
	treeStored, treeDigest := sealSection(treeRegion.Bytes(), enc.cipher)

	writePrimary := func(hashOffset, treeOffset int64) ([]byte, error) {
		c := NewCursor(nil)
		c.WriteString(enc.mount)
		c.WriteI32(int32(len(enc.records))) //nolint:gosec // bounded above
		c.WriteU64(enc.seed)
		writeRegionRef(c, regionRef{present: true, offset: hashOffset, size: int64(len(hashStored)), hash: hashDigest})
		writeRegionRef(c, regionRef{present: true, offset: treeOffset, size: int64(len(treeStored)), hash: treeDigest})
		c.WriteI32(int32(blob.Len())) //nolint:gosec // bounded above
		c.WriteBytes(blob.Bytes())
		c.WriteI32(int32(len(full))) //nolint:gosec // bounded above
		for i := range full {
			if err := encodeEntry(c, &full[i], enc.version, false); err != nil {
				return nil, err
			}
		}

		return c.Bytes(), nil
	}

	// Region offsets do not change primary size, so measure first.
	probe, err := writePrimary(0, 0)
	if err != nil {
		return encodedIndex{}, Digest{}, err
	}

	primaryStoredLen := int64(len(probe))
	if enc.cipher != nil {
		primaryStoredLen = align(primaryStoredLen, aesBlockSize)
	}

	hashOffset := indexOffset + primaryStoredLen
	treeOffset := hashOffset + int64(len(hashStored))
	primary, err := writePrimary(hashOffset, treeOffset)
	if err != nil {
		return encodedIndex{}, Digest{}, err
	}

	primaryStored, primaryDigest := sealSection(primary, enc.cipher)
	return encodedIndex{primary: primaryStored, regions: [][]byte{hashStored, treeStored}}, primaryDigest, nil
}

// sealSection returns stored bytes and their digest. With a cipher the
// section is zero-padded to 16, hashed, then encrypted.
func sealSection(plain []byte, cipher *sectionCipher) ([]byte, Digest) {
	if cipher == nil {
		return plain, ContentDigest(plain)
	}

	padded := padSection(plain)
	return cipher.encryptPadded(padded), ContentDigest(padded)
}
