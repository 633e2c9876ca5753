// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"fmt"
	"math"
	"time"
)

// EntryFlags is the per-entry flag byte.
type EntryFlags uint8

// Entry flag bits.
const (
	// FlagEncrypted marks AES encrypted payload.
	FlagEncrypted EntryFlags = 0x01
	// FlagDeleted marks a delete record (patch archives).
	FlagDeleted EntryFlags = 0x02
)

// Legacy compression flag word used below version 8.
const (
	legacyCompressNone   uint32 = 0x00
	legacyCompressZlib   uint32 = 0x01
	legacyCompressGzip   uint32 = 0x02
	legacyCompressCustom uint32 = 0x04
)

// CompressedBlock is one compressed chunk of an entry payload.
// Offsets are absolute archive positions in memory.
type CompressedBlock struct {
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
}

// Len returns stored block length without encryption padding.
func (b CompressedBlock) Len() int64 {
	return b.End - b.Start
}

// Entry is the metadata record of one archived file.
type Entry struct {
	// Blocks lists compressed chunks; empty for uncompressed entries.
	Blocks []CompressedBlock `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	// Offset is the absolute position of the inline record header.
	Offset int64 `json:"offset" yaml:"offset"`
	// Size is stored payload size after the record header (sum of block
	// lengths, each padded to 16 when encrypted).
	Size int64 `json:"size" yaml:"size"`
	// UncompressedSize is logical content size.
	UncompressedSize int64 `json:"uncompressed_size" yaml:"uncompressed_size"`
	// Timestamp is stored only by version 1 archives.
	Timestamp uint64 `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	// Hash is SHA1 over logical content. Compact index records do not carry it.
	Hash Digest `json:"hash" yaml:"hash"`
	// CompressionMethod is a 1-based index into Info.CompressionMethods; 0 means none.
	CompressionMethod uint32 `json:"compression_method,omitempty" yaml:"compression_method,omitempty"`
	// BlockSize is the uncompressed size of every block but the last.
	BlockSize uint32 `json:"block_size,omitempty" yaml:"block_size,omitempty"`
	// Flags holds encrypted and deleted bits.
	Flags EntryFlags `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// Encrypted reports whether payload is AES encrypted.
func (e *Entry) Encrypted() bool {
	return e.Flags&FlagEncrypted != 0
}

// Deleted reports whether entry is a delete record.
func (e *Entry) Deleted() bool {
	return e.Flags&FlagDeleted != 0
}

// IsCompressed reports whether payload is stored in compressed blocks.
func (e *Entry) IsCompressed() bool {
	return e.CompressionMethod != 0
}

// ModTime converts the version 1 timestamp; zero when not stored.
func (e *Entry) ModTime() time.Time {
	return ticksToTime(e.Timestamp)
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	e.Blocks = append([]CompressedBlock(nil), e.Blocks...)
	return e
}

// HeaderSize returns the encoded size of the full record for version v.
func (e *Entry) HeaderSize(v Version) int64 {
	f := v.Features()
	size := int64(8 + 8 + 8 + digestSize)
	if f.CompressionIndexU8 {
		size++
	} else {
		size += 4
	}
	if f.Timestamps {
		size += 8
	}
	if f.CompressionBlocks {
		if e.CompressionMethod != 0 {
			size += 4 + 16*int64(len(e.Blocks))
		}
		size += 1 + 4
	}

	return size
}

// PayloadOffset returns the absolute position of the first payload byte.
func (e *Entry) PayloadOffset(v Version) int64 {
	return e.Offset + e.HeaderSize(v)
}

// StoredSize returns on-disk payload byte count after the record header.
func (e *Entry) StoredSize() int64 {
	if e.IsCompressed() {
		return e.Size
	}

	return encryptedSize(e.Size, e.Encrypted())
}

// ContentBlocks returns blocks to read in order. Uncompressed entries get one
// synthesized block spanning the whole payload.
func (e *Entry) ContentBlocks(v Version) []CompressedBlock {
	if e.IsCompressed() {
		return e.Blocks
	}

	start := e.PayloadOffset(v)
	return []CompressedBlock{{Start: start, End: start + e.Size}}
}

// Validate checks sizes, block bounds, and block contiguity.
func (e *Entry) Validate(v Version) error {
	if e.Offset < 0 || e.Size < 0 || e.UncompressedSize < 0 {
		return fmt.Errorf("%w: negative offset or size (offset=%d size=%d uncompressed=%d)",
			ErrInvalidEncoding, e.Offset, e.Size, e.UncompressedSize)
	}
	if e.Deleted() {
		return nil
	}

	if !e.IsCompressed() {
		if len(e.Blocks) != 0 {
			return fmt.Errorf("%w: uncompressed entry has %d blocks", ErrInvalidEncoding, len(e.Blocks))
		}
		if e.Size != e.UncompressedSize {
			return fmt.Errorf("%w: uncompressed entry size=%d, uncompressed=%d",
				ErrInvalidEncoding, e.Size, e.UncompressedSize)
		}

		return nil
	}

	if !v.Features().CompressionBlocks {
		return fmt.Errorf("%w: compressed entry in version %s", ErrUnsupportedFeature, v)
	}
	if len(e.Blocks) == 0 && e.UncompressedSize > 0 {
		return fmt.Errorf("%w: compressed entry has no blocks", ErrInvalidEncoding)
	}

	alignment := int64(1)
	if e.Encrypted() {
		alignment = aesBlockSize
	}

	next := e.PayloadOffset(v)
	var stored int64
	for i, block := range e.Blocks {
		if block.Start != next {
			return fmt.Errorf("%w: block %d starts at %d, want %d", ErrInvalidEncoding, i, block.Start, next)
		}
		if block.End < block.Start {
			return fmt.Errorf("%w: block %d ends at %d before start %d", ErrInvalidEncoding, i, block.End, block.Start)
		}

		n := align(block.Len(), alignment)
		stored += n
		next += n
	}

	if stored != e.Size {
		return fmt.Errorf("%w: blocks hold %d bytes, size=%d", ErrInvalidEncoding, stored, e.Size)
	}

	if e.BlockSize > 0 && int64(len(e.Blocks)) != (e.UncompressedSize+int64(e.BlockSize)-1)/int64(e.BlockSize) {
		return fmt.Errorf("%w: %d blocks for %d bytes with block size %d",
			ErrInvalidEncoding, len(e.Blocks), e.UncompressedSize, e.BlockSize)
	}

	return nil
}

// encodeEntry writes the full record form. With inline set, the offset field
// is written as zero, as stored in front of entry payload.
func encodeEntry(c *Cursor, e *Entry, v Version, inline bool) error {
	f := v.Features()
	if e.IsCompressed() && !f.CompressionBlocks {
		return fmt.Errorf("%w: compression in version %s", ErrUnsupportedFeature, v)
	}
	if e.Flags != 0 && !f.Encryption {
		return fmt.Errorf("%w: entry flags in version %s", ErrUnsupportedFeature, v)
	}

	if inline {
		c.WriteI64(0)
	} else {
		c.WriteI64(e.Offset)
	}
	c.WriteI64(e.Size)
	c.WriteI64(e.UncompressedSize)

	switch {
	case !f.NamedCompression:
		word, err := legacyCompressionWord(e.CompressionMethod)
		if err != nil {
			return err
		}
		c.WriteU32(word)
	case f.CompressionIndexU8:
		if e.CompressionMethod > math.MaxUint8 {
			return fmt.Errorf("%w: method index %d in version %s", ErrUnsupportedCompression, e.CompressionMethod, v)
		}
		c.WriteU8(uint8(e.CompressionMethod))
	default:
		c.WriteU32(e.CompressionMethod)
	}

	if f.Timestamps {
		c.WriteU64(e.Timestamp)
	}

	c.WriteDigest(e.Hash)
	if !f.CompressionBlocks {
		return nil
	}

	if e.CompressionMethod != 0 {
		if len(e.Blocks) > math.MaxInt32 {
			return fmt.Errorf("%w: %d blocks", ErrSizeOverflow, len(e.Blocks))
		}

		base := int64(0)
		if f.RelativeChunkOffsets {
			base = e.Offset
		}

		c.WriteI32(int32(len(e.Blocks))) //nolint:gosec // bounded above
		for _, block := range e.Blocks {
			c.WriteI64(block.Start - base)
			c.WriteI64(block.End - base)
		}
	}

	c.WriteU8(uint8(e.Flags))
	c.WriteU32(e.BlockSize)
	return nil
}

// decodeEntry reads the full record form. Block offsets are returned absolute.
func decodeEntry(c *Cursor, v Version) (Entry, error) {
	f := v.Features()
	start := c.Pos()

	var (
		e   Entry
		err error
	)

	if e.Offset, err = c.ReadI64(); err != nil {
		return Entry{}, err
	}
	if e.Size, err = c.ReadI64(); err != nil {
		return Entry{}, err
	}
	if e.UncompressedSize, err = c.ReadI64(); err != nil {
		return Entry{}, err
	}

	switch {
	case !f.NamedCompression:
		word, err := c.ReadU32()
		if err != nil {
			return Entry{}, err
		}
		if e.CompressionMethod, err = legacyCompressionIndex(word); err != nil {
			return Entry{}, fmt.Errorf("%w (entry at index offset %d)", err, start)
		}
	case f.CompressionIndexU8:
		idx, err := c.ReadU8()
		if err != nil {
			return Entry{}, err
		}
		e.CompressionMethod = uint32(idx)
	default:
		if e.CompressionMethod, err = c.ReadU32(); err != nil {
			return Entry{}, err
		}
	}

	if f.Timestamps {
		if e.Timestamp, err = c.ReadU64(); err != nil {
			return Entry{}, err
		}
	}

	if e.Hash, err = c.ReadDigest(); err != nil {
		return Entry{}, err
	}

	if !f.CompressionBlocks {
		return e, nil
	}

	if e.CompressionMethod != 0 {
		count, err := c.ReadI32()
		if err != nil {
			return Entry{}, err
		}
		if count < 0 || int64(count)*16 > c.Remaining() {
			return Entry{}, fmt.Errorf("%w: block count %d at offset %d", ErrInvalidEncoding, count, start)
		}

		base := int64(0)
		if f.RelativeChunkOffsets {
			base = e.Offset
		}

		e.Blocks = make([]CompressedBlock, count)
		for i := range e.Blocks {
			if e.Blocks[i].Start, err = c.ReadI64(); err != nil {
				return Entry{}, err
			}
			if e.Blocks[i].End, err = c.ReadI64(); err != nil {
				return Entry{}, err
			}

			e.Blocks[i].Start += base
			e.Blocks[i].End += base
		}
	}

	flags, err := c.ReadU8()
	if err != nil {
		return Entry{}, err
	}
	e.Flags = EntryFlags(flags)

	if e.BlockSize, err = c.ReadU32(); err != nil {
		return Entry{}, err
	}

	return e, nil
}

// legacyCompressionWord maps a method index to the pre-v8 flag word.
func legacyCompressionWord(index uint32) (uint32, error) {
	switch index {
	case 0:
		return legacyCompressNone, nil
	case 1:
		return legacyCompressZlib, nil
	case 2:
		return legacyCompressGzip, nil
	case 3:
		return legacyCompressCustom, nil
	default:
		return 0, fmt.Errorf("%w: method index %d has no legacy flag", ErrUnsupportedCompression, index)
	}
}

// legacyCompressionIndex maps a pre-v8 flag word to a method index.
func legacyCompressionIndex(word uint32) (uint32, error) {
	switch {
	case word == legacyCompressNone:
		return 0, nil
	case word&legacyCompressZlib != 0:
		return 1, nil
	case word&legacyCompressGzip != 0:
		return 2, nil
	case word&legacyCompressCustom != 0:
		return 3, nil
	default:
		return 0, fmt.Errorf("%w: legacy compression flags 0x%X", ErrInvalidEncoding, word)
	}
}
