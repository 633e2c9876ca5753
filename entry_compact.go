// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"fmt"
	"math"
)

// Compact entry bitfield layout.
const (
	compactOffset32       uint32 = 1 << 31
	compactUncompressed32 uint32 = 1 << 30
	compactSize32         uint32 = 1 << 29
	compactMethodShift           = 23
	compactMethodMask     uint32 = 0x3f
	compactEncrypted      uint32 = 1 << 22
	compactBlocksShift           = 6
	compactBlocksMask     uint32 = 0xffff
	compactBlockSizeMask  uint32 = 0x3f
	compactBlockSizeShift        = 11

	// compactSmallSingleBlock is the size below which a single block implies
	// BlockSize equal to the uncompressed size instead of the bitfield value.
	compactSmallSingleBlock = 64 * 1024
)

// packableBlockSize reports whether size fits the 6-bit bitfield in 2 KiB units.
func packableBlockSize(size uint32) bool {
	return size>>compactBlockSizeShift <= compactBlockSizeMask &&
		size&(1<<compactBlockSizeShift-1) == 0
}

// canEncodeCompact reports whether e survives a compact round trip.
func canEncodeCompact(e *Entry, v Version) bool {
	if e.Deleted() || e.Flags&^FlagEncrypted != 0 {
		return false
	}
	if e.CompressionMethod > compactMethodMask {
		return false
	}
	if uint64(len(e.Blocks)) > uint64(compactBlocksMask) {
		return false
	}

	switch len(e.Blocks) {
	case 0:
		if e.BlockSize != 0 {
			return false
		}
	case 1:
		if e.UncompressedSize < compactSmallSingleBlock {
			if int64(e.BlockSize) != e.UncompressedSize {
				return false
			}
		} else if !packableBlockSize(e.BlockSize) {
			return false
		}
	default:
		if !packableBlockSize(e.BlockSize) {
			return false
		}
	}

	if !e.IsCompressed() {
		return len(e.Blocks) == 0 && e.Size == e.UncompressedSize
	}

	alignment := int64(1)
	if e.Encrypted() {
		alignment = aesBlockSize
	}

	next := e.PayloadOffset(v)
	var stored int64
	for _, block := range e.Blocks {
		if block.Start != next || block.End < block.Start || block.Len() > math.MaxUint32 {
			return false
		}

		n := align(block.Len(), alignment)
		next += n
		stored += n
	}

	if len(e.Blocks) == 1 && !e.Encrypted() && e.Blocks[0].Len() != e.Size {
		return false
	}

	return stored == e.Size
}

// encodeCompactEntry writes the bitfield form of e. Callers check canEncodeCompact first.
func encodeCompactEntry(c *Cursor, e *Entry) {
	offset32 := e.Offset >= 0 && e.Offset <= math.MaxUint32
	uncompressed32 := e.UncompressedSize >= 0 && e.UncompressedSize <= math.MaxUint32
	size32 := e.Size >= 0 && e.Size <= math.MaxUint32

	var bits uint32
	if offset32 {
		bits |= compactOffset32
	}
	if uncompressed32 {
		bits |= compactUncompressed32
	}
	if size32 {
		bits |= compactSize32
	}
	bits |= (e.CompressionMethod & compactMethodMask) << compactMethodShift
	if e.Encrypted() {
		bits |= compactEncrypted
	}
	bits |= (uint32(len(e.Blocks)) & compactBlocksMask) << compactBlocksShift //nolint:gosec // bounded by canEncodeCompact
	bits |= (e.BlockSize >> compactBlockSizeShift) & compactBlockSizeMask

	c.WriteU32(bits)
	writeVarWidth(c, e.Offset, offset32)
	writeVarWidth(c, e.UncompressedSize, uncompressed32)
	if e.CompressionMethod == 0 {
		return
	}

	writeVarWidth(c, e.Size, size32)
	if len(e.Blocks) > 1 || (len(e.Blocks) == 1 && e.Encrypted()) {
		for _, block := range e.Blocks {
			c.WriteU32(uint32(block.Len())) //nolint:gosec // bounded by canEncodeCompact
		}
	}
}

// decodeCompactEntry reads the bitfield form and rebuilds absolute blocks.
func decodeCompactEntry(c *Cursor, v Version) (Entry, error) {
	start := c.Pos()
	bits, err := c.ReadU32()
	if err != nil {
		return Entry{}, err
	}

	var e Entry
	e.CompressionMethod = (bits >> compactMethodShift) & compactMethodMask
	if bits&compactEncrypted != 0 {
		e.Flags |= FlagEncrypted
	}

	if e.Offset, err = readVarWidth(c, bits&compactOffset32 != 0); err != nil {
		return Entry{}, err
	}
	if e.UncompressedSize, err = readVarWidth(c, bits&compactUncompressed32 != 0); err != nil {
		return Entry{}, err
	}

	if e.CompressionMethod != 0 {
		if e.Size, err = readVarWidth(c, bits&compactSize32 != 0); err != nil {
			return Entry{}, err
		}
	} else {
		e.Size = e.UncompressedSize
	}

	count := int((bits >> compactBlocksShift) & compactBlocksMask)
	switch {
	case count == 1 && e.UncompressedSize < compactSmallSingleBlock:
		e.BlockSize = uint32(e.UncompressedSize) //nolint:gosec // below compactSmallSingleBlock
	case count >= 1:
		e.BlockSize = (bits & compactBlockSizeMask) << compactBlockSizeShift
	}

	if count == 0 {
		return e, nil
	}
	if e.CompressionMethod == 0 {
		return Entry{}, fmt.Errorf("%w: %d blocks without compression at blob offset %d", ErrInvalidEncoding, count, start)
	}

	e.Blocks = make([]CompressedBlock, count)
	next := e.PayloadOffset(v)
	if count == 1 && !e.Encrypted() {
		e.Blocks[0] = CompressedBlock{Start: next, End: next + e.Size}
		return e, nil
	}

	alignment := int64(1)
	if e.Encrypted() {
		alignment = aesBlockSize
	}

	for i := range e.Blocks {
		n, err := c.ReadU32()
		if err != nil {
			return Entry{}, err
		}

		e.Blocks[i] = CompressedBlock{Start: next, End: next + int64(n)}
		next += align(int64(n), alignment)
	}

	return e, nil
}

// writeVarWidth writes v as u32 when narrow, otherwise as i64.
func writeVarWidth(c *Cursor, v int64, narrow bool) {
	if narrow {
		c.WriteU32(uint32(v)) //nolint:gosec // caller checked range
		return
	}

	c.WriteI64(v)
}

// readVarWidth reads a u32 or an i64.
func readVarWidth(c *Cursor, narrow bool) (int64, error) {
	if narrow {
		v, err := c.ReadU32()
		return int64(v), err
	}

	return c.ReadI64()
}
