// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
	"unicode/utf8"
)

// Field sizes of fixed-width records.
const (
	digestSize = 20
	guidSize   = 16
)

// Cursor is a positioned little-endian reader/writer over an in-memory buffer.
// Reads past the end fail with ErrTruncatedInput; writes overwrite at the
// current position and grow the buffer as needed.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Bytes returns the whole underlying buffer.
func (c *Cursor) Bytes() []byte {
	return c.buf
}

// Len returns total buffer length.
func (c *Cursor) Len() int64 {
	return int64(len(c.buf))
}

// Pos returns current position.
func (c *Cursor) Pos() int64 {
	return int64(c.pos)
}

// Remaining returns bytes left from the current position to the end.
func (c *Cursor) Remaining() int64 {
	if c.pos >= len(c.buf) {
		return 0
	}

	return int64(len(c.buf) - c.pos)
}

// Seek moves to an absolute position. Positions past the end are legal for
// writes and make subsequent reads fail.
func (c *Cursor) Seek(pos int64) error {
	if pos < 0 || pos > math.MaxInt32 {
		return fmt.Errorf("%w: seek to %d", ErrInvalidEncoding, pos)
	}

	c.pos = int(pos)
	return nil
}

// next returns the next n bytes and advances.
func (c *Cursor) next(n int) ([]byte, error) {
	if n < 0 || int64(n) > c.Remaining() {
		return nil, fmt.Errorf("%w: at offset %d need %d bytes, have %d", ErrTruncatedInput, c.pos, n, c.Remaining())
	}

	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// grow makes room for n bytes at the current position and returns that window.
func (c *Cursor) grow(n int) []byte {
	end := c.pos + n
	if end > len(c.buf) {
		if end > cap(c.buf) {
			next := make([]byte, end, max(end, 2*cap(c.buf)))
			copy(next, c.buf)
			c.buf = next
		} else {
			c.buf = c.buf[:end]
		}
	}

	b := c.buf[c.pos:end]
	c.pos = end
	return b
}

// ReadBytes reads n raw bytes. The returned slice aliases the buffer.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	return c.next(n)
}

// ReadU8 reads one byte.
func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.next(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// ReadU16 reads a little-endian uint16.
func (c *Cursor) ReadU16() (uint16, error) {
	b, err := c.next(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (c *Cursor) ReadU32() (uint32, error) {
	b, err := c.next(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (c *Cursor) ReadU64() (uint64, error) {
	b, err := c.next(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

// ReadI32 reads a little-endian int32.
func (c *Cursor) ReadI32() (int32, error) {
	v, err := c.ReadU32()
	return int32(v), err //nolint:gosec // two's complement reinterpretation
}

// ReadI64 reads a little-endian int64.
func (c *Cursor) ReadI64() (int64, error) {
	v, err := c.ReadU64()
	return int64(v), err //nolint:gosec // two's complement reinterpretation
}

// ReadBool reads a one-byte boolean (non-zero is true).
func (c *Cursor) ReadBool() (bool, error) {
	v, err := c.ReadU8()
	return v != 0, err
}

// ReadBool32 reads a four-byte boolean (non-zero is true).
func (c *Cursor) ReadBool32() (bool, error) {
	v, err := c.ReadU32()
	return v != 0, err
}

// ReadGUID reads a 16-byte key GUID stored as four little-endian uint32.
func (c *Cursor) ReadGUID() (KeyGUID, error) {
	var g KeyGUID
	for i := range g {
		v, err := c.ReadU32()
		if err != nil {
			return KeyGUID{}, err
		}

		g[i] = v
	}

	return g, nil
}

// ReadDigest reads a 20-byte SHA1 digest.
func (c *Cursor) ReadDigest() (Digest, error) {
	var d Digest
	b, err := c.next(digestSize)
	if err != nil {
		return d, err
	}

	copy(d[:], b)
	return d, nil
}

// ReadString reads a length-prefixed string. Length counts the trailing NUL;
// a negative length means UTF-16LE code units.
func (c *Cursor) ReadString() (string, error) {
	start := c.pos
	n, err := c.ReadI32()
	if err != nil {
		return "", err
	}

	switch {
	case n == 0:
		return "", nil
	case n > 0:
		if int64(n) > c.Remaining() {
			return "", fmt.Errorf("%w: string length %d at offset %d exceeds remaining %d", ErrInvalidEncoding, n, start, c.Remaining())
		}

		b, err := c.next(int(n))
		if err != nil {
			return "", err
		}
		if b[len(b)-1] != 0 {
			return "", fmt.Errorf("%w: string at offset %d is not NUL terminated", ErrInvalidEncoding, start)
		}

		return decodeNarrowString(b[:len(b)-1]), nil
	default:
		if n == math.MinInt32 || int64(-n)*2 > c.Remaining() {
			return "", fmt.Errorf("%w: wide string length %d at offset %d exceeds remaining %d", ErrInvalidEncoding, n, start, c.Remaining())
		}

		b, err := c.next(int(-n) * 2)
		if err != nil {
			return "", err
		}

		units := make([]uint16, 0, -n)
		for i := 0; i < len(b); i += 2 {
			units = append(units, binary.LittleEndian.Uint16(b[i:]))
		}
		if units[len(units)-1] != 0 {
			return "", fmt.Errorf("%w: wide string at offset %d is not NUL terminated", ErrInvalidEncoding, start)
		}

		return string(utf16.Decode(units[:len(units)-1])), nil
	}
}

// decodeNarrowString decodes 8-bit string payload as UTF-8 when valid, else Latin-1.
func decodeNarrowString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	runes := make([]rune, len(b))
	for i, ch := range b {
		runes[i] = rune(ch)
	}

	return string(runes)
}

// WriteBytes writes raw bytes.
func (c *Cursor) WriteBytes(b []byte) {
	copy(c.grow(len(b)), b)
}

// WriteU8 writes one byte.
func (c *Cursor) WriteU8(v uint8) {
	c.grow(1)[0] = v
}

// WriteU16 writes a little-endian uint16.
func (c *Cursor) WriteU16(v uint16) {
	binary.LittleEndian.PutUint16(c.grow(2), v)
}

// WriteU32 writes a little-endian uint32.
func (c *Cursor) WriteU32(v uint32) {
	binary.LittleEndian.PutUint32(c.grow(4), v)
}

// WriteU64 writes a little-endian uint64.
func (c *Cursor) WriteU64(v uint64) {
	binary.LittleEndian.PutUint64(c.grow(8), v)
}

// WriteI32 writes a little-endian int32.
func (c *Cursor) WriteI32(v int32) {
	c.WriteU32(uint32(v)) //nolint:gosec // two's complement reinterpretation
}

// WriteI64 writes a little-endian int64.
func (c *Cursor) WriteI64(v int64) {
	c.WriteU64(uint64(v)) //nolint:gosec // two's complement reinterpretation
}

// WriteBool writes a one-byte boolean.
func (c *Cursor) WriteBool(v bool) {
	if v {
		c.WriteU8(1)
		return
	}

	c.WriteU8(0)
}

// WriteBool32 writes a four-byte boolean.
func (c *Cursor) WriteBool32(v bool) {
	if v {
		c.WriteU32(1)
		return
	}

	c.WriteU32(0)
}

// WriteGUID writes a key GUID as four little-endian uint32.
func (c *Cursor) WriteGUID(g KeyGUID) {
	for _, v := range g {
		c.WriteU32(v)
	}
}

// WriteDigest writes a 20-byte digest.
func (c *Cursor) WriteDigest(d Digest) {
	c.WriteBytes(d[:])
}

// WriteString writes a length-prefixed string: ASCII as 8-bit, anything
// else as UTF-16LE with a negative length. Empty strings are written as length 0.
func (c *Cursor) WriteString(s string) {
	if s == "" {
		c.WriteI32(0)
		return
	}

	if isASCII(s) {
		c.WriteI32(int32(len(s) + 1)) //nolint:gosec // index strings are far below 2 GiB
		c.WriteBytes([]byte(s))
		c.WriteU8(0)
		return
	}

	units := utf16.Encode([]rune(s))
	c.WriteI32(-int32(len(units) + 1)) //nolint:gosec // index strings are far below 2 GiB
	for _, u := range units {
		c.WriteU16(u)
	}
	c.WriteU16(0)
}

// stringSize returns the encoded size of s as written by WriteString.
func stringSize(s string) int64 {
	switch {
	case s == "":
		return 4
	case isASCII(s):
		return 4 + int64(len(s)) + 1
	default:
		return 4 + 2*int64(len(utf16.Encode([]rune(s)))+1)
	}
}

// isASCII reports whether s contains only 7-bit bytes.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}

	return true
}
