// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/woozymasta/lzss"
	"github.com/woozymasta/pathrules"
)

// Compression method names as stored in the footer.
const (
	CompressionNone  = ""
	CompressionZlib  = "Zlib"
	CompressionGzip  = "Gzip"
	CompressionOodle = "Oodle"
	CompressionZstd  = "Zstd"
	CompressionLZ4   = "LZ4"
	CompressionLZSS  = "LZSS"
)

// errIncompressible means a block did not shrink and is stored raw.
var errIncompressible = errors.New("block is incompressible")

// Compressor compresses and decompresses one block.
type Compressor interface {
	// Compress returns compressed form of src.
	Compress(src []byte) ([]byte, error)
	// Decompress returns exactly size bytes decoded from src.
	Decompress(src []byte, size int) ([]byte, error)
}

// CompressionRegistry maps method names (case-insensitive) to codecs.
// It is safe for concurrent use.
type CompressionRegistry struct {
	codecs map[string]Compressor
	mu     sync.RWMutex
}

// NewCompressionRegistry returns an empty registry.
func NewCompressionRegistry() *CompressionRegistry {
	return &CompressionRegistry{codecs: make(map[string]Compressor)}
}

// DefaultCompressionRegistry returns a registry with Zlib, Gzip, Zstd, LZ4, and LZSS.
// Oodle has no bundled codec; register one to read Oodle archives.
func DefaultCompressionRegistry() *CompressionRegistry {
	r := NewCompressionRegistry()
	r.Register(CompressionZlib, zlibCodec{})
	r.Register(CompressionGzip, gzipCodec{})
	r.Register(CompressionZstd, &zstdCodec{})
	r.Register(CompressionLZ4, lz4Codec{})
	r.Register(CompressionLZSS, lzssCodec{})
	return r
}

// Register adds or replaces the codec for name.
func (r *CompressionRegistry) Register(name string, codec Compressor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(name)] = codec
}

// Lookup returns the codec for name or ErrCompressionProviderMissing.
func (r *CompressionRegistry) Lookup(name string) (Compressor, error) {
	if r != nil {
		r.mu.RLock()
		codec, ok := r.codecs[strings.ToLower(name)]
		r.mu.RUnlock()
		if ok {
			return codec, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrCompressionProviderMissing, name)
}

// zlibCodec is RFC 1950 zlib.
type zlibCodec struct{}

func (zlibCodec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (zlibCodec) Decompress(src []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return readExactly(r, size)
}

// gzipCodec is RFC 1952 gzip.
type gzipCodec struct{}

func (gzipCodec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(src []byte, size int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return readExactly(r, size)
}

// zstdCodec shares one stateless encoder and decoder.
type zstdCodec struct {
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	initErr error
	once    sync.Once
}

func (c *zstdCodec) init() error {
	c.once.Do(func() {
		if c.enc, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); c.initErr != nil {
			return
		}
		c.dec, c.initErr = zstd.NewReader(nil)
	})

	return c.initErr
}

func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}

	return c.enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (c *zstdCodec) Decompress(src []byte, size int) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}

	out, err := c.dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, err
	}

	return checkDecodedSize(out, size)
}

// lz4Codec is the LZ4 block format.
type lz4Codec struct{}

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errIncompressible
	}

	return dst[:n], nil
}

func (lz4Codec) Decompress(src []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}

	return checkDecodedSize(dst[:n], size)
}

// lzssCodec is the LZSS variant used by Real Virtuality archives.
type lzssCodec struct{}

func (lzssCodec) Compress(src []byte) ([]byte, error) {
	return lzss.Compress(src, lzss.DefaultCompressOptions())
}

func (lzssCodec) Decompress(src []byte, size int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(size)
	if _, err := lzss.DecompressToWriter(&buf, bytes.NewReader(src), size, nil); err != nil {
		return nil, err
	}

	return checkDecodedSize(buf.Bytes(), size)
}

// readExactly reads size bytes and rejects trailing output.
func readExactly(r io.Reader, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	var probe [1]byte
	if n, _ := r.Read(probe[:]); n != 0 {
		return nil, fmt.Errorf("%w: decoded more than %d bytes", ErrInvalidEncoding, size)
	}

	return out, nil
}

// checkDecodedSize rejects output whose length differs from size.
func checkDecodedSize(out []byte, size int) ([]byte, error) {
	if len(out) != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrInvalidEncoding, len(out), size)
	}

	return out, nil
}

// pathMatcher holds compiled allow-list rules for per-path policies.
type pathMatcher struct {
	matcher *pathrules.Matcher
}

// newPathMatcher compiles path rules. Nil is returned for an empty rule set.
func newPathMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*pathMatcher, error) {
	rules = normalizePathRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &pathMatcher{matcher: matcher}, nil
}

// normalizePathRules normalizes rule patterns and drops empty patterns.
func normalizePathRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether path is included by the rules.
func (m *pathMatcher) Match(path string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := NormalizePath(path)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// shouldCompressBySize reports whether payload size fits compression boundaries.
func shouldCompressBySize(opts PackOptions, size int64) bool {
	return size >= opts.MinCompressSize && size <= opts.MaxCompressSize
}
