// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	// defaultBuilderWriterPool reuses default-sized bufio writers between builders.
	defaultBuilderWriterPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(io.Discard, DefaultWriteBuffer)
		},
	}
	// defaultCopyBufferPool reuses payload copy buffers.
	defaultCopyBufferPool = sync.Pool{
		New: func() any {
			return new([copyBufferSize]byte)
		},
	}
)

// copyBufferSize is temporary buffer size used by streaming payload copy.
const copyBufferSize = 64 * 1024

// dotNetEpochTicks is 1970-01-01 expressed in 100ns ticks since 0001-01-01.
const dotNetEpochTicks = 621355968000000000

// builderState tracks Builder lifecycle.
type builderState uint8

const (
	builderEmpty builderState = iota
	builderAccumulating
	builderFinalized
)

// Builder assembles an archive incrementally: entry records and payloads are
// streamed to out as they are added, the index and footer are written by Finalize.
// A Builder is not safe for concurrent use.
type Builder struct {
	err     error
	w       *bufio.Writer
	release func()
	cipher  *sectionCipher
	logger  *slog.Logger
	seen    map[string]string
	opts    BuilderOptions
	records []IndexRecord
	methods []string
	pos     int64
	state   builderState
}

// NewBuilder validates opts and returns a builder writing to out.
func NewBuilder(out io.Writer, opts BuilderOptions) (*Builder, error) {
	if out == nil {
		return nil, ErrNilWriter
	}

	opts.applyDefaults()
	if err := validateBuilderOptions(&opts); err != nil {
		return nil, err
	}

	b := &Builder{
		opts:   opts,
		logger: opts.Logger,
		seen:   make(map[string]string),
	}

	if len(opts.Key) > 0 {
		var err error
		if b.cipher, err = newSectionCipher(opts.Key); err != nil {
			return nil, err
		}
	}

	f := opts.Version.Features()
	if f.NamedCompression {
		for _, name := range opts.CompressionMethods {
			if _, err := b.methodIndex(name); err != nil {
				return nil, err
			}
		}
	} else {
		b.methods = slices.Clone(legacyCompressionMethods)
	}

	b.w, b.release = acquireBuilderWriter(out, opts.WriterBufferSize)
	b.logger.Debug("builder created",
		"version", opts.Version.String(),
		"mount_point", opts.MountPoint,
		"encrypt_index", opts.EncryptIndex)

	return b, nil
}

// validateBuilderOptions rejects options the target version cannot store.
func validateBuilderOptions(opts *BuilderOptions) error {
	v := opts.Version
	if !v.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}

	f := v.Features()
	if len(opts.Key) > 0 {
		if !f.Encryption {
			return fmt.Errorf("%w: encryption key in version %s", ErrUnsupportedFeature, v)
		}
		if len(opts.Key) != aesKeySize {
			return fmt.Errorf("%w: key has %d bytes, want %d", ErrDecryptionFailed, len(opts.Key), aesKeySize)
		}
	}

	if opts.EncryptIndex {
		if !f.IndexEncryption {
			return fmt.Errorf("%w: index encryption in version %s", ErrUnsupportedFeature, v)
		}
		if len(opts.Key) == 0 {
			return fmt.Errorf("%w: index encryption needs a key", ErrKeyNotFound)
		}
	}

	if !opts.KeyGUID.IsZero() && !f.KeyGUID {
		return fmt.Errorf("%w: key guid in version %s", ErrUnsupportedFeature, v)
	}

	if opts.PathHashSeed != 0 && !f.PathHashIndex {
		return fmt.Errorf("%w: path hash seed in version %s", ErrUnsupportedFeature, v)
	}

	if len(opts.CompressionMethods) > 0 && !f.NamedCompression {
		for _, name := range opts.CompressionMethods {
			if !slices.ContainsFunc(legacyCompressionMethods, func(m string) bool { return strings.EqualFold(m, name) }) {
				return fmt.Errorf("%w: %q in version %s", ErrUnsupportedCompression, name, v)
			}
		}
	}

	return nil
}

// acquireBuilderWriter returns a buffered writer and release callback.
func acquireBuilderWriter(out io.Writer, size int) (*bufio.Writer, func()) {
	if size == DefaultWriteBuffer {
		w := defaultBuilderWriterPool.Get().(*bufio.Writer) //nolint:forcetypeassert // pool contains only *bufio.Writer
		w.Reset(out)

		return w, func() {
			w.Reset(io.Discard)
			defaultBuilderWriterPool.Put(w)
		}
	}

	return bufio.NewWriterSize(out, size), func() {}
}

// acquireCopyBuffer returns reusable payload copy buffer and release callback.
func acquireCopyBuffer() ([]byte, func()) {
	arr := defaultCopyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	return arr[:], func() {
		defaultCopyBufferPool.Put(arr)
	}
}

// Version returns the target format revision.
func (b *Builder) Version() Version {
	return b.opts.Version
}

// Len returns number of records added so far.
func (b *Builder) Len() int {
	return len(b.records)
}

// Offset returns the number of bytes written so far.
func (b *Builder) Offset() int64 {
	return b.pos
}

// AddEntry writes one entry record and its payload. The returned entry has absolute offsets.
func (b *Builder) AddEntry(p string, content []byte, opts EntryOptions) (Entry, error) {
	name, err := b.reservePath(p)
	if err != nil {
		return Entry{}, err
	}

	entry, err := b.buildEntry(content, opts)
	if err != nil {
		return Entry{}, &EntryError{Path: name, Err: err}
	}

	payload := entry.payload
	if err := b.writeRecord(name, &entry.Entry, func(w io.Writer) error {
		for _, part := range payload {
			if _, err := w.Write(part); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return Entry{}, err
	}

	b.logger.Debug("entry added",
		"path", name,
		"offset", entry.Offset,
		"size", entry.Size,
		"uncompressed_size", entry.UncompressedSize,
		"method", entry.CompressionMethod,
		"encrypted", entry.Encrypted())

	return entry.Clone(), nil
}

// AddEntryFrom reads r fully and calls AddEntry.
func (b *Builder) AddEntryFrom(p string, r io.Reader, opts EntryOptions) (Entry, error) {
	if r == nil {
		return Entry{}, ErrNilReader
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return Entry{}, &EntryError{Path: p, Err: err}
	}

	return b.AddEntry(p, content, opts)
}

// AddDeleted records p as deleted. Delete records carry no payload.
func (b *Builder) AddDeleted(p string) (Entry, error) {
	if !b.opts.Version.Features().DeleteRecords {
		return Entry{}, fmt.Errorf("%w: delete records in version %s", ErrUnsupportedFeature, b.opts.Version)
	}

	name, err := b.reservePath(p)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Flags: FlagDeleted}
	b.commitRecord(name, entry)
	b.logger.Debug("delete record added", "path", name)
	return entry, nil
}

// CopyRaw relocates an entry of src without decoding its payload. Encrypted
// entries require the builder to use the same key as src.
func (b *Builder) CopyRaw(src *Reader, p string) (Entry, error) {
	if src == nil {
		return Entry{}, ErrNilReader
	}

	srcEntry, err := src.Lookup(p)
	if err != nil {
		return Entry{}, err
	}

	if srcEntry.Deleted() {
		if b.opts.Version.Features().DeleteRecords {
			return b.AddDeleted(p)
		}

		return Entry{}, &EntryError{Path: p, Err: ErrEntryDeleted}
	}

	inline, err := src.inlineEntry(srcEntry)
	if err != nil {
		return Entry{}, &EntryError{Path: p, Err: err}
	}

	entry, err := b.relocate(src, srcEntry, inline)
	if err != nil {
		return Entry{}, &EntryError{Path: p, Err: err}
	}

	name, err := b.reservePath(p)
	if err != nil {
		return Entry{}, err
	}

	srcOffset := srcEntry.PayloadOffset(src.info.Version)
	stored := srcEntry.StoredSize()
	if err := b.writeRecord(name, &entry, func(w io.Writer) error {
		buf, release := acquireCopyBuffer()
		defer release()

		sr := io.NewSectionReader(src.ra, srcOffset, stored)
		n, err := copyPayloadBounded(w, sr, stored, buf)
		if err != nil {
			return err
		}
		if n != stored {
			return fmt.Errorf("%w: copied %d of %d bytes", ErrTruncatedInput, n, stored)
		}

		return nil
	}); err != nil {
		return Entry{}, err
	}

	b.logger.Debug("entry copied", "path", name, "from", srcEntry.Offset, "to", entry.Offset, "size", stored)
	return entry.Clone(), nil
}

// relocate builds the target entry for a raw copy of srcEntry.
func (b *Builder) relocate(src *Reader, srcEntry, inline Entry) (Entry, error) {
	f := b.opts.Version.Features()
	if srcEntry.Encrypted() {
		if b.cipher == nil {
			return Entry{}, fmt.Errorf("%w: encrypted entry needs the source key", ErrKeyNotFound)
		}
		if !f.Encryption {
			return Entry{}, fmt.Errorf("%w: encrypted entry in version %s", ErrUnsupportedFeature, b.opts.Version)
		}
	}

	entry := srcEntry.Clone()
	entry.Hash = inline.Hash
	entry.Timestamp = inline.Timestamp
	if !f.Timestamps {
		entry.Timestamp = 0
	}

	if entry.IsCompressed() {
		name, ok := src.info.MethodName(srcEntry.CompressionMethod)
		if !ok {
			return Entry{}, fmt.Errorf("%w: method index %d", ErrUnsupportedCompression, srcEntry.CompressionMethod)
		}

		idx, err := b.methodIndex(name)
		if err != nil {
			return Entry{}, err
		}
		entry.CompressionMethod = idx
	}

	oldPayload := srcEntry.PayloadOffset(src.info.Version)
	entry.Offset = b.alignedOffset()
	delta := entry.PayloadOffset(b.opts.Version) - oldPayload
	for i := range entry.Blocks {
		entry.Blocks[i].Start += delta
		entry.Blocks[i].End += delta
	}

	if err := entry.Validate(b.opts.Version); err != nil {
		return Entry{}, err
	}

	return entry, nil
}

// Finalize writes the index regions and the footer. It may be called once.
func (b *Builder) Finalize() (Info, error) {
	if b.state == builderFinalized {
		return Info{}, ErrAlreadyFinalized
	}

	defer b.Abort()
	if b.err != nil {
		return Info{}, b.err
	}
	b.state = builderFinalized

	var indexCipher *sectionCipher
	if b.opts.EncryptIndex {
		indexCipher = b.cipher
	}

	started := time.Now()
	indexOffset := b.pos
	index, digest, err := encodeIndex(b.opts.MountPoint, b.opts.PathHashSeed, b.records, b.opts.Version, indexOffset, indexCipher)
	if err != nil {
		return Info{}, fmt.Errorf("encode index: %w", err)
	}

	info := NewInfo(b.opts.Version)
	info.CompressionMethods = slices.Clone(b.methods)
	info.IndexOffset = indexOffset
	info.IndexSize = int64(len(index.primary))
	info.IndexHash = digest
	info.EncryptedIndex = b.opts.EncryptIndex
	info.KeyGUID = b.opts.KeyGUID

	footer, err := info.MarshalBinary()
	if err != nil {
		return Info{}, fmt.Errorf("encode footer: %w", err)
	}

	for _, part := range append([][]byte{index.primary}, index.regions...) {
		if err := b.write(part); err != nil {
			return Info{}, fmt.Errorf("write index: %w", err)
		}
	}

	if err := b.write(footer); err != nil {
		return Info{}, fmt.Errorf("write footer: %w", err)
	}

	if err := b.w.Flush(); err != nil {
		return Info{}, fmt.Errorf("flush archive: %w", err)
	}

	b.logger.Debug("archive finalized",
		"entries", len(b.records),
		"index_offset", indexOffset,
		"index_size", index.size(),
		"archive_size", b.pos,
		"duration", time.Since(started))

	return info, nil
}

// Abort ends the builder without writing the index and returns the buffered
// writer to its pool. Buffered bytes not yet flushed are dropped. Abort after
// Finalize is a no-op, and later calls to other methods fail with ErrAlreadyFinalized.
func (b *Builder) Abort() {
	b.state = builderFinalized
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

// reservePath validates state and path and checks for duplicates without committing.
func (b *Builder) reservePath(p string) (string, error) {
	if b.state == builderFinalized {
		return "", ErrAlreadyFinalized
	}
	if b.err != nil {
		return "", b.err
	}

	name, err := normalizeArchiveEntryPath(p)
	if err != nil {
		return "", err
	}

	if existing, ok := b.seen[strings.ToLower(name)]; ok {
		return "", fmt.Errorf("%w: %q conflicts with %q", ErrDuplicatePath, name, existing)
	}

	return name, nil
}

// commitRecord registers an index record for name.
func (b *Builder) commitRecord(name string, entry Entry) {
	b.seen[strings.ToLower(name)] = name
	b.records = append(b.records, IndexRecord{Path: name, Entry: entry.Clone()})
	b.state = builderAccumulating
}

// writeRecord pads to alignment, writes the inline header, then the payload via body.
func (b *Builder) writeRecord(name string, entry *Entry, body func(w io.Writer) error) error {
	if pad := entry.Offset - b.pos; pad > 0 {
		if err := b.write(make([]byte, pad)); err != nil {
			return err
		}
	}

	c := NewCursor(make([]byte, 0, entry.HeaderSize(b.opts.Version)))
	if err := encodeEntry(c, entry, b.opts.Version, true); err != nil {
		return &EntryError{Path: name, Err: err}
	}

	if err := b.write(c.Bytes()); err != nil {
		return err
	}

	cw := &countingWriter{w: b.w}
	if err := body(cw); err != nil {
		b.err = fmt.Errorf("write payload %s: %w", name, err)
		return b.err
	}
	b.pos += cw.n

	if want := entry.StoredSize(); cw.n != want {
		b.err = fmt.Errorf("%w: payload %s wrote %d bytes, want %d", ErrInvalidEncoding, name, cw.n, want)
		return b.err
	}

	b.commitRecord(name, *entry)
	return nil
}

// write appends p to the archive and makes write errors sticky.
func (b *Builder) write(p []byte) error {
	n, err := b.w.Write(p)
	b.pos += int64(n)
	if err != nil {
		b.err = fmt.Errorf("write archive: %w", err)
		return b.err
	}

	return nil
}

// alignedOffset returns the next record offset honoring Alignment.
func (b *Builder) alignedOffset() int64 {
	if b.opts.Alignment <= 1 {
		return b.pos
	}

	return align(b.pos, b.opts.Alignment)
}

// methodIndex returns the 1-based method index for name, appending it to the
// footer method list when the version has a free slot.
func (b *Builder) methodIndex(name string) (uint32, error) {
	if name == CompressionNone {
		return 0, nil
	}

	for i, method := range b.methods {
		if strings.EqualFold(method, name) {
			return uint32(i + 1), nil //nolint:gosec // bounded by slot count
		}
	}

	f := b.opts.Version.Features()
	if !f.NamedCompression || len(b.methods) >= f.CompressionSlots {
		return 0, fmt.Errorf("%w: %q in version %s", ErrUnsupportedCompression, name, b.opts.Version)
	}
	if len(name) > compressionMethodNameLen {
		return 0, fmt.Errorf("%w: method name %q exceeds %d bytes", ErrUnsupportedCompression, name, compressionMethodNameLen)
	}

	b.methods = append(b.methods, name)
	return uint32(len(b.methods)), nil //nolint:gosec // bounded by slot count
}

// builtEntry is an entry together with its stored payload parts.
type builtEntry struct {
	payload [][]byte
	Entry
}

// buildEntry compresses and encrypts content according to opts.
func (b *Builder) buildEntry(content []byte, opts EntryOptions) (builtEntry, error) {
	v := b.opts.Version
	f := v.Features()

	if opts.Encrypt {
		if !f.Encryption {
			return builtEntry{}, fmt.Errorf("%w: encryption in version %s", ErrUnsupportedFeature, v)
		}
		if b.cipher == nil {
			return builtEntry{}, fmt.Errorf("%w: encryption needs a key", ErrKeyNotFound)
		}
	}

	if opts.Compression != CompressionNone && !f.CompressionBlocks {
		return builtEntry{}, fmt.Errorf("%w: compression in version %s", ErrUnsupportedFeature, v)
	}

	entry := Entry{
		Offset:           b.alignedOffset(),
		UncompressedSize: int64(len(content)),
		Size:             int64(len(content)),
		Hash:             ContentDigest(content),
	}
	if opts.Encrypt {
		entry.Flags |= FlagEncrypted
	}
	if f.Timestamps && !opts.ModTime.IsZero() {
		entry.Timestamp = timeToTicks(opts.ModTime)
	}

	if opts.Compression != CompressionNone {
		if _, err := b.opts.Compression.Lookup(opts.Compression); err != nil {
			return builtEntry{}, err
		}
	}

	method, err := b.methodIndex(opts.Compression)
	if err != nil {
		return builtEntry{}, err
	}

	blocks, err := b.compressBlocks(content, opts)
	if err != nil {
		return builtEntry{}, err
	}

	if blocks == nil {
		part := content
		if opts.Encrypt {
			part = b.cipher.encryptPadded(content)
		}

		return builtEntry{Entry: entry, payload: [][]byte{part}}, nil
	}

	entry.CompressionMethod = method
	blockSize := blockSizeOrDefault(opts.BlockSize)
	entry.BlockSize = blockSize
	if len(blocks) == 1 && len(content) < compactSmallSingleBlock {
		entry.BlockSize = uint32(len(content)) //nolint:gosec // below compactSmallSingleBlock
	}

	entry.Blocks = make([]CompressedBlock, len(blocks))
	next := entry.PayloadOffset(v)
	payload := make([][]byte, len(blocks))
	var stored int64
	for i, block := range blocks {
		entry.Blocks[i] = CompressedBlock{Start: next, End: next + int64(len(block))}
		if opts.Encrypt {
			block = b.cipher.encryptPadded(block)
		}

		payload[i] = block
		next += int64(len(block))
		stored += int64(len(block))
	}
	entry.Size = stored

	return builtEntry{Entry: entry, payload: payload}, nil
}

// compressBlocks splits content into blocks and compresses each one. A nil
// result means the entry is stored raw because compression did not pay off.
func (b *Builder) compressBlocks(content []byte, opts EntryOptions) ([][]byte, error) {
	if opts.Compression == CompressionNone || len(content) == 0 {
		return nil, nil
	}

	codec, err := b.opts.Compression.Lookup(opts.Compression)
	if err != nil {
		return nil, err
	}

	blockSize := int(blockSizeOrDefault(opts.BlockSize))
	blocks := make([][]byte, 0, (len(content)+blockSize-1)/blockSize)
	var total int
	for start := 0; start < len(content); start += blockSize {
		chunk := content[start:min(start+blockSize, len(content))]
		packed, err := codec.Compress(chunk)
		if errors.Is(err, errIncompressible) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("compress %s block %d: %w", opts.Compression, len(blocks), err)
		}

		total += len(packed)
		blocks = append(blocks, packed)
	}

	if total >= len(content) {
		return nil, nil
	}

	return blocks, nil
}

// blockSizeOrDefault returns size or MaxChunkDataSize for zero.
func blockSizeOrDefault(size uint32) uint32 {
	if size == 0 {
		return MaxChunkDataSize
	}

	return size
}

// timeToTicks converts t to 100ns ticks since 0001-01-01 UTC.
func timeToTicks(t time.Time) uint64 {
	ticks := t.UnixNano()/100 + dotNetEpochTicks
	if ticks < 0 {
		return 0
	}

	return uint64(ticks)
}

// ticksToTime is the inverse of timeToTicks.
func ticksToTime(ticks uint64) time.Time {
	if ticks < dotNetEpochTicks {
		return time.Time{}
	}

	return time.Unix(0, int64(ticks-dotNetEpochTicks)*100).UTC() //nolint:gosec // bounded by time range
}

// countingWriter counts bytes passed to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

