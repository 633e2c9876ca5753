// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
)

// OpenEntry opens the named entry for reading.
// The stream yields decrypted and decompressed content and fails with
// ErrIntegrityMismatch at EOF when the content digest does not match.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	entry, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	return r.openEntry(NormalizePath(name), entry)
}

// OpenEntryInfo opens entry stream by already resolved metadata.
func (r *Reader) OpenEntryInfo(info EntryInfo) (io.ReadCloser, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	name := info.Path
	if name == "" {
		name = "<unknown>"
	}

	return r.openEntry(name, info.Entry)
}

// ReadEntry reads full content of the named entry.
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return readEntryStream(rc, name)
}

// ReadEntryInfo reads full content of an already resolved entry.
func (r *Reader) ReadEntryInfo(info EntryInfo) ([]byte, error) {
	rc, err := r.OpenEntryInfo(info)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return readEntryStream(rc, info.Path)
}

// readEntryStream reads rc fully and binds errors to name.
func readEntryStream(rc io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &EntryError{Path: name, Err: err}
	}

	return data, nil
}

// VerifyEntries reads every non-deleted entry and checks its digest.
// One EntryError is returned per damaged entry; a nil slice means all entries verified.
func (r *Reader) VerifyEntries(ctx context.Context) ([]*EntryError, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := r.Entries(ListOptions{SkipDeleted: true})
	if err != nil {
		return nil, err
	}

	buf, release := acquireCopyBuffer()
	defer release()

	var failed []*EntryError
	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		if err := r.verifyEntry(info, buf); err != nil {
			var entryErr *EntryError
			if !errors.As(err, &entryErr) {
				entryErr = &EntryError{Path: info.Path, Err: err}
			}

			failed = append(failed, entryErr)
			r.opts.Logger.Debug("entry verification failed", "path", info.Path, "error", err)
		}
	}

	return failed, nil
}

// verifyEntry streams one entry to discard.
func (r *Reader) verifyEntry(info EntryInfo, buf []byte) error {
	rc, err := r.openEntry(info.Path, info.Entry)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if _, err := io.CopyBuffer(io.Discard, rc, buf); err != nil {
		return err
	}

	return nil
}

// openEntry resolves key, codec and inline header and returns a block stream.
func (r *Reader) openEntry(name string, e Entry) (io.ReadCloser, error) {
	if e.Deleted() {
		return nil, &EntryError{Path: name, Err: ErrEntryDeleted}
	}

	if e.UncompressedSize > math.MaxInt || e.Size > math.MaxInt {
		return nil, &EntryError{Path: name, Err: ErrSizeOverflow}
	}

	v := r.info.Version
	if err := e.Validate(v); err != nil {
		return nil, &EntryError{Path: name, Err: err}
	}

	inline, err := r.inlineEntry(e)
	if err != nil {
		return nil, &EntryError{Path: name, Err: err}
	}

	stream := &entryStream{
		ra:        r.ra,
		name:      name,
		blocks:    e.ContentBlocks(v),
		remaining: e.UncompressedSize,
		blockSize: int64(e.BlockSize),
		want:      e.Hash,
		digest:    NewDigestWriter(),
	}
	if stream.want.IsZero() {
		stream.want = inline.Hash
	}

	if e.Encrypted() {
		if stream.cipher, err = r.entryCipher(); err != nil {
			return nil, &EntryError{Path: name, Err: err}
		}
	}

	if e.IsCompressed() {
		method, ok := r.info.MethodName(e.CompressionMethod)
		if !ok {
			return nil, &EntryError{Path: name, Err: fmt.Errorf("%w: method index %d", ErrUnsupportedCompression, e.CompressionMethod)}
		}

		if stream.codec, err = r.opts.Compression.Lookup(method); err != nil {
			return nil, &EntryError{Path: name, Err: err}
		}
		if stream.blockSize <= 0 {
			stream.blockSize = e.UncompressedSize
		}
	} else {
		stream.blockSize = copyBufferSize
	}

	return stream, nil
}

// entryStream decodes entry payload one stored block at a time.
type entryStream struct {
	ra     io.ReaderAt
	codec  Compressor
	cipher *sectionCipher
	digest *DigestWriter
	name   string
	blocks []CompressedBlock
	buf    []byte
	// next is the stored position inside the current raw block for uncompressed entries.
	next      int64
	remaining int64
	blockSize int64
	want      Digest
	done      bool
	closed    bool
}

// Read implements io.Reader.
func (s *entryStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	for len(s.buf) == 0 {
		if s.done {
			return 0, io.EOF
		}

		if err := s.fill(); err != nil {
			s.done = true
			return 0, &EntryError{Path: s.name, Err: err}
		}
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close implements io.Closer.
func (s *entryStream) Close() error {
	s.closed = true
	s.buf = nil
	return nil
}

// fill decodes the next chunk into buf; at the end it checks the digest.
func (s *entryStream) fill() error {
	if s.remaining == 0 {
		s.done = true
		if !s.want.IsZero() {
			if got := s.digest.Sum(); got != s.want {
				return fmt.Errorf("%w: content digest %s, want %s", ErrIntegrityMismatch, got, s.want)
			}
		}

		return nil
	}

	var (
		chunk []byte
		err   error
	)
	if s.codec != nil {
		chunk, err = s.nextCompressed()
	} else {
		chunk, err = s.nextRaw()
	}
	if err != nil {
		return err
	}

	_, _ = s.digest.Write(chunk)
	s.remaining -= int64(len(chunk))
	s.buf = chunk
	return nil
}

// nextCompressed reads, decrypts and decompresses the next block.
func (s *entryStream) nextCompressed() ([]byte, error) {
	if len(s.blocks) == 0 {
		return nil, fmt.Errorf("%w: blocks exhausted with %d bytes left", ErrTruncatedInput, s.remaining)
	}

	block := s.blocks[0]
	s.blocks = s.blocks[1:]

	stored, err := s.readStored(block.Start, block.Len())
	if err != nil {
		return nil, err
	}

	size := min(s.blockSize, s.remaining)
	out, err := s.codec.Decompress(stored, int(size))
	if err != nil {
		return nil, fmt.Errorf("decompress block at %d: %w", block.Start, err)
	}

	return out, nil
}

// nextRaw reads the next window of an uncompressed payload.
func (s *entryStream) nextRaw() ([]byte, error) {
	block := s.blocks[0]
	n := min(s.blockSize, s.remaining)
	out, err := s.readStored(block.Start+s.next, n)
	if err != nil {
		return nil, err
	}

	s.next += n
	return out, nil
}

// readStored reads n logical bytes at off, decrypting the 16-byte aligned span when needed.
func (s *entryStream) readStored(off, n int64) ([]byte, error) {
	buf := make([]byte, encryptedSize(n, s.cipher != nil))
	if _, err := s.ra.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read payload at %d: %w", off, err)
	}

	if s.cipher != nil {
		if err := s.cipher.decrypt(buf); err != nil {
			return nil, err
		}
	}

	return buf[:n], nil
}
