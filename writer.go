// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"
)

// rewriteEntry describes one payload source for archive rewrite core.
type rewriteEntry struct {
	input   *Input
	source  *Reader
	path    string
	deleted bool
}

// Pack writes an archive to out from the given inputs in caller order.
func Pack(ctx context.Context, out io.Writer, inputs []Input, opts PackOptions) (*PackResult, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInputs
	}

	plan, err := preparePackRewritePlan(inputs)
	if err != nil {
		return nil, err
	}

	return rewriteArchive(ctx, out, plan, opts)
}

// PackFile writes an archive to outPath.
func PackFile(ctx context.Context, outPath string, inputs []Input, opts PackOptions) (*PackResult, error) {
	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create pak file: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	res, err := Pack(ctx, f, inputs, opts)
	if err != nil {
		return nil, err
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync pak file: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close pak file: %w", err)
	}
	f = nil

	return res, nil
}

// preparePackRewritePlan normalizes pack inputs and rejects duplicate paths.
func preparePackRewritePlan(inputs []Input) ([]rewriteEntry, error) {
	normalized := make([]Input, len(inputs))
	copy(normalized, inputs)

	for i := range normalized {
		p, err := normalizeArchiveEntryPath(normalized[i].Path)
		if err != nil {
			return nil, err
		}

		normalized[i].Path = p
	}

	if err := validateUniqueEntryPaths(normalized); err != nil {
		return nil, err
	}

	plan := make([]rewriteEntry, len(normalized))
	for i := range normalized {
		plan[i] = rewriteEntry{
			path:  normalized[i].Path,
			input: &normalized[i],
		}
	}

	return plan, nil
}

// validateUniqueEntryPaths ensures there are no duplicate logical entry paths.
func validateUniqueEntryPaths(inputs []Input) error {
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		key := strings.ToLower(in.Path)
		if existing, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q conflicts with %q", ErrDuplicatePath, in.Path, existing)
		}

		seen[key] = in.Path
	}

	return nil
}

// packPolicy holds compiled per-path rules of one rewrite run.
type packPolicy struct {
	compress *pathMatcher
	encrypt  *pathMatcher
	opts     PackOptions
}

// newPackPolicy compiles compression and encryption rules.
func newPackPolicy(opts PackOptions) (*packPolicy, error) {
	compress, err := newPathMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		return nil, fmt.Errorf("compile compress rules: %w", err)
	}

	encrypt, err := newPathMatcher(opts.Encrypt, opts.EncryptMatcherOptions)
	if err != nil {
		return nil, fmt.Errorf("compile encrypt rules: %w", err)
	}

	return &packPolicy{compress: compress, encrypt: encrypt, opts: opts}, nil
}

// compressionCandidate reports whether in should enter the compression path.
// A known size hint outside the configured bounds skips compression early.
func (p *packPolicy) compressionCandidate(in Input) bool {
	if p.compress == nil || !p.compress.Match(in.Path) {
		return false
	}

	if in.SizeHint > 0 {
		return shouldCompressBySize(p.opts, in.SizeHint)
	}

	return true
}

// encrypted reports whether in should be stored encrypted.
func (p *packPolicy) encrypted(in Input) bool {
	return p.opts.EncryptAll || p.encrypt.Match(in.Path)
}

// rewriteArchive is the shared writer core for Pack and editor commit flows.
func rewriteArchive(ctx context.Context, out io.Writer, plan []rewriteEntry, opts PackOptions) (*PackResult, error) {
	startedAt := time.Now()

	if out == nil {
		return nil, ErrNilWriter
	}

	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	policy, err := newPackPolicy(opts)
	if err != nil {
		return nil, err
	}

	b, err := NewBuilder(out, opts.Builder)
	if err != nil {
		return nil, err
	}
	defer b.Abort()

	copyBuf, releaseCopyBuffer := acquireCopyBuffer()
	defer releaseCopyBuffer()

	res := &PackResult{}
	for _, item := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		progress, err := writeRewriteItem(b, item, policy, copyBuf)
		if err != nil {
			return nil, err
		}

		res.WrittenEntries++
		switch {
		case item.deleted:
			res.DeletedEntries++
		case progress.Copied:
			res.CopiedEntries++
		}

		if progress.Compressed {
			res.CompressedEntries++
			res.CompressedBytes += progress.Size
		} else if !item.deleted {
			res.RawBytes += progress.Size
		}

		if progress.CompressionCandidate && !progress.Compressed {
			res.SkippedCompressionEntries++
		}

		if progress.Encrypted {
			res.EncryptedEntries++
		}

		if opts.OnEntryDone != nil {
			opts.OnEntryDone(progress)
		}
	}

	info, err := b.Finalize()
	if err != nil {
		return nil, err
	}

	res.DataSize = info.IndexOffset
	res.IndexSize = b.Offset() - info.IndexOffset - info.Size()
	res.Duration = time.Since(startedAt)
	return res, nil
}

// writeRewriteItem writes one plan item through the builder.
func writeRewriteItem(b *Builder, item rewriteEntry, policy *packPolicy, copyBuf []byte) (PackEntryProgress, error) {
	var (
		entry    Entry
		err      error
		progress = PackEntryProgress{Path: item.path}
	)

	switch {
	case item.deleted:
		entry, err = b.AddDeleted(item.path)
	case item.source != nil:
		entry, err = b.CopyRaw(item.source, item.path)
		progress.Copied = true
	case item.input != nil:
		entry, progress.CompressionCandidate, err = writeInputEntry(b, *item.input, policy, copyBuf)
	default:
		err = &EntryError{Path: item.path, Err: fmt.Errorf("missing input or source")}
	}
	if err != nil {
		return PackEntryProgress{}, err
	}

	progress.Offset = entry.Offset
	progress.Size = entry.Size
	progress.UncompressedSize = entry.UncompressedSize
	progress.Compressed = entry.IsCompressed()
	progress.Encrypted = entry.Encrypted()
	if progress.Compressed {
		progress.Method = b.methods[entry.CompressionMethod-1]
	}

	return progress, nil
}

// writeInputEntry reads one input and adds it with the selected compression and encryption.
func writeInputEntry(b *Builder, in Input, policy *packPolicy, copyBuf []byte) (Entry, bool, error) {
	candidate := policy.compressionCandidate(in)

	rc, err := openInputReader(in)
	if err != nil {
		return Entry{}, false, err
	}

	content, readErr := readPayloadBounded(rc, math.MaxInt32*int64(MaxChunkDataSize), in.SizeHint, policy.opts.MaxCompressSize, copyBuf)
	closeErr := rc.Close()
	if readErr != nil {
		return Entry{}, false, fmt.Errorf("stream input %s: %w", in.Path, readErr)
	}
	if closeErr != nil {
		return Entry{}, false, fmt.Errorf("close input %s: %w", in.Path, closeErr)
	}

	candidate = candidate && shouldCompressBySize(policy.opts, int64(len(content)))

	entryOpts := EntryOptions{
		ModTime:   in.ModTime,
		BlockSize: policy.opts.BlockSize,
		Encrypt:   policy.encrypted(in),
	}
	if candidate {
		entryOpts.Compression = policy.opts.Compression
	}

	entry, err := b.AddEntry(in.Path, content, entryOpts)
	if err != nil {
		return Entry{}, false, err
	}

	return entry, candidate, nil
}

// openInputReader opens source stream for one input.
func openInputReader(in Input) (io.ReadCloser, error) {
	if in.Open == nil {
		return nil, fmt.Errorf("input %s: Open is nil", in.Path)
	}

	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", in.Path, err)
	}

	return rc, nil
}

// readPayloadBounded reads whole payload into memory with strict max-size enforcement.
func readPayloadBounded(src io.Reader, limit int64, sizeHint int64, growLimit int64, copyBuf []byte) ([]byte, error) {
	var dst bytes.Buffer
	if sizeHint > 0 && sizeHint <= growLimit {
		dst.Grow(int(sizeHint))
	}

	written, err := copyPayloadBounded(&dst, src, limit, copyBuf)
	if err != nil {
		return nil, err
	}
	if int64(dst.Len()) != written {
		return nil, fmt.Errorf("short read into memory (%d/%d)", dst.Len(), written)
	}

	return dst.Bytes(), nil
}

// copyPayloadBounded streams payload from src to dst and enforces strict size limit.
func copyPayloadBounded(dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if dst == nil {
		return 0, ErrNilWriter
	}
	if src == nil {
		return 0, ErrNilReader
	}
	if limit < 0 {
		return 0, ErrSizeOverflow
	}
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	emptyReads := 0
	for written < limit {
		chunkSize := len(buf)
		if remaining := limit - written; int64(chunkSize) > remaining {
			chunkSize = int(remaining)
		}

		n, readErr := src.Read(buf[:chunkSize])
		if n > 0 {
			emptyReads = 0
			nw, writeErr := dst.Write(buf[:n])
			written += int64(nw)

			if writeErr != nil {
				return written, writeErr
			}
			if nw != n {
				return written, io.ErrShortWrite
			}
		}
		if n == 0 && readErr == nil {
			emptyReads++
			if emptyReads > 100 {
				return written, io.ErrNoProgress
			}

			continue
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}

			return written, readErr
		}
	}

	// Probe one extra byte: a source longer than limit is an error.
	if written == limit {
		var probe [1]byte
		n, err := src.Read(probe[:])
		if n > 0 {
			return written, ErrSizeOverflow
		}
		if err != nil && err != io.EOF {
			return written, err
		}
	}

	return written, nil
}
