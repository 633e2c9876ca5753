// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// extractWorkItem stores one selected entry with prepared output relative paths.
type extractWorkItem struct {
	relPath string
	relDir  string
	entry   EntryInfo
}

// Extract writes selected entries to dstDir using up to MaxWorkers concurrent
// workers. Delete records are skipped. Without ContinueOnError the first
// failure cancels remaining work; with it all failures are returned joined.
func (r *Reader) Extract(ctx context.Context, dstDir string, opts ExtractOptions) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	entries := opts.Entries
	if entries == nil {
		var err error
		if entries, err = r.Entries(ListOptions{}); err != nil {
			return err
		}
	}

	entries = filterEntriesByDeleted(entries)
	if len(entries) == 0 {
		return nil
	}

	targets := entries
	if !opts.RawNames {
		sanitized, err := sanitizeEntryInfoPaths(entries)
		if err != nil {
			return err
		}

		targets = sanitized
	}

	fileMode := opts.FileMode
	if fileMode == "" {
		fileMode = ExtractFileModeAuto
	}

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	workItems, err := prepareExtractWorkItems(entries, targets)
	if err != nil {
		return err
	}

	if err := prepareExtractDirs(dstRootAbs, workItems); err != nil {
		return err
	}

	var (
		failedMu sync.Mutex
		failed   []error
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, task := range workItems {
		if egCtx.Err() != nil {
			break
		}

		eg.Go(func() error {
			err := r.extractPreparedEntry(egCtx, dstRootAbs, task, fileMode, opts.OnEntryDone)
			if err == nil {
				return nil
			}

			entryErr := asEntryError(task.entry.Path, err)
			if !opts.ContinueOnError || errors.Is(err, context.Canceled) {
				return entryErr
			}

			r.opts.Logger.Debug("extract entry failed", "path", task.entry.Path, "error", err)
			if opts.OnEntryError != nil {
				opts.OnEntryError(entryErr)
			}

			failedMu.Lock()
			failed = append(failed, entryErr)
			failedMu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return errors.Join(failed...)
}

// asEntryError returns err as *EntryError bound to path.
func asEntryError(path string, err error) *EntryError {
	var entryErr *EntryError
	if errors.As(err, &entryErr) {
		return entryErr
	}

	return &EntryError{Path: path, Err: err}
}

// prepareExtractWorkItems validates selected entries and prepares relative fs paths.
// targets holds output names aligned with entries.
func prepareExtractWorkItems(entries, targets []EntryInfo) ([]extractWorkItem, error) {
	workItems := make([]extractWorkItem, 0, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(targets[i].Path) == "" {
			continue
		}

		normalizedPath, err := normalizeExtractEntryPath(targets[i].Path)
		if err != nil {
			return nil, fmt.Errorf("normalize entry path %s: %w", targets[i].Path, err)
		}

		relPath := filepath.FromSlash(normalizedPath)
		relDir := filepath.Dir(relPath)
		if relDir == "." {
			relDir = ""
		}

		workItems = append(workItems, extractWorkItem{
			entry:   entry,
			relPath: relPath,
			relDir:  relDir,
		})
	}

	return workItems, nil
}

// prepareExtractDirs creates all unique parent directories needed by work items.
func prepareExtractDirs(dstRootAbs string, workItems []extractWorkItem) error {
	seen := make(map[string]struct{}, len(workItems))
	for _, task := range workItems {
		if task.relDir == "" {
			continue
		}

		dirPath := filepath.Join(dstRootAbs, task.relDir)
		key := strings.ToLower(dirPath)
		if _, exists := seen[key]; exists {
			continue
		}

		seen[key] = struct{}{}
		if err := os.MkdirAll(dirPath, 0o750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dirPath, err)
		}
	}

	return nil
}

// extractPreparedEntry writes one prepared work item to destination root.
func (r *Reader) extractPreparedEntry(
	ctx context.Context,
	dstRootAbs string,
	task extractWorkItem,
	fileMode ExtractFileMode,
	onEntryDone func(entry EntryInfo, written int64, outputPath string),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	outPath := filepath.Join(dstRootAbs, task.relPath)

	rc, err := r.openEntry(task.entry.Path, task.entry.Entry)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	file, needsTruncate, err := openExtractFile(outPath, fileMode, task.entry.UncompressedSize)
	if err != nil {
		return fmt.Errorf("open %s: %w", outPath, err)
	}

	copyBuf, release := acquireCopyBuffer()
	written, copyErr := io.CopyBuffer(file, rc, copyBuf)
	release()

	if copyErr == nil && needsTruncate {
		if truncErr := file.Truncate(written); truncErr != nil {
			_ = file.Close()
			return fmt.Errorf("truncate %s: %w", outPath, truncErr)
		}
	}

	closeErr := file.Close()
	if copyErr != nil {
		return fmt.Errorf("write %s: %w", outPath, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", outPath, closeErr)
	}

	if onEntryDone != nil {
		onEntryDone(task.entry, written, outPath)
	}

	return nil
}

// openExtractFile opens output path according to selected extract file mode.
func openExtractFile(path string, mode ExtractFileMode, expectedSize int64) (*os.File, bool, error) {
	switch mode {
	case ExtractFileModeAuto:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return file, false, nil
		}

		if !os.IsExist(err) {
			return nil, false, err
		}

		file, truncErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		return file, false, truncErr
	case ExtractFileModeOverwriteSmart:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
		if err != nil {
			return nil, false, err
		}

		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return nil, false, err
		}

		return file, info.Size() > expectedSize, nil
	case ExtractFileModeTruncate:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		return file, false, err
	case ExtractFileModeCreateOnly:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		return file, false, err
	default:
		return nil, false, fmt.Errorf("unknown extract file mode %q", mode)
	}
}

// normalizeExtractEntryPath normalizes entry path and rejects absolute/traversal inputs.
func normalizeExtractEntryPath(entryPath string) (string, error) {
	raw := strings.TrimSpace(entryPath)
	if raw == "" || strings.ContainsRune(raw, 0) {
		return "", ErrInvalidExtractPath
	}
	if strings.HasPrefix(raw, `/`) || strings.HasPrefix(raw, `\`) {
		return "", ErrInvalidExtractPath
	}

	raw = strings.ReplaceAll(raw, `\`, `/`)
	if hasWindowsDrivePrefix(raw) {
		return "", ErrInvalidExtractPath
	}

	parts := strings.Split(raw, `/`)
	cleanParts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", ErrInvalidExtractPath
		default:
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "", ErrInvalidExtractPath
	}

	return strings.Join(cleanParts, `/`), nil
}

// hasWindowsDrivePrefix reports whether path starts with a drive prefix like C:.
func hasWindowsDrivePrefix(path string) bool {
	if len(path) < 2 || path[1] != ':' {
		return false
	}

	c := path[0] | 0x20
	return c >= 'a' && c <= 'z'
}
