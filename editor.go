// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Editor accumulates archive edit operations and applies them on Commit.
type Editor struct {
	path string
	ops  []editOperation
	opts EditOptions
}

// editOperation stores one staged editor operation.
type editOperation struct {
	inputs []Input
	paths  []string
	kind   editOperationKind
}

// editOperationKind identifies staged edit action type.
type editOperationKind uint8

const (
	// editOperationAdd appends new entries and fails on existing path.
	editOperationAdd editOperationKind = iota + 1
	// editOperationReplace rewrites existing entries.
	editOperationReplace
	// editOperationDelete removes exact paths.
	editOperationDelete
	// editOperationDeleteDir removes entries by directory prefix.
	editOperationDeleteDir
)

// OpenEditor creates staged editor for file-based archive rewrite workflow.
func OpenEditor(path string, opts EditOptions) (*Editor, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, ErrInvalidEntryPath
	}

	opts.applyDefaults()

	return &Editor{
		path: trimmedPath,
		opts: opts,
		ops:  make([]editOperation, 0, 8),
	}, nil
}

// Add schedules adding new entries and fails on path collision during commit.
func (e *Editor) Add(inputs ...Input) error {
	return e.stageInputs(editOperationAdd, inputs)
}

// Replace schedules replacing existing entries.
func (e *Editor) Replace(inputs ...Input) error {
	return e.stageInputs(editOperationReplace, inputs)
}

// Delete schedules exact-path removal.
func (e *Editor) Delete(paths ...string) error {
	return e.stagePaths(editOperationDelete, paths)
}

// DeleteDir schedules directory-prefix removal.
func (e *Editor) DeleteDir(prefixes ...string) error {
	return e.stagePaths(editOperationDeleteDir, prefixes)
}

// stageInputs normalizes inputs and appends one operation.
func (e *Editor) stageInputs(kind editOperationKind, inputs []Input) error {
	if e == nil {
		return ErrNilReader
	}

	normalized := make([]Input, 0, len(inputs))
	for _, in := range inputs {
		p, err := normalizeArchiveEntryPath(in.Path)
		if err != nil {
			return err
		}

		in.Path = p
		normalized = append(normalized, in)
	}

	if len(normalized) > 0 {
		e.ops = append(e.ops, editOperation{kind: kind, inputs: normalized})
	}

	return nil
}

// stagePaths normalizes paths and appends one operation.
func (e *Editor) stagePaths(kind editOperationKind, paths []string) error {
	if e == nil {
		return ErrNilReader
	}

	normalized := make([]string, 0, len(paths))
	for _, raw := range paths {
		p, err := normalizeArchiveEntryPath(raw)
		if err != nil {
			return err
		}

		normalized = append(normalized, p)
	}

	if len(normalized) > 0 {
		e.ops = append(e.ops, editOperation{kind: kind, paths: normalized})
	}

	return nil
}

// Commit applies all staged operations in one rewrite transaction.
// The source is moved to "<archive>.bak" first and restored on failure.
func (e *Editor) Commit(ctx context.Context) (*PackResult, error) {
	if e == nil {
		return nil, ErrNilReader
	}

	if ctx == nil {
		ctx = context.Background()
	}

	backupPath := e.path + ".bak"
	if err := prepareBackupSlot(backupPath, e.opts.BackupKeep); err != nil {
		return nil, err
	}

	if err := os.Rename(e.path, backupPath); err != nil {
		return nil, fmt.Errorf("move archive to backup: %w", err)
	}

	res, err := e.commitFromBackup(ctx, backupPath)
	if err != nil {
		if rollbackErr := rollbackFromBackup(e.path, backupPath); rollbackErr != nil {
			return nil, fmt.Errorf("%w (rollback failed: %w)", err, rollbackErr)
		}

		return nil, err
	}

	if e.opts.BackupKeep == 0 {
		if err := removeIfExists(backupPath); err != nil {
			return nil, fmt.Errorf("remove backup: %w", err)
		}
	}

	return res, nil
}

// commitFromBackup writes edited archive from backup source.
func (e *Editor) commitFromBackup(ctx context.Context, backupPath string) (*PackResult, error) {
	src, err := OpenWithOptions(backupPath, e.opts.Reader)
	if err != nil {
		return nil, fmt.Errorf("parse backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	entries, err := src.Entries(ListOptions{})
	if err != nil {
		return nil, err
	}

	packOpts := e.opts.PackOptions
	inheritBuilderOptions(&packOpts.Builder, src, e.opts.Reader.Keys)

	writeDeletes := e.opts.WriteDeleteRecords && packOpts.Builder.Version.Features().DeleteRecords
	plan, err := buildEditPlan(src, entries, e.ops, writeDeletes)
	if err != nil {
		return nil, err
	}

	dstFile, err := os.OpenFile(e.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create destination archive: %w", err)
	}

	res, writeErr := rewriteArchive(ctx, dstFile, plan, packOpts)
	if writeErr != nil {
		_ = dstFile.Close()
		return nil, writeErr
	}

	if err := dstFile.Sync(); err != nil {
		_ = dstFile.Close()
		return nil, fmt.Errorf("sync destination archive: %w", err)
	}

	if err := dstFile.Close(); err != nil {
		return nil, fmt.Errorf("close destination archive: %w", err)
	}

	return res, nil
}

// inheritBuilderOptions fills zero builder options from the source archive.
func inheritBuilderOptions(opts *BuilderOptions, src *Reader, keys KeyProvider) {
	info := src.Info()
	if opts.Version == VersionUnknown {
		opts.Version = info.Version
	}

	if opts.MountPoint == "" {
		opts.MountPoint = src.MountPoint()
	}

	if opts.KeyGUID.IsZero() && opts.Version.Features().KeyGUID {
		opts.KeyGUID = info.KeyGUID
	}

	if len(opts.Key) == 0 {
		if key, err := resolveKey(keys, info.KeyGUID); err == nil {
			opts.Key = key
			opts.EncryptIndex = opts.EncryptIndex || info.EncryptedIndex
		}
	}

	if hashed, ok := src.Index().(*HashedIndex); ok && opts.PathHashSeed == 0 && opts.Version.Features().PathHashIndex {
		opts.PathHashSeed = hashed.Seed()
	}

	if len(opts.CompressionMethods) == 0 && opts.Version.Features().NamedCompression {
		opts.CompressionMethods = append([]string(nil), info.CompressionMethods...)
	}
}

// editState is the ordered working set of an edit plan.
type editState struct {
	items map[string]rewriteEntry
	order []string
}

// set stores item under its case-insensitive key, appending new keys.
func (s *editState) set(item rewriteEntry) {
	key := pathKey(item.path)
	if _, exists := s.items[key]; !exists {
		s.order = append(s.order, key)
	}

	s.items[key] = item
}

// buildEditPlan applies staged operations to source entries and builds final write plan.
// Source order is kept and new entries follow in staging order.
func buildEditPlan(src *Reader, sourceEntries []EntryInfo, ops []editOperation, writeDeletes bool) ([]rewriteEntry, error) {
	state := &editState{items: make(map[string]rewriteEntry, len(sourceEntries))}
	for _, entry := range sourceEntries {
		p, err := normalizeArchiveEntryPath(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: source entry path %q", ErrInvalidEntryPath, entry.Path)
		}

		if _, exists := state.items[pathKey(p)]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePath, p)
		}

		state.set(rewriteEntry{path: p, source: src, deleted: entry.Deleted()})
	}

	remove := func(key string) {
		item := state.items[key]
		if writeDeletes {
			state.set(rewriteEntry{path: item.path, deleted: true})
			return
		}

		delete(state.items, key)
	}

	for _, op := range ops {
		switch op.kind {
		case editOperationAdd:
			for _, in := range op.inputs {
				if item, exists := state.items[pathKey(in.Path)]; exists && !item.deleted {
					return nil, fmt.Errorf("%w: %q", ErrDuplicatePath, in.Path)
				}

				state.set(rewriteEntry{path: in.Path, input: &in})
			}
		case editOperationReplace:
			for _, in := range op.inputs {
				if item, exists := state.items[pathKey(in.Path)]; !exists || item.deleted {
					return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, in.Path)
				}

				state.set(rewriteEntry{path: in.Path, input: &in})
			}
		case editOperationDelete:
			for _, p := range op.paths {
				if _, exists := state.items[pathKey(p)]; exists {
					remove(pathKey(p))
				}
			}
		case editOperationDeleteDir:
			for _, prefix := range op.paths {
				for key, item := range state.items {
					if hasDirPrefix(item.path, prefix) {
						remove(key)
					}
				}
			}
		default:
			return nil, fmt.Errorf("unknown edit operation kind: %d", op.kind)
		}
	}

	plan := make([]rewriteEntry, 0, len(state.items))
	for _, key := range state.order {
		item, ok := state.items[key]
		if !ok {
			continue
		}

		// A delete record copied from a source that cannot store one is dropped.
		if item.deleted && !writeDeletes && item.source != nil {
			continue
		}
		if item.deleted {
			item.source = nil
		}

		plan = append(plan, item)
	}

	return plan, nil
}

// hasDirPrefix reports whether p is equal to prefix or inside prefixed directory.
func hasDirPrefix(p string, prefix string) bool {
	pk := pathKey(p)
	prefixKey := pathKey(prefix)

	return pk == prefixKey || strings.HasPrefix(pk, prefixKey+"/")
}

// prepareBackupSlot rotates/removes existing backup generations before new commit.
func prepareBackupSlot(backupPath string, keep int) error {
	switch {
	case keep <= 1:
		return removeIfExists(backupPath)
	default:
		oldest := fmt.Sprintf("%s.%d", backupPath, keep-1)
		if err := removeIfExists(oldest); err != nil {
			return err
		}

		for i := keep - 2; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", backupPath, i)
			to := fmt.Sprintf("%s.%d", backupPath, i+1)
			if err := renameIfExists(from, to); err != nil {
				return err
			}
		}

		return renameIfExists(backupPath, backupPath+".1")
	}
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(from string, to string) error {
	_, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err := removeIfExists(to); err != nil {
		return err
	}

	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// removeIfExists removes file when present.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("remove %s: %w", path, err)
}

// rollbackFromBackup restores backup on failed commit.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)

	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
