// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"io"
	"log/slog"
	"time"

	"github.com/woozymasta/pathrules"
)

// Default builder and packer tuning values.
const (
	DefaultWriteBuffer     = 4 * 1024 * 1024
	DefaultMinCompressSize = 512
	DefaultMaxCompressSize = 256 * 1024 * 1024
)

// EntryInfo is one listed archive entry with its resolved path and method name.
type EntryInfo struct {
	// Path is mount-relative entry path.
	Path string `json:"path" yaml:"path"`
	// Method is the compression method name; empty for stored entries.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Entry  `yaml:",inline"`
}

// Input describes one source stream to be packed into an archive entry.
type Input struct {
	// ModTime is optional entry timestamp (stored by version 1 only).
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	// Open returns raw source stream for this entry.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
	// Path is destination path inside the archive, relative to the mount point.
	Path string `json:"path" yaml:"path"`
	// SizeHint is expected size in bytes (zero when unknown).
	SizeHint int64 `json:"size_hint,omitempty" yaml:"size_hint,omitempty"`
}

// EntryOptions configures how one entry is stored by Builder.AddEntry.
type EntryOptions struct {
	// Compression is the method name; empty stores raw.
	Compression string `json:"compression,omitempty" yaml:"compression,omitempty"`
	// ModTime is stored as .NET ticks by version 1 archives.
	ModTime time.Time `json:"mod_time,omitzero" yaml:"mod_time,omitempty"`
	// BlockSize is the uncompressed block size; zero means MaxChunkDataSize.
	BlockSize uint32 `json:"block_size,omitempty" yaml:"block_size,omitempty"`
	// Encrypt stores payload AES encrypted with the builder key.
	Encrypt bool `json:"encrypt,omitempty" yaml:"encrypt,omitempty"`
}

// BuilderOptions configures a Builder. Version is fixed for the builder lifetime.
type BuilderOptions struct {
	// Logger receives debug events; nil discards.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// Compression resolves codecs by method name; nil uses DefaultCompressionRegistry.
	Compression *CompressionRegistry `json:"-" yaml:"-"`
	// MountPoint is written to the index; empty means DefaultMountPoint.
	MountPoint string `json:"mount_point,omitempty" yaml:"mount_point,omitempty"`
	// CompressionMethods predeclares footer method names (version 8+).
	// Methods used by AddEntry are appended when missing.
	CompressionMethods []string `json:"compression_methods,omitempty" yaml:"compression_methods,omitempty"`
	// Key is the raw 32-byte AES key for entry and index encryption.
	Key []byte `json:"-" yaml:"-"`
	// Alignment pads each entry record start to a multiple of this value; zero disables.
	Alignment int64 `json:"alignment,omitempty" yaml:"alignment,omitempty"`
	// PathHashSeed seeds the path hash index (version 10+).
	PathHashSeed uint64 `json:"path_hash_seed,omitempty" yaml:"path_hash_seed,omitempty"`
	// Version is the target format revision; zero means VersionLatest.
	Version Version `json:"version,omitempty" yaml:"version,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
	// KeyGUID is stored in the footer (version 7+).
	KeyGUID KeyGUID `json:"key_guid,omitzero" yaml:"key_guid,omitempty"`
	// EncryptIndex encrypts all index regions (version 4+).
	EncryptIndex bool `json:"encrypt_index,omitempty" yaml:"encrypt_index,omitempty"`
}

// ReaderOptions configures archive parsing and content access.
type ReaderOptions struct {
	// Logger receives debug events; nil discards.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// Keys resolves AES keys by footer key GUID.
	Keys KeyProvider `json:"-" yaml:"-"`
	// Compression resolves codecs by method name; nil uses DefaultCompressionRegistry.
	Compression *CompressionRegistry `json:"-" yaml:"-"`
	// EntryCacheSize bounds decoded compact entries kept by a hashed index.
	// Zero means DefaultEntryCacheSize; negative disables the cache.
	EntryCacheSize int `json:"entry_cache_size,omitempty" yaml:"entry_cache_size,omitempty"`
	// SkipInlineCheck disables comparison of the inline record header with the index entry.
	SkipInlineCheck bool `json:"skip_inline_check,omitempty" yaml:"skip_inline_check,omitempty"`
}

// ListOptions filters entry listing.
type ListOptions struct {
	// PathPrefix keeps entries equal to or under this directory.
	PathPrefix string `json:"path_prefix,omitempty" yaml:"path_prefix,omitempty"`
	// MinSize keeps entries with uncompressed size at least this value.
	MinSize int64 `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	// SkipDeleted drops delete records from the listing.
	SkipDeleted bool `json:"skip_deleted,omitempty" yaml:"skip_deleted,omitempty"`
	// ASCIIOnly keeps entries whose path has only ASCII bytes.
	ASCIIOnly bool `json:"ascii_only,omitempty" yaml:"ascii_only,omitempty"`
	// SanitizeNames rewrites entry paths to filesystem-safe names.
	SanitizeNames bool `json:"sanitize_names,omitempty" yaml:"sanitize_names,omitempty"`
}

// PackEntryProgress contains one completed entry write event from pack flow.
type PackEntryProgress struct {
	// Path is entry path written to archive.
	Path string `json:"path" yaml:"path"`
	// Method is compression method name; empty for raw entries.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// Offset is record offset in resulting archive.
	Offset int64 `json:"offset" yaml:"offset"`
	// Size is stored payload size in bytes.
	Size int64 `json:"size" yaml:"size"`
	// UncompressedSize is logical content size.
	UncompressedSize int64 `json:"uncompressed_size" yaml:"uncompressed_size"`
	// CompressionCandidate reports whether compression path was selected for this input entry.
	CompressionCandidate bool `json:"compression_candidate,omitempty" yaml:"compression_candidate,omitempty"`
	// Compressed reports whether compressed payload was actually written.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	// Encrypted reports whether payload was encrypted.
	Encrypted bool `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
	// Copied reports whether payload was relocated from a source archive unchanged.
	Copied bool `json:"copied,omitempty" yaml:"copied,omitempty"`
}

// PackOptions configures pack behavior.
type PackOptions struct {
	// OnEntryDone is called after one entry is fully written to archive payload.
	OnEntryDone func(entry PackEntryProgress) `json:"-" yaml:"-"`
	// Compression is the method used for compression candidates. Default is Zlib.
	Compression string `json:"compression,omitempty" yaml:"compression,omitempty"`
	// Compress defines ordered path rules for compression candidate selection.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// Encrypt defines ordered path rules selecting entries to encrypt.
	Encrypt []pathrules.Rule `json:"encrypt,omitempty" yaml:"encrypt,omitempty"`
	// Builder configures archive layout and keys.
	Builder BuilderOptions `json:"builder,omitzero" yaml:"builder,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// EncryptMatcherOptions control encryption path rule matching.
	EncryptMatcherOptions pathrules.MatcherOptions `json:"encrypt_matcher_options,omitzero" yaml:"encrypt_matcher_options,omitzero"`
	// MinCompressSize disables compression for entries smaller than this size.
	MinCompressSize int64 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize disables compression for entries larger than this size
	// and bounds in-memory entry reads.
	MaxCompressSize int64 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
	// BlockSize is the compression block size; zero means MaxChunkDataSize.
	BlockSize uint32 `json:"block_size,omitempty" yaml:"block_size,omitempty"`
	// EncryptAll encrypts every entry regardless of Encrypt rules.
	EncryptAll bool `json:"encrypt_all,omitempty" yaml:"encrypt_all,omitempty"`
}

// PackResult contains pack output statistics.
type PackResult struct {
	// WrittenEntries is number of entries written to archive (delete records included).
	WrittenEntries int `json:"written_entries" yaml:"written_entries"`
	// DataSize is total bytes of the entry data region.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// IndexSize is total bytes of all index regions.
	IndexSize int64 `json:"index_size" yaml:"index_size"`
	// RawBytes is total payload bytes written for uncompressed entries.
	RawBytes int64 `json:"raw_bytes,omitempty" yaml:"raw_bytes,omitempty"`
	// CompressedBytes is total payload bytes written for compressed entries.
	CompressedBytes int64 `json:"compressed_bytes,omitempty" yaml:"compressed_bytes,omitempty"`
	// CompressedEntries is number of entries written with compressed payload.
	CompressedEntries int `json:"compressed_entries,omitempty" yaml:"compressed_entries,omitempty"`
	// SkippedCompressionEntries is number of compression candidates stored as raw payload.
	SkippedCompressionEntries int `json:"skipped_compression_entries,omitempty" yaml:"skipped_compression_entries,omitempty"`
	// EncryptedEntries is number of entries written encrypted.
	EncryptedEntries int `json:"encrypted_entries,omitempty" yaml:"encrypted_entries,omitempty"`
	// CopiedEntries is number of entries relocated unchanged from a source archive.
	CopiedEntries int `json:"copied_entries,omitempty" yaml:"copied_entries,omitempty"`
	// DeletedEntries is number of delete records written.
	DeletedEntries int `json:"deleted_entries,omitempty" yaml:"deleted_entries,omitempty"`
	// Duration is end-to-end pack core duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// EditOptions configures file-based archive edit flow.
type EditOptions struct {
	// Reader configures parsing of the source archive (keys, codecs).
	Reader ReaderOptions `json:"reader,omitzero" yaml:"reader,omitempty"`
	// PackOptions are applied for added/replaced entries during commit.
	// Zero Builder.Version keeps the source archive version.
	PackOptions PackOptions `json:"pack_options,omitzero" yaml:"pack_options,omitzero"`
	// BackupKeep controls how many backup generations are kept after successful commit.
	// 0 means remove backup, 1 keeps only `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
	// WriteDeleteRecords emits delete records for removed paths instead of dropping them (version 6+).
	WriteDeleteRecords bool `json:"write_delete_records,omitempty" yaml:"write_delete_records,omitempty"`
}

// ExtractOptions configures Extract behavior.
type ExtractOptions struct {
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(entry EntryInfo, written int64, outputPath string) `json:"-" yaml:"-"`
	// OnEntryError is called for each failed entry when ContinueOnError is set.
	OnEntryError func(err *EntryError) `json:"-" yaml:"-"`
	// FileMode controls output file creation policy.
	FileMode ExtractFileMode `json:"file_mode,omitempty" yaml:"file_mode,omitempty"`
	// Entries limits extraction to selected metadata list; nil means all entries.
	Entries []EntryInfo `json:"-" yaml:"-"`
	// MaxWorkers is number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// RawNames disables default path sanitization during extract.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
	// ContinueOnError keeps extracting after per-entry failures and returns them joined.
	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
}

// ExtractFileMode controls output file open behavior during extraction.
type ExtractFileMode string

// Output file creation policies for extraction.
const (
	// ExtractFileModeAuto first tries create-only, then falls back to truncate for existing files.
	ExtractFileModeAuto ExtractFileMode = "auto"
	// ExtractFileModeOverwriteSmart rewrites files in place and truncates only when existing file is larger.
	ExtractFileModeOverwriteSmart ExtractFileMode = "overwrite_smart"
	// ExtractFileModeTruncate opens existing files with truncate and creates missing files.
	ExtractFileModeTruncate ExtractFileMode = "truncate"
	// ExtractFileModeCreateOnly creates files only when absent and fails on existing files.
	ExtractFileModeCreateOnly ExtractFileMode = "create_only"
)

// applyDefaults fills zero-valued builder options with defaults.
func (opts *BuilderOptions) applyDefaults() {
	if opts.Version == VersionUnknown {
		opts.Version = VersionLatest
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Compression == nil {
		opts.Compression = DefaultCompressionRegistry()
	}

	opts.MountPoint = NormalizeMountPoint(opts.MountPoint)

	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}

	if opts.Alignment < 0 {
		opts.Alignment = 0
	}
}

// applyDefaults fills zero-valued reader options with defaults.
func (opts *ReaderOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Compression == nil {
		opts.Compression = DefaultCompressionRegistry()
	}

	switch {
	case opts.EntryCacheSize == 0:
		opts.EntryCacheSize = DefaultEntryCacheSize
	case opts.EntryCacheSize < 0:
		opts.EntryCacheSize = 0
	}
}

// applyDefaults fills zero-valued pack options with defaults.
func (opts *PackOptions) applyDefaults() {
	if opts.Compression == "" {
		opts.Compression = CompressionZlib
	}

	if opts.MinCompressSize <= 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize <= 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	opts.CompressMatcherOptions = defaultMatcherOptions(opts.CompressMatcherOptions)
	opts.EncryptMatcherOptions = defaultMatcherOptions(opts.EncryptMatcherOptions)
}

// defaultMatcherOptions returns case-insensitive exclude-by-default options for zero values.
func defaultMatcherOptions(opts pathrules.MatcherOptions) pathrules.MatcherOptions {
	if opts == (pathrules.MatcherOptions{}) {
		return pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.DefaultAction == pathrules.ActionUnknown {
		opts.DefaultAction = pathrules.ActionExclude
	}

	return opts
}

// applyDefaults fills zero-valued edit options with defaults.
func (opts *EditOptions) applyDefaults() {
	opts.PackOptions.applyDefaults()

	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}
