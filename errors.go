// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"errors"
	"fmt"
)

// Sentinel errors for pak operations. Use errors.Is in callers.
var (
	// ErrTruncatedInput means a field extends past the end of available bytes.
	ErrTruncatedInput = errors.New("truncated input")
	// ErrBadMagic means no known footer size carries the pak magic.
	ErrBadMagic = errors.New("pak footer magic not found")
	// ErrUnsupportedVersion means the archive version (or a feature it requires) is not supported.
	ErrUnsupportedVersion = errors.New("unsupported pak version")
	// ErrInvalidEncoding means a length, bitfield, or location value is malformed.
	ErrInvalidEncoding = errors.New("invalid encoding")
	// ErrIntegrityMismatch means a SHA1 digest over index or entry content does not match.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	// ErrKeyNotFound means the key provider has no key for the requested GUID.
	ErrKeyNotFound = errors.New("encryption key not found")
	// ErrDecryptionFailed means the key or the ciphertext layout is unusable.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrDuplicatePath means two entries resolve to the same path (case-insensitive).
	ErrDuplicatePath = errors.New("duplicate entry path")
	// ErrAlreadyFinalized means the builder was already finalized.
	ErrAlreadyFinalized = errors.New("builder already finalized")
	// ErrEntryNotFound means the entry is not found.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEntryDeleted means the entry is a delete record and has no content.
	ErrEntryDeleted = errors.New("entry is a delete record")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrClosed means the reader or resource is already closed.
	ErrClosed = errors.New("reader or resource already closed")
	// ErrEmptyInputs means no inputs provided for pack.
	ErrEmptyInputs = errors.New("no inputs provided for pack")
	// ErrInvalidEntryPath means an entry path is empty or invalid after normalization.
	ErrInvalidEntryPath = errors.New("invalid entry path")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrUnsupportedCompression means the compression method cannot be stored by the target version.
	ErrUnsupportedCompression = errors.New("unsupported compression method")
	// ErrCompressionProviderMissing means no codec is registered for a compression method name.
	ErrCompressionProviderMissing = errors.New("compression provider missing")
	// ErrUnsupportedFeature means the target version does not define the requested feature.
	ErrUnsupportedFeature = errors.New("feature not supported by pak version")
	// ErrInvalidCompressPattern means one or more path rules are invalid.
	ErrInvalidCompressPattern = errors.New("invalid path rules")
	// ErrSizeOverflow means a size does not fit the field that stores it.
	ErrSizeOverflow = errors.New("size overflow")
)

// EntryError reports a failure bound to one archive entry.
// Bulk operations return it so callers can skip damaged entries and continue.
type EntryError struct {
	Err  error
	Path string
}

// Error implements error.
func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *EntryError) Unwrap() error {
	return e.Err
}
