// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import "strings"

// filterEntries applies list options in a fixed order: deleted, size, ASCII, prefix, sanitize.
func filterEntries(entries []EntryInfo, opts ListOptions) []EntryInfo {
	if opts.SkipDeleted {
		entries = filterEntriesByDeleted(entries)
	}

	entries = filterEntriesBySize(entries, opts.MinSize)
	if opts.ASCIIOnly {
		entries = filterEntriesByASCIIOnly(entries)
	}

	if opts.SanitizeNames {
		entries = filterEntriesBySanitizedPrefix(entries, opts.PathPrefix)
		if sanitized, err := sanitizeEntryInfoPaths(entries); err == nil {
			entries = sanitized
		}

		return entries
	}

	return filterEntriesByPrefix(entries, opts.PathPrefix)
}

// filterEntriesByDeleted drops delete records.
func filterEntriesByDeleted(entries []EntryInfo) []EntryInfo {
	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.Deleted() {
			continue
		}

		out = append(out, entry)
	}

	return out
}

// filterEntriesBySize keeps entries whose uncompressed size is at least minSize.
func filterEntriesBySize(entries []EntryInfo, minSize int64) []EntryInfo {
	if minSize <= 0 {
		return entries
	}

	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.UncompressedSize < minSize {
			continue
		}

		out = append(out, entry)
	}

	return out
}

// filterEntriesByASCIIOnly keeps entries whose path contains only ASCII bytes.
func filterEntriesByASCIIOnly(entries []EntryInfo) []EntryInfo {
	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		if !isASCII(entry.Path) {
			continue
		}

		out = append(out, entry)
	}

	return out
}

// filterEntriesByPrefix keeps entries under prefix (or exact match if it points to a file).
// Comparison is case-insensitive like archive lookups.
func filterEntriesByPrefix(entries []EntryInfo, prefix string) []EntryInfo {
	prefix = strings.ToLower(NormalizePath(prefix))
	if prefix == "" {
		return entries
	}

	withSlash := prefix + "/"
	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		entryPath := strings.ToLower(NormalizePath(entry.Path))
		if entryPath == prefix || strings.HasPrefix(entryPath, withSlash) {
			out = append(out, entry)
		}
	}

	return out
}

// filterEntriesBySanitizedPrefix keeps entries under prefix in sanitized path namespace.
func filterEntriesBySanitizedPrefix(entries []EntryInfo, prefix string) []EntryInfo {
	if NormalizePath(prefix) == "" {
		return entries
	}

	sanitizedPrefix, err := SanitizePath(prefix)
	if err != nil || sanitizedPrefix == "" {
		return nil
	}

	sanitizedPrefix = strings.ToLower(sanitizedPrefix)
	withSlash := sanitizedPrefix + "/"
	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		sanitized, err := SanitizePath(entry.Path)
		if err != nil || sanitized == "" {
			continue
		}

		sanitized = strings.ToLower(sanitized)
		if sanitized == sanitizedPrefix || strings.HasPrefix(sanitized, withSlash) {
			out = append(out, entry)
		}
	}

	return out
}
