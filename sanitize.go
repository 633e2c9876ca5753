// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"fmt"
	"hash/crc32"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// maxSanitizedSegmentLen limits one path segment to common filesystem-safe length.
const maxSanitizedSegmentLen = 240

// unsafeSegmentRunes are replaced with "_" in sanitized names.
const unsafeSegmentRunes = `<>:"/\|?*`

// SanitizePath rewrites one archive path to deterministic filesystem-safe slash-separated form.
func SanitizePath(p string) (string, error) {
	normalized := NormalizePath(p)
	if normalized == "" {
		return "", nil
	}

	sanitized, err := sanitizeRelativePath(normalized)
	if err != nil {
		return "", err
	}

	if _, err := normalizeExtractEntryPath(sanitized); err != nil {
		return "", err
	}

	return sanitized, nil
}

// sanitizeEntryInfoPaths rewrites entry paths to filesystem-safe names, keeping them unique.
func sanitizeEntryInfoPaths(entries []EntryInfo) ([]EntryInfo, error) {
	out := make([]EntryInfo, len(entries))
	used := make(map[string]struct{}, len(entries))

	for i := range entries {
		rel := strings.ReplaceAll(entries[i].Path, `\`, `/`)
		if normalized, err := normalizeExtractEntryPath(rel); err == nil {
			rel = normalized
		}

		sanitized, err := sanitizeRelativePath(rel)
		if err != nil {
			return nil, fmt.Errorf("sanitize path %s: %w", entries[i].Path, err)
		}

		if sanitized, err = uniqueSanitizedPath(sanitized, used); err != nil {
			return nil, fmt.Errorf("sanitize path %s: %w", entries[i].Path, err)
		}

		out[i] = entries[i]
		out[i].Path = sanitized
	}

	return out, nil
}

// sanitizeRelativePath sanitizes every segment; "." and ".." collapse to "_".
func sanitizeRelativePath(rel string) (string, error) {
	parts := strings.Split(rel, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." {
			continue
		}

		segment, err := sanitizePathSegment(part)
		if err != nil {
			return "", err
		}

		out = append(out, segment)
	}

	if len(out) == 0 {
		return "_", nil
	}

	return strings.Join(out, "/"), nil
}

// sanitizePathSegment rewrites one segment for Windows and POSIX filesystems.
func sanitizePathSegment(segment string) (string, error) {
	segment = strings.TrimSpace(segment)
	if segment == "" || segment == ".." {
		return "_", nil
	}

	reserved := isReservedDeviceName(segment)

	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		if unicode.IsControl(r) || unicode.In(r, unicode.Cf) || r == unicode.ReplacementChar ||
			strings.ContainsRune(unsafeSegmentRunes, r) {
			b.WriteByte('_')
			continue
		}

		b.WriteRune(r)
	}

	sanitized := strings.TrimRight(b.String(), ". ")
	if sanitized == "" {
		sanitized = "_"
	}
	if reserved || isReservedDeviceName(sanitized) {
		sanitized = "_" + sanitized
	}

	if len(sanitized) > maxSanitizedSegmentLen {
		sanitized = shortenSegment(sanitized, maxSanitizedSegmentLen)
	}

	return sanitized, nil
}

// isReservedDeviceName reports whether the stem of name is a Windows device name.
func isReservedDeviceName(name string) bool {
	stem := strings.ToLower(strings.TrimRight(strings.TrimSpace(name), ". :"))
	if dot := strings.IndexByte(stem, '.'); dot >= 0 {
		stem = stem[:dot]
	}

	switch stem {
	case "con", "prn", "aux", "nul", "clock$", "conin$", "conout$":
		return true
	}

	if len(stem) == 4 && (strings.HasPrefix(stem, "com") || strings.HasPrefix(stem, "lpt")) {
		return stem[3] >= '0' && stem[3] <= '9'
	}

	return false
}

// uniqueSanitizedPath resolves case-insensitive collisions by adding "~N" before the extension.
func uniqueSanitizedPath(p string, used map[string]struct{}) (string, error) {
	key := strings.ToLower(p)
	if _, exists := used[key]; !exists {
		used[key] = struct{}{}
		return p, nil
	}

	dir, name := path.Split(p)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; n < 1_000_000; n++ {
		suffix := "~" + strconv.Itoa(n)
		base := stem
		if limit := max(maxSanitizedSegmentLen-len(ext)-len(suffix), 1); len(base) > limit {
			base = shortenSegment(base, limit)
		}

		candidate := dir + base + suffix + ext
		candidateKey := strings.ToLower(candidate)
		if _, exists := used[candidateKey]; exists {
			continue
		}

		used[candidateKey] = struct{}{}
		return candidate, nil
	}

	return "", ErrInvalidExtractPath
}

// shortenSegment cuts value to maxLen keeping a checksum of the full value as suffix.
func shortenSegment(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	if maxLen <= 10 {
		return value[:maxLen]
	}

	suffix := fmt.Sprintf("~%08x", crc32.ChecksumIEEE([]byte(value)))
	return value[:maxLen-len(suffix)] + suffix
}
