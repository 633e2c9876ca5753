// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"fmt"
	"path"
	"strings"
)

// DefaultMountPoint is the mount point written when none is configured.
const DefaultMountPoint = "../../../"

// rootDirectory is the directory key of files stored at the mount point root.
const rootDirectory = "/"

// NormalizePath converts an archive/internal path to normalized slash-separated form.
// It trims spaces, accepts both "/" and "\", removes leading "./" and "/", and cleans "." segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// NormalizeMountPoint converts separators to "/" and guarantees a trailing "/".
// Relative prefixes such as "../../../" are kept as written.
func NormalizeMountPoint(raw string) string {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), `\`, `/`)
	if raw == "" {
		return DefaultMountPoint
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}

	return raw
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.TrimPrefix(path, "./")
	return path
}

// normalizeArchiveEntryPath converts input path to canonical archive form (mount-relative, "/" separators).
func normalizeArchiveEntryPath(raw string) (string, error) {
	normalizedPath := NormalizePath(raw)
	if normalizedPath == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryPath, raw)
	}

	return normalizedPath, nil
}

// pathKey returns case-insensitive identity of an archive path.
func pathKey(p string) string {
	return strings.ToLower(NormalizePath(p))
}

// splitEntryPath splits a mount-relative path into directory key and file name.
// Directory keys end in "/"; files at the root get rootDirectory.
func splitEntryPath(p string) (dir, name string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return rootDirectory, p
	}

	return p[:i+1], p[i+1:]
}

// joinEntryPath is the inverse of splitEntryPath.
func joinEntryPath(dir, name string) string {
	if dir == rootDirectory || dir == "" {
		return name
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	return dir + name
}

// parentDirectories returns every ancestor directory key of dir, root included, nearest first.
func parentDirectories(dir string) []string {
	if dir == rootDirectory {
		return nil
	}

	out := make([]string, 0, strings.Count(dir, "/"))
	trimmed := strings.TrimSuffix(dir, "/")
	for {
		i := strings.LastIndexByte(trimmed, '/')
		if i < 0 {
			out = append(out, rootDirectory)
			return out
		}

		trimmed = trimmed[:i]
		out = append(out, trimmed+"/")
	}
}
