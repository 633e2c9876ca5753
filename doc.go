// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

/*
Package pak reads, writes, extracts, and edits Unreal pak archives across
format versions 1 through 11, including the 4.22 layout of version 8.

An archive is a data region of entry records followed by a directory index
and a fixed-layout footer. Versions 1..9 use a flat index of full entry
records. Versions 10 and 11 use a hashed index: a primary region with compact
entries, a path-hash table, and a full directory tree. Index regions and
entry payloads may be AES-256 encrypted; every region and entry carries a
SHA-1 digest that is checked on read.

All format differences are derived from Version.Features, so callers can
ask what a version supports without comparing numbers.

# Reading

	keys, err := pak.SingleKey(key)
	if err != nil {
	    return err
	}
	r, err := pak.OpenWithOptions("game.pak", pak.ReaderOptions{Keys: keys})
	if err != nil {
	    return err
	}
	defer r.Close()

	entries, err := r.Entries(pak.ListOptions{SkipDeleted: true})
	if err != nil {
	    return err
	}
	for _, e := range entries {
	    data, err := r.ReadEntry(e.Path)
	    if err != nil {
	        return err
	    }
	    _ = data
	}

Footer-only and metadata-only helpers avoid payload reads:

	info, err := pak.ReadInfo("game.pak")
	entries, err := pak.ListEntries("game.pak")

Compression methods resolve through a CompressionRegistry. Zlib, Gzip, Zstd,
LZ4, and LZSS are bundled. Oodle entries need a caller-registered codec and
otherwise fail with ErrCompressionProviderMissing.

# Extracting

	err := r.Extract(ctx, "out/", pak.ExtractOptions{
	    MaxWorkers:      4,
	    ContinueOnError: true,
	})

Names are sanitized for the local filesystem unless RawNames is set.
With ContinueOnError every failed entry is reported as *EntryError.

# Building

Builder is the low-level writer. The version is fixed at construction:

	b, err := pak.NewBuilder(out, pak.BuilderOptions{
	    Version:    pak.VersionFnv64BugFix,
	    MountPoint: "../../../MyGame/",
	    Key:        key,
	})
	if err != nil {
	    return err
	}
	if _, err := b.AddEntry("Content/a.uasset", data, pak.EntryOptions{
	    Compression: pak.CompressionZlib,
	    Encrypt:     true,
	}); err != nil {
	    return err
	}
	info, err := b.Finalize()

Pack drives a Builder from stream inputs with pathrules-based selection of
entries to compress and encrypt:

	res, err := pak.PackFile(ctx, "game.pak", inputs, pak.PackOptions{
	    Compression: pak.CompressionZstd,
	    Compress: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "*.uasset"},
	    },
	    Builder: pak.BuilderOptions{Version: pak.VersionFNameCompression},
	})

# Editing

Editor stages add, replace, and delete operations and rewrites the archive
in one commit. Unchanged entries are copied without recompression and the
previous file is kept as a backup until the commit succeeds.

	ed, err := pak.OpenEditor("game.pak", pak.EditOptions{BackupKeep: 1})
	if err != nil {
	    return err
	}
	if err := ed.Delete("Content/old.uasset"); err != nil {
	    return err
	}
	_, err = ed.Commit(ctx)
*/
package pak
