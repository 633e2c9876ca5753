// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"hash/fnv"
	"testing"
)

func TestPathHash64Vectors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		path    string
		seed    uint64
		version Version
		want    uint64
	}{
		{path: "", version: VersionPathHashIndex, want: 0x100000001b3},
		{path: "a", version: VersionPathHashIndex, want: 0x61c4bcf88623f95a},
		{path: "Content/Maps/Level.umap", version: VersionPathHashIndex, want: 0x5b3d6472a7596dc4},
		{path: "", version: VersionFnv64BugFix, want: 0xcbf29ce484222325},
		{path: "a", version: VersionFnv64BugFix, want: 0xaf63dc4c8601ec8c},
		{path: "Content/Maps/Level.umap", version: VersionFnv64BugFix, want: 0x776f162a2c8291fe},
		{path: "a", seed: 0x1234, version: VersionFnv64BugFix, want: 0xaf75d04c86206e28},
		{path: "Content/Maps/Level.umap", seed: 0x1234, version: VersionFnv64BugFix, want: 0x328913b370509a12},
	}

	for _, tc := range testCases {
		if got := PathHash64(tc.path, tc.seed, tc.version); got != tc.want {
			t.Fatalf("PathHash64(%q, %#x, %s)=%#x, want %#x", tc.path, tc.seed, tc.version, got, tc.want)
		}
	}
}

func TestPathHash64FixedMatchesFNV1a(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"x", "content/textures/t_rock_d.uasset", "engine/config/base.ini"} {
		h := fnv.New64a()
		_, _ = h.Write([]byte(p))
		if got, want := PathHash64(p, 0, VersionFnv64BugFix), h.Sum64(); got != want {
			t.Fatalf("PathHash64(%q)=%#x, want fnv64a %#x", p, got, want)
		}
	}
}

func TestPathHash64CaseInsensitive(t *testing.T) {
	t.Parallel()

	for _, v := range []Version{VersionPathHashIndex, VersionFnv64BugFix} {
		lower := PathHash64("content/a.uasset", 7, v)
		upper := PathHash64("Content/A.UASSET", 7, v)
		if lower != upper {
			t.Fatalf("%s: hash differs by case: %#x vs %#x", v, lower, upper)
		}
	}

	if PathHash64("a", 0, VersionPathHashIndex) == PathHash64("a", 0, VersionFnv64BugFix) {
		t.Fatal("legacy and fixed hash must differ")
	}
}

func TestPathHashSeedFromName(t *testing.T) {
	t.Parallel()

	want := uint64(0x6fc39d7f)
	for _, name := range []string{
		"pakchunk0-windows.pak",
		"PakChunk0-Windows.pak",
		"/game/Content/Paks/pakchunk0-windows.pak",
		`C:\game\Content\Paks\pakchunk0-windows.pak`,
	} {
		if got := PathHashSeedFromName(name); got != want {
			t.Fatalf("PathHashSeedFromName(%q)=%#x, want %#x", name, got, want)
		}
	}
}

func TestDigestWriterMatchesContentDigest(t *testing.T) {
	t.Parallel()

	data := []byte("streamed content digest")
	w := NewDigestWriter()
	_, _ = w.Write(data[:7])
	_, _ = w.Write(data[7:])

	if got, want := w.Sum(), ContentDigest(data); got != want {
		t.Fatalf("DigestWriter=%s, want %s", got, want)
	}
	if (Digest{}).String() != "0000000000000000000000000000000000000000" {
		t.Fatalf("zero digest string=%q", Digest{}.String())
	}
	if !(Digest{}).IsZero() || ContentDigest(nil).IsZero() {
		t.Fatal("IsZero mismatch")
	}
}
