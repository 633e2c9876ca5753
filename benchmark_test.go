// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"testing"
)

const (
	benchDefaultEntries    = 128
	benchLargeIndexEntries = 52536
)

var (
	// benchListSink prevents compiler elimination in list benchmark loops.
	benchListSink int
)

func BenchmarkOpenParse(b *testing.B) {
	pakPath := createBenchPak(b, benchDefaultEntries, BuilderOptions{})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := Open(pakPath)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := r.Entries(ListOptions{}); err != nil {
			b.Fatal(err)
		}
		_ = r.Close()
	}
}

func BenchmarkOpenParseLargeIndex(b *testing.B) {
	for _, v := range []Version{VersionFrozenIndex, VersionFnv64BugFix} {
		b.Run(v.String(), func(b *testing.B) {
			pakPath := createBenchLargeIndexPak(b, benchLargeIndexEntries, v)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				r, err := Open(pakPath)
				if err != nil {
					b.Fatal(err)
				}

				entries, err := r.Entries(ListOptions{})
				if err != nil {
					b.Fatal(err)
				}
				if len(entries) == 0 {
					b.Fatal("empty entries")
				}

				_ = r.Close()
			}
		})
	}
}

func BenchmarkLookupLargeIndex(b *testing.B) {
	pakPath := createBenchLargeIndexPak(b, benchLargeIndexEntries, VersionFnv64BugFix)
	r, err := Open(pakPath)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e, err := r.Lookup(benchmarkLargePath(i % benchLargeIndexEntries))
		if err != nil {
			b.Fatal(err)
		}

		benchListSink = int(e.UncompressedSize)
	}
}

func BenchmarkListLargeIndex(b *testing.B) {
	pakPath := createBenchLargeIndexPak(b, benchLargeIndexEntries, VersionFnv64BugFix)
	r, err := Open(pakPath)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	entries, err := r.Entries(ListOptions{})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		total := 0
		for _, e := range entries {
			total += len(e.Path)
			total += int(e.Size)
			total += int(e.UncompressedSize)
		}

		benchListSink = total
	}
}

func BenchmarkExtract(b *testing.B) {
	benchmarkExtractWithSanitize(b, false)
}

func BenchmarkExtractSanitize(b *testing.B) {
	benchmarkExtractWithSanitize(b, true)
}

// benchmarkExtractWithSanitize benchmarks full extract flow with optional path sanitization.
func benchmarkExtractWithSanitize(b *testing.B, sanitizeNames bool) {
	pakPath := createBenchPak(b, benchDefaultEntries, BuilderOptions{})
	dir := b.TempDir()
	opts := ExtractOptions{
		MaxWorkers: 4,
		RawNames:   !sanitizeNames,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := Open(pakPath)
		if err != nil {
			b.Fatal(err)
		}
		out := filepath.Join(dir, "ext", fmt.Sprintf("run%d", i))
		err = r.Extract(context.Background(), out, opts)
		_ = r.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadEntryCompressed(b *testing.B) {
	for _, method := range []string{CompressionZlib, CompressionZstd, CompressionLZ4} {
		b.Run(method, func(b *testing.B) {
			data := compressibleData(4 * MaxChunkDataSize)
			archive := buildTestArchive(b, BuilderOptions{}, []testFile{
				{path: "Content/a.uasset", data: data, opts: EntryOptions{Compression: method}},
			})
			r := openTestArchive(b, archive, ReaderOptions{})

			b.SetBytes(int64(len(data)))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := r.ReadEntry("Content/a.uasset"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkReadEntryEncrypted(b *testing.B) {
	data := patternData(MaxChunkDataSize)
	archive := buildTestArchive(b, BuilderOptions{Key: testKey}, []testFile{
		{path: "Content/a.uasset", data: data, opts: EntryOptions{Encrypt: true}},
	})
	r := openTestArchive(b, archive, ReaderOptions{Keys: testKeyRing(b, testKey)})

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.ReadEntry("Content/a.uasset"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPackNoCompress(b *testing.B) {
	benchmarkPack(b, bytes.Repeat([]byte("hello world"), 8), 20, PackOptions{})
}

func BenchmarkPackWithCompress(b *testing.B) {
	benchmarkPack(b, bytes.Repeat([]byte("x"), 2000), 10, PackOptions{Compress: includeRules("*")})
}

func BenchmarkPackWithCompressNoMatch(b *testing.B) {
	benchmarkPack(b, bytes.Repeat([]byte("x"), 2000), 10, PackOptions{Compress: includeRules("*.uasset")})
}

func BenchmarkPackEncrypted(b *testing.B) {
	benchmarkPack(b, bytes.Repeat([]byte("x"), 2000), 10, PackOptions{
		Compress:   includeRules("*"),
		EncryptAll: true,
		Builder:    BuilderOptions{Key: testKey, EncryptIndex: true},
	})
}

// benchmarkPack packs n copies of data under distinct paths.
func benchmarkPack(b *testing.B, data []byte, n int, opts PackOptions) {
	inputs := make([]Input, n)
	for i := range inputs {
		inputs[i] = Input{
			Path:     path.Join("Content", "data", fmt.Sprintf("f%d.dat", i)),
			Open:     benchOpenBytes(data),
			SizeHint: int64(len(data)),
		}
	}
	dir := b.TempDir()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(dir, fmt.Sprintf("out%d.pak", i))
		f, err := os.Create(out)
		if err != nil {
			b.Fatal(err)
		}
		_, err = Pack(context.Background(), f, inputs, opts)
		_ = f.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEditAdd(b *testing.B) {
	addPayload := bytes.Repeat([]byte("add"), 2048)
	benchmarkEdit(b, EditOptions{
		PackOptions: PackOptions{
			Compress:        includeRules("*.txt"),
			MinCompressSize: 1,
		},
	}, func(e *Editor) error {
		return e.Add(Input{
			Path:     "bench/new_added.txt",
			Open:     benchOpenBytes(addPayload),
			SizeHint: int64(len(addPayload)),
		})
	})
}

func BenchmarkEditReplace(b *testing.B) {
	replacePayload := bytes.Repeat([]byte("replace"), 2048)
	benchmarkEdit(b, EditOptions{
		PackOptions: PackOptions{
			Compress:        includeRules("*.txt"),
			MinCompressSize: 1,
		},
	}, func(e *Editor) error {
		return e.Replace(Input{
			Path:     "e/f0.txt",
			Open:     benchOpenBytes(replacePayload),
			SizeHint: int64(len(replacePayload)),
		})
	})
}

func BenchmarkEditDelete(b *testing.B) {
	benchmarkEdit(b, EditOptions{WriteDeleteRecords: true}, func(e *Editor) error {
		return e.Delete("e/f0.txt", "e/f1.txt", "e/f2.txt")
	})
}

// benchmarkEdit commits the staged operations against a fresh copy of the fixture on each run.
func benchmarkEdit(b *testing.B, opts EditOptions, stage func(e *Editor) error) {
	template := createBenchPak(b, benchDefaultEntries, BuilderOptions{})
	dir := b.TempDir()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(dir, fmt.Sprintf("edit-%d.pak", i))
		if err := copyBenchFile(template, out); err != nil {
			b.Fatal(err)
		}

		editor, err := OpenEditor(out, opts)
		if err != nil {
			b.Fatal(err)
		}
		if err := stage(editor); err != nil {
			b.Fatal(err)
		}
		if _, err := editor.Commit(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

// createBenchPak builds a deterministic benchmark archive with fixed-size text entries.
func createBenchPak(b *testing.B, numEntries int, builder BuilderOptions) string {
	b.Helper()

	out := filepath.Join(b.TempDir(), "bench.pak")
	inputs := make([]Input, numEntries)
	open := benchOpenBytes([]byte("content"))

	for i := range inputs {
		inputs[i] = Input{
			Path: path.Join("e", fmt.Sprintf("f%d.txt", i)),
			Open: open,
		}
	}

	if _, err := PackFile(context.Background(), out, inputs, PackOptions{Builder: builder}); err != nil {
		b.Fatal(err)
	}

	return out
}

// createBenchLargeIndexPak builds a large index fixture with mixed extensions.
func createBenchLargeIndexPak(b *testing.B, numEntries int, v Version) string {
	b.Helper()

	out := filepath.Join(b.TempDir(), "bench-large.pak")
	inputs := make([]Input, numEntries)
	open := benchOpenBytes(bytes.Repeat([]byte("x"), 96))

	for i := range inputs {
		inputs[i] = Input{
			Path:     benchmarkLargePath(i),
			Open:     open,
			SizeHint: 96,
		}
	}

	opts := PackOptions{Builder: BuilderOptions{Version: v}}
	if _, err := PackFile(context.Background(), out, inputs, opts); err != nil {
		b.Fatal(err)
	}

	return out
}

// benchmarkLargePath returns deterministic long-ish paths for index-heavy benchmarks.
func benchmarkLargePath(i int) string {
	exts := [...]string{"uasset", "uexp", "ubulk", "umap", "ini", "json", "bin", "locres", "ushaderbytecode", "wem", "txt"}
	ext := exts[i%len(exts)]

	return path.Join(
		fmt.Sprintf("grp_%03d", i%173),
		fmt.Sprintf("pack_%03d", (i/173)%211),
		fmt.Sprintf("layer_%03d", (i/370)%257),
		fmt.Sprintf("entry_%05d_%08x.%s", i, uint32(i)*2654435761, ext),
	)
}

// benchOpenBytes returns a reusable opener that creates a fresh reader for each call.
func benchOpenBytes(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// copyBenchFile copies fixture file to destination path.
func copyBenchFile(src string, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0o600)
}
