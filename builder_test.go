// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"bytes"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

var testKey = bytes.Repeat([]byte{0x5C}, aesKeySize)

// testFile is one entry added by buildTestArchive.
type testFile struct {
	path string
	data []byte
	opts EntryOptions
}

// compressibleData returns n bytes of repetitive text.
func compressibleData(n int) []byte {
	return bytes.Repeat([]byte("pak archive block "), n/18+1)[:n]
}

// patternData returns n bytes of a short non-text pattern.
func patternData(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i * 31 % 251)
	}

	return out
}

// buildTestArchive builds an in-memory archive from files.
func buildTestArchive(t testing.TB, opts BuilderOptions, files []testFile) []byte {
	t.Helper()

	var buf bytes.Buffer
	b, err := NewBuilder(&buf, opts)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	for _, f := range files {
		if _, err := b.AddEntry(f.path, f.data, f.opts); err != nil {
			t.Fatalf("AddEntry(%s): %v", f.path, err)
		}
	}

	if _, err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	return buf.Bytes()
}

// testKeyRing returns a key ring holding key under the default GUID.
func testKeyRing(t testing.TB, key []byte) *KeyRing {
	t.Helper()

	ring, err := SingleKey(key)
	if err != nil {
		t.Fatalf("SingleKey: %v", err)
	}

	return ring
}

// openTestArchive parses an in-memory archive.
func openTestArchive(t testing.TB, data []byte, opts ReaderOptions) *Reader {
	t.Helper()

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	return r
}

// versionTestFiles returns a file set using every feature v can store.
func versionTestFiles(v Version) []testFile {
	f := v.Features()
	files := []testFile{
		{path: "Content/raw.bin", data: patternData(3000)},
		{path: "empty.txt", data: nil},
		{path: "Content/Тест.uasset", data: []byte("unicode path")},
	}

	if f.Timestamps {
		files[0].opts.ModTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	}

	if f.CompressionBlocks {
		files = append(files,
			testFile{path: "Content/Maps/Level.umap", data: compressibleData(10000), opts: EntryOptions{Compression: CompressionZlib, BlockSize: 4096}},
			testFile{path: "Config/Game.ini", data: compressibleData(500), opts: EntryOptions{Compression: CompressionGzip}},
			testFile{path: "Secret/key.dat", data: patternData(100), opts: EntryOptions{Encrypt: true}},
			testFile{path: "Secret/packed.bin", data: compressibleData(9000), opts: EntryOptions{Compression: CompressionZlib, BlockSize: 2048, Encrypt: true}},
		)
	}

	if f.NamedCompression {
		files = append(files,
			testFile{path: "Content/zstd.bin", data: compressibleData(5000), opts: EntryOptions{Compression: CompressionZstd}},
			testFile{path: "Content/lz4.bin", data: compressibleData(5000), opts: EntryOptions{Compression: CompressionLZ4}},
		)
	}

	return files
}

func TestBuilderRoundTripAllVersions(t *testing.T) {
	t.Parallel()

	for _, v := range Versions() {
		t.Run(v.String(), func(t *testing.T) {
			t.Parallel()

			opts := BuilderOptions{Version: v, MountPoint: "../../../Game/"}
			if v.Features().Encryption {
				opts.Key = testKey
			}

			files := versionTestFiles(v)
			data := buildTestArchive(t, opts, files)
			r := openTestArchive(t, data, ReaderOptions{Keys: testKeyRing(t, testKey)})

			if r.Version() != v {
				t.Fatalf("Version=%s, want %s", r.Version(), v)
			}
			if r.MountPoint() != "../../../Game/" {
				t.Fatalf("MountPoint=%q", r.MountPoint())
			}
			if r.Index().Len() != len(files) {
				t.Fatalf("Len=%d, want %d", r.Index().Len(), len(files))
			}

			wantKind := IndexKindFlat
			if v.Features().PathHashIndex {
				wantKind = IndexKindHashed
			}
			if r.Index().Kind() != wantKind {
				t.Fatalf("Kind=%s, want %s", r.Index().Kind(), wantKind)
			}

			for _, f := range files {
				got, err := r.ReadEntry(f.path)
				if err != nil {
					t.Fatalf("ReadEntry(%s): %v", f.path, err)
				}
				if !bytes.Equal(got, f.data) {
					t.Fatalf("ReadEntry(%s) len=%d, want %d", f.path, len(got), len(f.data))
				}

				entry, err := r.Lookup(f.path)
				if err != nil {
					t.Fatalf("Lookup(%s): %v", f.path, err)
				}
				if f.opts.Compression != "" && !entry.IsCompressed() {
					t.Fatalf("%s stored raw, want %s", f.path, f.opts.Compression)
				}
				if entry.Encrypted() != f.opts.Encrypt {
					t.Fatalf("%s Encrypted=%v, want %v", f.path, entry.Encrypted(), f.opts.Encrypt)
				}
				if !f.opts.ModTime.IsZero() && !entry.ModTime().Equal(f.opts.ModTime) {
					t.Fatalf("%s ModTime=%v, want %v", f.path, entry.ModTime(), f.opts.ModTime)
				}
				if want := ContentDigest(f.data); entry.Hash != want {
					t.Fatalf("%s Hash=%s, want %s", f.path, entry.Hash, want)
				}
			}

			entries, err := r.Entries(ListOptions{})
			if err != nil {
				t.Fatalf("Entries: %v", err)
			}
			for _, e := range entries {
				if e.Hash.IsZero() {
					t.Fatalf("Entries %s has zero Hash", e.Path)
				}
			}

			if _, err := r.Lookup("CONTENT/RAW.BIN"); err != nil {
				t.Fatalf("case-insensitive Lookup: %v", err)
			}

			failed, err := r.VerifyEntries(t.Context())
			if err != nil || len(failed) != 0 {
				t.Fatalf("VerifyEntries=%v, %v", failed, err)
			}
		})
	}
}

func TestBuilderEntryMethodNames(t *testing.T) {
	t.Parallel()

	data := buildTestArchive(t, BuilderOptions{Version: VersionFNameCompression}, []testFile{
		{path: "a.bin", data: compressibleData(4000), opts: EntryOptions{Compression: CompressionZstd}},
		{path: "b.bin", data: compressibleData(4000), opts: EntryOptions{Compression: "zlib"}},
		{path: "c.bin", data: compressibleData(4000), opts: EntryOptions{Compression: CompressionZstd}},
	})
	r := openTestArchive(t, data, ReaderOptions{})

	if want := []string{CompressionZstd, "zlib"}; !slices.Equal(r.Info().CompressionMethods, want) {
		t.Fatalf("CompressionMethods=%v, want %v", r.Info().CompressionMethods, want)
	}

	entries, err := r.Entries(ListOptions{})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}

	wantMethods := []string{CompressionZstd, "zlib", CompressionZstd}
	for i, e := range entries {
		if e.Method != wantMethods[i] {
			t.Fatalf("entries[%d].Method=%q, want %q", i, e.Method, wantMethods[i])
		}
	}
}

func TestBuilderPredeclaredMethods(t *testing.T) {
	t.Parallel()

	data := buildTestArchive(t, BuilderOptions{
		Version:            VersionFnv64BugFix,
		CompressionMethods: []string{CompressionOodle, CompressionZlib},
	}, []testFile{{path: "a.bin", data: compressibleData(4000), opts: EntryOptions{Compression: CompressionZlib}}})

	r := openTestArchive(t, data, ReaderOptions{})
	if want := []string{CompressionOodle, CompressionZlib}; !slices.Equal(r.Info().CompressionMethods, want) {
		t.Fatalf("CompressionMethods=%v, want %v", r.Info().CompressionMethods, want)
	}

	entry, err := r.Lookup("a.bin")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.CompressionMethod != 2 {
		t.Fatalf("CompressionMethod=%d, want 2", entry.CompressionMethod)
	}
}

func TestBuilderIncompressibleStoredRaw(t *testing.T) {
	t.Parallel()

	data := buildTestArchive(t, BuilderOptions{}, []testFile{
		{path: "tiny.bin", data: []byte("xyz"), opts: EntryOptions{Compression: CompressionZlib}},
	})
	r := openTestArchive(t, data, ReaderOptions{})

	entry, err := r.Lookup("tiny.bin")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.IsCompressed() {
		t.Fatal("tiny entry must fall back to raw storage")
	}
	if len(r.Info().CompressionMethods) != 1 {
		t.Fatalf("CompressionMethods=%v, want requested method registered", r.Info().CompressionMethods)
	}
}

func TestBuilderHashedIndexStructure(t *testing.T) {
	t.Parallel()

	seed := PathHashSeedFromName("pakchunk1-windows.pak")
	data := buildTestArchive(t, BuilderOptions{Version: VersionFnv64BugFix, PathHashSeed: seed}, []testFile{
		{path: "Content/Maps/c.umap", data: []byte("c")},
		{path: "Content/b.txt", data: []byte("b")},
		{path: "a.txt", data: []byte("a")},
	})
	r := openTestArchive(t, data, ReaderOptions{})

	idx, ok := r.Index().(*HashedIndex)
	if !ok {
		t.Fatalf("index type %T, want *HashedIndex", r.Index())
	}
	if idx.Seed() != seed {
		t.Fatalf("Seed=%#x, want %#x", idx.Seed(), seed)
	}
	if idx.NumEntries() != 3 {
		t.Fatalf("NumEntries=%d, want 3", idx.NumEntries())
	}

	if want := []string{"/", "Content/", "Content/Maps/"}; !slices.Equal(idx.Directories(), want) {
		t.Fatalf("Directories=%v, want %v", idx.Directories(), want)
	}
	if want := []string{"a.txt", "Content/b.txt", "Content/Maps/c.umap"}; !slices.Equal(r.Paths(), want) {
		t.Fatalf("Paths=%v, want %v", r.Paths(), want)
	}

	want := map[string]string{"a.txt": "a", "Content/b.txt": "b", "Content/Maps/c.umap": "c"}
	for p, content := range want {
		got, err := r.ReadEntry(p)
		if err != nil {
			t.Fatalf("ReadEntry(%s): %v", p, err)
		}
		if string(got) != content {
			t.Fatalf("ReadEntry(%s)=%q, want %q", p, got, content)
		}
	}
}

func TestBuilderDeleteRecords(t *testing.T) {
	t.Parallel()

	for _, v := range []Version{VersionDeleteRecords, VersionFnv64BugFix} {
		t.Run(v.String(), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			b, err := NewBuilder(&buf, BuilderOptions{Version: v})
			if err != nil {
				t.Fatalf("NewBuilder: %v", err)
			}
			if _, err := b.AddEntry("keep.txt", []byte("keep"), EntryOptions{}); err != nil {
				t.Fatalf("AddEntry: %v", err)
			}
			if _, err := b.AddDeleted("Content/gone.txt"); err != nil {
				t.Fatalf("AddDeleted: %v", err)
			}
			if _, err := b.Finalize(); err != nil {
				t.Fatalf("Finalize: %v", err)
			}

			r := openTestArchive(t, buf.Bytes(), ReaderOptions{})
			entry, err := r.Lookup("content/gone.txt")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if !entry.Deleted() {
				t.Fatal("expected delete record")
			}

			if _, err := r.ReadEntry("Content/gone.txt"); !errors.Is(err, ErrEntryDeleted) {
				t.Fatalf("ReadEntry err=%v, want ErrEntryDeleted", err)
			}

			all, err := r.Entries(ListOptions{})
			if err != nil || len(all) != 2 {
				t.Fatalf("Entries=%d, %v; want 2", len(all), err)
			}
			live, err := r.Entries(ListOptions{SkipDeleted: true})
			if err != nil || len(live) != 1 {
				t.Fatalf("Entries(SkipDeleted)=%d, %v; want 1", len(live), err)
			}
		})
	}
}

func TestBuilderAlignment(t *testing.T) {
	t.Parallel()

	data := buildTestArchive(t, BuilderOptions{Version: VersionFrozenIndex, Alignment: 2048}, []testFile{
		{path: "a.bin", data: patternData(100)},
		{path: "b.bin", data: compressibleData(7000), opts: EntryOptions{Compression: CompressionZlib}},
		{path: "c.bin", data: patternData(10)},
	})
	r := openTestArchive(t, data, ReaderOptions{})

	entries, err := r.Entries(ListOptions{})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	for _, e := range entries {
		if e.Offset%2048 != 0 {
			t.Fatalf("%s Offset=%d not aligned", e.Path, e.Offset)
		}
		if _, err := r.ReadEntryInfo(e); err != nil {
			t.Fatalf("ReadEntryInfo(%s): %v", e.Path, err)
		}
	}
}

func TestBuilderEncryptedIndex(t *testing.T) {
	t.Parallel()

	for _, v := range []Version{VersionIndexEncryption, VersionFrozenIndex, VersionFnv64BugFix} {
		t.Run(v.String(), func(t *testing.T) {
			t.Parallel()

			data := buildTestArchive(t, BuilderOptions{Version: v, Key: testKey, EncryptIndex: true}, []testFile{
				{path: "Content/a.txt", data: []byte("alpha")},
				{path: "Content/b.bin", data: compressibleData(3000), opts: EntryOptions{Compression: CompressionZlib, Encrypt: true}},
			})

			info, err := ParseInfo(bytes.NewReader(data), int64(len(data)))
			if err != nil {
				t.Fatalf("ParseInfo: %v", err)
			}
			if !info.EncryptedIndex {
				t.Fatal("EncryptedIndex=false")
			}
			if info.IndexSize%aesBlockSize != 0 {
				t.Fatalf("IndexSize=%d not padded", info.IndexSize)
			}

			if _, err := NewReader(bytes.NewReader(data), int64(len(data)), ReaderOptions{}); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("no key err=%v, want ErrKeyNotFound", err)
			}

			wrong := testKeyRing(t, bytes.Repeat([]byte{1}, aesKeySize))
			_, err = NewReader(bytes.NewReader(data), int64(len(data)), ReaderOptions{Keys: wrong})
			if !errors.Is(err, ErrDecryptionFailed) || !errors.Is(err, ErrIntegrityMismatch) {
				t.Fatalf("wrong key err=%v, want ErrDecryptionFailed and ErrIntegrityMismatch", err)
			}

			r := openTestArchive(t, data, ReaderOptions{Keys: testKeyRing(t, testKey)})
			got, err := r.ReadEntry("Content/b.bin")
			if err != nil {
				t.Fatalf("ReadEntry: %v", err)
			}
			if !bytes.Equal(got, compressibleData(3000)) {
				t.Fatal("ReadEntry content mismatch")
			}
		})
	}

	t.Run("matches plain index", func(t *testing.T) {
		t.Parallel()

		for _, v := range []Version{VersionIndexEncryption, VersionFrozenIndex, VersionFnv64BugFix} {
			files := []testFile{
				{path: "Content/a.txt", data: []byte("alpha")},
				{path: "Content/Maps/b.umap", data: compressibleData(3000), opts: EntryOptions{Compression: CompressionZlib}},
				{path: "Config/c.ini", data: patternData(700)},
			}
			base := BuilderOptions{Version: v, Key: testKey, MountPoint: "../../../Game/"}
			encrypted := base
			encrypted.EncryptIndex = true

			plain := openTestArchive(t, buildTestArchive(t, base, files), ReaderOptions{})
			hidden := openTestArchive(t, buildTestArchive(t, encrypted, files), ReaderOptions{Keys: testKeyRing(t, testKey)})

			if plain.Info().EncryptedIndex || !hidden.Info().EncryptedIndex {
				t.Fatalf("%s EncryptedIndex plain=%v encrypted=%v", v, plain.Info().EncryptedIndex, hidden.Info().EncryptedIndex)
			}
			if plain.MountPoint() != hidden.MountPoint() {
				t.Fatalf("%s MountPoint=%q, want %q", v, hidden.MountPoint(), plain.MountPoint())
			}
			if !slices.Equal(plain.Paths(), hidden.Paths()) {
				t.Fatalf("%s Paths=%v, want %v", v, hidden.Paths(), plain.Paths())
			}

			want, err := plain.Entries(ListOptions{})
			if err != nil {
				t.Fatalf("%s plain Entries: %v", v, err)
			}
			got, err := hidden.Entries(ListOptions{})
			if err != nil {
				t.Fatalf("%s encrypted Entries: %v", v, err)
			}
			if len(got) != len(want) {
				t.Fatalf("%s Entries=%d, want %d", v, len(got), len(want))
			}
			for i := range want {
				if !reflect.DeepEqual(got[i], want[i]) {
					t.Fatalf("%s entries[%d]:\n got %+v\nwant %+v", v, i, got[i], want[i])
				}
			}
		}
	})
}

func TestBuilderKeyGUID(t *testing.T) {
	t.Parallel()

	guid, err := ParseKeyGUID("0F1E2D3C-4B5A-6978-8796-A5B4C3D2E1F0")
	if err != nil {
		t.Fatalf("ParseKeyGUID: %v", err)
	}

	data := buildTestArchive(t, BuilderOptions{Version: VersionEncryptionKeyGUID, Key: testKey, KeyGUID: guid}, []testFile{
		{path: "secret.bin", data: patternData(64), opts: EntryOptions{Encrypt: true}},
	})

	r := openTestArchive(t, data, ReaderOptions{Keys: testKeyRing(t, testKey)})
	if r.Info().KeyGUID != guid {
		t.Fatalf("KeyGUID=%s, want %s", r.Info().KeyGUID, guid)
	}
	if _, err := r.ReadEntry("secret.bin"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("default key err=%v, want ErrKeyNotFound", err)
	}

	ring := NewKeyRing()
	if err := ring.Add(guid, testKey); err != nil {
		t.Fatalf("KeyRing.Add: %v", err)
	}

	r = openTestArchive(t, data, ReaderOptions{Keys: ring})
	got, err := r.ReadEntry("secret.bin")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, patternData(64)) {
		t.Fatal("ReadEntry content mismatch")
	}
}

func TestBuilderErrors(t *testing.T) {
	t.Parallel()

	optionCases := []struct {
		name string
		opts BuilderOptions
		want error
	}{
		{name: "unknown version", opts: BuilderOptions{Version: Version(50)}, want: ErrUnsupportedVersion},
		{name: "key before v3", opts: BuilderOptions{Version: VersionNoTimestamps, Key: testKey}, want: ErrUnsupportedFeature},
		{name: "short key", opts: BuilderOptions{Key: []byte("short")}, want: ErrDecryptionFailed},
		{name: "index encryption before v4", opts: BuilderOptions{Version: VersionCompressionEncryption, Key: testKey, EncryptIndex: true}, want: ErrUnsupportedFeature},
		{name: "index encryption without key", opts: BuilderOptions{EncryptIndex: true}, want: ErrKeyNotFound},
		{name: "guid before v7", opts: BuilderOptions{Version: VersionDeleteRecords, KeyGUID: KeyGUID{1}}, want: ErrUnsupportedFeature},
		{name: "seed before v10", opts: BuilderOptions{Version: VersionFrozenIndex, PathHashSeed: 1}, want: ErrUnsupportedFeature},
		{name: "named method before v8", opts: BuilderOptions{Version: VersionEncryptionKeyGUID, CompressionMethods: []string{CompressionZstd}}, want: ErrUnsupportedCompression},
		{name: "too many methods", opts: BuilderOptions{Version: VersionFNameCompression422, CompressionMethods: []string{"a", "b", "c", "d", "e"}}, want: ErrUnsupportedCompression},
	}

	for _, tc := range optionCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewBuilder(&bytes.Buffer{}, tc.opts); !errors.Is(err, tc.want) {
				t.Fatalf("NewBuilder err=%v, want %v", err, tc.want)
			}
		})
	}

	t.Run("entry errors", func(t *testing.T) {
		t.Parallel()

		b, err := NewBuilder(&bytes.Buffer{}, BuilderOptions{Version: VersionRelativeChunkOffsets})
		if err != nil {
			t.Fatalf("NewBuilder: %v", err)
		}

		if _, err := b.AddEntry("a.txt", []byte("a"), EntryOptions{}); err != nil {
			t.Fatalf("AddEntry: %v", err)
		}
		if _, err := b.AddEntry("A.TXT", []byte("a"), EntryOptions{}); !errors.Is(err, ErrDuplicatePath) {
			t.Fatalf("duplicate err=%v, want ErrDuplicatePath", err)
		}
		if _, err := b.AddEntry("/", []byte("a"), EntryOptions{}); !errors.Is(err, ErrInvalidEntryPath) {
			t.Fatalf("empty path err=%v, want ErrInvalidEntryPath", err)
		}
		if _, err := b.AddEntry("b.txt", []byte("b"), EntryOptions{Encrypt: true}); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("encrypt without key err=%v, want ErrKeyNotFound", err)
		}
		if _, err := b.AddEntry("c.txt", compressibleData(1000), EntryOptions{Compression: CompressionZstd}); !errors.Is(err, ErrUnsupportedCompression) {
			t.Fatalf("zstd in v5 err=%v, want ErrUnsupportedCompression", err)
		}
		if _, err := b.AddDeleted("d.txt"); !errors.Is(err, ErrUnsupportedFeature) {
			t.Fatalf("delete in v5 err=%v, want ErrUnsupportedFeature", err)
		}
		if b.Len() != 1 {
			t.Fatalf("Len=%d, want 1", b.Len())
		}

		if _, err := b.Finalize(); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		if _, err := b.Finalize(); !errors.Is(err, ErrAlreadyFinalized) {
			t.Fatalf("second Finalize err=%v, want ErrAlreadyFinalized", err)
		}
		if _, err := b.AddEntry("e.txt", nil, EntryOptions{}); !errors.Is(err, ErrAlreadyFinalized) {
			t.Fatalf("AddEntry after Finalize err=%v, want ErrAlreadyFinalized", err)
		}
	})

	t.Run("compression before v3", func(t *testing.T) {
		t.Parallel()

		b, err := NewBuilder(&bytes.Buffer{}, BuilderOptions{Version: VersionNoTimestamps})
		if err != nil {
			t.Fatalf("NewBuilder: %v", err)
		}
		if _, err := b.AddEntry("a.txt", compressibleData(1000), EntryOptions{Compression: CompressionZlib}); !errors.Is(err, ErrUnsupportedFeature) {
			t.Fatalf("err=%v, want ErrUnsupportedFeature", err)
		}
	})

	t.Run("slots exhausted", func(t *testing.T) {
		t.Parallel()

		b, err := NewBuilder(&bytes.Buffer{}, BuilderOptions{
			Version:            VersionFNameCompression422,
			CompressionMethods: []string{CompressionZlib, CompressionGzip, CompressionOodle, CompressionLZSS},
		})
		if err != nil {
			t.Fatalf("NewBuilder: %v", err)
		}
		if _, err := b.AddEntry("a.bin", compressibleData(1000), EntryOptions{Compression: CompressionZstd}); !errors.Is(err, ErrUnsupportedCompression) {
			t.Fatalf("err=%v, want ErrUnsupportedCompression", err)
		}
	})

	t.Run("write error releases writer", func(t *testing.T) {
		t.Parallel()

		errDisk := errors.New("disk full")
		b, err := NewBuilder(failingWriter{err: errDisk}, BuilderOptions{})
		if err != nil {
			t.Fatalf("NewBuilder: %v", err)
		}
		if _, err := b.AddEntry("a.bin", patternData(DefaultWriteBuffer+1), EntryOptions{}); !errors.Is(err, errDisk) {
			t.Fatalf("AddEntry err=%v, want %v", err, errDisk)
		}
		if _, err := b.AddEntry("b.bin", []byte("b"), EntryOptions{}); !errors.Is(err, errDisk) {
			t.Fatalf("sticky err=%v, want %v", err, errDisk)
		}

		if _, err := b.Finalize(); !errors.Is(err, errDisk) {
			t.Fatalf("Finalize err=%v, want %v", err, errDisk)
		}
		if b.release != nil {
			t.Fatal("writer not released after failed Finalize")
		}
		if _, err := b.Finalize(); !errors.Is(err, ErrAlreadyFinalized) {
			t.Fatalf("second Finalize err=%v, want ErrAlreadyFinalized", err)
		}
	})

	t.Run("abort", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		b, err := NewBuilder(&buf, BuilderOptions{})
		if err != nil {
			t.Fatalf("NewBuilder: %v", err)
		}
		if _, err := b.AddEntry("a.txt", []byte("a"), EntryOptions{}); err != nil {
			t.Fatalf("AddEntry: %v", err)
		}

		b.Abort()
		b.Abort()
		if b.release != nil {
			t.Fatal("writer not released after Abort")
		}
		if _, err := b.AddEntry("b.txt", []byte("b"), EntryOptions{}); !errors.Is(err, ErrAlreadyFinalized) {
			t.Fatalf("AddEntry after Abort err=%v, want ErrAlreadyFinalized", err)
		}
		if _, err := b.Finalize(); !errors.Is(err, ErrAlreadyFinalized) {
			t.Fatalf("Finalize after Abort err=%v, want ErrAlreadyFinalized", err)
		}
		if buf.Len() != 0 {
			t.Fatalf("Abort flushed %d bytes", buf.Len())
		}
	})
}

// failingWriter rejects every write with err.
type failingWriter struct {
	err error
}

func (w failingWriter) Write([]byte) (int, error) {
	return 0, w.err
}

func TestBuilderCopyRaw(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		from Version
		to   Version
	}{
		{name: "absolute to hashed", from: VersionCompressionEncryption, to: VersionFnv64BugFix},
		{name: "hashed to relative", from: VersionFnv64BugFix, to: VersionRelativeChunkOffsets},
		{name: "u8 methods to named", from: VersionFNameCompression422, to: VersionFrozenIndex},
	}

	files := []testFile{
		{path: "raw.bin", data: patternData(500)},
		{path: "Content/packed.bin", data: compressibleData(20000), opts: EntryOptions{Compression: CompressionZlib, BlockSize: 4096}},
		{path: "Content/secret.bin", data: compressibleData(7000), opts: EntryOptions{Compression: CompressionZlib, BlockSize: 2048, Encrypt: true}},
		{path: "Content/secret.raw", data: patternData(33), opts: EntryOptions{Encrypt: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			src := openTestArchive(t, buildTestArchive(t, BuilderOptions{Version: tc.from, Key: testKey}, files), ReaderOptions{Keys: testKeyRing(t, testKey)})

			var buf bytes.Buffer
			b, err := NewBuilder(&buf, BuilderOptions{Version: tc.to, Key: testKey, Alignment: 16})
			if err != nil {
				t.Fatalf("NewBuilder: %v", err)
			}

			if _, err := b.AddEntry("new.txt", []byte("new"), EntryOptions{}); err != nil {
				t.Fatalf("AddEntry: %v", err)
			}
			for _, f := range files {
				if _, err := b.CopyRaw(src, f.path); err != nil {
					t.Fatalf("CopyRaw(%s): %v", f.path, err)
				}
			}
			if _, err := b.CopyRaw(src, "raw.bin"); !errors.Is(err, ErrDuplicatePath) {
				t.Fatalf("duplicate CopyRaw err=%v, want ErrDuplicatePath", err)
			}
			if _, err := b.Finalize(); err != nil {
				t.Fatalf("Finalize: %v", err)
			}

			dst := openTestArchive(t, buf.Bytes(), ReaderOptions{Keys: testKeyRing(t, testKey)})
			for _, f := range files {
				got, err := dst.ReadEntry(f.path)
				if err != nil {
					t.Fatalf("ReadEntry(%s): %v", f.path, err)
				}
				if !bytes.Equal(got, f.data) {
					t.Fatalf("ReadEntry(%s) content mismatch", f.path)
				}
			}
		})
	}
}

func TestBuilderCopyRawErrors(t *testing.T) {
	t.Parallel()

	src := openTestArchive(t, buildTestArchive(t, BuilderOptions{Key: testKey}, []testFile{
		{path: "secret.bin", data: patternData(40), opts: EntryOptions{Encrypt: true}},
		{path: "packed.bin", data: compressibleData(4000), opts: EntryOptions{Compression: CompressionZstd}},
	}), ReaderOptions{Keys: testKeyRing(t, testKey)})

	b, err := NewBuilder(&bytes.Buffer{}, BuilderOptions{Version: VersionDeleteRecords})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	if _, err := b.CopyRaw(src, "secret.bin"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("encrypted without key err=%v, want ErrKeyNotFound", err)
	}
	if _, err := b.CopyRaw(src, "packed.bin"); !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatalf("zstd into v6 err=%v, want ErrUnsupportedCompression", err)
	}
	if _, err := b.CopyRaw(src, "missing.bin"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("missing err=%v, want ErrEntryNotFound", err)
	}
	if _, err := b.CopyRaw(nil, "secret.bin"); !errors.Is(err, ErrNilReader) {
		t.Fatalf("nil source err=%v, want ErrNilReader", err)
	}
}

func TestBuilderAddEntryFrom(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	b, err := NewBuilder(&buf, BuilderOptions{})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	if _, err := b.AddEntryFrom("a.ini", strings.NewReader("[Core]\n"), EntryOptions{}); err != nil {
		t.Fatalf("AddEntryFrom: %v", err)
	}

	errRead := errors.New("read failed")
	var entryErr *EntryError
	_, err = b.AddEntryFrom("b.ini", iotest.ErrReader(errRead), EntryOptions{})
	if !errors.Is(err, errRead) || !errors.As(err, &entryErr) || entryErr.Path != "b.ini" {
		t.Fatalf("read error err=%v, want EntryError wrapping read failure", err)
	}
	if _, err := b.AddEntryFrom("c.ini", nil, EntryOptions{}); !errors.Is(err, ErrNilReader) {
		t.Fatalf("nil reader err=%v, want ErrNilReader", err)
	}

	if _, err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r := openTestArchive(t, buf.Bytes(), ReaderOptions{})
	if got := r.Paths(); !slices.Equal(got, []string{"a.ini"}) {
		t.Fatalf("Paths=%v, want [a.ini]", got)
	}
}

func TestTicksConversion(t *testing.T) {
	t.Parallel()

	ts := time.Date(2020, 1, 2, 3, 4, 5, 600, time.UTC)
	if got := ticksToTime(timeToTicks(ts)); !got.Equal(ts) {
		t.Fatalf("ticks round trip=%v, want %v", got, ts)
	}
	if got := timeToTicks(time.Unix(0, 0)); got != dotNetEpochTicks {
		t.Fatalf("unix epoch ticks=%d, want %d", got, dotNetEpochTicks)
	}
	if !ticksToTime(0).IsZero() {
		t.Fatal("zero ticks must map to zero time")
	}
}
