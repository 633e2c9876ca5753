// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import "fmt"

// Version is an ordered pak format revision.
// Two members share raw wire value 8; they differ in footer and entry layout.
type Version int

// Known pak format revisions, oldest first.
const (
	VersionUnknown Version = iota
	// VersionInitial has per-entry timestamps.
	VersionInitial
	// VersionNoTimestamps drops entry timestamps.
	VersionNoTimestamps
	// VersionCompressionEncryption adds compression blocks, flags, and block size.
	VersionCompressionEncryption
	// VersionIndexEncryption adds the encrypted index flag.
	VersionIndexEncryption
	// VersionRelativeChunkOffsets stores block offsets relative to the entry record.
	VersionRelativeChunkOffsets
	// VersionDeleteRecords adds delete records for patch archives.
	VersionDeleteRecords
	// VersionEncryptionKeyGUID adds the key GUID to the footer.
	VersionEncryptionKeyGUID
	// VersionFNameCompression422 names compression methods in the footer (4 slots, u8 entry index).
	VersionFNameCompression422
	// VersionFNameCompression names compression methods in the footer (5 slots).
	VersionFNameCompression
	// VersionFrozenIndex adds the frozen index flag.
	VersionFrozenIndex
	// VersionPathHashIndex switches to the hashed two-tier directory index.
	VersionPathHashIndex
	// VersionFnv64BugFix switches path hashing to the corrected FNV-64.
	VersionFnv64BugFix
)

// VersionLatest is the newest supported revision.
const VersionLatest = VersionFnv64BugFix

// Footer and method table constants.
const (
	// Magic is the pak footer signature.
	Magic uint32 = 0x5A6F12E1
	// MaxChunkDataSize is the default compression block size.
	MaxChunkDataSize = 64 * 1024
	// compressionMethodNameLen is the fixed width of one method name slot.
	compressionMethodNameLen = 32
)

// Features lists every format capability gated by version.
type Features struct {
	// Timestamps reports whether entries carry a u64 timestamp.
	Timestamps bool
	// CompressionBlocks reports whether entries carry blocks, flags, and block size.
	CompressionBlocks bool
	// Encryption reports whether entry encryption is representable.
	Encryption bool
	// IndexEncryption reports whether the encrypted index flag is honored.
	IndexEncryption bool
	// RelativeChunkOffsets reports whether block offsets are relative to the entry record.
	RelativeChunkOffsets bool
	// DeleteRecords reports whether delete records are defined.
	DeleteRecords bool
	// KeyGUID reports whether the footer stores the encryption key GUID.
	KeyGUID bool
	// NamedCompression reports whether the footer names compression methods.
	NamedCompression bool
	// CompressionIndexU8 reports whether full entries store the method index as u8.
	CompressionIndexU8 bool
	// CompressionSlots is the number of method name slots in the footer.
	CompressionSlots int
	// FrozenFlag reports whether the footer stores the frozen index flag.
	FrozenFlag bool
	// PathHashIndex reports whether the hashed two-tier index is used.
	PathHashIndex bool
	// FixedPathHash reports whether the corrected FNV-64 path hash is used.
	FixedPathHash bool
}

// Versions returns all supported versions, oldest first.
func Versions() []Version {
	return []Version{
		VersionInitial,
		VersionNoTimestamps,
		VersionCompressionEncryption,
		VersionIndexEncryption,
		VersionRelativeChunkOffsets,
		VersionDeleteRecords,
		VersionEncryptionKeyGUID,
		VersionFNameCompression422,
		VersionFNameCompression,
		VersionFrozenIndex,
		VersionPathHashIndex,
		VersionFnv64BugFix,
	}
}

// Valid reports whether v is a supported member.
func (v Version) Valid() bool {
	return v >= VersionInitial && v <= VersionLatest
}

// Raw returns the on-disk version number.
func (v Version) Raw() int32 {
	switch {
	case v <= VersionFNameCompression422:
		return int32(v)
	default:
		return int32(v) - 1
	}
}

// String returns the raw number, marking the 4.22 layout of version 8.
func (v Version) String() string {
	if !v.Valid() {
		return fmt.Sprintf("unknown(%d)", int(v))
	}
	if v == VersionFNameCompression422 {
		return "8 (4.22)"
	}

	return fmt.Sprintf("%d", v.Raw())
}

// Features returns the capability set of v.
func (v Version) Features() Features {
	f := Features{
		Timestamps:           v == VersionInitial,
		CompressionBlocks:    v >= VersionCompressionEncryption,
		Encryption:           v >= VersionCompressionEncryption,
		IndexEncryption:      v >= VersionIndexEncryption,
		RelativeChunkOffsets: v >= VersionRelativeChunkOffsets,
		DeleteRecords:        v >= VersionDeleteRecords,
		KeyGUID:              v >= VersionEncryptionKeyGUID,
		NamedCompression:     v >= VersionFNameCompression422,
		CompressionIndexU8:   v == VersionFNameCompression422,
		FrozenFlag:           v >= VersionFrozenIndex,
		PathHashIndex:        v >= VersionPathHashIndex,
		FixedPathHash:        v >= VersionFnv64BugFix,
	}

	switch {
	case v == VersionFNameCompression422:
		f.CompressionSlots = 4
	case v >= VersionFNameCompression:
		f.CompressionSlots = 5
	}

	return f
}

// versionsForRaw returns members matching a wire version, newest layout first.
func versionsForRaw(raw int32) []Version {
	out := make([]Version, 0, 2)
	all := Versions()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Raw() == raw {
			out = append(out, all[i])
		}
	}

	return out
}
