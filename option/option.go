// Package option defines the configuration container spec.md §6.3
// describes, plus the result-feedback values the pipeline writes back once
// layout is known.
package option

import "time"

// RecordMD5 bits, spec.md §6.3 "record_md5: bit0 session checksum; bit1
// per-file checksum with content-stability check".
const (
	RecordMD5Session RecordMD5Bits = 1 << iota
	RecordMD5PerFile
)

// RecordMD5Bits is a bitmask of RecordMD5Session / RecordMD5PerFile.
type RecordMD5Bits uint8

// PVDTimes overrides the four ECMA-119 volume timestamps when non-nil
// fields are set; a nil field falls back to the builder's computed value.
type PVDTimes struct {
	Creation     *time.Time
	Modification *time.Time
	Expiration   *time.Time
	Effective    *time.Time
}

// Options is the flat, exported-field configuration container the public
// API accepts, in the teacher's Options/DefaultOptions style generalized to
// spec.md §6.3's full option set.
type Options struct {
	// Volume identification (ECMA-119 §8.4 / Joliet SVD fields).
	VolumeIdentifier          string
	SystemIdentifier          string
	PublisherIdentifier       string
	DataPreparerIdentifier    string
	ApplicationIdentifier     string
	VolumeSetIdentifier       string
	CopyrightFileIdentifier   string
	AbstractFileIdentifier    string
	BibliographicFileIdentifier string

	// ISOLevel is 1, 2, or 3; it bounds ECMA-119 name length and the 4 GiB
	// per-section cap.
	ISOLevel int

	// Trees to build. The ECMA-119 tree is always built; RockRidge adds Rock
	// Ridge entries to it, and Joliet and ISO1999 each add a tree. HFSPlus and
	// FAT are stored, but no HFS+ or FAT tree is built.
	Joliet   bool
	ISO1999  bool
	HFSPlus  bool
	FAT      bool
	RockRidge bool

	// Name-translation relaxations (spec.md §6.3).
	OmitVersionNumbers   bool
	AllowDeepPaths       bool
	AllowLongerPaths     bool
	Max37CharFilenames   bool
	NoForceDots          bool
	AllowLowercase       bool
	AllowFullASCII       bool
	Allow7BitASCII       bool
	JolietLongerPaths    bool
	JolietLongNames      bool
	UntranslatedNameLen  int

	// Extension versions.
	RRIPVersion110 bool
	RRIP110PXIno   bool
	AAIPSUSP110    bool

	// DirRecMtime selects whether directory records carry mtime (true) or
	// creation time (false).
	DirRecMtime bool

	// SortFiles enables sort-by-weight content layout in the planner.
	SortFiles bool

	// RecordMD5 controls the integrity layer, see RecordMD5Bits.
	RecordMD5 RecordMD5Bits

	// Metadata overrides applied to imported nodes. nil means "keep as
	// imported".
	ReplaceDirMode  *uint32
	ReplaceFileMode *uint32
	ReplaceUID      *uint32
	ReplaceGID      *uint32
	ReplaceTimestamp *time.Time

	AlwaysGMT bool

	// Appendable marks Import as an existing session. The pipeline does not
	// read Appendable or Import: every file's content is laid out and
	// written in the new session, and no imported block is referenced.
	Appendable bool
	// MSBlock is the LBA at which the produced stream is expected to land.
	MSBlock uint32

	// Overwrite, if non-nil, is the 64 KiB shadow buffer the driver stamps
	// with blocks emitted below LBA 32, for "rewrite volume descriptors for
	// overwriteable media" support.
	Overwrite []byte

	// FIFOSize is the ring-buffer block capacity; minimum 32, or
	// 32+PartOffset if PartOffset > 0.
	FIFOSize int

	// SystemArea is the raw 32 KiB (16-block) payload for LBA 0..15, or nil
	// for all-zero. SystemAreaOptions/SystemAreaSubType select well-known
	// patching behavior (protective MBR, GRUB2, isohybrid, MIPS/SPARC/DEC).
	SystemArea        []byte
	SystemAreaOptions uint32
	SystemAreaSubType int

	// Appended-partition and in-MBR payload support.
	PartOffset   uint32
	PartitionImg []string
	PrepImg      string
	EFIBootP     string

	TailBlocks uint32

	PVDTimes     *PVDTimes
	DiscLabel    string
	ScdbackupTag string

	// WillCancel suppresses producer-thread spawn when the caller only
	// wants the predicted image size.
	WillCancel bool

	// Import is the opaque starting point for an appended session. Parsing
	// of real images is out of scope (spec.md §1); callers supply a
	// DataSource for its content blocks. See Appendable: nothing in the
	// pipeline reads it.
	Import *ImportSource
}

// ImportSource is the caller-supplied starting point for Options.Import: a
// 2048-byte-block DataSource and the old session's start LBA. spec.md §1
// treats image parsing as an external collaborator. The planner has
// no_write entries, but no code in this module reads an ImportSource.
type ImportSource struct {
	// Blocks reads count 2048-byte blocks starting at the given LBA.
	Blocks DataSource
	// SessionStartLBA is the old session's starting LBA, addressable by
	// no_write entries carried over from it.
	SessionStartLBA uint32
}

// DataSource delivers 2048-byte logical blocks from an existing image, as
// spec.md §1 requires for import support without this module parsing
// images itself.
type DataSource interface {
	ReadBlocks(lba uint32, count int) ([]byte, error)
}

// Default returns an Options populated with the same kind of conservative
// defaults the teacher's DefaultOptions uses.
func Default() *Options {
	return &Options{
		VolumeIdentifier:       "ISOIMAGE",
		SystemIdentifier:       "",
		PublisherIdentifier:    "",
		DataPreparerIdentifier: "",
		ApplicationIdentifier:  "isoimage",
		ISOLevel:               1,
		RockRidge:              true,
		Joliet:                 true,
		ISO1999:                false,
		DirRecMtime:            true,
		FIFOSize:               32,
		RecordMD5:              0,
	}
}

// WriteResult carries the positions the pipeline driver computed back to
// the caller once compute-data-blocks has run, per spec.md §6.3's "result
// feedback (data-start LBA, scdbackup tag text)".
type WriteResult struct {
	DataStartLBA    uint32
	TotalBlocks     uint32
	ScdbackupTag    string
}
