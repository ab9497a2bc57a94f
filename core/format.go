package core

// --- Magic Numbers ---
const (
	// KeyStreamMagicNumber identifies a staging writer's key-index stream.
	KeyStreamMagicNumber uint32 = 0x4B455953 // "KEYS"
	// ValueStreamMagicNumber identifies a staging writer's value-blob stream.
	ValueStreamMagicNumber uint32 = 0x56414C53 // "VALS"
	// SegmentMagicNumber identifies a sorted staging segment.
	SegmentMagicNumber uint32 = 0x53454747 // "SEGG"
	// MarkerMagicNumber identifies the completion marker of a converted world.
	MarkerMagicNumber uint32 = 0x43424D4B // "CBMK"
)

// --- Magic Strings ---
const (
	// SegmentMagicString is placed at the end of every segment file.
	SegmentMagicString    = "CHUNKBRIDGE-SEG1"
	SegmentMagicStringLen = len(SegmentMagicString)
)

// --- File Names ---
const (
	KeyStreamSuffix   = ".keys"
	ValueStreamSuffix = ".vals"
	SegmentSuffix     = ".seg"
	TempFileSuffix    = ".tmp"
	// MarkerFileName is written last into a completed output world.
	MarkerFileName = ".chunkbridge"
	// SessionLockFileName is the Java Edition session lock.
	SessionLockFileName = "session.lock"
)

const (
	// FormatVersion is the current version of all scratch file formats.
	FormatVersion uint8 = 1
)
