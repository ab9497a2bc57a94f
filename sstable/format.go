package sstable

const (
	// DefaultBlockSize is the target uncompressed size of a data block.
	DefaultBlockSize = 16 * 1024
	// DefaultRestartPointInterval is how many entries share one prefix-compression run.
	DefaultRestartPointInterval = 16

	// blockHeaderSize is the compression flag byte plus the crc32 of the payload.
	blockHeaderSize = 1 + 4
	// footerSize: index offset (8) + index length (4) + entry count (8) + magic string.
	footerSize = 8 + 4 + 8
)
