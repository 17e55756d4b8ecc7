// Package container implements the on-disk layout of a myfs container: a
// single fixed-size host file divided into a superblock, an allocation map,
// a block-chain table, a root directory table and a data region.
//
// The layout is a direct, explicitly-sized (little-endian, encoding/binary)
// re-expression of the region geometry used by the original C++ myfs
// reference implementation; see SPEC_FULL.md §3.
package container

// BlockSize is the fixed unit of device I/O.
const BlockSize = 512

const (
	// MaxDataSize is the admission bound used when deciding whether a new
	// write or mknod would overflow the filesystem (~30.1 MB). It is
	// intentionally smaller than DataRegionBlocks*BlockSize; see
	// SPEC_FULL.md §9 "Capacity constants mismatch".
	MaxDataSize = 30_099_999

	// DataRegionBytes is the geometric size of the data region.
	DataRegionBytes = 33_554_432
	// DataRegionBlocks is DataRegionBytes expressed in blocks; also the
	// number of entries in DMap and FAT.
	DataRegionBlocks = DataRegionBytes / BlockSize

	// NumDirEntries is the number of fixed directory slots.
	NumDirEntries = 64
	// NumOpenFiles is the size of the open-file table.
	NumOpenFiles = 64
	// MaxFileNameLength is the maximum basename length, in bytes, not
	// counting the trailing NUL.
	MaxFileNameLength = 255
)

// Region start offsets and extents, in blocks.
const (
	SuperBlockStart = 0
	SuperBlockCount = 1

	DMapStart = SuperBlockStart + SuperBlockCount
	DMapCount = DataRegionBlocks / BlockSize // 128

	FATStart = DMapStart + DMapCount
	FATCount = DataRegionBlocks * 4 / BlockSize // 512

	RootStart = FATStart + FATCount
	RootCount = NumDirEntries // 64

	DataStart = RootStart + RootCount
	DataCount = DataRegionBlocks // 65536
)

// ContainerBlocks is the total block count of a well-formed container.
const ContainerBlocks = SuperBlockCount + DMapCount + FATCount + RootCount + DataCount

// ContainerSize is the exact byte size of a well-formed container file.
const ContainerSize = ContainerBlocks * BlockSize

// FreeMark and UsedMark are the two values an allocation-map byte may hold.
const (
	FreeMark = 'e'
	UsedMark = 'f'
)

// EndOfChain marks the tail of a block chain in FAT, and an empty chain in
// a directory entry's first-data-block field.
const EndOfChain = -1
