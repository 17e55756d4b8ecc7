package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SuperBlock is the single-block record stamped at BlockSize offset 0. All
// fields are fixed width so the record can be read and written with
// encoding/binary without reflection surprises across architectures.
type SuperBlock struct {
	FileSystemSize  int64
	SuperBlockStart uint32
	DMapStart       uint32
	FATStart        uint32
	RootStart       uint32
	FileCount       uint32
	_               [484]byte // pad out to BlockSize
}

// Marshal encodes the superblock into a fresh BlockSize-sized buffer.
func (s SuperBlock) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, s); err != nil {
		return nil, fmt.Errorf("marshal superblock: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalSuperBlock decodes a BlockSize-sized buffer into a SuperBlock.
func UnmarshalSuperBlock(b []byte) (SuperBlock, error) {
	var s SuperBlock
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &s); err != nil {
		return SuperBlock{}, fmt.Errorf("unmarshal superblock: %w", err)
	}
	return s, nil
}

// NewSuperBlock returns a freshly formatted superblock with zero files.
func NewSuperBlock() SuperBlock {
	return SuperBlock{
		FileSystemSize:  MaxDataSize,
		SuperBlockStart: SuperBlockStart,
		DMapStart:       DMapStart,
		FATStart:        FATStart,
		RootStart:       RootStart,
		FileCount:       0,
	}
}

// nameFieldSize is FILE_NAME_MAX_LENGTH+1, the NUL-terminated basename field.
const nameFieldSize = MaxFileNameLength + 1

// DirEntry is the on-disk record for one of the 64 fixed directory slots,
// one per block. It corresponds to the original reference implementation's
// MyFile structure.
type DirEntry struct {
	Name           [nameFieldSize]byte
	Size           uint32
	UID            uint32
	GID            uint32
	Mode           uint32
	Atime          int64
	Mtime          int64
	Ctime          int64
	FirstDataBlock int32
	OpenIndex      int16
	_              [210]byte // pad out to BlockSize
}

// Marshal encodes the directory entry into a fresh BlockSize-sized buffer.
func (d DirEntry) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, d); err != nil {
		return nil, fmt.Errorf("marshal direntry: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalDirEntry decodes a BlockSize-sized buffer into a DirEntry.
func UnmarshalDirEntry(b []byte) (DirEntry, error) {
	var d DirEntry
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &d); err != nil {
		return DirEntry{}, fmt.Errorf("unmarshal direntry: %w", err)
	}
	return d, nil
}

// NameString returns the NUL-terminated Name field as a Go string.
func (d DirEntry) NameString() string {
	n := bytes.IndexByte(d.Name[:], 0)
	if n < 0 {
		n = len(d.Name)
	}
	return string(d.Name[:n])
}

// SetName stores name as a NUL-terminated basename. The caller is
// responsible for checking name fits within MaxFileNameLength.
func (d *DirEntry) SetName(name string) {
	d.Name = [nameFieldSize]byte{}
	copy(d.Name[:], name)
}

// NewDirEntry returns an empty, size-zero directory entry suitable for
// mknod: no data block, closed.
func NewDirEntry(name string, uid, gid, mode uint32, now int64) DirEntry {
	d := DirEntry{
		Size:           0,
		UID:            uid,
		GID:            gid,
		Mode:           mode,
		Atime:          now,
		Mtime:          now,
		Ctime:          now,
		FirstDataBlock: EndOfChain,
		OpenIndex:      -1,
	}
	d.SetName(name)
	return d
}
