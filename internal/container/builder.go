package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// BuildError is returned for validation failures that abort the whole
// build before any container is touched.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string { return "mkfs.myfs: " + e.Reason }

// PackedFile summarizes one file as it was laid into the container, for
// diagnostics (see cmd/mkfs.myfs).
type PackedFile struct {
	Name           string
	Size           uint32
	FirstDataBlock int32
	UsedBlocks     int
}

// Result is returned by Build on success.
type Result struct {
	ContainerPath string
	SuperBlock    SuperBlock
	Files         []PackedFile
}

// Build validates hostFiles and packs them into a freshly formatted
// container at containerPath (or "container.bin" in the working directory,
// if the base name of containerPath is not "container.bin"; see
// SPEC_FULL.md §4.2).
func Build(containerPath string, hostFiles []string) (*Result, error) {
	if err := validateInputs(containerPath, hostFiles); err != nil {
		return nil, err
	}

	target := containerPath
	if filepath.Base(containerPath) != "container.bin" {
		target = "container.bin"
	}

	if err := validateSize(hostFiles); err != nil {
		return nil, err
	}

	dir := filepath.Dir(target)
	t, err := renameio.TempFile(dir, target)
	if err != nil {
		return nil, xerrors.Errorf("mkfs.myfs: staging %s: %w", target, err)
	}
	defer t.Cleanup()

	if err := t.Truncate(ContainerSize); err != nil {
		return nil, xerrors.Errorf("mkfs.myfs: sizing %s: %w", target, err)
	}
	dev := &Device{f: t.File}

	sb := NewSuperBlock()
	dmap := make([]byte, DataRegionBlocks)
	for i := range dmap {
		dmap[i] = FreeMark
	}
	fat := make([]int32, DataRegionBlocks)
	for i := range fat {
		fat[i] = EndOfChain
	}
	var root [NumDirEntries]DirEntry
	var packed []PackedFile

	var blockCount int32
	for i, path := range hostFiles {
		entry, used, err := packFile(dev, dmap, fat, path, &blockCount)
		if err != nil {
			return nil, xerrors.Errorf("mkfs.myfs: packing %s: %w", path, err)
		}
		root[i] = entry
		sb.FileCount++
		packed = append(packed, PackedFile{
			Name:           entry.NameString(),
			Size:           entry.Size,
			FirstDataBlock: entry.FirstDataBlock,
			UsedBlocks:     used,
		})
	}

	if err := persist(dev, sb, dmap, fat, root[:], len(hostFiles)); err != nil {
		return nil, xerrors.Errorf("mkfs.myfs: persisting metadata: %w", err)
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return nil, xerrors.Errorf("mkfs.myfs: finalizing %s: %w", target, err)
	}

	return &Result{ContainerPath: target, SuperBlock: sb, Files: packed}, nil
}

func validateInputs(containerPath string, hostFiles []string) error {
	if len(hostFiles) == 0 {
		return &BuildError{Reason: "no file has been provided; provide at least one file for the file system"}
	}
	if len(hostFiles) > NumDirEntries {
		return &BuildError{Reason: fmt.Sprintf("you provided more than %d files", NumDirEntries)}
	}
	seen := make(map[string]bool, len(hostFiles))
	for _, p := range hostFiles {
		base := filepath.Base(p)
		if len(base) > MaxFileNameLength {
			return &BuildError{Reason: fmt.Sprintf("file name %q is longer than %d characters", base, MaxFileNameLength)}
		}
		if seen[base] {
			return &BuildError{Reason: fmt.Sprintf("duplicate file name %q", base)}
		}
		seen[base] = true
	}
	for _, p := range hostFiles {
		f, err := os.Open(p)
		if err != nil {
			return &BuildError{Reason: fmt.Sprintf("%q is not accessible: %v", p, err)}
		}
		f.Close()
	}
	if containerPath == "" {
		return &BuildError{Reason: "no container file has been provided"}
	}
	return nil
}

func validateSize(hostFiles []string) error {
	var total int64
	for _, p := range hostFiles {
		fi, err := os.Stat(p)
		if err != nil {
			return &BuildError{Reason: fmt.Sprintf("cannot stat %q: %v", p, err)}
		}
		total += fi.Size()
	}
	if total > MaxDataSize {
		return &BuildError{Reason: fmt.Sprintf(
			"your files are combined %d byte(s) greater than the maximum file system size of %d bytes",
			total-MaxDataSize, MaxDataSize)}
	}
	return nil
}

// packFile streams one host file into consecutive data blocks starting at
// *blockCount, mutating dmap/fat in place, and returns its directory entry.
func packFile(dev *Device, dmap []byte, fat []int32, path string, blockCount *int32) (DirEntry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return DirEntry{}, 0, err
	}
	defer f.Close()

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return DirEntry{}, 0, err
	}

	start := *blockCount
	var used int
	var lastBlock int32 = EndOfChain
	var lastN int
	buf := make([]byte, BlockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return DirEntry{}, 0, err
		}
		if n == 0 {
			break
		}
		block := make([]byte, BlockSize)
		copy(block, buf[:n])

		idx := *blockCount
		dmap[idx] = UsedMark
		fat[idx] = idx + 1
		if err := dev.WriteBlock(DataStart+int64(idx), block); err != nil {
			return DirEntry{}, 0, err
		}
		*blockCount++
		used++
		lastBlock = idx
		lastN = n

		if n < BlockSize {
			break
		}
	}
	if lastBlock != EndOfChain {
		fat[lastBlock] = EndOfChain
	}

	entry := DirEntry{
		UID:   uint32(os.Getuid()),
		GID:   uint32(os.Getgid()),
		Mode:  unix.S_IFREG | 0444,
		Atime: st.Atim.Sec,
		Mtime: st.Mtim.Sec,
		Ctime: st.Ctim.Sec,
	}
	entry.SetName(filepath.Base(path))
	entry.OpenIndex = -1
	if used == 0 {
		entry.FirstDataBlock = EndOfChain
		entry.Size = 0
	} else {
		entry.FirstDataBlock = start
		if lastN == BlockSize {
			entry.Size = uint32(used) * BlockSize
		} else {
			entry.Size = uint32(used-1)*BlockSize + uint32(lastN)
		}
	}
	return entry, used, nil
}

func persist(dev *Device, sb SuperBlock, dmap []byte, fat []int32, root []DirEntry, fileCount int) error {
	sbBuf, err := sb.Marshal()
	if err != nil {
		return err
	}
	if err := dev.WriteBlock(SuperBlockStart, sbBuf); err != nil {
		return err
	}

	for i := 0; i < DMapCount; i++ {
		block := make([]byte, BlockSize)
		copy(block, dmap[i*BlockSize:(i+1)*BlockSize])
		if err := dev.WriteBlock(DMapStart+int64(i), block); err != nil {
			return err
		}
	}

	fatBytes := make([]byte, DataRegionBlocks*4)
	for i, v := range fat {
		putInt32LE(fatBytes[i*4:], v)
	}
	for i := 0; i < FATCount; i++ {
		block := make([]byte, BlockSize)
		copy(block, fatBytes[i*BlockSize:(i+1)*BlockSize])
		if err := dev.WriteBlock(FATStart+int64(i), block); err != nil {
			return err
		}
	}

	for i := 0; i < fileCount; i++ {
		buf, err := root[i].Marshal()
		if err != nil {
			return err
		}
		if err := dev.WriteBlock(RootStart+int64(i), buf); err != nil {
			return err
		}
	}
	return nil
}

func putInt32LE(b []byte, v int32) {
	u := uint32(v)
	b[0] = byte(u)
	b[1] = byte(u >> 8)
	b[2] = byte(u >> 16)
	b[3] = byte(u >> 24)
}
