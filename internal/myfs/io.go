package myfs

import (
	"time"

	"github.com/myfs/myfs/internal/container"
)

func (fs *FS) handleValid(handle int32) bool {
	return handle >= 0 && int(handle) < container.NumDirEntries && fs.used[handle]
}

// readBlock returns the contents of block idx, preferring the per-handle
// read cache over a device round trip.
func (fs *FS) readBlock(cache *openCache, idx int32) ([]byte, error) {
	if idx == cache.lastReadBlock {
		frame := cache.lastReadFrame
		return frame[:], nil
	}
	block, err := fs.dev.ReadBlock(container.DataStart + int64(idx))
	if err != nil {
		return nil, err
	}
	copy(cache.lastReadFrame[:], block)
	cache.lastReadBlock = idx
	return block, nil
}

// writeBlock writes frame to block idx and refreshes both the read and
// write caches, so an immediately following read observes it.
func (fs *FS) writeBlock(cache *openCache, idx int32, frame []byte) error {
	if err := fs.dev.WriteBlock(container.DataStart+int64(idx), frame); err != nil {
		return err
	}
	copy(cache.lastWriteFrame[:], frame)
	cache.lastWriteBlock = idx
	copy(cache.lastReadFrame[:], frame)
	cache.lastReadBlock = idx
	return nil
}

// Read copies up to len(buf) bytes from handle's file starting at offset.
func (fs *FS) Read(handle int32, buf []byte, offset int64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.handleValid(handle) {
		return 0, newErr("read", KindBadHandle, nil)
	}
	entry := &fs.entries[handle]
	if len(buf) == 0 || entry.Size == 0 {
		return 0, nil
	}
	if offset < 0 || uint64(offset) > uint64(entry.Size) {
		return 0, newErr("read", KindNoSuchAddress, nil)
	}

	remaining := int(entry.Size) - int(offset)
	toRead := len(buf)
	if remaining < toRead {
		toRead = remaining
	}
	if toRead <= 0 {
		return 0, nil
	}

	cache := &fs.caches[handle]
	block := entry.FirstDataBlock
	for i := int64(0); i < offset/container.BlockSize && block != container.EndOfChain; i++ {
		block = fs.fat[block]
	}

	read := 0
	inBlockOffset := int(offset % container.BlockSize)
	for read < toRead && block != container.EndOfChain {
		frame, err := fs.readBlock(cache, block)
		if err != nil {
			return read, newErr("read", KindIoError, err)
		}
		n := copy(buf[read:toRead], frame[inBlockOffset:])
		read += n
		inBlockOffset = 0
		block = fs.fat[block]
	}

	entry.Atime = time.Now().Unix()
	return read, nil
}

// Write copies buf into handle's file starting at offset, allocating new
// data blocks and extending the chain as needed (spec cases A: empty
// file, B: append, C: overwrite within existing content).
func (fs *FS) Write(handle int32, buf []byte, offset int64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.handleValid(handle) {
		return 0, newErr("write", KindBadHandle, nil)
	}
	if len(buf) == 0 {
		return 0, nil
	}
	entry := &fs.entries[handle]
	if fs.currentSize >= container.MaxDataSize {
		return 0, newErr("write", KindNoSpace, nil)
	}
	if offset < 0 || offset > int64(entry.Size) {
		return 0, newErr("write", KindNoSuchAddress, nil)
	}

	// Clamp buf so the resulting growth of the file never exceeds the
	// remaining filesystem capacity; bytes that overwrite already
	// allocated content consume no additional capacity.
	overwritePortion := int64(entry.Size) - offset
	if overwritePortion < 0 {
		overwritePortion = 0
	}
	if overwritePortion > int64(len(buf)) {
		overwritePortion = int64(len(buf))
	}
	growthWanted := int64(len(buf)) - overwritePortion
	available := int64(container.MaxDataSize) - int64(fs.currentSize)
	if growthWanted > available {
		growthWanted = available
	}
	if growthWanted < 0 {
		growthWanted = 0
	}
	effectiveLen := overwritePortion + growthWanted
	if effectiveLen <= 0 {
		return 0, newErr("write", KindNoSpace, nil)
	}
	buf = buf[:effectiveLen]

	cache := &fs.caches[handle]
	blockIdx := offset / container.BlockSize
	inBlockOffset := int(offset % container.BlockSize)

	var cur int32
	if entry.FirstDataBlock == container.EndOfChain {
		cur = fs.assignFreeDataBlock()
		if cur == container.EndOfChain {
			return 0, newErr("write", KindNoSpace, nil)
		}
		entry.FirstDataBlock = cur
	} else {
		cur = entry.FirstDataBlock
		for i := int64(0); i < blockIdx; i++ {
			next := fs.fat[cur]
			if next == container.EndOfChain {
				next = fs.assignFreeDataBlock()
				if next == container.EndOfChain {
					return 0, newErr("write", KindNoSpace, nil)
				}
				fs.fat[cur] = next
			}
			cur = next
		}
	}

	written := 0
	for written < len(buf) {
		capacity := container.BlockSize - inBlockOffset
		n := len(buf) - written
		if n > capacity {
			n = capacity
		}

		frame := make([]byte, container.BlockSize)
		if inBlockOffset > 0 || n < container.BlockSize {
			existing, err := fs.readBlock(cache, cur)
			if err == nil {
				copy(frame, existing)
			}
		}
		copy(frame[inBlockOffset:], buf[written:written+n])
		if err := fs.writeBlock(cache, cur, frame); err != nil {
			return written, newErr("write", KindIoError, err)
		}

		written += n
		inBlockOffset = 0

		if written < len(buf) {
			next := fs.fat[cur]
			if next == container.EndOfChain {
				next = fs.assignFreeDataBlock()
				if next == container.EndOfChain {
					break
				}
				fs.fat[cur] = next
			}
			cur = next
		}
	}

	newSize := entry.Size
	if grown := uint32(offset) + uint32(written); grown > newSize {
		newSize = grown
	}
	fs.currentSize += uint64(newSize - entry.Size)
	entry.Size = newSize

	now := time.Now().Unix()
	entry.Atime = now
	entry.Mtime = now

	if err := fs.maybeFlush(int(handle)); err != nil {
		return written, err
	}
	return written, nil
}
