package myfs

import "github.com/myfs/myfs/internal/container"

// flushLocked writes the superblock, the full allocation map and chain
// table, and the directory slot at idx (if idx >= 0) back to the
// container device. Callers must hold fs.mu.
func (fs *FS) flushLocked(idx int) error {
	sbBuf, err := fs.sb.Marshal()
	if err != nil {
		return newErr("flush", KindIoError, err)
	}
	if err := fs.dev.WriteBlock(container.SuperBlockStart, sbBuf); err != nil {
		return newErr("flush", KindIoError, err)
	}

	for i := 0; i < container.DMapCount; i++ {
		block := make([]byte, container.BlockSize)
		copy(block, fs.dmap[i*container.BlockSize:(i+1)*container.BlockSize])
		if err := fs.dev.WriteBlock(container.DMapStart+int64(i), block); err != nil {
			return newErr("flush", KindIoError, err)
		}
	}

	fatBytes := make([]byte, container.DataRegionBlocks*4)
	for i, v := range fs.fat {
		u := uint32(v)
		fatBytes[i*4] = byte(u)
		fatBytes[i*4+1] = byte(u >> 8)
		fatBytes[i*4+2] = byte(u >> 16)
		fatBytes[i*4+3] = byte(u >> 24)
	}
	for i := 0; i < container.FATCount; i++ {
		block := make([]byte, container.BlockSize)
		copy(block, fatBytes[i*container.BlockSize:(i+1)*container.BlockSize])
		if err := fs.dev.WriteBlock(container.FATStart+int64(i), block); err != nil {
			return newErr("flush", KindIoError, err)
		}
	}

	if idx >= 0 {
		buf, err := fs.entries[idx].Marshal()
		if err != nil {
			return newErr("flush", KindIoError, err)
		}
		if err := fs.dev.WriteBlock(container.RootStart+int64(idx), buf); err != nil {
			return newErr("flush", KindIoError, err)
		}
	}
	return nil
}

// flushAllLocked writes the superblock, the full allocation map and chain
// table, and every directory slot back to the container device,
// unconditionally. Callers must hold fs.mu.
func (fs *FS) flushAllLocked() error {
	if err := fs.flushLocked(-1); err != nil {
		return err
	}
	for i := 0; i < container.NumDirEntries; i++ {
		buf, err := fs.entries[i].Marshal()
		if err != nil {
			return newErr("flush", KindIoError, err)
		}
		if err := fs.dev.WriteBlock(container.RootStart+int64(i), buf); err != nil {
			return newErr("flush", KindIoError, err)
		}
	}
	return nil
}

// Flush persists the superblock, allocation map, chain table and every
// directory slot to the container device, regardless of
// Config.FlushOnMutation. It is called unconditionally at unmount (see
// bridge.FS.Destroy) so that mutations made during a mount are never
// silently lost.
func (fs *FS) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.dev == nil {
		return nil
	}
	return fs.flushAllLocked()
}
