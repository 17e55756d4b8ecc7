// Package myfs implements the in-memory filesystem state machine that
// backs a mounted myfs container: loading container metadata at mount
// time, and serving getattr/mknod/unlink/open/read/write/release/readdir
// against the fixed 64-slot root directory and the block-chain allocator.
package myfs

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/myfs/myfs/internal/container"
)

// Attr is the subset of file metadata the bridge adapter needs to answer
// a getattr call.
type Attr struct {
	Mode  uint32
	Size  uint64
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// openCache mirrors the original reference's per-open-file last-block
// frame cache, but is keyed by the stable directory slot index rather
// than the open count; see SPEC_FULL.md §9 "Per-open cache keying".
type openCache struct {
	lastReadBlock  int32
	lastReadFrame  [container.BlockSize]byte
	lastWriteBlock int32
	lastWriteFrame [container.BlockSize]byte
}

func newOpenCache() openCache {
	return openCache{lastReadBlock: container.EndOfChain, lastWriteBlock: container.EndOfChain}
}

// FS is the runtime state of a mounted container: the decoded superblock,
// allocation map, chain table and directory slots, plus open-file
// bookkeeping. All exported methods other than Load and Close are safe for
// concurrent use.
type FS struct {
	mu  sync.Mutex
	cfg Config
	dev *container.Device

	sb      container.SuperBlock
	dmap    [container.DataRegionBlocks]byte
	fat     [container.DataRegionBlocks]int32
	entries [container.NumDirEntries]container.DirEntry
	used    [container.NumDirEntries]bool

	openFiles   int
	currentSize uint64
	caches      [container.NumDirEntries]openCache
}

// NewFS returns an unloaded FS; call Load before serving requests.
func NewFS(cfg Config) *FS {
	return &FS{cfg: cfg}
}

// Load opens the container at fs.cfg.ContainerPath and reads the
// superblock, allocation map, chain table and directory slots into
// memory, mirroring the reference implementation's fuseInit.
func (fs *FS) Load() error {
	dev, err := container.Open(fs.cfg.ContainerPath)
	if err != nil {
		return newErr("load", KindIoError, err)
	}
	fs.dev = dev

	sbBuf, err := dev.ReadBlock(container.SuperBlockStart)
	if err != nil {
		return newErr("load", KindIoError, err)
	}
	sb, err := container.UnmarshalSuperBlock(sbBuf)
	if err != nil {
		return newErr("load", KindIoError, err)
	}
	fs.sb = sb

	for i := 0; i < container.DMapCount; i++ {
		block, err := dev.ReadBlock(container.DMapStart + int64(i))
		if err != nil {
			return newErr("load", KindIoError, err)
		}
		copy(fs.dmap[i*container.BlockSize:], block)
	}

	fatBytes := make([]byte, 0, container.DataRegionBlocks*4)
	for i := 0; i < container.FATCount; i++ {
		block, err := dev.ReadBlock(container.FATStart + int64(i))
		if err != nil {
			return newErr("load", KindIoError, err)
		}
		fatBytes = append(fatBytes, block...)
	}
	for i := range fs.fat {
		fs.fat[i] = int32(uint32(fatBytes[i*4]) | uint32(fatBytes[i*4+1])<<8 |
			uint32(fatBytes[i*4+2])<<16 | uint32(fatBytes[i*4+3])<<24)
	}

	for i := 0; i < container.NumDirEntries; i++ {
		block, err := dev.ReadBlock(container.RootStart + int64(i))
		if err != nil {
			return newErr("load", KindIoError, err)
		}
		entry, err := container.UnmarshalDirEntry(block)
		if err != nil {
			return newErr("load", KindIoError, err)
		}
		// Open state does not survive a remount: every slot starts closed.
		entry.OpenIndex = -1
		fs.entries[i] = entry
		fs.caches[i] = newOpenCache()
		fs.used[i] = uint32(i) < fs.sb.FileCount
		if fs.used[i] {
			fs.currentSize += uint64(entry.Size)
		}
	}
	return nil
}

// Close releases the underlying container device.
func (fs *FS) Close() error {
	if fs.dev == nil {
		return nil
	}
	return fs.dev.Close()
}

// RootAttr returns the static attributes of the synthetic root directory.
func (fs *FS) RootAttr() Attr {
	now := time.Now()
	return Attr{Mode: 0040555, Atime: now, Mtime: now, Ctime: now}
}

func attrOf(e container.DirEntry) Attr {
	return Attr{
		Mode:  e.Mode,
		Size:  uint64(e.Size),
		UID:   e.UID,
		GID:   e.GID,
		Atime: time.Unix(e.Atime, 0),
		Mtime: time.Unix(e.Mtime, 0),
		Ctime: time.Unix(e.Ctime, 0),
	}
}

// GetAttr looks up name among the occupied directory slots.
func (fs *FS) GetAttr(name string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx := fs.findSlotByName(name)
	if idx < 0 {
		return Attr{}, newErr("getattr", KindNoSuchEntry, nil)
	}
	return attrOf(fs.entries[idx]), nil
}

// ReadDir returns the names of all occupied directory slots.
func (fs *FS) ReadDir() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	names := make([]string, 0, container.NumDirEntries)
	for i := 0; i < container.NumDirEntries; i++ {
		if fs.used[i] {
			names = append(names, fs.entries[i].NameString())
		}
	}
	slices.Sort(names)
	return names
}

// DirSlot pairs an occupied directory slot's stable index with its name,
// for callers (the bridge adapter) that need a slot-stable inode number.
type DirSlot struct {
	Index int
	Name  string
}

// ReadDirSlots is like ReadDir but also reports each entry's slot index.
func (fs *FS) ReadDirSlots() []DirSlot {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	slots := make([]DirSlot, 0, container.NumDirEntries)
	for i := 0; i < container.NumDirEntries; i++ {
		if fs.used[i] {
			slots = append(slots, DirSlot{Index: i, Name: fs.entries[i].NameString()})
		}
	}
	slices.SortFunc(slots, func(a, b DirSlot) bool { return a.Name < b.Name })
	return slots
}

// NumSlots returns the fixed number of directory slots.
func (fs *FS) NumSlots() int { return container.NumDirEntries }

// NameAt returns the name stored at slot idx, if occupied.
func (fs *FS) NameAt(idx int) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if idx < 0 || idx >= container.NumDirEntries || !fs.used[idx] {
		return "", false
	}
	return fs.entries[idx].NameString(), true
}

// AttrAt returns the attributes stored at slot idx, if occupied.
func (fs *FS) AttrAt(idx int) (Attr, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if idx < 0 || idx >= container.NumDirEntries || !fs.used[idx] {
		return Attr{}, false
	}
	return attrOf(fs.entries[idx]), true
}

// MkNod creates a new, empty directory entry named name.
func (fs *FS) MkNod(name string, mode, uid, gid uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if int(fs.sb.FileCount) >= container.NumDirEntries || fs.currentSize >= container.MaxDataSize {
		return newErr("mknod", KindNoSpace, nil)
	}
	if fs.findSlotByName(name) >= 0 {
		return newErr("mknod", KindExists, nil)
	}

	idx := fs.findFreeSlot()
	if idx < 0 {
		return newErr("mknod", KindNoSpace, nil)
	}
	now := time.Now().Unix()
	fs.entries[idx] = container.NewDirEntry(name, uid, gid, mode, now)
	fs.used[idx] = true
	fs.sb.FileCount++

	return fs.maybeFlush(idx)
}

// Unlink frees name's block chain and its directory slot.
func (fs *FS) Unlink(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx := fs.findSlotByName(name)
	if idx < 0 {
		return newErr("unlink", KindNoSuchEntry, nil)
	}

	entry := fs.entries[idx]
	fs.freeChain(entry.FirstDataBlock)
	if entry.OpenIndex >= 0 {
		fs.openFiles--
	}
	fs.currentSize -= uint64(entry.Size)
	fs.used[idx] = false
	fs.entries[idx] = container.DirEntry{}
	if fs.sb.FileCount > 0 {
		fs.sb.FileCount--
	}

	return fs.maybeFlush(idx)
}

// Open validates access to name and returns a stable handle (the
// directory slot index) for subsequent Read/Write/Release calls.
func (fs *FS) Open(name string, uid, gid uint32) (int32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Matches the original reference's literal pre-increment `>` check
	// (myfs.cpp: `if (this->openFiles > NUM_OPEN_FILES)`), which permits
	// NumOpenFiles+1 concurrent opens and rejects only the one after
	// that; see SPEC_FULL.md §9(c).
	if fs.openFiles > container.NumOpenFiles {
		return -1, newErr("open", KindTooManyOpen, nil)
	}

	idx := fs.findSlotByName(name)
	if idx < 0 {
		return -1, newErr("open", KindNoSuchEntry, nil)
	}

	entry := &fs.entries[idx]
	authorized := uid == entry.UID || gid == entry.GID
	if fs.cfg.StrictPermission {
		authorized = uid == entry.UID && gid == entry.GID
	}
	if !authorized {
		return -1, newErr("open", KindPermissionDenied, nil)
	}
	if entry.OpenIndex != -1 {
		return -1, newErr("open", KindPermissionDenied, nil)
	}

	entry.OpenIndex = int16(fs.openFiles)
	fs.openFiles++
	fs.caches[idx] = newOpenCache()
	return int32(idx), nil
}

// Release closes a handle previously returned by Open.
func (fs *FS) Release(handle int32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if handle < 0 || int(handle) >= container.NumDirEntries || !fs.used[handle] {
		return newErr("release", KindNoSuchEntry, nil)
	}
	entry := &fs.entries[handle]
	if entry.OpenIndex < 0 {
		return newErr("release", KindBadHandle, nil)
	}
	entry.OpenIndex = -1
	fs.openFiles--
	return nil
}

// maybeFlush persists metadata to the container device when the FS is
// configured to flush on every mutation. idx, if >= 0, is the directory
// slot whose record changed.
func (fs *FS) maybeFlush(idx int) error {
	if !fs.cfg.FlushOnMutation || fs.dev == nil {
		return nil
	}
	return fs.flushLocked(idx)
}
