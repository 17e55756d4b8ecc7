// Package bridge adapts internal/myfs's runtime filesystem state machine
// to the jacobsa/fuse fuseutil.FileSystem interface, translating between
// FUSE inode/handle identifiers and myfs's stable directory slot indices,
// and mapping myfs error kinds onto the errno values FUSE expects.
package bridge

import (
	"context"
	"log"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/myfs/myfs/internal/myfs"
)

const rootInode fuseops.InodeID = fuseops.RootInodeID

// slotInode and slotFromInode translate between myfs's 0-based directory
// slot index and FUSE's 1-based inode numbers (inode 1 is the root).
func slotInode(idx int) fuseops.InodeID { return fuseops.InodeID(idx) + rootInode + 1 }

func slotFromInode(inode fuseops.InodeID) int { return int(inode - rootInode - 1) }

// FS implements fuseutil.FileSystem over a *myfs.FS. The embedded
// NotImplementedFileSystem answers every call this type doesn't override
// with ENOSYS, matching operations the flat layout has no use for
// (symlinks, hardlinks, xattrs, rename, mkdir).
type FS struct {
	fuseutil.NotImplementedFileSystem

	fs     *myfs.FS
	logger *log.Logger
}

// New wraps fs for serving over FUSE. If logger is nil, calls are not
// logged.
func New(fs *myfs.FS, logger *log.Logger) *FS {
	return &FS{fs: fs, logger: logger}
}

func (a *FS) logf(format string, args ...interface{}) {
	if a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}

// errno maps a myfs error onto the errno fuse.Mount expects callbacks to
// return; see SPEC_FULL.md §7.
func errno(err error) error {
	if err == nil {
		return nil
	}
	switch myfs.KindOf(err) {
	case myfs.KindNoSuchEntry:
		return fuse.ENOENT
	case myfs.KindExists:
		return fuse.EEXIST
	case myfs.KindNoSpace:
		return fuse.ENOSPC
	case myfs.KindTooManyOpen:
		return fuse.EMFILE
	case myfs.KindPermissionDenied:
		return fuse.EACCES
	case myfs.KindBadHandle:
		return fuse.EBADF
	case myfs.KindNoSuchAddress:
		return fuse.ENXIO
	case myfs.KindNotADirectory:
		return fuse.ENOTDIR
	default:
		return fuse.EIO
	}
}

// invokingIDs returns the uid/gid of the process that issued the call.
// jacobsa/fuse's OpContext only carries Uid; the gid of the process that
// mounted the filesystem is used in its place, since the FUSE protocol
// binding this bridge is built against does not surface the caller's gid.
func invokingIDs(ctx fuseops.OpContext) (uid, gid uint32) {
	return ctx.Uid, uint32(os.Getgid())
}

func fuseAttrFromRoot(a myfs.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 2,
		Mode:  os.ModeDir | os.FileMode(a.Mode&0777),
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
	}
}

func fuseAttrFromFile(a myfs.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: 1,
		Mode:  os.FileMode(a.Mode & 0777),
		Uid:   a.UID,
		Gid:   a.GID,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
	}
}

func (a *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 512
	op.Blocks = 1
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.IoSize = 4096
	return nil
}

func (a *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if op.Parent != rootInode {
		return fuse.ENOENT
	}
	for _, slot := range a.fs.ReadDirSlots() {
		if slot.Name != op.Name {
			continue
		}
		attr, ok := a.fs.AttrAt(slot.Index)
		if !ok {
			return fuse.ENOENT
		}
		op.Entry.Child = slotInode(slot.Index)
		op.Entry.Attributes = fuseAttrFromFile(attr)
		return nil
	}
	return fuse.ENOENT
}

func (a *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == rootInode {
		op.Attributes = fuseAttrFromRoot(a.fs.RootAttr())
		return nil
	}
	attr, ok := a.fs.AttrAt(slotFromInode(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	op.Attributes = fuseAttrFromFile(attr)
	return nil
}

func (a *FS) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	a.logf("mknod %s mode=%v", op.Name, op.Mode)
	if op.Parent != rootInode {
		return fuse.ENOTDIR
	}
	uid, gid := invokingIDs(op.OpContext)
	if err := a.fs.MkNod(op.Name, uint32(op.Mode), uid, gid); err != nil {
		return errno(err)
	}
	idx, ok := slotByName(a.fs, op.Name)
	if !ok {
		return fuse.EIO
	}
	attr, _ := a.fs.AttrAt(idx)
	op.Entry.Child = slotInode(idx)
	op.Entry.Attributes = fuseAttrFromFile(attr)
	return nil
}

func (a *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	a.logf("unlink %s", op.Name)
	if op.Parent != rootInode {
		return fuse.ENOTDIR
	}
	return errno(a.fs.Unlink(op.Name))
}

func (a *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	idx := slotFromInode(op.Inode)
	name, ok := a.fs.NameAt(idx)
	if !ok {
		return fuse.ENOENT
	}
	uid, gid := invokingIDs(op.OpContext)
	handle, err := a.fs.Open(name, uid, gid)
	if err != nil {
		return errno(err)
	}
	op.Handle = fuseops.HandleID(handle)
	op.KeepPageCache = false
	a.logf("open %s handle=%d", name, handle)
	return nil
}

func (a *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	n, err := a.fs.Read(int32(op.Handle), op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil {
		return errno(err)
	}
	return nil
}

// WriteFile requires exactly len(op.Data) bytes to be written on success;
// the FUSE protocol has no partial-write-with-success reply, so a short
// write (myfs.Write clamping growth to remaining capacity) is reported
// as ENOSPC instead of silently truncating the caller's data.
func (a *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	n, err := a.fs.Write(int32(op.Handle), op.Data, op.Offset)
	if err != nil {
		return errno(err)
	}
	if n < len(op.Data) {
		return fuse.ENOSPC
	}
	return nil
}

func (a *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return errno(a.fs.Release(int32(op.Handle)))
}

func (a *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOTDIR
	}
	return nil
}

func (a *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOTDIR
	}

	entries := []fuseutil.Dirent{
		{Offset: 1, Inode: rootInode, Name: ".", Type: fuseutil.DT_Directory},
		{Offset: 2, Inode: rootInode, Name: "..", Type: fuseutil.DT_Directory},
	}
	for i, slot := range a.fs.ReadDirSlots() {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(3 + i),
			Inode:  slotInode(slot.Index),
			Name:   slot.Name,
			Type:   fuseutil.DT_File,
		})
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (a *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

// Destroy flushes metadata to the container unconditionally, so mutations
// made during the mount survive even when Config.FlushOnMutation is unset.
func (a *FS) Destroy() {
	if err := a.fs.Flush(); err != nil {
		a.logf("destroy: flush: %v", err)
	}
}

func slotByName(fs *myfs.FS, name string) (int, bool) {
	for _, slot := range fs.ReadDirSlots() {
		if slot.Name == name {
			return slot.Index, true
		}
	}
	return 0, false
}

// Mount mounts fs at mountpoint and returns once the filesystem server is
// ready to serve requests. The returned mfs must be joined (mfs.Join) by
// the caller to block until unmount.
func Mount(mountpoint string, fs *myfs.FS, logger *log.Logger) (*fuse.MountedFileSystem, error) {
	server := fuseutil.NewFileSystemServer(New(fs, logger))
	cfg := &fuse.MountConfig{
		FSName:   "myfs",
		ReadOnly: false,
		Options: map[string]string{
			"allow_other": "",
		},
	}
	if logger != nil {
		cfg.DebugLogger = logger
	}
	return fuse.Mount(mountpoint, server, cfg)
}
