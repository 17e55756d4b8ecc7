package myfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/myfs/myfs/internal/container"
)

// newTestFS builds a fresh container holding the given host files and
// returns a loaded FS over it. FlushOnMutation is left unset, so metadata
// reaches the container only through an explicit Flush.
func newTestFS(t *testing.T, hostFiles map[string][]byte) *FS {
	t.Helper()

	dir := t.TempDir()
	var paths []string
	for name, content := range hostFiles {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, content, 0644); err != nil {
			t.Fatalf("WriteFile(%s): %v", p, err)
		}
		paths = append(paths, p)
	}

	containerPath := filepath.Join(dir, "container.bin")
	if len(paths) == 0 {
		dev, err := container.Create(containerPath)
		if err != nil {
			t.Fatalf("container.Create: %v", err)
		}
		sb := container.NewSuperBlock()
		buf, err := sb.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if err := dev.WriteBlock(container.SuperBlockStart, buf); err != nil {
			t.Fatalf("WriteBlock(superblock): %v", err)
		}
		for i := 0; i < container.DMapCount; i++ {
			block := make([]byte, container.BlockSize)
			for j := range block {
				block[j] = container.FreeMark
			}
			if err := dev.WriteBlock(container.DMapStart+int64(i), block); err != nil {
				t.Fatalf("WriteBlock(dmap): %v", err)
			}
		}
		for i := 0; i < container.FATCount; i++ {
			block := make([]byte, container.BlockSize)
			for j := 0; j < container.BlockSize; j += 4 {
				block[j], block[j+1], block[j+2], block[j+3] = 0xff, 0xff, 0xff, 0xff
			}
			if err := dev.WriteBlock(container.FATStart+int64(i), block); err != nil {
				t.Fatalf("WriteBlock(fat): %v", err)
			}
		}
		for i := 0; i < container.NumDirEntries; i++ {
			entry := container.DirEntry{}
			buf, err := entry.Marshal()
			if err != nil {
				t.Fatalf("Marshal(entry): %v", err)
			}
			if err := dev.WriteBlock(container.RootStart+int64(i), buf); err != nil {
				t.Fatalf("WriteBlock(root): %v", err)
			}
		}
		if err := dev.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	} else if _, err := container.Build(containerPath, paths); err != nil {
		t.Fatalf("container.Build: %v", err)
	}

	fs := NewFS(Config{ContainerPath: containerPath}.Resolve())
	if err := fs.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestLoadEmptyContainer(t *testing.T) {
	fs := newTestFS(t, nil)
	if names := fs.ReadDir(); len(names) != 0 {
		t.Fatalf("ReadDir = %v, want empty", names)
	}
}

func TestLoadPopulatesExistingFiles(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"a.txt": []byte("hello")})

	names := fs.ReadDir()
	if len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("ReadDir = %v, want [a.txt]", names)
	}

	attr, err := fs.GetAttr("a.txt")
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if attr.Size != 5 {
		t.Fatalf("Size = %d, want 5", attr.Size)
	}
}

func TestGetAttrMissingIsNoSuchEntry(t *testing.T) {
	fs := newTestFS(t, nil)
	_, err := fs.GetAttr("missing")
	if KindOf(err) != KindNoSuchEntry {
		t.Fatalf("KindOf(GetAttr error) = %v, want %v", KindOf(err), KindNoSuchEntry)
	}
}

func TestMkNodCreatesEmptyEntry(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("new.txt", 0644, 1000, 1000); err != nil {
		t.Fatalf("MkNod: %v", err)
	}

	attr, err := fs.GetAttr("new.txt")
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if attr.Size != 0 {
		t.Fatalf("Size = %d, want 0", attr.Size)
	}
	if attr.UID != 1000 || attr.GID != 1000 {
		t.Fatalf("UID/GID = %d/%d, want 1000/1000", attr.UID, attr.GID)
	}
}

func TestMkNodDuplicateNameIsExists(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"a.txt": []byte("x")})
	err := fs.MkNod("a.txt", 0644, 0, 0)
	if KindOf(err) != KindExists {
		t.Fatalf("KindOf(MkNod duplicate) = %v, want %v", KindOf(err), KindExists)
	}
}

func TestMkNodFillsAllSlotsThenReturnsNoSpace(t *testing.T) {
	fs := newTestFS(t, nil)
	for i := 0; i < container.NumDirEntries; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+(i/26)%26)) + ".txt"
		if err := fs.MkNod(name, 0644, 0, 0); err != nil {
			t.Fatalf("MkNod(%d): %v", i, err)
		}
	}
	err := fs.MkNod("overflow.txt", 0644, 0, 0)
	if KindOf(err) != KindNoSpace {
		t.Fatalf("KindOf(MkNod overflow) = %v, want %v", KindOf(err), KindNoSpace)
	}
}

func TestUnlinkFreesSlotAndChain(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"a.txt": []byte("hello")})
	if err := fs.Unlink("a.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := fs.GetAttr("a.txt"); KindOf(err) != KindNoSuchEntry {
		t.Fatalf("GetAttr after Unlink: KindOf = %v, want %v", KindOf(err), KindNoSuchEntry)
	}
	if err := fs.MkNod("a.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod after Unlink: %v", err)
	}
}

func TestUnlinkMissingIsNoSuchEntry(t *testing.T) {
	fs := newTestFS(t, nil)
	err := fs.Unlink("missing")
	if KindOf(err) != KindNoSuchEntry {
		t.Fatalf("KindOf(Unlink missing) = %v, want %v", KindOf(err), KindNoSuchEntry)
	}
}

func TestOpenPermissionOrSemantics(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("a.txt", 0644, 1000, 2000); err != nil {
		t.Fatalf("MkNod: %v", err)
	}

	if _, err := fs.Open("a.txt", 1000, 9999); err != nil {
		t.Fatalf("Open(matching uid): %v", err)
	}
	if err := fs.Release(0); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := fs.Open("a.txt", 9999, 2000); err != nil {
		t.Fatalf("Open(matching gid): %v", err)
	}
	if err := fs.Release(0); err != nil {
		t.Fatalf("Release: %v", err)
	}

	_, err := fs.Open("a.txt", 9999, 9999)
	if KindOf(err) != KindPermissionDenied {
		t.Fatalf("KindOf(Open neither matches) = %v, want %v", KindOf(err), KindPermissionDenied)
	}
}

func TestOpenStrictPermissionRequiresBoth(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	containerPath := filepath.Join(dir, "container.bin")
	if _, err := container.Build(containerPath, []string{p}); err != nil {
		t.Fatalf("container.Build: %v", err)
	}

	fs := NewFS(Config{ContainerPath: containerPath, StrictPermission: true}.Resolve())
	if err := fs.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer fs.Close()

	attr, err := fs.GetAttr("a.txt")
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}

	if _, err := fs.Open("a.txt", attr.UID, 9999); KindOf(err) != KindPermissionDenied {
		t.Fatalf("KindOf(strict, gid mismatch) = %v, want %v", KindOf(err), KindPermissionDenied)
	}
	if _, err := fs.Open("a.txt", attr.UID, attr.GID); err != nil {
		t.Fatalf("Open(strict, both match): %v", err)
	}
}

func TestOpenAlreadyOpenIsPermissionDenied(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("a.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod: %v", err)
	}
	if _, err := fs.Open("a.txt", 0, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err := fs.Open("a.txt", 0, 0)
	if KindOf(err) != KindPermissionDenied {
		t.Fatalf("KindOf(reopen) = %v, want %v", KindOf(err), KindPermissionDenied)
	}
}

func TestReleaseUnknownHandleIsNoSuchEntry(t *testing.T) {
	fs := newTestFS(t, nil)
	err := fs.Release(5)
	if KindOf(err) != KindNoSuchEntry {
		t.Fatalf("KindOf(Release unknown) = %v, want %v", KindOf(err), KindNoSuchEntry)
	}
}

func TestReleaseNotOpenIsBadHandle(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("a.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod: %v", err)
	}

	// Slot 0 exists but was never opened.
	if err := fs.Release(0); KindOf(err) != KindBadHandle {
		t.Fatalf("KindOf(Release never-opened) = %v, want %v", KindOf(err), KindBadHandle)
	}
}

func TestReleaseTwiceIsBadHandleAndDoesNotCorruptOpenCount(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("a.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod: %v", err)
	}
	handle, err := fs.Open("a.txt", 0, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := fs.Release(handle); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := fs.Release(handle); KindOf(err) != KindBadHandle {
		t.Fatalf("KindOf(double Release) = %v, want %v", KindOf(err), KindBadHandle)
	}
	if fs.openFiles != 0 {
		t.Fatalf("openFiles = %d after double Release, want 0 (must not go negative)", fs.openFiles)
	}
}

func TestOpenPermitsOneMoreThanNumOpenFiles(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("a.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod: %v", err)
	}
	if err := fs.MkNod("b.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod: %v", err)
	}

	// The original's check runs before the current call's increment, so
	// an Open seen while openFiles already equals NumOpenFiles must
	// still succeed (one more than NumOpenFiles concurrently open).
	fs.openFiles = container.NumOpenFiles
	if _, err := fs.Open("a.txt", 0, 0); err != nil {
		t.Fatalf("Open at openFiles==NumOpenFiles: %v, want success", err)
	}

	fs.openFiles = container.NumOpenFiles + 1
	_, err := fs.Open("b.txt", 0, 0)
	if KindOf(err) != KindTooManyOpen {
		t.Fatalf("KindOf(Open at openFiles==NumOpenFiles+1) = %v, want %v", KindOf(err), KindTooManyOpen)
	}
}

func TestFlushPersistsMutationsForNextLoad(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("a.txt", 0644, 42, 42); err != nil {
		t.Fatalf("MkNod: %v", err)
	}
	handle, err := fs.Open("a.txt", 42, 42)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.Write(handle, []byte("persisted"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// FlushOnMutation defaults to false (newTestFS does not set it), so
	// nothing has reached the container device yet except the data
	// blocks written directly by Write; Flush must still write back the
	// metadata (superblock file count, directory slot) unconditionally.
	if err := fs.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	containerPath := fs.cfg.ContainerPath
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded := NewFS(Config{ContainerPath: containerPath}.Resolve())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer reloaded.Close()

	attr, err := reloaded.GetAttr("a.txt")
	if err != nil {
		t.Fatalf("GetAttr after reload: %v", err)
	}
	if attr.Size != uint64(len("persisted")) {
		t.Fatalf("Size after reload = %d, want %d", attr.Size, len("persisted"))
	}

	reloadedHandle, err := reloaded.Open("a.txt", 42, 42)
	if err != nil {
		t.Fatalf("Open after reload: %v", err)
	}
	got := make([]byte, len("persisted"))
	if _, err := reloaded.Read(reloadedHandle, got, 0); err != nil {
		t.Fatalf("Read after reload: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("content after reload = %q, want %q", got, "persisted")
	}
}

func TestWithoutFlushMutationsDoNotSurviveReload(t *testing.T) {
	fs := newTestFS(t, nil)
	if err := fs.MkNod("a.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod: %v", err)
	}
	containerPath := fs.cfg.ContainerPath
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded := NewFS(Config{ContainerPath: containerPath}.Resolve())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer reloaded.Close()

	if _, err := reloaded.GetAttr("a.txt"); KindOf(err) != KindNoSuchEntry {
		t.Fatalf("GetAttr after unflushed close: KindOf = %v, want %v (mknod should not have survived)", KindOf(err), KindNoSuchEntry)
	}
}

func TestReadDirSlotsAreStableAcrossUnrelatedMutation(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"a.txt": []byte("1"), "b.txt": []byte("2")})

	slots := fs.ReadDirSlots()
	var aIdx int
	for _, s := range slots {
		if s.Name == "a.txt" {
			aIdx = s.Index
		}
	}

	if err := fs.MkNod("c.txt", 0644, 0, 0); err != nil {
		t.Fatalf("MkNod: %v", err)
	}

	name, ok := fs.NameAt(aIdx)
	if !ok || name != "a.txt" {
		t.Fatalf("NameAt(%d) = %q, %v; want a.txt, true", aIdx, name, ok)
	}
}
