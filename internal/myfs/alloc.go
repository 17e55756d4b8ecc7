package myfs

import "github.com/myfs/myfs/internal/container"

// findFreeSlot returns the index of the first unused root directory slot,
// or -1 if all NumDirEntries slots are occupied.
func (fs *FS) findFreeSlot() int {
	for i := 0; i < container.NumDirEntries; i++ {
		if !fs.used[i] {
			return i
		}
	}
	return -1
}

// findSlotByName returns the index of the occupied slot named name, or -1.
func (fs *FS) findSlotByName(name string) int {
	for i := 0; i < container.NumDirEntries; i++ {
		if fs.used[i] && fs.entries[i].NameString() == name {
			return i
		}
	}
	return -1
}

// assignFreeDataBlock finds the first free block in the allocation map,
// marks it used and terminates its chain, and returns its index. Returns
// -1 if the data region is exhausted.
func (fs *FS) assignFreeDataBlock() int32 {
	for i := 0; i < container.DataRegionBlocks; i++ {
		if fs.dmap[i] == container.FreeMark {
			fs.dmap[i] = container.UsedMark
			fs.fat[i] = container.EndOfChain
			return int32(i)
		}
	}
	return container.EndOfChain
}

// freeChain walks the block chain starting at first, marking every block
// free and terminated.
func (fs *FS) freeChain(first int32) {
	for first != container.EndOfChain {
		next := fs.fat[first]
		fs.fat[first] = container.EndOfChain
		fs.dmap[first] = container.FreeMark
		first = next
	}
}
