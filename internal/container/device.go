package container

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors surfaced by Device. Callers higher up the stack translate
// these into the myfs error kinds of SPEC_FULL.md §7.
var (
	ErrNotFound   = errors.New("container: not found")
	ErrOutOfRange = errors.New("container: block index out of range")
)

// Device is the fixed-size 512-byte-block random-access store backing a
// container file. It knows nothing about superblocks, allocation maps or
// directories — only about reading and writing whole blocks.
type Device struct {
	f *os.File
}

// Create truncates or creates path to exactly ContainerSize bytes, ready to
// be formatted by a Builder.
func Create(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("container: create %s: %w", path, err)
	}
	if err := f.Truncate(ContainerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("container: truncate %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Open attaches to an existing container file.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("container: open %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Close releases the underlying host file descriptor.
func (d *Device) Close() error {
	return d.f.Close()
}

// ReadBlock reads BlockSize bytes from the block at idx.
func (d *Device) ReadBlock(idx int64) ([]byte, error) {
	if idx < 0 || idx >= ContainerBlocks {
		return nil, fmt.Errorf("container: read block %d: %w", idx, ErrOutOfRange)
	}
	buf := make([]byte, BlockSize)
	if _, err := d.f.ReadAt(buf, idx*BlockSize); err != nil {
		return nil, fmt.Errorf("container: read block %d: %w", idx, err)
	}
	return buf, nil
}

// WriteBlock writes buf (which must be exactly BlockSize bytes) to the
// block at idx.
func (d *Device) WriteBlock(idx int64, buf []byte) error {
	if idx < 0 || idx >= ContainerBlocks {
		return fmt.Errorf("container: write block %d: %w", idx, ErrOutOfRange)
	}
	if len(buf) != BlockSize {
		return fmt.Errorf("container: write block %d: buffer is %d bytes, want %d", idx, len(buf), BlockSize)
	}
	if _, err := d.f.WriteAt(buf, idx*BlockSize); err != nil {
		return fmt.Errorf("container: write block %d: %w", idx, err)
	}
	return nil
}
