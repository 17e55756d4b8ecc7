package container

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestDeviceCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.bin")

	dev, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	frame := bytes.Repeat([]byte{0xab}, BlockSize)
	if err := dev.WriteBlock(DataStart, frame); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dev, err = Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	got, err := dev.ReadBlock(DataStart)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("ReadBlock returned %x, want %x", got[:4], frame[:4])
	}
}

func TestDeviceRejectsOutOfRangeBlocks(t *testing.T) {
	dev, err := Create(filepath.Join(t.TempDir(), "container.bin"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer dev.Close()

	if _, err := dev.ReadBlock(-1); err == nil {
		t.Fatal("ReadBlock(-1): want error, got nil")
	}
	if _, err := dev.ReadBlock(ContainerBlocks); err == nil {
		t.Fatal("ReadBlock(ContainerBlocks): want error, got nil")
	}
	if err := dev.WriteBlock(ContainerBlocks, make([]byte, BlockSize)); err == nil {
		t.Fatal("WriteBlock(ContainerBlocks): want error, got nil")
	}
}

func TestDeviceRejectsShortBuffer(t *testing.T) {
	dev, err := Create(filepath.Join(t.TempDir(), "container.bin"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer dev.Close()

	if err := dev.WriteBlock(DataStart, make([]byte, BlockSize-1)); err == nil {
		t.Fatal("WriteBlock with short buffer: want error, got nil")
	}
}

func TestOpenMissingContainerReturnsNotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.bin"))
	if err == nil {
		t.Fatal("Open(missing): want error, got nil")
	}
}
