package tinyfsblk

import (
	"bytes"
	"testing"

	"nvmcode-go/drivers/filenvm"
)

func startMem(t *testing.T) *filenvm.Mem {
	t.Helper()
	m := filenvm.NewMem(filenvm.MemConfig{SectorSize: 64, SectorNum: 4})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestGeometryMapping(t *testing.T) {
	b, err := Wrap(startMem(t))
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Size(); got != 256 {
		t.Fatalf("Size() = %d, want 256", got)
	}
	if got := b.EraseBlockSize(); got != 64 {
		t.Fatalf("EraseBlockSize() = %d, want 64", got)
	}
	if got := b.WriteBlockSize(); got != 1 {
		t.Fatalf("WriteBlockSize() = %d, want 1", got)
	}
}

func TestReadWriteAt(t *testing.T) {
	b, err := Wrap(startMem(t))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4}
	if _, err := b.WriteAt(want, 100); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if n, err := b.ReadAt(got, 100); err != nil || n != 4 {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestEraseBlocks(t *testing.T) {
	m := startMem(t)
	b, err := Wrap(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.WriteAt([]byte{0x00, 0x00}, 64); err != nil {
		t.Fatal(err)
	}
	if err := b.EraseBlocks(1, 1); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 2)
	if _, err := b.ReadAt(got, 64); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xFF || got[1] != 0xFF {
		t.Fatalf("block not erased: % x", got)
	}
	if m.EraseCalls != 1 {
		t.Fatalf("EraseCalls = %d, want 1", m.EraseCalls)
	}
}

func TestWrapNotReady(t *testing.T) {
	m := filenvm.NewMem(filenvm.MemConfig{SectorSize: 64, SectorNum: 4})
	if _, err := Wrap(m); err == nil {
		t.Fatal("expected error for unstarted device")
	}
}
