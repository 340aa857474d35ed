// Package nvmtest holds the conformance checks every device implementation
// runs from its own test file. The helpers take a started device.
package nvmtest

import (
	"bytes"
	"testing"

	"nvmcode-go/nvm"
)

// Descriptor checks the descriptor invariants: power-of-two sector size,
// idempotent Info, sane span.
func Descriptor(t *testing.T, d nvm.Device) {
	t.Helper()

	info, err := d.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.SectorSize != 1 && !nvm.PowerOfTwo(info.SectorSize) {
		t.Fatalf("sector size %d not a power of two", info.SectorSize)
	}
	if info.SectorNum == 0 {
		t.Fatal("zero sector count")
	}
	again, err := d.Info()
	if err != nil {
		t.Fatalf("Info (second): %v", err)
	}
	if info != again {
		t.Fatalf("Info not idempotent: %+v vs %+v", info, again)
	}
}

// RoundTrip checks write/sync/read returns exactly the payload.
func RoundTrip(t *testing.T, d nvm.Device, addr uint32, payload []byte) {
	t.Helper()

	if err := d.Write(addr, payload); err != nil {
		t.Fatalf("Write(%d, %d bytes): %v", addr, len(payload), err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got := make([]byte, len(payload))
	if err := d.Read(addr, got); err != nil {
		t.Fatalf("Read(%d, %d): %v", addr, len(payload), err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip at %d: got % x want % x", addr, got, payload)
	}
}

// EraseFill checks erase(a, n); sync; read yields n bytes of 0xFF.
func EraseFill(t *testing.T, d nvm.Device, addr, n uint32) {
	t.Helper()

	if err := d.Erase(addr, n); err != nil {
		t.Fatalf("Erase(%d, %d): %v", addr, n, err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got := make([]byte, n)
	if err := d.Read(addr, got); err != nil {
		t.Fatalf("Read(%d, %d): %v", addr, n, err)
	}
	for i, b := range got {
		if b != 0xFF {
			t.Fatalf("byte %d after erase: %#02x, want 0xFF", addr+uint32(i), b)
		}
	}
}

// RangeErrors checks out-of-span operations fail without panicking.
func RangeErrors(t *testing.T, d nvm.Device) {
	t.Helper()

	info, err := d.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	cap := info.Capacity()
	if err := d.Read(cap, make([]byte, 1)); err == nil {
		t.Fatal("read past end accepted")
	}
	if err := d.Write(cap-1, []byte{0, 0}); err == nil {
		t.Fatal("write crossing end accepted")
	}
	if err := d.Erase(cap, info.SectorSize); err == nil {
		t.Fatal("erase past end accepted")
	}
	if d.State() != nvm.Ready {
		t.Fatalf("device not resumable after range errors: %v", d.State())
	}
}

// Run executes the whole common suite against a freshly started, erased
// device. It erases the first sectors as part of the checks.
func Run(t *testing.T, d nvm.Device) {
	t.Helper()

	Descriptor(t, d)
	info, _ := d.Info()

	EraseFill(t, d, 0, info.SectorSize)
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	addr := uint32(0)
	if a := uint32(info.WriteAlign); a > 1 {
		// keep length a multiple of the alignment
		for uint32(len(payload))%a != 0 {
			payload = append(payload, 0x5A)
		}
	}
	RoundTrip(t, d, addr, payload)
	EraseFill(t, d, 0, info.SectorSize)
	RangeErrors(t, d)
}
