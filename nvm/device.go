// Package nvm defines the contract every non-volatile-memory device in the
// stack satisfies, leaf or composite. Composite devices (partition, fee,
// ioblock) hold a non-owning reference to exactly one child Device and
// transform operations on the way through; the child must outlive the parent.
package nvm

// Info is the device descriptor. It is constant for the lifetime of a
// started device.
type Info struct {
	SectorSize     uint32  // smallest eraseable unit in bytes, power of two
	SectorNum      uint32  // sector count; SectorSize*SectorNum is the byte span
	Identification [3]byte // opaque tag ("Fv2", "FIL", JEDEC bytes, ...)
	WriteAlign     uint8   // 0 = byte-writable; else mandatory write alignment
}

// Capacity returns the total addressable byte span.
func (i Info) Capacity() uint32 { return i.SectorSize * i.SectorNum }

// Device is the polymorphic operation set every NVM device exposes.
//
// All operations return nil on success. Failures carry an errcode.Code;
// composites forward the first failure they see verbatim. Devices are
// resumable: after an observed failure the device is back in Ready and the
// next call may retry.
type Device interface {
	// Start moves Stop|Ready to Ready, caching whatever the device derives
	// from its configuration. Stop moves Ready to Stop.
	Start() error
	Stop() error

	// Read fills p from addr. Implies a sync of pending program/erase
	// activity before data is returned.
	Read(addr uint32, p []byte) error

	// Write programs p at addr. The range is durable after a subsequent
	// Sync. Write to erased bits only, unless the device documents
	// otherwise.
	Write(addr uint32, p []byte) error

	// Erase returns the n bytes at sector-aligned addr to all-ones.
	Erase(addr, n uint32) error

	// MassErase returns the entire device to all-ones.
	MassErase() error

	// Sync blocks until pending erase/write activity is committed.
	// Idempotent in Ready.
	Sync() error

	// Info returns the descriptor. Idempotent once started.
	Info() (Info, error)

	// Write protection is optional; devices without hardware support
	// range-check and no-op.
	WriteProtect(addr, n uint32) error
	WriteUnprotect(addr, n uint32) error
	MassWriteProtect() error
	MassWriteUnprotect() error

	// Acquire/Release bracket compound transactions when mutual exclusion
	// is configured. Composites acquire themselves first, then the child,
	// so siblings of one parent serialise.
	Acquire()
	Release()

	// State reports the lifecycle state for diagnostics.
	State() State
}
