package flashspi

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
)

// The status register's block-protect field addresses 1 << BPBits
// equal-sized regions anchored at the top of the part. BP value v > 0
// protects the top (1 << (v-1)) regions; large fields saturate to the whole
// part.

func (d *Device) bpMax() uint8 {
	return uint8(1)<<d.cfg.BPBits - 1
}

// protFirst returns the first protected address for BP field value v.
// v == 0 protects nothing, expressed as "protection starts at capacity".
func (d *Device) protFirst(v uint8) uint32 {
	cap := d.info.Capacity()
	if v == 0 {
		return cap
	}
	regions := uint32(1) << d.cfg.BPBits
	span := (uint32(1) << (v - 1)) * (cap / regions)
	if span >= cap {
		return 0
	}
	return cap - span
}

// checkProtected rejects writes and erases that touch the currently
// protected top-anchored range.
func (d *Device) checkProtected(addr, n uint32) error {
	if d.cfg.BPBits == 0 || d.bp == 0 || n == 0 {
		return nil
	}
	if addr+n > d.protFirst(d.bp) {
		return &errcode.E{C: errcode.Protected, Op: "flashspi", Msg: "range inside block-protect region"}
	}
	return nil
}

// setBP writes the new block-protect field into the status register,
// atomically and only when it differs from the current one.
func (d *Device) setBP(v uint8) error {
	sr, err := d.readStatus()
	if err != nil {
		return err
	}
	mask := d.bpMax() << bpShift
	next := sr&^mask | v<<bpShift
	if next != sr {
		if err := d.writeStatus(next); err != nil {
			return err
		}
	}
	d.bp = v
	return nil
}

// WriteProtect picks the smallest BP value whose protected region covers
// addr (the regions grow downward from the top of the part).
func (d *Device) WriteProtect(addr, n uint32) error {
	if err := nvm.CheckRange(d.info, addr, int(n)); err != nil {
		return err
	}
	if d.cfg.BPBits == 0 {
		return nil // no BP field on this part; accepted no-op
	}
	for v := uint8(1); v <= d.bpMax(); v++ {
		if d.protFirst(v) <= addr {
			return d.setBP(v)
		}
	}
	// even the widest region does not reach down to addr
	return &errcode.E{C: errcode.Unsupported, Op: "flashspi protect", Msg: "range below protectable span"}
}

// WriteUnprotect picks the largest BP value whose protected region stays
// above addr+n, keeping as much of the part protected as possible.
func (d *Device) WriteUnprotect(addr, n uint32) error {
	if err := nvm.CheckRange(d.info, addr, int(n)); err != nil {
		return err
	}
	if d.cfg.BPBits == 0 {
		return nil
	}
	for v := d.bpMax(); v > 0; v-- {
		if d.protFirst(v) >= addr+n {
			return d.setBP(v)
		}
	}
	return d.setBP(0)
}

func (d *Device) MassWriteProtect() error {
	if d.cfg.BPBits == 0 {
		return nil
	}
	return d.setBP(d.bpMax())
}

func (d *Device) MassWriteUnprotect() error {
	if d.cfg.BPBits == 0 {
		return nil
	}
	return d.setBP(0)
}
