package mcuflash

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
)

// Write protection and read-out protection live in the option bytes. Each
// call reads the current bit vector, computes the new one and only commits
// when it differs; the hardware exposes no richer error surface than a
// parameter-range violation.

// RDPLevel is the ordered read-out-protection triple L0 < L1 < L2.
type RDPLevel uint8

const (
	RDP0 RDPLevel = iota // open part
	RDP1                 // debug read-out blocked; downgrade mass-erases
	RDP2                 // permanent
)

// nWRP semantics: a cleared bit write-protects its sector.

func (d *Device) setSectorProtection(addr, n uint32, protect bool) error {
	if err := nvm.CheckRange(d.info, addr, int(n)); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	bankSectors := len(d.cfg.Geometry.Sectors)
	reg := func(idx int) Reg {
		if idx >= bankSectors {
			return RegOPTCR1
		}
		return RegOPTCR
	}

	staged := map[Reg]uint32{RegOPTCR: d.ctrl.ReadReg(RegOPTCR)}
	if d.cfg.Geometry.Mirror {
		staged[RegOPTCR1] = d.ctrl.ReadReg(RegOPTCR1)
	}

	end := addr + n
	for addr < end {
		idx, start, size, ok := d.cfg.Geometry.sectorAt(addr)
		if !ok {
			return errcode.Range
		}
		bit := uint32(1) << (optWRPShift + uint32(idx%bankSectors))
		r := reg(idx)
		if protect {
			staged[r] &^= bit
		} else {
			staged[r] |= bit
		}
		addr = start + size
	}

	return d.commitOptions(staged)
}

func (d *Device) WriteProtect(addr, n uint32) error {
	return d.setSectorProtection(addr, n, true)
}

func (d *Device) WriteUnprotect(addr, n uint32) error {
	return d.setSectorProtection(addr, n, false)
}

func (d *Device) MassWriteProtect() error {
	return d.setSectorProtection(0, d.info.Capacity(), true)
}

func (d *Device) MassWriteUnprotect() error {
	return d.setSectorProtection(0, d.info.Capacity(), false)
}

// ReadProtection decodes the current RDP byte.
func (d *Device) ReadProtection() RDPLevel {
	return decodeRDP(d.ctrl.ReadReg(RegOPTCR))
}

func decodeRDP(optcr uint32) RDPLevel {
	switch byte(optcr >> optRDPShift) {
	case rdpL0:
		return RDP0
	case rdpL2:
		return RDP2
	default:
		return RDP1
	}
}

// SetReadProtection moves between RDP levels. Leaving L2 is impossible; the
// documented L1 -> L0 downgrade mass-erases user flash before the level
// change takes effect (the option-byte controller does this itself).
func (d *Device) SetReadProtection(level RDPLevel) error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	cur := d.ReadProtection()
	if cur == level {
		return nil
	}
	if cur == RDP2 {
		return &errcode.E{C: errcode.Protected, Op: "mcuflash rdp", Msg: "level two is irreversible"}
	}

	var b byte
	switch level {
	case RDP0:
		b = rdpL0
	case RDP2:
		b = rdpL2
	case RDP1:
		b = 0x00 // any byte that is neither L0 nor L2
	default:
		return errcode.Range
	}

	optcr := d.ctrl.ReadReg(RegOPTCR)
	staged := optcr&^uint32(optRDPMask) | uint32(b)<<optRDPShift
	return d.commitOptions(map[Reg]uint32{RegOPTCR: staged})
}

// commitOptions writes changed option registers through the unlock/start
// sequence and relocks.
func (d *Device) commitOptions(staged map[Reg]uint32) error {
	changed := false
	for r, v := range staged {
		if d.ctrl.ReadReg(r)&^uint32(optLOCK|optSTRT) != v&^uint32(optLOCK|optSTRT) {
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := d.waitIdle(); err != nil {
		return err
	}
	d.ctrl.WriteReg(RegOPTKEYR, OptKey1)
	d.ctrl.WriteReg(RegOPTKEYR, OptKey2)

	for r, v := range staged {
		d.ctrl.WriteReg(r, v&^uint32(optLOCK|optSTRT))
	}
	optcr := d.ctrl.ReadReg(RegOPTCR)
	d.ctrl.WriteReg(RegOPTCR, optcr|optSTRT)
	if err := d.waitIdle(); err != nil {
		return err
	}
	d.ctrl.WriteReg(RegOPTCR, d.ctrl.ReadReg(RegOPTCR)|optLOCK)
	return nil
}
