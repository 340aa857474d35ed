package nvm

import "nvmcode-go/errcode"

// CheckRange verifies [addr, addr+n) fits the device span.
func CheckRange(info Info, addr uint32, n int) error {
	if n < 0 {
		return errcode.Range
	}
	cap := uint64(info.Capacity())
	if uint64(addr)+uint64(n) > cap {
		return errcode.Range
	}
	return nil
}

// CheckErase verifies an erase range: sector-aligned start and length,
// inside the device span.
func CheckErase(info Info, addr, n uint32) error {
	if err := CheckRange(info, addr, int(n)); err != nil {
		return err
	}
	if info.SectorSize == 0 {
		return errcode.InvalidConfig
	}
	if addr%info.SectorSize != 0 || n%info.SectorSize != 0 {
		return errcode.Alignment
	}
	return nil
}

// CheckWrite verifies a write range against the descriptor's alignment.
// Devices that pad internally skip this and advertise WriteAlign 0.
func CheckWrite(info Info, addr uint32, n int) error {
	if err := CheckRange(info, addr, n); err != nil {
		return err
	}
	if a := uint32(info.WriteAlign); a > 1 {
		if addr%a != 0 || uint32(n)%a != 0 {
			return errcode.Alignment
		}
	}
	return nil
}

// PowerOfTwo reports whether v is a nonzero power of two.
func PowerOfTwo(v uint32) bool { return v != 0 && v&(v-1) == 0 }
