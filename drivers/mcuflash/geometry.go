package mcuflash

// Geometry describes the non-uniform on-die sector layout of a part.
// Sizes are listed in address order for one bank; Mirror appends a second
// bank with the identical layout.
type Geometry struct {
	Sectors []uint32
	Mirror  bool
}

// F40x is the 1 MiB layout: four 16 KiB, one 64 KiB, seven 128 KiB sectors.
func F40x() Geometry {
	return Geometry{
		Sectors: []uint32{
			16 << 10, 16 << 10, 16 << 10, 16 << 10,
			64 << 10,
			128 << 10, 128 << 10, 128 << 10, 128 << 10, 128 << 10, 128 << 10, 128 << 10,
		},
	}
}

// F42x is the 2 MiB dual-bank variant of F40x.
func F42x() Geometry {
	g := F40x()
	g.Mirror = true
	return g
}

// sectorCount returns the number of physical sectors including the mirror
// bank.
func (g Geometry) sectorCount() int {
	n := len(g.Sectors)
	if g.Mirror {
		n *= 2
	}
	return n
}

// bankSize returns the byte span of one bank.
func (g Geometry) bankSize() uint32 {
	var total uint32
	for _, s := range g.Sectors {
		total += s
	}
	return total
}

// total returns the full byte span.
func (g Geometry) total() uint32 {
	if g.Mirror {
		return 2 * g.bankSize()
	}
	return g.bankSize()
}

// unit returns the greatest common sector granularity; the descriptor's
// sector size. Erase ranges aligned to it are mapped onto the enclosing
// physical sectors.
func (g Geometry) unit() uint32 {
	var u uint32
	for _, s := range g.Sectors {
		u = gcd(u, s)
	}
	return u
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// sectorAt returns the physical sector index enclosing addr together with
// its start and size. ok is false outside the part.
func (g Geometry) sectorAt(addr uint32) (idx int, start, size uint32, ok bool) {
	bank := 0
	if g.Mirror && addr >= g.bankSize() {
		bank = 1
		start = g.bankSize()
	}
	off := addr - start
	for i, s := range g.Sectors {
		if off < s {
			return bank*len(g.Sectors) + i, start, s, true
		}
		start += s
		off -= s
	}
	return 0, 0, 0, false
}

// sectorStart returns the start address of physical sector idx.
func (g Geometry) sectorStart(idx int) uint32 {
	var start uint32
	if idx >= len(g.Sectors) {
		start = g.bankSize()
		idx -= len(g.Sectors)
	}
	for i := 0; i < idx; i++ {
		start += g.Sectors[i]
	}
	return start
}

// sectorSize returns the size of physical sector idx.
func (g Geometry) sectorSize(idx int) uint32 {
	return g.Sectors[idx%len(g.Sectors)]
}

// snb returns the hardware sector-number encoding: bank-two sectors carry
// bit 4 set above index 16.
func snb(idx, bankSectors int) uint32 {
	if idx < bankSectors {
		return uint32(idx)
	}
	return 0x10 + uint32(idx-bankSectors)
}
