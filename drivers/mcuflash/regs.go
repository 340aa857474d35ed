package mcuflash

// Reg names the flash-interface registers the driver touches.
type Reg uint8

const (
	RegKEYR Reg = iota // programming unlock key register
	RegOPTKEYR
	RegSR
	RegCR
	RegOPTCR  // option bytes, bank one
	RegOPTCR1 // option bytes, mirror bank (dual-bank parts only)
)

// Vendor two-word unlock sequences.
const (
	Key1    = 0x45670123
	Key2    = 0xCDEF89AB
	OptKey1 = 0x08192A3B
	OptKey2 = 0x4C5D6E7F
)

// CR bits.
const (
	crPG       = 1 << 0
	crSER      = 1 << 1
	crMER      = 1 << 2
	crSNBShift = 3
	crSNBMask  = 0x1F << crSNBShift
	crPSZShift = 8
	crPSZMask  = 0x3 << crPSZShift
	crMER1     = 1 << 15
	crSTRT     = 1 << 16
	crLOCK     = 1 << 31
)

// SR bits.
const (
	srWRPERR = 1 << 4
	srPGAERR = 1 << 5
	srPGPERR = 1 << 6
	srPGSERR = 1 << 7
	srBUSY   = 1 << 16

	srErrMask = srWRPERR | srPGAERR | srPGPERR | srPGSERR
)

// OPTCR layout.
const (
	optLOCK     = 1 << 0
	optSTRT     = 1 << 1
	optRDPShift = 8
	optRDPMask  = 0xFF << optRDPShift
	optWRPShift = 16
	optWRPMask  = 0xFFF << optWRPShift
)

// RDP level bytes. Any byte that is neither L0 nor L2 reads as level one.
const (
	rdpL0 = 0xAA
	rdpL2 = 0xCC
)

// Controller is the port between the driver and the flash interface: the
// memory-mapped window, the register file, and the programming strobe.
// Hardware backends map these straight onto the peripheral; Sim backs them
// with RAM for host tests.
type Controller interface {
	// ReadMem copies from the memory-mapped flash window.
	ReadMem(addr uint32, p []byte) error
	// Program issues one store of len(p) bytes (1, 2, 4 or 8) at addr
	// while CR carries PG and the matching PSIZE.
	Program(addr uint32, p []byte) error
	ReadReg(r Reg) uint32
	WriteReg(r Reg, v uint32)
}
