package mcuflash

import "nvmcode-go/errcode"

// Sim is a host-side Controller: the register file and flash array in RAM,
// with the same locking, protection and option-byte behaviour the driver
// sees on silicon. It backs the package tests and host builds of firmware
// that persists through this driver.
type Sim struct {
	geo Geometry
	mem []byte

	cr uint32
	sr uint32

	crLocked  bool
	keyStage  uint8
	optLocked bool
	optStage  uint8

	optcr   uint32 // committed option bytes, bank one
	optcr1  uint32
	regOpt  uint32 // staged register values before OPTSTRT
	regOpt1 uint32
}

var _ Controller = (*Sim)(nil)

// NewSim returns a fully erased part with all sectors unprotected and RDP
// level zero.
func NewSim(geo Geometry) *Sim {
	s := &Sim{
		geo:       geo,
		mem:       make([]byte, geo.total()),
		crLocked:  true,
		optLocked: true,
	}
	for i := range s.mem {
		s.mem[i] = 0xFF
	}
	s.optcr = uint32(optWRPMask) | uint32(rdpL0)<<optRDPShift
	s.optcr1 = uint32(optWRPMask)
	s.regOpt = s.optcr
	s.regOpt1 = s.optcr1
	return s
}

func (s *Sim) ReadMem(addr uint32, p []byte) error {
	if uint64(addr)+uint64(len(p)) > uint64(len(s.mem)) {
		return errcode.Range
	}
	copy(p, s.mem[addr:])
	return nil
}

func (s *Sim) Program(addr uint32, p []byte) error {
	if s.crLocked || s.cr&crPG == 0 {
		s.sr |= srPGSERR
		return nil
	}
	width := uint32(1) << ((s.cr & crPSZMask) >> crPSZShift)
	if uint32(len(p)) != width || addr%width != 0 {
		s.sr |= srPGAERR
		return nil
	}
	if uint64(addr)+uint64(len(p)) > uint64(len(s.mem)) {
		return errcode.Range
	}
	idx, _, _, _ := s.geo.sectorAt(addr)
	if s.protected(idx) {
		s.sr |= srWRPERR
		return nil
	}
	for i, b := range p {
		s.mem[addr+uint32(i)] &= b // programming only clears bits
	}
	return nil
}

func (s *Sim) ReadReg(r Reg) uint32 {
	switch r {
	case RegSR:
		return s.sr
	case RegCR:
		v := s.cr
		if s.crLocked {
			v |= crLOCK
		}
		return v
	case RegOPTCR:
		return s.regOpt
	case RegOPTCR1:
		return s.regOpt1
	default:
		return 0
	}
}

func (s *Sim) WriteReg(r Reg, v uint32) {
	switch r {
	case RegKEYR:
		switch {
		case s.keyStage == 0 && v == Key1:
			s.keyStage = 1
		case s.keyStage == 1 && v == Key2:
			s.crLocked = false
			s.keyStage = 0
		default:
			s.keyStage = 0
		}
	case RegOPTKEYR:
		switch {
		case s.optStage == 0 && v == OptKey1:
			s.optStage = 1
		case s.optStage == 1 && v == OptKey2:
			s.optLocked = false
			s.optStage = 0
		default:
			s.optStage = 0
		}
	case RegSR:
		s.sr &^= v & srErrMask // write one to clear
	case RegCR:
		s.writeCR(v)
	case RegOPTCR:
		if !s.optLocked {
			s.regOpt = v &^ uint32(optLOCK|optSTRT)
			if v&optSTRT != 0 {
				s.commitOptions()
			}
		}
		if v&optLOCK != 0 {
			s.optLocked = true
		}
	case RegOPTCR1:
		if !s.optLocked {
			s.regOpt1 = v &^ uint32(optLOCK|optSTRT)
		}
	}
}

func (s *Sim) writeCR(v uint32) {
	if s.crLocked {
		return
	}
	if v&crLOCK != 0 {
		s.crLocked = true
	}
	s.cr = v &^ uint32(crLOCK|crSTRT)
	if v&crSTRT == 0 {
		return
	}
	switch {
	case v&crMER != 0 || v&crMER1 != 0:
		s.massErase(v)
	case v&crSER != 0:
		s.eraseBySNB((v & crSNBMask) >> crSNBShift)
	}
}

func (s *Sim) eraseBySNB(sn uint32) {
	bankSectors := len(s.geo.Sectors)
	idx := int(sn)
	if sn >= 0x10 {
		idx = bankSectors + int(sn-0x10)
	}
	if idx >= s.geo.sectorCount() {
		s.sr |= srPGSERR
		return
	}
	if s.protected(idx) {
		s.sr |= srWRPERR
		return
	}
	start := s.geo.sectorStart(idx)
	size := s.geo.sectorSize(idx)
	for i := start; i < start+size; i++ {
		s.mem[i] = 0xFF
	}
}

func (s *Sim) massErase(v uint32) {
	for idx := 0; idx < s.geo.sectorCount(); idx++ {
		bankTwo := idx >= len(s.geo.Sectors)
		if bankTwo && v&crMER1 == 0 || !bankTwo && v&crMER == 0 {
			continue
		}
		if s.protected(idx) {
			s.sr |= srWRPERR
			continue
		}
		start := s.geo.sectorStart(idx)
		size := s.geo.sectorSize(idx)
		for i := start; i < start+size; i++ {
			s.mem[i] = 0xFF
		}
	}
}

func (s *Sim) protected(idx int) bool {
	bankSectors := len(s.geo.Sectors)
	vec := s.optcr
	if idx >= bankSectors {
		vec = s.optcr1
		idx -= bankSectors
	}
	return vec&(1<<(optWRPShift+uint32(idx))) == 0
}

// commitOptions latches the staged option registers. An L1 -> L0 read-out
// protection downgrade mass-erases user flash before the level changes.
func (s *Sim) commitOptions() {
	oldLevel := decodeRDP(s.optcr)
	newLevel := decodeRDP(s.regOpt)
	if oldLevel == RDP2 {
		return // permanent
	}
	if oldLevel == RDP1 && newLevel == RDP0 {
		for i := range s.mem {
			s.mem[i] = 0xFF
		}
	}
	s.optcr = s.regOpt
	s.optcr1 = s.regOpt1
}
