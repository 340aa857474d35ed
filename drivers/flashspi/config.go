package flashspi

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
)

// Command opcodes common across the JEDEC SPI NOR family.
const (
	cmdWriteEnable  = 0x06
	cmdWriteDisable = 0x04
	cmdReadStatus   = 0x05
	cmdWriteStatus  = 0x01
	cmdJEDECID      = 0x9F
	cmdChipErase    = 0xC7

	// Values for Config.CmdRead / Config.CmdPageProgram.
	CmdRead        = 0x03
	CmdFastRead    = 0x0B
	CmdPageProgram = 0x02
	CmdAAIProgram  = 0xAD
)

const (
	statusWIP = 0x01 // write in progress
	bpShift   = 2    // BP0 position in the status register

	jedecContinuation = 0x7F
)

// Config enumerates every part-specific knob of a JEDEC SPI NOR device.
type Config struct {
	SectorSize uint32
	SectorNum  uint32
	PageSize   uint32
	PageAlign  uint32 // programming alignment inside a page; 0/1 = none
	AddrBytes  uint8  // 2, 3 or 4 address bytes, MSB first
	BPBits     uint8  // block-protect field width, 0..3

	CmdSectorErase byte // 0 disables hardware erase (emulated via 0xFF program)
	CmdPageProgram byte // CmdPageProgram or CmdAAIProgram
	CmdRead        byte // CmdRead or CmdFastRead; 0 is rejected

	PollLimit int // status polls before a busy timeout; 0 = default
	Exclusive bool
	Yield     nvm.YieldFunc
}

const defaultPollLimit = 1 << 20

func (c Config) Validate() error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidConfig, Op: "flashspi", Msg: msg}
	}
	if !nvm.PowerOfTwo(c.SectorSize) {
		return bad("sector size not a power of two")
	}
	if c.SectorNum == 0 {
		return bad("zero sector count")
	}
	if !nvm.PowerOfTwo(c.PageSize) || c.PageSize > c.SectorSize {
		return bad("bad page size")
	}
	if c.PageAlign > 1 {
		if !nvm.PowerOfTwo(c.PageAlign) || c.PageAlign > c.PageSize {
			return bad("bad page alignment")
		}
	}
	if c.AddrBytes < 2 || c.AddrBytes > 4 {
		return bad("address bytes must be 2..4")
	}
	if c.BPBits > 3 {
		return bad("block-protect bits must be 0..3")
	}
	if c.CmdRead == 0 {
		// read-less parts are not usable behind the NVM contract
		return bad("cmd_read must be set")
	}
	if c.CmdPageProgram == 0 {
		return bad("cmd_page_program must be set")
	}
	return nil
}

func (c Config) pollLimit() int {
	if c.PollLimit > 0 {
		return c.PollLimit
	}
	return defaultPollLimit
}
