// Package flashspi drives the JEDEC family of SPI NOR flash parts behind
// the NVM device contract. Per-part differences (geometry, address width,
// opcode set, block-protect field) are enumerated in Config; the command
// framing itself is common to the whole family.
package flashspi

import (
	"tinygo.org/x/drivers"

	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
	"nvmcode-go/x/mathx"
)

// Device is the JEDEC SPI NOR leaf.
type Device struct {
	nvm.Lifecycle
	gate nvm.Gate
	bus  drivers.SPI
	cs   func(active bool)
	cfg  Config
	info nvm.Info
	bp   uint8 // cached block-protect field

	ones []byte // a page of 0xFF for pads and erase emulation
}

var _ nvm.Device = (*Device)(nil)

// New binds the driver to an SPI bus and a chip-select line. cs(true)
// asserts the (active-low) select.
func New(bus drivers.SPI, cs func(active bool), cfg Config) *Device {
	d := &Device{bus: bus, cs: cs, cfg: cfg, gate: nvm.NewGate(cfg.Exclusive)}
	d.MarkStop()
	return d
}

// Start validates the configuration, identifies the part over JEDEC ID and
// caches the current block-protect field.
func (d *Device) Start() error {
	if err := d.CheckStart(); err != nil {
		return err
	}
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	d.ones = make([]byte, d.cfg.PageSize)
	for i := range d.ones {
		d.ones[i] = 0xFF
	}

	id, err := d.readJEDECID()
	if err != nil {
		return err
	}
	sr, err := d.readStatus()
	if err != nil {
		return err
	}
	d.bp = (sr >> bpShift) & d.bpMax()

	d.info = nvm.Info{
		SectorSize:     d.cfg.SectorSize,
		SectorNum:      d.cfg.SectorNum,
		Identification: id,
		WriteAlign:     0, // the driver pads internally
	}
	d.StartOK()
	return nil
}

func (d *Device) Stop() error { return d.CheckStop() }

func (d *Device) Info() (nvm.Info, error) {
	if d.State() == nvm.Uninit || d.State() == nvm.Stop {
		return nvm.Info{}, errcode.NotReady
	}
	return d.info, nil
}

// Read streams n bytes starting at addr. FAST_READ parts need one dummy
// byte between the address and the data.
func (d *Device) Read(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Reading); err != nil {
		return err
	}
	defer d.End()

	// implicit sync: the part must be idle before READ returns live data
	if err := d.waitReady(); err != nil {
		return err
	}

	d.cs(true)
	defer d.cs(false)
	if err := d.bus.Tx(d.cmdAddr(d.cfg.CmdRead, addr), nil); err != nil {
		return errcode.Wrap(errcode.IO, "flashspi read", err)
	}
	if d.cfg.CmdRead == CmdFastRead {
		if _, err := d.bus.Transfer(0xFF); err != nil {
			return errcode.Wrap(errcode.IO, "flashspi read", err)
		}
	}
	if err := d.bus.Tx(nil, p); err != nil {
		return errcode.Wrap(errcode.IO, "flashspi read", err)
	}
	return nil
}

// Write carves the payload into chunks that never cross a page boundary
// and programs each one.
func (d *Device) Write(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.checkProtected(addr, uint32(len(p))); err != nil {
		return err
	}
	if err := d.Begin(nvm.Writing); err != nil {
		return err
	}
	defer d.End()

	for len(p) > 0 {
		space := d.cfg.PageSize - addr%d.cfg.PageSize
		n := mathx.Min(space, uint32(len(p)))
		if err := d.programPage(addr, p[:n]); err != nil {
			return err
		}
		addr += n
		p = p[n:]
	}
	return nil
}

// Erase covers whole sectors, by opcode when the part has one, otherwise by
// programming 0xFF across every page of the sector.
func (d *Device) Erase(addr, n uint32) error {
	if err := nvm.CheckErase(d.info, addr, n); err != nil {
		return err
	}
	if err := d.checkProtected(addr, n); err != nil {
		return err
	}
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()

	for sec := addr; sec < addr+n; sec += d.cfg.SectorSize {
		if err := d.eraseSector(sec); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) MassErase() error {
	if d.cfg.CmdSectorErase == 0 {
		return d.Erase(0, d.info.Capacity())
	}
	if err := d.checkProtected(0, d.info.Capacity()); err != nil {
		return err
	}
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()

	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.command(cmdChipErase); err != nil {
		return err
	}
	return d.waitReady()
}

func (d *Device) Sync() error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	return d.waitReady()
}

func (d *Device) Acquire() { d.gate.Acquire() }
func (d *Device) Release() { d.gate.Release() }

// ---- programming ----

func (d *Device) eraseSector(addr uint32) error {
	if d.cfg.CmdSectorErase != 0 {
		if err := d.writeEnable(); err != nil {
			return err
		}
		d.cs(true)
		err := d.bus.Tx(d.cmdAddr(d.cfg.CmdSectorErase, addr), nil)
		d.cs(false)
		if err != nil {
			return errcode.Wrap(errcode.IO, "flashspi erase", err)
		}
		return d.waitReady()
	}
	// erase emulation: program the erased pattern page by page
	for page := addr; page < addr+d.cfg.SectorSize; page += d.cfg.PageSize {
		if err := d.programPage(page, d.ones); err != nil {
			return err
		}
	}
	return nil
}

// programPage issues one page-program command. p never crosses a page
// boundary; the payload is padded with 0xFF out to the part's programming
// alignment on both sides.
func (d *Device) programPage(addr uint32, p []byte) error {
	pre, post := uint32(0), uint32(0)
	start := addr
	if a := d.cfg.PageAlign; a > 1 {
		start = mathx.AlignDown(addr, a)
		pre = addr - start
		end := addr + uint32(len(p))
		post = mathx.AlignUp(end, a) - end
	}

	if err := d.writeEnable(); err != nil {
		return err
	}

	d.cs(true)
	err := d.bus.Tx(d.cmdAddr(d.cfg.CmdPageProgram, start), nil)
	if err == nil && pre > 0 {
		err = d.bus.Tx(d.ones[:pre], nil)
	}
	if err == nil {
		err = d.bus.Tx(p, nil)
	}
	if err == nil && post > 0 {
		err = d.bus.Tx(d.ones[:post], nil)
	}
	d.cs(false)
	if err != nil {
		return errcode.Wrap(errcode.IO, "flashspi program", err)
	}

	if err := d.waitReady(); err != nil {
		return err
	}
	if d.cfg.CmdPageProgram == CmdAAIProgram {
		// AAI sequences stay write-enabled until explicitly terminated
		if err := d.command(cmdWriteDisable); err != nil {
			return err
		}
	}
	return nil
}

// ---- low-level primitives ----

// cmdAddr packs an opcode with AddrBytes address bytes, MSB first.
func (d *Device) cmdAddr(cmd byte, addr uint32) []byte {
	buf := make([]byte, 1+int(d.cfg.AddrBytes))
	buf[0] = cmd
	for i := int(d.cfg.AddrBytes) - 1; i >= 0; i-- {
		buf[1+i] = byte(addr)
		addr >>= 8
	}
	return buf
}

func (d *Device) command(cmd byte) error {
	d.cs(true)
	err := d.bus.Tx([]byte{cmd}, nil)
	d.cs(false)
	if err != nil {
		return errcode.Wrap(errcode.IO, "flashspi cmd", err)
	}
	return nil
}

func (d *Device) writeEnable() error { return d.command(cmdWriteEnable) }

func (d *Device) readStatus() (byte, error) {
	d.cs(true)
	defer d.cs(false)
	if err := d.bus.Tx([]byte{cmdReadStatus}, nil); err != nil {
		return 0, errcode.Wrap(errcode.IO, "flashspi rdsr", err)
	}
	b, err := d.bus.Transfer(0xFF)
	if err != nil {
		return 0, errcode.Wrap(errcode.IO, "flashspi rdsr", err)
	}
	return b, nil
}

func (d *Device) writeStatus(v byte) error {
	if err := d.writeEnable(); err != nil {
		return err
	}
	d.cs(true)
	err := d.bus.Tx([]byte{cmdWriteStatus, v}, nil)
	d.cs(false)
	if err != nil {
		return errcode.Wrap(errcode.IO, "flashspi wrsr", err)
	}
	return d.waitReady()
}

// waitReady polls the status register until WIP clears. The register is
// streamed while CS stays low, so a 16-byte burst amortises the round-trip
// on fast parts; only a still-busy part falls into the slow poll.
func (d *Device) waitReady() error {
	d.cs(true)
	defer d.cs(false)
	if err := d.bus.Tx([]byte{cmdReadStatus}, nil); err != nil {
		return errcode.Wrap(errcode.IO, "flashspi wait", err)
	}
	var burst [16]byte
	if err := d.bus.Tx(nil, burst[:]); err != nil {
		return errcode.Wrap(errcode.IO, "flashspi wait", err)
	}
	if burst[len(burst)-1]&statusWIP == 0 {
		return nil
	}
	for i := 0; i < d.cfg.pollLimit(); i++ {
		b, err := d.bus.Transfer(0xFF)
		if err != nil {
			return errcode.Wrap(errcode.IO, "flashspi wait", err)
		}
		if b&statusWIP == 0 {
			return nil
		}
		nvm.Pause(d.cfg.Yield)
	}
	return errcode.Timeout
}

// readJEDECID skips continuation bytes until a real manufacturer byte
// appears, then takes the two device bytes.
func (d *Device) readJEDECID() ([3]byte, error) {
	var id [3]byte
	d.cs(true)
	defer d.cs(false)
	if err := d.bus.Tx([]byte{cmdJEDECID}, nil); err != nil {
		return id, errcode.Wrap(errcode.IO, "flashspi id", err)
	}

	const maxContinuation = 16
	mfr := byte(jedecContinuation)
	for i := 0; i < maxContinuation && mfr == jedecContinuation; i++ {
		b, err := d.bus.Transfer(0xFF)
		if err != nil {
			return id, errcode.Wrap(errcode.IO, "flashspi id", err)
		}
		mfr = b
	}
	if mfr == jedecContinuation {
		return id, &errcode.E{C: errcode.Integrity, Op: "flashspi id", Msg: "no manufacturer byte"}
	}
	id[0] = mfr
	for i := 1; i < 3; i++ {
		b, err := d.bus.Transfer(0xFF)
		if err != nil {
			return id, errcode.Wrap(errcode.IO, "flashspi id", err)
		}
		id[i] = b
	}
	return id, nil
}
