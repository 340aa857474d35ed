// Package mcuflash maps a target MCU's on-die flash into the NVM contract.
// Reads come straight from the memory-mapped window; writes unlock the
// control register, pick a supply-voltage-legal programming width and strobe
// stores; erases go through the non-uniform sector lookup. The register
// sequences target the STM32F4 flash interface.
package mcuflash

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
)

var identification = [3]byte{'F', 'v', '2'}

// Config for the internal-flash leaf.
type Config struct {
	Geometry Geometry
	// SupplyMV bounds the programming width: below 2100 mV only byte
	// programming is legal, below 2700 mV half-words, otherwise words.
	SupplyMV uint16
	// ExternalVpp enables double-word programming regardless of supply.
	ExternalVpp bool

	PollLimit int // BUSY polls before a timeout; 0 = default
	Exclusive bool
	Yield     nvm.YieldFunc
}

const defaultPollLimit = 1 << 24

func (c Config) Validate() error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidConfig, Op: "mcuflash", Msg: msg}
	}
	if len(c.Geometry.Sectors) == 0 {
		return bad("empty geometry")
	}
	for _, s := range c.Geometry.Sectors {
		if !nvm.PowerOfTwo(s) {
			return bad("sector size not a power of two")
		}
	}
	if c.Geometry.sectorCount() > 28 {
		return bad("too many sectors for the SNB field")
	}
	return nil
}

// maxWidth returns the widest legal programming width in bytes.
func (c Config) maxWidth() uint32 {
	switch {
	case c.ExternalVpp:
		return 8
	case c.SupplyMV >= 2700:
		return 4
	case c.SupplyMV >= 2100:
		return 2
	default:
		return 1
	}
}

// Device is the internal-flash leaf.
type Device struct {
	nvm.Lifecycle
	gate nvm.Gate
	ctrl Controller
	cfg  Config
	info nvm.Info
}

var _ nvm.Device = (*Device)(nil)

func New(ctrl Controller, cfg Config) *Device {
	d := &Device{ctrl: ctrl, cfg: cfg, gate: nvm.NewGate(cfg.Exclusive)}
	d.MarkStop()
	return d
}

func (d *Device) Start() error {
	if err := d.CheckStart(); err != nil {
		return err
	}
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	unit := d.cfg.Geometry.unit()
	d.info = nvm.Info{
		SectorSize:     unit,
		SectorNum:      d.cfg.Geometry.total() / unit,
		Identification: identification,
		WriteAlign:     0,
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

func (d *Device) Read(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Reading); err != nil {
		return err
	}
	defer d.End()

	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.ctrl.ReadMem(addr, p); err != nil {
		return errcode.Wrap(errcode.IO, "mcuflash read", err)
	}
	return nil
}

// Write quiesces the programming state machine, unlocks CR and strobes
// stores of the largest width compatible with the current address, the
// remaining byte count and the supply-voltage policy.
func (d *Device) Write(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Writing); err != nil {
		return err
	}
	defer d.End()

	if err := d.waitIdle(); err != nil {
		return err
	}
	d.unlock()
	defer d.lock()

	maxW := d.cfg.maxWidth()
	for len(p) > 0 {
		w := maxW
		for w > 1 && (addr%w != 0 || uint32(len(p)) < w) {
			w >>= 1
		}
		d.ctrl.WriteReg(RegCR, crPG|psize(w))
		if err := d.ctrl.Program(addr, p[:w]); err != nil {
			return errcode.Wrap(errcode.IO, "mcuflash program", err)
		}
		if err := d.waitIdle(); err != nil {
			return err
		}
		if err := d.takeErrors("mcuflash program"); err != nil {
			return err
		}
		addr += w
		p = p[w:]
	}
	d.ctrl.WriteReg(RegCR, 0)
	return nil
}

// Erase maps the aligned range onto the enclosing physical sectors and
// erases each via SER/SNB.
func (d *Device) Erase(addr, n uint32) error {
	if err := nvm.CheckErase(d.info, addr, n); err != nil {
		return err
	}
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()

	if err := d.waitIdle(); err != nil {
		return err
	}
	d.unlock()
	defer d.lock()

	end := addr + n
	for addr < end {
		idx, start, size, ok := d.cfg.Geometry.sectorAt(addr)
		if !ok {
			return errcode.Range
		}
		if err := d.eraseSector(idx); err != nil {
			return err
		}
		addr = start + size
	}
	d.ctrl.WriteReg(RegCR, 0)
	return nil
}

func (d *Device) eraseSector(idx int) error {
	sn := snb(idx, len(d.cfg.Geometry.Sectors))
	d.ctrl.WriteReg(RegCR, crSER|sn<<crSNBShift|psize(d.cfg.maxWidth()))
	d.ctrl.WriteReg(RegCR, crSER|sn<<crSNBShift|psize(d.cfg.maxWidth())|crSTRT)
	if err := d.waitIdle(); err != nil {
		return err
	}
	return d.takeErrors("mcuflash erase")
}

// MassErase uses the dedicated MER bit (both banks on mirror parts).
func (d *Device) MassErase() error {
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()

	if err := d.waitIdle(); err != nil {
		return err
	}
	d.unlock()
	defer d.lock()

	bits := uint32(crMER)
	if d.cfg.Geometry.Mirror {
		bits |= crMER1
	}
	d.ctrl.WriteReg(RegCR, bits)
	d.ctrl.WriteReg(RegCR, bits|crSTRT)
	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.takeErrors("mcuflash mass erase"); err != nil {
		return err
	}
	d.ctrl.WriteReg(RegCR, 0)
	return nil
}

func (d *Device) Sync() error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	return d.waitIdle()
}

func (d *Device) Acquire() { d.gate.Acquire() }
func (d *Device) Release() { d.gate.Release() }

// ---- control-register plumbing ----

func psize(width uint32) uint32 {
	switch width {
	case 8:
		return 3 << crPSZShift
	case 4:
		return 2 << crPSZShift
	case 2:
		return 1 << crPSZShift
	default:
		return 0
	}
}

func (d *Device) unlock() {
	if d.ctrl.ReadReg(RegCR)&crLOCK != 0 {
		d.ctrl.WriteReg(RegKEYR, Key1)
		d.ctrl.WriteReg(RegKEYR, Key2)
	}
}

func (d *Device) lock() {
	d.ctrl.WriteReg(RegCR, d.ctrl.ReadReg(RegCR)|crLOCK)
}

// waitIdle polls the BUSY bit, yielding between polls when configured.
func (d *Device) waitIdle() error {
	limit := d.cfg.PollLimit
	if limit <= 0 {
		limit = defaultPollLimit
	}
	for i := 0; i < limit; i++ {
		if d.ctrl.ReadReg(RegSR)&srBUSY == 0 {
			return nil
		}
		nvm.Pause(d.cfg.Yield)
	}
	return errcode.Timeout
}

// takeErrors reads and clears the sticky SR error bits, mapping them onto
// the error taxonomy.
func (d *Device) takeErrors(op string) error {
	sr := d.ctrl.ReadReg(RegSR)
	if sr&srErrMask == 0 {
		return nil
	}
	d.ctrl.WriteReg(RegSR, sr&srErrMask) // write one to clear
	if sr&srWRPERR != 0 {
		return &errcode.E{C: errcode.Protected, Op: op}
	}
	return &errcode.E{C: errcode.Integrity, Op: op}
}
