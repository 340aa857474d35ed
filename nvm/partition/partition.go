// Package partition re-exports a sector-aligned sub-range of a parent NVM
// device as a device in its own right. Several partitions over one parent
// are logically independent; the Acquire chain serialises siblings.
package partition

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
)

// Config is immutable partition geometry, in parent sectors.
type Config struct {
	Parent       nvm.Device
	SectorOffset uint32
	SectorNum    uint32
	Exclusive    bool
}

func (c Config) Validate() error {
	if c.Parent == nil {
		return &errcode.E{C: errcode.InvalidConfig, Msg: "nil parent"}
	}
	if c.SectorNum == 0 {
		return &errcode.E{C: errcode.InvalidConfig, Msg: "zero sector count"}
	}
	return nil
}

// Device is the partition multiplexer.
type Device struct {
	nvm.Lifecycle
	gate   nvm.Gate
	cfg    Config
	origin uint32 // byte offset inside the parent
	size   uint32 // byte span
	info   nvm.Info
}

var _ nvm.Device = (*Device)(nil)

func New(cfg Config) *Device {
	d := &Device{cfg: cfg, gate: nvm.NewGate(cfg.Exclusive)}
	d.MarkStop()
	return d
}

// Start caches the derived origin and span. The parent must already be
// started; its descriptor is inherited except for the sector count.
func (d *Device) Start() error {
	if err := d.CheckStart(); err != nil {
		return err
	}
	if err := d.cfg.Validate(); err != nil {
		return err
	}

	pInfo, err := d.cfg.Parent.Info()
	if err != nil {
		return err
	}
	end := uint64(d.cfg.SectorOffset) + uint64(d.cfg.SectorNum)
	if end > uint64(pInfo.SectorNum) {
		return &errcode.E{C: errcode.InvalidConfig, Msg: "partition exceeds parent"}
	}

	d.origin = d.cfg.SectorOffset * pInfo.SectorSize
	d.size = d.cfg.SectorNum * pInfo.SectorSize
	d.info = nvm.Info{
		SectorSize:     pInfo.SectorSize,
		SectorNum:      d.cfg.SectorNum,
		Identification: pInfo.Identification,
		WriteAlign:     pInfo.WriteAlign,
	}
	d.StartOK()
	return nil
}

func (d *Device) Stop() error { return d.CheckStop() }

func (d *Device) Read(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Reading); err != nil {
		return err
	}
	defer d.End()
	return d.cfg.Parent.Read(d.origin+addr, p)
}

func (d *Device) Write(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Writing); err != nil {
		return err
	}
	defer d.End()
	return d.cfg.Parent.Write(d.origin+addr, p)
}

func (d *Device) Erase(addr, n uint32) error {
	if err := nvm.CheckErase(d.info, addr, n); err != nil {
		return err
	}
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()
	return d.cfg.Parent.Erase(d.origin+addr, n)
}

func (d *Device) MassErase() error {
	if st := d.State(); st == nvm.Uninit || st == nvm.Stop {
		return errcode.NotReady
	}
	return d.Erase(0, d.size)
}

func (d *Device) Sync() error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	return d.cfg.Parent.Sync()
}

func (d *Device) Info() (nvm.Info, error) {
	if d.State() == nvm.Uninit || d.State() == nvm.Stop {
		return nvm.Info{}, errcode.NotReady
	}
	return d.info, nil
}

func (d *Device) WriteProtect(addr, n uint32) error {
	if err := nvm.CheckRange(d.info, addr, int(n)); err != nil {
		return err
	}
	return d.cfg.Parent.WriteProtect(d.origin+addr, n)
}

func (d *Device) WriteUnprotect(addr, n uint32) error {
	if err := nvm.CheckRange(d.info, addr, int(n)); err != nil {
		return err
	}
	return d.cfg.Parent.WriteUnprotect(d.origin+addr, n)
}

// Mass protection maps to the partition's own range on the parent.

func (d *Device) MassWriteProtect() error   { return d.cfg.Parent.WriteProtect(d.origin, d.size) }
func (d *Device) MassWriteUnprotect() error { return d.cfg.Parent.WriteUnprotect(d.origin, d.size) }

// Acquire locks the partition first, then the parent, so siblings of one
// parent serialise through the parent's gate. Release unwinds in reverse.

func (d *Device) Acquire() {
	d.gate.Acquire()
	d.cfg.Parent.Acquire()
}

func (d *Device) Release() {
	d.cfg.Parent.Release()
	d.gate.Release()
}
