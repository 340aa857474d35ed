// Package filenvm emulates an NVM device against a host file. Used for
// simulation and for exercising the composite layers without hardware.
package filenvm

import (
	"os"

	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
	"nvmcode-go/x/mathx"
)

// Identification reported by file-backed devices.
var identification = [3]byte{'F', 'I', 'L'}

const eraseFill = 0xFF

// Config for a file-backed device. Integer geometry only.
type Config struct {
	Path       string
	SectorSize uint32
	SectorNum  uint32
	Exclusive  bool // enable the Acquire/Release gate
}

// Validate basic geometry before Start touches the filesystem.
func (c Config) Validate() error {
	if c.Path == "" {
		return &errcode.E{C: errcode.InvalidConfig, Msg: "empty path"}
	}
	if !nvm.PowerOfTwo(c.SectorSize) {
		return &errcode.E{C: errcode.InvalidConfig, Msg: "sector size not a power of two"}
	}
	if c.SectorNum == 0 {
		return &errcode.E{C: errcode.InvalidConfig, Msg: "zero sector count"}
	}
	return nil
}

// Device is the file-backed leaf.
type Device struct {
	nvm.Lifecycle
	gate nvm.Gate
	cfg  Config
	f    *os.File
	info nvm.Info
}

var _ nvm.Device = (*Device)(nil)

// New returns a stopped device; Start opens the backing file.
func New(cfg Config) *Device {
	d := &Device{cfg: cfg, gate: nvm.NewGate(cfg.Exclusive)}
	d.MarkStop()
	return d
}

// Start opens (creating if needed) the backing file and pads it with 0xFF up
// to the configured size. A longer pre-existing file is accepted; only the
// configured prefix is addressed.
func (d *Device) Start() error {
	if err := d.CheckStart(); err != nil {
		return err
	}
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	if d.f != nil { // restart from Ready
		d.f.Close()
		d.f = nil
	}

	f, err := os.OpenFile(d.cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errcode.Wrap(errcode.IO, "filenvm start", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return errcode.Wrap(errcode.IO, "filenvm start", err)
	}

	size := int64(d.cfg.SectorSize) * int64(d.cfg.SectorNum)
	if st.Size() < size {
		if err := fill(f, st.Size(), size-st.Size()); err != nil {
			f.Close()
			return err
		}
	}

	d.f = f
	d.info = nvm.Info{
		SectorSize:     d.cfg.SectorSize,
		SectorNum:      d.cfg.SectorNum,
		Identification: identification,
		WriteAlign:     0,
	}
	d.StartOK()
	return nil
}

func (d *Device) Stop() error {
	if err := d.CheckStop(); err != nil {
		return err
	}
	if d.f != nil {
		err := d.f.Close()
		d.f = nil
		if err != nil {
			return errcode.Wrap(errcode.IO, "filenvm stop", err)
		}
	}
	return nil
}

func (d *Device) Read(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Reading); err != nil {
		return err
	}
	defer d.End()

	// Reads go through the same descriptor as writes; no flush needed for
	// read-after-write visibility.
	if _, err := d.f.ReadAt(p, int64(addr)); err != nil {
		return errcode.Wrap(errcode.IO, "filenvm read", err)
	}
	return nil
}

func (d *Device) Write(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Writing); err != nil {
		return err
	}
	defer d.End()

	if _, err := d.f.WriteAt(p, int64(addr)); err != nil {
		return errcode.Wrap(errcode.IO, "filenvm write", err)
	}
	return nil
}

func (d *Device) Erase(addr, n uint32) error {
	if err := nvm.CheckErase(d.info, addr, n); err != nil {
		return err
	}
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()

	return fill(d.f, int64(addr), int64(n))
}

func (d *Device) MassErase() error {
	return d.Erase(0, d.info.Capacity())
}

func (d *Device) Sync() error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	if err := d.f.Sync(); err != nil {
		return errcode.Wrap(errcode.IO, "filenvm sync", err)
	}
	return nil
}

func (d *Device) Info() (nvm.Info, error) {
	if d.State() == nvm.Uninit || d.State() == nvm.Stop {
		return nvm.Info{}, errcode.NotReady
	}
	return d.info, nil
}

// Write protection is accepted but unenforced on a host file.

func (d *Device) WriteProtect(addr, n uint32) error {
	return nvm.CheckRange(d.info, addr, int(n))
}

func (d *Device) WriteUnprotect(addr, n uint32) error {
	return nvm.CheckRange(d.info, addr, int(n))
}

func (d *Device) MassWriteProtect() error   { return nil }
func (d *Device) MassWriteUnprotect() error { return nil }

func (d *Device) Acquire() { d.gate.Acquire() }
func (d *Device) Release() { d.gate.Release() }

// fill writes n bytes of the erased pattern at off.
func fill(f *os.File, off, n int64) error {
	var buf [512]byte
	for i := range buf {
		buf[i] = eraseFill
	}
	for n > 0 {
		chunk := mathx.Min(n, int64(len(buf)))
		if _, err := f.WriteAt(buf[:chunk], off); err != nil {
			return errcode.Wrap(errcode.IO, "filenvm erase", err)
		}
		off += chunk
		n -= chunk
	}
	return nil
}
