// Package ioblock adapts a device with a mandatory write alignment into a
// byte-writable one. Writes are padded with 0xFF out to alignment
// boundaries; on erase-before-write media programming 0xFF over erased
// bits is a no-op, so the padding never disturbs neighbours.
package ioblock

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
	"nvmcode-go/x/mathx"
)

// Device is the block-size adapter.
type Device struct {
	nvm.Lifecycle
	gate  nvm.Gate
	child nvm.Device
	align uint32
	info  nvm.Info
}

var _ nvm.Device = (*Device)(nil)

// New wraps child; Exclusive selects the adapter's own gate.
func New(child nvm.Device, exclusive bool) *Device {
	d := &Device{child: child, gate: nvm.NewGate(exclusive)}
	d.MarkStop()
	return d
}

func (d *Device) Start() error {
	if err := d.CheckStart(); err != nil {
		return err
	}
	info, err := d.child.Info()
	if err != nil {
		return err
	}
	d.align = uint32(info.WriteAlign)
	d.info = info
	d.info.WriteAlign = 0
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
	return d.child.Read(addr, p)
}

func (d *Device) Write(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Writing); err != nil {
		return err
	}
	defer d.End()

	if d.align <= 1 {
		return d.child.Write(addr, p)
	}

	start := mathx.AlignDown(addr, d.align)
	end := mathx.AlignUp(addr+uint32(len(p)), d.align)
	if end > d.info.Capacity() {
		// the last write unit would run past the device
		return errcode.Range
	}
	buf := make([]byte, end-start)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf[addr-start:], p)
	return d.child.Write(start, buf)
}

func (d *Device) Erase(addr, n uint32) error {
	if err := nvm.CheckErase(d.info, addr, n); err != nil {
		return err
	}
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()
	return d.child.Erase(addr, n)
}

func (d *Device) MassErase() error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	return d.child.MassErase()
}

func (d *Device) Sync() error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	return d.child.Sync()
}

func (d *Device) Info() (nvm.Info, error) {
	if d.State() == nvm.Uninit || d.State() == nvm.Stop {
		return nvm.Info{}, errcode.NotReady
	}
	return d.info, nil
}

func (d *Device) WriteProtect(addr, n uint32) error   { return d.child.WriteProtect(addr, n) }
func (d *Device) WriteUnprotect(addr, n uint32) error { return d.child.WriteUnprotect(addr, n) }
func (d *Device) MassWriteProtect() error             { return d.child.MassWriteProtect() }
func (d *Device) MassWriteUnprotect() error           { return d.child.MassWriteUnprotect() }

func (d *Device) Acquire() {
	d.gate.Acquire()
	d.child.Acquire()
}

func (d *Device) Release() {
	d.child.Release()
	d.gate.Release()
}
