package filenvm

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
)

var memIdentification = [3]byte{'M', 'E', 'M'}

// MemConfig describes a RAM-backed device.
type MemConfig struct {
	SectorSize uint32
	SectorNum  uint32
	Exclusive  bool
}

// Mem is a RAM-backed NVM device with the same erased-state semantics as the
// file leaf. It is the workhorse backing for the composite-layer tests.
type Mem struct {
	nvm.Lifecycle
	gate nvm.Gate
	cfg  MemConfig
	buf  []byte
	info nvm.Info

	// Counters observable by tests (wear accounting).
	EraseCalls int
	WriteCalls int
}

var _ nvm.Device = (*Mem)(nil)

func NewMem(cfg MemConfig) *Mem {
	m := &Mem{cfg: cfg, gate: nvm.NewGate(cfg.Exclusive)}
	m.MarkStop()
	return m
}

func (m *Mem) Start() error {
	if err := m.CheckStart(); err != nil {
		return err
	}
	if !nvm.PowerOfTwo(m.cfg.SectorSize) || m.cfg.SectorNum == 0 {
		return &errcode.E{C: errcode.InvalidConfig, Msg: "bad mem geometry"}
	}
	if m.buf == nil {
		m.buf = make([]byte, m.cfg.SectorSize*m.cfg.SectorNum)
		for i := range m.buf {
			m.buf[i] = eraseFill
		}
	}
	m.info = nvm.Info{
		SectorSize:     m.cfg.SectorSize,
		SectorNum:      m.cfg.SectorNum,
		Identification: memIdentification,
		WriteAlign:     0,
	}
	m.StartOK()
	return nil
}

func (m *Mem) Stop() error { return m.CheckStop() }

func (m *Mem) Read(addr uint32, p []byte) error {
	if err := nvm.CheckRange(m.info, addr, len(p)); err != nil {
		return err
	}
	if err := m.Begin(nvm.Reading); err != nil {
		return err
	}
	defer m.End()
	copy(p, m.buf[addr:])
	return nil
}

func (m *Mem) Write(addr uint32, p []byte) error {
	if err := nvm.CheckRange(m.info, addr, len(p)); err != nil {
		return err
	}
	if err := m.Begin(nvm.Writing); err != nil {
		return err
	}
	defer m.End()
	m.WriteCalls++
	copy(m.buf[addr:], p)
	return nil
}

func (m *Mem) Erase(addr, n uint32) error {
	if err := nvm.CheckErase(m.info, addr, n); err != nil {
		return err
	}
	if err := m.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer m.End()
	m.EraseCalls++
	for i := addr; i < addr+n; i++ {
		m.buf[i] = eraseFill
	}
	return nil
}

func (m *Mem) MassErase() error { return m.Erase(0, m.info.Capacity()) }

func (m *Mem) Sync() error {
	if m.State() != nvm.Ready {
		return errcode.NotReady
	}
	return nil
}

func (m *Mem) Info() (nvm.Info, error) {
	if m.State() == nvm.Uninit || m.State() == nvm.Stop {
		return nvm.Info{}, errcode.NotReady
	}
	return m.info, nil
}

func (m *Mem) WriteProtect(addr, n uint32) error {
	return nvm.CheckRange(m.info, addr, int(n))
}

func (m *Mem) WriteUnprotect(addr, n uint32) error {
	return nvm.CheckRange(m.info, addr, int(n))
}

func (m *Mem) MassWriteProtect() error   { return nil }
func (m *Mem) MassWriteUnprotect() error { return nil }

func (m *Mem) Acquire() { m.gate.Acquire() }
func (m *Mem) Release() { m.gate.Release() }

// Snapshot copies the raw medium, for containment checks in tests.
func (m *Mem) Snapshot() []byte {
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out
}
