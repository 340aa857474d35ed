package flashspi

import (
	"bytes"
	"testing"

	"nvmcode-go/errcode"
	"nvmcode-go/nvm/nvmtest"
)

// fakeNOR models a JEDEC SPI NOR part at the bus level: command frames are
// delimited by chip-select edges, programming ANDs bits in, erase restores
// 0xFF. Committed frames are logged for wire-level assertions.
type fakeNOR struct {
	mem        []byte
	sectorSize uint32
	addrBytes  int
	id         []byte // streamed JEDEC ID response, continuation bytes included
	status     byte
	wel        bool

	cmdProgram byte
	cmdErase   byte

	selected bool
	frame    []byte
	reads    int
	frames   [][]byte // committed command frames (written bytes only)
}

func newFakeNOR(sectorSize, sectorNum uint32, cmdProgram, cmdErase byte) *fakeNOR {
	f := &fakeNOR{
		mem:        make([]byte, sectorSize*sectorNum),
		sectorSize: sectorSize,
		addrBytes:  3,
		id:         []byte{0xBF, 0x25, 0x41},
		cmdProgram: cmdProgram,
		cmdErase:   cmdErase,
	}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return f
}

func (f *fakeNOR) cs(active bool) {
	if active {
		f.selected = true
		f.frame = nil
		f.reads = 0
		return
	}
	if f.selected {
		f.commit()
	}
	f.selected = false
}

func (f *fakeNOR) Tx(w, r []byte) error {
	f.frame = append(f.frame, w...)
	for i := range r {
		r[i] = f.next()
	}
	return nil
}

func (f *fakeNOR) Transfer(b byte) (byte, error) {
	f.frame = append(f.frame, b)
	return f.next(), nil
}

func (f *fakeNOR) addr() uint32 {
	var a uint32
	for i := 0; i < f.addrBytes; i++ {
		a = a<<8 | uint32(f.frame[1+i])
	}
	return a
}

func (f *fakeNOR) next() byte {
	if len(f.frame) == 0 {
		return 0xFF
	}
	n := f.reads
	f.reads++
	switch f.frame[0] {
	case cmdReadStatus:
		return f.status
	case cmdJEDECID:
		if n < len(f.id) {
			return f.id[n]
		}
		return 0
	case CmdRead, CmdFastRead:
		skip := 0
		if f.frame[0] == CmdFastRead {
			skip = 1 // dummy byte
		}
		if n < skip {
			return 0xFF
		}
		idx := f.addr() + uint32(n-skip)
		if idx < uint32(len(f.mem)) {
			return f.mem[idx]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (f *fakeNOR) commit() {
	frame := bytes.Clone(f.frame)
	f.frames = append(f.frames, frame)
	if len(frame) == 0 {
		return
	}
	switch frame[0] {
	case cmdWriteEnable:
		f.wel = true
	case cmdWriteDisable:
		f.wel = false
	case cmdWriteStatus:
		if f.wel && len(frame) > 1 {
			f.status = frame[1]
		}
		f.wel = false
	case cmdChipErase:
		if f.wel {
			for i := range f.mem {
				f.mem[i] = 0xFF
			}
		}
		f.wel = false
	case f.cmdProgram:
		if f.wel {
			a := f.addr()
			for i, b := range frame[1+f.addrBytes:] {
				f.mem[a+uint32(i)] &= b
			}
		}
		f.wel = false
	case f.cmdErase:
		if f.cmdErase != 0 && f.wel {
			a := f.addr() &^ (f.sectorSize - 1)
			for i := uint32(0); i < f.sectorSize; i++ {
				f.mem[a+i] = 0xFF
			}
		}
		f.wel = false
	}
}

// programFrames filters the log down to page-program command frames.
func (f *fakeNOR) programFrames() [][]byte {
	var out [][]byte
	for _, fr := range f.frames {
		if len(fr) > 0 && fr[0] == f.cmdProgram {
			out = append(out, fr)
		}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		SectorSize:     4096,
		SectorNum:      64, // 256 KiB
		PageSize:       256,
		PageAlign:      2,
		AddrBytes:      3,
		BPBits:         2,
		CmdSectorErase: 0x20,
		CmdPageProgram: CmdPageProgram,
		CmdRead:        CmdRead,
	}
}

func newStarted(t *testing.T, cfg Config) (*Device, *fakeNOR) {
	t.Helper()
	f := newFakeNOR(cfg.SectorSize, cfg.SectorNum, cfg.CmdPageProgram, cfg.CmdSectorErase)
	d := New(f, f.cs, cfg)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return d, f
}

func TestConformance(t *testing.T) {
	d, _ := newStarted(t, defaultConfig())
	nvmtest.Run(t, d)
}

// Scenario S3: a write crossing a page boundary issues exactly two
// page-program commands covering 254..255 and 256..257.
func TestScenarioS3PageSplit(t *testing.T) {
	d, f := newStarted(t, defaultConfig())

	if err := d.Write(254, []byte{0x01, 0x02, 0x03, 0x04}); err != nil {
		t.Fatalf("write: %v", err)
	}

	progs := f.programFrames()
	if len(progs) != 2 {
		t.Fatalf("program frames = %d, want 2", len(progs))
	}
	// opcode, 3 address bytes, payload
	want0 := []byte{CmdPageProgram, 0x00, 0x00, 0xFE, 0x01, 0x02}
	want1 := []byte{CmdPageProgram, 0x00, 0x01, 0x00, 0x03, 0x04}
	if !bytes.Equal(progs[0], want0) {
		t.Fatalf("frame 0 % x, want % x", progs[0], want0)
	}
	if !bytes.Equal(progs[1], want1) {
		t.Fatalf("frame 1 % x, want % x", progs[1], want1)
	}

	got := make([]byte, 4)
	if err := d.Read(254, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("read back % x", got)
	}
}

func TestProgramPads(t *testing.T) {
	cfg := defaultConfig()
	cfg.PageAlign = 4
	d, f := newStarted(t, cfg)

	if err := d.Write(5, []byte{0xAA}); err != nil {
		t.Fatalf("write: %v", err)
	}
	progs := f.programFrames()
	if len(progs) != 1 {
		t.Fatalf("program frames = %d, want 1", len(progs))
	}
	want := []byte{CmdPageProgram, 0x00, 0x00, 0x04, 0xFF, 0xAA, 0xFF, 0xFF}
	if !bytes.Equal(progs[0], want) {
		t.Fatalf("frame % x, want % x", progs[0], want)
	}
}

func TestFastReadDummyByte(t *testing.T) {
	cfg := defaultConfig()
	cfg.CmdRead = CmdFastRead
	d, _ := newStarted(t, cfg)

	if err := d.Write(16, []byte{0x5A, 0xA5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, 2)
	if err := d.Read(16, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0x5A, 0xA5}) {
		t.Fatalf("fast read % x", got)
	}
}

func TestAAITermination(t *testing.T) {
	cfg := defaultConfig()
	cfg.CmdPageProgram = CmdAAIProgram
	d, f := newStarted(t, cfg)

	if err := d.Write(0, []byte{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// the frame after the AAI program (and its status wait) must be WRDI
	var sawWRDI bool
	for i, fr := range f.frames {
		if len(fr) > 0 && fr[0] == CmdAAIProgram {
			for _, later := range f.frames[i+1:] {
				if len(later) == 1 && later[0] == cmdWriteDisable {
					sawWRDI = true
				}
			}
		}
	}
	if !sawWRDI {
		t.Fatal("AAI program not terminated with WRDI")
	}
}

func TestEmulatedErase(t *testing.T) {
	cfg := defaultConfig()
	cfg.CmdSectorErase = 0 // erase-less part
	d, f := newStarted(t, cfg)

	if err := d.Write(0, []byte{0x00, 0x11, 0x22}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.frames = nil
	if err := d.Erase(0, cfg.SectorSize); err != nil {
		t.Fatalf("erase: %v", err)
	}
	progs := f.programFrames()
	if want := int(cfg.SectorSize / cfg.PageSize); len(progs) != want {
		t.Fatalf("emulated erase issued %d programs, want %d", len(progs), want)
	}
	got := make([]byte, 3)
	if err := d.Read(0, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF}) {
		t.Fatalf("after emulated erase % x", got)
	}
}

func TestJEDECIDContinuationSkip(t *testing.T) {
	cfg := defaultConfig()
	f := newFakeNOR(cfg.SectorSize, cfg.SectorNum, cfg.CmdPageProgram, cfg.CmdSectorErase)
	f.id = []byte{0x7F, 0x7F, 0xBF, 0x25, 0x41}
	d := New(f, f.cs, cfg)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	info, err := d.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Identification != [3]byte{0xBF, 0x25, 0x41} {
		t.Fatalf("identification % x", info.Identification)
	}
}

func TestBlockProtect(t *testing.T) {
	d, f := newStarted(t, defaultConfig()) // BPBits=2: 4 regions
	cap := d.info.Capacity()

	// protecting from half way up needs BP=2 (top two regions)
	if err := d.WriteProtect(cap/2, cap/2); err != nil {
		t.Fatalf("protect: %v", err)
	}
	if got := (f.status >> bpShift) & 0x3; got != 2 {
		t.Fatalf("BP field %d, want 2", got)
	}

	if err := d.Write(cap/2, []byte{0}); errcode.Of(err) != errcode.Protected {
		t.Fatalf("write inside protected range: %v, want protected", err)
	}
	if err := d.Erase(cap-d.cfg.SectorSize, d.cfg.SectorSize); errcode.Of(err) != errcode.Protected {
		t.Fatalf("erase inside protected range: %v, want protected", err)
	}
	if err := d.Write(0, []byte{0}); err != nil {
		t.Fatalf("write below protected range: %v", err)
	}

	// unprotect the lower half keeps only the top region covered
	if err := d.WriteUnprotect(0, 3*cap/4); err != nil {
		t.Fatalf("unprotect: %v", err)
	}
	if got := (f.status >> bpShift) & 0x3; got != 1 {
		t.Fatalf("BP field %d after unprotect, want 1", got)
	}
	if err := d.Write(cap/2, []byte{0xFE}); err != nil {
		t.Fatalf("write after unprotect: %v", err)
	}

	if err := d.MassWriteUnprotect(); err != nil {
		t.Fatalf("mass unprotect: %v", err)
	}
	if f.status&(0x3<<bpShift) != 0 {
		t.Fatalf("BP field not cleared: %#02x", f.status)
	}
}

func TestValidate(t *testing.T) {
	base := defaultConfig()
	mutate := func(f func(*Config)) Config {
		c := base
		f(&c)
		return c
	}
	cases := []struct {
		name string
		cfg  Config
	}{
		{"cmd_read zero", mutate(func(c *Config) { c.CmdRead = 0 })},
		{"addr bytes", mutate(func(c *Config) { c.AddrBytes = 5 })},
		{"bp bits", mutate(func(c *Config) { c.BPBits = 4 })},
		{"page size", mutate(func(c *Config) { c.PageSize = c.SectorSize * 2 })},
		{"sector size", mutate(func(c *Config) { c.SectorSize = 1000 })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if errcode.Of(tc.cfg.Validate()) != errcode.InvalidConfig {
				t.Fatalf("%+v accepted", tc.cfg)
			}
		})
	}
}
