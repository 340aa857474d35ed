// Package fee turns an erase-before-write sectored device into a
// byte-addressable pseudo-EEPROM. Micro-writes are appended as fixed-size
// slots into one of two alternating arenas; filling the active arena
// triggers a compaction into the other one, which is what levels wear
// across the backing sectors.
package fee

import (
	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
	"nvmcode-go/x/mathx"
)

var identification = [3]byte{'F', 'E', 'E'}

// Config for the flash-EEPROM emulation.
type Config struct {
	Parent nvm.Device
	// SectorHeaderNum is the number of sectors reserved for the arena
	// header at the start of each arena. 0 means 1.
	SectorHeaderNum uint32
	// SlotPayloadSize selects the payload bytes per slot (wear density).
	// 0 means DefaultPayload.
	SlotPayloadSize uint32
	Exclusive       bool
}

// Device is the FEE layer.
type Device struct {
	nvm.Lifecycle
	gate   nvm.Gate
	cfg    Config
	parent nvm.Device
	pInfo  nvm.Info

	payload      uint32
	slotSize     uint32
	headerNum    uint32
	arenaSectors uint32
	arenaSlots   uint32
	feeSize      uint32

	active int
	seq    uint16
	next   [2]uint32
	torn   int // index of a single accepted torn tail slot, -1 if none

	info nvm.Info
}

var _ nvm.Device = (*Device)(nil)

func New(cfg Config) *Device {
	d := &Device{cfg: cfg, gate: nvm.NewGate(cfg.Exclusive), torn: -1}
	d.MarkStop()
	return d
}

// Start derives the geometry, resolves which arena is authoritative and
// scans it for the next free slot.
func (d *Device) Start() error {
	if err := d.CheckStart(); err != nil {
		return err
	}
	if err := d.setup(); err != nil {
		return err
	}
	if err := d.selectArena(); err != nil {
		return err
	}
	d.info = nvm.Info{
		SectorSize:     1, // byte-addressable upward
		SectorNum:      d.feeSize,
		Identification: identification,
		WriteAlign:     0,
	}
	d.StartOK()
	return nil
}

func (d *Device) setup() error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidConfig, Op: "fee", Msg: msg}
	}
	if d.cfg.Parent == nil {
		return bad("nil parent")
	}
	d.parent = d.cfg.Parent

	pInfo, err := d.parent.Info()
	if err != nil {
		return err
	}
	d.pInfo = pInfo

	d.payload = d.cfg.SlotPayloadSize
	if d.payload == 0 {
		d.payload = DefaultPayload
	}
	if d.payload > 0xFE {
		return bad("slot payload too large for the length byte")
	}
	d.slotSize = slotHeaderSize + d.payload
	d.headerNum = d.cfg.SectorHeaderNum
	if d.headerNum == 0 {
		d.headerNum = 1
	}

	if pInfo.SectorNum%2 != 0 {
		return bad("parent sector count must be even")
	}
	d.arenaSectors = pInfo.SectorNum / 2
	if d.arenaSectors <= d.headerNum {
		return bad("no slot storage behind the header sectors")
	}
	if pInfo.SectorSize%d.slotSize != 0 {
		return bad("slot size must divide the parent sector size")
	}
	d.arenaSlots = (d.arenaSectors - d.headerNum) * pInfo.SectorSize / d.slotSize
	d.feeSize = d.arenaSlots * d.payload / 2
	if d.feeSize == 0 {
		return bad("geometry leaves no emulated capacity")
	}
	return nil
}

// ---- arena addressing ----

func (d *Device) arenaBytes() uint32 { return d.arenaSectors * d.pInfo.SectorSize }

func (d *Device) arenaBase(arena int) uint32 { return uint32(arena) * d.arenaBytes() }

func (d *Device) slotOff(arena int, idx uint32) uint32 {
	return d.arenaBase(arena) + d.headerNum*d.pInfo.SectorSize + idx*d.slotSize
}

func (d *Device) readHeader(arena int) (header, error) {
	buf := make([]byte, headerSize)
	if err := d.parent.Read(d.arenaBase(arena), buf); err != nil {
		return header{}, err
	}
	return decodeHeader(buf), nil
}

func (d *Device) writeHeader(arena int, h header) error {
	return d.parent.Write(d.arenaBase(arena), encodeHeader(h))
}

// retire rewrites only the state field; ACTIVE (0xAA55) decays to RETIRED
// (0x0000) by clearing bits, so no erase is needed.
func (d *Device) retire(arena int) error {
	return d.parent.Write(d.arenaBase(arena)+6, []byte{0x00, 0x00})
}

// format erases an arena and stamps a fresh ACTIVE header.
func (d *Device) format(arena int, seq uint16) error {
	if err := d.parent.Erase(d.arenaBase(arena), d.arenaBytes()); err != nil {
		return err
	}
	return d.writeHeader(arena, header{seq: seq, state: stateActive})
}

// ---- start-up scan ----

func (d *Device) selectArena() error {
	h0, err := d.readHeader(0)
	if err != nil {
		return err
	}
	h1, err := d.readHeader(1)
	if err != nil {
		return err
	}

	d.next = [2]uint32{}
	d.torn = -1

	switch {
	case h0.state == stateActive && h1.state == stateActive:
		// crash between activating the new arena and retiring the old;
		// the larger sequence number wins
		winner, loser := 0, 1
		if seqNewer(h1.seq, h0.seq) {
			winner, loser = 1, 0
		}
		if err := d.retire(loser); err != nil {
			return err
		}
		d.active = winner
		if winner == 0 {
			d.seq = h0.seq
		} else {
			d.seq = h1.seq
		}
	case h0.state == stateActive:
		d.active, d.seq = 0, h0.seq
	case h1.state == stateActive:
		d.active, d.seq = 1, h1.seq
	default:
		// nothing authoritative on the medium: fresh format
		if err := d.format(0, 1); err != nil {
			return err
		}
		d.active, d.seq = 0, 1
		return nil
	}

	next, torn, err := d.scanArena(d.active)
	if err != nil {
		return err
	}
	d.next[d.active] = next
	d.torn = torn
	return nil
}

// scanArena walks the slots forward until the first erased slot. A single
// bad-CRC slot followed only by erased ones is a torn tail write and is
// skipped; a bad slot with written slots behind it is corruption.
func (d *Device) scanArena(arena int) (next uint32, torn int, err error) {
	buf := make([]byte, d.slotSize)
	torn = -1
	for idx := uint32(0); idx < d.arenaSlots; idx++ {
		if err := d.parent.Read(d.slotOff(arena, idx), buf); err != nil {
			return 0, -1, err
		}
		switch _, st := decodeSlot(buf); st {
		case slotFree:
			return idx, torn, nil
		case slotBad:
			if torn >= 0 {
				return 0, -1, &errcode.E{C: errcode.Integrity, Op: "fee scan", Msg: "corrupt slot"}
			}
			torn = int(idx)
		case slotOK:
			if torn >= 0 {
				return 0, -1, &errcode.E{C: errcode.Integrity, Op: "fee scan", Msg: "written slot behind corrupt one"}
			}
		}
	}
	return d.arenaSlots, torn, nil
}

// ---- contract surface ----

func (d *Device) Stop() error { return d.CheckStop() }

func (d *Device) Info() (nvm.Info, error) {
	if d.State() == nvm.Uninit || d.State() == nvm.Stop {
		return nvm.Info{}, errcode.NotReady
	}
	return d.info, nil
}

// Read resolves each requested byte against the newest covering slot,
// scanning the active arena tail to head. Bytes never written read as 0xFF;
// a tombstone pins them back to 0xFF until rewritten.
func (d *Device) Read(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Reading); err != nil {
		return err
	}
	defer d.End()

	for i := range p {
		p[i] = 0xFF
	}
	if len(p) == 0 {
		return nil
	}
	resolved := make([]bool, len(p))
	remaining := len(p)

	buf := make([]byte, d.slotSize)
	for idx := int(d.next[d.active]) - 1; idx >= 0 && remaining > 0; idx-- {
		if idx == d.torn {
			continue
		}
		if err := d.parent.Read(d.slotOff(d.active, uint32(idx)), buf); err != nil {
			return err
		}
		s, st := decodeSlot(buf)
		if st == slotFree {
			continue
		}
		if st == slotBad {
			return &errcode.E{C: errcode.Integrity, Op: "fee read", Msg: "corrupt slot"}
		}

		lo := mathx.Max(s.addr, addr)
		hi := mathx.Min(s.addr+uint32(s.length), addr+uint32(len(p)))
		for b := lo; b < hi; b++ {
			i := b - addr
			if resolved[i] {
				continue
			}
			resolved[i] = true
			remaining--
			if s.tomb == tombLive {
				p[i] = s.payload[b-s.addr]
			}
		}
	}
	return nil
}

// Write chunks the payload into runs that never span a payload-sized
// logical page boundary and appends one slot per run. Older slots covering
// the same bytes stay in place; the tail-first read policy masks them.
func (d *Device) Write(addr uint32, p []byte) error {
	if err := nvm.CheckRange(d.info, addr, len(p)); err != nil {
		return err
	}
	if err := d.Begin(nvm.Writing); err != nil {
		return err
	}
	defer d.End()

	for len(p) > 0 {
		run := mathx.Min(d.payload-addr%d.payload, uint32(len(p)))
		if err := d.appendSlot(slot{
			addr:    addr,
			length:  uint8(run),
			tomb:    tombLive,
			payload: p[:run],
		}); err != nil {
			return err
		}
		addr += run
		p = p[run:]
	}
	return nil
}

// Erase appends tombstones; it never touches the backing sectors. Any
// byte range is acceptable: the exposed sector size is one.
func (d *Device) Erase(addr, n uint32) error {
	if err := nvm.CheckErase(d.info, addr, n); err != nil {
		return err
	}
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()

	for n > 0 {
		run := mathx.Min(d.payload-addr%d.payload, n)
		if err := d.appendSlot(slot{
			addr:   addr,
			length: uint8(run),
			tomb:   tombDead,
		}); err != nil {
			return err
		}
		addr += run
		n -= run
	}
	return nil
}

// appendSlot writes one slot at the active arena's tail, compacting first
// when the arena is full.
func (d *Device) appendSlot(s slot) error {
	if d.next[d.active] == d.arenaSlots {
		if err := d.compact(); err != nil {
			return err
		}
	}
	buf := make([]byte, d.slotSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	encodeSlot(buf, s)
	if err := d.parent.Write(d.slotOff(d.active, d.next[d.active]), buf); err != nil {
		return err
	}
	d.next[d.active]++
	return nil
}

// MassErase wipes both arenas at the parent level and reformats arena 0.
func (d *Device) MassErase() error {
	if err := d.Begin(nvm.Erasing); err != nil {
		return err
	}
	defer d.End()

	if err := d.parent.MassErase(); err != nil {
		return err
	}
	if err := d.writeHeader(0, header{seq: 1, state: stateActive}); err != nil {
		return err
	}
	d.active, d.seq = 0, 1
	d.next = [2]uint32{}
	d.torn = -1
	return nil
}

func (d *Device) Sync() error {
	if d.State() != nvm.Ready {
		return errcode.NotReady
	}
	return d.parent.Sync()
}

// Write protection cannot be mapped onto a log-structured medium: any slot
// may end up anywhere in either arena. Accepted as a range-checked no-op.

func (d *Device) WriteProtect(addr, n uint32) error {
	return nvm.CheckRange(d.info, addr, int(n))
}

func (d *Device) WriteUnprotect(addr, n uint32) error {
	return nvm.CheckRange(d.info, addr, int(n))
}

func (d *Device) MassWriteProtect() error   { return nil }
func (d *Device) MassWriteUnprotect() error { return nil }

func (d *Device) Acquire() {
	d.gate.Acquire()
	d.parent.Acquire()
}

func (d *Device) Release() {
	d.parent.Release()
	d.gate.Release()
}
