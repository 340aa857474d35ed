package fee

import (
	"nvmcode-go/errcode"
)

// compact migrates the live state of the full arena into the other one.
// Order matters for crash safety: the replayed slots land in the new arena
// before its header turns ACTIVE, and the old arena is retired only after
// that. Every interrupted intermediate leaves at most one ACTIVE arena
// whose accepted slots are complete, so a restart always converges.
func (d *Device) compact() error {
	old := d.active
	neu := 1 - old

	if err := d.parent.Erase(d.arenaBase(neu), d.arenaBytes()); err != nil {
		return err
	}

	image, err := d.replayImage(old)
	if err != nil {
		return err
	}

	next := uint32(0)
	buf := make([]byte, d.slotSize)
	for page := uint32(0); page < d.feeSize; page += d.payload {
		run := image[page : page+d.payload]
		length := uint32(0)
		for i := d.payload; i > 0; i-- {
			if run[i-1] != 0xFF {
				length = i
				break
			}
		}
		if length == 0 {
			continue
		}
		for i := range buf {
			buf[i] = 0xFF
		}
		encodeSlot(buf, slot{
			addr:    page,
			length:  uint8(length),
			tomb:    tombLive,
			payload: run[:length],
		})
		if err := d.parent.Write(d.slotOff(neu, next), buf); err != nil {
			return err
		}
		next++
	}

	if err := d.writeHeader(neu, header{seq: d.seq + 1, state: stateActive}); err != nil {
		return err
	}

	// the new arena is authoritative from here on; switch to it before
	// touching the old one, so a failed cleanup cannot make a retry erase
	// the copy that just became current
	d.active = neu
	d.seq++
	d.next[neu] = next
	d.next[old] = 0
	d.torn = -1

	// cleanup of the old arena is best-effort: if it fails the device is
	// still consistent, and the next swap into that arena erases it first
	if err := d.retire(old); err != nil {
		return err
	}
	return d.parent.Erase(d.arenaBase(old), d.arenaBytes())
}

// replayImage resolves the whole emulated address space out of one arena,
// newest slot first. Unwritten and tombstoned bytes come out as 0xFF.
func (d *Device) replayImage(arena int) ([]byte, error) {
	image := make([]byte, d.feeSize)
	for i := range image {
		image[i] = 0xFF
	}
	resolved := make([]bool, d.feeSize)

	buf := make([]byte, d.slotSize)
	for idx := int(d.next[arena]) - 1; idx >= 0; idx-- {
		if arena == d.active && idx == d.torn {
			continue
		}
		if err := d.parent.Read(d.slotOff(arena, uint32(idx)), buf); err != nil {
			return nil, err
		}
		s, st := decodeSlot(buf)
		if st == slotFree {
			continue
		}
		if st == slotBad {
			return nil, &errcode.E{C: errcode.Integrity, Op: "fee compact", Msg: "corrupt slot"}
		}
		for b := uint32(0); b < uint32(s.length); b++ {
			a := s.addr + b
			if a >= d.feeSize || resolved[a] {
				continue
			}
			resolved[a] = true
			if s.tomb == tombLive {
				image[a] = s.payload[b]
			}
		}
	}
	return image, nil
}
