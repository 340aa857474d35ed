package fee

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

// On-medium format. The backing device is split into two arenas of
// identical geometry; each starts with a header sector followed by
// back-to-back slots. All multi-byte fields are little-endian.

const (
	headerVersion = 0x01
	headerSize    = 8

	stateErased  uint16 = 0xFFFF
	stateActive  uint16 = 0xAA55
	stateRetired uint16 = 0x0000

	slotHeaderSize = 8

	// DefaultPayload is the slot payload size when the config leaves it 0.
	DefaultPayload = 8

	tombFree byte = 0xFF // header bytes still erased
	tombLive byte = 0x55
	tombDead byte = 0x00 // tombstone: the covered bytes read as erased

	lenErased byte = 0xFF
)

var magic = [3]byte{'F', 'E', 'E'}

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

type header struct {
	seq   uint16
	state uint16
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf, magic[:])
	buf[3] = headerVersion
	binary.LittleEndian.PutUint16(buf[4:], h.seq)
	binary.LittleEndian.PutUint16(buf[6:], h.state)
	return buf
}

// decodeHeader classifies a raw header. A missing magic, a wrong version or
// an unrecognised state all read as ERASED: a torn header write must never
// make an arena look authoritative.
func decodeHeader(buf []byte) header {
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != headerVersion {
		return header{state: stateErased}
	}
	h := header{
		seq:   binary.LittleEndian.Uint16(buf[4:]),
		state: binary.LittleEndian.Uint16(buf[6:]),
	}
	if h.state != stateActive && h.state != stateRetired {
		h.state = stateErased
	}
	return h
}

// seqNewer reports whether a is more recent than b, modulo-aware so the
// sequence may wrap.
func seqNewer(a, b uint16) bool { return int16(a-b) > 0 }

type slotStatus uint8

const (
	slotOK slotStatus = iota
	slotFree
	slotBad
)

type slot struct {
	addr    uint32
	length  uint8
	tomb    byte
	payload []byte // full payload field, erased tail included
}

// encodeSlot lays a slot into buf (slot-size bytes). The CRC covers the
// first six header bytes and the whole payload field.
func encodeSlot(buf []byte, s slot) {
	binary.LittleEndian.PutUint32(buf[0:], s.addr)
	buf[4] = s.length
	buf[5] = s.tomb
	copy(buf[slotHeaderSize:], s.payload)
	binary.LittleEndian.PutUint16(buf[6:], slotCRC(buf))
}

func slotCRC(buf []byte) uint16 {
	c := crc16.Init(crcTable)
	c = crc16.Update(c, buf[:6], crcTable)
	c = crc16.Update(c, buf[slotHeaderSize:], crcTable)
	return crc16.Complete(c, crcTable)
}

// decodeSlot classifies a raw slot. A fully-erased header is a free slot;
// anything else must carry a valid CRC.
func decodeSlot(buf []byte) (slot, slotStatus) {
	if buf[4] == lenErased && buf[5] == tombFree {
		return slot{}, slotFree
	}
	if binary.LittleEndian.Uint16(buf[6:]) != slotCRC(buf) {
		return slot{}, slotBad
	}
	return slot{
		addr:    binary.LittleEndian.Uint32(buf[0:]),
		length:  buf[4],
		tomb:    buf[5],
		payload: buf[slotHeaderSize:],
	}, slotOK
}
