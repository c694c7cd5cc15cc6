// Package frame implements the link-layer frame codec of spec.md 4.2 and
// 6: framing control word, sequence number, addresses, the header-IE
// chain, payload, and the trailing frame-check sequence.
package frame

import (
	"encoding/binary"
	"errors"

	"github.com/uwbmesh/tschcore/internal/addr"
)

// Type is the 3-bit frame-type subfield of the frame-control word.
type Type uint8

const (
	TypeBeacon Type = iota
	TypeData
	TypeAck
	TypeMultipurpose
	TypeFragment
	TypeExtended
)

// IEType is the 7-bit type field of an information element.
type IEType uint8

const (
	// SyncIE carries the ASN in an advertising beacon.
	SyncIE IEType = 0x1a
	// TRespIE carries a 32-bit tx-response duration used for distance
	// measurement.
	TRespIE IEType = 0x1b
	// SSIDIE carries the advertised network's identifier in a beacon.
	SSIDIE IEType = 0x1c
	// ht2IE is the sentinel that terminates the header-IE chain.
	ht2IE IEType = 0x7e
)

// MaxPHYFrame is the standard IEEE 802.15.4 physical frame size budget
// that a link frame's headers plus payload must fit within (spec.md 3
// invariants).
const MaxPHYFrame = 127

var (
	// ErrTruncated is returned by Parse when a header cannot be fully
	// read; the frame is unusable (spec.md 4.2).
	ErrTruncated = errors.New("frame: truncated")
	// ErrTooLarge is returned by Encode when the assembled frame would
	// not fit in MaxPHYFrame bytes.
	ErrTooLarge = errors.New("frame: exceeds physical frame budget")
)

// IE is one information element: a (type, length, payload) tuple plus
// the header-bit flag carried in its first octet.
type IE struct {
	HeaderBit bool
	Type      IEType
	Content   []byte
}

// Frame is the in-memory representation of a link-layer frame. Zero
// value is not directly usable; use New.
type Frame struct {
	Type Type
	Seq  uint8

	DestPAN  uint16
	HasDPAN  bool
	DestAddr []byte // 0, 2, or 8 bytes
	SrcPAN   uint16
	HasSPAN  bool
	SrcAddr  []byte // 0, 2, or 8 bytes
	IntraPAN bool

	IEs     []IE
	Payload []byte

	// FCS is the 2-byte trailing frame-check sequence. It is computed by
	// Encode; Parse stores the received value without checking it. Radio
	// hardware that computes its own
	// FCS may leave this zero and rely on the radio's FCS-good status
	// bit instead (spec.md 4.1).
	FCS uint16
}

// New returns a Frame of the given type with no addresses, IEs, or
// payload set.
func New(t Type) *Frame {
	return &Frame{Type: t}
}

// SetSequenceNumber sets the frame's 1-byte sequence number.
func (f *Frame) SetSequenceNumber(n uint8) { f.Seq = n }

// SetAddresses sets source and destination PAN/address fields. destLen
// and srcLen must each be 0, 2, or 8; the corresponding slice must have
// that length (or be nil/empty for 0).
func (f *Frame) SetAddresses(destPAN uint16, destAddr []byte, destLen int, srcPAN uint16, srcAddr []byte, srcLen int) error {
	if destLen != 0 && destLen != addr.ShortLen && destLen != addr.Len {
		return errors.New("frame: invalid dest address length")
	}
	if srcLen != 0 && srcLen != addr.ShortLen && srcLen != addr.Len {
		return errors.New("frame: invalid src address length")
	}
	f.DestPAN, f.HasDPAN = destPAN, destLen != 0
	f.SrcPAN, f.HasSPAN = srcPAN, srcLen != 0
	if destLen > 0 {
		f.DestAddr = append([]byte(nil), destAddr[:destLen]...)
	} else {
		f.DestAddr = nil
	}
	if srcLen > 0 {
		f.SrcAddr = append([]byte(nil), srcAddr[:srcLen]...)
	} else {
		f.SrcAddr = nil
	}
	return nil
}

// AppendIE appends an information element to the header-IE chain.
func (f *Frame) AppendIE(headerBit bool, typ IEType, content []byte) {
	f.IEs = append(f.IEs, IE{HeaderBit: headerBit, Type: typ, Content: append([]byte(nil), content...)})
}

// PayloadAppend appends bytes to the frame's payload region.
func (f *Frame) PayloadAppend(b []byte) {
	f.Payload = append(f.Payload, b...)
}

// IterIEs returns the frame's information elements in chain order.
func (f *Frame) IterIEs() []IE { return f.IEs }

// FindIE returns the first IE of the given type, or ok=false.
func (f *Frame) FindIE(typ IEType) (IE, bool) {
	for _, ie := range f.IEs {
		if ie.Type == typ {
			return ie, true
		}
	}
	return IE{}, false
}

func addrModeBits(n int) uint16 {
	switch n {
	case 0:
		return 0
	case addr.ShortLen:
		return 2
	case addr.Len:
		return 3
	default:
		return 0
	}
}

// frameControl assembles the 2-byte frame-control word.
func (f *Frame) frameControl() uint16 {
	var fc uint16
	fc |= uint16(f.Type) & 0x7
	if f.IntraPAN {
		fc |= 1 << 6
	}
	fc |= addrModeBits(len(f.DestAddr)) << 10
	fc |= 1 << 12 // frame version 1
	fc |= addrModeBits(len(f.SrcAddr)) << 14
	return fc
}

// Encode serializes f into the standard link-frame wire layout of
// spec.md 6: frame-control word, sequence number, addresses, IE chain
// terminated by HT2_IE, payload, and a 2-byte trailing FCS.
func (f *Frame) Encode() ([]byte, error) {
	buf := make([]byte, 0, MaxPHYFrame)
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], f.frameControl())
	buf = append(buf, hdr[:]...)
	buf = append(buf, f.Seq)

	if f.HasDPAN {
		var p [2]byte
		binary.LittleEndian.PutUint16(p[:], f.DestPAN)
		buf = append(buf, p[:]...)
	}
	buf = append(buf, f.DestAddr...)
	if f.HasSPAN {
		var p [2]byte
		binary.LittleEndian.PutUint16(p[:], f.SrcPAN)
		buf = append(buf, p[:]...)
	}
	buf = append(buf, f.SrcAddr...)

	for _, ie := range f.IEs {
		buf = appendIEBytes(buf, ie)
	}
	buf = appendIEBytes(buf, IE{Type: ht2IE})

	buf = append(buf, f.Payload...)

	if len(buf)+2 > MaxPHYFrame {
		return nil, ErrTooLarge
	}

	fcs := ComputeFCS(buf)
	var trailer [2]byte
	binary.LittleEndian.PutUint16(trailer[:], fcs)
	buf = append(buf, trailer[:]...)
	return buf, nil
}

func appendIEBytes(buf []byte, ie IE) []byte {
	var h uint16
	h |= uint16(ie.Type) & 0x7f
	h |= uint16(len(ie.Content)&0xff) << 7
	if ie.HeaderBit {
		h |= 1 << 15
	}
	var hb [2]byte
	binary.LittleEndian.PutUint16(hb[:], h)
	buf = append(buf, hb[:]...)
	return append(buf, ie.Content...)
}

// Parse decodes buf (frame bytes including the trailing FCS) into a
// Frame. Parsing is tolerant to truncation: once a header cannot be
// fully read, it stops and returns ErrTruncated (spec.md 4.2).
func Parse(buf []byte) (*Frame, error) {
	if len(buf) < 3 {
		return nil, ErrTruncated
	}
	fc := binary.LittleEndian.Uint16(buf[0:2])
	f := &Frame{
		Type:     Type(fc & 0x7),
		IntraPAN: fc&(1<<6) != 0,
	}
	destMode := (fc >> 10) & 0x3
	srcMode := (fc >> 14) & 0x3

	cur := buf[2:]
	if len(cur) < 1 {
		return nil, ErrTruncated
	}
	f.Seq = cur[0]
	cur = cur[1:]

	destLen, ok := addrLenFromMode(destMode)
	if !ok {
		return nil, ErrTruncated
	}
	if destLen > 0 {
		if len(cur) < 2 {
			return nil, ErrTruncated
		}
		f.DestPAN = binary.LittleEndian.Uint16(cur[0:2])
		f.HasDPAN = true
		cur = cur[2:]
		if len(cur) < destLen {
			return nil, ErrTruncated
		}
		f.DestAddr = append([]byte(nil), cur[:destLen]...)
		cur = cur[destLen:]
	}

	srcLen, ok := addrLenFromMode(srcMode)
	if !ok {
		return nil, ErrTruncated
	}
	if srcLen > 0 {
		if len(cur) < 2 {
			return nil, ErrTruncated
		}
		f.SrcPAN = binary.LittleEndian.Uint16(cur[0:2])
		f.HasSPAN = true
		cur = cur[2:]
		if len(cur) < srcLen {
			return nil, ErrTruncated
		}
		f.SrcAddr = append([]byte(nil), cur[:srcLen]...)
		cur = cur[srcLen:]
	}

	for {
		if len(cur) < 2 {
			return nil, ErrTruncated
		}
		h := binary.LittleEndian.Uint16(cur[0:2])
		cur = cur[2:]
		typ := IEType(h & 0x7f)
		length := int((h >> 7) & 0xff)
		headerBit := h&(1<<15) != 0
		if typ == ht2IE {
			break
		}
		if len(cur) < length {
			return nil, ErrTruncated
		}
		f.IEs = append(f.IEs, IE{HeaderBit: headerBit, Type: typ, Content: append([]byte(nil), cur[:length]...)})
		cur = cur[length:]
	}

	if len(cur) < 2 {
		return nil, ErrTruncated
	}
	f.Payload = append([]byte(nil), cur[:len(cur)-2]...)
	f.FCS = binary.LittleEndian.Uint16(cur[len(cur)-2:])
	return f, nil
}

func addrLenFromMode(mode uint16) (int, bool) {
	switch mode {
	case 0:
		return 0, true
	case 2:
		return addr.ShortLen, true
	case 3:
		return addr.Len, true
	default:
		return 0, false
	}
}

// ComputeFCS computes the 2-byte CRC-16/CCITT (polynomial 0x1021,
// reflected, matching the IEEE 802.15.4 FCS) over data. Real radio
// hardware usually computes this itself on transmit and verifies it on
// receive; this is provided for the simulator backend and for tests
// that need a wire-exact frame.
func ComputeFCS(data []byte) uint16 {
	var crc uint16 = 0
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
