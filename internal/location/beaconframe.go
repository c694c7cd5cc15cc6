package location

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/golang/geo/r3"

	"github.com/uwbmesh/tschcore/internal/addr"
)

// BeaconVersion is the wire version of the location beacon payload
// (spec.md 6).
const BeaconVersion = 22

// ErrBeaconTruncated is returned by ParseBeacon when fewer than the
// fixed 100-byte beacon payload is present.
var ErrBeaconTruncated = errors.New("location: truncated beacon payload")

// Tuple is one (address, timestamp) pair advertising who the
// transmitter heard and when, from its own perspective (spec.md 4.6).
type Tuple struct {
	Addr  addr.Addr
	Tstamp int32 // radio ticks, signed
}

// Beacon is the location beacon frame payload carried inside a
// link-frame's data payload (spec.md 6).
type Beacon struct {
	Class         uint8
	Dir           int
	Slot          int
	Offset        int
	Position      r3.Vector // x,y,z
	R             float32
	Theta         float32
	Neighborhood  uint32
	Tuples        [6]Tuple
}

// packDirSlotOffset packs (dir ∈[0,8), slot ∈[0,4), offset ∈[0,7))
// into one byte: dir(3 bits) | slot(2 bits) | offset(3 bits).
func packDirSlotOffset(dir, slot, offset int) byte {
	return byte(dir&0x7) | byte(slot&0x3)<<3 | byte(offset&0x7)<<5
}

func unpackDirSlotOffset(b byte) (dir, slot, offset int) {
	dir = int(b & 0x7)
	slot = int((b >> 3) & 0x3)
	offset = int((b >> 5) & 0x7)
	return
}

// Encode serializes a Beacon into the fixed 100-byte wire payload of
// spec.md 6.
func (b *Beacon) Encode() []byte {
	buf := make([]byte, 4+20+4+6*12)
	buf[0] = BeaconVersion
	buf[1] = b.Class
	buf[2] = packDirSlotOffset(b.Dir, b.Slot, b.Offset)
	buf[3] = 0 // reserved

	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(b.Position.X)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(b.Position.Y)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(b.Position.Z)))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(b.R))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(b.Theta))
	binary.LittleEndian.PutUint32(buf[24:28], b.Neighborhood)

	off := 28
	for _, tp := range b.Tuples {
		copy(buf[off:off+addr.Len], tp.Addr[:])
		binary.LittleEndian.PutUint32(buf[off+addr.Len:off+addr.Len+4], uint32(tp.Tstamp))
		off += addr.Len + 4
	}
	return buf
}

// ParseBeacon decodes the fixed 100-byte wire payload into a Beacon.
func ParseBeacon(buf []byte) (*Beacon, error) {
	if len(buf) < 4+20+4+6*12 {
		return nil, ErrBeaconTruncated
	}
	b := &Beacon{Class: buf[1]}
	b.Dir, b.Slot, b.Offset = unpackDirSlotOffset(buf[2])

	b.Position.X = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])))
	b.Position.Y = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])))
	b.Position.Z = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16])))
	b.R = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))
	b.Theta = math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24]))
	b.Neighborhood = binary.LittleEndian.Uint32(buf[24:28])

	off := 28
	for i := range b.Tuples {
		var a addr.Addr
		copy(a[:], buf[off:off+addr.Len])
		b.Tuples[i].Addr = a
		b.Tuples[i].Tstamp = int32(binary.LittleEndian.Uint32(buf[off+addr.Len : off+addr.Len+4]))
		off += addr.Len + 4
	}
	return b, nil
}
