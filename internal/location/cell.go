package location

import (
	"time"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/frame"
	"github.com/uwbmesh/tschcore/internal/radio"
)

// NumDirs and NumSlots partition the 32 (dir,slot) loc-slot cells that
// together cover the NumLatticeIndices-entry neighborhood table over
// time (spec.md 4.6: "this node computes (dir, slot) from ASN").
const (
	NumDirs  = 8
	NumSlots = 4
	// CellPeriod is how many ASN ticks each (dir,slot) cell is assigned
	// before cycling to the next.
	CellPeriod = 16
)

// CellFromASN computes the (dir, slot) pair active at asn.
func CellFromASN(asn uint64) (dir, slot int) {
	cell := (asn / CellPeriod) % (NumDirs * NumSlots)
	return int(cell / NumSlots), int(cell % NumSlots)
}

// BeaconOrder returns the six lattice indices this (dir,slot) cell
// interrogates, offset 0 first (the prime). The mapping cycles evenly
// through the 20-entry neighborhood table; a given index reappears in
// several cells over a full dir/slot cycle, matching up with
// neighbors reachable from more than one of this node's own faces.
func BeaconOrder(dir, slot int) [6]int {
	var order [6]int
	base := (dir*NumSlots + slot) % NumLatticeIndices
	for k := range order {
		order[k] = (base + k*3) % NumLatticeIndices
	}
	return order
}

// CellSlot runs one loc-slot cell's six-offset exchange (spec.md 4.6)
// and, once the prime's closing retransmission at offset 6 is seen (or
// missed), hands the accumulated result to UpdateFromCell.
//
// selfClass is the class byte carried in this node's own outgoing
// beacon, if it transmits this cell.
func (e *Engine) CellSlot(r radio.Capability, asn uint64, selfClass uint8, ssid string) {
	dir, slot := CellFromASN(asn)
	order := BeaconOrder(dir, slot)

	ts := NewTstamps()
	heard := make(map[int]Neighbor)

	ownOffset := -1
	if e.IsBeacon {
		for k, idx := range order {
			if idx == e.BeaconIndex {
				ownOffset = k
				break
			}
		}
	}

	selfConfirmed := false
	for offset := 0; offset < NumOffsets; offset++ {
		if offset == ownOffset {
			e.cellTransmit(r, dir, slot, offset, selfClass, ssid)
			ts.SetTransmitted(offset)
			continue
		}
		if e.cellReceive(r, ts, heard, order, offset) {
			selfConfirmed = true
		}
	}
	if ownOffset >= 0 {
		e.recordContention(selfConfirmed)
	}

	e.UpdateFromCell(CellResult{Dir: dir, Slot: slot, Order: order, Heard: heard, Tstamps: ts})
}

// recordContention implements spec.md 4.6's beacon-contention backoff:
// a peer's tuples confirming our own address feeds backoff_success,
// their absence across every frame this cell feeds backoff_fail.
func (e *Engine) recordContention(confirmed bool) {
	if e.Backoff == nil {
		return
	}
	if confirmed {
		e.Backoff.Success()
	} else {
		e.Backoff.Fail()
	}
}

func (e *Engine) cellTransmit(r radio.Capability, dir, slot, offset int, class uint8, ssid string) {
	b := &Beacon{
		Class:    class,
		Dir:      dir,
		Slot:     slot,
		Offset:   offset,
		Position: Quantize(e.Position),
	}
	for k, idx := range BeaconOrder(dir, slot) {
		nbr := e.Neighbors.At(idx)
		if nbr.Present {
			b.Tuples[k] = Tuple{Addr: nbr.Addr}
		}
	}

	payload := b.Encode()
	f := frame.New(frame.TypeBeacon)
	f.SetAddresses(0, addr.Broadcast[:], addr.Len, 0, e.Self[:], addr.Len)
	f.PayloadAppend(payload)

	wire, err := f.Encode()
	if err != nil {
		return
	}
	r.WriteTX(wire, 0, len(wire))
	r.WriteTXFctrl(0, len(wire))
	r.ScheduleTX(0)
	r.WaitEvent(LocOffsetTimeout)
}

// LocOffsetTimeout bounds how long each of the six per-cell offsets
// waits for a frame before moving on.
const LocOffsetTimeout = 1700 * time.Microsecond

// cellReceive listens for one offset's frame and reports whether the
// received beacon's tuples confirmed this node's own address, used by
// the caller to drive beacon-contention backoff (spec.md 4.6).
func (e *Engine) cellReceive(r radio.Capability, ts *Tstamps, heard map[int]Neighbor, order [6]int, offset int) bool {
	r.SetRXTimeout(LocOffsetTimeout)
	if err := r.ScheduleRX(0); err != nil {
		return false
	}
	status, err := r.WaitEvent(LocOffsetTimeout)
	if err != nil || status != radio.StatusRxOK {
		return false
	}
	rxTick := r.ReadRXTimestamp()

	buf := make([]byte, frame.MaxPHYFrame)
	n, rerr := r.ReadRX(buf, 0, r.ReadRXFinfo())
	if rerr != nil {
		return false
	}
	f, perr := frame.Parse(buf[:n])
	if perr != nil || f.Type != frame.TypeBeacon {
		return false
	}
	b, berr := ParseBeacon(f.Payload)
	if berr != nil {
		return false
	}

	srcIdx := order[0]
	if offset > 0 && offset <= 5 {
		srcIdx = order[offset]
	}
	heard[srcIdx] = Neighbor{Addr: addr.FromBytes(f.SrcAddr), Position: b.Position, Class: b.Class, Present: true}

	// Offset 0 (the prime's own transmission) seeds heard[] but carries
	// no row-0 timestamp of its own; tstamps[0,j] tracks this node's
	// relative arrival times for the other six windows.
	if offset != 0 {
		ts.Set(0, offset, float64(rxTick))
	}

	for _, tp := range b.Tuples {
		if tp.Addr == e.Self {
			return true
		}
	}
	return false
}
