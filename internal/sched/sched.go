// Package sched implements the slotframe/ASN scheduler of spec.md 4.4:
// a small set of slotframes, each a ring of slots, advanced one tick per
// slot and dispatching the per-slot callback at the slot boundary.
package sched

import (
	"errors"
	"sync"

	"github.com/uwbmesh/tschcore/internal/frame"
)

// Option is a bitmask of slot roles (spec.md 3: "an option set").
type Option uint8

const (
	OptTX Option = 1 << iota
	OptRX
	OptShared
	OptScan
)

var (
	// ErrPriorityTaken is returned by SlotframeAdd when a priority is
	// already registered (spec.md 3 invariant: exactly one slotframe per
	// priority tag).
	ErrPriorityTaken = errors.New("sched: slotframe priority already registered")
	// ErrNoSlotframe is returned when a priority names no slotframe.
	ErrNoSlotframe = errors.New("sched: no such slotframe")
	// ErrOffsetTaken is returned by SlotAdd when a slot already occupies
	// that offset in the slotframe.
	ErrOffsetTaken = errors.New("sched: slot offset already occupied")
)

// Callback is invoked when a slot fires. asn is the absolute slot
// number at which this slot fired.
type Callback func(asn uint64, slot *Slot)

// Slot is one entry in a slotframe's ring.
type Slot struct {
	Options  Option
	Offset   int
	Callback Callback

	mu        sync.Mutex
	txQueue   []*frame.Frame
	DropCount int
}

// Enqueue appends a frame to this slot's FIFO tx queue.
func (s *Slot) Enqueue(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txQueue = append(s.txQueue, f)
}

// Peek returns the head of the tx queue without removing it, or nil.
func (s *Slot) Peek() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txQueue) == 0 {
		return nil
	}
	return s.txQueue[0]
}

// Pop removes and returns the head of the tx queue, or nil.
func (s *Slot) Pop() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txQueue) == 0 {
		return nil
	}
	f := s.txQueue[0]
	s.txQueue = s.txQueue[1:]
	return f
}

// Drop pops the head of the tx queue and counts it as dropped.
func (s *Slot) Drop() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txQueue) == 0 {
		return nil
	}
	f := s.txQueue[0]
	s.txQueue = s.txQueue[1:]
	s.DropCount++
	return f
}

// QueueLen reports the current tx queue depth.
func (s *Slot) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txQueue)
}

// Slotframe is an ordered ring of Length slots, identified by Priority.
type Slotframe struct {
	Priority int
	Length   int

	mu    sync.Mutex
	slots map[int]*Slot
}

func newSlotframe(priority, length int) *Slotframe {
	return &Slotframe{Priority: priority, Length: length, slots: make(map[int]*Slot)}
}

// SlotAt returns the slot at offset, or nil.
func (sf *Slotframe) SlotAt(offset int) *Slot {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.slots[offset]
}

// Scheduler owns a set of slotframes keyed by priority and the
// absolute slot number, advancing one slot per Tick call (spec.md 4.4).
type Scheduler struct {
	mu         sync.Mutex
	slotframes map[int]*Slotframe
	asn        uint64
	phaseTicks int64 // sub-slot fractional offset correction, in radio ticks
}

// New returns an empty scheduler at ASN 0.
func New() *Scheduler {
	return &Scheduler{slotframes: make(map[int]*Slotframe)}
}

// SlotframeAdd installs a new slotframe of the given length at
// priority. Fails if the priority is already registered.
func (s *Scheduler) SlotframeAdd(priority, length int) (*Slotframe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slotframes[priority]; ok {
		return nil, ErrPriorityTaken
	}
	sf := newSlotframe(priority, length)
	s.slotframes[priority] = sf
	return sf, nil
}

// SlotframeRemove removes the slotframe at priority, if any.
func (s *Scheduler) SlotframeRemove(priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slotframes, priority)
}

// Slotframe returns the slotframe at priority, or nil.
func (s *Scheduler) Slotframe(priority int) *Slotframe {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotframes[priority]
}

// SlotAdd installs a slot at offset within sf.
func SlotAdd(sf *Slotframe, options Option, offset int, cb Callback) (*Slot, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, ok := sf.slots[offset]; ok {
		return nil, ErrOffsetTaken
	}
	slot := &Slot{Options: options, Offset: offset, Callback: cb}
	sf.slots[offset] = slot
	return slot, nil
}

// SlotRemove removes the slot at offset within sf.
func SlotRemove(sf *Slotframe, offset int) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	delete(sf.slots, offset)
}

// SlotFind returns the slot at offset within sf, or nil.
func SlotFind(sf *Slotframe, offset int) *Slot {
	return sf.SlotAt(offset)
}

// ASN returns the current absolute slot number.
func (s *Scheduler) ASN() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asn
}

// Sync resets the ASN and the fractional phase offset within a slot
// (spec.md 4.4 synchronization primitives).
func (s *Scheduler) Sync(asn uint64, phaseTicks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asn = asn
	s.phaseTicks = phaseTicks
}

// Offset applies a small correction (in radio ticks) to the phase,
// typically half the observed arrival error, so that sync converges
// stably rather than overshooting (spec.md 4.4).
func (s *Scheduler) Offset(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phaseTicks += delta
}

// Phase returns the current fractional offset within a slot, in radio
// ticks.
func (s *Scheduler) Phase() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseTicks
}

// Tick advances the ASN by one and, for every registered slotframe,
// invokes the callback of the slot whose offset equals ASN mod
// sf.Length, if one is registered there.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.asn++
	asn := s.asn
	sfs := make([]*Slotframe, 0, len(s.slotframes))
	for _, sf := range s.slotframes {
		sfs = append(sfs, sf)
	}
	s.mu.Unlock()

	for _, sf := range sfs {
		offset := int(asn % uint64(sf.Length))
		slot := sf.SlotAt(offset)
		if slot != nil && slot.Callback != nil {
			slot.Callback(asn, slot)
		}
	}
}
