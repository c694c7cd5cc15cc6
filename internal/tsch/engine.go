// Package tsch implements the time-slotted channel-hopping link-layer
// engine of spec.md 4.5: the connection state machine and the three
// slot behaviors (scan, advertising, shared) that drive it.
package tsch

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/frame"
	"github.com/uwbmesh/tschcore/internal/radio"
	"github.com/uwbmesh/tschcore/internal/sched"
)

// State is one of the TSCH connection states (spec.md 4.5).
type State int

const (
	StateIdle State = iota
	StateScanning
	StateSynced
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateSynced:
		return "synced"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event drives TSCH state transitions.
type Event int

const (
	EventTimeout Event = iota
	EventStartNetwork
	EventStartScan
	EventStopScan
	EventSync
	EventConnect
	EventDisconnect
)

// Radio-timing constants. Real values are chip- and PHY-dependent; these
// match the ~1.7 ms shared-slot ack round-trip of scenario S3.
const (
	TXOffset       = 300 * time.Microsecond
	RXOffset       = 100 * time.Microsecond
	RXTimeout      = 2 * time.Millisecond
	RXAckOffset    = 1700 * time.Microsecond
	RXAckTimeout   = 500 * time.Microsecond
	TXAckOffset    = 1700 * time.Microsecond
	FloodRetries   = 3
	DropThreshold  = 5
	CoolOffSlots   = 2
)

// ErrNotAddressed is returned by AcceptAddress when a received frame's
// destination does not validate against this node's addresses.
var ErrNotAddressed = errors.New("tsch: frame not addressed to this node")

// ScanFilter decides whether an advertised network (by SSID, extracted
// from the beacon's SSID-IE) should be joined.
type ScanFilter func(ssid string) bool

// DistanceReporter receives round-trip distance measurements derived
// from shared-slot ack exchanges (spec.md 4.5), expressed in radio
// ticks of one-way flight time.
type DistanceReporter interface {
	ReportDistance(peer addr.Addr, oneWayTicks int64)
}

// Engine owns the TSCH connection state machine plus the scan,
// advertising, and shared slot behaviors that drive it. It is one
// member of the owned Node aggregate (spec.md 9): there is no global
// mutable tsch singleton.
type Engine struct {
	Self  addr.Addr
	Radio radio.Capability
	Sched *sched.Scheduler
	Pool  *FramePool

	Bayes    *Bayes
	IsBeacon bool // set by the location engine when this node beacons
	Distance DistanceReporter
	Filter   ScanFilter
	Log      *log.Logger

	mu          sync.Mutex
	state       State
	sharedState sharedState
	coolOff     int
}

type sharedState int

const (
	sharedIdle sharedState = iota
	sharedAdv
	sharedTx
	sharedCoolOff
)

// NewEngine constructs an idle engine for the given node address.
func NewEngine(self addr.Addr, r radio.Capability, s *sched.Scheduler) *Engine {
	return &Engine{
		Self:  self,
		Radio: r,
		Sched: s,
		Pool:  NewFramePool(),
		Bayes: NewBayes(),
		Log:   log.Default().With("component", "tsch", "addr", self.String()),
	}
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Handle applies a state-transition event, mutually exclusive with
// every other state mutation (spec.md 5: a mutex guards the TSCH-state
// event handler).
func (e *Engine) Handle(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.state
	switch e.state {
	case StateIdle:
		switch ev {
		case EventStartScan:
			e.state = StateScanning
		case EventStartNetwork:
			e.state = StateConnected
		}
	case StateScanning:
		switch ev {
		case EventStopScan:
			e.state = StateIdle
		case EventSync:
			e.state = StateSynced
		}
	case StateSynced:
		switch ev {
		case EventConnect:
			e.state = StateConnected
		case EventTimeout:
			e.state = StateScanning
		}
	case StateConnected:
		switch ev {
		case EventDisconnect, EventTimeout:
			e.state = StateDisconnected
		}
	}
	if e.state == StateDisconnected {
		// A disconnected state reached from connected immediately
		// transitions back to idle (spec.md 4.5).
		e.state = StateIdle
	}
	if e.state != from && e.Log != nil {
		e.Log.Debug("state transition", "from", from, "to", e.state, "event", ev)
	}
}

// AcceptAddress implements the address-validity test of spec.md 4.5:
// the destination length/value must match this node, broadcast, or a
// configured IPv6 address's trailing 64 bits.
func AcceptAddress(destAddr []byte, self addr.Addr, configuredLower64 [][8]byte) bool {
	switch len(destAddr) {
	case 0:
		return true
	case addr.ShortLen:
		return destAddr[0] == addr.BroadcastShort[0] && destAddr[1] == addr.BroadcastShort[1]
	case addr.Len:
		a := addr.FromBytes(destAddr)
		if a == self || a.IsBroadcast() {
			return true
		}
		for _, lower := range configuredLower64 {
			if addr.Addr(lower) == a {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ValidAck reports whether f is a legitimate acknowledgement of txSeq
// addressed to self (spec.md 4.5: "A valid ack is one whose frame-type
// is ACK, whose destination matches this node, and whose sequence
// number matches the tx frame").
func ValidAck(f *frame.Frame, self addr.Addr, txSeq uint8) bool {
	if f.Type != frame.TypeAck {
		return false
	}
	if f.Seq != txSeq {
		return false
	}
	if len(f.DestAddr) != addr.Len {
		return false
	}
	return addr.FromBytes(f.DestAddr) == self
}

// TurnaroundDistance derives a one-way flight-time estimate from a
// round-trip ack exchange: (rxtstamp - txtstamp - duration) / 2, with
// duration first scaled by the peer's reported clock offset (spec.md
// 4.5).
func TurnaroundDistance(txTick, rxTick uint64, peerDurationTicks uint32, rxClockOffset float32) int64 {
	scaledDuration := int64(float32(peerDurationTicks) * (1 - rxClockOffset))
	roundTrip := int64(rxTick) - int64(txTick) - scaledDuration
	return roundTrip / 2
}
