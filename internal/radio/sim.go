package radio

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNoFrame is returned by ReadRX when no frame is buffered.
var ErrNoFrame = errors.New("radio: no frame buffered")

// Sim is a deterministic in-memory radio used by tests and by the
// bench harness in cmd/meshctl. It has no real antenna: two Sims can be
// wired together with Connect to exchange frames, or driven directly by
// a test that injects frames with Deliver.
//
// The busy-wait inside WaitEvent mirrors the teacher's demod/pll_dcd
// polling loops (src/demod.go, src/pll_dcd.go) standing in for the real
// IRQ-driven radio: there is no sound card here, so a short
// unix.Nanosleep takes the place of the hardware interrupt wait.
type Sim struct {
	mu sync.Mutex

	AntennaDelay uint64
	ClockOffset  float32

	sysTick uint64

	rxBuf    []byte
	rxLen    int
	rxStamp  uint64
	rxReady  bool
	rxStatus Status

	peer *Sim
}

// NewSim returns a Sim with a zeroed clock.
func NewSim() *Sim {
	return &Sim{rxBuf: make([]byte, 127)}
}

// Connect wires a and b together so a transmission from one arrives as a
// reception on the other.
func Connect(a, b *Sim) {
	a.peer = b
	b.peer = a
}

func (s *Sim) ScheduleTX(absoluteTick uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysTick = absoluteTick
	return absoluteTick + s.AntennaDelay, nil
}

func (s *Sim) ScheduleRX(absoluteTick uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysTick = absoluteTick
	return nil
}

func (s *Sim) SetRXTimeout(time.Duration) {}

// WaitEvent reports whatever reception Deliver most recently queued, or
// a timeout if nothing arrived. Real hardware would block on an IRQ;
// here a short nanosleep stands in for that wait.
func (s *Sim) WaitEvent(timeout time.Duration) (Status, error) {
	_ = unix.Nanosleep(&unix.Timespec{Nsec: int64(time.Microsecond)}, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rxReady {
		s.rxReady = false
		return s.rxStatus, nil
	}
	return StatusRxTimeout, nil
}

func (s *Sim) ReadRXTimestamp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.rxStamp - s.AntennaDelay) & 0xffffffffff
}

func (s *Sim) ReadSysTimestamp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sysTick
}

func (s *Sim) ReadRXFinfo() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxLen
}

func (s *Sim) ReadRX(into []byte, offset, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset+n > s.rxLen {
		return 0, ErrNoFrame
	}
	return copy(into, s.rxBuf[offset:offset+n]), nil
}

func (s *Sim) WriteTX(from []byte, offset, n int) error {
	if s.peer == nil {
		return nil
	}
	s.peer.Deliver(from[offset:offset+n], StatusRxOK)
	return nil
}

func (s *Sim) WriteTXFctrl(offset, length int) error { return nil }

func (s *Sim) Sleep() {}
func (s *Sim) Wake()  {}

func (s *Sim) RXClockOffset() float32 {
	return s.ClockOffset
}

// Deliver queues a received frame with the given status, as if it had
// just arrived over the air at the current system tick plus antenna
// delay.
func (s *Sim) Deliver(payload []byte, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(s.rxBuf, payload)
	s.rxLen = n
	s.rxStamp = (s.sysTick + s.AntennaDelay) & 0xffffffffff
	s.rxStatus = status
	s.rxReady = true
}
