// Package radio abstracts the UWB transceiver behind the narrow
// capability surface described in spec.md 4.1. The register-level radio
// driver itself is out of scope for this core; only this interface and a
// deterministic simulator backend for tests live here.
package radio

import "time"

// Status is a bitmask of radio event flags returned by WaitEvent.
// Only StatusRxOK warrants a payload read; every other bit (timeout or
// error) is treated by callers as a silent slot (spec.md 4.1, 7).
type Status uint32

const (
	StatusTxDone Status = 1 << iota
	StatusRxOK
	StatusRxTimeout
	StatusPreambleTimeout
	StatusPHYHeaderError
	StatusFCSError
	StatusRSSyncLoss
	StatusSFDTimeout
	StatusFilterRejected
	StatusLeadingEdgeError
)

// Transient reports whether s is one of the error/timeout bits that the
// slot logic must treat as an absent reception rather than a fatal fault.
func (s Status) Transient() bool {
	const transientMask = StatusRxTimeout | StatusPreambleTimeout |
		StatusPHYHeaderError | StatusFCSError | StatusRSSyncLoss |
		StatusSFDTimeout | StatusFilterRejected | StatusLeadingEdgeError
	return s&transientMask != 0
}

// Capability is the contract a radio-chip driver must provide. All tick
// arguments and return values are 40-bit modular radio ticks (see
// internal/clock).
type Capability interface {
	ScheduleTX(absoluteTick uint64) (txOffset uint64, err error)
	ScheduleRX(absoluteTick uint64) error
	SetRXTimeout(d time.Duration)
	WaitEvent(timeout time.Duration) (Status, error)

	ReadRXTimestamp() uint64
	ReadSysTimestamp() uint64
	ReadRXFinfo() (length int)
	ReadRX(into []byte, offset, n int) (int, error)

	WriteTX(from []byte, offset, n int) error
	WriteTXFctrl(offset, length int) error

	Sleep()
	Wake()

	// RXClockOffset is the small fractional crystal offset used to scale
	// a partner-reported duration (spec.md 4.1).
	RXClockOffset() float32
}
