package radio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pkg/term"
)

// SerialProtocol is the one-byte command tag prefixing every request
// sent to the MCU front-end that proxies the real DW1000's SPI
// registers over UART, mirroring the teacher's KISS framing over a
// plain serial link (spec.md 4.1, hardware bring-up).
type SerialProtocol byte

const (
	cmdScheduleTX SerialProtocol = 'T'
	cmdScheduleRX SerialProtocol = 'R'
	cmdSetTimeout SerialProtocol = 'O'
	cmdWaitEvent  SerialProtocol = 'W'
	cmdRXTime     SerialProtocol = 'x'
	cmdSysTime    SerialProtocol = 's'
	cmdRXFinfo    SerialProtocol = 'i'
	cmdReadRX     SerialProtocol = 'd'
	cmdWriteTX    SerialProtocol = 'w'
	cmdWriteFctrl SerialProtocol = 'f'
	cmdSleep      SerialProtocol = 'z'
	cmdWake       SerialProtocol = 'Z'
	cmdClockOff   SerialProtocol = 'o'
)

// ErrShortWrite is returned when the serial link accepted fewer bytes
// than requested.
var ErrShortWrite = errors.New("radio: short write to serial port")

var _ Capability = (*SerialRadio)(nil)

// SerialRadio implements Capability over a byte-oriented serial link to
// an MCU that owns the real DW1000 SPI bus, the way the teacher's
// serial_port.go hides OS differences for a KISS TNC connection.
type SerialRadio struct {
	port *term.Term
}

// OpenSerialRadio opens devicename at baud and wraps it as a Capability.
func OpenSerialRadio(devicename string, baud int) (*SerialRadio, error) {
	t, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("radio: open serial port %s: %w", devicename, err)
	}
	if baud > 0 {
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, fmt.Errorf("radio: set serial speed: %w", err)
		}
	}
	return &SerialRadio{port: t}, nil
}

func (s *SerialRadio) writeCmd(cmd SerialProtocol, payload []byte) error {
	buf := append([]byte{byte(cmd)}, payload...)
	n, err := s.port.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortWrite
	}
	return nil
}

func (s *SerialRadio) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := s.port.Read(buf[got:])
		if err != nil {
			return nil, err
		}
		got += m
	}
	return buf, nil
}

func (s *SerialRadio) ScheduleTX(absoluteTick uint64) (uint64, error) {
	var tick [8]byte
	binary.BigEndian.PutUint64(tick[:], absoluteTick)
	if err := s.writeCmd(cmdScheduleTX, tick[:]); err != nil {
		return 0, err
	}
	resp, err := s.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(resp), nil
}

func (s *SerialRadio) ScheduleRX(absoluteTick uint64) error {
	var tick [8]byte
	binary.BigEndian.PutUint64(tick[:], absoluteTick)
	return s.writeCmd(cmdScheduleRX, tick[:])
}

func (s *SerialRadio) SetRXTimeout(d time.Duration) {
	var ms [4]byte
	binary.BigEndian.PutUint32(ms[:], uint32(d.Milliseconds()))
	_ = s.writeCmd(cmdSetTimeout, ms[:])
}

func (s *SerialRadio) WaitEvent(timeout time.Duration) (Status, error) {
	var ms [4]byte
	binary.BigEndian.PutUint32(ms[:], uint32(timeout.Milliseconds()))
	if err := s.writeCmd(cmdWaitEvent, ms[:]); err != nil {
		return 0, err
	}
	resp, err := s.readN(4)
	if err != nil {
		return 0, err
	}
	return Status(binary.BigEndian.Uint32(resp)), nil
}

func (s *SerialRadio) ReadRXTimestamp() uint64 {
	if err := s.writeCmd(cmdRXTime, nil); err != nil {
		return 0
	}
	resp, err := s.readN(8)
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(resp) & 0xffffffffff
}

func (s *SerialRadio) ReadSysTimestamp() uint64 {
	if err := s.writeCmd(cmdSysTime, nil); err != nil {
		return 0
	}
	resp, err := s.readN(8)
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(resp) & 0xffffffffff
}

func (s *SerialRadio) ReadRXFinfo() int {
	if err := s.writeCmd(cmdRXFinfo, nil); err != nil {
		return 0
	}
	resp, err := s.readN(2)
	if err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint16(resp))
}

func (s *SerialRadio) ReadRX(into []byte, offset, n int) (int, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(offset))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(n))
	if err := s.writeCmd(cmdReadRX, hdr[:]); err != nil {
		return 0, err
	}
	resp, err := s.readN(n)
	if err != nil {
		return 0, err
	}
	return copy(into, resp), nil
}

func (s *SerialRadio) WriteTX(from []byte, offset, n int) error {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(offset))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(n))
	return s.writeCmd(cmdWriteTX, append(hdr[:], from[offset:offset+n]...))
}

func (s *SerialRadio) WriteTXFctrl(offset, length int) error {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(offset))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(length))
	return s.writeCmd(cmdWriteFctrl, hdr[:])
}

func (s *SerialRadio) Sleep() { _ = s.writeCmd(cmdSleep, nil) }
func (s *SerialRadio) Wake()  { _ = s.writeCmd(cmdWake, nil) }

func (s *SerialRadio) RXClockOffset() float32 {
	if err := s.writeCmd(cmdClockOff, nil); err != nil {
		return 0
	}
	resp, err := s.readN(4)
	if err != nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(resp))
}

// Close releases the underlying serial port.
func (s *SerialRadio) Close() error {
	return s.port.Close()
}
