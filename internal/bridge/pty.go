// Package bridge exposes a border-router node's decompressed IPv6
// traffic to the host as a pseudo-terminal, the way the teacher's KISS
// TNC emulation hands framed packets to a host-side client without a
// real serial cable or a privileged TUN device (spec.md 5, 6LoWPAN
// decompression output).
package bridge

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/creack/pty"
)

// Open allocates a new pty pair. The slave's device path (e.g.
// /dev/pts/4) is what an operator points a reader at.
func Open(log_ *log.Logger) (*Bridge, error) {
	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, err
	}
	return &Bridge{ptmx: ptmx, pts: pts, log: log_}, nil
}

// Bridge is an open pty pair carrying length-prefixed IPv6 datagrams.
type Bridge struct {
	ptmx, pts *os.File
	log       *log.Logger
}

// SlavePath returns the device path a host-side tool should open.
func (b *Bridge) SlavePath() string {
	return b.pts.Name()
}

// WriteDatagram writes one length-prefixed IPv6 datagram to the pty,
// as decompressed by internal/iphc, for a host-side reader to pick up.
func (b *Bridge) WriteDatagram(pkt []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(pkt)))
	if _, err := b.ptmx.Write(hdr[:]); err != nil {
		return err
	}
	_, err := b.ptmx.Write(pkt)
	return err
}

// ReadDatagram blocks for one length-prefixed datagram written by a
// host-side tool, destined for the mesh (to be IPHC-compressed and
// injected onto a shared slot's tx queue).
func (b *Bridge) ReadDatagram() ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(b.ptmx, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.ptmx, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close releases both ends of the pty.
func (b *Bridge) Close() error {
	b.pts.Close()
	return b.ptmx.Close()
}
