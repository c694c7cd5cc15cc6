package iphc

import (
	"errors"

	"github.com/uwbmesh/tschcore/internal/frame"
)

// Errors returned by Compress/Decompress, per spec.md 4.3 "Error
// conditions" and 7.
var (
	ErrIPHCDispatch         = errors.New("iphc: missing or invalid IPHC dispatch")
	ErrNextHeaderCompressed = errors.New("iphc: compressed next-header encoding not supported")
	ErrPacketTooLarge       = errors.New("iphc: packet exceeds 1280 bytes")
	ErrTruncated            = errors.New("iphc: truncated compressed header")
)

// MaxDatagramSize is the largest IPv6 datagram this layer will compress
// or reassemble (spec.md 4.3).
const MaxDatagramSize = 1280

const baseHeaderBits = 5 // 40 bytes / 8

// fragHeaderSize is the wire size of the fragment extension header
// spliced in front of the first fragmentable byte: a framing marker
// (1), next-header (1), offset-with-flag (2), tag (4) (spec.md 4.3
// step 8; the marker byte is this repository's own framing choice,
// see fragMarker).
const fragHeaderSize = 8

// Datagram is the decomposed form of an IPv6 datagram that Compress
// consumes and Decompress produces. UnfragmentableExtHeaders holds any
// hop-by-hop or routing extension headers, copied verbatim on the
// wire; FragmentableNextHeader is the real next-header value that
// protects Payload once any unfragmentable headers are stripped off
// (spec.md 4.3 steps 7-8).
type Datagram struct {
	TrafficClassDSCP uint8 // low 6 bits used
	TrafficClassECN  uint8 // low 2 bits used
	FlowLabel        uint32 // low 20 bits used
	NextHeader       uint8
	HopLimit         uint8
	Src              [16]byte
	Dst              [16]byte

	UnfragmentableExtHeaders [][]byte
	FragmentableNextHeader   uint8
	Payload                  []byte
}

// Len returns the total original datagram length in bytes: 40-byte base
// header, plus unfragmentable extension headers, plus payload.
func (d *Datagram) Len() int {
	n := 40
	for _, h := range d.UnfragmentableExtHeaders {
		n += len(h)
	}
	return n + len(d.Payload)
}

func tfField(tc, ecn uint8, fl uint32) (tf uint8, bytes []byte) {
	tcSet := tc != 0
	flSet := fl != 0
	switch {
	case !tcSet && !flSet:
		return 0b11, nil
	case tcSet && !flSet:
		return 0b10, []byte{ecn<<6 | tc}
	case !tcSet && flSet:
		b := make([]byte, 3)
		b[0] = ecn << 6
		b[0] |= byte(fl>>16) & 0x0f
		b[1] = byte(fl >> 8)
		b[2] = byte(fl)
		return 0b01, b
	default:
		b := make([]byte, 4)
		b[0] = ecn<<6 | tc
		b[1] = byte(fl >> 16 & 0x0f)
		b[2] = byte(fl >> 8)
		b[3] = byte(fl)
		return 0b00, b
	}
}

func parseTF(tf uint8, buf []byte) (tc, ecn uint8, fl uint32, consumed int, err error) {
	switch tf {
	case 0b11:
		return 0, 0, 0, 0, nil
	case 0b10:
		if len(buf) < 1 {
			return 0, 0, 0, 0, ErrTruncated
		}
		ecn = buf[0] >> 6
		tc = buf[0] & 0x3f
		return tc, ecn, 0, 1, nil
	case 0b01:
		if len(buf) < 3 {
			return 0, 0, 0, 0, ErrTruncated
		}
		ecn = buf[0] >> 6
		fl = uint32(buf[0]&0x0f)<<16 | uint32(buf[1])<<8 | uint32(buf[2])
		return 0, ecn, fl, 3, nil
	default: // 0b00
		if len(buf) < 4 {
			return 0, 0, 0, 0, ErrTruncated
		}
		ecn = buf[0] >> 6
		tc = buf[0] & 0x3f
		fl = uint32(buf[1]&0x0f)<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		return tc, ecn, fl, 4, nil
	}
}

func hlimField(hoplimit uint8) uint8 {
	switch hoplimit {
	case 1:
		return 0b01
	case 64:
		return 0b10
	case 255:
		return 0b11
	default:
		return 0b00
	}
}

func headSentBits(d *Datagram) int {
	n := baseHeaderBits
	for _, h := range d.UnfragmentableExtHeaders {
		n += (len(h) + 7) / 8
	}
	return n
}

// Compress implements the encode algorithm of spec.md 4.3: it appends
// IPHC-compressed (and, if needed, fragment) bytes to f's payload,
// updates bitmap to reflect the original datagram bytes now
// represented, and returns the count of bytes newly represented by
// this call.
//
// linkSrc and linkDst are the on-wire link-layer addresses already set
// on f (via f.SetAddresses), used to drive address elision. freeCap is
// the number of bytes available in f for the compressed header plus
// payload.
func Compress(d *Datagram, f *frame.Frame, linkSrc, linkDst []byte, ct *ContextTable, bitmap *FragmentBitmap, fragTag uint32, freeCap int) (int, error) {
	if d.Len() > MaxDatagramSize {
		return 0, ErrPacketTooLarge
	}

	before := bitmap.BytesRepresented()

	headBits := headSentBits(d)
	alreadySent := true
	for k := 0; k < headBits; k++ {
		if !bitmap.IsSet(k) {
			alreadySent = false
			break
		}
	}

	var hdr []byte
	if !alreadySent {
		hdr = encodeHeader(d, linkSrc, linkDst, ct)
		bitmap.SetRange(0, headBits)
		for _, eh := range d.UnfragmentableExtHeaders {
			hdr = append(hdr, eh...)
		}
	}

	remainingBits := bitmap.Len() - headBits
	remainingBytes := remainingBits * 8
	avail := freeCap - len(hdr)
	needFrag := alreadySent || remainingBytes > avail

	var fragHdr []byte
	if needFrag {
		avail -= fragHeaderSize
	}
	if avail < 0 {
		avail = 0
	}

	k0 := bitmap.FirstUnset()
	n := 0
	if k0 >= 0 {
		payloadOff := (k0 - headBits) * 8
		maxBytes := len(d.Payload) - payloadOff
		if maxBytes < 0 {
			maxBytes = 0
		}
		n = avail
		if n > maxBytes {
			n = maxBytes
		}
		if n < 0 {
			n = 0
		}
		if n < maxBytes {
			// Only the datagram's final piece may end mid-chunk.
			n -= n % 8
		}
		chunks := (n + 7) / 8
		bitmap.SetRange(k0, k0+chunks)
	}

	if needFrag {
		last := bitmap.FirstUnset() < 0
		fragHdr = encodeFragHeader(d.FragmentableNextHeader, k0, last, fragTag)
	}

	f.PayloadAppend(hdr)
	f.PayloadAppend(fragHdr)
	if k0 >= 0 && n > 0 {
		payloadOff := (k0 - headBits) * 8
		f.PayloadAppend(d.Payload[payloadOff : payloadOff+n])
	}

	after := bitmap.BytesRepresented()
	return after - before, nil
}

func encodeHeader(d *Datagram, linkSrc, linkDst []byte, ct *ContextTable) []byte {
	tf, tfBytes := tfField(d.TrafficClassDSCP, d.TrafficClassECN, d.FlowLabel)
	hlim := hlimField(d.HopLimit)

	se := compressAddr(d.Src, linkSrc, ct, true)
	var de addrEncoding
	var m bool
	var dam uint8
	var dInline []byte
	if isMulticast(d.Dst) {
		m = true
		dam, dInline = compressMulticast(d.Dst)
	} else {
		de = compressAddr(d.Dst, linkDst, ct, false)
		dam = de.am
		dInline = de.inline
	}

	cidByte := byte(0)
	hasCID := se.contextBased || (!m && de.contextBased)
	if se.contextBased {
		cidByte |= byte(se.cid)
	}
	if !m && de.contextBased {
		cidByte |= byte(de.cid) << 4
	}

	buf := make([]byte, 0, 48)
	b0 := byte(0b011<<5) | tf<<3 | 0<<2 | hlim
	var b1 byte
	if hasCID {
		b1 |= 1 << 7
	}
	if se.contextBased {
		b1 |= 1 << 6
	}
	b1 |= se.am << 4
	if m {
		b1 |= 1 << 3
	}
	if !m && de.contextBased {
		b1 |= 1 << 2
	}
	b1 |= dam

	buf = append(buf, b0, b1)
	if hasCID {
		buf = append(buf, cidByte)
	}
	buf = append(buf, tfBytes...)
	buf = append(buf, d.NextHeader, d.HopLimit)
	buf = append(buf, se.inline...)
	buf = append(buf, dInline...)
	return buf
}

// fragMarker distinguishes a spliced-in fragment header from raw
// fragmentable payload bytes that happen to follow the IPHC header
// (spec.md has no reserved dispatch bit for this, so this is a
// repository-local framing choice rather than a wire format drawn from
// the spec).
const fragMarker = 0x5f

func encodeFragHeader(nextHeader uint8, offsetChunks int, last bool, tag uint32) []byte {
	var off uint16
	if offsetChunks > 0 {
		off = uint16(offsetChunks) & 0x7fff
	}
	if last {
		off |= 1 << 15
	}
	return []byte{
		fragMarker,
		nextHeader,
		byte(off), byte(off >> 8),
		byte(tag), byte(tag >> 8), byte(tag >> 16), byte(tag >> 24),
	}
}

func decodeFragHeader(buf []byte) (nextHeader uint8, offsetChunks int, last bool, tag uint32, err error) {
	if len(buf) < fragHeaderSize || buf[0] != fragMarker {
		return 0, 0, false, 0, ErrTruncated
	}
	buf = buf[1:]
	nextHeader = buf[0]
	off := uint16(buf[1]) | uint16(buf[2])<<8
	last = off&(1<<15) != 0
	offsetChunks = int(off &^ (1 << 15))
	tag = uint32(buf[3]) | uint32(buf[4])<<8 | uint32(buf[5])<<16 | uint32(buf[6])<<24
	return
}

// Reassembly tracks a datagram being reassembled across several frames.
type Reassembly struct {
	Datagram *Datagram
	Bitmap   *FragmentBitmap
	Tag      uint32
}

// applyFragPiece copies one received piece into d at its chunk offset,
// marks the chunks it covers in bm, and, for a last-fragment piece,
// records the true datagram length in bm.
func applyFragPiece(bm *FragmentBitmap, d *Datagram, headBits, offsetChunks int, raw []byte, last bool) {
	payloadOff := (offsetChunks - headBits) * 8
	d.growPayload(payloadOff, raw)
	chunks := (len(raw) + 7) / 8
	bm.SetRange(offsetChunks, offsetChunks+chunks)
	if last {
		bm.SetLength(headBits*8 + payloadOff + len(raw))
	}
}

// Decompress implements the decode algorithm of spec.md 4.3. On a
// first frame (f.Type != frame.TypeFragment) it returns a fresh
// Reassembly; on a continuation frame it requires the Reassembly
// already created by the first frame. The returned bool is true once
// every byte of the datagram has been received.
func Decompress(f *frame.Frame, linkSrc, linkDst []byte, ct *ContextTable, r *Reassembly) (*Reassembly, bool, error) {
	buf := f.Payload

	if f.Type == frame.TypeFragment {
		if r == nil {
			return nil, false, ErrTruncated
		}
		nh, offsetChunks, last, tag, err := decodeFragHeader(buf)
		if err != nil {
			return r, false, err
		}
		if tag != r.Tag {
			return r, false, ErrTruncated
		}
		r.Datagram.FragmentableNextHeader = nh
		headBits := headSentBits(r.Datagram)
		applyFragPiece(r.Bitmap, r.Datagram, headBits, offsetChunks, buf[fragHeaderSize:], last)
		return r, r.Bitmap.Complete(), nil
	}

	d := &Datagram{}
	n, err := decodeHeader(d, buf, linkSrc, linkDst, ct)
	if err != nil {
		return r, false, err
	}
	rest := buf[n:]
	headBits := headSentBits(d)

	if nh, offsetChunks, last, tag, ferr := decodeFragHeader(rest); ferr == nil {
		d.FragmentableNextHeader = nh
		bm := NewUnknownLengthBitmap()
		bm.SetRange(0, headBits)
		applyFragPiece(bm, d, headBits, offsetChunks, rest[fragHeaderSize:], last)
		nr := &Reassembly{Datagram: d, Bitmap: bm, Tag: tag}
		return nr, bm.Complete(), nil
	}

	// No fragment header: this frame carries the whole datagram.
	d.Payload = append([]byte(nil), rest...)
	bm := NewFragmentBitmap(headBits*8 + len(rest))
	bm.SetRange(0, headBits+(len(rest)+7)/8)
	return &Reassembly{Datagram: d, Bitmap: bm}, true, nil
}

// growPayload writes raw at byte offset off within d.Payload, growing
// the backing slice as needed.
func (d *Datagram) growPayload(off int, raw []byte) {
	need := off + len(raw)
	if need > len(d.Payload) {
		grown := make([]byte, need)
		copy(grown, d.Payload)
		d.Payload = grown
	}
	copy(d.Payload[off:], raw)
}

func decodeHeader(d *Datagram, buf []byte, linkSrc, linkDst []byte, ct *ContextTable) (int, error) {
	if len(buf) < 2 {
		return 0, ErrTruncated
	}
	b0, b1 := buf[0], buf[1]
	if b0>>5 != 0b011 {
		return 0, ErrIPHCDispatch
	}
	tf := (b0 >> 3) & 0x3
	nh := (b0 >> 2) & 0x1
	hlim := b0 & 0x3
	_ = hlim

	hasCID := b1&(1<<7) != 0
	sac := b1&(1<<6) != 0
	sam := (b1 >> 4) & 0x3
	m := b1&(1<<3) != 0
	dac := b1&(1<<2) != 0
	dam := b1 & 0x3

	if nh != 0 {
		return 0, ErrNextHeaderCompressed
	}

	cur := buf[2:]
	off := 2
	sci, dci := 0, 0
	if hasCID {
		if len(cur) < 1 {
			return 0, ErrTruncated
		}
		sci = int(cur[0] & 0x0f)
		dci = int(cur[0] >> 4)
		cur = cur[1:]
		off++
	}

	tc, ecn, fl, consumed, err := parseTF(tf, cur)
	if err != nil {
		return 0, err
	}
	d.TrafficClassDSCP, d.TrafficClassECN, d.FlowLabel = tc, ecn, fl
	cur = cur[consumed:]
	off += consumed

	if len(cur) < 2 {
		return 0, ErrTruncated
	}
	d.NextHeader, d.HopLimit = cur[0], cur[1]
	cur = cur[2:]
	off += 2

	srcLen := addrInlineLen(sam, sac, true)
	if len(cur) < srcLen {
		return 0, ErrTruncated
	}
	src, err := decompressAddr(sam, sac, sci, cur[:srcLen], linkSrc, ct, true)
	if err != nil {
		return 0, err
	}
	d.Src = src
	cur = cur[srcLen:]
	off += srcLen

	if m {
		dstLen := multicastInlineLen(dam)
		if len(cur) < dstLen {
			return 0, ErrTruncated
		}
		dst, err := decompressMulticast(dam, cur[:dstLen])
		if err != nil {
			return 0, err
		}
		d.Dst = dst
		off += dstLen
	} else {
		dstLen := addrInlineLen(dam, dac, false)
		if len(cur) < dstLen {
			return 0, ErrTruncated
		}
		dst, err := decompressAddr(dam, dac, dci, cur[:dstLen], linkDst, ct, false)
		if err != nil {
			return 0, err
		}
		d.Dst = dst
		off += dstLen
	}

	return off, nil
}

func addrInlineLen(am uint8, contextBased, isSource bool) int {
	if am == amFull && contextBased && isSource {
		return 0 // reserved SAC=1,SAM=00 combination: unspecified address ::
	}
	switch am {
	case amFull:
		return 16
	case amLast64:
		return 8
	case amLast16:
		return 2
	case amElided:
		return 0
	}
	return 0
}

func multicastInlineLen(dam uint8) int {
	switch dam {
	case mcamFull:
		return 16
	case mcam6Byte:
		return 6
	case mcam4Byte:
		return 4
	case mcam1Byte:
		return 1
	}
	return 0
}
