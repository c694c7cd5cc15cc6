package iphc

// FragmentBitmap tracks which 8-byte chunks of a datagram have been
// transmitted (encode side) or received (decode side). Bit k covers the
// byte range [8k, 8k+8) (spec.md 3).
type FragmentBitmap struct {
	bits     []byte
	capBits  int // allocated capacity, in bits; bounds Set/IsSet
	nbits    int // logical length in bits; -1 if not yet known
	dgramLen int // logical length in bytes; -1 if not yet known
}

func capacityBits() int {
	return ((MaxDatagramSize + 7) / 8) * 8
}

// NewFragmentBitmap returns a bitmap sized for a datagram of dgramLen
// bytes: ceil(dgramLen/8) bits, all clear.
func NewFragmentBitmap(dgramLen int) *FragmentBitmap {
	cap := capacityBits()
	return &FragmentBitmap{
		bits:     make([]byte, cap/8),
		capBits:  cap,
		nbits:    (dgramLen + 7) / 8,
		dgramLen: dgramLen,
	}
}

// NewUnknownLengthBitmap returns a bitmap for the receive side of a
// fragmented datagram before the final (last-fragment) piece has told
// us the true length. Complete always reports false until SetLength is
// called.
func NewUnknownLengthBitmap() *FragmentBitmap {
	cap := capacityBits()
	return &FragmentBitmap{
		bits:     make([]byte, cap/8),
		capBits:  cap,
		nbits:    -1,
		dgramLen: -1,
	}
}

// SetLength fixes the true datagram length once known (e.g. on
// receiving the last-fragment-flagged frame).
func (b *FragmentBitmap) SetLength(dgramLen int) {
	b.dgramLen = dgramLen
	b.nbits = (dgramLen + 7) / 8
}

// Len returns the number of 8-byte-chunk bits this bitmap tracks, or -1
// if the datagram length is not yet known.
func (b *FragmentBitmap) Len() int { return b.nbits }

// Set marks chunk k as sent/received.
func (b *FragmentBitmap) Set(k int) {
	if k < 0 || k >= b.capBits {
		return
	}
	b.bits[k/8] |= 1 << uint(k%8)
}

// SetRange marks chunks [lo, hi) as sent/received.
func (b *FragmentBitmap) SetRange(lo, hi int) {
	for k := lo; k < hi; k++ {
		b.Set(k)
	}
}

// IsSet reports whether chunk k is marked.
func (b *FragmentBitmap) IsSet(k int) bool {
	if k < 0 || k >= b.capBits {
		return false
	}
	return b.bits[k/8]&(1<<uint(k%8)) != 0
}

// PopCount returns the number of set bits.
func (b *FragmentBitmap) PopCount() int {
	n := 0
	for _, byt := range b.bits {
		for byt != 0 {
			n += int(byt & 1)
			byt >>= 1
		}
	}
	return n
}

// Complete reports whether the datagram length is known and every bit
// in [0, n) is set, where n is the number of chunks covering the
// datagram.
func (b *FragmentBitmap) Complete() bool {
	if b.nbits < 0 {
		return false
	}
	for k := 0; k < b.nbits; k++ {
		if !b.IsSet(k) {
			return false
		}
	}
	return true
}

// FirstUnset returns the index of the first clear bit within the
// datagram's known or maximum extent, or -1 if all (known) bits are set.
func (b *FragmentBitmap) FirstUnset() int {
	limit := b.nbits
	if limit < 0 {
		limit = b.capBits
	}
	for k := 0; k < limit; k++ {
		if !b.IsSet(k) {
			return k
		}
	}
	return -1
}

// Overestimate is the number of trailing bytes counted by a full final
// chunk that actually lie past the end of the datagram: PopCount*8 can
// overcount the last partial chunk. Subtracting this from PopCount*8
// gives the true number of datagram bytes represented (spec.md 4.3
// step 10).
func (b *FragmentBitmap) Overestimate() int {
	if b.nbits < 0 {
		return 0
	}
	return b.nbits*8 - b.dgramLen
}

// BytesRepresented returns PopCount*8 - Overestimate if the last bit is
// set, else PopCount*8 (the overestimate only applies once the tail
// chunk itself has been counted).
func (b *FragmentBitmap) BytesRepresented() int {
	n := b.PopCount() * 8
	if b.nbits > 0 && b.IsSet(b.nbits-1) {
		n -= b.Overestimate()
	}
	return n
}
