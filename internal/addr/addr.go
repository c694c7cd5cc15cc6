// Package addr defines the 8-byte extended link-layer address used by
// every component of the mesh core.
package addr

import "fmt"

// Len is the byte width of an extended (long) link-layer address.
const Len = 8

// ShortLen is the byte width of a short (2-byte) link-layer address,
// used only for the broadcast short address.
const ShortLen = 2

// Addr is an 8-byte extended link-layer identifier.
type Addr [Len]byte

// Broadcast is the distinguished all-ones extended address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// BroadcastShort is the distinguished all-ones 2-byte short address.
var BroadcastShort = [ShortLen]byte{0xff, 0xff}

// IsBroadcast reports whether a equals the broadcast address.
func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

// String renders a as colon-separated hex, most significant byte first.
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x",
		a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7])
}

// FromBytes copies an 8-byte slice into an Addr. Panics if b is shorter
// than Len; callers must bounds-check before calling.
func FromBytes(b []byte) Addr {
	var a Addr
	copy(a[:], b[:Len])
	return a
}

// LowerIID returns the low-order bytes of a used for IID-based matching,
// i.e. whether a frame destination's trailing bits equal an address
// configured on the interface (spec 4.5, address validity).
func (a Addr) LowerIID() [Len]byte {
	return a
}
