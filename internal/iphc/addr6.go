package iphc

// addrMode values for SAM/DAM (stateless; the context-based multicast
// form, DAC=1 && M=1, is not implemented).
const (
	amFull     = 0b00 // 128 bits inline
	amLast64   = 0b01 // low 64 bits inline
	amLast16   = 0b10 // low 16 bits inline
	amElided   = 0b11 // 0 bytes, derived from link-layer address
)

// multicast DAM values, ordered most- to least-compressed.
const (
	mcam1Byte  = 0b11 // ff02::XX
	mcam4Byte  = 0b10 // ffXX::XX:XXXX
	mcam6Byte  = 0b01 // ffXX::XX:XXXX:XXXX
	mcamFull   = 0b00 // full 16 bytes
)

func isZero16(a [16]byte) bool {
	return a == [16]byte{}
}

func isMulticast(a [16]byte) bool { return a[0] == 0xff }

// deriveIID reconstructs a full 128-bit address from an 8-byte prefix
// and an on-wire link-layer address, which may be 2 or 8 bytes. A
// 2-byte link address expands via the well-known
// ::00ff:fe00:XXXX pattern (spec.md 4.3 decode step).
func deriveIID(prefix [8]byte, linkAddr []byte) [16]byte {
	var out [16]byte
	copy(out[:8], prefix[:])
	switch len(linkAddr) {
	case 8:
		copy(out[8:], linkAddr)
	case 2:
		out[11] = 0xff
		out[12] = 0xfe
		out[14] = linkAddr[0]
		out[15] = linkAddr[1]
	}
	return out
}

// addrEncoding is the decision made by compressAddr/compressMulticast:
// which (AC, AM) pair to use and what bytes (if any) to write inline.
type addrEncoding struct {
	contextBased bool
	am           uint8
	cid          int // valid iff contextBased
	inline       []byte
}

// compressAddr implements source/destination unicast address
// compression (spec.md 4.3 steps 4-5).
func compressAddr(full [16]byte, linkAddr []byte, ct *ContextTable, isSource bool) addrEncoding {
	if isSource && isZero16(full) {
		return addrEncoding{contextBased: true, am: amFull, cid: 0, inline: nil}
	}

	var prefix [8]byte
	copy(prefix[:], full[:8])

	contextBased := false
	cid := -1
	prefixOK := false
	if prefix == linkLocalPrefix {
		prefixOK = true
	} else if id, ok := ct.Find(full); ok {
		prefixOK = true
		contextBased = true
		cid = id
	}

	if !prefixOK {
		return addrEncoding{contextBased: false, am: amFull, inline: append([]byte(nil), full[:]...)}
	}

	derived := deriveIID(prefix, linkAddr)
	if derived == full {
		return addrEncoding{contextBased: contextBased, am: amElided, cid: cid}
	}
	if full[8] == 0 && full[9] == 0 && full[10] == 0 && full[11] == 0xff && full[12] == 0xfe && full[13] == 0 {
		return addrEncoding{contextBased: contextBased, am: amLast16, cid: cid, inline: append([]byte(nil), full[14:16]...)}
	}
	return addrEncoding{contextBased: contextBased, am: amLast64, cid: cid, inline: append([]byte(nil), full[8:16]...)}
}

// decompressAddr reverses compressAddr.
func decompressAddr(am uint8, contextBased bool, cid int, inline []byte, linkAddr []byte, ct *ContextTable, isSource bool) ([16]byte, error) {
	var prefix [8]byte
	if contextBased {
		p, err := ct.Get(cid)
		if err != nil {
			return [16]byte{}, ErrContextMissing
		}
		prefix = p
	} else {
		prefix = linkLocalPrefix
	}

	switch am {
	case amFull:
		if contextBased && isSource && len(inline) == 0 {
			return [16]byte{}, nil // unspecified ::
		}
		var full [16]byte
		copy(full[:], inline)
		return full, nil
	case amLast64:
		var full [16]byte
		copy(full[:8], prefix[:])
		copy(full[8:], inline)
		return full, nil
	case amLast16:
		var full [16]byte
		copy(full[:8], prefix[:])
		full[11] = 0xff
		full[12] = 0xfe
		copy(full[14:16], inline)
		return full, nil
	case amElided:
		return deriveIID(prefix, linkAddr), nil
	}
	return [16]byte{}, ErrIPHCDispatch
}

// compressMulticast implements the four stateless multicast forms of
// spec.md 4.3 step 5.
func compressMulticast(full [16]byte) (dam uint8, inline []byte) {
	allZero := func(lo, hi int) bool {
		for i := lo; i < hi; i++ {
			if full[i] != 0 {
				return false
			}
		}
		return true
	}
	if full[1] == 0x02 && allZero(2, 15) {
		return mcam1Byte, []byte{full[15]}
	}
	if allZero(2, 13) {
		return mcam4Byte, []byte{full[1], full[13], full[14], full[15]}
	}
	if allZero(2, 11) {
		return mcam6Byte, []byte{full[1], full[11], full[12], full[13], full[14], full[15]}
	}
	return mcamFull, append([]byte(nil), full[:]...)
}

func decompressMulticast(dam uint8, inline []byte) ([16]byte, error) {
	var full [16]byte
	full[0] = 0xff
	switch dam {
	case mcam1Byte:
		full[1] = 0x02
		full[15] = inline[0]
	case mcam4Byte:
		full[1] = inline[0]
		full[13], full[14], full[15] = inline[1], inline[2], inline[3]
	case mcam6Byte:
		full[1] = inline[0]
		copy(full[11:16], inline[1:6])
	case mcamFull:
		copy(full[:], inline)
	default:
		return full, ErrIPHCDispatch
	}
	return full, nil
}
