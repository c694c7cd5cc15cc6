package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeParseBasic(t *testing.T) {
	f := New(TypeData)
	f.SetSequenceNumber(7)
	require.NoError(t, f.SetAddresses(0xabcd, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 8, 0xabcd, []byte{9, 9}, 2))
	f.AppendIE(false, SyncIE, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	f.PayloadAppend([]byte("hello"))

	buf, err := f.Encode()
	require.NoError(t, err)

	got, err := Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.Seq, got.Seq)
	assert.Equal(t, f.DestAddr, got.DestAddr)
	assert.Equal(t, f.SrcAddr, got.SrcAddr)
	assert.Equal(t, f.Payload, got.Payload)
	require.Len(t, got.IEs, 1)
	assert.Equal(t, SyncIE, got.IEs[0].Type)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got.IEs[0].Content)
}

func TestParseTruncated(t *testing.T) {
	f := New(TypeAck)
	f.SetSequenceNumber(1)
	buf, err := f.Encode()
	require.NoError(t, err)

	_, err = Parse(buf[:len(buf)-3])
	assert.ErrorIs(t, err, ErrTruncated)
}

// genAddrLen draws a valid address length (0, 2 or 8) for rapid.
func genAddrLen(t *rapid.T, label string) int {
	return rapid.SampledFrom([]int{0, 2, 8}).Draw(t, label)
}

// TestFrameRoundTripProperty is the property of spec.md 8.1:
// parse(encode(f)) == f for any legal frame.
func TestFrameRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := Type(rapid.IntRange(0, 5).Draw(t, "type"))
		seq := uint8(rapid.IntRange(0, 255).Draw(t, "seq"))
		destLen := genAddrLen(t, "destLen")
		srcLen := genAddrLen(t, "srcLen")
		destAddr := rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(t, "destAddr")
		srcAddr := rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(t, "srcAddr")
		payloadLen := rapid.IntRange(0, 40).Draw(t, "payloadLen")
		payload := rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(t, "payload")

		f := New(typ)
		f.SetSequenceNumber(seq)
		err := f.SetAddresses(0x1234, destAddr, destLen, 0x5678, srcAddr, srcLen)
		require.NoError(t, err)
		f.PayloadAppend(payload)

		buf, err := f.Encode()
		if err == ErrTooLarge {
			return
		}
		require.NoError(t, err)

		got, err := Parse(buf)
		require.NoError(t, err)

		assert.Equal(t, f.Type, got.Type)
		assert.Equal(t, f.Seq, got.Seq)
		assert.Equal(t, f.DestAddr, got.DestAddr)
		assert.Equal(t, f.SrcAddr, got.SrcAddr)
		assert.Equal(t, f.Payload, got.Payload)
	})
}
