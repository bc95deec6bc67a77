package datapath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUFIDXOR(t *testing.T) {
	a := UFID{Hi: 0x0123456789abcdef, Lo: 0xfedcba9876543210}
	b := UFID{Hi: 0x1111111111111111, Lo: 0x2222222222222222}

	require.Equal(t, a.XOR(b), b.XOR(a), "composition must be commutative")
	require.Equal(t, a, a.XOR(b).XOR(b), "xor must undo itself")
	require.True(t, a.XOR(a).IsZero())
}

func TestUFIDString(t *testing.T) {
	u := UFID{Hi: 0x0123456789abcdef, Lo: 0xfedcba9876543210}
	require.Equal(t, "ufid:01234567-89ab-cdef-fedc-ba9876543210", u.String())
}

func TestOffloadStatusWord(t *testing.T) {
	require.True(t, (OffloadFull | OffloadInProgress).InProgress())
	require.False(t, OffloadFull.InProgress())

	require.True(t, OffloadFull.Offloaded())
	require.True(t, OffloadMask.Offloaded())
	require.True(t, (OffloadMask | OffloadInProgress).Offloaded())
	require.False(t, OffloadNone.Offloaded())
	require.False(t, OffloadFailed.Offloaded())

	require.Equal(t, "full+in-progress", (OffloadFull | OffloadInProgress).String())
	require.Equal(t, "none", OffloadNone.String())
}

func TestFlowRefCounting(t *testing.T) {
	f := NewFlow(UFID{Hi: 1}, 1, Match{}, nil)
	require.Equal(t, int32(1), f.RefCount())
	require.True(t, f.Ref())
	require.Equal(t, int32(2), f.RefCount())
	f.Unref()
	f.Unref()
	require.False(t, f.Ref(), "a fully released flow cannot be revived")
}
