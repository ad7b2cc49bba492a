package watchdog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackIndexAndBitposRoundTrip(t *testing.T) {
	for _, index := range []uint32{0, 1, 17, 1023} {
		for _, bitpos := range []uint8{0, 1, 31, 63} {
			packed := packIndexAndBitpos(index, bitpos)
			d := Descriptor{IndexAndBitpos: packed}
			require.Equal(t, index, d.wordIndex())
			require.Equal(t, bitpos, d.bitpos())
		}
	}
}

func TestConfirmClearAndTest(t *testing.T) {
	s := NewStorage("goshm_wd_bit_test")
	defer s.Close()

	a, err := s.Allocate()
	require.NoError(t, err)

	require.False(t, a.View.Test(a.Bitpos))
	a.View.Confirm(a.Bitpos)
	require.True(t, a.View.Test(a.Bitpos))

	wasSet := a.View.ClearAndTest(a.Bitpos)
	require.True(t, wasSet)
	require.False(t, a.View.Test(a.Bitpos))

	wasSet = a.View.ClearAndTest(a.Bitpos)
	require.False(t, wasSet)
}
