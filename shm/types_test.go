package shm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAlignmentIsNaturalPointerAlignment(t *testing.T) {
	a := DefaultAlignment()
	require.Equal(t, uint64(8), a.Bytes())
}

func TestMemoryLayoutRejectsMisalignedSize(t *testing.T) {
	_, err := NewMemoryLayout(100, AllocAlignment{Exponent: 4}) // 100 % 16 != 0
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeBadLayout))
}

func TestMemoryLayoutAcceptsAlignedSize(t *testing.T) {
	l, err := NewMemoryLayout(64, AllocAlignment{Exponent: 4}) // 64 % 16 == 0
	require.NoError(t, err)
	require.EqualValues(t, 64, l.Size)
}
