package header

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorageAllocateRecycles(t *testing.T) {
	s := NewStorage("goshm_hdr_test")
	defer s.Close()

	a, err := s.Allocate()
	require.NoError(t, err)
	require.EqualValues(t, 1, a.View.Refcount())
	require.False(t, a.View.Invalidated())

	gen := a.View.Generation()

	a.View.IncRef()
	require.EqualValues(t, 2, a.View.Refcount())

	require.EqualValues(t, 1, a.View.DecRef())
	require.EqualValues(t, 0, a.View.DecRef())

	s.Free(a.Descriptor)

	b, err := s.Allocate()
	require.NoError(t, err)
	require.Equal(t, a.Descriptor, b.Descriptor)
	require.Greater(t, b.View.Generation(), gen)
	require.EqualValues(t, 1, b.View.Refcount())
}

func TestStorageGrowsAcrossSegments(t *testing.T) {
	s := NewStorage("goshm_hdr_grow_test")
	defer s.Close()

	allocated := make([]Allocated, 0, slotsPerSegment+1)
	for i := 0; i < slotsPerSegment+1; i++ {
		a, err := s.Allocate()
		require.NoError(t, err)
		allocated = append(allocated, a)
	}
	require.Len(t, s.segments, 2)
}

func TestStorageInvalidated(t *testing.T) {
	s := NewStorage("goshm_hdr_inv_test")
	defer s.Close()

	a, err := s.Allocate()
	require.NoError(t, err)

	require.False(t, a.View.Invalidated())
	a.View.SetInvalidated(true)
	require.True(t, a.View.Invalidated())
}
