package shm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsCode(t *testing.T) {
	err := NewError("shm.Alloc", ErrCodeOutOfMemory)
	require.True(t, IsCode(err, ErrCodeOutOfMemory))
	require.False(t, IsCode(err, ErrCodeBadLayout))
}

func TestWrapErrorPreservesInnerCodeOnOther(t *testing.T) {
	inner := NewError("backend.Alloc", ErrCodeNeedDefragment)
	wrapped := WrapError("shm.Provider.wrap", ErrCodeOther, inner)
	require.True(t, IsCode(wrapped, ErrCodeNeedDefragment))
	require.ErrorIs(t, wrapped, inner)
}

func TestWrapErrorNilInner(t *testing.T) {
	require.Nil(t, WrapError("op", ErrCodeOther, nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError("shm.Segment.Open", ErrCodeSegmentNotFound, cause)
	require.ErrorIs(t, err, cause)
}
