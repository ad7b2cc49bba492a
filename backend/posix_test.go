package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tpaschalis/goshm/shm"
)

func TestPosixBasicAllocFree(t *testing.T) {
	be, err := NewPosix("goshm_data_ptest", 1024)
	require.NoError(t, err)
	defer be.Close()

	layout, err := shm.NewMemoryLayout(100, shm.AllocAlignment{Exponent: 2})
	require.NoError(t, err)

	chunk, err := be.Alloc(layout)
	require.NoError(t, err)
	require.EqualValues(t, 924, be.Available())

	require.NoError(t, be.Free(chunk.Descriptor))
	require.EqualValues(t, 1024, be.Available())
}

func TestPosixExhaustAndReuse(t *testing.T) {
	be, err := NewPosix("goshm_data_ptest", 102400)
	require.NoError(t, err)
	defer be.Close()

	layout, err := shm.NewMemoryLayout(1024, shm.AllocAlignment{Exponent: 0})
	require.NoError(t, err)

	chunks := make([]shm.AllocatedChunk, 0, 100)
	for i := 0; i < 100; i++ {
		c, err := be.Alloc(layout)
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	require.EqualValues(t, 0, be.Available())

	_, err = be.Alloc(layout)
	require.True(t, shm.IsCode(err, shm.ErrCodeOutOfMemory))

	require.NoError(t, be.Free(chunks[0].Descriptor))
	chunks = chunks[1:]

	c, err := be.Alloc(layout)
	require.NoError(t, err)
	chunks = append(chunks, c)

	for _, c := range chunks {
		require.NoError(t, be.Free(c.Descriptor))
	}
	require.EqualValues(t, 102400, be.Available())
}

func TestPosixAllocRespectsAlignment(t *testing.T) {
	be, err := NewPosix("goshm_data_ptest", 4096)
	require.NoError(t, err)
	defer be.Close()

	small, err := shm.NewMemoryLayout(8, shm.AllocAlignment{Exponent: 0})
	require.NoError(t, err)
	_, err = be.Alloc(small)
	require.NoError(t, err)

	aligned, err := shm.NewMemoryLayout(64, shm.AllocAlignment{Exponent: 6}) // 64-byte align
	require.NoError(t, err)
	chunk, err := be.Alloc(aligned)
	require.NoError(t, err)
	require.Len(t, chunk.Data, 64)
}

func TestPosixDefragmentMergesAdjacentFreeRuns(t *testing.T) {
	be, err := NewPosix("goshm_data_ptest", 1024)
	require.NoError(t, err)
	defer be.Close()

	layout, err := shm.NewMemoryLayout(256, shm.AllocAlignment{Exponent: 0})
	require.NoError(t, err)

	a, err := be.Alloc(layout)
	require.NoError(t, err)
	b, err := be.Alloc(layout)
	require.NoError(t, err)
	c, err := be.Alloc(layout)
	require.NoError(t, err)

	require.NoError(t, be.Free(a.Descriptor))
	require.NoError(t, be.Free(b.Descriptor))
	require.NoError(t, be.Free(c.Descriptor))

	largest, err := be.Defragment()
	require.NoError(t, err)
	require.EqualValues(t, 1024, largest)
}

func TestOpenPosixAttachesExistingSegment(t *testing.T) {
	owner, err := NewPosix("goshm_data_attach", 4096)
	require.NoError(t, err)
	defer owner.Close()

	layout, err := shm.NewMemoryLayout(16, shm.AllocAlignment{Exponent: 0})
	require.NoError(t, err)
	chunk, err := owner.Alloc(layout)
	require.NoError(t, err)
	copy(chunk.Data, []byte("attach-me"))

	attacher, err := OpenPosix("goshm_data_attach", owner.SegmentID())
	require.NoError(t, err)
	defer attacher.Close()

	require.Equal(t, "attach-me", string(attacher.seg.Bytes()[:9]))
}
