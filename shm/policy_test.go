package shm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeallocVictimSelection(t *testing.T) {
	optimal := DeallocOptimal{}
	idx, ok := optimal.PickVictim(0)
	require.False(t, ok)
	idx, ok = optimal.PickVictim(1)
	require.True(t, ok)
	require.Equal(t, 0, idx)
	idx, ok = optimal.PickVictim(5)
	require.True(t, ok)
	require.Equal(t, 1, idx)

	eldest := DeallocEldest{}
	idx, ok = eldest.PickVictim(5)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	youngest := DeallocYoungest{}
	idx, ok = youngest.PickVictim(5)
	require.True(t, ok)
	require.Equal(t, 4, idx)
}

func TestGarbageCollectPolicyRetriesAfterReclaim(t *testing.T) {
	backend := NewMockBackend(1024)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(1024).Alignment(AllocAlignment{Exponent: 0}).Build()
	require.NoError(t, err)

	first, err := p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Fake a dropped-without-Close buffer by decrementing its refcount
	// directly, so only GarbageCollect (not the eager Close path) can
	// reclaim it.
	second, err := p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)
	second.busy.headerView.DecRef()

	policy := NewGarbageCollect(JustAlloc{}, JustAlloc{})
	buf, err := policy.Alloc(context.Background(), p, layout)
	require.NoError(t, err)
	require.NotZero(t, buf.Descriptor.Len)
}

func TestGarbageCollectPolicyReturnsOriginalErrorWhenReclaimTooSmall(t *testing.T) {
	backend := NewMockBackend(8)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(100).Alignment(AllocAlignment{Exponent: 0}).Build()
	require.NoError(t, err)

	policy := NewGarbageCollect(JustAlloc{}, JustAlloc{})
	_, err = policy.Alloc(context.Background(), p, layout)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeOutOfMemory))
}

func TestDeallocatePolicyStopsAfterNAttemptsWithNothingToEvict(t *testing.T) {
	backend := NewMockBackend(1024)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(1024).Alignment(AllocAlignment{Exponent: 0}).Build()
	require.NoError(t, err)

	// Fill the backend directly, so the busy list stays empty and there is
	// nothing for the policy to evict.
	_, err = backend.Alloc(layout)
	require.NoError(t, err)

	policy := NewDeallocate(2, JustAlloc{}, JustAlloc{}, DeallocEldest{})
	_, err = policy.Alloc(context.Background(), p, layout)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeOutOfMemory))
}

func TestBlockOnPolicyUnblocksOnFree(t *testing.T) {
	backend := NewMockBackend(1024)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(1024).Alignment(AllocAlignment{Exponent: 0}).Build()
	require.NoError(t, err)

	held, err := p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	policy := NewBlockOn(JustAlloc{})
	_, err = policy.Alloc(ctx, p, layout)
	require.NoError(t, err)
}

func TestBlockOnPolicyHonorsContextCancellation(t *testing.T) {
	backend := NewMockBackend(1024)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(1024).Alignment(AllocAlignment{Exponent: 0}).Build()
	require.NoError(t, err)

	_, err = p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	policy := NewBlockOn(JustAlloc{})
	_, err = policy.Alloc(ctx, p, layout)
	require.Error(t, err)
}
