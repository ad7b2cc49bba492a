package shm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeaderPrefix = "goshm_hdr_ptest"
	cfg.WatchdogPrefix = "goshm_wd_ptest"
	cfg.ConfirmPeriod = 10 * time.Millisecond
	cfg.ValidatePeriod = 20 * time.Millisecond
	return cfg
}

func TestBasicAllocFree(t *testing.T) {
	backend := NewMockBackend(1024)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(100).Alignment(AllocAlignment{Exponent: 2}).Build()
	require.NoError(t, err)

	buf, err := p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)
	require.EqualValues(t, 924, p.Available())

	require.NoError(t, buf.Close())
	require.EqualValues(t, 1024, p.Available())
}

func TestExhaustAndReuse(t *testing.T) {
	backend := NewMockBackend(102400)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(1024).Alignment(AllocAlignment{Exponent: 0}).Build()
	require.NoError(t, err)

	bufs := make([]*SharedMemoryBuf, 0, 100)
	for i := 0; i < 100; i++ {
		b, err := p.Alloc(layout, JustAlloc{})
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	require.EqualValues(t, 0, p.Available())

	_, err = p.Alloc(layout, JustAlloc{})
	require.True(t, IsCode(err, ErrCodeOutOfMemory))

	require.NoError(t, bufs[0].Close())
	bufs = bufs[1:]

	b, err := p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)
	bufs = append(bufs, b)

	for _, b := range bufs {
		require.NoError(t, b.Close())
	}
	require.EqualValues(t, 102400, p.Available())
}

func TestGCReclaimsDroppedBufferWithoutExplicitFree(t *testing.T) {
	backend := NewMockBackend(1024)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(100).Alignment(AllocAlignment{Exponent: 2}).Build()
	require.NoError(t, err)

	buf, err := p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)

	// Simulate an abandoned buffer: drop the last reference but bypass
	// the normal Close path that would eagerly reclaim it, by directly
	// decrementing the header refcount without calling dropBuf.
	buf.busy.headerView.DecRef()

	n, err := p.GarbageCollect()
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, uint64(100))
	require.GreaterOrEqual(t, p.Available(), uint64(924))
}

func TestWatchdogInvalidationReclaimsAbandonedBuffer(t *testing.T) {
	backend := NewMockBackend(1024)
	cfg := testConfig()
	cfg.ConfirmPeriod = 5 * time.Millisecond
	cfg.ValidatePeriod = 10 * time.Millisecond
	p := NewProvider(cfg, backend)
	defer p.Close()

	layout, err := p.Layout().Size(100).Alignment(AllocAlignment{Exponent: 2}).Build()
	require.NoError(t, err)

	buf, err := p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)

	// Simulate peer death: stop confirming without dropping the
	// reference (refcount stays > 0).
	p.confirmator.Remove(buf.busy.Watchdog)

	require.Eventually(t, func() bool {
		return buf.busy.headerView.Invalidated()
	}, 500*time.Millisecond, 10*time.Millisecond)

	n, err := p.GarbageCollect()
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, uint64(100))
}

func TestPolicyCompositionDeallocateEvictsOldest(t *testing.T) {
	backend := NewMockBackend(1024)
	p := NewProvider(testConfig(), backend)
	defer p.Close()

	layout, err := p.Layout().Size(1024).Alignment(AllocAlignment{Exponent: 0}).Build()
	require.NoError(t, err)

	_, err = p.Alloc(layout, JustAlloc{})
	require.NoError(t, err)

	_, err = p.Alloc(layout, JustAlloc{})
	require.True(t, IsCode(err, ErrCodeOutOfMemory))

	policy := NewDeallocate(1, JustAlloc{}, JustAlloc{}, DeallocEldest{})
	buf, err := p.Alloc(layout, policy)
	require.NoError(t, err)
	require.NotNil(t, buf)
}
