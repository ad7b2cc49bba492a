package shm

import (
	"container/list"
	"context"
	"sync"

	"github.com/tpaschalis/goshm/internal/constants"
	"github.com/tpaschalis/goshm/internal/header"
	"github.com/tpaschalis/goshm/internal/logging"
	"github.com/tpaschalis/goshm/internal/runtime"
	"github.com/tpaschalis/goshm/internal/telemetry"
	"github.com/tpaschalis/goshm/internal/watchdog"
)

// Provider orchestrates a Backend with the header and watchdog subsystems:
// it wraps successful allocations into tracked SharedMemoryBuf values,
// keeps a FIFO busy list for the force-evict policies, and reclaims
// abandoned or dropped chunks via GarbageCollect.
type Provider struct {
	protocol ProtocolID
	backend  Backend

	headerStorage   *header.Storage
	watchdogStorage *watchdog.Storage
	confirmator     *watchdog.Confirmator
	validator       *watchdog.Validator
	rt              *runtime.Runtime

	observer telemetry.Observer
	log      *logging.Logger

	busyMu sync.Mutex
	busy   *list.List // of *BusyChunk

	// backendMu serializes every call into backend, since implementations
	// (backend.Posix in particular) are not required to be internally
	// thread-safe. Lock order is always busy-list mutex, then backend
	// mutex, never the reverse, and the busy-list lock is always released
	// before a backend call is made.
	backendMu sync.Mutex

	freeMu   sync.Mutex
	freeCond *sync.Cond
	freeGen  uint64
}

// NewProvider wires a Backend to fresh header/watchdog storages, using
// cfg's prefixes and periods, and starts the confirmator and validator
// loops on the runtime's Application and Net pools respectively (an
// arbitrary but fixed assignment).
func NewProvider(cfg Config, backend Backend, opts ...ProviderOption) *Provider {
	p := &Provider{
		protocol:        cfg.Protocol,
		backend:         backend,
		headerStorage:   header.NewStorage(cfg.HeaderPrefix),
		watchdogStorage: watchdog.NewStorage(cfg.WatchdogPrefix),
		observer:        telemetry.NoOpObserver{},
		log:             logging.Default(),
		busy:            list.New(),
	}
	p.freeCond = sync.NewCond(&p.freeMu)

	for _, opt := range opts {
		opt(p)
	}

	runtimeCfg := runtime.DefaultConfig()
	if cfg.RuntimeWorkersPerPool > 0 {
		for i := range runtimeCfg.Workers {
			runtimeCfg.Workers[i] = cfg.RuntimeWorkersPerPool
		}
	}
	p.rt = runtime.New(context.Background(), runtimeCfg)

	confirmPeriod := cfg.ConfirmPeriod
	if confirmPeriod <= 0 {
		confirmPeriod = constants.ConfirmPeriod
	}
	validatePeriod := cfg.ValidatePeriod
	if validatePeriod <= 0 {
		validatePeriod = constants.ValidatePeriod
	}
	p.confirmator = watchdog.NewConfirmator(confirmPeriod)
	p.validator = watchdog.NewValidator(validatePeriod, p.onWatchdogInvalidated)

	p.rt.Spawn(runtime.Application, p.confirmator.Run)
	p.rt.Spawn(runtime.Net, p.validator.Run)
	return p
}

// backendAlloc, backendFree, backendDefragment, and backendAvailable
// serialize these entry points into backend behind backendMu (Build takes
// backendMu itself around MaxAlign), since an implementation like backend.Posix is not required to
// guard its own state.
func (p *Provider) backendAlloc(layout MemoryLayout) (AllocatedChunk, error) {
	p.backendMu.Lock()
	defer p.backendMu.Unlock()
	return p.backend.Alloc(layout)
}

func (p *Provider) backendFree(d ChunkDescriptor) error {
	p.backendMu.Lock()
	defer p.backendMu.Unlock()
	return p.backend.Free(d)
}

func (p *Provider) backendDefragment() (uint64, error) {
	p.backendMu.Lock()
	defer p.backendMu.Unlock()
	return p.backend.Defragment()
}

func (p *Provider) backendAvailable() uint64 {
	p.backendMu.Lock()
	defer p.backendMu.Unlock()
	return p.backend.Available()
}

// ProviderOption customizes a Provider at construction time.
type ProviderOption func(*Provider)

// WithObserver sets the telemetry observer a Provider reports to.
func WithObserver(o telemetry.Observer) ProviderOption {
	return func(p *Provider) { p.observer = o }
}

// WithLogger sets the logger a Provider uses.
func WithLogger(l *logging.Logger) ProviderOption {
	return func(p *Provider) { p.log = l }
}

// Close stops the background confirmator/validator loops. It does not
// close the backend or release outstanding buffers; callers must drop
// every SharedMemoryBuf first.
func (p *Provider) Close() error {
	p.rt.Close()
	var firstErr error
	if err := p.headerStorage.Close(); err != nil {
		firstErr = err
	}
	if err := p.watchdogStorage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// LayoutBuilder builds a validated MemoryLayout against this Provider's
// backend.
type LayoutBuilder struct {
	p         *Provider
	size      uint64
	alignment AllocAlignment
}

// Layout starts a new layout builder, defaulting to the platform's
// natural pointer alignment.
func (p *Provider) Layout() *LayoutBuilder {
	return &LayoutBuilder{p: p, alignment: DefaultAlignment()}
}

func (b *LayoutBuilder) Size(s uint64) *LayoutBuilder {
	b.size = s
	return b
}

func (b *LayoutBuilder) Alignment(a AllocAlignment) *LayoutBuilder {
	b.alignment = a
	return b
}

// Build validates the accumulated size/alignment against the backend's
// maximum alignment and the size%alignment invariant.
func (b *LayoutBuilder) Build() (MemoryLayout, error) {
	b.p.backendMu.Lock()
	maxAlign := b.p.backend.MaxAlign().Bytes()
	b.p.backendMu.Unlock()
	if b.alignment.Bytes() > maxAlign {
		return MemoryLayout{}, NewError("shm.Layout.Build", ErrCodeBadAlignment)
	}
	return NewMemoryLayout(b.size, b.alignment)
}

// Alloc executes policy against this Provider's backend and, on success,
// wraps the resulting chunk into a tracked SharedMemoryBuf. It never
// suspends except inside a BlockOn policy, and then only via short sleeps
// or the free-notification signal.
func (p *Provider) Alloc(layout MemoryLayout, policy AllocPolicy) (*SharedMemoryBuf, error) {
	return p.AllocContext(context.Background(), layout, policy)
}

// AllocContext is the cancellation-aware variant: ctx is honored at
// BlockOn suspension points. Once a chunk has been allocated from the
// backend, the call is not cancelable — it completes (or rolls the chunk
// back on a header/watchdog allocation failure) rather than leaking it.
func (p *Provider) AllocContext(ctx context.Context, layout MemoryLayout, policy AllocPolicy) (*SharedMemoryBuf, error) {
	chunk, err := policy.Alloc(ctx, p, layout)
	if err != nil {
		p.observer.ObserveAlloc(layout.Size, false)
		return nil, err
	}
	buf, err := p.wrap(chunk)
	if err != nil {
		p.observer.ObserveAlloc(layout.Size, false)
		return nil, err
	}
	p.observer.ObserveAlloc(layout.Size, true)
	return buf, nil
}

// Map wraps an externally provided chunk (one this Provider's backend did
// not allocate, e.g. from a push-style data source) into a tracked
// SharedMemoryBuf, for symmetry with Alloc.
func (p *Provider) Map(chunk AllocatedChunk) (*SharedMemoryBuf, error) {
	return p.wrap(chunk)
}

// wrap allocates header and watchdog slots for chunk and registers it in
// the busy list. If either allocation fails after the chunk already
// exists, the chunk is returned to the backend before the error
// propagates — no leaks on the fast path.
func (p *Provider) wrap(chunk AllocatedChunk) (*SharedMemoryBuf, error) {
	hAlloc, err := p.headerStorage.Allocate()
	if err != nil {
		_ = p.backendFree(chunk.Descriptor)
		return nil, WrapError("shm.Provider.wrap", ErrCodeExhausted, err)
	}

	wAlloc, err := p.watchdogStorage.Allocate()
	if err != nil {
		p.headerStorage.Free(hAlloc.Descriptor)
		_ = p.backendFree(chunk.Descriptor)
		return nil, WrapError("shm.Provider.wrap", ErrCodeExhausted, err)
	}

	p.confirmator.Add(wAlloc.Descriptor, wAlloc.View, wAlloc.Bitpos)
	p.validator.Track(wAlloc.Descriptor, wAlloc.View, wAlloc.Bitpos)

	bc := &BusyChunk{
		Chunk:        chunk.Descriptor,
		Header:       hAlloc.Descriptor,
		Watchdog:     wAlloc.Descriptor,
		headerView:   hAlloc.View,
		watchdogView: wAlloc.View,
		watchdogBit:  wAlloc.Bitpos,
	}

	p.busyMu.Lock()
	elem := p.busy.PushBack(bc)
	p.busyMu.Unlock()

	buf := &SharedMemoryBuf{
		provider: p,
		elem:     elem,
		busy:     bc,
		data:     chunk.Data,
		info: BufInfo{
			WatchdogDescriptor: wAlloc.Descriptor,
			HeaderDescriptor:   hAlloc.Descriptor,
			Generation:         hAlloc.View.Generation(),
			DataDescriptor:     chunk.Descriptor,
			ShmProtocol:        uint64(p.protocol),
			DataLen:            chunk.Descriptor.Len,
		},
	}
	return buf, nil
}

// onWatchdogInvalidated is the Validator callback: it flips the header's
// invalidated flag for the corresponding busy entry, making it
// GC-eligible regardless of refcount.
func (p *Provider) onWatchdogInvalidated(d watchdog.Descriptor) {
	p.busyMu.Lock()
	var found *BusyChunk
	for e := p.busy.Front(); e != nil; e = e.Next() {
		bc := e.Value.(*BusyChunk)
		if bc.Watchdog == d {
			found = bc
			break
		}
	}
	p.busyMu.Unlock()

	if found == nil {
		return
	}
	found.headerView.SetInvalidated(true)
	p.observer.ObserveWatchdogInvalidation()
	if p.log != nil {
		p.log.WithDescriptor("watchdog", d.ID).Warn("watchdog invalidated")
	}
}

// GarbageCollect scans the busy list; a chunk is free iff its header's
// refcount is zero or its header has been watchdog-invalidated. Freed
// chunks are removed from the busy list and returned to the backend; the
// busy-list lock is released before any backend call, per the documented
// lock order. Returns the length of the largest chunk reclaimed.
func (p *Provider) GarbageCollect() (uint64, error) {
	var toFree []*BusyChunk

	p.busyMu.Lock()
	for e := p.busy.Front(); e != nil; {
		next := e.Next()
		bc := e.Value.(*BusyChunk)
		if bc.headerView.Refcount() == 0 || bc.headerView.Invalidated() {
			toFree = append(toFree, bc)
			p.busy.Remove(e)
		}
		e = next
	}
	p.busyMu.Unlock()

	var largest uint64
	for _, bc := range toFree {
		p.reclaim(bc)
		if bc.Chunk.Len > largest {
			largest = bc.Chunk.Len
		}
	}
	if len(toFree) > 0 {
		p.observer.ObserveGarbageCollect(len(toFree))
	}
	return largest, nil
}

// reclaim frees a busy entry's backend chunk, header, and watchdog slots.
// Caller must have already removed bc from the busy list.
func (p *Provider) reclaim(bc *BusyChunk) {
	if err := p.backendFree(bc.Chunk); err != nil && p.log != nil {
		p.log.WithError(err).Error("backend free failed during reclaim")
	}
	p.headerStorage.Free(bc.Header)
	p.watchdogStorage.Free(bc.Watchdog)
	p.validator.Untrack(bc.Watchdog)
	p.confirmator.Remove(bc.Watchdog)
	p.observer.ObserveFree(bc.Chunk.Len)
	p.notifyFreed()
}

// forceEvictOne picks a victim from the busy list via policy and reclaims
// it immediately, reporting whether anything was evicted.
func (p *Provider) forceEvictOne(policy ForceDeallocPolicy) bool {
	p.busyMu.Lock()
	n := p.busy.Len()
	idx, ok := policy.PickVictim(n)
	if !ok {
		p.busyMu.Unlock()
		return false
	}
	e := p.busy.Front()
	for i := 0; i < idx; i++ {
		e = e.Next()
	}
	bc := e.Value.(*BusyChunk)
	p.busy.Remove(e)
	p.busyMu.Unlock()

	p.reclaim(bc)
	return true
}

// Defragment delegates to the backend.
func (p *Provider) Defragment() (uint64, error) {
	largest, err := p.backendDefragment()
	if err == nil {
		p.observer.ObserveDefragment(1)
	}
	return largest, err
}

// Available delegates to the backend.
func (p *Provider) Available() uint64 {
	n := p.backendAvailable()
	p.observer.ObserveAvailableBytes(n)
	return n
}

// BusyLen reports the current busy-list length, for diagnostics and
// metrics.
func (p *Provider) BusyLen() int {
	p.busyMu.Lock()
	defer p.busyMu.Unlock()
	return p.busy.Len()
}

// dropBuf is called by SharedMemoryBuf.Close once the last clone's
// refcount reaches zero: it removes the entry from the busy list (if
// still present — GC may have already done so) and reclaims it.
func (p *Provider) dropBuf(elem *list.Element, bc *BusyChunk) {
	p.busyMu.Lock()
	removed := false
	for e := p.busy.Front(); e != nil; e = e.Next() {
		if e == elem {
			p.busy.Remove(e)
			removed = true
			break
		}
	}
	p.busyMu.Unlock()

	if removed {
		p.reclaim(bc)
	}
}

// notifyFreed wakes every BlockOn waiter.
func (p *Provider) notifyFreed() {
	p.freeMu.Lock()
	p.freeGen++
	p.freeMu.Unlock()
	p.freeCond.Broadcast()
}

// freeSignal returns a channel that is closed the next time a free
// happens, for BlockOn to select on alongside its timeout.
func (p *Provider) freeSignal() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		p.freeMu.Lock()
		gen := p.freeGen
		for p.freeGen == gen {
			p.freeCond.Wait()
		}
		p.freeMu.Unlock()
		close(ch)
	}()
	return ch
}
