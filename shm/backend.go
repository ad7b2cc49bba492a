package shm

// Backend is the pluggable per-segment chunk allocator the Provider
// drives. Implementations are not required to be internally thread-safe;
// the Provider serializes access where its own concurrency model needs
// to (see internal locking notes on Provider).
type Backend interface {
	// Alloc returns a chunk whose length is >= layout.Size (overshoot is
	// allowed; the caller must pass the chunk's actual descriptor, not
	// the requested layout, to Free). Failure is ErrCodeOutOfMemory (not
	// enough free bytes even after compaction) or ErrCodeNeedDefragment
	// (enough free bytes in aggregate but no contiguous run), or
	// ErrCodeOther for any other failure.
	Alloc(layout MemoryLayout) (AllocatedChunk, error)

	// Free releases a chunk previously returned by Alloc. Idempotent for
	// a descriptor this backend actually handed out; undefined for a
	// foreign descriptor.
	Free(d ChunkDescriptor) error

	// Defragment compacts free space and returns the size of the largest
	// contiguous free run produced.
	Defragment() (uint64, error)

	// Available returns the total number of bytes currently free.
	Available() uint64

	// MaxAlign returns the maximum alignment this backend can honor.
	MaxAlign() AllocAlignment

	// LayoutFor returns the layout this backend will actually use for a
	// request (e.g. rounding the alignment up to its own minimum).
	LayoutFor(layout MemoryLayout) MemoryLayout
}

// ProtocolID identifies which Backend implementation produced a buffer,
// carried on the wire as BufInfo.ShmProtocol so a receiving process can
// pick a matching backend to attach with.
type ProtocolID uint32

// BackendFactory constructs a Backend instance, e.g. to attach to an
// existing data segment named in a received BufInfo.
type BackendFactory func() (Backend, error)

// BackendRegistry maps ProtocolID to BackendFactory, the minimal
// realization of "implementations are discovered by ProtocolID."
type BackendRegistry struct {
	factories map[ProtocolID]BackendFactory
}

// NewBackendRegistry creates an empty registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{factories: make(map[ProtocolID]BackendFactory)}
}

// Register associates a ProtocolID with a factory. A second Register for
// the same id overwrites the first.
func (r *BackendRegistry) Register(id ProtocolID, factory BackendFactory) {
	r.factories[id] = factory
}

// Lookup resolves a ProtocolID to a factory, or reports ok=false if none
// is registered.
func (r *BackendRegistry) Lookup(id ProtocolID) (BackendFactory, bool) {
	f, ok := r.factories[id]
	return f, ok
}
