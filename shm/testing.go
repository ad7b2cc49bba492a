package shm

import "sync"

type freeRun struct {
	offset uint64
	length uint64
}

// MockBackend is an in-memory Backend for tests that don't need real
// /dev/shm I/O: a free-list allocator over a plain byte slice, with call
// counters for verifying policy behavior.
type MockBackend struct {
	mu        sync.Mutex
	data      []byte
	size      uint64
	free      []freeRun
	nextChunk uint32
	busy      map[uint32]freeRun

	allocCalls       int
	freeCalls        int
	defragmentCalls  int
}

// NewMockBackend creates a mock backend with the given capacity, starting
// as one single free run.
func NewMockBackend(size uint64) *MockBackend {
	return &MockBackend{
		data: make([]byte, size),
		size: size,
		free: []freeRun{{offset: 0, length: size}},
		busy: make(map[uint32]freeRun),
	}
}

func (m *MockBackend) Alloc(layout MemoryLayout) (AllocatedChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocCalls++

	var total uint64
	bestIdx := -1
	for i, r := range m.free {
		total += r.length
		if r.length >= layout.Size && (bestIdx == -1 || r.length < m.free[bestIdx].length) {
			bestIdx = i
		}
	}

	if bestIdx == -1 {
		if total >= layout.Size {
			return AllocatedChunk{}, NewError("shm.MockBackend.Alloc", ErrCodeNeedDefragment)
		}
		return AllocatedChunk{}, NewError("shm.MockBackend.Alloc", ErrCodeOutOfMemory)
	}

	run := m.free[bestIdx]
	m.free = append(m.free[:bestIdx], m.free[bestIdx+1:]...)
	if run.length > layout.Size {
		m.free = append(m.free, freeRun{offset: run.offset + layout.Size, length: run.length - layout.Size})
	}

	id := m.nextChunk
	m.nextChunk++
	used := freeRun{offset: run.offset, length: layout.Size}
	m.busy[id] = used

	return AllocatedChunk{
		Descriptor: ChunkDescriptor{Segment: 0, Chunk: id, Len: layout.Size},
		Data:       m.data[used.offset : used.offset+used.length],
	}, nil
}

func (m *MockBackend) Free(d ChunkDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeCalls++

	run, ok := m.busy[d.Chunk]
	if !ok {
		return nil
	}
	delete(m.busy, d.Chunk)
	m.free = append(m.free, run)
	return nil
}

func (m *MockBackend) Defragment() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defragmentCalls++

	if len(m.free) == 0 {
		return 0, nil
	}
	merged := make([]freeRun, 0, len(m.free))
	sorted := append([]freeRun(nil), m.free...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].offset < sorted[i].offset {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if cur.offset+cur.length == r.offset {
			cur.length += r.length
		} else {
			merged = append(merged, cur)
			cur = r
		}
	}
	merged = append(merged, cur)
	m.free = merged

	var largest uint64
	for _, r := range m.free {
		if r.length > largest {
			largest = r.length
		}
	}
	return largest, nil
}

func (m *MockBackend) Available() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, r := range m.free {
		total += r.length
	}
	return total
}

func (m *MockBackend) MaxAlign() AllocAlignment {
	return AllocAlignment{Exponent: 12} // 4096
}

func (m *MockBackend) LayoutFor(layout MemoryLayout) MemoryLayout {
	return layout
}

// CallCounts reports how many times each operation has been invoked, for
// tests asserting a policy took the expected retry path.
func (m *MockBackend) CallCounts() (allocs, frees, defragments int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocCalls, m.freeCalls, m.defragmentCalls
}

var _ Backend = (*MockBackend)(nil)
