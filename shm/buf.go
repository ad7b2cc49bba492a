package shm

import "container/list"

// SharedMemoryBuf is the owner-side handle on one allocated buffer: its
// header handle (shared across clones via the refcount), a view of the
// underlying chunk bytes, and the BufInfo needed to hand the buffer to a
// remote peer.
type SharedMemoryBuf struct {
	provider *Provider
	elem     *list.Element
	busy     *BusyChunk
	data     []byte
	info     BufInfo
}

// Data returns the buffer's bytes. Only the owner (the process that
// allocated or mapped this buffer) should write to it; remote attachers
// treat it as read-only.
func (b *SharedMemoryBuf) Data() []byte { return b.data }

// Info returns the on-wire descriptor for this buffer.
func (b *SharedMemoryBuf) Info() BufInfo { return b.info }

// Refcount returns the current number of live references across every
// process holding this buffer's header slot.
func (b *SharedMemoryBuf) Refcount() uint32 { return b.busy.headerView.Refcount() }

// Clone bumps the header refcount and returns a new handle sharing the
// same underlying chunk. The confirmator keeps reasserting the watchdog
// bit as long as at least one clone is outstanding.
func (b *SharedMemoryBuf) Clone() *SharedMemoryBuf {
	b.busy.headerView.IncRef()
	b.provider.confirmator.Add(b.busy.Watchdog, b.busy.watchdogView, b.busy.watchdogBit)
	clone := *b
	return &clone
}

// Close drops this reference. Once the last clone is dropped (refcount
// reaches zero), the chunk, header, and watchdog slot are reclaimed
// immediately rather than waiting for the next GarbageCollect pass.
func (b *SharedMemoryBuf) Close() error {
	b.provider.confirmator.Remove(b.busy.Watchdog)
	if b.busy.headerView.DecRef() == 0 {
		b.provider.dropBuf(b.elem, b.busy)
	}
	return nil
}
