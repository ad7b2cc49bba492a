// Package segment implements the owner/attacher sides of a single POSIX
// shared-memory region: an OS-named region identified by (prefix, id),
// created by one process and opened by any other on the same host.
package segment

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrOutOfIds is returned by Create when every one of its tries random ids
// collided with an existing segment.
var ErrOutOfIds = errors.New("segment: exhausted id attempts")

// ErrNotFound is returned by Open when no segment exists under the given
// prefix and id.
var ErrNotFound = errors.New("segment: not found")

const shmDir = "/dev/shm"

// Segment is one mmap'd POSIX shared-memory region. The OS (via /dev/shm
// and mmap's page cache) reference-counts the underlying pages; a Segment
// is released by calling Close, which unmaps and, for an owned segment,
// also unlinks the backing file (attachers that already map it keep their
// mapping).
type Segment struct {
	ID     uint32
	name   string
	path   string
	data   []byte
	fd     int
	owner  bool
}

// name formats the OS-visible identifier for a (prefix, id) pair.
func name(prefix string, id uint32) string {
	return fmt.Sprintf("%s_%d", prefix, id)
}

// Create dedicates a fresh segment of alloc_size bytes under the given
// prefix, drawing a random id and retrying on collision up to tries times
// (callers normally pass SegmentDedicateTries). Any OS error other than
// "already exists" is fatal and returned immediately, wrapped with the
// segment name.
func Create(allocSize int, prefix string, tries int) (*Segment, error) {
	if tries <= 0 {
		tries = 1
	}
	for i := 0; i < tries; i++ {
		id := rand.Uint32()
		segName := name(prefix, id)
		path := shmDir + "/" + segName

		fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
		if err != nil {
			if errors.Is(err, unix.EEXIST) {
				continue
			}
			return nil, errors.Wrapf(err, "segment: create %s", segName)
		}

		if err := unix.Ftruncate(fd, int64(allocSize)); err != nil {
			unix.Close(fd)
			unix.Unlink(path)
			return nil, errors.Wrapf(err, "segment: ftruncate %s", segName)
		}

		data, err := unix.Mmap(fd, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			unix.Unlink(path)
			return nil, errors.Wrapf(err, "segment: mmap %s", segName)
		}

		return &Segment{ID: id, name: segName, path: path, data: data, fd: fd, owner: true}, nil
	}
	return nil, ErrOutOfIds
}

// Open attaches to an existing segment by (prefix, id). It does not retry:
// absence of the backing file is reported as ErrNotFound.
func Open(prefix string, id uint32) (*Segment, error) {
	segName := name(prefix, id)
	path := shmDir + "/" + segName

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, unix.ENOENT) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "segment: open %s", segName)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "segment: fstat %s", segName)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "segment: mmap %s", segName)
	}

	return &Segment{ID: id, name: segName, path: path, data: data, fd: fd, owner: false}, nil
}

// Bytes exposes the raw mapped region. Callers outside this package must
// only mutate it through the atomic helpers the watchdog/header packages
// provide; direct byte writes are safe only for backend-owned chunk data.
func (s *Segment) Bytes() []byte { return s.data }

// Len returns the mapped length in bytes.
func (s *Segment) Len() int { return len(s.data) }

// Name returns the OS-visible "{prefix}_{id}" name.
func (s *Segment) Name() string { return s.name }

// Close unmaps the segment. If this process created it, the backing file
// is also unlinked — existing attachers keep their mapping valid (POSIX
// unlink semantics) but no new Open will succeed.
func (s *Segment) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return errors.Wrapf(err, "segment: munmap %s", s.name)
		}
		s.data = nil
	}
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
	if s.owner {
		_ = unix.Unlink(s.path)
	}
	return nil
}
