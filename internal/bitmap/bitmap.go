// Package bitmap implements a memory-mapped, page-tracked bit array.
//
// A Bitmap backs exactly one Bloom filter layer. It owns the mapped
// region (or, for the anonymous mode, a plain heap slice) and tracks
// which OS pages have been written since the last flush so that flush
// only has to sync the pages that actually changed.
package bitmap

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Mode selects how a Bitmap's backing storage is obtained.
type Mode int

const (
	// Shared maps an existing file descriptor with MAP_SHARED; writes
	// are visible to other mappers of the same file and are written
	// back on flush. The Bitmap closes the descriptor on Close.
	Shared Mode = iota
	// Persistent maps a file the Bitmap itself opened; behaves like
	// Shared, including closing its descriptor on Close.
	Persistent
	// Anonymous has no backing file; flush is a no-op and the region
	// disappears when the Bitmap is closed.
	Anonymous
	// New creates the backing file (failing if it already exists),
	// zero-extends it to length, and then behaves like Persistent.
	New
)

var pageSize = os.Getpagesize()

// PageSize returns the OS page size used to size the dirty-page bitset.
func PageSize() int { return pageSize }

// Bitmap is a fixed-length bit array, optionally backed by a
// memory-mapped file. All operations are safe for concurrent readers;
// SetBit callers must serialize with each other and with Flush/Close
// (the spec's locking hierarchy makes the entry writer lock responsible
// for this — Bitmap itself only guards its own bookkeeping).
type Bitmap struct {
	mu     sync.Mutex
	mode   Mode
	fd     int // -1 for Anonymous
	length int // byte length, multiple of page size
	data   []byte

	dirty    []uint64 // one bit per page
	numPages int
	anyDirty bool
	closed   bool
}

// pageAlign rounds length up to a multiple of the OS page size.
func pageAlign(length int64) int64 {
	if length <= 0 {
		return int64(pageSize)
	}
	rem := length % int64(pageSize)
	if rem == 0 {
		return length
	}
	return length + int64(pageSize) - rem
}

// OpenFile maps length bytes of fd starting at offset 0 in the given mode.
// mode must be Shared, Persistent, or Anonymous; New is only meaningful
// through OpenNamed, which knows how to create the backing file.
func OpenFile(fd int, length int64, mode Mode) (*Bitmap, error) {
	if mode == Anonymous {
		return newAnonymous(length), nil
	}
	if mode == New {
		return nil, fmt.Errorf("bitmap: OpenFile does not create files, use OpenNamed with create=true")
	}

	aligned := pageAlign(length)
	data, err := unix.Mmap(fd, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("bitmap: mmap: %w", err)
	}

	b := newBitmap(mode, fd, int(aligned), data)
	return b, nil
}

// OpenNamed opens (and optionally creates) the file at path and maps it.
//
// When create is true and mode is New, the file must not already exist;
// it is created, truncated to the page-aligned length, and zero-filled.
// Otherwise the file must already exist and be exactly length bytes
// (after page alignment the caller is expected to have sized it that
// way originally).
func OpenNamed(path string, length int64, create bool, mode Mode) (*Bitmap, error) {
	if mode == Anonymous {
		return newAnonymous(length), nil
	}

	aligned := pageAlign(length)

	var flags int
	if create && mode == New {
		flags = os.O_RDWR | os.O_CREATE | os.O_EXCL
	} else {
		flags = os.O_RDWR
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("bitmap: open %s: %w", path, err)
	}

	if create && mode == New {
		if err := f.Truncate(aligned); err != nil {
			f.Close()
			return nil, fmt.Errorf("bitmap: truncate %s: %w", path, err)
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("bitmap: stat %s: %w", path, err)
		}
		if info.Size() != aligned {
			f.Close()
			return nil, fmt.Errorf("bitmap: %s has size %d, expected %d", path, info.Size(), aligned)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bitmap: mmap %s: %w", path, err)
	}

	// The descriptor is duplicated so the *os.File can be closed (it is
	// not needed after mmap) while the Bitmap keeps its own fd to close
	// on Close/drop.
	dupFd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("bitmap: dup fd for %s: %w", path, err)
	}

	persistMode := mode
	if persistMode == New {
		persistMode = Persistent
	}

	return newBitmap(persistMode, dupFd, int(aligned), data), nil
}

func newAnonymous(length int64) *Bitmap {
	aligned := int(pageAlign(length))
	return newBitmap(Anonymous, -1, aligned, make([]byte, aligned))
}

func newBitmap(mode Mode, fd int, length int, data []byte) *Bitmap {
	numPages := (length + pageSize - 1) / pageSize
	return &Bitmap{
		mode:     mode,
		fd:       fd,
		length:   length,
		data:     data,
		dirty:    make([]uint64, (numPages+63)/64),
		numPages: numPages,
	}
}

// Len returns the byte length of the mapped region.
func (b *Bitmap) Len() int { return b.length }

// Mode reports how the Bitmap's storage was obtained.
func (b *Bitmap) Mode() Mode { return b.mode }

func (b *Bitmap) markDirty(byteOffset int) {
	page := byteOffset / pageSize
	b.dirty[page/64] |= 1 << uint(page%64)
	b.anyDirty = true
}

// ReadBit reports whether bit i is set.
func (b *Bitmap) ReadBit(i uint64) bool {
	byteIdx := i / 8
	bitIdx := i % 8
	return b.data[byteIdx]&(1<<bitIdx) != 0
}

// SetBit sets bit i and marks its containing page dirty.
func (b *Bitmap) SetBit(i uint64) {
	byteIdx := i / 8
	bitIdx := i % 8
	b.data[byteIdx] |= 1 << bitIdx
	b.markDirty(int(byteIdx))
}

// Bytes exposes the raw backing region, e.g. so a Layer can read/write
// its header directly.
func (b *Bitmap) Bytes() []byte { return b.data }

// MarkDirty flags the page containing byteOffset as dirty without
// changing any bit value. Callers that write directly into the slice
// returned by Bytes (e.g. a Layer rewriting its header) must call this
// so Flush knows to sync that page.
func (b *Bitmap) MarkDirty(byteOffset int) {
	b.markDirty(byteOffset)
}

// Flush synchronously writes dirty pages back to disk for
// Shared/Persistent bitmaps and clears the dirty set. Anonymous bitmaps
// are a no-op.
func (b *Bitmap) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

// flushLocked is Flush's body, callable while b.mu is already held (so
// Close can flush and then mark itself closed within one critical
// section instead of recursing into Flush's own lock).
func (b *Bitmap) flushLocked() error {
	if b.mode == Anonymous || !b.anyDirty || b.closed {
		b.anyDirty = false
		return nil
	}

	start, run := -1, 0
	flushRun := func(startPage, pages int) error {
		off := startPage * pageSize
		n := pages * pageSize
		if off+n > len(b.data) {
			n = len(b.data) - off
		}
		return unix.Msync(b.data[off:off+n], unix.MS_SYNC)
	}

	for page := 0; page < b.numPages; page++ {
		isDirty := b.dirty[page/64]&(1<<uint(page%64)) != 0
		if isDirty {
			if start == -1 {
				start = page
				run = 1
			} else {
				run++
			}
			continue
		}
		if start != -1 {
			if err := flushRun(start, run); err != nil {
				return fmt.Errorf("bitmap: msync: %w", err)
			}
			start, run = -1, 0
		}
	}
	if start != -1 {
		if err := flushRun(start, run); err != nil {
			return fmt.Errorf("bitmap: msync: %w", err)
		}
	}

	for i := range b.dirty {
		b.dirty[i] = 0
	}
	b.anyDirty = false
	return nil
}

// Close flushes (for Shared/Persistent), unmaps the region, and closes
// the descriptor. Safe to call more than once.
func (b *Bitmap) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	var flushErr error
	if b.mode != Anonymous {
		flushErr = b.flushLocked()
	}
	b.closed = true
	b.mu.Unlock()

	var unmapErr error
	if b.mode != Anonymous {
		unmapErr = unix.Munmap(b.data)
	}

	var closeErr error
	if b.fd >= 0 {
		closeErr = unix.Close(b.fd)
	}

	if flushErr != nil {
		return flushErr
	}
	if unmapErr != nil {
		return fmt.Errorf("bitmap: munmap: %w", unmapErr)
	}
	if closeErr != nil {
		return fmt.Errorf("bitmap: close fd: %w", closeErr)
	}
	return nil
}
