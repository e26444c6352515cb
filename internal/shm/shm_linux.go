//go:build linux

package shm

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// posixPublisher memory-maps a file under /dev/shm, the conventional POSIX
// shared-memory tmpfs mount, rather than calling shm_open directly — on
// Linux the two are equivalent, and it keeps this package to a single
// dependency (x/sys/unix for Mmap) instead of cgo.
type posixPublisher struct {
	mu   sync.Mutex
	file *os.File
	path string
	data []byte
}

// regionPath resolves a POSIX shm object name to its backing file path.
func regionPath(name string) string { return "/dev/shm" + name }

// Open creates (or opens) the named shared-memory object, sizes it to Size
// bytes and maps it read-write. name is a POSIX shm object name like
// DefaultPath ("/harmonia-block").
func Open(name string) (Publisher, error) {
	full := regionPath(name)
	f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", full, err)
	}
	if err := f.Truncate(Size); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: truncate %s: %w", full, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", full, err)
	}
	return &posixPublisher{file: f, path: full, data: data}, nil
}

func (p *posixPublisher) Publish(beat float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.data, math.Float64bits(beat))
	return nil
}

// Close unmaps the region and unlinks the object — this peer created it, so
// it is responsible for removing it on shutdown (spec.md §4.6).
func (p *posixPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := unix.Munmap(p.data); err != nil {
		return err
	}
	if err := p.file.Close(); err != nil {
		return err
	}
	return os.Remove(p.path)
}
