//go:build !linux

package shm

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// filePublisher is the fallback used on every non-Linux host (spec.md §4.6
// "platform shim for non-POSIX hosts"): a plain file rewritten in place rather than a true
// memory mapping. It satisfies the same "publish an f64 beat at ≥100Hz"
// contract without depending on an OS-specific mmap API this pack has no
// grounded usage of outside Linux.
type filePublisher struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// regionPath resolves a shm object name to its fallback backing file path.
func regionPath(name string) string {
	return filepath.Join(os.TempDir(), strings.TrimPrefix(name, "/"))
}

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
	return &filePublisher{file: f, path: full}, nil
}

func (p *filePublisher) Publish(beat float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf [Size]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(beat))
	if _, err := p.file.WriteAt(buf[:], 0); err != nil {
		return err
	}
	return nil
}

func (p *filePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Close(); err != nil {
		return err
	}
	return os.Remove(p.path)
}
