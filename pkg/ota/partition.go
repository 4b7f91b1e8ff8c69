package ota

import (
	"os"
	"sync"
)

// Partition is the contract over a flash partition: out of scope per the
// hardware-abstraction boundary, only its shape is specified here. A
// real device backs this with a flash driver; FilePartition backs it
// with a plain file for everything this repo can actually run on.
type Partition interface {
	WriteAt(offset int64, data []byte) error
	ReadAll() ([]byte, error)
	Wipe() error
}

// FilePartition is a Partition backed by a regular file at path.
type FilePartition struct {
	mu   sync.Mutex
	path string
}

// NewFilePartition returns a Partition backed by the file at path,
// created on first write if absent.
func NewFilePartition(path string) *FilePartition {
	return &FilePartition{path: path}
}

func (p *FilePartition) WriteAt(offset int64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(data, offset)
	return err
}

func (p *FilePartition) ReadAll() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return os.ReadFile(p.path)
}

func (p *FilePartition) Wipe() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return os.Remove(p.path)
}
