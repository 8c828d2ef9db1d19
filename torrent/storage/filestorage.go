package storage

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

var ErrOutOfBounds = errors.New("storage: write exceeds torrent length")

//FileStorage stores the torrent's data at a single file.
type FileStorage struct {
	logger *log.Logger
	name   string
	length int64
	mu     sync.Mutex
	f      afero.File
	//bytes written so far
	written int64
}

var _ Open = OpenFileStorage

//OpenFileStorage creates (or reopens) baseDir/name and sizes it to length.
func OpenFileStorage(fs afero.Fs, baseDir, name string, length int64, logger *log.Logger) (Storage, error) {
	if err := fs.MkdirAll(baseDir, 0777); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	path := filepath.Join(baseDir, name)
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err = f.Truncate(length); err != nil {
		f.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Printf("storing %s at %s", humanize.Bytes(uint64(length)), path)
	return &FileStorage{
		logger: logger,
		name:   path,
		length: length,
		f:      f,
	}, nil
}

//WritePiece writes data at offset off of the file.
func (s *FileStorage) WritePiece(off int64, data []byte) error {
	if off < 0 || off+int64(len(data)) > s.length {
		return fmt.Errorf("write %d bytes at %d: %w", len(data), off, ErrOutOfBounds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.WriteAt(data, off)
	s.written += int64(n)
	if err != nil {
		return fmt.Errorf("storage: write at %d: %w", off, err)
	}
	return nil
}

func (s *FileStorage) ReadAt(b []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.ReadAt(b, off)
}

//Written returns how many bytes have been written since opening.
func (s *FileStorage) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
