package report

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileSource reads the report file the game client writes on request.
// A report is only handed out once per modification time.
type FileSource struct {
	Path string

	mu      sync.Mutex
	lastMod time.Time
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Latest returns the report if the file changed since the previous
// successful read, ErrStale otherwise.
func (s *FileSource) Latest() (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.Path)
	if err != nil {
		return nil, fmt.Errorf("stat report: %w", err)
	}
	if !fi.ModTime().After(s.lastMod) {
		return nil, ErrStale
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	rep, err := Parse(f)
	if err != nil {
		return nil, err
	}
	s.lastMod = fi.ModTime()
	return rep, nil
}
