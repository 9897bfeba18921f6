package obligations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileReportSink appends every Report as one JSON line to a file,
// mirroring pkg/audit's JSONLinesSink shape (spec.md §4.6 "emit a
// structured report artifact"); the concrete destination a real
// deployment ships reports to (object storage, a compliance system) is
// an external collaborator, so this exists as the local-disk default.
type FileReportSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileReportSink opens (creating if needed) path for appending.
func NewFileReportSink(path string) (*FileReportSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open report sink %s: %w", path, err)
	}
	return &FileReportSink{f: f}, nil
}

// Store writes r as one JSON line.
func (s *FileReportSink) Store(_ context.Context, r Report) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

// Close closes the backing file.
func (s *FileReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
