// Package feedback turns finished tasks into reward samples: whenever the
// engine and a human answered the same task, the pair is recorded as a
// training signal. Samples land in a daily-rotated JSONL file and a SQLite
// history store that also enforces once-per-task idempotence.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"approver/pkg/proto"
)

// Sink appends reward samples to daily rotated JSONL files.
type Sink struct {
	dir         string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
}

// NewSink creates a sink writing under dir, creating it if needed.
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create feedback directory: %w", err)
	}

	s := &Sink{dir: dir}
	if err := s.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize feedback file: %w", err)
	}
	return s, nil
}

// Write appends one sample as a JSON line and syncs it to disk.
func (s *Sink) Write(sample proto.RewardSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate feedback file: %w", err)
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to serialize reward sample: %w", err)
	}
	if _, err := s.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write reward sample: %w", err)
	}
	if err := s.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync feedback file: %w", err)
	}
	return nil
}

func (s *Sink) rotateIfNeeded() error {
	date := time.Now().Format("2006-01-02")
	if s.currentFile != nil && s.currentDate == date {
		return nil
	}

	if s.currentFile != nil {
		if err := s.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close feedback file: %w", err)
		}
	}

	path := filepath.Join(s.dir, fmt.Sprintf("rewards-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open feedback file %s: %w", path, err)
	}

	s.currentFile = file
	s.currentDate = date
	return nil
}

// Close releases the current file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile == nil {
		return nil
	}
	err := s.currentFile.Close()
	s.currentFile = nil
	return err
}
