package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// FileSink appends entries as JSON Lines to a local file. Each run is written
// by replacing the file atomically, so a crash never leaves a partial run.
type FileSink struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileSink creates a sink writing to path
func NewFileSink(path string, logger *zap.Logger) *FileSink {
	return &FileSink{path: path, logger: logger}
}

// Ping checks the target directory exists and is writable
func (s *FileSink) Ping(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}
	check, err := os.CreateTemp(dir, ".audit-check-*")
	if err != nil {
		return fmt.Errorf("%w: directory %s is not writable: %v", model.ErrAuditSinkUnavailable, dir, err)
	}
	name := check.Name()
	check.Close()
	return os.Remove(name)
}

// Write appends the run to the existing trail with a temp file and rename
func (s *FileSink) Write(ctx context.Context, runID string, entries []model.ResolutionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to read %s: %v", model.ErrAuditSinkUnavailable, s.path, err)
	}

	buf := bytes.NewBuffer(existing)
	if buf.Len() > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	enc := json.NewEncoder(buf)
	at := recordedAt()
	for _, e := range entries {
		if err := enc.Encode(StoredEntry{RunID: runID, RecordedAt: at, ResolutionEntry: e}); err != nil {
			return fmt.Errorf("%w: failed to encode entry: %v", model.ErrAuditSinkUnavailable, err)
		}
	}

	if err := WriteFileAtomic(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuditSinkUnavailable, err)
	}

	s.logger.Info("Recorded audit entries",
		zap.String("runId", runID),
		zap.String("path", s.path),
		zap.Int("count", len(entries)))
	return nil
}

// QueryByRowID scans the trail for a row's entries in file order
func (s *FileSink) QueryByRowID(ctx context.Context, rowID string) ([]model.ResolutionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	var out []model.ResolutionEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var se StoredEntry
		if err := json.Unmarshal(scanner.Bytes(), &se); err != nil {
			return nil, fmt.Errorf("failed to decode audit line %d: %w", line, err)
		}
		if se.RowID == rowID {
			out = append(out, se.ResolutionEntry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}
	return out, nil
}

// Close is a no-op; the file is only open during Write and QueryByRowID
func (s *FileSink) Close() error {
	return nil
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}
