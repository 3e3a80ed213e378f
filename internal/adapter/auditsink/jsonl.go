package auditsink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

const maxLineSize = 1024 * 1024

// JSONLSink implements domain.AuditSink by appending one JSON object per
// line to a file. Prune rewrites the file in place.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewJSONLSink opens path for appending. The file is created with 0600
// permissions if it does not exist.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONLSink{file: f, path: path}, nil
}

func (s *JSONLSink) Append(_ context.Context, rec domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.NewDomainError("JSONLSink.Append", domain.ErrAuditWrite, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return domain.NewDomainError("JSONLSink.Append", domain.ErrAuditWrite, "sink closed")
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError("JSONLSink.Append", domain.ErrAuditWrite, err.Error())
	}
	return nil
}

// Query scans the whole file. Malformed lines are skipped.
func (s *JSONLSink) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open for reading: %w", err)
	}
	defer f.Close()

	var matched []domain.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.AuditRecord
		if json.Unmarshal(line, &rec) != nil {
			continue
		}
		if filter.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	// The file is in append order; return newest first.
	out := make([]domain.AuditRecord, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		out = append(out, matched[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Prune removes records older than before by rewriting the file through a
// temporary copy. Lines that cannot be parsed are kept.
func (s *JSONLSink) Prune(_ context.Context, before time.Time) (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, domain.NewDomainError("JSONLSink.Prune", domain.ErrAuditWrite, "sink closed")
	}
	if err := s.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	defer func() {
		f, openErr := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if openErr != nil && err == nil {
			err = fmt.Errorf("reopen after retention: %w", openErr)
		}
		s.file = f
	}()

	readFile, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("open for reading: %w", err)
	}

	var kept [][]byte
	scanner := bufio.NewScanner(readFile)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry struct {
			RecordedAt time.Time `json:"recorded_at"`
		}
		if json.Unmarshal(line, &entry) == nil && !entry.RecordedAt.IsZero() && entry.RecordedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	readFile.Close()
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan audit log: %w", err)
	}
	if removed == 0 {
		return 0, nil
	}

	tmpPath := s.path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmpFile)
	for _, line := range kept {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return removed, nil
}

func (s *JSONLSink) Name() string { return "jsonl" }

// Close closes the log file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

var (
	_ domain.AuditSink   = (*JSONLSink)(nil)
	_ domain.AuditPruner = (*JSONLSink)(nil)
)
