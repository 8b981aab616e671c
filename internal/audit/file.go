package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

const (
	fileHeader    = "邮件发送日志\n===============\n\n"
	markerSuccess = "成功"
	markerFailure = "失败"
)

// FileSink appends audit lines to a plain text file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewFileSink opens path for appending, creating it and its directory if
// needed. A header is written only when the file is new or empty.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat audit log: %w", err)
	}
	if info.Size() == 0 {
		if _, err := file.WriteString(fileHeader); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to write audit log header: %w", err)
		}
	}

	return &FileSink{file: file, now: time.Now}, nil
}

func (s *FileSink) Record(_ context.Context, entry Entry) error {
	at := entry.At
	if at.IsZero() {
		at = s.now()
	}

	// The file keeps two markers only; skips are written as 失败 while the
	// console log tags them 跳过.
	marker := markerFailure
	if entry.Outcome.Succeeded() {
		marker = markerSuccess
	}

	return s.writeLine(fmt.Sprintf("[%s] [%s] %s: %s\n",
		at.Format(timeLayout), marker, entry.Outcome.Address, entry.Outcome.Message))
}

func (s *FileSink) Summary(_ context.Context, summary domain.RunSummary) error {
	at := summary.FinishedAt
	if at.IsZero() {
		at = s.now()
	}

	stats := summary.Stats
	return s.writeLine(fmt.Sprintf("[%s] 总结: 总计=%d, 成功=%d, 失败=%d, 跳过=%d\n",
		at.Format(timeLayout), stats.Attempted, stats.Succeeded, stats.Failed, stats.Skipped))
}

func (s *FileSink) writeLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit log is closed")
	}
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.file == nil {
			return
		}
		s.closeErr = s.file.Close()
		s.file = nil
	})
	return s.closeErr
}
