package auditlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/utils"
	"github.com/pkg/errors"
)

// Filter narrows a Query. Zero-valued fields are ignored.
type Filter struct {
	RunID     string
	AccountID string
	Outcome   base.Outcome
	Since     time.Time
}

func (f Filter) matches(r base.DeletionRecord) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.ActionedAt.Before(f.Since) {
		return false
	}
	return true
}

// Sink is the append-only audit log. Append never fails silently; Query
// returns records ordered by action timestamp ascending. No update or
// delete operation exists.
type Sink interface {
	Append(ctx context.Context, record base.DeletionRecord) error
	Query(ctx context.Context, filter Filter) ([]base.DeletionRecord, error)
}

// MemoryLog is an in-process Sink, used by tests and the serve surface.
type MemoryLog struct {
	mu      sync.Mutex
	records []base.DeletionRecord
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, record base.DeletionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *MemoryLog) Query(_ context.Context, filter Filter) ([]base.DeletionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := make([]base.DeletionRecord, 0, len(l.records))
	for _, r := range l.records {
		if filter.matches(r) {
			matched = append(matched, r)
		}
	}
	sortByActionTime(matched)
	return matched, nil
}

// FileLog appends records as JSON lines to a single file. Appends from
// concurrent account tasks are serialized by the mutex.
type FileLog struct {
	path        string
	fileManager utils.FileManager
	logger      *slog.Logger

	mu sync.Mutex
}

func NewFileLog(path string, fileManager utils.FileManager, logger *slog.Logger) (*FileLog, error) {
	if path == "" {
		return nil, errors.New("requires path")
	}
	if fileManager == nil {
		return nil, errors.New("requires file manager")
	}
	if logger == nil {
		return nil, errors.New("requires slogger")
	}
	return &FileLog{path: path, fileManager: fileManager, logger: logger}, nil
}

// Path returns the file the log appends to.
func (l *FileLog) Path() string {
	return l.path
}

func (l *FileLog) Append(ctx context.Context, record base.DeletionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(record)
	if err != nil {
		return &base.AuditWriteError{Err: err}
	}
	line = append(line, '\n')

	w, err := l.fileManager.Append(l.path)
	if err != nil {
		l.logger.ErrorContext(ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return &base.AuditWriteError{Err: err}
	}
	if _, err := w.Write(line); err != nil {
		l.logger.ErrorContext(ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		_ = l.fileManager.Close()
		return &base.AuditWriteError{Err: err}
	}
	if err := l.fileManager.Close(); err != nil {
		return &base.AuditWriteError{Err: err}
	}
	return nil
}

func (l *FileLog) Query(ctx context.Context, filter Filter) ([]base.DeletionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.fileManager.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		l.logger.ErrorContext(ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return nil, errors.Wrap(err, "reading audit log")
	}

	var matched []base.DeletionRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record base.DeletionRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, errors.Wrap(err, "decoding audit record")
		}
		if filter.matches(record) {
			matched = append(matched, record)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning audit log")
	}

	sortByActionTime(matched)
	return matched, nil
}

func sortByActionTime(records []base.DeletionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ActionedAt.Before(records[j].ActionedAt)
	})
}
