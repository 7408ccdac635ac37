package ingest

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Journal appends records to one JSONL file per UTC day under dir/passes.
// Writes are best-effort: failures are logged, never returned. The journal
// is a debugging aid, not a source of truth.
type Journal struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewJournal returns a journal rooted at dir. An empty dir disables it.
func NewJournal(dir string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Path returns the file a record written at t lands in.
func (j *Journal) Path(t time.Time) string {
	return filepath.Join(j.dir, "passes", t.UTC().Format("2006-01-02.jsonl"))
}

// Append writes v as one JSON line.
func (j *Journal) Append(v any) {
	if j == nil || j.dir == "" {
		return
	}
	path := j.Path(j.now())

	line, err := json.Marshal(v)
	if err != nil {
		j.logger.Warn("journal encode failed", "error", err)
		return
	}
	line = append(line, '\n')

	lock := j.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		j.logger.Warn("journal mkdir failed", "path", path, "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		j.logger.Warn("journal open failed", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		j.logger.Warn("journal write failed", "path", path, "error", err)
	}
}

// fileLock serializes writers of one file.
func (j *Journal) fileLock(path string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	m, ok := j.locks[path]
	if !ok {
		m = &sync.Mutex{}
		j.locks[path] = m
	}
	return m
}
