package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultFileName is the name of the active log file inside the log directory
	DefaultFileName = "application.log"

	// DefaultMaxSize is the size after which the log rolls over to a new file
	DefaultMaxSize int64 = 10 * 1024 * 1024

	lineLayout   = "2006-01-02 15:04:05"
	rolledLayout = "20060102_150405"
)

// Entry is a single journal record
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// String formats the entry as a log file line, without the trailing newline
func (e Entry) String() string {
	return fmt.Sprintf("%s - %s - %s", e.Time.Format(lineLayout), e.Level, e.Message)
}

// WithMaxSize sets the rollover threshold in bytes
func WithMaxSize(size int64) func(*Journal) {
	return func(j *Journal) {
		if size > 0 {
			j.maxSize = size
		}
	}
}

// WithFileName sets the name of the active log file
func WithFileName(name string) func(*Journal) {
	return func(j *Journal) {
		if name != "" {
			j.baseName = name
			j.fileName = name
		}
	}
}

// WithPanel mirrors every entry into the given status panel
func WithPanel(p *Panel) func(*Journal) {
	return func(j *Journal) {
		j.panel = p
	}
}

func withClock(now func() time.Time) func(*Journal) {
	return func(j *Journal) {
		j.now = now
	}
}

// Journal is a plain-text rotating log. All file writes are serialized by a single
// mutex; the status panel and the last entry are updated before the write.
type Journal struct {
	mu       sync.Mutex
	dir      string
	baseName string
	fileName string
	maxSize  int64
	file     *os.File
	size     int64
	closed   bool

	lastMu  sync.RWMutex
	last    Entry
	hasLast bool

	panel *Panel
	now   func() time.Time
}

// New opens (or creates) the log file in dir. When the file cannot be opened a
// warning goes to stderr and entries only reach the panel until a later Log
// manages to open it.
func New(dir string, options ...func(*Journal)) (*Journal, error) {
	j := &Journal{
		dir:      dir,
		baseName: DefaultFileName,
		fileName: DefaultFileName,
		maxSize:  DefaultMaxSize,
		now:      time.Now,
	}

	for _, option := range options {
		option(j)
	}

	if j.panel == nil {
		j.panel = NewPanel(DefaultPanelSize)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.rotate(); err != nil {
		fmt.Fprintf(os.Stderr, "journal: %s\n", err)
	}

	return j, nil
}

// Panel returns the status panel the journal publishes into
func (j *Journal) Panel() *Panel {
	return j.panel
}

// Log records message at the given level
func (j *Journal) Log(message string, level Level) {
	entry := Entry{Time: j.now(), Level: level, Message: message}

	j.lastMu.Lock()
	j.last = entry
	j.hasLast = true
	j.lastMu.Unlock()

	j.panel.Publish(entry)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}

	if j.file == nil {
		if err := j.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "journal: %s\n", err)
			return
		}
	}

	line := entry.String() + "\n"
	if j.size > 0 && j.size+int64(len(line)) > j.maxSize {
		j.fileName = j.rolledName()
		if err := j.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "journal: %s\n", err)
			return
		}
	}

	n, err := io.WriteString(j.file, line)
	j.size += int64(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal: writing %s: %s\n", j.fileName, err)
	}
}

// Infof, Warnf, Errorf and Debugf are formatting shortcuts for Log

func (j *Journal) Infof(format string, args ...any) {
	j.Log(fmt.Sprintf(format, args...), LevelInfo)
}

func (j *Journal) Warnf(format string, args ...any) {
	j.Log(fmt.Sprintf(format, args...), LevelWarning)
}

func (j *Journal) Errorf(format string, args ...any) {
	j.Log(fmt.Sprintf(format, args...), LevelError)
}

func (j *Journal) Debugf(format string, args ...any) {
	j.Log(fmt.Sprintf(format, args...), LevelDebug)
}

// LastEntry returns the most recently logged entry
func (j *Journal) LastEntry() (Entry, bool) {
	j.lastMu.RLock()
	defer j.lastMu.RUnlock()
	return j.last, j.hasLast
}

// SetDir moves the journal to another directory and reopens the log file there
func (j *Journal) SetDir(dir string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.dir = dir
	j.fileName = j.baseName
	return j.rotate()
}

// Path returns the path of the active log file
func (j *Journal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return filepath.Join(j.dir, j.fileName)
}

// Close closes the log file. Entries logged afterwards only reach the panel.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true
	if j.file == nil {
		return nil
	}

	err := j.file.Close()
	j.file = nil
	return err
}

// rotate closes the current file and opens j.fileName. An existing file over the
// threshold is left alone and a timestamped name is used instead. j.mu must be held.
func (j *Journal) rotate() error {
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", j.dir, err)
	}

	path := filepath.Join(j.dir, j.fileName)
	if stat, err := os.Stat(path); err == nil && stat.Size() > j.maxSize {
		j.fileName = j.rolledName()
		path = filepath.Join(j.dir, j.fileName)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("reading log file %s: %w", path, err)
	}

	j.file = f
	j.size = stat.Size()
	j.closed = false
	return nil
}

// rolledName returns application_YYYYMMDD_HHMMSS.log, with a numeric suffix when
// a file of that name already exists.
func (j *Journal) rolledName() string {
	ext := filepath.Ext(j.baseName)
	stem := strings.TrimSuffix(j.baseName, ext)
	stamp := j.now().Format(rolledLayout)

	name := fmt.Sprintf("%s_%s%s", stem, stamp, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(j.dir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%s_%d%s", stem, stamp, i, ext)
	}
}
