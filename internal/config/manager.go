package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "plexpush/pkg/logx"
)

// ChangeFunc observes a settings edit detected after startup.
type ChangeFunc func(old, new *Settings, sections []string)

// Manager loads the settings file and watches it for edits.
//
// Rules are fixed for the life of the process: Watch only reports edits
// (with a "restart required" warning) and never swaps the live settings.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Settings
	example  bool
	warnings []string
	lastHash uint64

	log logx.Logger
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

func (m *Manager) Path() string { return m.path }

// Parse reads, decodes and validates the settings file.
func (m *Manager) Parse() (*Settings, []string, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, nil, err
	}
	return parse(m.path, b)
}

func parse(name string, b []byte) (*Settings, []string, error) {
	s, err := Decode(name, b)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := Validate(s)
	if err != nil {
		return nil, warnings, fmt.Errorf("%s: %w", name, err)
	}
	return s, warnings, nil
}

// Load reads the settings file. A missing file falls back to the bundled
// example settings; UsingExample reports that case.
func (m *Manager) Load() (*Settings, error) {
	s, warnings, err := m.Parse()
	example := false
	if errors.Is(err, fs.ErrNotExist) {
		s, warnings, err = parse(ExampleName, exampleSettings)
		example = true
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cfg = s
	m.example = example
	m.warnings = warnings
	m.lastHash = hashSettings(s)
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) Get() *Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UsingExample reports whether Load fell back to the bundled settings.
func (m *Manager) UsingExample() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.example
}

// Warnings returns the validation warnings of the loaded settings.
func (m *Manager) Warnings() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.warnings...)
}

func hashSettings(s *Settings) uint64 {
	if s == nil {
		return 0
	}
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Watch reports edits of the settings file until ctx is done. It returns an
// error when the watcher breaks so a supervisor can restart it.
func (m *Manager) Watch(ctx context.Context, onChange ChangeFunc) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("settings watch %s: %w", dir, err)
	}
	m.log.Debug("settings watcher started", logx.String("dir", dir), logx.String("file", file))

	// Editors write in several steps; settle before reading.
	const settle = 250 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(settle, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("settings watch: events channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("settings watch: errors channel closed")
			}
			m.log.Warn("settings watch error", logx.Err(err), logx.String("dir", dir))
		case <-fire:
			m.reload(onChange)
		}
	}
}

func (m *Manager) reload(onChange ChangeFunc) {
	next, _, err := m.Parse()
	if errors.Is(err, fs.ErrNotExist) {
		m.log.Warn("settings file removed; the running settings stay in effect", logx.String("path", m.path))
		return
	}
	if err != nil {
		m.log.Warn("settings edit rejected", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashSettings(next)
	m.mu.Lock()
	unchanged := h != 0 && h == m.lastHash
	prev := m.cfg
	if !unchanged {
		m.lastHash = h
	}
	m.mu.Unlock()
	if unchanged {
		m.log.Debug("settings unchanged", logx.String("path", m.path))
		return
	}

	sections, attrs := SummarizeChange(prev, next)
	fields := append([]logx.Field{
		logx.String("path", m.path),
		logx.Strs("sections", sections),
	}, attrs...)
	m.log.Warn("settings changed on disk; restart required to apply", fields...)
	if onChange != nil {
		onChange(prev, next, sections)
	}
}
