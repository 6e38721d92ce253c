// Package logging is the shared component logger for every virtutil
// command. Records always go to a rotating file under the XDG state
// directory and optionally to stderr; the progress view subscribes to the
// same stream.
//
//	if err := logging.Init(logging.DefaultConfig()); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("loader")
//	log.Info("worker started", "worker", 3, "files", 12)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	charm "github.com/charmbracelet/log"
)

// Level is a record severity.
type Level int

// Levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

func (l Level) charm() charm.Level {
	switch l {
	case LevelDebug:
		return charm.DebugLevel
	case LevelWarn:
		return charm.WarnLevel
	case LevelError:
		return charm.ErrorLevel
	default:
		return charm.InfoLevel
	}
}

// ErrInvalidLevel is returned for an unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ErrInvalidFormat is returned for an unknown file format name.
var ErrInvalidFormat = errors.New("invalid log format")

// ParseLevel maps a level name to a Level. "warning" is accepted as "warn".
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		name = "warn"
	}
	for lvl, n := range levelNames {
		if n == name {
			return lvl, nil
		}
	}
	return LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Config controls where and how records are written.
type Config struct {
	// Level is the file log threshold.
	Level string

	// Path of the log file. Empty means DefaultLogPath().
	Path string

	// Format of file records: "text" (default) or "json".
	Format string

	Rotation RotationConfig

	// Components overrides Level per component name.
	Components map[string]string

	// ConsoleLevel mirrors records at or above this level to stderr.
	// Empty disables the console sink.
	ConsoleLevel string

	// Interactive is set while the progress view owns the terminal. The
	// console sink is suppressed and recent records are kept in a Ring.
	Interactive bool
}

// Entry is a record delivered to subscribers.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// Logger writes records for one component.
type Logger struct {
	component string
	file      *charm.Logger
	console   *charm.Logger
}

func (l *Logger) Debug(msg string, kv ...any) { l.emit(LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.emit(LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.emit(LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.emit(LevelError, msg, kv) }

// With returns a Logger that appends kv to every record.
func (l *Logger) With(kv ...any) *Logger {
	out := &Logger{component: l.component, file: l.file.With(kv...)}
	if l.console != nil {
		out.console = l.console.With(kv...)
	}
	return out
}

func (l *Logger) emit(level Level, msg string, kv []any) {
	for _, sink := range []*charm.Logger{l.file, l.console} {
		if sink == nil {
			continue
		}
		switch level {
		case LevelDebug:
			sink.Debug(msg, kv...)
		case LevelInfo:
			sink.Info(msg, kv...)
		case LevelWarn:
			sink.Warn(msg, kv...)
		case LevelError:
			sink.Error(msg, kv...)
		}
	}

	if level < registry.threshold(l.component) {
		return
	}
	registry.publish(Entry{
		Time:      time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
	})
}

type loggerRegistry struct {
	mu          sync.RWMutex
	ready       bool
	writer      *RotatingWriter
	format      charm.Formatter
	level       Level
	overrides   map[string]Level
	console     *Level
	interactive bool
	ring        *Ring
	loggers     map[string]*Logger
	subscribers map[chan Entry]struct{}
}

var registry = &loggerRegistry{
	overrides:   map[string]Level{},
	loggers:     map[string]*Logger{},
	subscribers: map[chan Entry]struct{}{},
}

// Init opens the log file and reconfigures every logger handed out so far.
// Until Init succeeds, loggers discard their output.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	overrides := make(map[string]Level, len(cfg.Components))
	for component, name := range cfg.Components {
		lvl, err := ParseLevel(name)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", component, err)
		}
		overrides[component] = lvl
	}

	var console *Level
	if cfg.ConsoleLevel != "" && !cfg.Interactive {
		lvl, err := ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		console = &lvl
	}

	var format charm.Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		format = charm.TextFormatter
	case "json":
		format = charm.JSONFormatter
	case "logfmt":
		format = charm.LogfmtFormatter
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, cfg.Format)
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.writer != nil {
		_ = registry.writer.Close()
	}
	registry.writer = writer
	registry.format = format
	registry.level = level
	registry.overrides = overrides
	registry.console = console
	registry.interactive = cfg.Interactive
	registry.ring = nil
	if cfg.Interactive {
		registry.ring = NewRing(DefaultRingSize)
	}
	registry.ready = true

	for component, logger := range registry.loggers {
		*logger = *registry.build(component)
	}
	return nil
}

// Get returns the logger for component, creating it on first use.
func Get(component string) *Logger {
	registry.mu.RLock()
	logger, ok := registry.loggers[component]
	registry.mu.RUnlock()
	if ok {
		return logger
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if logger, ok := registry.loggers[component]; ok {
		return logger
	}
	logger = registry.build(component)
	registry.loggers[component] = logger
	return logger
}

// build must be called with mu held.
func (r *loggerRegistry) build(component string) *Logger {
	level := r.level
	if lvl, ok := r.overrides[component]; ok {
		level = lvl
	}

	if !r.ready {
		return &Logger{
			component: component,
			file: charm.NewWithOptions(io.Discard, charm.Options{
				Level:  level.charm(),
				Prefix: component,
			}),
		}
	}

	logger := &Logger{
		component: component,
		file: charm.NewWithOptions(r.writer, charm.Options{
			Level:           level.charm(),
			Prefix:          component,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Formatter:       r.format,
		}),
	}
	if r.console != nil {
		logger.console = charm.NewWithOptions(os.Stderr, charm.Options{
			Level:           r.console.charm(),
			Prefix:          component,
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})
	}
	return logger
}

func (r *loggerRegistry) threshold(component string) Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lvl, ok := r.overrides[component]; ok {
		return lvl
	}
	return r.level
}

func (r *loggerRegistry) publish(e Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.ring != nil {
		r.ring.Add(e)
	}
	for ch := range r.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close flushes the log file and ends all subscriptions.
func Close() error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	for ch := range registry.subscribers {
		close(ch)
		delete(registry.subscribers, ch)
	}

	var err error
	if registry.writer != nil {
		err = registry.writer.Close()
		registry.writer = nil
	}
	registry.ready = false
	registry.ring = nil
	registry.console = nil
	registry.loggers = map[string]*Logger{}
	registry.overrides = map[string]Level{}
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// Subscribe returns a buffered channel of new records. Records are dropped
// for a subscriber whose buffer is full.
func Subscribe() <-chan Entry {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	ch := make(chan Entry, 128)
	registry.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch. The channel is left open.
func Unsubscribe(ch <-chan Entry) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for sub := range registry.subscribers {
		if sub == ch {
			delete(registry.subscribers, sub)
			return
		}
	}
}

// Recent returns the interactive ring, or nil outside interactive mode.
func Recent() *Ring {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return registry.ring
}

// DefaultLogPath is $XDG_STATE_HOME/virtutil/virtutil.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "virtutil", "virtutil.log")
}

// DefaultConfig logs at info level to DefaultLogPath with default rotation.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Format:   "text",
		Rotation: DefaultRotationConfig(),
	}
}
