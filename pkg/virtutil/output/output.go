// Package output renders command results in several formats (pretty,
// plain, json, yaml, paths). Formatters are looked up by name in a registry
// so the -o flag can select them at runtime.
//
// Basic usage:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.NewLoad(report)); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// Result is the rendered outcome of one command. Exactly one of the
// section pointers is normally set.
type Result struct {
	Command string `json:"command" yaml:"command"`
	OK      bool   `json:"ok" yaml:"ok"`

	Load    *LoadSection    `json:"load,omitempty" yaml:"load,omitempty"`
	Launch  *LaunchSection  `json:"launch,omitempty" yaml:"launch,omitempty"`
	Dump    *DumpSection    `json:"dump,omitempty" yaml:"dump,omitempty"`
	Reindex *ReindexSection `json:"reindex,omitempty" yaml:"reindex,omitempty"`
	Tuning  *TuningSection  `json:"tuning,omitempty" yaml:"tuning,omitempty"`

	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	// Error and Hints are filled in by the caller when the command failed.
	Error string   `json:"error,omitempty" yaml:"error,omitempty"`
	Hints []string `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// LoadSection summarises a bulk load.
type LoadSection struct {
	Mode       string           `json:"mode" yaml:"mode"`
	Dir        string           `json:"dir" yaml:"dir"`
	Pattern    string           `json:"pattern" yaml:"pattern"`
	Discovered int              `json:"discovered" yaml:"discovered"`
	Loaded     int              `json:"loaded" yaml:"loaded"`
	Failed     int              `json:"failed" yaml:"failed"`
	Skipped    int              `json:"skipped" yaml:"skipped"`
	Bytes      int64            `json:"bytes" yaml:"bytes"`
	BytesHuman string           `json:"bytes_human" yaml:"bytes_human"`
	Duration   string           `json:"duration" yaml:"duration"`
	Finalized  bool             `json:"finalized" yaml:"finalized"`
	Drained    bool             `json:"drained" yaml:"drained"`
	Workers    []WorkerSection  `json:"workers,omitempty" yaml:"workers,omitempty"`
	Failures   []FailureSection `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// WorkerSection is one parallel worker's statistics.
type WorkerSection struct {
	ID             int     `json:"id" yaml:"id"`
	Files          int     `json:"files" yaml:"files"`
	Failed         int     `json:"failed" yaml:"failed"`
	Checkpoints    int     `json:"checkpoints" yaml:"checkpoints"`
	Busy           string  `json:"busy" yaml:"busy"`
	FilesPerSecond float64 `json:"files_per_second" yaml:"files_per_second"`
}

// FailureSection is one failed file.
type FailureSection struct {
	Path  string `json:"path" yaml:"path"`
	Kind  string `json:"kind" yaml:"kind"`
	Error string `json:"error" yaml:"error"`
}

// LaunchSection describes a started container.
type LaunchSection struct {
	Name             string   `json:"name" yaml:"name"`
	Image            string   `json:"image" yaml:"image"`
	HTTPPort         int      `json:"http_port" yaml:"http_port"`
	ISQLPort         int      `json:"isql_port" yaml:"isql_port"`
	Memory           string   `json:"memory" yaml:"memory"`
	DataDir          string   `json:"data_dir" yaml:"data_dir"`
	ContainerDataDir string   `json:"container_data_dir" yaml:"container_data_dir"`
	Mounts           []string `json:"mounts,omitempty" yaml:"mounts,omitempty"`
	Existing         bool     `json:"existing" yaml:"existing"`
	IniChanges       []string `json:"ini_changes,omitempty" yaml:"ini_changes,omitempty"`
	IniError         string   `json:"ini_error,omitempty" yaml:"ini_error,omitempty"`
	Ready            bool     `json:"ready" yaml:"ready"`
	ConductorURL     string   `json:"conductor_url" yaml:"conductor_url"`
	ISQLCommand      string   `json:"isql_command" yaml:"isql_command"`
}

// DumpSection describes a finished dump.
type DumpSection struct {
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	FirstFile string `json:"first_file" yaml:"first_file"`
	Installed bool   `json:"installed" yaml:"installed"`
	Duration  string `json:"duration" yaml:"duration"`
}

// ReindexSection describes a full-text index rebuild.
type ReindexSection struct {
	Steps           []StepSection `json:"steps" yaml:"steps"`
	RestartRequired bool          `json:"restart_required" yaml:"restart_required"`
	Duration        string        `json:"duration" yaml:"duration"`
}

// StepSection is one rebuild statement.
type StepSection struct {
	Name     string `json:"name" yaml:"name"`
	Done     bool   `json:"done" yaml:"done"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// TuningSection shows computed buffer parameters.
type TuningSection struct {
	Memory             string   `json:"memory" yaml:"memory"`
	MemoryBytes        int64    `json:"memory_bytes" yaml:"memory_bytes"`
	NumberOfBuffers    int64    `json:"number_of_buffers" yaml:"number_of_buffers"`
	MaxDirtyBuffers    int64    `json:"max_dirty_buffers" yaml:"max_dirty_buffers"`
	MaxCheckpointRemap int64    `json:"max_checkpoint_remap,omitempty" yaml:"max_checkpoint_remap,omitempty"`
	CPUCores           int      `json:"cpu_cores,omitempty" yaml:"cpu_cores,omitempty"`
	SuggestedWorkers   int      `json:"suggested_workers,omitempty" yaml:"suggested_workers,omitempty"`
	IniChanges         []string `json:"ini_changes,omitempty" yaml:"ini_changes,omitempty"`
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any
// existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
