package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/virtutil/virtutil/pkg/virtutil/docker"
	"github.com/virtutil/virtutil/pkg/virtutil/dump"
	"github.com/virtutil/virtutil/pkg/virtutil/fulltext"
	"github.com/virtutil/virtutil/pkg/virtutil/inifile"
	"github.com/virtutil/virtutil/pkg/virtutil/loader"
	"github.com/virtutil/virtutil/pkg/virtutil/tuner"
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

func sampleReport(failures int) *loader.Report {
	r := &loader.Report{
		Mode:       loader.ModeParallel,
		Dir:        "/data",
		Pattern:    "*.nq",
		Discovered: 3 + failures,
		Loaded:     3,
		Failed:     failures,
		Bytes:      3 * types.MiB,
		Duration:   90 * time.Second,
		Finalized:  true,
		Drained:    true,
		Workers: []loader.WorkerStats{
			{ID: 1, Files: 2, Busy: 2 * time.Second},
			{ID: 2, Files: 1 + failures, Failed: failures, Busy: 4 * time.Second},
		},
	}
	for i := 0; i < failures; i++ {
		r.Results = append(r.Results, loader.FileResult{Path: fmt.Sprintf("/data/bad%02d.nq", i), Kind: "sql", Error: "*** Error 37000"})
	}
	r.Results = append(r.Results, loader.FileResult{Path: "/data/good.nq", OK: true})
	return r
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "paths", "plain", "pretty", "yaml"}, Available())

	_, err := Get("xml")
	assert.Error(t, err)

	reg := NewRegistry()
	reg.Register("x", func() Formatter { return &JSONFormatter{} })
	f, err := reg.Get("x")
	require.NoError(t, err)
	assert.IsType(t, &JSONFormatter{}, f)
}

func TestNewLoad(t *testing.T) {
	res := NewLoad(sampleReport(1))
	assert.Equal(t, "load-parallel", res.Command)
	assert.False(t, res.OK)
	require.NotNil(t, res.Load)
	assert.Equal(t, "3.0 MiB", res.Load.BytesHuman)
	assert.Equal(t, "1m 30s", res.Load.Duration)
	require.Len(t, res.Load.Workers, 2)
	assert.InDelta(t, 1.0, res.Load.Workers[0].FilesPerSecond, 0.001)
	require.Len(t, res.Load.Failures, 1)
	assert.Empty(t, res.Warnings)

	r := sampleReport(0)
	r.Finalized = false
	res = NewLoad(r)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "CRITICAL")
}

func TestPrettyLoadTruncatesFailures(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, NewLoad(sampleReport(12))))

	out := buf.String()
	assert.Contains(t, out, "bad00.nq")
	assert.Contains(t, out, "bad09.nq")
	assert.NotContains(t, out, "bad10.nq")
	assert.Contains(t, out, "and 2 more")
	assert.Contains(t, out, "WORKER")
	assert.Contains(t, out, "3/15")
}

func TestPrettyError(t *testing.T) {
	res := NewLoad(sampleReport(0))
	res.Error = "server cannot access the data files"
	res.Hints = []string{"add /data to DirsAllowed"}

	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, res))
	assert.Contains(t, buf.String(), "server cannot access the data files")
	assert.Contains(t, buf.String(), "hint: add /data to DirsAllowed")
}

func TestJSONAndYAMLCarryEverything(t *testing.T) {
	res := NewLoad(sampleReport(12))

	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, res))
	var decoded Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.Load.Failures, 12)
	assert.Nil(t, decoded.Launch)

	buf.Reset()
	require.NoError(t, (&YAMLFormatter{}).Format(&buf, res))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, "load-parallel", fromYAML["command"])
}

func TestPathsFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PathsFormatter{}).Format(&buf, NewLoad(sampleReport(2))))
	assert.Equal(t, "/data/bad00.nq\n/data/bad01.nq\n", buf.String())

	buf.Reset()
	require.NoError(t, (&PathsFormatter{}).Format(&buf, &Result{Command: "dump"}))
	assert.Empty(t, buf.String())
}

func TestNewLaunch(t *testing.T) {
	d := &docker.Deployment{
		Name:             "vos",
		Image:            "openlink/virtuoso-opensource-7:latest",
		HostDataDir:      "/srv/vos",
		ContainerDataDir: "/opt/virtuoso-opensource/database",
		Mounts:           []docker.Mount{{Host: "/srv/rdf", Container: "/data"}},
		HTTPPort:         8890,
		ISQLPort:         1111,
		Memory:           "4g",
		Existing:         true,
		IniChanges:       []inifile.Change{{Edit: inifile.Edit{Section: "Parameters", Key: "NumberOfBuffers", Value: "354334"}, Old: "10000"}},
		IniError:         errors.New("section [Database] not found"),
		Ready:            true,
	}
	res := NewLaunch(d)
	require.NotNil(t, res.Launch)
	assert.Equal(t, "http://localhost:8890/conductor", res.Launch.ConductorURL)
	assert.Equal(t, []string{"/srv/rdf:/data"}, res.Launch.Mounts)
	assert.Len(t, res.Launch.IniChanges, 1)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Database")

	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, res))
	assert.Contains(t, buf.String(), "isql localhost:1111 dba <password>")
}

func TestNewReindexAndDump(t *testing.T) {
	rr := &fulltext.Result{
		Steps: []fulltext.StepResult{
			{Name: "drop", Optional: true, Done: true, Error: "no table"},
			{Name: "refill", Done: true},
		},
		RestartRequired: true,
	}
	res := NewReindex(rr)
	assert.True(t, res.OK)
	assert.Equal(t, []string{fulltext.RestartNotice}, res.Warnings)

	rr.Steps[1].Done = false
	assert.False(t, NewReindex(rr).OK)

	dres := NewDump(&dump.Result{OutputDir: "/dumps", Installed: true, Duration: 1500 * time.Millisecond}, dump.Options{Compress: true})
	assert.Equal(t, "output000001.nq.gz", dres.Dump.FirstFile)
	assert.Equal(t, "1.5s", dres.Dump.Duration)
}

func TestNewTuning(t *testing.T) {
	p := tuner.Calculate(4*types.GiB, 100*types.GiB, tuner.Overrides{})
	res := NewTuning(p, &tuner.SystemResources{CPUCores: 10}, nil)
	require.NotNil(t, res.Tuning)
	assert.Equal(t, "4g", res.Tuning.Memory)
	assert.Equal(t, int64(354334), res.Tuning.NumberOfBuffers)
	assert.Equal(t, int64(265750), res.Tuning.MaxDirtyBuffers)
	assert.Equal(t, int64(3276800), res.Tuning.MaxCheckpointRemap)
	assert.Equal(t, 4, res.Tuning.SuggestedWorkers)

	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, res))
	assert.True(t, strings.Contains(buf.String(), "NumberOfBuffers"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{250 * time.Millisecond, "250ms"},
		{12500 * time.Millisecond, "12.5s"},
		{125 * time.Second, "2m 5s"},
		{3*time.Hour + 4*time.Minute, "3h 4m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
