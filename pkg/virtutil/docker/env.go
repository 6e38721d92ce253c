package docker

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/virtutil/virtutil/pkg/virtutil/inifile"
	"github.com/virtutil/virtutil/pkg/virtutil/tuner"
)

// The openlink/virtuoso-opensource image copies VIRT_<Section>_<Key>
// variables into virtuoso.ini on start.
const (
	envPassword = "DBA_PASSWORD"
	envPrefix   = "VIRT"
)

// Engine files that mark an initialised data directory.
var stateFiles = []string{"virtuoso.db", "virtuoso.ini"}

// IniName is the engine config file inside the data directory.
const IniName = "virtuoso.ini"

// defaultDirsAllowed is the image's stock DirsAllowed list.
var defaultDirsAllowed = []string{".", "../vad", "/usr/share/proj"}

// HasEngineState reports whether dataDir already holds engine files.
func HasEngineState(dataDir string) bool {
	for _, name := range stateFiles {
		if _, err := os.Stat(filepath.Join(dataDir, name)); err == nil {
			return true
		}
	}
	return false
}

// DirsAllowed returns the stock list plus the container data directory and
// every mount target, without duplicates.
func DirsAllowed(containerDataDir string, mounts []Mount) string {
	seen := map[string]bool{}
	var dirs []string
	add := func(d string) {
		if d != "" && !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	for _, d := range defaultDirsAllowed {
		add(d)
	}
	add(containerDataDir)
	for _, m := range mounts {
		add(m.Container)
	}
	return strings.Join(dirs, ", ")
}

// setting is one engine parameter, addressable both as an env var and as
// an INI line.
type setting struct {
	section string
	key     string
	value   string
}

func (s setting) envName() string {
	return envPrefix + "_" + s.section + "_" + s.key
}

func settings(p tuner.Parameters, dirsAllowed string, maxRows int) []setting {
	var out []setting
	if p.NumberOfBuffers > 0 {
		out = append(out, setting{"Parameters", "NumberOfBuffers", strconv.FormatInt(p.NumberOfBuffers, 10)})
	}
	if p.MaxDirtyBuffers > 0 {
		out = append(out, setting{"Parameters", "MaxDirtyBuffers", strconv.FormatInt(p.MaxDirtyBuffers, 10)})
	}
	if dirsAllowed != "" {
		out = append(out, setting{"Parameters", "DirsAllowed", dirsAllowed})
	}
	if maxRows > 0 {
		out = append(out, setting{"Parameters", "ResultSetMaxRows", strconv.Itoa(maxRows)})
	}
	if p.HasRemap() {
		remap := strconv.FormatInt(p.MaxCheckpointRemap, 10)
		out = append(out,
			setting{"Database", "MaxCheckpointRemap", remap},
			setting{"TempDatabase", "MaxCheckpointRemap", remap},
		)
	}
	return out
}

// Env returns the -e assignments for a fresh deployment, sorted by name.
func Env(password string, p tuner.Parameters, dirsAllowed string, maxRows int) []string {
	var env []string
	if password != "" {
		env = append(env, envPassword+"="+password)
	}
	for _, s := range settings(p, dirsAllowed, maxRows) {
		env = append(env, s.envName()+"="+s.value)
	}
	sort.Strings(env)
	return env
}

// IniEdits returns the same settings as Env, as virtuoso.ini edits.
func IniEdits(p tuner.Parameters, dirsAllowed string, maxRows int) []inifile.Edit {
	var edits []inifile.Edit
	for _, s := range settings(p, dirsAllowed, maxRows) {
		edits = append(edits, inifile.Edit{Section: s.section, Key: s.key, Value: s.value})
	}
	return edits
}
