//go:build stave

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
)

// Default target when running `stave` with no arguments.
var Default = Build

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b":  Build,
	"t":  Test,
	"it": Integration,
	"l":  Lint,
	"i":  Install,
}

const (
	binaryName   = "virtutil"
	mainPkg      = "./cmd/virtutil"
	binDir       = "bin"
	coverProfile = "coverage.out"
)

// All lints, runs the unit tests and builds.
func All() error {
	st.Deps(Lint, Test)
	st.Deps(Build)
	return nil
}

// Build compiles bin/virtutil with version information.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}
	return sh.RunV("go", "build", "-trimpath", "-ldflags", buildLdflags(), "-o", filepath.Join(binDir, binaryName), mainPkg)
}

// Install installs virtutil into GOBIN with version information.
func Install() error {
	return sh.RunV("go", "install", "-trimpath", "-ldflags", buildLdflags(), mainPkg)
}

// Test runs the unit tests with race detection and writes coverage.out.
func Test() error {
	return sh.RunV("go", "test", "-race", "-coverprofile="+coverProfile, "./...")
}

// Integration runs the tests that start a Virtuoso container.
func Integration() error {
	if err := sh.Run("docker", "info"); err != nil {
		return fmt.Errorf("integration tests need a running Docker daemon: %w", err)
	}
	return sh.RunV("go", "test", "-tags", "integration", "-count=1", "-timeout", "10m", "./pkg/virtutil/loader/...")
}

// Lint runs go vet over both build tag sets, then golangci-lint when it is
// installed.
func Lint() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	if err := sh.RunV("go", "vet", "-tags", "integration", "./pkg/virtutil/loader/..."); err != nil {
		return err
	}
	if _, err := sh.Output("golangci-lint", "version"); err != nil {
		if st.Verbose() {
			fmt.Println("golangci-lint not installed, skipping")
		}
		return nil
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Fmt fails when any file is not gofmt-formatted.
func Fmt() error {
	out, err := sh.Output("gofmt", "-l", "cmd", "pkg", "stavefile.go")
	if err != nil {
		return fmt.Errorf("running gofmt: %w", err)
	}
	if out = strings.TrimSpace(out); out != "" {
		return fmt.Errorf("files need gofmt:\n%s", out)
	}
	return nil
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// Clean removes build and coverage output.
func Clean() error {
	if err := sh.Rm(binDir); err != nil {
		return err
	}
	return sh.Rm(coverProfile)
}

// buildLdflags injects version, commit and date into package main.
func buildLdflags() string {
	version := "dev"
	commit := "unknown"
	date := time.Now().UTC().Format(time.RFC3339)

	if v, err := sh.Output("git", "describe", "--tags", "--always", "--dirty"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}
	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	return fmt.Sprintf("-s -w -X main.version=%s -X main.commit=%s -X main.date=%s", version, commit, date)
}
