package isql

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies the outcome of one isql invocation.
type Kind int

const (
	// KindNone means the call succeeded.
	KindNone Kind = iota
	// KindLaunch means the isql (or docker) binary could not be started.
	KindLaunch
	// KindExit is a non-zero exit with no recognised error text.
	KindExit
	// KindConnection means isql could not reach the server.
	KindConnection
	// KindAccessDenied covers bad logins and DirsAllowed violations.
	KindAccessDenied
	// KindFileAccess means the server could not list or open files.
	KindFileAccess
	// KindSQL is a statement error reported by the server.
	KindSQL
)

var kindNames = [...]string{"none", "launch", "exit", "connection", "access-denied", "file-access", "sql"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrLaunch       = errors.New("isql could not be started")
	ErrExit         = errors.New("isql exited with an error")
	ErrConnection   = errors.New("cannot connect to the server")
	ErrAccessDenied = errors.New("access denied")
	ErrFileAccess   = errors.New("server cannot access files")
	ErrSQL          = errors.New("SQL error")
)

// Err returns the sentinel for k, or nil for KindNone.
func (k Kind) Err() error {
	switch k {
	case KindLaunch:
		return ErrLaunch
	case KindExit:
		return ErrExit
	case KindConnection:
		return ErrConnection
	case KindAccessDenied:
		return ErrAccessDenied
	case KindFileAccess:
		return ErrFileAccess
	case KindSQL:
		return ErrSQL
	default:
		return nil
	}
}

// Result is the tagged outcome of one isql invocation.
type Result struct {
	ExitCode int
	Kind     Kind
	Stdout   string
	Stderr   string
	Duration time.Duration

	// Cause is set for launch failures and context cancellation.
	Cause error
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Kind == KindNone }

// Message returns the most relevant diagnostic line: the first recognised
// error line, else the last non-empty stderr line, else the cause.
func (r Result) Message() string {
	for _, stream := range []string{r.Stdout, r.Stderr} {
		for _, line := range strings.Split(stream, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, ok := matchLine(line); ok {
				return line
			}
		}
	}
	lines := strings.Split(strings.TrimSpace(r.Stderr), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	if r.Cause != nil {
		return r.Cause.Error()
	}
	if r.ExitCode != 0 {
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return ""
}

// Err converts a failed Result to an *Error, or returns nil when OK.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Kind: r.Kind, ExitCode: r.ExitCode, Detail: r.Message(), cause: r.Cause}
}

// Error is a failed isql invocation.
type Error struct {
	Kind     Kind
	ExitCode int
	Detail   string
	cause    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Err().Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Err(), e.Detail)
}

// Unwrap exposes both the Kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.Err()}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// pattern maps a substring of isql output to a Kind. Order matters: the
// first match wins, so connection and permission problems are found
// before the generic "*** Error" prefix every server error carries.
type pattern struct {
	text string
	kind Kind
	// code marks SQLSTATE and server message codes, which only count on
	// an error line.
	code bool
}

var patterns = []pattern{
	{text: "Connect failed", kind: KindConnection},
	{text: "Connection refused", kind: KindConnection},
	{text: "08001", kind: KindConnection, code: true},
	{text: "08S01", kind: KindConnection, code: true},
	{text: "Bad login", kind: KindAccessDenied},
	{text: "28000", kind: KindAccessDenied, code: true},
	{text: "Security violation", kind: KindAccessDenied},
	{text: "FA003", kind: KindAccessDenied, code: true},
	{text: "Unable to list files", kind: KindFileAccess},
	{text: "FA020", kind: KindFileAccess, code: true},
	{text: "FA005", kind: KindFileAccess, code: true},
	{text: "*** Error", kind: KindSQL},
}

func isErrorLine(line string) bool {
	return strings.Contains(line, "*** Error") || strings.Contains(line, "SQLState")
}

// rankLine returns the index of the first pattern matching line, or
// len(patterns). Tagged query rows are data and never match.
func rankLine(line string) int {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, RowPrefix) {
		return len(patterns)
	}
	errLine := isErrorLine(line)
	for i, p := range patterns {
		if p.code && !errLine {
			continue
		}
		if strings.Contains(line, p.text) {
			return i
		}
	}
	return len(patterns)
}

func matchLine(line string) (Kind, bool) {
	if i := rankLine(line); i < len(patterns) {
		return patterns[i].kind, true
	}
	return KindNone, false
}

// Classify derives the Kind for a finished process. Recognised error text
// wins over the exit code because isql exits 0 after a failed statement in
// some modes.
func Classify(exitCode int, stdout, stderr string) Kind {
	rank := len(patterns)
	for _, stream := range []string{stdout, stderr} {
		for _, line := range strings.Split(stream, "\n") {
			rank = min(rank, rankLine(line))
		}
	}
	if rank < len(patterns) {
		return patterns[rank].kind
	}
	if exitCode != 0 {
		return KindExit
	}
	return KindNone
}
