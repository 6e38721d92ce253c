package output

import (
	"bytes"
)

// PathsFormatter writes the failed file paths of a load, one per line,
// so they can be fed back into a retry.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	if r.Load == nil {
		return nil
	}
	for _, fl := range r.Load.Failures {
		w.WriteString(fl.Path)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

// Ensure PathsFormatter implements Formatter.
var _ Formatter = (*PathsFormatter)(nil)
