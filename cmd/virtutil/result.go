package main

import (
	"bytes"
	"fmt"
	"io"

	crdb "github.com/cockroachdb/errors"

	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
	"github.com/virtutil/virtutil/pkg/virtutil/output"
)

// render writes res in the selected format and records entry in history.
// A failed run returns errReported so Execute does not print it twice.
func render(w io.Writer, res *output.Result, entry *history.Entry, runErr error) error {
	if runErr != nil {
		res.OK = false
		res.Error = runErr.Error()
		res.Hints = crdb.GetAllHints(runErr)
	}

	if entry != nil {
		recordHistory(*entry, runErr)
	}

	formatter, err := output.Get(outputFormat)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, res); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	if runErr != nil || !res.OK {
		return errReported
	}
	return nil
}

// recordHistory stores the run when history is enabled. Failures are
// logged and otherwise ignored.
func recordHistory(e history.Entry, runErr error) {
	if cfg == nil || !cfg.History.Enabled {
		return
	}
	log := logging.Get("history")

	if runErr != nil {
		e.Status = history.StatusFailed
		e.Error = runErr.Error()
	}
	h, err := history.New(cfg.HistoryDir())
	if err != nil {
		log.Warn("history unavailable", "error", err)
		return
	}
	saved, err := h.Record(e)
	if err != nil {
		log.Warn("failed to record history", "error", err)
		return
	}
	log.Debug("recorded run", "id", saved.ID, "operation", saved.Operation)
}
