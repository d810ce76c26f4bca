package downloader

import (
	"context"
	"log/slog"

	"github.com/italolelis/manga_downloader/internal/logctx"
)

// Reporter observes pool progress. Progress is called once per completed item,
// with completed strictly increasing up to total.
type Reporter interface {
	Progress(label string, completed, total int)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(label string, completed, total int)

func (f ReporterFunc) Progress(label string, completed, total int) {
	f(label, completed, total)
}

// LogReporter writes progress lines every Every items and on completion.
type LogReporter struct {
	Logger *slog.Logger
	Every  int
}

// NewLogReporter returns a LogReporter bound to the context's logger.
func NewLogReporter(ctx context.Context, every int) *LogReporter {
	if every <= 0 {
		every = 10
	}

	return &LogReporter{Logger: logctx.LoggerFromContext(ctx), Every: every}
}

func (r *LogReporter) Progress(label string, completed, total int) {
	if completed != total && completed%r.Every != 0 {
		return
	}

	r.Logger.Info("download progress", "label", label, "completed", completed, "total", total)
}
