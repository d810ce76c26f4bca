package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/italolelis/manga_downloader/internal/logctx"
)

const errorPreviewSize = 5

// Report aggregates the outcomes of one pool run.
type Report struct {
	Label    string
	Total    int
	Outcomes []Outcome // completion order
}

// Failed returns the failed outcomes in completion order.
func (r *Report) Failed() []Outcome {
	var failed []Outcome

	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}

	return failed
}

// Succeeded returns the number of items fetched in this run.
func (r *Report) Succeeded() int {
	return r.count(StatusSucceeded)
}

// Skipped returns the number of items already present on disk.
func (r *Report) Skipped() int {
	return r.count(StatusSkipped)
}

// OK reports whether every item ended up on disk. Skipped counts as success.
func (r *Report) OK() bool {
	return len(r.Outcomes) == r.Total && r.count(StatusFailed) == 0
}

func (r *Report) count(s Status) int {
	n := 0

	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}

	return n
}

// RunPool downloads items with at most poolSize concurrent workers pulling from
// a shared queue, and blocks until every item has produced one outcome.
// Per-item failures are reported, never returned: the error result is only
// set for an *InputError, before any work starts.
func (d *Downloader) RunPool(ctx context.Context, label string, items []Item, req Request, poolSize int) (*Report, error) {
	if err := validateItems(items, poolSize); err != nil {
		return nil, err
	}

	logger := logctx.LoggerFromContext(ctx)

	workers := min(poolSize, len(items))

	queue := make(chan Item, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	report := &Report{
		Label:    label,
		Total:    len(items),
		Outcomes: make([]Outcome, 0, len(items)),
	}

	var mu sync.Mutex

	record := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()

		report.Outcomes = append(report.Outcomes, o)

		if d.reporter != nil {
			d.reporter.Progress(label, len(report.Outcomes), report.Total)
		}
	}

	logger.Debug("starting download pool", "label", label, "items", len(items), "workers", workers)

	var g errgroup.Group

	for range workers {
		g.Go(func() error {
			for item := range queue {
				// Once cancelled, drain without touching the network so every
				// item still gets exactly one outcome.
				if err := ctx.Err(); err != nil {
					record(Outcome{Item: item, Status: StatusFailed, Err: err})

					continue
				}

				record(d.DownloadItem(ctx, item, req))
			}

			return nil
		})
	}

	// Workers never fail: per-item errors are recorded as outcomes.
	g.Wait()

	if failed := report.Failed(); len(failed) > 0 {
		preview := make([]string, 0, errorPreviewSize)
		for _, o := range failed[:min(errorPreviewSize, len(failed))] {
			preview = append(preview, fmt.Sprintf("failed to download %s: %v", o.Item.LocalName, o.Err))
		}

		logger.Error("download errors",
			"label", label,
			"failed", len(failed),
			"total", report.Total,
			"errors", strings.Join(preview, "; "))
		logger.Warn("some downloads failed", "label", label)

		return report, nil
	}

	logger.Info("completed", "label", label, "downloaded", report.Succeeded(), "skipped", report.Skipped())

	return report, nil
}

func validateItems(items []Item, poolSize int) error {
	if len(items) == 0 {
		return &InputError{Reason: "no items to download"}
	}

	if poolSize < 1 {
		return &InputError{Reason: fmt.Sprintf("pool size must be at least 1, got %d", poolSize)}
	}

	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		name := item.LocalName

		if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
			return &InputError{Reason: fmt.Sprintf("invalid local name %q", name)}
		}

		if item.RemoteURL == "" {
			return &InputError{Reason: fmt.Sprintf("missing url for %q", name)}
		}

		if _, dup := seen[name]; dup {
			return &InputError{Reason: fmt.Sprintf("duplicate local name %q", name)}
		}

		seen[name] = struct{}{}
	}

	return nil
}
