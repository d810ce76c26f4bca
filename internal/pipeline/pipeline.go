// Package pipeline runs the download-and-package cycle for a chapter or a
// range of chapters of a series.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/italolelis/manga_downloader/internal/chapters"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/notifier"
	"github.com/italolelis/manga_downloader/internal/packaging"
	"github.com/italolelis/manga_downloader/internal/slug"
	"github.com/italolelis/manga_downloader/internal/source"
	"github.com/italolelis/manga_downloader/internal/storage"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// DefaultPoolSize is used when Options.PoolSize is zero.
const DefaultPoolSize = 4

// Source finds chapters and their pages on one site.
type Source interface {
	Resolve(rawURL string) (source.Target, error)
	Manifest(ctx context.Context, series source.Target) ([]chapters.Ref, error)
	Pages(ctx context.Context, ref chapters.Ref) (*source.Chapter, error)
}

// Options configures one run.
type Options struct {
	URL         string
	DownloadDir string
	Format      packaging.Format
	Range       chapters.Range
	Sort        chapters.Sort
	KeepFiles   bool
	Delay       time.Duration // pause between chapters of a series
	PoolSize    int
}

// Config holds the collaborators of a Pipeline. History, Notifier and
// Telemetry are optional.
type Config struct {
	Source     Source
	Downloader *downloader.Downloader
	Packager   *packaging.Packager
	History    storage.ChapterRepository
	Notifier   notifier.Notifier
	Telemetry  *telemetry.Telemetry
}

type Pipeline struct {
	source     Source
	downloader *downloader.Downloader
	packager   *packaging.Packager
	history    storage.ChapterRepository
	notifier   notifier.Notifier
	telemetry  *telemetry.Telemetry
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		source:     cfg.Source,
		downloader: cfg.Downloader,
		packager:   cfg.Packager,
		history:    cfg.History,
		notifier:   cfg.Notifier,
		telemetry:  cfg.Telemetry,
	}
}

// ChapterDir returns the working directory of one chapter.
func ChapterDir(downloadDir, series, number string) string {
	return filepath.Join(downloadDir, slug.Dir(series), slug.Dir("c"+number))
}

// Run downloads and packages the chapter or series opts.URL points at.
// It returns ctx.Err() when cancelled and *ChapterFailuresError when any
// chapter could not be completed.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	logger := logctx.LoggerFromContext(ctx)

	if opts.PoolSize == 0 {
		opts.PoolSize = DefaultPoolSize
	}

	if opts.Range == (chapters.Range{}) {
		opts.Range = chapters.AllChapters
	}

	target, err := p.source.Resolve(opts.URL)
	if err != nil {
		return err
	}

	logger.Info("Detected manga name", "series", target.Series, "kind", target.Kind.String())

	switch target.Kind {
	case source.KindChapter:
		if err := p.runChapter(ctx, target.Series, target.Chapter, opts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return &ChapterFailuresError{Failures: []ChapterFailure{{Chapter: target.Chapter.Number, Err: err}}}
		}

		return nil
	case source.KindSeries:
		return p.runSeries(ctx, target, opts)
	default:
		return fmt.Errorf("unknown target kind %d", target.Kind)
	}
}

func (p *Pipeline) runSeries(ctx context.Context, series source.Target, opts Options) error {
	logger := logctx.LoggerFromContext(ctx)

	manifest, err := p.source.Manifest(ctx, series)
	if err != nil {
		return fmt.Errorf("failed to read chapter list: %w", err)
	}

	selected := chapters.Resolve(manifest, opts.Range, opts.Sort)

	logger.Info("resolved chapters",
		"series", series.Series,
		"available", len(manifest),
		"selected", len(selected),
		"range", opts.Range.String(),
		"sort", opts.Sort.String())

	if len(selected) == 0 {
		logger.Warn("no chapters to download", "series", series.Series)

		return nil
	}

	var failures []ChapterFailure

	started := false

	for _, ref := range selected {
		if !ref.IsNumbered() {
			logger.Info("Skipping chapter", "chapter", ref.Number, "volume", ref.Volume)

			continue
		}

		if started && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		started = true

		logger.Info("Processing chapter", "chapter", ref.Number, "volume", ref.Volume)

		if err := p.runChapter(ctx, series.Series, ref, opts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			failures = append(failures, ChapterFailure{Chapter: ref.Number, Err: err})
		}
	}

	if len(failures) > 0 {
		return &ChapterFailuresError{Failures: failures}
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
