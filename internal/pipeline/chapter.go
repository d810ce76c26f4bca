package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/italolelis/manga_downloader/internal/chapters"
	"github.com/italolelis/manga_downloader/internal/cleanup"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/packaging"
	"github.com/italolelis/manga_downloader/internal/storage"
)

// runChapter downloads one chapter and packages it. Page failures are
// reported but only fail the chapter when packaging cannot proceed.
func (p *Pipeline) runChapter(ctx context.Context, series string, ref chapters.Ref, opts Options) error {
	ctx = logctx.WithAttrs(ctx, slog.String("series", series), slog.String("chapter", ref.Number))
	logger := logctx.LoggerFromContext(ctx)

	if path, ok := p.packaged(ctx, series, ref.Number); ok {
		logger.Info("chapter already packaged, skipping", "artifact", path)

		return nil
	}

	rec := storage.ChapterRecord{Series: series, Chapter: ref.Number, URL: ref.URL}

	p.track(ctx, rec)

	err := p.telemetry.InstrumentChapter(ctx, func(ctx context.Context) error {
		dir := ChapterDir(opts.DownloadDir, series, ref.Number)

		chapter, err := p.source.Pages(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to list pages: %w", err)
		}

		if err := os.MkdirAll(dir, 0755); err != nil {
			return &downloader.FilesystemError{Op: "mkdir", Path: dir, Err: err}
		}

		if _, err := cleanup.RemoveStaleParts(ctx, dir, downloader.IsPartial); err != nil {
			logger.Warn("failed to remove stale partial files", "dir", dir, "err", err)
		}

		logger.Debug("Downloading chapter", "volume", ref.Volume, "dir", dir, "pages", len(chapter.Items))

		report, err := p.downloader.RunPool(ctx, fmt.Sprintf("%s [%s]", series, ref.Number), chapter.Items, downloader.Request{
			TargetDir: dir,
			Referer:   chapter.Referer,
		}, opts.PoolSize)
		if err != nil {
			return err
		}

		rec.Pages = report.Total
		rec.FailedPages = len(report.Failed())

		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := p.packager.Package(ctx, packaging.Request{
			SourceDir:     dir,
			Format:        opts.Format,
			SeriesName:    series,
			ChapterNumber: ref.Number,
			KeepFiles:     opts.KeepFiles,
		})
		if err != nil {
			return err
		}

		rec.ArtifactPath = result.ArtifactPath

		return nil
	})

	if err != nil {
		rec.Status = storage.StatusFailed

		if !errors.Is(err, context.Canceled) {
			logger.Error("chapter failed", "err", err)
			p.notify(ctx, fmt.Sprintf("❌ Download failed for %s chapter %s: %v", series, ref.Number, err))
		}
	} else {
		rec.Status = storage.StatusCompleted

		logger.Info("chapter finished", "pages", rec.Pages, "failed_pages", rec.FailedPages, "artifact", rec.ArtifactPath)
		p.notify(ctx, fmt.Sprintf("✅ Download finished for %s chapter %s", series, ref.Number))
	}

	p.finish(ctx, rec)

	return err
}

// packaged reports whether the history holds a completed run of the chapter
// whose artifact is still on disk.
func (p *Pipeline) packaged(ctx context.Context, series, chapter string) (string, bool) {
	if p.history == nil {
		return "", false
	}

	rec, err := p.history.GetChapter(ctx, series, chapter)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logctx.LoggerFromContext(ctx).Warn("failed to read chapter history", "err", err)
		}

		return "", false
	}

	if rec.Status != storage.StatusCompleted || rec.ArtifactPath == "" {
		return "", false
	}

	if _, err := os.Stat(rec.ArtifactPath); err != nil {
		return "", false
	}

	return rec.ArtifactPath, true
}

func (p *Pipeline) track(ctx context.Context, rec storage.ChapterRecord) {
	if p.history == nil {
		return
	}

	if err := p.history.TrackChapter(ctx, rec.Series, rec.Chapter, rec.URL); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to track chapter", "err", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, rec storage.ChapterRecord) {
	if p.history == nil {
		return
	}

	// The run context may already be cancelled; the final state is still recorded.
	if err := p.history.UpdateChapterStatus(context.WithoutCancel(ctx), rec); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to update chapter status", "status", rec.Status, "err", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, content string) {
	if p.notifier == nil {
		return
	}

	if err := p.notifier.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
		p.telemetry.RecordNotificationFailure()
	}
}
