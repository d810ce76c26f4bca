package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/manga_downloader/internal/storage"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// InstrumentedChapterRepository wraps ChapterRepository with telemetry.
type InstrumentedChapterRepository struct {
	repo      *ChapterRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedChapterRepository creates a new instrumented chapter repository.
func NewInstrumentedChapterRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedChapterRepository {
	return &InstrumentedChapterRepository{
		repo:      NewChapterRepository(dbConn),
		telemetry: tel,
	}
}

// GetChapters retrieves a series' history with telemetry.
func (r *InstrumentedChapterRepository) GetChapters(ctx context.Context, series string) ([]storage.ChapterRecord, error) {
	var result []storage.ChapterRecord

	err := r.telemetry.InstrumentHistoryOperation(ctx, "get_chapters", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetChapters(ctx, series)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetChapter retrieves one chapter with telemetry.
func (r *InstrumentedChapterRepository) GetChapter(ctx context.Context, series, chapter string) (storage.ChapterRecord, error) {
	var result storage.ChapterRecord

	err := r.telemetry.InstrumentHistoryOperation(ctx, "get_chapter", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetChapter(ctx, series, chapter)

		return err
	})

	return result, err
}

// TrackChapter records a chapter start with telemetry.
func (r *InstrumentedChapterRepository) TrackChapter(ctx context.Context, series, chapter, url string) error {
	return r.telemetry.InstrumentHistoryOperation(ctx, "track_chapter", func(ctx context.Context) error {
		return r.repo.TrackChapter(ctx, series, chapter, url)
	})
}

// UpdateChapterStatus records a chapter outcome with telemetry.
func (r *InstrumentedChapterRepository) UpdateChapterStatus(ctx context.Context, rec storage.ChapterRecord) error {
	return r.telemetry.InstrumentHistoryOperation(ctx, "update_chapter_status", func(ctx context.Context) error {
		return r.repo.UpdateChapterStatus(ctx, rec)
	})
}
