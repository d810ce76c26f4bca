package sqlite

import (
	"context"
	"time"

	"github.com/italolelis/manga_downloader/internal/storage"
)

// TrackChapter inserts the chapter, or resets an existing record to downloading.
func (r *ChapterRepository) TrackChapter(ctx context.Context, series, chapter, url string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chapters (series, chapter, url, status, updated_at)
		VALUES (?, ?, ?, 'downloading', ?)
		ON CONFLICT(series, chapter) DO UPDATE SET
			url = excluded.url,
			status = 'downloading',
			updated_at = excluded.updated_at
	`, series, chapter, url, time.Now().Format(time.RFC3339))

	return err
}

// UpdateChapterStatus stores the outcome of a chapter run.
func (r *ChapterRepository) UpdateChapterStatus(ctx context.Context, rec storage.ChapterRecord) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE chapters
		SET status = ?, artifact_path = ?, pages = ?, failed_pages = ?, updated_at = ?
		WHERE series = ? AND chapter = ?
	`, rec.Status, rec.ArtifactPath, rec.Pages, rec.FailedPages, time.Now().Format(time.RFC3339), rec.Series, rec.Chapter)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
