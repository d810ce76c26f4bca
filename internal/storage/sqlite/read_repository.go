package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/manga_downloader/internal/storage"
)

const selectChapter = `SELECT series, chapter, url, status, artifact_path, pages, failed_pages, updated_at FROM chapters`

// ChapterRepository implements storage.ChapterRepository on SQLite.
type ChapterRepository struct {
	db *sql.DB
}

func NewChapterRepository(dbConn *sql.DB) *ChapterRepository {
	return &ChapterRepository{db: dbConn}
}

// GetChapters returns the history of a series ordered by chapter.
func (r *ChapterRepository) GetChapters(ctx context.Context, series string) ([]storage.ChapterRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectChapter+` WHERE series = ? ORDER BY chapter`, series)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []storage.ChapterRecord

	for rows.Next() {
		record, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}

		chapters = append(chapters, record)
	}

	return chapters, rows.Err()
}

// GetChapter returns one chapter's record or storage.ErrNotFound.
func (r *ChapterRepository) GetChapter(ctx context.Context, series, chapter string) (storage.ChapterRecord, error) {
	row := r.db.QueryRowContext(ctx, selectChapter+` WHERE series = ? AND chapter = ?`, series, chapter)

	record, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ChapterRecord{}, storage.ErrNotFound
	}

	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChapter(s scanner) (storage.ChapterRecord, error) {
	var (
		record   storage.ChapterRecord
		url      sql.NullString
		artifact sql.NullString
		updated  sql.NullString
	)

	err := s.Scan(&record.Series, &record.Chapter, &url, &record.Status, &artifact, &record.Pages, &record.FailedPages, &updated)
	if err != nil {
		return storage.ChapterRecord{}, err
	}

	record.URL = url.String
	record.ArtifactPath = artifact.String
	record.UpdatedAt = updated.String

	return record, nil
}
