package storage

import (
	"context"
	"errors"
)

// Chapter statuses recorded in the history.
const (
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// ErrNotFound is returned when a chapter has no history record.
var ErrNotFound = errors.New("chapter not found")

// ChapterRecord represents the history of one downloaded chapter.
type ChapterRecord struct {
	Series       string
	Chapter      string
	URL          string
	Status       string
	ArtifactPath string
	Pages        int
	FailedPages  int
	UpdatedAt    string
}

type ChapterReadRepository interface {
	GetChapters(ctx context.Context, series string) ([]ChapterRecord, error)
	GetChapter(ctx context.Context, series, chapter string) (ChapterRecord, error)
}

type ChapterWriteRepository interface {
	// TrackChapter inserts or resets a chapter to StatusDownloading.
	TrackChapter(ctx context.Context, series, chapter, url string) error
	// UpdateChapterStatus stores the final state of a chapter run.
	UpdateChapterStatus(ctx context.Context, rec ChapterRecord) error
}

// ChapterRepository is the history store used by the pipeline.
type ChapterRepository interface {
	ChapterReadRepository
	ChapterWriteRepository
}
