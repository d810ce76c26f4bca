// Package packaging packs a chapter's downloaded images into a single artifact.
package packaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/manga_downloader/internal/cleanup"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/slug"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Request describes one chapter to package.
type Request struct {
	SourceDir     string
	Format        Format
	SeriesName    string
	ChapterNumber string
	KeepFiles     bool
}

// Result of a packaging run.
type Result struct {
	ArtifactPath  string // empty when no artifact was produced
	FilesRetained bool
}

// Packager writes chapter artifacts.
type Packager struct {
	telemetry *telemetry.Telemetry
}

// NewPackager creates a new packager. tel may be nil.
func NewPackager(tel *telemetry.Telemetry) *Packager {
	return &Packager{telemetry: tel}
}

// ArtifactPath returns where the artifact for req is written: next to the
// chapter directory, named <series>_c<chapter>.<format>.
func ArtifactPath(req Request) string {
	name := slug.Name(req.SeriesName) + "_c" + req.ChapterNumber + req.Format.extension()

	return filepath.Join(filepath.Dir(req.SourceDir), name)
}

// Package packs the images of req.SourceDir. On success the source directory
// is removed unless KeepFiles is set or the format is none. On failure the
// source files are always kept.
func (p *Packager) Package(ctx context.Context, req Request) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	var write func(images []string, w io.Writer) error

	switch req.Format {
	case FormatNone:
		return &Result{FilesRetained: true}, nil
	case FormatPDF:
		write = writePDF
	case FormatCBZ:
		write = writeCBZ
	default:
		return &Result{FilesRetained: true}, &FormatError{Format: string(req.Format)}
	}

	artifact := ArtifactPath(req)

	err := p.telemetry.InstrumentPackaging(ctx, string(req.Format), func(ctx context.Context) error {
		images, err := CollectImages(req.SourceDir)
		if err != nil {
			return err
		}

		if _, err := os.Stat(artifact); err == nil {
			logger.Info("artifact exists, skipping", "path", artifact)

			return nil
		}

		return writeArtifact(ctx, artifact, images, write)
	})
	if err != nil {
		logger.Error("packaging failed, keeping downloaded files", "dir", req.SourceDir, "err", err)

		return &Result{FilesRetained: true}, err
	}

	result := &Result{ArtifactPath: artifact, FilesRetained: true}

	if !req.KeepFiles {
		result.FilesRetained = cleanup.RemoveDir(ctx, req.SourceDir) != nil
	}

	return result, nil
}

// CollectImages lists the image files of dir sorted by file name.
func CollectImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &PackagingError{SourceDir: dir, Reason: "cannot list images", Err: err}
	}

	var images []string

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}

		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			images = append(images, e.Name())
		}
	}

	if len(images) == 0 {
		return nil, &PackagingError{SourceDir: dir, Reason: "no images found"}
	}

	sort.Strings(images)

	paths := make([]string, len(images))
	for i, name := range images {
		paths[i] = filepath.Join(dir, name)
	}

	return paths, nil
}

// writeArtifact writes into a hidden temp file next to path and renames it
// into place, so a half-written artifact is never taken for a finished one.
func writeArtifact(ctx context.Context, path string, images []string, write func([]string, io.Writer) error) error {
	logger := logctx.LoggerFromContext(ctx)
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".part-*")
	if err != nil {
		return &PackagingError{SourceDir: dir, Reason: "cannot create artifact", Err: err}
	}

	tmpName := tmp.Name()

	writeErr := write(images, tmp)
	closeErr := tmp.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmpName)

		var pkgErr *PackagingError
		if errors.As(err, &pkgErr) {
			return err
		}

		return &PackagingError{SourceDir: dir, Reason: "cannot write artifact", Err: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return &PackagingError{SourceDir: dir, Reason: "cannot rename artifact", Err: err}
	}

	size := "unknown"
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}

	logger.Info("artifact written", "path", path, "pages", len(images), "size", size)

	return nil
}

func imageError(path string, err error) error {
	return &PackagingError{SourceDir: filepath.Dir(path), Reason: fmt.Sprintf("cannot read %s", filepath.Base(path)), Err: err}
}
