package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/manga_downloader/internal/chapters"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/fetch"
	"github.com/italolelis/manga_downloader/internal/packaging"
	"github.com/italolelis/manga_downloader/internal/pipeline"
	"github.com/italolelis/manga_downloader/internal/source"
	"github.com/italolelis/manga_downloader/internal/storage"
)

type fakeSource struct {
	target   source.Target
	manifest []chapters.Ref
	pages    map[string]int
	failing  map[string]error
	imageURL string
	onPages  func(ref chapters.Ref)

	mu        sync.Mutex
	requested []string
}

func (f *fakeSource) Resolve(rawURL string) (source.Target, error) {
	if rawURL != f.target.URL {
		return source.Target{}, &source.UnsupportedURLError{URL: rawURL, Reason: "unknown"}
	}

	return f.target, nil
}

func (f *fakeSource) Manifest(ctx context.Context, series source.Target) ([]chapters.Ref, error) {
	return f.manifest, nil
}

func (f *fakeSource) Pages(ctx context.Context, ref chapters.Ref) (*source.Chapter, error) {
	f.mu.Lock()
	f.requested = append(f.requested, ref.Number)
	f.mu.Unlock()

	if f.onPages != nil {
		f.onPages(ref)
	}

	if err := f.failing[ref.Number]; err != nil {
		return nil, err
	}

	n := f.pages[ref.Number]
	if n == 0 {
		n = 3
	}

	items := make([]downloader.Item, 0, n)
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("%02d.jpg", i)
		items = append(items, downloader.Item{RemoteURL: f.imageURL + "/" + ref.Number + "/" + name, LocalName: name})
	}

	return &source.Chapter{Items: items, Referer: ref.URL}, nil
}

func (f *fakeSource) chaptersRequested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.requested...)
}

type memoryHistory struct {
	mu      sync.Mutex
	records map[string]storage.ChapterRecord
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{records: map[string]storage.ChapterRecord{}}
}

func (h *memoryHistory) GetChapters(ctx context.Context, series string) ([]storage.ChapterRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []storage.ChapterRecord
	for _, r := range h.records {
		if r.Series == series {
			out = append(out, r)
		}
	}

	return out, nil
}

func (h *memoryHistory) GetChapter(ctx context.Context, series, chapter string) (storage.ChapterRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.records[series+"/"+chapter]
	if !ok {
		return storage.ChapterRecord{}, storage.ErrNotFound
	}

	return r, nil
}

func (h *memoryHistory) TrackChapter(ctx context.Context, series, chapter, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[series+"/"+chapter] = storage.ChapterRecord{Series: series, Chapter: chapter, URL: url, Status: storage.StatusDownloading}

	return nil
}

func (h *memoryHistory) UpdateChapterStatus(ctx context.Context, rec storage.ChapterRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[rec.Series+"/"+rec.Chapter] = rec

	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, content)

	return nil
}

// imageServer serves fake page bytes; paths under /missing/ return 404.
func imageServer(t *testing.T) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "image:%s", r.URL.Path)
	}))
	t.Cleanup(ts.Close)

	return ts
}

func newPipeline(src pipeline.Source, history storage.ChapterRepository, notif *recordingNotifier) *pipeline.Pipeline {
	cfg := pipeline.Config{
		Source: src,
		Downloader: downloader.NewDownloader(fetch.NewClient(fetch.Options{}), downloader.Options{
			Retry: downloader.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		}),
		Packager: packaging.NewPackager(nil),
		History:  history,
	}

	if notif != nil {
		cfg.Notifier = notif
	}

	return pipeline.New(cfg)
}

func seriesManifest(numbers ...string) []chapters.Ref {
	refs := make([]chapters.Ref, 0, len(numbers))
	for _, n := range numbers {
		refs = append(refs, chapters.Ref{Number: n, URL: "https://site/manga/test/c" + n + "/1.html"})
	}

	return refs
}

func TestChapterDir(t *testing.T) {
	assert.Equal(t, filepath.Join("dl", "a-b", "c001"), pipeline.ChapterDir("dl", "a:b", "001"))
	assert.Equal(t, filepath.Join("dl", "hidden", "c1"), pipeline.ChapterDir("dl", ".hidden", "1"))
}

func TestRun_SingleChapterCBZ(t *testing.T) {
	images := imageServer(t)
	dir := t.TempDir()

	src := &fakeSource{
		target: source.Target{
			Kind:    source.KindChapter,
			Series:  "slam_dunk",
			URL:     "https://site/manga/slam_dunk/v01/c001/1.html",
			Chapter: chapters.Ref{Volume: "v01", Number: "001", URL: "https://site/manga/slam_dunk/v01/c001/1.html"},
		},
		imageURL: images.URL,
	}

	history := newMemoryHistory()
	notif := &recordingNotifier{}

	err := newPipeline(src, history, notif).Run(context.Background(), pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: dir,
		Format:      packaging.FormatCBZ,
		PoolSize:    2,
	})
	require.NoError(t, err)

	artifact := filepath.Join(dir, "slam_dunk", "slam_dunk_c001.cbz")
	_, err = os.Stat(artifact)
	require.NoError(t, err)

	_, err = os.Stat(pipeline.ChapterDir(dir, "slam_dunk", "001"))
	assert.True(t, os.IsNotExist(err), "images removed after packaging")

	rec, err := history.GetChapter(context.Background(), "slam_dunk", "001")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Equal(t, artifact, rec.ArtifactPath)
	assert.Equal(t, 3, rec.Pages)

	require.Len(t, notif.messages, 1)
	assert.Contains(t, notif.messages[0], "slam_dunk chapter 001")
}

func TestRun_SeriesRangeOrderAndSkips(t *testing.T) {
	images := imageServer(t)
	dir := t.TempDir()

	src := &fakeSource{
		target:   source.Target{Kind: source.KindSeries, Series: "test", URL: "https://site/manga/test"},
		manifest: seriesManifest("005", "004", "003.5", "003", "002", "001"),
		imageURL: images.URL,
	}

	err := newPipeline(src, nil, nil).Run(context.Background(), pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: dir,
		Format:      packaging.FormatNone,
		Range:       chapters.Range{Start: 2, End: 5},
		Sort:        chapters.Ascending,
		PoolSize:    4,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"002", "003", "004"}, src.chaptersRequested())

	for _, n := range []string{"002", "003", "004"} {
		files, err := os.ReadDir(pipeline.ChapterDir(dir, "test", n))
		require.NoError(t, err, n)
		assert.Len(t, files, 3, n)
	}
}

func TestRun_ChapterFailuresAreCollected(t *testing.T) {
	images := imageServer(t)
	dir := t.TempDir()

	listErr := errors.New("page list unavailable")

	src := &fakeSource{
		target:   source.Target{Kind: source.KindSeries, Series: "test", URL: "https://site/manga/test"},
		manifest: seriesManifest("003", "002", "001"),
		failing:  map[string]error{"002": listErr},
		imageURL: images.URL,
	}

	history := newMemoryHistory()

	err := newPipeline(src, history, nil).Run(context.Background(), pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: dir,
		Format:      packaging.FormatCBZ,
		Range:       chapters.AllChapters,
		Sort:        chapters.Ascending,
	})

	var failures *pipeline.ChapterFailuresError
	require.True(t, errors.As(err, &failures), "got %v", err)
	require.Len(t, failures.Failures, 1)
	assert.Equal(t, "002", failures.Failures[0].Chapter)
	assert.ErrorIs(t, err, listErr)

	assert.Equal(t, []string{"001", "002", "003"}, src.chaptersRequested(), "a failed chapter does not stop the series")

	rec, err := history.GetChapter(context.Background(), "test", "002")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Status)

	for _, n := range []string{"001", "003"} {
		_, err := os.Stat(filepath.Join(dir, "test", "test_c"+n+".cbz"))
		assert.NoError(t, err, n)
	}
}

func TestRun_SkipsChaptersAlreadyPackaged(t *testing.T) {
	images := imageServer(t)
	dir := t.TempDir()

	src := &fakeSource{
		target:   source.Target{Kind: source.KindSeries, Series: "test", URL: "https://site/manga/test"},
		manifest: seriesManifest("003", "002", "001"),
		failing:  map[string]error{"002": errors.New("page list unavailable")},
		imageURL: images.URL,
	}

	history := newMemoryHistory()
	p := newPipeline(src, history, nil)
	opts := pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: dir,
		Format:      packaging.FormatCBZ,
		Sort:        chapters.Ascending,
	}

	require.Error(t, p.Run(context.Background(), opts))
	assert.Equal(t, []string{"001", "002", "003"}, src.chaptersRequested())

	require.NoError(t, os.Remove(filepath.Join(dir, "test", "test_c003.cbz")))
	src.failing = nil

	require.NoError(t, p.Run(context.Background(), opts))
	assert.Equal(t, []string{"001", "002", "003", "002", "003"}, src.chaptersRequested(),
		"only the failed chapter and the one whose artifact is gone run again")

	rec, err := history.GetChapter(context.Background(), "test", "002")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
}

func TestRun_PackagingFailureRetainsFiles(t *testing.T) {
	images := imageServer(t)
	dir := t.TempDir()

	src := &fakeSource{
		target: source.Target{
			Kind:    source.KindChapter,
			Series:  "test",
			URL:     "https://site/manga/test/c001/1.html",
			Chapter: chapters.Ref{Number: "001", URL: "https://site/manga/test/c001/1.html"},
		},
		imageURL: images.URL + "/missing",
	}

	err := newPipeline(src, nil, nil).Run(context.Background(), pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: dir,
		Format:      packaging.FormatPDF,
	})

	var pkgErr *packaging.PackagingError
	require.True(t, errors.As(err, &pkgErr), "got %v", err)

	_, err = os.Stat(pipeline.ChapterDir(dir, "test", "001"))
	assert.NoError(t, err, "chapter directory kept after packaging failure")
}

func TestRun_CancellationStopsBeforeNextChapter(t *testing.T) {
	images := imageServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		target:   source.Target{Kind: source.KindSeries, Series: "test", URL: "https://site/manga/test"},
		manifest: seriesManifest("003", "002", "001"),
		imageURL: images.URL,
		onPages: func(ref chapters.Ref) {
			if ref.Number == "002" {
				cancel()
			}
		},
	}

	err := newPipeline(src, nil, nil).Run(ctx, pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: t.TempDir(),
		Format:      packaging.FormatNone,
		Sort:        chapters.Ascending,
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"001", "002"}, src.chaptersRequested())
}

func TestRun_DelayBetweenChapters(t *testing.T) {
	images := imageServer(t)

	src := &fakeSource{
		target:   source.Target{Kind: source.KindSeries, Series: "test", URL: "https://site/manga/test"},
		manifest: seriesManifest("003", "002", "001"),
		pages:    map[string]int{"001": 1, "002": 1, "003": 1},
		imageURL: images.URL,
	}

	start := time.Now()

	err := newPipeline(src, nil, nil).Run(context.Background(), pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: t.TempDir(),
		Format:      packaging.FormatNone,
		Delay:       30 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, []string{"003", "002", "001"}, src.chaptersRequested(), "descending keeps the feed order")
}

func TestRun_UnsupportedURL(t *testing.T) {
	src := &fakeSource{target: source.Target{URL: "https://site/manga/test"}}

	err := newPipeline(src, nil, nil).Run(context.Background(), pipeline.Options{URL: "https://other/thing"})

	var unsupported *source.UnsupportedURLError
	assert.True(t, errors.As(err, &unsupported))
}

func TestRun_EmptySelection(t *testing.T) {
	src := &fakeSource{
		target:   source.Target{Kind: source.KindSeries, Series: "test", URL: "https://site/manga/test"},
		manifest: seriesManifest("002", "001"),
	}

	err := newPipeline(src, nil, nil).Run(context.Background(), pipeline.Options{
		URL:         src.target.URL,
		DownloadDir: t.TempDir(),
		Range:       chapters.Range{Start: 10, EndAll: true},
	})
	require.NoError(t, err)
	assert.Empty(t, src.chaptersRequested())
}
