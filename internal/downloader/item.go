package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"

	"github.com/italolelis/manga_downloader/internal/downloader/progress"
	"github.com/italolelis/manga_downloader/internal/fetch"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

const (
	dirPerm = 0755

	// partialMarker is embedded in temp file names until the rename into place.
	partialMarker = ".part-"

	progressInterval = 1024 * 1024
)

// Item is one remote resource and the file name it is saved under.
type Item struct {
	RemoteURL string
	LocalName string
}

// NewItems pairs urls with names positionally.
func NewItems(urls, names []string) ([]Item, error) {
	if len(urls) == 0 || len(names) == 0 {
		return nil, &InputError{Reason: "no links or file names provided"}
	}

	if len(urls) != len(names) {
		return nil, &InputError{Reason: fmt.Sprintf("got %d links for %d file names", len(urls), len(names))}
	}

	items := make([]Item, len(urls))
	for i := range urls {
		items[i] = Item{RemoteURL: urls[i], LocalName: names[i]}
	}

	return items, nil
}

// Status is the terminal state of one item.
type Status int

const (
	StatusSucceeded Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is produced exactly once per item.
type Outcome struct {
	Item     Item
	Status   Status
	Err      error // set when Status is StatusFailed
	Attempts int
	Bytes    int64
}

// Request carries what every item of one chapter shares.
type Request struct {
	TargetDir string
	Referer   string
	Headers   map[string]string
	Cookies   []*http.Cookie
}

// RetryPolicy bounds per-item retries. The delay before attempt k (k >= 2) is
// BaseDelay * 2^(k-2).
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns 3 attempts starting with a 1s delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.BaseDelay * time.Duration(1<<min(p.MaxAttempts, 16))

	return b
}

// Fetcher opens a remote resource. Implemented by *fetch.Client.
type Fetcher interface {
	Open(ctx context.Context, rawURL string, headers map[string]string, cookies []*http.Cookie) (*fetch.Stream, error)
}

// Options configures the downloader.
type Options struct {
	Retry RetryPolicy

	// Reporter receives one tick per completed item. Optional.
	Reporter Reporter

	Telemetry *telemetry.Telemetry
}

// Downloader fetches items into a target directory, alone or through RunPool.
type Downloader struct {
	fetcher   Fetcher
	retry     RetryPolicy
	reporter  Reporter
	telemetry *telemetry.Telemetry
}

// NewDownloader creates a new downloader. A zero retry policy falls back to DefaultRetryPolicy.
func NewDownloader(fetcher Fetcher, opts Options) *Downloader {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	return &Downloader{
		fetcher:   fetcher,
		retry:     opts.Retry,
		reporter:  opts.Reporter,
		telemetry: opts.Telemetry,
	}
}

// IsPartial reports whether name is an in-progress temp file left by the downloader.
func IsPartial(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, partialMarker)
}

// DownloadItem fetches one item into req.TargetDir. An existing non-empty file
// short-circuits to StatusSkipped without touching the network.
func (d *Downloader) DownloadItem(ctx context.Context, item Item, req Request) Outcome {
	logger := logctx.LoggerFromContext(ctx).With("file_name", item.LocalName)
	target := filepath.Join(req.TargetDir, item.LocalName)

	if present(target) {
		logger.Debug("file exists, skipping", "path", target)

		d.telemetry.RecordPage(StatusSkipped.String(), 0, 0)

		return Outcome{Item: item, Status: StatusSkipped}
	}

	d.telemetry.IncrementActivePages()
	defer d.telemetry.DecrementActivePages()

	headers := make(map[string]string, len(req.Headers)+1)
	if req.Referer != "" {
		headers["Referer"] = req.Referer
	}

	for k, v := range req.Headers {
		headers[k] = v
	}

	start := time.Now()
	attempts := 0

	n, err := backoff.Retry(ctx,
		func() (int64, error) {
			attempts++

			return d.fetchToFile(ctx, item, req.TargetDir, headers, req.Cookies)
		},
		backoff.WithBackOff(d.retry.backOff()),
		backoff.WithMaxTries(d.retry.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("download attempt failed, retrying", "attempt", attempts, "retry_in", next.String(), "err", err)
		}),
	)

	if err != nil {
		logger.Error("failed to download file", "attempts", attempts, "err", err)

		d.telemetry.RecordPage(StatusFailed.String(), attempts, time.Since(start))

		return Outcome{Item: item, Status: StatusFailed, Err: err, Attempts: attempts}
	}

	logger.Debug("downloaded and saved file", "target", target, "size", humanize.Bytes(uint64(n)))

	d.telemetry.RecordPage(StatusSucceeded.String(), attempts, time.Since(start))

	return Outcome{Item: item, Status: StatusSucceeded, Attempts: attempts, Bytes: n}
}

// fetchToFile streams one attempt into a temp file and renames it into place,
// so a file under its final name is always complete.
func (d *Downloader) fetchToFile(ctx context.Context, item Item, dir string, headers map[string]string, cookies []*http.Cookie) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, backoff.Permanent(&FilesystemError{Op: "mkdir", Path: dir, Err: err})
	}

	stream, err := d.fetcher.Open(ctx, item.RemoteURL, headers, cookies)
	if err != nil {
		return 0, err
	}
	defer stream.Body.Close()

	tmp, err := os.CreateTemp(dir, "."+item.LocalName+partialMarker+"*")
	if err != nil {
		return 0, backoff.Permanent(&FilesystemError{Op: "create", Path: dir, Err: err})
	}

	tmpName := tmp.Name()

	pr := progress.NewReader(stream.Body, stream.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"url", item.RemoteURL,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)))
		}
	})

	n, copyErr := io.Copy(tmp, pr)
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		os.Remove(tmpName)

		return 0, &fetch.TransportError{URL: item.RemoteURL, Err: copyErr}
	case stream.ContentLength > 0 && n != stream.ContentLength:
		os.Remove(tmpName)

		return 0, &fetch.TransportError{URL: item.RemoteURL, Err: io.ErrUnexpectedEOF}
	case closeErr != nil:
		os.Remove(tmpName)

		return 0, backoff.Permanent(&FilesystemError{Op: "write", Path: tmpName, Err: closeErr})
	}

	target := filepath.Join(dir, item.LocalName)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)

		return 0, backoff.Permanent(&FilesystemError{Op: "rename", Path: target, Err: err})
	}

	d.telemetry.AddPageBytes(n)

	return n, nil
}

func present(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
