// Package fanfox reads chapter pages and series feeds from fanfox.net.
package fanfox

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/italolelis/manga_downloader/internal/chapters"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/fetch"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/source"
)

// DefaultBaseURL is the site root every URL is resolved against.
const DefaultBaseURL = "https://fanfox.net"

var (
	chapterPath = regexp.MustCompile(`^/manga/([^/]+)/(?:v[^/]+/)?c[^/]+/\d+\.html$`)
	seriesPath  = regexp.MustCompile(`^/manga/([^/]+)/?$`)
	feedLink    = regexp.MustCompile(`/manga/(.*?)\.html`)

	chapterID  = regexp.MustCompile(`chapterid\s?=\s?(.*?);`)
	imagePage  = regexp.MustCompile(`imagepage\s?=\s?(.*?);`)
	imageCount = regexp.MustCompile(`imagecount\s?=\s?(.*?);`)
)

// Fetcher reads a whole page. Implemented by *fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, headers map[string]string, cookies []*http.Cookie) (*fetch.Page, error)
}

// Source resolves fanfox URLs into chapters and page lists.
type Source struct {
	fetcher Fetcher
	base    *url.URL
}

// New creates a fanfox source. An empty baseURL means DefaultBaseURL.
func New(fetcher Fetcher, baseURL string) (*Source, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	return &Source{fetcher: fetcher, base: base}, nil
}

// Resolve classifies rawURL as a chapter or a series URL.
func (s *Source) Resolve(rawURL string) (source.Target, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return source.Target{}, &source.UnsupportedURLError{URL: rawURL, Reason: err.Error()}
	}

	if !strings.EqualFold(u.Host, s.base.Host) {
		return source.Target{}, &source.UnsupportedURLError{URL: rawURL, Reason: "only " + s.base.Host + " urls are supported"}
	}

	if m := chapterPath.FindStringSubmatch(u.Path); m != nil {
		ref, err := chapters.ParseRef(u.Path)
		if err != nil {
			return source.Target{}, &source.UnsupportedURLError{URL: rawURL, Reason: err.Error()}
		}

		ref.URL = s.base.String() + u.Path

		return source.Target{Kind: source.KindChapter, Series: m[1], URL: ref.URL, Chapter: ref}, nil
	}

	if m := seriesPath.FindStringSubmatch(u.Path); m != nil {
		return source.Target{Kind: source.KindSeries, Series: m[1], URL: s.base.String() + "/manga/" + m[1]}, nil
	}

	return source.Target{}, &source.UnsupportedURLError{URL: rawURL, Reason: "not a chapter or series url"}
}

type rssFeed struct {
	Items []struct {
		Link string `xml:"link"`
	} `xml:"channel>item"`
}

// Manifest returns the chapters listed in the series feed, newest first.
func (s *Source) Manifest(ctx context.Context, series source.Target) ([]chapters.Ref, error) {
	logger := logctx.LoggerFromContext(ctx)

	feedURL := s.base.String() + "/rss/" + series.Series + ".xml"

	page, err := s.fetcher.Fetch(ctx, feedURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series feed: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(page.Body, &feed); err != nil {
		return nil, &ParseError{URL: feedURL, Field: "rss", Err: err}
	}

	refs := make([]chapters.Ref, 0, len(feed.Items))

	for _, item := range feed.Items {
		m := feedLink.FindStringSubmatch(item.Link)
		if m == nil {
			continue
		}

		ref, err := chapters.ParseRef(s.base.String() + "/manga/" + m[1] + ".html")
		if err != nil {
			logger.Debug("ignoring feed link", "link", item.Link, "err", err)

			continue
		}

		refs = append(refs, ref)
	}

	logger.Debug("found chapters in series", "series", series.Series, "count", len(refs))

	return refs, nil
}

// Pages lists the images of one chapter. The chapter page carries the
// chapter id and page range; each page's image location comes from a packed
// script fetched with the chapter URL as referer and the session cookies of
// the previous request.
func (s *Source) Pages(ctx context.Context, ref chapters.Ref) (*source.Chapter, error) {
	logger := logctx.LoggerFromContext(ctx)

	page, err := s.fetcher.Fetch(ctx, ref.URL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapter page: %w", err)
	}

	id, err := scriptInt(page.Body, chapterID, ref.URL, "chapterid")
	if err != nil {
		return nil, err
	}

	first, err := scriptInt(page.Body, imagePage, ref.URL, "imagepage")
	if err != nil {
		return nil, err
	}

	last, err := scriptInt(page.Body, imageCount, ref.URL, "imagecount")
	if err != nil {
		return nil, err
	}

	dir := ref.URL[:strings.LastIndex(ref.URL, "/")]
	headers := map[string]string{"Referer": ref.URL}
	cookies := page.Cookies
	width := len(strconv.Itoa(last))

	var urls, names []string

	for n := first; n <= last; n++ {
		scriptURL := fmt.Sprintf("%s/chapterfun.ashx?cid=%d&page=%d&key=", dir, id, n)

		logger.Debug("fetching page script", "url", scriptURL)

		script, err := s.fetcher.Fetch(ctx, scriptURL, headers, cookies)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch script for page %d: %w", n, err)
		}

		cookies = script.Cookies

		imageURL, err := imageLocation(ctx, script.Body, scriptURL)
		if err != nil {
			return nil, err
		}

		urls = append(urls, imageURL)
		names = append(names, fmt.Sprintf("%0*d.jpg", width, n))

		logger.Debug("found link for page", "page", n, "url", imageURL)
	}

	items, err := downloader.NewItems(urls, names)
	if err != nil {
		return nil, &ParseError{URL: ref.URL, Field: "imagecount", Err: err}
	}

	return &source.Chapter{Items: items, Referer: ref.URL}, nil
}

func scriptInt(body []byte, re *regexp.Regexp, pageURL, field string) (int, error) {
	m := re.FindSubmatch(body)
	if m == nil {
		return 0, &ParseError{URL: pageURL, Field: field}
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(m[1])))
	if err != nil {
		return 0, &ParseError{URL: pageURL, Field: field, Err: err}
	}

	return n, nil
}
