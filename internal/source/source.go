// Package source holds the types site-specific chapter sources produce.
package source

import (
	"fmt"

	"github.com/italolelis/manga_downloader/internal/chapters"
	"github.com/italolelis/manga_downloader/internal/downloader"
)

// Kind tells whether a URL points at one chapter or a whole series.
type Kind int

const (
	KindChapter Kind = iota
	KindSeries
)

func (k Kind) String() string {
	if k == KindSeries {
		return "series"
	}

	return "chapter"
}

// Target is a classified user URL.
type Target struct {
	Kind    Kind
	Series  string
	URL     string
	Chapter chapters.Ref // set for KindChapter
}

// Chapter is everything needed to download one chapter's pages.
type Chapter struct {
	Items   []downloader.Item
	Referer string
}

// UnsupportedURLError is returned for URLs a source cannot handle.
type UnsupportedURLError struct {
	URL    string
	Reason string
}

func (e *UnsupportedURLError) Error() string {
	return fmt.Sprintf("unsupported url %q: %s", e.URL, e.Reason)
}
