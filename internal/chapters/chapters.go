// Package chapters selects and orders the chapters of a series.
package chapters

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var refPattern = regexp.MustCompile(`/manga/[^/]+/(?:(v[^/]+)/)?c([^/]+)/[^/]+\.html$`)

// Ref identifies one chapter of a series.
type Ref struct {
	Volume string // "v01", empty when the series has no volumes
	Number string // "001", "010.5"
	URL    string
}

// ParseRef derives volume and number from a chapter URL such as
// https://fanfox.net/manga/slam_dunk/v01/c001/1.html.
func ParseRef(rawURL string) (Ref, error) {
	m := refPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return Ref{}, &InputError{Value: rawURL, Reason: "not a chapter url"}
	}

	return Ref{Volume: m[1], Number: m[2], URL: rawURL}, nil
}

// IsNumbered reports whether the chapter number is a plain integer.
// Extras like "010.5" are not.
func (r Ref) IsNumbered() bool {
	if r.Number == "" {
		return false
	}

	for _, c := range r.Number {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}

// Range selects chapters by 1-based position counted from the oldest.
type Range struct {
	All    bool
	Start  int
	End    int
	EndAll bool
}

// AllChapters is the range that selects the whole manifest.
var AllChapters = Range{All: true}

func (r Range) String() string {
	switch {
	case r.All:
		return "All"
	case r.EndAll:
		return strconv.Itoa(r.Start) + "-All"
	default:
		return strconv.Itoa(r.Start) + "-" + strconv.Itoa(r.End)
	}
}

var rangePattern = regexp.MustCompile(`^(\d+)-(\d+|(?i:all))$`)

// ParseRange accepts "All", "N-M" and "N-All". An empty string means All.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return AllChapters, nil
	}

	m := rangePattern.FindStringSubmatch(s)
	if m == nil {
		return Range{}, &InputError{Value: s, Reason: `expected "All", "N-M" or "N-All"`}
	}

	start, err := strconv.Atoi(m[1])
	if err != nil || start < 1 {
		return Range{}, &InputError{Value: s, Reason: "start must be at least 1"}
	}

	if strings.EqualFold(m[2], "all") {
		return Range{Start: start, EndAll: true}, nil
	}

	end, err := strconv.Atoi(m[2])
	if err != nil || end < start {
		return Range{}, &InputError{Value: s, Reason: "end must not be before start"}
	}

	return Range{Start: start, End: end}, nil
}

// Sort is the order chapters are processed in.
type Sort int

const (
	Descending Sort = iota // newest first, the manifest's own order
	Ascending
)

func (s Sort) String() string {
	if s == Ascending {
		return "asc"
	}

	return "desc"
}

// ParseSort maps user-facing sort names to a Sort.
func ParseSort(s string) (Sort, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "desc", "descending", "new", "latest":
		return Descending, nil
	case "asc", "ascending", "old":
		return Ascending, nil
	default:
		return Descending, &InputError{Value: s, Reason: "sort must be asc or desc"}
	}
}

// Resolve returns the chapters of a newest-first manifest selected by rng, in
// the requested order. The manifest is never modified.
func Resolve(manifest []Ref, rng Range, order Sort) []Ref {
	selected := slices.Clone(manifest)

	if !rng.All {
		slices.Reverse(selected)

		end := len(selected)
		if !rng.EndAll {
			end = min(rng.End, len(selected))
		}

		start := min(max(rng.Start-1, 0), end)

		selected = selected[start:end]
		slices.Reverse(selected)
	}

	if order == Ascending {
		slices.Reverse(selected)
	}

	return selected
}
