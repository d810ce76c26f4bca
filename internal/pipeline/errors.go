package pipeline

import (
	"fmt"
	"strings"
)

// ChapterFailure is one chapter that could not be completed.
type ChapterFailure struct {
	Chapter string
	Err     error
}

// ChapterFailuresError lists the chapters of a run that failed.
type ChapterFailuresError struct {
	Failures []ChapterFailure
}

func (e *ChapterFailuresError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("chapter %s: %v", f.Chapter, f.Err))
	}

	return fmt.Sprintf("%d chapter(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ChapterFailuresError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}

	return errs
}
