package packaging

import "fmt"

// PackagingError reports why a chapter's images could not be packed into an artifact.
type PackagingError struct {
	SourceDir string
	Reason    string
	Err       error
}

func (e *PackagingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("packaging %s: %s: %v", e.SourceDir, e.Reason, e.Err)
	}

	return fmt.Sprintf("packaging %s: %s", e.SourceDir, e.Reason)
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}

// FormatError reports an output format that is not supported.
type FormatError struct {
	Format string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported output format %q", e.Format)
}
