package downloader

import "fmt"

// InputError represents a pool invocation that violates the caller contract:
// empty work lists, mismatched url/name counts, duplicate or unsafe names.
// It is returned before any work starts.
type InputError struct {
	Reason string // Human-readable explanation of the violation
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid download input: %s", e.Reason)
}

// FilesystemError represents a local create, write or rename failure.
type FilesystemError struct {
	Op   string // The operation that failed (e.g., "mkdir", "create", "rename")
	Path string // Path the operation targeted
	Err  error  // Underlying error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}
