package packaging

import "strings"

// Format is the artifact a chapter is packed into.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatCBZ  Format = "cbz"
	FormatNone Format = "none"
)

// ParseFormat accepts pdf, cbz, none and its alias skip, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return FormatPDF, nil
	case "cbz":
		return FormatCBZ, nil
	case "none", "skip":
		return FormatNone, nil
	default:
		return "", &FormatError{Format: s}
	}
}

func (f Format) extension() string {
	return "." + string(f)
}
