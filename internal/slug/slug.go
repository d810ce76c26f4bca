// Package slug turns series and chapter names into safe file system names.
package slug

import (
	"regexp"
	"strings"
)

var (
	unsafeChars        = regexp.MustCompile(`[\\/:*?"<>|]`)
	trailingWhitespace = regexp.MustCompile(`\s$`)
)

// Name replaces characters that are invalid in file names, and a trailing
// whitespace character, with "-".
func Name(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")

	return trailingWhitespace.ReplaceAllString(s, "-")
}

// Dir is Name plus directory rules: no leading dot, no trailing dots.
func Dir(s string) string {
	s = Name(s)
	s = strings.TrimPrefix(s, ".")

	return strings.TrimRight(s, ".")
}
