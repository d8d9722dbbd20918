// Package extract recovers external job identifiers from scheduler output.
package extract

import (
	"fmt"
	"regexp"

	"batchbridge/internal/apperrors"
)

// Extractor applies a configured regular expression with a single capturing
// group to submission output. It holds no state across calls.
type Extractor struct {
	pattern string
	re      *regexp.Regexp
	strict  bool
}

// New compiles the pattern and verifies it carries exactly one capturing
// group. In strict mode more than one match in the input is an ambiguous
// match error; otherwise the first match wins (scheduler banners and
// trailing noise after the id are common).
func New(pattern string, strict bool) (*Extractor, error) {
	if pattern == "" {
		return nil, apperrors.Configuration("job-id-regex", "pattern is empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apperrors.Configuration("job-id-regex", fmt.Sprintf("invalid pattern: %v", err))
	}
	if n := re.NumSubexp(); n != 1 {
		return nil, apperrors.Configuration("job-id-regex", fmt.Sprintf("pattern has %d capturing groups, want exactly 1", n))
	}
	return &Extractor{pattern: pattern, re: re, strict: strict}, nil
}

// Extract returns the external job id captured from text.
func (e *Extractor) Extract(text string) (string, error) {
	matches := e.re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", apperrors.NoMatch(e.pattern)
	}
	if e.strict && len(matches) > 1 {
		return "", apperrors.AmbiguousMatch(e.pattern, len(matches))
	}
	id := matches[0][1]
	if id == "" {
		return "", apperrors.NoMatch(e.pattern)
	}
	return id, nil
}
