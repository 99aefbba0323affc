package archive

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern selects result artifacts ("<owner>/<job_id>~<name>.annot.vcf").
const DefaultPattern = "**/*~*.annot.vcf"

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// Selector picks the hot storage keys the sweeper considers.
//
// Keys must fall under Prefix and match Pattern relative to it. Receipts
// (<key>.archive) never match.
type Selector struct {
	prefix  string
	pattern string
}

// NewSelector compiles a selector. An empty pattern uses DefaultPattern.
func NewSelector(prefix, pattern string) (*Selector, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.Join(ErrInvalidPattern, errors.New(pattern))
	}
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Selector{prefix: prefix, pattern: pattern}, nil
}

// ListPrefix is the prefix to list hot storage with.
func (s *Selector) ListPrefix() string {
	return s.prefix + staticPrefix(s.pattern)
}

// Match reports whether key is a sweep candidate.
func (s *Selector) Match(key string) bool {
	if strings.HasSuffix(key, ReceiptSuffix) || !strings.HasPrefix(key, s.prefix) {
		return false
	}
	ok, err := doublestar.Match(s.pattern, strings.TrimPrefix(key, s.prefix))
	return err == nil && ok
}

// staticPrefix returns the pattern up to the last '/' before its first glob
// metacharacter: "gas/**/*.vcf" -> "gas/".
func staticPrefix(pattern string) string {
	i := strings.IndexAny(pattern, `*?[{\`)
	if i < 0 {
		return pattern
	}
	slash := strings.LastIndex(pattern[:i], "/")
	if slash < 0 {
		return ""
	}
	return pattern[:slash+1]
}
