package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Range is a predicate over semantic versions, produced by parsing a
// range expression such as "^1.0.0" or ">=2.1.0 <3.0.0". Immutable.
type Range struct {
	c   *semver.Constraints
	raw string
}

// ParseRange parses a range expression. It is total: any failure comes
// back as an error value, never a panic.
func ParseRange(expression string) (Range, error) {
	if strings.TrimSpace(expression) == "" {
		return Range{}, ErrEmptyRange
	}
	c, err := semver.NewConstraint(expression)
	if err != nil {
		return Range{}, ErrVersionParseFailed{
			Version: expression,
			Op:      OpParseRange,
			Cause:   err,
		}
	}
	return Range{c: c, raw: expression}, nil
}

// Matches reports whether ver satisfies the range. The Zero sentinel
// never satisfies any range.
func (r Range) Matches(ver Version) bool {
	if r.c == nil || ver.v == nil {
		return false
	}
	return r.c.Check(ver.v)
}

// String returns the original range expression.
func (r Range) String() string {
	return r.raw
}
