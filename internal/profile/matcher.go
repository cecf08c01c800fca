// Package profile resolves which configured profile applies to a file.
package profile

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

// Matcher selects profiles by glob pattern. It is a pure function of the
// profile list and the file's base name; the filesystem is never consulted.
type Matcher struct {
	profiles []config.Profile
}

func NewMatcher(profiles []config.Profile) *Matcher {
	return &Matcher{profiles: profiles}
}

// Match returns the first profile (in configuration order) whose pattern
// matches the base name of path, or nil when none matches. No match is not
// an error; the caller routes the file to its unmatched disposition.
func (m *Matcher) Match(path string) *config.Profile {
	base := filepath.Base(path)
	for i := range m.profiles {
		ok, err := doublestar.Match(m.profiles[i].MatchPattern, base)
		if err != nil {
			// Patterns are validated at config load; treat as no match.
			continue
		}
		if ok {
			return &m.profiles[i]
		}
	}
	return nil
}
