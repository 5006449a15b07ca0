package engine

import (
	"path"
	"strings"
)

// Matcher reports whether a snapshot-relative path is excluded from builds.
// Patterns use path.Match syntax per segment, plus ** for any number of
// segments. A pattern without a slash matches the base name at any depth.
type Matcher struct {
	patterns [][]string
}

func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		p = strings.Trim(p, "/")
		if !strings.Contains(p, "/") {
			p = "**/" + p
		}
		m.patterns = append(m.patterns, strings.Split(p, "/"))
	}
	return m
}

// Match reports whether the slash-separated rel is excluded, either itself
// or through one of its parent directories.
func (m *Matcher) Match(rel string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	parts := strings.Split(path.Clean(rel), "/")
	for _, pat := range m.patterns {
		for n := 1; n <= len(parts); n++ {
			if matchSegments(pat, parts[:n]) {
				return true
			}
		}
	}
	return false
}

func matchSegments(pats, parts []string) bool {
	for len(pats) > 0 {
		p := pats[0]
		pats = pats[1:]

		if p == "**" {
			if len(pats) == 0 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pats, parts[i:]) {
					return true
				}
			}
			return false
		}

		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(p, parts[0]); !ok {
			return false
		}
		parts = parts[1:]
	}
	return len(parts) == 0
}
