package rules

import (
	"regexp"
)

// Match holds the groups captured by one pattern match.
type Match struct {
	text  string
	loc   []int
	names []string
}

func newMatch(re *regexp.Regexp, text string, loc []int) *Match {
	return &Match{text: text, loc: loc, names: re.SubexpNames()}
}

// Text returns the whole matched text.
func (m *Match) Text() string {
	s, _ := m.Group(0)
	return s
}

// Span returns the byte offsets of the whole match within the searched text.
func (m *Match) Span() (int, int) {
	return m.loc[0], m.loc[1]
}

// Group returns capture group n; ok is false when the group did not
// participate in the match or does not exist.
func (m *Match) Group(n int) (string, bool) {
	if n < 0 || 2*n+1 >= len(m.loc) || m.loc[2*n] < 0 {
		return "", false
	}
	return m.text[m.loc[2*n]:m.loc[2*n+1]], true
}

// Groups returns every capture group after the whole match, with ""
// for groups that did not participate.
func (m *Match) Groups() []string {
	n := len(m.loc)/2 - 1
	groups := make([]string, n)
	for i := range groups {
		groups[i], _ = m.Group(i + 1)
	}
	return groups
}

// Named returns the named capture group.
func (m *Match) Named(name string) (string, bool) {
	for i, n := range m.names {
		if n != "" && n == name {
			return m.Group(i)
		}
	}
	return "", false
}
