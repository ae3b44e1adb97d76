package rules

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

// URLCallback searches its patterns in each URL of the line. A URL that
// appears several times is matched once.
type URLCallback struct {
	*base
	patterns []*regexp.Regexp
	schemes  []string
}

func (r *URLCallback) Match(ownNick identifier.Identifier, l *line.Line) []*Match {
	if !r.accepts(ownNick, l) {
		return nil
	}
	var matches []*Match
	seen := make(map[string]struct{})
	for _, u := range line.FindURLs(l.Plain, r.schemes) {
		if !r.wantScheme(u) {
			continue
		}
		for _, m := range r.parse(u) {
			if _, ok := seen[m.Text()]; ok {
				continue
			}
			seen[m.Text()] = struct{}{}
			matches = append(matches, m)
		}
	}
	return matches
}

func (r *URLCallback) parse(u string) []*Match {
	var matches []*Match
	for _, re := range r.patterns {
		if loc := re.FindStringSubmatchIndex(u); loc != nil {
			matches = append(matches, newMatch(re, u, loc))
		}
	}
	return matches
}

func (r *URLCallback) wantScheme(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, s := range r.schemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}

func (r *URLCallback) String() string {
	return fmt.Sprintf("<URLCallback %s.%s (%d)>", r.plugin, r.label, len(r.patterns))
}
