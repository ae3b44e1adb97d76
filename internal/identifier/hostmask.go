package identifier

import (
	"fmt"
	"regexp"
	"strings"
)

// HostmaskPattern compiles an IRC glob such as "*!*@example.net" into an
// anchored, case-insensitive pattern. Only * is a wildcard.
func HostmaskPattern(mask string) (*regexp.Regexp, error) {
	quoted := strings.ReplaceAll(regexp.QuoteMeta(mask), `\*`, `.*`)
	re, err := regexp.Compile(`(?i)^` + quoted + `$`)
	if err != nil {
		return nil, fmt.Errorf("invalid hostmask %q: %w", mask, err)
	}
	return re, nil
}

// MatchHostmask reports whether pattern matches nick or nick@host.
func MatchHostmask(pattern *regexp.Regexp, nick, host string) bool {
	if pattern == nil {
		return false
	}
	if pattern.MatchString(nick) {
		return true
	}
	return host != "" && pattern.MatchString(nick+"@"+host)
}
