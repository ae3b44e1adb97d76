package identifier

import (
	"strings"

	"golang.org/x/text/cases"
)

// Casemapping folds a name for case-insensitive comparison.
type Casemapping func(string) string

// ASCII folds A-Z only.
func ASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// RFC1459 folds A-Z plus []\~ to {}|^.
func RFC1459(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case 'A' <= r && r <= 'Z':
			return r + ('a' - 'A')
		case r == '[':
			return '{'
		case r == ']':
			return '}'
		case r == '\\':
			return '|'
		case r == '~':
			return '^'
		}
		return r
	}, s)
}

// RFC1459Strict is RFC1459 without the ~ to ^ rule.
func RFC1459Strict(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case 'A' <= r && r <= 'Z':
			return r + ('a' - 'A')
		case r == '[':
			return '{'
		case r == ']':
			return '}'
		case r == '\\':
			return '|'
		}
		return r
	}, s)
}

// Unicode applies full Unicode case folding. A cases.Caser keeps state,
// so a new one is made per call.
func Unicode(s string) string {
	return cases.Fold().String(s)
}

// CasemappingByName resolves an ISUPPORT CASEMAPPING token. Unknown names
// fall back to RFC1459, the protocol default.
func CasemappingByName(name string) Casemapping {
	switch strings.ToLower(name) {
	case "ascii":
		return ASCII
	case "strict-rfc1459", "rfc1459-strict":
		return RFC1459Strict
	case "rfc8265", "precis", "unicode":
		return Unicode
	default:
		return RFC1459
	}
}
