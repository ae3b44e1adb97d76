package line

import (
	"regexp"
	"strings"
)

// DefaultURLSchemes are searched when no schemes are configured.
var DefaultURLSchemes = []string{"http", "https", "ftp"}

func urlPattern(schemes []string) *regexp.Regexp {
	if len(schemes) == 0 {
		schemes = DefaultURLSchemes
	}
	quoted := make([]string, len(schemes))
	for i, s := range schemes {
		quoted[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(`(?i)((?:` + strings.Join(quoted, "|") + `)://\S+)`)
}

var defaultURLPattern = urlPattern(nil)

// FindURLs returns the unique URLs of text for the given schemes, in order
// of appearance, with trailing punctuation trimmed.
func FindURLs(text string, schemes []string) []string {
	re := defaultURLPattern
	if len(schemes) > 0 {
		re = urlPattern(schemes)
	}
	return findURLs(re, text)
}

func findURLs(re *regexp.Regexp, text string) []string {
	var urls []string
	seen := make(map[string]struct{})
	for _, raw := range re.FindAllString(text, -1) {
		url := TrimURL(raw)
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	return urls
}

// TrimURL removes punctuation that was likely not meant as part of a URL
// found in chat: clause-ending marks and unbalanced closing brackets.
func TrimURL(url string) string {
	url = strings.TrimRight(url, `.,?!'":;`)
	for _, pair := range [][2]string{{"(", ")"}, {"[", "]"}, {"{", "}"}, {"<", ">"}} {
		if strings.HasSuffix(url, pair[1]) && strings.Count(url, pair[0]) < strings.Count(url, pair[1]) {
			url = url[:len(url)-1]
		}
	}
	return url
}
