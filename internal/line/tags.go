package line

import (
	"strings"
)

// Tag is one IRCv3 message tag. HasValue distinguishes "name" from "name=".
type Tag struct {
	Name     string
	Value    string
	HasValue bool
}

// parseTags splits a raw tag block (without the leading @). Entries that
// cannot be read are skipped so the rest of the line still parses.
func parseTags(block string) []Tag {
	var tags []Tag
	for _, entry := range strings.Split(block, ";") {
		if entry == "" {
			continue
		}
		name, value, hasValue := strings.Cut(entry, "=")
		if name == "" || strings.ContainsAny(name, " \x00") {
			continue
		}
		tags = append(tags, Tag{Name: name, Value: unescapeTagValue(value), HasValue: hasValue})
	}
	return tags
}

func unescapeTagValue(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(value) {
			// a lone trailing backslash is dropped
			break
		}
		switch value[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

func setTag(tags []Tag, name, value string) []Tag {
	for i := range tags {
		if tags[i].Name == name {
			tags[i].Value = value
			tags[i].HasValue = true
			return tags
		}
	}
	return append(tags, Tag{Name: name, Value: value, HasValue: true})
}
