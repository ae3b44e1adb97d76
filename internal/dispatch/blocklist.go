package dispatch

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

type blockEntry struct {
	raw string
	re  *regexp.Regexp
}

func compileBlocks(entries []string, log *logrus.Entry) []blockEntry {
	var out []blockEntry
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		be := blockEntry{raw: e}
		re, err := regexp.Compile(`(?i)^(?:` + e + `)$`)
		if err != nil {
			log.WithError(err).WithField("entry", e).Warn("Block entry is not a valid pattern, matching it literally")
		} else {
			be.re = re
		}
		out = append(out, be)
	}
	return out
}

// Blocklist holds the nick, host and hostmask blocks. Each entry matches
// as a case-insensitive pattern or as literal text.
type Blocklist struct {
	ids       identifier.Factory
	nicks     []blockEntry
	hosts     []blockEntry
	hostmasks []blockEntry
}

// NewBlocklist compiles the block entries. Entries that are not valid
// patterns only match literally.
func NewBlocklist(ids identifier.Factory, nicks, hosts, hostmasks []string, log *logrus.Entry) *Blocklist {
	return &Blocklist{
		ids:       ids,
		nicks:     compileBlocks(nicks, log),
		hosts:     compileBlocks(hosts, log),
		hostmasks: compileBlocks(hostmasks, log),
	}
}

// Empty reports whether nothing is blocked.
func (b *Blocklist) Empty() bool {
	return b == nil || len(b.nicks)+len(b.hosts)+len(b.hostmasks) == 0
}

// NickBlocked checks a nick, comparing literal entries with IRC case folding.
func (b *Blocklist) NickBlocked(nick identifier.Identifier) bool {
	if b == nil || nick.IsZero() {
		return false
	}
	for _, e := range b.nicks {
		if (e.re != nil && e.re.MatchString(nick.String())) || b.ids.New(e.raw).Equal(nick) {
			return true
		}
	}
	return false
}

// HostBlocked checks a hostname.
func (b *Blocklist) HostBlocked(host string) bool {
	return b != nil && host != "" && matchAny(b.hosts, host)
}

// HostmaskBlocked checks a full nick!user@host.
func (b *Blocklist) HostmaskBlocked(hostmask string) bool {
	return b != nil && hostmask != "" && matchAny(b.hostmasks, hostmask)
}

// Blocked reports whether the line's source is blocked by any list.
func (b *Blocklist) Blocked(l *line.Line) bool {
	if b.Empty() {
		return false
	}
	return b.NickBlocked(l.Nick) || b.HostBlocked(l.Host) || b.HostmaskBlocked(l.Hostmask)
}

func matchAny(entries []blockEntry, s string) bool {
	for _, e := range entries {
		if (e.re != nil && e.re.MatchString(s)) || strings.EqualFold(e.raw, s) {
			return true
		}
	}
	return false
}
