package line

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircfmt"
	"github.com/ergochat/irc-go/ircmsg"

	"github.com/dalnet/rulebot/internal/identifier"
)

// ErrMalformedLine is returned when a raw line has no event name.
var ErrMalformedLine = errors.New("malformed line")

// Tags set by the parser itself.
const (
	TagIntent  = "intent"
	TagAccount = "account"
	TagTime    = "time"
	TagBot     = "bot"
)

var ctcpPattern = regexp.MustCompile(`^\x01(\S+) ?(.*)\x01`)

// Events whose first argument names the context (channel or nick) of the line.
var contextEvents = map[string]bool{
	"INVITE":  true,
	"JOIN":    true,
	"KICK":    true,
	"MODE":    true,
	"NOTICE":  true,
	"PART":    true,
	"PRIVMSG": true,
	"TOPIC":   true,
}

// Line is one parsed protocol line. It is not modified after Parse returns.
type Line struct {
	Raw  string
	Tags []Tag

	// Hostmask is the raw source prefix; Nick, User and Host are its parts.
	Hostmask string
	Nick     identifier.Identifier
	User     string
	Host     string

	Event string
	Args  []string

	// Sender is the channel the line belongs to, or the originating nick
	// when it was addressed to us directly. Zero when the event has no
	// context.
	Sender       identifier.Identifier
	StatusPrefix string

	// Time is the server-time tag when present, else the receipt time.
	Time  time.Time
	URLs  []string
	Plain string
}

type options struct {
	ids            identifier.Factory
	schemes        []string
	statusPrefixes string
	now            func() time.Time
}

// Option adjusts parsing to what the server has advertised.
type Option func(*options)

// WithIdentifiers sets the casemapping and chantypes used for nick and sender.
func WithIdentifiers(f identifier.Factory) Option {
	return func(o *options) { o.ids = f }
}

// WithURLSchemes sets the schemes URLs are searched for.
func WithURLSchemes(schemes []string) Option {
	return func(o *options) { o.schemes = schemes }
}

// WithStatusPrefixes sets the STATUSMSG prefixes, e.g. "@+".
func WithStatusPrefixes(prefixes string) Option {
	return func(o *options) { o.statusPrefixes = prefixes }
}

// WithClock overrides the receipt time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Parse decodes raw as received while our nick is ownNick.
func Parse(ownNick identifier.Identifier, raw string, opts ...Option) (*Line, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	raw = strings.TrimRight(raw, "\r\n")
	rest := raw
	var tags []Tag
	if strings.HasPrefix(rest, "@") {
		block, remainder, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return nil, fmt.Errorf("%w: tags without command: %q", ErrMalformedLine, raw)
		}
		tags = parseTags(block)
		rest = strings.TrimLeft(remainder, " ")
	}

	msg, err := ircmsg.ParseLine(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if msg.Command == "" {
		return nil, fmt.Errorf("%w: no event: %q", ErrMalformedLine, raw)
	}

	l := &Line{
		Raw:      raw,
		Tags:     tags,
		Hostmask: msg.Source,
		Event:    strings.ToUpper(msg.Command),
		Args:     append([]string(nil), msg.Params...),
	}

	if msg.Source != "" {
		if nuh, err := msg.NUH(); err == nil {
			l.Nick = o.ids.New(nuh.Name)
			l.User = nuh.User
			l.Host = nuh.Host
		} else {
			l.Nick = o.ids.New(msg.Source)
		}
	}

	if (l.Event == "PRIVMSG" || l.Event == "NOTICE") && len(l.Args) > 0 {
		last := len(l.Args) - 1
		if m := ctcpPattern.FindStringSubmatch(l.Args[last]); m != nil {
			l.Tags = setTag(l.Tags, TagIntent, m[1])
			l.Args[last] = m[2]
		}
	}

	if l.Event == "JOIN" && len(l.Args) == 3 {
		l.Tags = setTag(l.Tags, TagAccount, l.Args[1])
	}

	if contextEvents[l.Event] && len(l.Args) > 0 {
		target := l.Args[0]
		for o.statusPrefixes != "" && target != "" && strings.IndexByte(o.statusPrefixes, target[0]) >= 0 {
			l.StatusPrefix += target[:1]
			target = target[1:]
		}
		l.Sender = o.ids.New(target)
		if !ownNick.IsZero() && l.Sender.Key() == o.ids.Fold(ownNick.String()) {
			l.Sender = l.Nick
		}
	}

	l.Time = o.now()
	if ts, ok := l.Tag(TagTime); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			l.Time = parsed
		}
	}

	if len(l.Args) > 0 {
		l.Plain = ircfmt.Strip(l.Text())
		if l.Event == "PRIVMSG" || l.Event == "NOTICE" {
			l.URLs = FindURLs(l.Plain, o.schemes)
		}
	}

	return l, nil
}

// Text returns the final argument, or "" when there are none.
func (l *Line) Text() string {
	if len(l.Args) == 0 {
		return ""
	}
	return l.Args[len(l.Args)-1]
}

// Tag returns the value of the named tag.
func (l *Line) Tag(name string) (string, bool) {
	for _, t := range l.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// HasTag reports whether the tag is present, with or without a value.
func (l *Line) HasTag(name string) bool {
	_, ok := l.Tag(name)
	return ok
}

// Intent returns the CTCP command the message was framed with, if any.
func (l *Line) Intent() string {
	v, _ := l.Tag(TagIntent)
	return v
}

// IsPrivate reports whether the line was addressed to us rather than a channel.
func (l *Line) IsPrivate() bool {
	return l.Sender.IsNick()
}

// String renders the line back to wire form, including the CTCP framing
// removed by Parse.
func (l *Line) String() string {
	msg := ircmsg.MakeMessage(nil, l.Hostmask, l.Event, append([]string(nil), l.Args...)...)
	if intent := l.Intent(); intent != "" && len(msg.Params) > 0 {
		last := len(msg.Params) - 1
		text := intent
		if msg.Params[last] != "" {
			text += " " + msg.Params[last]
		}
		msg.Params[last] = "\x01" + text + "\x01"
	}
	out, err := msg.Line()
	if err != nil {
		return l.Raw
	}
	return strings.TrimRight(out, "\r\n")
}
