package rules

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

// Priority orders triggered rules within one dispatch.
type Priority int

const (
	Medium Priority = iota
	High
	Low
)

// Scale is the numeric sort key: high 0, medium 100, low 1000.
func (p Priority) Scale() int {
	switch p {
	case High:
		return 0
	case Low:
		return 1000
	default:
		return 100
	}
}

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Low:
		return "low"
	default:
		return "medium"
	}
}

// Threading tells the dispatcher where a rule's handler runs.
type Threading int

const (
	// Concurrent handlers run in their own goroutine.
	Concurrent Threading = iota
	// Inline handlers run on the goroutine reading from the server.
	Inline
)

// Bot is what handlers use to talk back to IRC.
type Bot interface {
	Nick() identifier.Identifier
	Say(target, message string)
	Notice(target, message string)
	Action(target, message string)
}

// Handler is the function bound to a rule.
type Handler func(ctx context.Context, bot Bot, t *Trigger) error

// Rule is a registered matcher with its handler and policies.
type Rule interface {
	Plugin() string
	Label() string
	Priority() Priority
	Threading() Threading
	Unblockable() bool
	RateLimitsAdmins() bool
	OutputPrefix() string
	Doc() string
	Examples() []string

	// Match returns every match of the rule against l, received while our
	// nick was ownNick.
	Match(ownNick identifier.Identifier, l *line.Line) []*Match

	RateLimit(scope RateScope) time.Duration
	RateLimitTemplate(scope RateScope) string
	// RateLimited reports whether key is throttled in scope at the given
	// time, and for how much longer.
	RateLimited(scope RateScope, key string, at time.Time) (bool, time.Duration)

	// Start marks an invocation for t as running since at, so the rate
	// limits apply to later lines while the handler runs.
	Start(t *Trigger, at time.Time)
	// Execute runs the handler and records its outcome at the time now
	// returns.
	Execute(ctx context.Context, bot Bot, t *Trigger, now func() time.Time) error
	String() string
}

// base carries everything variants share.
type base struct {
	plugin    string
	label     string
	priority  Priority
	threading Threading

	events    map[string]bool
	intents   []*regexp.Regexp
	allowEcho bool
	allowBots bool

	unblockable     bool
	rateLimitAdmins bool
	rates           [3]time.Duration
	rateMessages    [3]string
	defaultMessage  string

	outputPrefix string
	doc          string
	examples     []string

	handler Handler
	metrics *Metrics
}

func newBase(plugin, label string, d *Descriptor) (*base, error) {
	b := &base{
		plugin:          plugin,
		label:           label,
		priority:        d.Priority,
		threading:       d.Threading,
		events:          make(map[string]bool),
		allowEcho:       d.AllowEcho,
		allowBots:       d.AllowBots,
		unblockable:     d.Unblockable,
		rateLimitAdmins: d.RateLimitAdmins,
		rates:           [3]time.Duration{d.UserRate, d.ChannelRate, d.GlobalRate},
		rateMessages:    [3]string{d.UserRateMessage, d.ChannelRateMessage, d.GlobalRateMessage},
		defaultMessage:  d.RateMessage,
		outputPrefix:    d.OutputPrefix,
		doc:             d.Doc,
		examples:        d.Examples,
		handler:         d.Handler,
		metrics:         NewMetrics(),
	}
	events := d.Events
	if len(events) == 0 {
		events = []string{"PRIVMSG"}
	}
	for _, e := range events {
		b.events[strings.ToUpper(e)] = true
	}
	for _, intent := range d.Intents {
		re, err := regexp.Compile(`(?i)^(?:` + intent + `)`)
		if err != nil {
			return nil, &PatternError{Plugin: plugin, Rule: label, Pattern: intent, Err: err}
		}
		b.intents = append(b.intents, re)
	}
	return b, nil
}

func (b *base) Plugin() string { return b.plugin }
func (b *base) Label() string { return b.label }
func (b *base) Priority() Priority { return b.priority }
func (b *base) Threading() Threading { return b.threading }
func (b *base) Unblockable() bool { return b.unblockable }
func (b *base) RateLimitsAdmins() bool { return b.rateLimitAdmins }
func (b *base) OutputPrefix() string { return b.outputPrefix }
func (b *base) Doc() string { return b.doc }
func (b *base) Examples() []string { return b.examples }

func (b *base) RateLimit(s RateScope) time.Duration {
	if s < UserScope || s > GlobalScope {
		return 0
	}
	return b.rates[s]
}

func (b *base) RateLimitTemplate(s RateScope) string {
	if s >= UserScope && s <= GlobalScope && b.rateMessages[s] != "" {
		return b.rateMessages[s]
	}
	return b.defaultMessage
}

func (b *base) RateLimited(s RateScope, key string, at time.Time) (bool, time.Duration) {
	return b.metrics.Limited(s, key, b.RateLimit(s), at)
}

// accepts applies the filters common to every variant: event, intent,
// then the bot and echo message rules.
func (b *base) accepts(ownNick identifier.Identifier, l *line.Line) bool {
	if !b.events[l.Event] {
		return false
	}
	if len(b.intents) > 0 {
		intent, ok := l.Tag(line.TagIntent)
		if !ok {
			return false
		}
		matched := false
		for _, re := range b.intents {
			if re.MatchString(intent) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	message := l.Event == "PRIVMSG" || l.Event == "NOTICE"
	isBot := message && l.HasTag(line.TagBot)
	isEcho := message && !ownNick.IsZero() && l.Nick.Equal(ownNick)
	return (!isBot || b.allowBots || (isEcho && b.allowEcho)) && (!isEcho || b.allowEcho)
}

func (b *base) Start(t *Trigger, at time.Time) {
	b.metrics.Start(UserScope, t.Nick.Key(), at)
	b.metrics.Start(ChannelScope, t.Sender.Key(), at)
	b.metrics.Start(GlobalScope, "", at)
}

func (b *base) Execute(ctx context.Context, bot Bot, t *Trigger, now func() time.Time) (err error) {
	if b.handler == nil {
		return fmt.Errorf("%w: %s.%s", ErrNotConfigured, b.plugin, b.label)
	}
	if now == nil {
		now = time.Now
	}
	defer func() {
		at := now()
		ignored := errors.Is(err, NoLimit)
		b.metrics.End(UserScope, t.Nick.Key(), at, ignored)
		b.metrics.End(ChannelScope, t.Sender.Key(), at, ignored)
		b.metrics.End(GlobalScope, "", at, ignored)
	}()
	return b.handler(ctx, bot, t)
}

// GenericRule matches each of its patterns once, anchored at the start of
// the text.
type GenericRule struct {
	*base
	patterns []*regexp.Regexp
}

func (r *GenericRule) Match(ownNick identifier.Identifier, l *line.Line) []*Match {
	if !r.accepts(ownNick, l) {
		return nil
	}
	text := l.Text()
	var matches []*Match
	for _, re := range r.patterns {
		if loc := re.FindStringSubmatchIndex(text); loc != nil && loc[0] == 0 {
			matches = append(matches, newMatch(re, text, loc))
		}
	}
	return matches
}

func (r *GenericRule) String() string {
	return fmt.Sprintf("<Rule %s.%s (%d)>", r.plugin, r.label, len(r.patterns))
}

// FindRule yields every non-overlapping match of every pattern.
type FindRule struct {
	*base
	patterns []*regexp.Regexp
}

func (r *FindRule) Match(ownNick identifier.Identifier, l *line.Line) []*Match {
	if !r.accepts(ownNick, l) {
		return nil
	}
	text := l.Text()
	var matches []*Match
	for _, re := range r.patterns {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			matches = append(matches, newMatch(re, text, loc))
		}
	}
	return matches
}

func (r *FindRule) String() string {
	return fmt.Sprintf("<FindRule %s.%s (%d)>", r.plugin, r.label, len(r.patterns))
}

// SearchRule yields the first match of each pattern anywhere in the text.
type SearchRule struct {
	*base
	patterns []*regexp.Regexp
}

func (r *SearchRule) Match(ownNick identifier.Identifier, l *line.Line) []*Match {
	if !r.accepts(ownNick, l) {
		return nil
	}
	text := l.Text()
	var matches []*Match
	for _, re := range r.patterns {
		if loc := re.FindStringSubmatchIndex(text); loc != nil {
			matches = append(matches, newMatch(re, text, loc))
		}
	}
	return matches
}

func (r *SearchRule) String() string {
	return fmt.Sprintf("<SearchRule %s.%s (%d)>", r.plugin, r.label, len(r.patterns))
}
