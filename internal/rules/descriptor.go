package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

const (
	// DefaultPrefix is the command prefix pattern used when none is set.
	DefaultPrefix = `\.`
	// DefaultHelpPrefix is the literal prefix written in command examples.
	DefaultHelpPrefix = "."
)

// Settings are the bot-wide values rules are compiled against.
type Settings struct {
	Nick       identifier.Identifier
	Aliases    []string
	Prefix     string
	HelpPrefix string
	URLSchemes []string

	// LegacyRegexCommands lets command names holding regexp metacharacters
	// act as patterns. Without it every name is matched literally.
	LegacyRegexCommands bool

	Log *logrus.Entry
}

func (s *Settings) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

func (s *Settings) helpPrefix() string {
	if s.HelpPrefix == "" {
		return DefaultHelpPrefix
	}
	return s.HelpPrefix
}

func (s *Settings) schemes() []string {
	if len(s.URLSchemes) == 0 {
		return line.DefaultURLSchemes
	}
	return s.URLSchemes
}

func (s *Settings) logger() *logrus.Entry {
	if s.Log == nil {
		return logrus.WithField("component", "rules")
	}
	return s.Log
}

// LazyPatterns produces patterns once the settings are known.
type LazyPatterns func(s *Settings) ([]string, error)

// Descriptor declares how a plugin handler is triggered and throttled.
// Build turns one descriptor into up to one rule per trigger kind.
type Descriptor struct {
	// Name identifies the handler and is the default label.
	Name  string
	Label string

	Patterns           []string
	LazyPatterns       LazyPatterns
	FindPatterns       []string
	LazyFindPatterns   LazyPatterns
	SearchPatterns     []string
	LazySearchPatterns LazyPatterns

	// The first entry is the command name, the rest are aliases.
	Commands       []string
	NickCommands   []string
	ActionCommands []string

	URLPatterns     []string
	LazyURLPatterns LazyPatterns
	URLSchemes      []string

	Events  []string
	Intents []string

	Priority  Priority
	Threading Threading

	UserRate           time.Duration
	ChannelRate        time.Duration
	GlobalRate         time.Duration
	RateMessage        string
	UserRateMessage    string
	ChannelRateMessage string
	GlobalRateMessage  string
	RateLimitAdmins    bool

	Unblockable bool
	AllowEcho   bool
	AllowBots   bool

	OutputPrefix string
	Doc          string
	Examples     []string

	Handler Handler
}

func (d *Descriptor) label() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// Build compiles the descriptor into rules. Rules whose patterns compile are
// returned even when others fail; the failures are joined into the error,
// each one a *PatternError.
func Build(s *Settings, plugin string, d Descriptor) ([]Rule, error) {
	var (
		built []Rule
		errs  []error
	)
	add := func(r Rule, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		if r != nil {
			built = append(built, r)
		}
	}

	add(buildPatternRule(s, plugin, &d, d.Patterns, d.LazyPatterns, func(b *base, p []*regexp.Regexp) Rule {
		return &GenericRule{base: b, patterns: p}
	}))
	add(buildPatternRule(s, plugin, &d, d.FindPatterns, d.LazyFindPatterns, func(b *base, p []*regexp.Regexp) Rule {
		return &FindRule{base: b, patterns: p}
	}))
	add(buildPatternRule(s, plugin, &d, d.SearchPatterns, d.LazySearchPatterns, func(b *base, p []*regexp.Regexp) Rule {
		return &SearchRule{base: b, patterns: p}
	}))

	if len(d.Commands) > 0 {
		n, err := buildNamed(plugin, &d, d.Commands, s.commandPattern(d.Commands), nil)
		if err == nil {
			add(&Command{named: n, helpPrefix: s.helpPrefix()}, nil)
		} else {
			add(nil, err)
		}
	}
	if len(d.NickCommands) > 0 {
		n, err := buildNamed(plugin, &d, d.NickCommands, s.nickCommandPattern(d.NickCommands), nil)
		if err == nil {
			add(&NickCommand{named: n}, nil)
		} else {
			add(nil, err)
		}
	}
	if len(d.ActionCommands) > 0 {
		n, err := buildNamed(plugin, &d, d.ActionCommands, actionCommandPattern(d.ActionCommands), []string{"ACTION"})
		if err == nil {
			add(&ActionCommand{named: n}, nil)
		} else {
			add(nil, err)
		}
	}

	schemes := d.URLSchemes
	if len(schemes) == 0 {
		schemes = s.schemes()
	}
	add(buildPatternRule(s, plugin, &d, d.URLPatterns, d.LazyURLPatterns, func(b *base, p []*regexp.Regexp) Rule {
		return &URLCallback{base: b, patterns: p, schemes: schemes}
	}))

	if len(built) == 0 && len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrEmptyDescriptor, plugin, d.label())
	}
	return built, errors.Join(errs...)
}

func buildPatternRule(s *Settings, plugin string, d *Descriptor, patterns []string, lazy LazyPatterns, wrap func(*base, []*regexp.Regexp) Rule) (Rule, error) {
	if lazy != nil {
		extra, err := lazy(s)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: rule %s: lazy patterns: %w", plugin, d.label(), err)
		}
		patterns = append(append([]string(nil), patterns...), extra...)
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := CompilePattern(p, s.Nick, s.Aliases)
		if err != nil {
			return nil, &PatternError{Plugin: plugin, Rule: d.label(), Pattern: p, Err: err}
		}
		compiled = append(compiled, re)
	}
	b, err := newBase(plugin, d.label(), d)
	if err != nil {
		return nil, err
	}
	return wrap(b, compiled), nil
}

func buildNamed(plugin string, d *Descriptor, names []string, pattern string, intents []string) (*named, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &PatternError{Plugin: plugin, Rule: names[0], Pattern: pattern, Err: err}
	}
	desc := *d
	if intents != nil {
		desc.Intents = intents
	}
	b, err := newBase(plugin, names[0], &desc)
	if err != nil {
		return nil, err
	}
	return &named{base: b, name: names[0], aliases: append([]string(nil), names[1:]...), pattern: re}, nil
}

// CompilePattern compiles a plugin pattern case-insensitively after
// expanding the $nickname and $nick placeholders.
func CompilePattern(pattern string, nick identifier.Identifier, aliases []string) (*regexp.Regexp, error) {
	nicks := regexp.QuoteMeta(nick.String())
	if len(aliases) > 0 {
		quoted := []string{nicks}
		for _, a := range aliases {
			quoted = append(quoted, regexp.QuoteMeta(a))
		}
		nicks = `(?:` + strings.Join(quoted, "|") + `)`
	}
	pattern = strings.ReplaceAll(pattern, "$nickname", nicks)
	pattern = strings.ReplaceAll(pattern, "$nick ", nicks+`[,:]\s*`)
	pattern = strings.ReplaceAll(pattern, "$nick", nicks+`[,:]\s+`)
	return regexp.Compile(`(?i)` + pattern)
}
