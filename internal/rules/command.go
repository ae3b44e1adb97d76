package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

// Group 1 is the command name, group 2 everything after it, groups 3-6
// the first four whitespace separated arguments.
const commandTail = `(?:\s+((?:(\S+))?(?:\s+(\S+))?(?:\s+(\S+))?(?:\s+(\S+))?.*))?$`

// NamedRule is a rule triggered by a name or one of its aliases.
type NamedRule interface {
	Rule
	Name() string
	Aliases() []string
	HasAlias(name string) bool
	// Usage returns the examples with the help prefix applied.
	Usage() []string
}

type named struct {
	*base
	name    string
	aliases []string
	pattern *regexp.Regexp
}

func (n *named) Name() string { return n.name }
func (n *named) Aliases() []string { return n.aliases }

// HasAlias compares case-insensitively, as the pattern does.
func (n *named) HasAlias(name string) bool {
	for _, a := range n.aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

func (n *named) Usage() []string { return n.examples }

func (n *named) match(ownNick identifier.Identifier, l *line.Line) []*Match {
	if !n.accepts(ownNick, l) {
		return nil
	}
	text := l.Text()
	if loc := n.pattern.FindStringSubmatchIndex(text); loc != nil {
		return []*Match{newMatch(n.pattern, text, loc)}
	}
	return nil
}

func (n *named) describe(kind string) string {
	return fmt.Sprintf("<%s %s.%s [%s]>", kind, n.plugin, n.name, strings.Join(n.aliases, "|"))
}

// Command is triggered by the command prefix followed by its name.
type Command struct {
	*named
	helpPrefix string
}

func (c *Command) Match(ownNick identifier.Identifier, l *line.Line) []*Match {
	return c.match(ownNick, l)
}

func (c *Command) String() string { return c.describe("Command") }

// Usage returns the examples rewritten with the configured help prefix.
func (c *Command) Usage() []string {
	if c.helpPrefix == "" || c.helpPrefix == DefaultHelpPrefix {
		return c.examples
	}
	usage := make([]string, len(c.examples))
	for i, ex := range c.examples {
		if strings.HasPrefix(ex, DefaultHelpPrefix) {
			ex = c.helpPrefix + strings.TrimPrefix(ex, DefaultHelpPrefix)
		}
		usage[i] = ex
	}
	return usage
}

// NickCommand is triggered by addressing the bot by nick, e.g. "Bot: name".
type NickCommand struct {
	*named
}

func (c *NickCommand) Match(ownNick identifier.Identifier, l *line.Line) []*Match {
	return c.match(ownNick, l)
}

func (c *NickCommand) String() string { return c.describe("NickCommand") }

// ActionCommand is triggered by a CTCP ACTION starting with its name.
type ActionCommand struct {
	*named
}

func (c *ActionCommand) Match(ownNick identifier.Identifier, l *line.Line) []*Match {
	return c.match(ownNick, l)
}

func (c *ActionCommand) String() string { return c.describe("ActionCommand") }

// commandNames builds the alternation of a name and its aliases.
func (s *Settings) commandNames(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = s.escapeCommand(n)
	}
	return strings.Join(parts, "|")
}

// escapeCommand quotes a command name. With legacy regex commands enabled,
// a name holding metacharacters is kept as a pattern when it compiles.
func (s *Settings) escapeCommand(name string) string {
	quoted := regexp.QuoteMeta(name)
	if quoted == name || !s.LegacyRegexCommands {
		return quoted
	}
	if _, err := regexp.Compile(name); err != nil {
		return quoted
	}
	s.logger().WithField("command", name).Warn("command name used as a regular expression; this is deprecated")
	return name
}

func (s *Settings) nickAlternation() string {
	nicks := []string{regexp.QuoteMeta(s.Nick.String())}
	for _, a := range s.Aliases {
		nicks = append(nicks, regexp.QuoteMeta(a))
	}
	return `(?:` + strings.Join(nicks, "|") + `)`
}

func (s *Settings) commandPattern(names []string) string {
	return `(?i)^(?:` + s.prefix() + `)(` + s.commandNames(names) + `)` + commandTail
}

func (s *Settings) nickCommandPattern(names []string) string {
	return `(?i)^` + s.nickAlternation() + `[:,]?\s+(` + s.commandNames(names) + `)` + commandTail
}

func actionCommandPattern(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = regexp.QuoteMeta(n)
	}
	return `(?i)^(` + strings.Join(parts, "|") + `)` + commandTail
}
