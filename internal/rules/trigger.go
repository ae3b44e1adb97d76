package rules

import (
	"regexp"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

// Access decides who is the owner and who is an admin.
type Access struct {
	owner         *regexp.Regexp
	ownerAccount  string
	admins        []*regexp.Regexp
	adminAccounts map[string]struct{}
}

// NewAccess compiles the owner and admin hostmask patterns.
func NewAccess(owner, ownerAccount string, admins, adminAccounts []string) (*Access, error) {
	a := &Access{ownerAccount: ownerAccount, adminAccounts: make(map[string]struct{})}
	if owner != "" {
		re, err := identifier.HostmaskPattern(owner)
		if err != nil {
			return nil, err
		}
		a.owner = re
	}
	for _, mask := range admins {
		re, err := identifier.HostmaskPattern(mask)
		if err != nil {
			return nil, err
		}
		a.admins = append(a.admins, re)
	}
	for _, acct := range adminAccounts {
		a.adminAccounts[acct] = struct{}{}
	}
	return a, nil
}

// IsOwner checks the owner account when one is configured, else the
// owner hostmask.
func (a *Access) IsOwner(nick, host, account string) bool {
	if a == nil {
		return false
	}
	if a.ownerAccount != "" {
		return account != "" && account == a.ownerAccount
	}
	return identifier.MatchHostmask(a.owner, nick, host)
}

// IsAdmin is true for the owner, admin accounts and admin hostmasks.
func (a *Access) IsAdmin(nick, host, account string) bool {
	if a == nil {
		return false
	}
	if a.IsOwner(nick, host, account) {
		return true
	}
	if account != "" {
		if _, ok := a.adminAccounts[account]; ok {
			return true
		}
	}
	for _, re := range a.admins {
		if identifier.MatchHostmask(re, nick, host) {
			return true
		}
	}
	return false
}

// Trigger is what a handler receives: the line, the match that fired the
// rule and who sent it.
type Trigger struct {
	*line.Line
	Match *Match
	// Account is the services account of the sender, "" when unknown.
	Account string

	admin bool
	owner bool
}

// NewTrigger resolves owner and admin status once for l.
func NewTrigger(l *line.Line, m *Match, account string, access *Access) *Trigger {
	nick := l.Nick.String()
	return &Trigger{
		Line:    l,
		Match:   m,
		Account: account,
		owner:   access.IsOwner(nick, l.Host, account),
		admin:   access.IsAdmin(nick, l.Host, account),
	}
}

// Admin reports whether the sender is an admin or the owner.
func (t *Trigger) Admin() bool { return t.admin }

// Owner reports whether the sender is the owner.
func (t *Trigger) Owner() bool { return t.owner }

// IsPrivmsg reports whether the line was sent to the bot directly.
func (t *Trigger) IsPrivmsg() bool { return t.Line.IsPrivate() }

// Group returns capture group n, "" when it did not participate.
func (t *Trigger) Group(n int) string {
	if t.Match == nil {
		return ""
	}
	s, _ := t.Match.Group(n)
	return s
}

// Groups returns every capture group after the whole match.
func (t *Trigger) Groups() []string {
	if t.Match == nil {
		return nil
	}
	return t.Match.Groups()
}

// Target is where replies to this trigger go: the channel, or the nick
// for private messages.
func (t *Trigger) Target() string {
	if t.Sender.IsZero() {
		return t.Nick.String()
	}
	return t.Sender.String()
}

// Reply says message in the trigger's context.
func (t *Trigger) Reply(bot Bot, message string) {
	bot.Say(t.Target(), message)
}
