package plugins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dalnet/rulebot/internal/bot"
	"github.com/dalnet/rulebot/internal/rules"
)

const notAdmin = "You are not authorized to do that."

// Controller is what the admin commands need from the bot beyond talking.
type Controller interface {
	Join(channel, key string)
	Part(channel, reason string)
	SetNick(nick string)
	Quit(message string)
}

// AuditLog records privileged commands.
type AuditLog interface {
	Record(hostmask, command string) error
	Recent(n int) []string
}

var errNoController = errors.New("bot does not support admin commands")

// Admin provides the join, part, nick, quit and audit commands, limited to
// admins. Every use is written to audit.
func Admin(audit AuditLog) bot.Plugin {
	a := &admin{audit: audit}
	guarded := func(h rules.Handler) rules.Handler {
		return rules.Chain(h, rules.RequireAdmin(notAdmin), a.record)
	}
	return bot.NewPlugin("admin",
		rules.Descriptor{
			Commands: []string{"join"},
			Doc:      "Joins a channel, with an optional key.",
			Examples: []string{".join #example", ".join #example key"},
			Priority: rules.Low,
			Handler:  guarded(a.join),
		},
		rules.Descriptor{
			Commands: []string{"part"},
			Doc:      "Leaves a channel, with an optional reason.",
			Examples: []string{".part #example", ".part #example bye"},
			Priority: rules.Low,
			Handler:  guarded(a.part),
		},
		rules.Descriptor{
			Commands: []string{"nick"},
			Doc:      "Changes the bot's nick.",
			Examples: []string{".nick NewNick"},
			Priority: rules.Low,
			Handler:  guarded(a.nick),
		},
		rules.Descriptor{
			Commands: []string{"quit"},
			Doc:      "Disconnects the bot.",
			Examples: []string{".quit", ".quit be right back"},
			Priority: rules.Low,
			Handler:  guarded(a.quit),
		},
		rules.Descriptor{
			Commands: []string{"audit"},
			Doc:      "Shows the most recent admin commands, in private.",
			Examples: []string{".audit", ".audit 20"},
			Priority: rules.Low,
			Handler:  rules.Chain(a.recent, rules.RequireAdmin(notAdmin), rules.RequirePrivmsg("Ask me in private.")),
		},
	)
}

type admin struct {
	audit AuditLog
}

// record is middleware writing the invocation to the audit log.
func (a *admin) record(next rules.Handler) rules.Handler {
	return func(ctx context.Context, b rules.Bot, t *rules.Trigger) error {
		if a.audit != nil {
			if err := a.audit.Record(t.Hostmask, t.Text()); err != nil {
				return fmt.Errorf("audit: %w", err)
			}
		}
		return next(ctx, b, t)
	}
}

func controller(b rules.Bot) (Controller, error) {
	c, ok := b.(Controller)
	if !ok {
		return nil, errNoController
	}
	return c, nil
}

func (a *admin) join(_ context.Context, b rules.Bot, t *rules.Trigger) error {
	c, err := controller(b)
	if err != nil {
		return err
	}
	channel := t.Group(3)
	if channel == "" {
		t.Reply(b, "Which channel?")
		return rules.NoLimit
	}
	c.Join(channel, t.Group(4))
	return nil
}

func (a *admin) part(_ context.Context, b rules.Bot, t *rules.Trigger) error {
	c, err := controller(b)
	if err != nil {
		return err
	}
	channel, reason, _ := strings.Cut(t.Group(2), " ")
	if channel == "" {
		if t.IsPrivmsg() {
			t.Reply(b, "Which channel?")
			return rules.NoLimit
		}
		channel = t.Sender.String()
	}
	c.Part(channel, strings.TrimSpace(reason))
	return nil
}

func (a *admin) nick(_ context.Context, b rules.Bot, t *rules.Trigger) error {
	c, err := controller(b)
	if err != nil {
		return err
	}
	nick := t.Group(3)
	if nick == "" {
		t.Reply(b, "Which nick?")
		return rules.NoLimit
	}
	c.SetNick(nick)
	return nil
}

func (a *admin) quit(_ context.Context, b rules.Bot, t *rules.Trigger) error {
	c, err := controller(b)
	if err != nil {
		return err
	}
	message := strings.TrimSpace(t.Group(2))
	if message == "" {
		message = "Quitting on command from " + t.Nick.String()
	}
	c.Quit(message)
	return nil
}

func (a *admin) recent(_ context.Context, b rules.Bot, t *rules.Trigger) error {
	if a.audit == nil {
		t.Reply(b, "No audit log is configured.")
		return nil
	}
	n := 10
	if arg := t.Group(3); arg != "" {
		if v, err := strconv.Atoi(arg); err == nil && v > 0 {
			n = v
		}
	}
	entries := a.audit.Recent(n)
	t.Reply(b, fmt.Sprintf("The last \x02%d\x02 admin commands:", len(entries)))
	for _, e := range entries {
		t.Reply(b, e)
	}
	return nil
}
