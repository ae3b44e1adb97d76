package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/dalnet/rulebot/internal/dispatch"
	"github.com/dalnet/rulebot/internal/line"
	"github.com/dalnet/rulebot/internal/rules"
)

// core returns a descriptor for bookkeeping that must see every line:
// inline, high priority, never blocked.
func core(name string, events []string, handler rules.Handler) rules.Descriptor {
	return rules.Descriptor{
		Name:        name,
		Patterns:    []string{`.*`},
		Events:      events,
		Priority:    rules.High,
		Threading:   rules.Inline,
		Unblockable: true,
		AllowBots:   true,
		Handler:     handler,
	}
}

// ctcp returns a descriptor answering one CTCP query.
func ctcp(name, intent string, handler rules.Handler) rules.Descriptor {
	return rules.Descriptor{
		Name:      name,
		Patterns:  []string{`.*`},
		Intents:   []string{intent},
		Threading: rules.Inline,
		UserRate:  5 * time.Second,
		Handler:   handler,
	}
}

func (c *Client) coretasks() Plugin {
	return NewPlugin(dispatch.CorePlugin,
		core("startup", []string{"376", "422"}, c.onConnect),
		core("track_join", []string{"JOIN"}, c.onJoin),
		core("track_part", []string{"PART", "KICK"}, c.onPart),
		core("track_account", []string{"ACCOUNT"}, c.onAccount),
		core("track_nick", []string{"NICK"}, c.onNick),
		core("track_quit", []string{"QUIT"}, c.onQuit),
		core("track_account_tag", []string{"PRIVMSG", "NOTICE"}, c.onAccountTag),
		ctcp("ctcp_version", "VERSION", c.onCtcpVersion),
		ctcp("ctcp_ping", "PING", c.onCtcpPing),
		ctcp("ctcp_time", "TIME", c.onCtcpTime),
	)
}

// onConnect runs at the end of the MOTD.
func (c *Client) onConnect(_ context.Context, _ rules.Bot, _ *rules.Trigger) error {
	c.log.Info("Connected to IRC server")
	c.channels.Reset()

	if c.cfg.NickPass != "" && c.cfg.SASLLogin == "" {
		c.Say("NickServ", fmt.Sprintf("IDENTIFY %s %s", c.cfg.Nick, c.cfg.NickPass))
	}
	for _, channel := range c.cfg.ChannelsJoin {
		c.Join(channel, "")
	}
	return nil
}

func (c *Client) onJoin(_ context.Context, _ rules.Bot, t *rules.Trigger) error {
	if account, ok := t.Tag(line.TagAccount); ok {
		c.accounts.Set(t.Nick, account)
	}
	if t.Nick.Equal(c.Nick()) && !t.Sender.IsZero() {
		c.channels.Joined(t.Sender, t.Time)
		c.log.WithField("channel", t.Sender.String()).Info("Joined channel")
	}
	return nil
}

func (c *Client) onPart(_ context.Context, _ rules.Bot, t *rules.Trigger) error {
	who := t.Nick
	if t.Event == "KICK" {
		if len(t.Args) < 2 {
			return nil
		}
		who = c.ids.New(t.Args[1])
	}
	if who.Equal(c.Nick()) && !t.Sender.IsZero() {
		c.channels.Left(t.Sender)
		c.log.WithField("channel", t.Sender.String()).Info("Left channel")
	}
	return nil
}

func (c *Client) onAccount(_ context.Context, _ rules.Bot, t *rules.Trigger) error {
	c.accounts.Set(t.Nick, t.Text())
	return nil
}

func (c *Client) onNick(_ context.Context, _ rules.Bot, t *rules.Trigger) error {
	c.accounts.Rename(t.Nick, c.ids.New(t.Text()))
	return nil
}

func (c *Client) onQuit(_ context.Context, _ rules.Bot, t *rules.Trigger) error {
	c.accounts.Forget(t.Nick)
	return nil
}

func (c *Client) onAccountTag(_ context.Context, _ rules.Bot, t *rules.Trigger) error {
	if account, ok := t.Tag(line.TagAccount); ok {
		c.accounts.Set(t.Nick, account)
	}
	return nil
}

func (c *Client) onCtcpVersion(_ context.Context, bot rules.Bot, t *rules.Trigger) error {
	bot.Notice(t.Nick.String(), "\x01VERSION "+VersionString()+"\x01")
	return nil
}

func (c *Client) onCtcpPing(_ context.Context, bot rules.Bot, t *rules.Trigger) error {
	bot.Notice(t.Nick.String(), "\x01PING "+t.Text()+"\x01")
	return nil
}

func (c *Client) onCtcpTime(_ context.Context, bot rules.Bot, t *rules.Trigger) error {
	bot.Notice(t.Nick.String(), "\x01TIME "+time.Now().UTC().Format(time.RFC1123)+"\x01")
	return nil
}
