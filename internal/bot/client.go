package bot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/dalnet/rulebot/internal/config"
	"github.com/dalnet/rulebot/internal/dispatch"
	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
	"github.com/dalnet/rulebot/internal/rules"
)

// Capabilities requested on connect. Tags, accounts and server-time feed
// the line parser and the dispatcher.
var Capabilities = []string{
	"account-notify",
	"account-tag",
	"extended-join",
	"message-tags",
	"server-time",
}

// Events are the commands and numerics handed from the connection to the
// dispatcher.
var Events = []string{
	"PRIVMSG", "NOTICE",
	"JOIN", "PART", "KICK", "QUIT", "NICK",
	"ACCOUNT", "MODE", "TOPIC", "INVITE",
	ircevent.RPL_ENDOFMOTD, ircevent.ERR_NOMOTD,
}

// conn is the part of the connection used to talk to the server.
type conn interface {
	Send(command string, params ...string) error
	CurrentNick() string
	SetNick(nick string)
	Quit()
}

// Client represents the IRC bot client
type Client struct {
	cfg      *config.Config
	irc      *ircevent.Connection
	conn     conn
	ids      identifier.Factory
	settings *rules.Settings

	registry   *rules.Registry
	dispatcher *dispatch.Dispatcher
	accounts   *Accounts
	channels   *Channels

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	log     *logrus.Entry
}

// NewClient creates a new IRC client with the core plugin loaded.
func NewClient(cfg *config.Config, log *logrus.Entry) (*Client, error) {
	irc := &ircevent.Connection{
		Server:       cfg.Address(),
		Nick:         cfg.Nick,
		User:         cfg.User,
		RealName:     cfg.RealName,
		Password:     cfg.ServerPass,
		QuitMessage:  "Shutting down",
		UseTLS:       cfg.TLS,
		TLSConfig:    &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS()},
		UseSASL:      cfg.SASLLogin != "",
		SASLLogin:    cfg.SASLLogin,
		SASLPassword: cfg.SASLPassword,
		RequestCaps:  Capabilities,
		// CTCP stays framed so the line parser sees the intent.
		EnableCTCP:   false,
	}
	c, err := newClient(cfg, irc, log)
	if err != nil {
		return nil, err
	}
	c.irc = irc
	for _, event := range Events {
		irc.AddCallback(event, c.onMessage)
	}
	return c, nil
}

func newClient(cfg *config.Config, conn conn, log *logrus.Entry) (*Client, error) {
	access, err := cfg.Access()
	if err != nil {
		return nil, fmt.Errorf("failed to compile owner and admins: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		ids:      cfg.Identifiers(),
		settings: cfg.Settings(log.WithField("component", "rules")),
		registry: rules.NewRegistry(log.WithField("component", "registry")),
		accounts: NewAccounts(cfg.AccountTTL),
		channels: NewChannels(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		log:      log.WithField("component", "bot"),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.dispatcher = dispatch.New(c.registry, access, cfg.Dispatch(),
		dispatch.WithAccounts(c.accounts),
		dispatch.WithJoinTimes(c.channels),
		dispatch.WithLogger(log.WithField("component", "dispatch")),
	)

	if err := c.Load(c.coretasks()); err != nil {
		return nil, fmt.Errorf("failed to load core plugin: %w", err)
	}
	return c, nil
}

// Connect initiates the IRC connection
func (c *Client) Connect() error {
	if c.irc == nil {
		return errors.New("client has no connection")
	}
	c.log.WithField("server", c.cfg.Address()).Info("Connecting")
	return c.irc.Connect()
}

// Loop runs the IRC event loop (blocking)
func (c *Client) Loop() {
	c.irc.Loop()
}

// Shutdown stops dispatching and waits up to grace for running handlers.
func (c *Client) Shutdown(grace time.Duration) bool {
	ok := c.dispatcher.Shutdown(grace)
	c.cancel()
	return ok
}

func (c *Client) onMessage(msg ircmsg.Message) {
	raw, err := msg.Line()
	if err != nil {
		c.log.WithError(err).WithField("command", msg.Command).Warn("Could not serialise message")
		return
	}
	c.HandleLine(raw)
}

// HandleLine parses one raw line and dispatches it.
func (c *Client) HandleLine(raw string) {
	l, err := line.Parse(c.Nick(), raw,
		line.WithIdentifiers(c.ids),
		line.WithURLSchemes(c.cfg.URLSchemes),
		line.WithStatusPrefixes(c.cfg.StatusPrefixes),
	)
	if err != nil {
		c.log.WithError(err).Debug("Dropping unparseable line")
		return
	}
	c.dispatcher.Dispatch(c, l)
}

// Registry is where plugin rules live.
func (c *Client) Registry() *rules.Registry { return c.registry }

// Dispatcher runs triggered rules.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// Accounts tracks the services accounts of nicks.
func (c *Client) Accounts() *Accounts { return c.accounts }

// Channels tracks the channels the bot is in.
func (c *Client) Channels() *Channels { return c.channels }

// Settings are the values rules are compiled against.
func (c *Client) Settings() *rules.Settings { return c.settings }

// Nick is the bot's current nick.
func (c *Client) Nick() identifier.Identifier {
	if nick := c.conn.CurrentNick(); nick != "" {
		return c.ids.New(nick)
	}
	return c.ids.New(c.cfg.Nick)
}

// send waits for the flood limiter, then writes one message.
func (c *Client) send(command string, params ...string) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		c.log.WithField("command", command).Debug("Dropping message after shutdown")
		return
	}
	if err := c.conn.Send(command, params...); err != nil {
		c.log.WithError(err).WithField("command", command).Warn("Failed to send")
	}
}

// sendLines sends one message per non-empty line of text.
func (c *Client) sendLines(command, target, text string) {
	for _, part := range strings.Split(text, "\n") {
		part = strings.TrimRight(part, "\r")
		if part == "" {
			continue
		}
		c.send(command, target, part)
	}
}

// Say sends a PRIVMSG to target, one per line of message.
func (c *Client) Say(target, message string) {
	c.sendLines("PRIVMSG", target, message)
}

// Notice sends a NOTICE to target, one per line of message.
func (c *Client) Notice(target, message string) {
	c.sendLines("NOTICE", target, message)
}

// Action sends message to target as a CTCP ACTION.
func (c *Client) Action(target, message string) {
	c.send("PRIVMSG", target, "\x01ACTION "+message+"\x01")
}

// Reply addresses message to the trigger's nick in its context.
func (c *Client) Reply(t *rules.Trigger, message string) {
	c.Say(t.Target(), fmt.Sprintf("%s: %s", t.Nick, message))
}

// Join joins a channel, with an optional key.
func (c *Client) Join(channel, key string) {
	if key != "" {
		c.send("JOIN", channel, key)
		return
	}
	c.send("JOIN", channel)
}

// Part leaves a channel.
func (c *Client) Part(channel, reason string) {
	if reason != "" {
		c.send("PART", channel, reason)
		return
	}
	c.send("PART", channel)
}

// SetNick asks the server for a new nick.
func (c *Client) SetNick(nick string) {
	c.conn.SetNick(nick)
}

// Quit disconnects from IRC
func (c *Client) Quit(message string) {
	if c.irc != nil && message != "" {
		c.irc.QuitMessage = message
	}
	c.conn.Quit()
}
