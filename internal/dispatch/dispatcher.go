package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
	"github.com/dalnet/rulebot/internal/rules"
)

// Config holds the policy inputs of the dispatcher.
type Config struct {
	Identifiers    identifier.Factory
	NickBlocks     []string
	HostBlocks     []string
	HostmaskBlocks []string
	// ReplyErrors sends handler failures back to where they came from.
	ReplyErrors bool
	Channels    map[string]ChannelPolicy
}

// Accounts resolves the services account of a nick.
type Accounts interface {
	Account(nick identifier.Identifier) (string, bool)
}

// JoinTimes reports when the bot joined a channel.
type JoinTimes interface {
	JoinedAt(channel identifier.Identifier) (time.Time, bool)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAccounts sets the account resolver used when a line has no account tag.
func WithAccounts(a Accounts) Option {
	return func(d *Dispatcher) { d.accounts = a }
}

// WithJoinTimes makes the dispatcher skip messages replayed from before
// the bot joined their channel.
func WithJoinTimes(j JoinTimes) Option {
	return func(d *Dispatcher) { d.joins = j }
}

// WithClock replaces the clock used to check and record rate limits.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the log entry.
func WithLogger(log *logrus.Entry) Option {
	return func(d *Dispatcher) { d.log = log }
}

// Dispatcher runs the rules triggered by each line.
type Dispatcher struct {
	registry *rules.Registry
	access   *rules.Access
	blocks   *Blocklist
	channels channelPolicies
	cfg      Config

	accounts Accounts
	joins    JoinTimes
	now      func() time.Time
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	running map[uuid.UUID]string
	closed  atomic.Bool
}

// New returns a dispatcher over the registry.
func New(registry *rules.Registry, access *rules.Access, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		access:   access,
		cfg:      cfg,
		now:      time.Now,
		log:      logrus.WithField("component", "dispatch"),
		running:  make(map[uuid.UUID]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.blocks = NewBlocklist(cfg.Identifiers, cfg.NickBlocks, cfg.HostBlocks, cfg.HostmaskBlocks, d.log)
	d.channels = newChannelPolicies(cfg.Identifiers, cfg.Channels)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Dispatch runs every rule triggered by l, in priority order. Inline rules
// finish before Dispatch returns; concurrent ones are left running.
func (d *Dispatcher) Dispatch(bot rules.Bot, l *line.Line) {
	if d.closed.Load() {
		return
	}
	linesDispatched.WithLabelValues(l.Event).Inc()

	if d.replayed(l) {
		d.log.WithField("event", l.Event).WithField("sender", l.Sender.String()).Debug("Skipping line sent before we joined")
		return
	}

	blocked := d.blocks.Blocked(l)
	account := d.account(l)
	at := d.now()

	var prevented []string
	for _, tr := range d.registry.FindTriggered(bot.Nick(), l) {
		rule := tr.Rule
		t := rules.NewTrigger(l, tr.Match, account, d.access)

		if blocked && !rule.Unblockable() && !t.Admin() {
			prevented = append(prevented, rule.Plugin()+"."+rule.Label())
			suppressed.WithLabelValues(rule.Plugin(), reasonBlocked).Inc()
			continue
		}
		if d.channels.disabled(l.Sender, rule) {
			suppressed.WithLabelValues(rule.Plugin(), reasonDisabled).Inc()
			continue
		}
		if d.rateLimited(bot, rule, t, at) {
			suppressed.WithLabelValues(rule.Plugin(), reasonRateLimited).Inc()
			continue
		}
		rule.Start(t, at)

		if rule.Threading() == rules.Inline {
			d.call(bot, rule, t)
			continue
		}
		d.launch(bot, rule, t)
	}

	if len(prevented) > 0 {
		d.log.WithFields(logrus.Fields{
			"nick":   l.Nick.String(),
			"sender": l.Sender.String(),
		}).Infof("%s prevented from using %s", l.Nick, strings.Join(prevented, ", "))
	}
}

func (d *Dispatcher) replayed(l *line.Line) bool {
	if d.joins == nil || !l.HasTag(line.TagTime) || l.Sender.IsZero() || l.Sender.IsNick() {
		return false
	}
	if l.Event != "PRIVMSG" && l.Event != "NOTICE" {
		return false
	}
	joined, ok := d.joins.JoinedAt(l.Sender)
	return ok && l.Time.Before(joined)
}

func (d *Dispatcher) account(l *line.Line) string {
	if acct, ok := l.Tag(line.TagAccount); ok {
		if acct == "*" {
			return ""
		}
		return acct
	}
	if d.accounts != nil && !l.Nick.IsZero() {
		if acct, ok := d.accounts.Account(l.Nick); ok {
			return acct
		}
	}
	return ""
}

// rateLimited checks the user, channel and global windows in that order
// and notifies the nick when the rule has a message for the first one hit.
func (d *Dispatcher) rateLimited(bot rules.Bot, rule rules.Rule, t *rules.Trigger, at time.Time) bool {
	if rule.Unblockable() || (t.Admin() && !rule.RateLimitsAdmins()) {
		return false
	}
	scope := rules.UserScope
	limited, left := rule.RateLimited(rules.UserScope, t.Nick.Key(), at)
	if !limited && !t.IsPrivmsg() && !t.Sender.IsZero() {
		scope = rules.ChannelScope
		limited, left = rule.RateLimited(rules.ChannelScope, t.Sender.Key(), at)
	}
	if !limited {
		scope = rules.GlobalScope
		limited, left = rule.RateLimited(rules.GlobalScope, "", at)
	}
	if !limited {
		return false
	}

	d.log.WithFields(logrus.Fields{
		"plugin": rule.Plugin(),
		"rule":   rule.Label(),
		"nick":   t.Nick.String(),
		"scope":  scope.String(),
	}).Debug("Rule rate limited")

	if tmpl := rule.RateLimitTemplate(scope); tmpl != "" {
		bot.Notice(t.Nick.String(), renderRateMessage(tmpl, rule, t, scope, left))
	}
	return true
}

func renderRateMessage(tmpl string, rule rules.Rule, t *rules.Trigger, scope rules.RateScope, left time.Duration) string {
	channel := "private message"
	if !t.IsPrivmsg() && !t.Sender.IsZero() {
		channel = t.Sender.String()
	}
	limit := rule.RateLimit(scope)
	return strings.NewReplacer(
		"{nick}", t.Nick.String(),
		"{channel}", channel,
		"{sender}", t.Sender.String(),
		"{plugin}", rule.Plugin(),
		"{label}", rule.Label(),
		"{time_left}", left.Round(time.Second).String(),
		"{time_left_sec}", fmt.Sprintf("%.0f", math.Ceil(left.Seconds())),
		"{rate_limit}", limit.String(),
		"{rate_limit_sec}", fmt.Sprintf("%.0f", limit.Seconds()),
		"{rate_limit_type}", scope.String(),
	).Replace(tmpl)
}

func (d *Dispatcher) launch(bot rules.Bot, rule rules.Rule, t *rules.Trigger) {
	id := uuid.New()
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return
	}
	d.running[id] = fmt.Sprintf("%s-%s-%s", rule.Plugin(), rule.Label(), id)
	d.wg.Add(1)
	d.mu.Unlock()
	inFlight.Inc()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.running, id)
			d.mu.Unlock()
			inFlight.Dec()
			d.wg.Done()
		}()
		d.call(bot, rule, t)
	}()
}

// call executes one rule, turning errors and panics into a HandlerError.
func (d *Dispatcher) call(bot rules.Bot, rule rules.Rule, t *rules.Trigger) {
	defer func() {
		if r := recover(); r != nil {
			d.fail(bot, rule, t, &HandlerError{
				Plugin: rule.Plugin(),
				Rule:   rule.Label(),
				Nick:   t.Nick.String(),
				Line:   t.Raw,
				Panic:  true,
				Err:    fmt.Errorf("%v\n%s", r, debug.Stack()),
			})
		}
	}()

	err := rule.Execute(d.ctx, withOutputPrefix(bot, rule.OutputPrefix()), t, d.now)
	if err == nil || errors.Is(err, rules.NoLimit) {
		executions.WithLabelValues(rule.Plugin(), resultOK).Inc()
		return
	}
	d.fail(bot, rule, t, &HandlerError{
		Plugin: rule.Plugin(),
		Rule:   rule.Label(),
		Nick:   t.Nick.String(),
		Line:   t.Raw,
		Err:    err,
	})
}

func (d *Dispatcher) fail(bot rules.Bot, rule rules.Rule, t *rules.Trigger, herr *HandlerError) {
	result := resultError
	if herr.Panic {
		result = resultPanic
	}
	executions.WithLabelValues(rule.Plugin(), result).Inc()

	d.log.WithError(herr.Err).WithFields(logrus.Fields{
		"plugin": herr.Plugin,
		"rule":   herr.Rule,
		"nick":   herr.Nick,
		"line":   herr.Line,
	}).Error("Rule execution failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("plugin", herr.Plugin)
		scope.SetTag("rule", herr.Rule)
		sentry.CaptureException(herr)
	})

	if d.cfg.ReplyErrors && !errors.Is(herr.Err, rules.ErrNotConfigured) {
		bot.Say(t.Target(), fmt.Sprintf("Unexpected error (%s) from %s. Sorry about that.", summary(herr), t.Nick))
	}
}

func summary(herr *HandlerError) string {
	msg := herr.Err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

// Running names the concurrent executions still in progress.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.running))
	for _, name := range d.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown stops dispatching and waits up to grace for running executions.
// When the grace period elapses their context is cancelled, the leftovers
// are logged and false is returned.
func (d *Dispatcher) Shutdown(grace time.Duration) bool {
	d.mu.Lock()
	d.closed.Store(true)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return true
	case <-time.After(grace):
		d.cancel()
		d.log.WithField("running", d.Running()).Warnf("Shutdown grace period of %s elapsed with executions still running", grace)
		return false
	}
}
