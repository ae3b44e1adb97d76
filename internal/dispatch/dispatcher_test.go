package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
	"github.com/dalnet/rulebot/internal/rules"
)

var botNick = identifier.New("Sopel")

type message struct {
	kind, target, text string
}

type fakeBot struct {
	mu   sync.Mutex
	sent []message
}

func (b *fakeBot) Nick() identifier.Identifier { return botNick }

func (b *fakeBot) Say(target, text string) { b.record("say", target, text) }

func (b *fakeBot) Notice(target, text string) { b.record("notice", target, text) }

func (b *fakeBot) Action(target, text string) { b.record("action", target, text) }

func (b *fakeBot) record(kind, target, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, message{kind, target, text})
}

func (b *fakeBot) messages() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]message(nil), b.sent...)
}

type fixture struct {
	t        *testing.T
	registry *rules.Registry
	bot      *fakeBot
	offset   *atomic.Duration
	hook     *test.Hook
	log      *logrus.Entry
}

func newFixture(t *testing.T) *fixture {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)
	return &fixture{
		t:        t,
		registry: rules.NewRegistry(log),
		bot:      &fakeBot{},
		offset:   atomic.NewDuration(0),
		hook:     hook,
		log:      log,
	}
}

func (f *fixture) register(plugin string, d rules.Descriptor) {
	f.t.Helper()
	built, err := rules.Build(&rules.Settings{Nick: botNick}, plugin, d)
	require.NoError(f.t, err)
	require.NoError(f.t, f.registry.RegisterAll(built))
}

func (f *fixture) dispatcher(cfg Config, access *rules.Access, opts ...Option) *Dispatcher {
	opts = append([]Option{
		WithLogger(f.log),
		WithClock(func() time.Time { return time.Now().Add(f.offset.Load()) }),
	}, opts...)
	return New(f.registry, access, cfg, opts...)
}

func (f *fixture) parse(raw string) *line.Line {
	f.t.Helper()
	l, err := line.Parse(botNick, raw)
	require.NoError(f.t, err)
	return l
}

type counter struct {
	mu    sync.Mutex
	calls []string
}

func (c *counter) handler(name string) rules.Handler {
	return func(context.Context, rules.Bot, *rules.Trigger) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls = append(c.calls, name)
		return nil
	}
}

func (c *counter) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestDispatch_PriorityOrderInline(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("order", rules.Descriptor{Name: "low", Patterns: []string{`.*`}, Priority: rules.Low, Threading: rules.Inline, Handler: c.handler("low")})
	f.register("order", rules.Descriptor{Name: "medium", Patterns: []string{`.*`}, Threading: rules.Inline, Handler: c.handler("medium")})
	f.register("order", rules.Descriptor{Name: "high", Patterns: []string{`.*`}, Priority: rules.High, Threading: rules.Inline, Handler: c.handler("high")})

	d := f.dispatcher(Config{}, nil)
	d.Dispatch(f.bot, f.parse(":Foo!foo@x PRIVMSG #c :hello"))

	assert.Equal(t, []string{"high", "medium", "low"}, c.get())
}

func TestDispatch_ChannelRateLimit(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("ratelimit", rules.Descriptor{
		Name:        "limited",
		Commands:    []string{"limited"},
		ChannelRate: 30 * time.Second,
		Threading:   rules.Inline,
		Handler:     c.handler("limited"),
	})
	d := f.dispatcher(Config{}, nil)
	raw := ":Foo!foo@x PRIVMSG #chan :.limited"

	d.Dispatch(f.bot, f.parse(raw))
	require.Len(t, c.get(), 1)

	f.offset.Store(10 * time.Second)
	d.Dispatch(f.bot, f.parse(strings.Replace(raw, "Foo!foo", "Bar!bar", 1)))
	assert.Len(t, c.get(), 1)

	f.offset.Store(31 * time.Second)
	d.Dispatch(f.bot, f.parse(raw))
	assert.Len(t, c.get(), 2)
}

func TestDispatch_UserRateLimitAndNoLimit(t *testing.T) {
	f := newFixture(t)
	calls := atomic.NewInt64(0)
	ignore := atomic.NewBool(true)
	f.register("userrate", rules.Descriptor{
		Name:      "cmd",
		Commands:  []string{"cmd"},
		UserRate:  20 * time.Second,
		Threading: rules.Inline,
		Handler: func(context.Context, rules.Bot, *rules.Trigger) error {
			calls.Inc()
			if ignore.Load() {
				return rules.NoLimit
			}
			return nil
		},
	})
	d := f.dispatcher(Config{}, nil)
	l := f.parse(":Foo!foo@x PRIVMSG #c :.cmd")

	d.Dispatch(f.bot, l)
	d.Dispatch(f.bot, l)
	assert.Equal(t, int64(2), calls.Load())

	ignore.Store(false)
	d.Dispatch(f.bot, l)
	f.offset.Store(5 * time.Second)
	d.Dispatch(f.bot, l)
	assert.Equal(t, int64(3), calls.Load())
}

func TestDispatch_RateLimitNotice(t *testing.T) {
	f := newFixture(t)
	f.register("notice", rules.Descriptor{
		Name:            "slow",
		Commands:        []string{"slow"},
		UserRate:        time.Minute,
		UserRateMessage: "{nick}: {label} from {plugin} is {rate_limit_type} limited in {channel}, every {rate_limit_sec}s",
		Threading:       rules.Inline,
		Handler:         func(context.Context, rules.Bot, *rules.Trigger) error { return nil },
	})
	d := f.dispatcher(Config{}, nil)
	l := f.parse(":Foo!foo@x PRIVMSG #c :.slow")

	d.Dispatch(f.bot, l)
	d.Dispatch(f.bot, l)

	assert.Equal(t, []message{{"notice", "Foo", "Foo: slow from notice is user limited in #c, every 60s"}}, f.bot.messages())
	assert.Equal(t, float64(1), testutil.ToFloat64(suppressed.WithLabelValues("notice", reasonRateLimited)))
}

func TestDispatch_RateLimitNoticeRoundsUp(t *testing.T) {
	f := newFixture(t)
	f.register("ceil", rules.Descriptor{
		Name:            "slow",
		Commands:        []string{"slow"},
		UserRate:        time.Minute,
		UserRateMessage: "wait {time_left_sec}s",
		Threading:       rules.Inline,
		Handler:         func(context.Context, rules.Bot, *rules.Trigger) error { return nil },
	})
	d := f.dispatcher(Config{}, nil)
	l := f.parse(":Foo!foo@x PRIVMSG #c :.slow")

	d.Dispatch(f.bot, l)
	f.offset.Store(59*time.Second + 500*time.Millisecond)
	d.Dispatch(f.bot, l)

	assert.Equal(t, []message{{"notice", "Foo", "wait 1s"}}, f.bot.messages())
}

func TestDispatch_RateLimitWhileRunning(t *testing.T) {
	f := newFixture(t)
	started := atomic.NewInt64(0)
	release := make(chan struct{})
	f.register("running", rules.Descriptor{
		Name:     "slow",
		Commands: []string{"slow"},
		UserRate: 20 * time.Second,
		Handler: func(ctx context.Context, _ rules.Bot, _ *rules.Trigger) error {
			started.Inc()
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	})
	d := f.dispatcher(Config{}, nil)
	l := f.parse(":Foo!foo@x PRIVMSG #c :.slow")

	for i := 0; i < 3; i++ {
		d.Dispatch(f.bot, l)
		time.Sleep(50 * time.Millisecond)
	}
	assert.Len(t, d.Running(), 1)
	assert.Equal(t, int64(1), started.Load())

	other := f.parse(":Bar!bar@x PRIVMSG #c :.slow")
	d.Dispatch(f.bot, other)
	assert.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 10*time.Millisecond)

	close(release)
	require.True(t, d.Shutdown(time.Second))
	assert.Equal(t, int64(2), started.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(suppressed.WithLabelValues("running", reasonRateLimited)))
}

func TestDispatch_AdminsBypassRateLimit(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("adminrate", rules.Descriptor{Name: "a", Commands: []string{"a"}, GlobalRate: time.Hour, Threading: rules.Inline, Handler: c.handler("a")})
	f.register("adminrate", rules.Descriptor{Name: "b", Commands: []string{"b"}, GlobalRate: time.Hour, RateLimitAdmins: true, Threading: rules.Inline, Handler: c.handler("b")})

	access, err := rules.NewAccess("", "", []string{"Boss"}, nil)
	require.NoError(t, err)
	d := f.dispatcher(Config{}, access)

	for i := 0; i < 2; i++ {
		d.Dispatch(f.bot, f.parse(":Boss!b@x PRIVMSG #c :.a"))
		d.Dispatch(f.bot, f.parse(":Boss!b@x PRIVMSG #c :.b"))
	}
	assert.Equal(t, []string{"a", "b", "a"}, c.get())
}

func TestDispatch_Blocked(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("blocks", rules.Descriptor{Name: "open", Patterns: []string{`.*`}, Unblockable: true, Threading: rules.Inline, Handler: c.handler("open")})
	f.register("blocks", rules.Descriptor{Name: "closed", Patterns: []string{`.*`}, Threading: rules.Inline, Handler: c.handler("closed")})
	f.register("blocks", rules.Descriptor{Name: "closed2", FindPatterns: []string{`\w+`}, Threading: rules.Inline, Handler: c.handler("closed2")})

	d := f.dispatcher(Config{NickBlocks: []string{"Spam.*"}}, nil)
	d.Dispatch(f.bot, f.parse(":Spammer!s@x PRIVMSG #c :hi"))

	assert.Equal(t, []string{"open"}, c.get())

	var prevented []*logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if strings.Contains(e.Message, "prevented from using") {
			prevented = append(prevented, e)
		}
	}
	require.Len(t, prevented, 1)
	assert.Equal(t, "Spammer prevented from using blocks.closed, blocks.closed2", prevented[0].Message)
}

func TestDispatch_BlockedAdminStillRuns(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("adminblock", rules.Descriptor{Name: "x", Patterns: []string{`.*`}, Threading: rules.Inline, Handler: c.handler("x")})

	access, err := rules.NewAccess("", "", nil, []string{"bossacct"})
	require.NoError(t, err)
	d := f.dispatcher(Config{HostBlocks: []string{`.*\.bad\.net`}}, access)

	d.Dispatch(f.bot, f.parse(":A!a@host.bad.net PRIVMSG #c :hi"))
	d.Dispatch(f.bot, f.parse("@account=bossacct :B!b@host.bad.net PRIVMSG #c :hi"))
	assert.Equal(t, []string{"x"}, c.get())
}

func TestDispatch_HandlerFailureIsolated(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("failing", rules.Descriptor{Name: "boom", Patterns: []string{`.*`}, Priority: rules.High, Threading: rules.Inline,
		Handler: func(context.Context, rules.Bot, *rules.Trigger) error { panic("kaboom") }})
	f.register("failing", rules.Descriptor{Name: "err", Patterns: []string{`.*`}, Threading: rules.Inline,
		Handler: func(context.Context, rules.Bot, *rules.Trigger) error { return errors.New("bad input") }})
	f.register("failing", rules.Descriptor{Name: "fine", Patterns: []string{`.*`}, Priority: rules.Low, Threading: rules.Inline, Handler: c.handler("fine")})

	d := f.dispatcher(Config{}, nil)
	d.Dispatch(f.bot, f.parse(":Foo!foo@x PRIVMSG #c :hi"))

	assert.Equal(t, []string{"fine"}, c.get())
	assert.Empty(t, f.bot.messages())
	assert.Equal(t, float64(1), testutil.ToFloat64(executions.WithLabelValues("failing", resultPanic)))
	assert.Equal(t, float64(1), testutil.ToFloat64(executions.WithLabelValues("failing", resultError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(executions.WithLabelValues("failing", resultOK)))

	var failures int
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			failures++
			assert.Equal(t, "failing", e.Data["plugin"])
			assert.Equal(t, "Foo", e.Data["nick"])
		}
	}
	assert.Equal(t, 2, failures)
}

func TestDispatch_ReplyErrors(t *testing.T) {
	f := newFixture(t)
	f.register("replying", rules.Descriptor{Name: "err", Commands: []string{"err"}, Threading: rules.Inline,
		Handler: func(context.Context, rules.Bot, *rules.Trigger) error { return errors.New("bad input") }})

	d := f.dispatcher(Config{ReplyErrors: true}, nil)
	d.Dispatch(f.bot, f.parse(":Foo!foo@x PRIVMSG #c :.err"))

	msgs := f.bot.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "#c", msgs[0].target)
	assert.Contains(t, msgs[0].text, "bad input")
}

func TestDispatch_ChannelPolicy(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("games", rules.Descriptor{Name: "dice", Commands: []string{"dice"}, Threading: rules.Inline, Handler: c.handler("dice")})
	f.register("games", rules.Descriptor{Name: "coin", Commands: []string{"coin"}, Threading: rules.Inline, Handler: c.handler("coin")})
	f.register(CorePlugin, rules.Descriptor{Name: "core", Patterns: []string{`.*`}, Threading: rules.Inline, Handler: c.handler("core")})

	d := f.dispatcher(Config{Channels: map[string]ChannelPolicy{
		"#Quiet":  {DisablePlugins: []string{"*"}},
		"#nodice": {DisableCommands: map[string][]string{"games": {"dice"}}},
	}}, nil)

	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #quiet :.dice"))
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #NoDice :.dice"))
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #nodice :.coin"))
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG Sopel :.dice"))

	assert.Equal(t, []string{"core", "core", "core", "coin", "core", "dice"}, c.get())
}

type staticAccounts map[string]string

func (s staticAccounts) Account(nick identifier.Identifier) (string, bool) {
	a, ok := s[nick.Key()]
	return a, ok
}

func TestDispatch_AccountResolution(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var seen []string
	f.register("accounts", rules.Descriptor{Name: "who", Patterns: []string{`.*`}, Threading: rules.Inline,
		Handler: func(_ context.Context, _ rules.Bot, tr *rules.Trigger) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, tr.Account)
			return nil
		}})

	d := f.dispatcher(Config{}, nil, WithAccounts(staticAccounts{"foo": "fooacct"}))
	d.Dispatch(f.bot, f.parse(":Foo!foo@x PRIVMSG #c :hi"))
	d.Dispatch(f.bot, f.parse("@account=tagged :Foo!foo@x PRIVMSG #c :hi"))
	d.Dispatch(f.bot, f.parse(":Bar!bar@x PRIVMSG #c :hi"))

	assert.Equal(t, []string{"fooacct", "tagged", ""}, seen)
}

type fixedJoins map[string]time.Time

func (j fixedJoins) JoinedAt(channel identifier.Identifier) (time.Time, bool) {
	at, ok := j[channel.Key()]
	return at, ok
}

func TestDispatch_SkipsReplayedHistory(t *testing.T) {
	f := newFixture(t)
	c := &counter{}
	f.register("history", rules.Descriptor{Name: "x", Patterns: []string{`.*`}, Threading: rules.Inline, Handler: c.handler("x")})

	joined := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d := f.dispatcher(Config{}, nil, WithJoinTimes(fixedJoins{"#c": joined}))

	d.Dispatch(f.bot, f.parse("@time=2024-01-01T11:00:00.000Z :F!f@x PRIVMSG #c :old"))
	d.Dispatch(f.bot, f.parse("@time=2024-01-01T12:00:01.000Z :F!f@x PRIVMSG #c :new"))
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #c :untagged"))
	assert.Len(t, c.get(), 2)
}

func TestDispatch_OutputPrefix(t *testing.T) {
	f := newFixture(t)
	f.register("prefixed", rules.Descriptor{Name: "x", Commands: []string{"x"}, OutputPrefix: "[x] ", Threading: rules.Inline,
		Handler: func(_ context.Context, bot rules.Bot, tr *rules.Trigger) error {
			tr.Reply(bot, "hello")
			bot.Action(tr.Target(), "waves")
			return nil
		}})

	d := f.dispatcher(Config{}, nil)
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #c :.x"))

	assert.Equal(t, []message{{"say", "#c", "[x] hello"}, {"action", "#c", "waves"}}, f.bot.messages())
}

func TestDispatch_ConcurrentAndShutdown(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	f.register("slow", rules.Descriptor{Name: "wait", Patterns: []string{`.*`},
		Handler: func(ctx context.Context, _ rules.Bot, _ *rules.Trigger) error {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}})

	d := f.dispatcher(Config{}, nil)
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #c :one"))
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #c :two"))
	<-started
	<-started

	running := d.Running()
	require.Len(t, running, 2)
	assert.True(t, strings.HasPrefix(running[0], "slow-wait-"))

	assert.False(t, d.Shutdown(20*time.Millisecond))
	assert.Eventually(t, func() bool { return len(d.Running()) == 0 }, time.Second, 5*time.Millisecond)
	close(release)

	c := &counter{}
	f.register("late", rules.Descriptor{Name: "late", Patterns: []string{`.*`}, Threading: rules.Inline, Handler: c.handler("late")})
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #c :after shutdown"))
	assert.Empty(t, c.get())
}

func TestDispatch_ShutdownWaitsForCompletion(t *testing.T) {
	f := newFixture(t)
	done := atomic.NewBool(false)
	f.register("quick", rules.Descriptor{Name: "sleep", Patterns: []string{`.*`},
		Handler: func(context.Context, rules.Bot, *rules.Trigger) error {
			time.Sleep(20 * time.Millisecond)
			done.Store(true)
			return nil
		}})

	d := f.dispatcher(Config{}, nil)
	d.Dispatch(f.bot, f.parse(":F!f@x PRIVMSG #c :hi"))

	assert.True(t, d.Shutdown(time.Second))
	assert.True(t, done.Load())
	assert.Empty(t, d.Running())
}

func TestBlocklist(t *testing.T) {
	b := NewBlocklist(identifier.Factory{}, []string{"bad[guy]", "troll.*", "("}, []string{"*.evil.org", "exact.host"}, []string{`.*!.*@1\.2\.3\.4`}, logrus.NewEntry(logrus.New()))

	assert.True(t, b.NickBlocked(identifier.New("BAD{GUY}")))
	assert.True(t, b.NickBlocked(identifier.New("Troll99")))
	assert.True(t, b.NickBlocked(identifier.New("(")))
	assert.False(t, b.NickBlocked(identifier.New("nice")))
	assert.True(t, b.HostBlocked("EXACT.host"))
	assert.True(t, b.HostBlocked("*.evil.org"))
	assert.True(t, b.HostmaskBlocked("x!y@1.2.3.4"))
	assert.False(t, b.HostmaskBlocked("x!y@1.2.3.5"))
	assert.False(t, (*Blocklist)(nil).HostBlocked("x"))
	assert.True(t, NewBlocklist(identifier.Factory{}, nil, nil, nil, nil).Empty())
}

func TestHandlerError(t *testing.T) {
	inner := errors.New("inner")
	var err error = &HandlerError{Plugin: "p", Rule: "r", Nick: "n", Err: inner}
	wrapped := errors.Join(errors.New("other"), err)

	assert.True(t, IsHandlerError(wrapped))
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "error in p.r triggered by n: inner", err.Error())
	assert.False(t, IsHandlerError(inner))
}
