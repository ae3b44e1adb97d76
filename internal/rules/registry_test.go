package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, reg *Registry, plugin string, d Descriptor) {
	t.Helper()
	require.NoError(t, reg.RegisterAll(build(t, plugin, d)))
}

func labels(triggered []Triggered) []string {
	var out []string
	for _, tr := range triggered {
		out = append(out, tr.Rule.Label())
	}
	return out
}

func TestRegistry_PriorityOrder(t *testing.T) {
	reg := NewRegistry(nil)
	register(t, reg, "a", Descriptor{Name: "low", Patterns: []string{`.*`}, Priority: Low})
	register(t, reg, "a", Descriptor{Name: "medium1", Patterns: []string{`.*`}})
	register(t, reg, "b", Descriptor{Name: "high", Patterns: []string{`.*`}, Priority: High})
	register(t, reg, "b", Descriptor{Name: "medium2", Patterns: []string{`.*`}, Priority: Medium})

	got := reg.FindTriggered(testNick, parse(t, ":F!f@x PRIVMSG #c :anything"))
	assert.Equal(t, []string{"high", "medium1", "medium2", "low"}, labels(got))
}

func TestRegistry_KindOrderWithinPriority(t *testing.T) {
	reg := NewRegistry(nil)
	register(t, reg, "a", Descriptor{Name: "url", URLPatterns: []string{`.*`}})
	register(t, reg, "a", Descriptor{Name: "cmd", Commands: []string{"go"}})
	register(t, reg, "b", Descriptor{Name: "generic", Patterns: []string{`\.go`}})

	got := reg.FindTriggered(testNick, parse(t, ":F!f@x PRIVMSG #c :.go http://example.com"))
	assert.Equal(t, []string{"generic", "go", "url"}, labels(got))
}

func TestRegistry_DuplicateCommand(t *testing.T) {
	reg := NewRegistry(nil)
	register(t, reg, "a", Descriptor{Name: "one", Commands: []string{"dup"}})

	err := reg.RegisterAll(build(t, "a", Descriptor{Name: "two", Commands: []string{"DUP"}}))
	assert.ErrorIs(t, err, ErrDuplicateRule)

	register(t, reg, "b", Descriptor{Name: "three", Commands: []string{"dup"}})
	register(t, reg, "a", Descriptor{Name: "four", NickCommands: []string{"dup"}})
}

func TestRegistry_UnregisterPlugin(t *testing.T) {
	reg := NewRegistry(nil)
	register(t, reg, "a", Descriptor{
		Name:         "all",
		Patterns:     []string{`x`},
		FindPatterns: []string{`x`},
		Commands:     []string{"x"},
		NickCommands: []string{"x"},
		URLPatterns:  []string{`x`},
	})
	register(t, reg, "b", Descriptor{Name: "other", Commands: []string{"y"}})

	n, err := reg.UnregisterPlugin("a")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"b"}, reg.Plugins())
	assert.False(t, reg.HasCommand("x", false, ""))

	_, err = reg.UnregisterPlugin("a")
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestRegistry_Queries(t *testing.T) {
	reg := NewRegistry(nil)
	register(t, reg, "a", Descriptor{Name: "greet", Patterns: []string{`hi`}})
	register(t, reg, "a", Descriptor{Name: "calc", Commands: []string{"calc", "c"}})
	register(t, reg, "a", Descriptor{Name: "poke", NickCommands: []string{"poke"}})
	register(t, reg, "a", Descriptor{Name: "wave", ActionCommands: []string{"waves"}})
	register(t, reg, "b", Descriptor{Name: "title", URLPatterns: []string{`example\.com`}})

	assert.True(t, reg.HasRule("greet", ""))
	assert.True(t, reg.HasRule("greet", "a"))
	assert.False(t, reg.HasRule("greet", "b"))
	assert.True(t, reg.HasCommand("c", true, ""))
	assert.False(t, reg.HasCommand("c", false, ""))
	assert.True(t, reg.HasNickCommand("poke", false, "a"))
	assert.True(t, reg.HasActionCommand("waves", false, ""))
	assert.True(t, reg.HasURLCallback("title", "b"))
	assert.True(t, reg.CheckURLCallback("https://example.com/x"))
	assert.False(t, reg.CheckURLCallback("https://example.org/x"))

	cmds := reg.Commands("")
	require.Len(t, cmds, 1)
	assert.Equal(t, "calc", cmds[0].Name())
	assert.Equal(t, []string{"c"}, cmds[0].Aliases())
}

func TestRegistry_SnapshotSurvivesMutation(t *testing.T) {
	reg := NewRegistry(nil)
	var unregistered int
	register(t, reg, "self", Descriptor{
		Name:     "remove",
		Patterns: []string{`.*`},
		Priority: High,
		Handler: func(context.Context, Bot, *Trigger) error {
			n, err := reg.UnregisterPlugin("self")
			unregistered = n
			return err
		},
	})
	register(t, reg, "self", Descriptor{Name: "after", Patterns: []string{`.*`}})

	l := parse(t, ":F!f@x PRIVMSG #c :hi")
	snapshot := reg.FindTriggered(testNick, l)
	require.Len(t, snapshot, 2)

	for _, tr := range snapshot {
		if tr.Rule.Label() == "remove" {
			require.NoError(t, tr.Rule.Execute(context.Background(), &fakeBot{}, NewTrigger(l, tr.Match, "", nil), time.Now))
		}
	}
	assert.Equal(t, 2, unregistered)
	assert.Equal(t, []string{"remove", "after"}, labels(snapshot))
	assert.Empty(t, reg.FindTriggered(testNick, l))
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	reg := NewRegistry(nil)
	l := parse(t, ":F!f@x PRIVMSG #c :hi")
	settings := testSettings()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			built, err := Build(settings, "churn", Descriptor{Name: "r", Patterns: []string{`hi`}})
			if err == nil {
				_ = reg.RegisterAll(built)
			}
			_, _ = reg.UnregisterPlugin("churn")
		}()
		go func() {
			defer wg.Done()
			for _, tr := range reg.FindTriggered(testNick, l) {
				assert.Equal(t, "r", tr.Rule.Label())
			}
		}()
	}
	wg.Wait()
}
