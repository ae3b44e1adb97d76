package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

var testNick = identifier.New("Sopel")

func testSettings() *Settings {
	return &Settings{Nick: testNick, Aliases: []string{"Soap"}}
}

func parse(t *testing.T, raw string) *line.Line {
	t.Helper()
	l, err := line.Parse(testNick, raw)
	require.NoError(t, err)
	return l
}

func build(t *testing.T, plugin string, d Descriptor) []Rule {
	t.Helper()
	built, err := Build(testSettings(), plugin, d)
	require.NoError(t, err)
	return built
}

func buildOne(t *testing.T, plugin string, d Descriptor) Rule {
	t.Helper()
	built := build(t, plugin, d)
	require.Len(t, built, 1)
	return built[0]
}

type sent struct {
	kind, target, message string
}

type fakeBot struct {
	mu   sync.Mutex
	sent []sent
}

func (b *fakeBot) Nick() identifier.Identifier { return testNick }

func (b *fakeBot) Say(target, message string) { b.record("say", target, message) }

func (b *fakeBot) Notice(target, message string) { b.record("notice", target, message) }

func (b *fakeBot) Action(target, message string) { b.record("action", target, message) }

func (b *fakeBot) record(kind, target, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{kind, target, message})
}
