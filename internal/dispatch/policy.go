package dispatch

import (
	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/rules"
)

// CorePlugin is the bot's own bookkeeping plugin; channel policies never
// disable it.
const CorePlugin = "coretasks"

// ChannelPolicy disables plugins or single rules in one channel.
type ChannelPolicy struct {
	// DisablePlugins lists plugin names; "*" disables every plugin.
	DisablePlugins []string
	// DisableCommands maps a plugin name to rule labels.
	DisableCommands map[string][]string
}

func (p ChannelPolicy) disables(rule rules.Rule) bool {
	plugin := rule.Plugin()
	if plugin == CorePlugin {
		return false
	}
	for _, name := range p.DisablePlugins {
		if name == "*" || name == plugin {
			return true
		}
	}
	for _, label := range p.DisableCommands[plugin] {
		if label == rule.Label() {
			return true
		}
	}
	return false
}

type channelPolicies map[string]ChannelPolicy

func newChannelPolicies(ids identifier.Factory, byName map[string]ChannelPolicy) channelPolicies {
	out := make(channelPolicies, len(byName))
	for name, p := range byName {
		out[ids.New(name).Key()] = p
	}
	return out
}

// disabled reports whether rule may not run for a line from sender.
func (c channelPolicies) disabled(sender identifier.Identifier, rule rules.Rule) bool {
	if len(c) == 0 || sender.IsZero() || sender.IsNick() {
		return false
	}
	p, ok := c[sender.Key()]
	return ok && p.disables(rule)
}
