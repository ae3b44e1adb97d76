// Package plugins holds the plugins that ship with the bot.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dalnet/rulebot/internal/bot"
	"github.com/dalnet/rulebot/internal/rules"
)

// Help answers .help and .commands from what the registry holds.
func Help(registry *rules.Registry, helpPrefix string) bot.Plugin {
	if helpPrefix == "" {
		helpPrefix = rules.DefaultHelpPrefix
	}
	h := &help{registry: registry, prefix: helpPrefix}
	return bot.NewPlugin("help",
		rules.Descriptor{
			Commands: []string{"help", "doc"},
			Doc:      "Shows a command's documentation, and an example if available.",
			Examples: []string{".help tell"},
			UserRate: 2 * time.Second,
			Handler:  h.help,
		},
		rules.Descriptor{
			Commands: []string{"commands"},
			Doc:      "Lists every command, by plugin, in private.",
			Examples: []string{".commands"},
			UserRate: 10 * time.Second,
			Handler:  h.commands,
		},
	)
}

type help struct {
	registry *rules.Registry
	prefix   string
}

func (h *help) lookup(name string) *rules.Command {
	for _, cmd := range h.registry.Commands("") {
		if strings.EqualFold(cmd.Name(), name) || cmd.HasAlias(name) {
			return cmd
		}
	}
	return nil
}

func (h *help) help(_ context.Context, b rules.Bot, t *rules.Trigger) error {
	name := strings.TrimPrefix(t.Group(3), h.prefix)
	if name == "" {
		t.Reply(b, fmt.Sprintf("Use %scommands for a list of commands, or %shelp <command> for details.", h.prefix, h.prefix))
		return nil
	}

	cmd := h.lookup(name)
	if cmd == nil {
		t.Reply(b, fmt.Sprintf("No such command: %s", name))
		return rules.NoLimit
	}

	doc := strings.TrimSpace(cmd.Doc())
	if doc == "" {
		doc = "No documentation for " + cmd.Name() + "."
	}
	for _, part := range strings.Split(doc, "\n") {
		t.Reply(b, strings.TrimSpace(part))
	}
	if usage := cmd.Usage(); len(usage) > 0 {
		t.Reply(b, "e.g. "+usage[0])
	}
	if aliases := cmd.Aliases(); len(aliases) > 0 {
		t.Reply(b, "Aliases: "+strings.Join(aliases, ", "))
	}
	return nil
}

func (h *help) commands(_ context.Context, b rules.Bot, t *rules.Trigger) error {
	byPlugin := make(map[string][]string)
	for _, cmd := range h.registry.Commands("") {
		byPlugin[cmd.Plugin()] = append(byPlugin[cmd.Plugin()], cmd.Name())
	}
	plugins := make([]string, 0, len(byPlugin))
	for p := range byPlugin {
		plugins = append(plugins, p)
	}
	sort.Strings(plugins)

	nick := t.Nick.String()
	for _, p := range plugins {
		names := byPlugin[p]
		sort.Strings(names)
		b.Say(nick, fmt.Sprintf("%s: %s", strings.ToUpper(p), strings.Join(names, " ")))
	}
	if !t.IsPrivmsg() {
		t.Reply(b, "I've sent you a list of my commands in private.")
	}
	return nil
}
