package dispatch

import (
	"github.com/dalnet/rulebot/internal/rules"
)

// prefixedBot prepends a rule's output prefix to what it says.
type prefixedBot struct {
	rules.Bot
	prefix string
}

func (b prefixedBot) Say(target, message string) {
	b.Bot.Say(target, b.prefix+message)
}

func (b prefixedBot) Notice(target, message string) {
	b.Bot.Notice(target, b.prefix+message)
}

// withOutputPrefix leaves bot untouched when there is no prefix, so
// handlers can still reach methods beyond rules.Bot.
func withOutputPrefix(bot rules.Bot, prefix string) rules.Bot {
	if prefix == "" {
		return bot
	}
	return prefixedBot{Bot: bot, prefix: prefix}
}
