package plugins

import (
	"context"
	"time"

	"github.com/dalnet/rulebot/internal/bot"
	"github.com/dalnet/rulebot/internal/rules"
)

// Version answers .version and a nick-addressed ping.
func Version() bot.Plugin {
	return bot.NewPlugin("version",
		rules.Descriptor{
			Commands:    []string{"version"},
			Doc:         "Shows which build of the bot is running.",
			Examples:    []string{".version"},
			ChannelRate: 30 * time.Second,
			Handler: func(_ context.Context, b rules.Bot, t *rules.Trigger) error {
				t.Reply(b, bot.VersionString())
				return nil
			},
		},
		rules.Descriptor{
			NickCommands: []string{"ping"},
			Doc:          "Checks that the bot is listening.",
			Examples:     []string{"$nickname: ping"},
			UserRate:     5 * time.Second,
			Handler: func(_ context.Context, b rules.Bot, t *rules.Trigger) error {
				t.Reply(b, t.Nick.String()+": pong!")
				return nil
			},
		},
	)
}
