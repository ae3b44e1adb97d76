package rules

import (
	"context"
)

// Middleware wraps a handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so the first one runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// requireThat builds a middleware that only calls the handler when ok holds.
// Refusals are not counted against rate limits.
func requireThat(ok func(*Trigger) bool, message string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, bot Bot, t *Trigger) error {
			if ok(t) {
				return next(ctx, bot, t)
			}
			if message != "" {
				t.Reply(bot, message)
			}
			return NoLimit
		}
	}
}

// RequireAdmin lets only admins (and the owner) through.
func RequireAdmin(message string) Middleware {
	return requireThat((*Trigger).Admin, message)
}

// RequireOwner lets only the owner through.
func RequireOwner(message string) Middleware {
	return requireThat((*Trigger).Owner, message)
}

// RequirePrivmsg lets only private messages through.
func RequirePrivmsg(message string) Middleware {
	return requireThat((*Trigger).IsPrivmsg, message)
}

// RequireChanmsg lets only channel messages through.
func RequireChanmsg(message string) Middleware {
	return requireThat(func(t *Trigger) bool { return !t.IsPrivmsg() }, message)
}

// RequireAccount lets through only senders logged in to services.
func RequireAccount(message string) Middleware {
	return requireThat(func(t *Trigger) bool { return t.Account != "" }, message)
}
