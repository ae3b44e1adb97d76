package bot

import (
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dalnet/rulebot/internal/identifier"
)

// Accounts remembers which services account each nick is logged in to.
// Entries expire after the configured TTL.
type Accounts struct {
	cache *cache.Cache
}

// NewAccounts returns an empty tracker.
func NewAccounts(ttl time.Duration) *Accounts {
	cleanup := ttl
	if cleanup <= 0 || cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &Accounts{cache: cache.New(ttl, cleanup)}
}

// Set records account for nick. "*" and "" mean logged out.
func (a *Accounts) Set(nick identifier.Identifier, account string) {
	if nick.IsZero() {
		return
	}
	if account == "" || account == "*" {
		a.Forget(nick)
		return
	}
	a.cache.Set(nick.Key(), account, cache.DefaultExpiration)
}

// Forget drops whatever is known about nick.
func (a *Accounts) Forget(nick identifier.Identifier) {
	a.cache.Delete(nick.Key())
}

// Rename moves the account of a nick that changed nicks.
func (a *Accounts) Rename(from, to identifier.Identifier) {
	account, ok := a.Account(from)
	a.Forget(from)
	if ok {
		a.Set(to, account)
	}
}

// Account returns the account nick is logged in to.
func (a *Accounts) Account(nick identifier.Identifier) (string, bool) {
	v, ok := a.cache.Get(nick.Key())
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Len is the number of nicks tracked.
func (a *Accounts) Len() int {
	return a.cache.ItemCount()
}

// Channels records when the bot joined each channel.
type Channels struct {
	mu     sync.RWMutex
	names  map[string]identifier.Identifier
	joined map[string]time.Time
}

// NewChannels returns an empty channel tracker.
func NewChannels() *Channels {
	return &Channels{
		names:  make(map[string]identifier.Identifier),
		joined: make(map[string]time.Time),
	}
}

// Joined records that the bot joined channel at the given time.
func (c *Channels) Joined(channel identifier.Identifier, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[channel.Key()] = channel
	c.joined[channel.Key()] = at
}

// Left forgets channel.
func (c *Channels) Left(channel identifier.Identifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.names, channel.Key())
	delete(c.joined, channel.Key())
}

// JoinedAt returns when the bot joined channel.
func (c *Channels) JoinedAt(channel identifier.Identifier) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	at, ok := c.joined[channel.Key()]
	return at, ok
}

// List returns the channels the bot is in, sorted.
func (c *Channels) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]identifier.Identifier, 0, len(c.names))
	for _, id := range c.names {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Reset forgets every channel, e.g. after a reconnect.
func (c *Channels) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = make(map[string]identifier.Identifier)
	c.joined = make(map[string]time.Time)
}
