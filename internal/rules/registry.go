package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/line"
)

type kind int

const (
	kindGeneric kind = iota
	kindCommand
	kindNickCommand
	kindActionCommand
	kindURLCallback
	numKinds
)

func kindOf(r Rule) kind {
	switch r.(type) {
	case *Command:
		return kindCommand
	case *NickCommand:
		return kindNickCommand
	case *ActionCommand:
		return kindActionCommand
	case *URLCallback:
		return kindURLCallback
	default:
		return kindGeneric
	}
}

// Triggered is one rule together with one of its matches.
type Triggered struct {
	Rule  Rule
	Match *Match
}

type pluginRules [numKinds][]Rule

// Registry stores rules by plugin and kind. Dispatch works on a copy, so
// handlers may register and unregister rules while it runs.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]*pluginRules
	log     *logrus.Entry
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.WithField("component", "registry")
	}
	return &Registry{plugins: make(map[string]*pluginRules), log: log}
}

// Register adds a rule under its plugin. Named rules must be unique per
// plugin and kind.
func (r *Registry) Register(rule Rule) error {
	k := kindOf(rule)
	plugin := rule.Plugin()

	r.mu.Lock()
	defer r.mu.Unlock()

	rules, ok := r.plugins[plugin]
	if !ok {
		rules = &pluginRules{}
		r.plugins[plugin] = rules
		r.order = append(r.order, plugin)
	}
	if nr, ok := rule.(NamedRule); ok {
		for _, existing := range rules[k] {
			if en, ok := existing.(NamedRule); ok && strings.EqualFold(en.Name(), nr.Name()) {
				return fmt.Errorf("%w: %s", ErrDuplicateRule, rule)
			}
		}
	}
	rules[k] = append(rules[k], rule)
	r.log.WithField("plugin", plugin).Debugf("Rule registered: %s", rule)
	return nil
}

// RegisterAll registers every rule, continuing past failures.
func (r *Registry) RegisterAll(rules []Rule) error {
	var errs []error
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnregisterPlugin removes every rule of the plugin and returns how many
// there were.
func (r *Registry) UnregisterPlugin(plugin string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, ok := r.plugins[plugin]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPlugin, plugin)
	}
	count := 0
	for _, list := range rules {
		count += len(list)
	}
	delete(r.plugins, plugin)
	for i, name := range r.order {
		if name == plugin {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.log.WithField("plugin", plugin).Debugf("Successfully unregistered %d rules", count)
	return count, nil
}

// snapshot copies every rule in dispatch order: generic rules, commands,
// nick commands, action commands then URL callbacks, each kind in plugin
// registration order.
func (r *Registry) snapshot() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Rule
	for k := kind(0); k < numKinds; k++ {
		for _, plugin := range r.order {
			all = append(all, r.plugins[plugin][k]...)
		}
	}
	return all
}

// FindTriggered returns every (rule, match) pair for l, highest priority
// first. Rules of equal priority keep their registration order.
func (r *Registry) FindTriggered(ownNick identifier.Identifier, l *line.Line) []Triggered {
	var triggered []Triggered
	for _, rule := range r.snapshot() {
		for _, m := range rule.Match(ownNick, l) {
			triggered = append(triggered, Triggered{Rule: rule, Match: m})
		}
	}
	sort.SliceStable(triggered, func(i, j int) bool {
		return triggered[i].Rule.Priority().Scale() < triggered[j].Rule.Priority().Scale()
	})
	return triggered
}

func (r *Registry) kindRules(k kind, plugin string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Rule
	for _, name := range r.order {
		if plugin != "" && name != plugin {
			continue
		}
		out = append(out, r.plugins[name][k]...)
	}
	return out
}

func (r *Registry) hasLabeled(k kind, label, plugin string) bool {
	for _, rule := range r.kindRules(k, plugin) {
		if rule.Label() == label {
			return true
		}
	}
	return false
}

func (r *Registry) hasNamed(k kind, name string, followAlias bool, plugin string) bool {
	for _, rule := range r.kindRules(k, plugin) {
		nr := rule.(NamedRule)
		if strings.EqualFold(nr.Name(), name) || (followAlias && nr.HasAlias(name)) {
			return true
		}
	}
	return false
}

// HasRule reports whether a generic rule with that label exists. An empty
// plugin searches all plugins.
func (r *Registry) HasRule(label, plugin string) bool {
	return r.hasLabeled(kindGeneric, label, plugin)
}

// HasURLCallback reports whether a URL callback with that label exists.
func (r *Registry) HasURLCallback(label, plugin string) bool {
	return r.hasLabeled(kindURLCallback, label, plugin)
}

// HasCommand reports whether a command is known by name or, with
// followAlias, by one of its aliases.
func (r *Registry) HasCommand(name string, followAlias bool, plugin string) bool {
	return r.hasNamed(kindCommand, name, followAlias, plugin)
}

// HasNickCommand is HasCommand for nick commands.
func (r *Registry) HasNickCommand(name string, followAlias bool, plugin string) bool {
	return r.hasNamed(kindNickCommand, name, followAlias, plugin)
}

// HasActionCommand is HasCommand for action commands.
func (r *Registry) HasActionCommand(name string, followAlias bool, plugin string) bool {
	return r.hasNamed(kindActionCommand, name, followAlias, plugin)
}

// Commands lists the prefix commands of a plugin, or of all plugins when
// plugin is empty, in registration order.
func (r *Registry) Commands(plugin string) []*Command {
	var out []*Command
	for _, rule := range r.kindRules(kindCommand, plugin) {
		out = append(out, rule.(*Command))
	}
	return out
}

// Plugins returns the registered plugin names in registration order.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// CheckURLCallback reports whether any URL callback would fire for u.
func (r *Registry) CheckURLCallback(u string) bool {
	for _, rule := range r.kindRules(kindURLCallback, "") {
		if len(rule.(*URLCallback).parse(u)) > 0 {
			return true
		}
	}
	return false
}
