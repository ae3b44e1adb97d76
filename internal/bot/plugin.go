package bot

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/dalnet/rulebot/internal/rules"
)

// Plugin is a named set of rule descriptors.
type Plugin interface {
	Name() string
	Rules() []rules.Descriptor
}

type plugin struct {
	name  string
	rules []rules.Descriptor
}

func (p plugin) Name() string              { return p.name }
func (p plugin) Rules() []rules.Descriptor { return p.rules }

// NewPlugin bundles descriptors under a plugin name.
func NewPlugin(name string, descriptors ...rules.Descriptor) Plugin {
	return plugin{name: name, rules: descriptors}
}

// Load builds and registers the rules of p. Rules that fail to build are
// logged and skipped; the others are still registered. The returned error
// joins every failure.
func (c *Client) Load(p Plugin) error {
	log := c.log.WithField("plugin", p.Name())

	var errs []error
	var built []rules.Rule
	for _, d := range p.Rules() {
		rs, err := rules.Build(c.settings, p.Name(), d)
		if err != nil {
			log.WithError(err).Warn("Skipping rules that failed to build")
			errs = append(errs, err)
		}
		built = append(built, rs...)
	}
	if err := c.registry.RegisterAll(built); err != nil {
		log.WithError(err).Warn("Some rules could not be registered")
		errs = append(errs, err)
	}

	log.WithFields(logrus.Fields{"rules": len(built)}).Info("Plugin loaded")
	return errors.Join(errs...)
}

// Unload removes every rule of the named plugin.
func (c *Client) Unload(name string) error {
	n, err := c.registry.UnregisterPlugin(name)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"plugin": name, "rules": n}).Info("Plugin unloaded")
	return nil
}
