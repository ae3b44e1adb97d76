package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dalnet/rulebot/internal/dispatch"
	"github.com/dalnet/rulebot/internal/identifier"
	"github.com/dalnet/rulebot/internal/rules"
)

// Defaults applied by Load when a key is missing.
const (
	DefaultPort          = 6667
	DefaultTLSPort       = 6697
	DefaultShutdownGrace = 10 * time.Second
	DefaultSendRate      = 2.0
	DefaultSendBurst     = 5
	DefaultAccountTTL    = 24 * time.Hour
	DefaultDataDir       = "./data"
	DefaultPIDFile       = "pid.txt"
)

// ChannelConfig is the per-channel plugin policy.
type ChannelConfig struct {
	DisablePlugins  []string            `yaml:"disable_plugins"`
	DisableCommands map[string][]string `yaml:"disable_commands"`
}

// Config holds all bot configuration
type Config struct {
	Nick       string   `yaml:"nick"`
	AliasNicks []string `yaml:"alias_nicks"`
	User       string   `yaml:"user"`
	RealName   string   `yaml:"realname"`

	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	TLS        bool   `yaml:"tls"`
	TLSVerify  *bool  `yaml:"tls_verify"`
	ServerPass string `yaml:"server_pass"`

	NickPass     string `yaml:"nick_pass"`
	SASLLogin    string `yaml:"sasl_login"`
	SASLPassword string `yaml:"sasl_password"`

	ChannelsJoin []string `yaml:"channels_join"`

	Prefix              string   `yaml:"prefix"`
	HelpPrefix          string   `yaml:"help_prefix"`
	LegacyRegexCommands bool     `yaml:"legacy_regex_commands"`
	URLSchemes          []string `yaml:"url_schemes"`

	Owner         string   `yaml:"owner"`
	OwnerAccount  string   `yaml:"owner_account"`
	Admins        []string `yaml:"admins"`
	AdminAccounts []string `yaml:"admin_accounts"`

	NickBlocks     []string `yaml:"nick_blocks"`
	HostBlocks     []string `yaml:"host_blocks"`
	HostmaskBlocks []string `yaml:"hostmask_blocks"`

	ReplyErrors bool                     `yaml:"reply_errors"`
	Channels    map[string]ChannelConfig `yaml:"channels"`

	Casemapping    string `yaml:"casemapping"`
	Chantypes      string `yaml:"chantypes"`
	StatusPrefixes string `yaml:"status_prefixes"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	SendRate      float64       `yaml:"send_rate"`
	SendBurst     int           `yaml:"send_burst"`
	AccountTTL    time.Duration `yaml:"account_ttl"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
	SentryDSN   string `yaml:"sentry_dsn"`
	DataDir     string `yaml:"data_dir"`
	PIDFile     string `yaml:"pid_file"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
		if c.TLS {
			c.Port = DefaultTLSPort
		}
	}
	if c.User == "" {
		c.User = c.Nick
	}
	if c.RealName == "" {
		c.RealName = c.Nick
	}
	if c.Prefix == "" {
		c.Prefix = rules.DefaultPrefix
	}
	if c.HelpPrefix == "" {
		c.HelpPrefix = rules.DefaultHelpPrefix
	}
	if c.Chantypes == "" {
		c.Chantypes = identifier.DefaultChantypes
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.SendRate == 0 {
		c.SendRate = DefaultSendRate
	}
	if c.SendBurst == 0 {
		c.SendBurst = DefaultSendBurst
	}
	if c.AccountTTL == 0 {
		c.AccountTTL = DefaultAccountTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.PIDFile == "" {
		c.PIDFile = DefaultPIDFile
	}
}

// Validate checks required keys and values that can only be checked
// after decoding. Every problem found is reported.
func (c *Config) Validate() error {
	var errs []error
	if c.Nick == "" {
		errs = append(errs, errors.New("nick is required"))
	}
	if c.Server == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SendRate < 0 || c.SendBurst < 0 {
		errs = append(errs, errors.New("send_rate and send_burst must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not text or json", c.LogFormat))
	}
	if (c.SASLLogin == "") != (c.SASLPassword == "") {
		errs = append(errs, errors.New("sasl_login and sasl_password must be set together"))
	}
	if _, err := c.Access(); err != nil {
		errs = append(errs, fmt.Errorf("owner/admins: %w", err))
	}
	return errors.Join(errs...)
}

// Address is the server host:port to dial.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// VerifyTLS reports whether the server certificate is checked. On unless
// tls_verify is explicitly false.
func (c *Config) VerifyTLS() bool {
	return c.TLSVerify == nil || *c.TLSVerify
}

// Identifiers returns the factory matching the configured casemapping.
func (c *Config) Identifiers() identifier.Factory {
	return identifier.Factory{
		Casemapping: identifier.CasemappingByName(strings.ToLower(c.Casemapping)),
		Chantypes:   c.Chantypes,
	}
}

// Settings returns what rules are compiled against.
func (c *Config) Settings(log *logrus.Entry) *rules.Settings {
	return &rules.Settings{
		Nick:                c.Identifiers().New(c.Nick),
		Aliases:             c.AliasNicks,
		Prefix:              c.Prefix,
		HelpPrefix:          c.HelpPrefix,
		URLSchemes:          c.URLSchemes,
		LegacyRegexCommands: c.LegacyRegexCommands,
		Log:                 log,
	}
}

// Access compiles the owner and admin settings.
func (c *Config) Access() (*rules.Access, error) {
	return rules.NewAccess(c.Owner, c.OwnerAccount, c.Admins, c.AdminAccounts)
}

// Dispatch returns the dispatcher policy.
func (c *Config) Dispatch() dispatch.Config {
	channels := make(map[string]dispatch.ChannelPolicy, len(c.Channels))
	for name, ch := range c.Channels {
		channels[name] = dispatch.ChannelPolicy{
			DisablePlugins:  ch.DisablePlugins,
			DisableCommands: ch.DisableCommands,
		}
	}
	return dispatch.Config{
		Identifiers:    c.Identifiers(),
		NickBlocks:     c.NickBlocks,
		HostBlocks:     c.HostBlocks,
		HostmaskBlocks: c.HostmaskBlocks,
		ReplyErrors:    c.ReplyErrors,
		Channels:       channels,
	}
}
