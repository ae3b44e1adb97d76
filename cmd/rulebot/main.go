package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dalnet/rulebot/internal/bot"
	"github.com/dalnet/rulebot/internal/config"
	"github.com/dalnet/rulebot/internal/plugins"
	"github.com/dalnet/rulebot/internal/storage"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	bot.Version = version
	bot.BuildDate = buildDate
	bot.GitCommit = gitCommit

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "rulebot",
		Short:         "rulebot - a plugin driven IRC bot",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rulebot version %s\nBuilt: %s\nCommit: %s\n", version, buildDate, gitCommit)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
			return nil
		},
	})
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if !filepath.IsAbs(path) {
		wd, _ := os.Getwd()
		path = filepath.Join(wd, path)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("Metrics server stopped")
		}
	}()
	return srv
}

func run(cfg *config.Config) error {
	setupLogging(cfg)
	log := logrus.WithField("app", "rulebot")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := writePIDFile(cfg.PIDFile); err != nil {
		log.WithError(err).Warn("Could not write PID file")
	}
	defer os.Remove(cfg.PIDFile) // nolint: errcheck

	if cfg.SentryDSN != "" {
		log.Info("Setting up Sentry for handler failures")
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          "rulebot@" + version,
			AttachStacktrace: true,
		})
		if err != nil {
			return fmt.Errorf("failed to start Sentry: %w", err)
		}
		defer func() {
			if !sentry.Flush(5 * time.Second) {
				log.Warn("Failed to flush all Sentry events")
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		log.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	client, err := bot.NewClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create IRC client: %w", err)
	}

	audit, err := storage.OpenAuditLog(cfg.DataDir)
	if err != nil {
		return err
	}
	for _, p := range []bot.Plugin{
		plugins.Help(client.Registry(), cfg.HelpPrefix),
		plugins.Version(),
		plugins.Admin(audit),
	} {
		if err := client.Load(p); err != nil {
			log.WithError(err).WithField("plugin", p.Name()).Error("Plugin loaded with errors")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("Shutting down")
		client.Quit("Received shutdown signal")
	}()

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	log.Info("Connected, entering main loop")
	client.Loop()

	if !client.Shutdown(cfg.ShutdownGrace) {
		log.Warn("Some handlers did not finish before shutdown")
	}
	return nil
}
