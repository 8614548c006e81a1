package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mezada/internal/channel"
	"mezada/internal/config"
	"mezada/internal/dispatch"
	"mezada/internal/domain"
	"mezada/internal/logstore"
	"mezada/internal/provider"
	"mezada/internal/relay"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

const recordRetention = time.Hour

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "mezada",
		Short:   "Mezada: WhatsApp financial advice relay",
		Long:    "Mezada acknowledges WhatsApp webhooks immediately and replies later with generated advice.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.mezada/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(logsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger replaces the bootstrap logger with one at the configured level,
// also writing to log.file when set. The returned closer releases the file.
func setupLogger(cfg *config.Config) (func(), error) {
	var w io.Writer = os.Stderr
	closer := func() {}
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			return closer, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closer, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)
	return closer, nil
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the message log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil {
				logger.Info("config already exists, leaving it untouched", "config", cfgPath)
			} else {
				if err := config.Save(cfgPath, config.Defaults()); err != nil {
					return err
				}
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			store := logstore.New(cfg.Storage.DBPath, logger)
			if err := store.Initialize(cmd.Context()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "db", store.Path())
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and background workers",
		Long:  "Serves the Twilio webhook, runs the reply workers and drains queued replies on shutdown. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Generation.APIKey == "" {
		logger.Warn("generation.apiKey is empty; generation calls will be rejected")
	}
	if cfg.Transport.AccountSID == "" || cfg.Transport.AuthToken == "" {
		logger.Warn("twilio credentials are empty; sends will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := logstore.New(cfg.Storage.DBPath, logger)
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("message log: %w", err)
	}

	sender := newTwilio(cfg, time.Duration(cfg.Transport.SendTimeoutSeconds)*time.Second)
	// Welcomes run before the ack, so they get their own limiter and never
	// queue behind background deliveries.
	welcomeTimeout := time.Duration(cfg.Transport.WelcomeTimeoutSeconds) * time.Second
	greeter := newTwilio(cfg, welcomeTimeout)

	groq := newGenerator(cfg)
	if err := groq.Healthy(ctx); err != nil {
		logger.Warn("generator unhealthy at startup", "model", groq.Model(), "err", err)
	} else {
		logger.Info("generator healthy", "model", groq.Model())
	}

	var notifier domain.Notifier
	if cfg.Operator.TelegramToken != "" {
		tg, err := channel.NewTelegramNotifier(channel.TelegramConfig{
			Token:  cfg.Operator.TelegramToken,
			ChatID: cfg.Operator.TelegramChatID,
			Logger: logger,
		})
		if err != nil {
			logger.Warn("operator notifier disabled", "err", err)
		} else {
			notifier = tg
			logger.Info("operator notifier enabled", "chat_id", cfg.Operator.TelegramChatID)
		}
	}

	pipeline := relay.NewPipeline(relay.PipelineConfig{
		Generator:    provider.NewRetrying(groq, cfg.Generation.MaxRetries, logger),
		Store:        store,
		Responder:    relay.NewResponder(relay.ResponderConfig{Sender: sender, Logger: logger}),
		Notifier:     notifier,
		AdviceHeader: cfg.Messages.AdviceHeader,
		Logger:       logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Workers:      cfg.Dispatch.Workers,
		QueueSize:    cfg.Dispatch.QueueSize,
		DrainTimeout: time.Duration(cfg.Dispatch.DrainTimeoutSeconds) * time.Second,
		Process:      pipeline.Process,
		Logger:       logger,
	})

	ingest, err := relay.NewIngest(relay.IngestConfig{
		Store:          store,
		Sender:         greeter,
		Dispatcher:     dispatcher,
		Welcome:        cfg.Messages.Welcome,
		Ack:            cfg.Messages.Ack,
		WelcomeTimeout: welcomeTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("ingest handler: %w", err)
	}

	server := relay.NewServer(relay.ServerConfig{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		WebhookPath: cfg.Server.WebhookPath,
		MetricsPath: cfg.Server.MetricsPath,
		Ingest:      ingest,
		Stats:       dispatcher.Stats,
		Logger:      logger,
	})

	// Shutdown stops the server and closes dispatcher intake together; units
	// already queued keep running until the drain timeout.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := dispatcher.Clean(recordRetention); n > 0 {
					logger.Debug("dispatch records cleaned", "removed", n)
				}
			}
		}
	})

	logger.Info("mezada started. Press Ctrl+C to stop.", "version", version)
	err = g.Wait()
	if errors.Is(err, dispatch.ErrDrainTimeout) {
		logger.Warn("shutdown drained only part of the queue", "err", err)
		return err
	}
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newTwilio(cfg *config.Config, sendTimeout time.Duration) *channel.Twilio {
	return channel.NewTwilio(channel.TwilioConfig{
		APIBase:       cfg.Transport.APIBase,
		AccountSID:    cfg.Transport.AccountSID,
		AuthToken:     cfg.Transport.AuthToken,
		From:          cfg.Transport.From,
		SendTimeout:   sendTimeout,
		RatePerSecond: cfg.Transport.RatePerSecond,
		Burst:         cfg.Transport.Burst,
		Logger:        logger,
	})
}

func newGenerator(cfg *config.Config) *provider.Groq {
	return provider.NewGroq(provider.GroqConfig{
		APIKey:         cfg.Generation.APIKey,
		APIBase:        cfg.Generation.APIBase,
		Model:          cfg.Generation.Model,
		PromptTemplate: cfg.Generation.PromptTemplate,
		Timeout:        time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
		Logger:         logger,
	})
}

func logsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs [sender]",
		Short: "Show logged exchanges for a sender, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := logstore.New(cfg.Storage.DBPath, logger)
			entries, err := store.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no exchanges logged for %s\n", args[0])
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of exchanges to show")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show message log size and generator health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			store := logstore.New(cfg.Storage.DBPath, logger)
			if n, err := store.Count(cmd.Context()); err != nil {
				logger.Info("message log", "path", store.Path(), "ok", false, "err", err)
			} else {
				logger.Info("message log", "path", store.Path(), "exchanges", n)
			}

			groq := newGenerator(cfg)
			if err := groq.Healthy(cmd.Context()); err != nil {
				logger.Info("generator", "model", groq.Model(), "healthy", false, "err", err)
			} else {
				logger.Info("generator", "model", groq.Model(), "healthy", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. dispatch.workers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
