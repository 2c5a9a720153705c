package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicebot/internal/config"
	"voicebot/internal/dispatch"
	"voicebot/internal/knowledge"
	"voicebot/internal/mediacache"
	"voicebot/internal/metrics"
	"voicebot/internal/provider"
	"voicebot/internal/resolver"
	"voicebot/internal/server"
	"voicebot/internal/task"
	"voicebot/internal/whatsapp"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "voicebot",
		Short:   "Voicebot: WhatsApp voice and text assistant",
		Long:    "Voicebot relays WhatsApp messages through retrieval and generative backends and answers in both text and speech.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.voicebot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

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

func loadOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

// buildLogger replaces the bootstrap logger once the config is known.
func buildLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	cleanup := func() {}
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		cleanup = func() { f.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), cleanup, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Starts the HTTP server: WhatsApp webhook, text/audio query endpoints, and the media cache. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadOrDefaults()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, cleanup, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := mediacache.New(mediacache.Config{
		TTL: time.Duration(cfg.Server.MediaTTLSeconds) * time.Second,
	})

	waClient := whatsapp.NewClient(whatsapp.Config{
		APIBase:       cfg.WhatsApp.APIBase,
		APIVersion:    cfg.WhatsApp.APIVersion,
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AppID:         cfg.WhatsApp.AppID,
		AppSecret:     cfg.WhatsApp.AppSecret,
		Logger:        logger,
	})

	azure := provider.NewAzure(provider.AzureConfig{
		Endpoint:      cfg.Azure.Endpoint,
		APIKey:        cfg.Azure.APIKey,
		APIVersion:    cfg.Azure.APIVersion,
		GPTDeployment: cfg.Azure.GPTDeployment,
		STTDeployment: cfg.Azure.STTDeployment,
		TTSDeployment: cfg.Azure.TTSDeployment,
		TTSVoice:      cfg.Azure.TTSVoice,
		TTSFormat:     cfg.Azure.TTSFormat,
		STTLanguage:   cfg.Azure.STTLanguage,
		Logger:        logger,
	})

	retriever, closeStore, err := buildRetriever(ctx, cfg, azure)
	if err != nil {
		return err
	}
	defer closeStore()

	resolverCfg := resolver.Config{
		Generator: azure,
		Greetings: cfg.Resolver.Greetings,
		Welcome:   cfg.Resolver.Welcome,
		Apology:   cfg.Resolver.Apology,
		Logger:    logger,
	}
	if retriever != nil {
		// Assign only a live engine: a typed nil would still satisfy the
		// Retriever interface.
		resolverCfg.Retriever = retriever
	}
	res := resolver.New(resolverCfg)

	disp := dispatch.New(dispatch.Config{
		Messenger: waClient,
		Cache:     cache,
		BaseURL:   cfg.Server.PublicBaseURL,
		Logger:    logger,
	})

	srv := server.New(server.Config{
		Config:      cfg,
		Resolver:    res,
		Dispatcher:  disp,
		Cache:       cache,
		Transcriber: azure,
		Synthesizer: azure,
		Downloader:  waClient,
		Debugger:    waClient,
		Spawner:     task.NewDetached(ctx, logger),
		Collector:   metrics.NewCollector(),
		AudioType:   azure.AudioContentType(),
		Logger:      logger,
	})

	return srv.Start(ctx)
}

// buildRetriever opens the knowledge store and seeds it when retrieval is
// enabled. The returned close func is a no-op when retrieval is off.
func buildRetriever(ctx context.Context, cfg *config.Config, azure *provider.Azure) (*knowledge.Engine, func(), error) {
	if !cfg.Knowledge.Enabled {
		logger.Info("knowledge retrieval disabled")
		return nil, func() {}, nil
	}

	store, err := knowledge.NewStore(cfg.Knowledge.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("knowledge store: %w", err)
	}

	engine := knowledge.NewEngine(knowledge.EngineConfig{
		Store:     store,
		Generator: azure,
		ChunkSize: cfg.Knowledge.ChunkSize,
		Overlap:   cfg.Knowledge.ChunkOverlap,
		TopK:      cfg.Knowledge.SearchTopK,
		Logger:    logger,
	})

	if cfg.Knowledge.DataPath != "" {
		if err := knowledge.Seed(ctx, engine, cfg.Knowledge.DataPath, logger); err != nil {
			logger.Warn("knowledge seeding failed, continuing without fresh data", "path", cfg.Knowledge.DataPath, "err", err)
		}
	}

	return engine, func() { store.Close() }, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and knowledge base status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			logger.Info("server", "host", cfg.Server.Host, "port", cfg.Server.Port, "publicBaseUrl", cfg.Server.PublicBaseURL != "")
			logger.Info("whatsapp", "accessToken", cfg.WhatsApp.AccessToken != "", "phoneNumberId", cfg.WhatsApp.PhoneNumberID != "", "verifyToken", cfg.WhatsApp.VerifyToken != "")
			logger.Info("azure", "endpoint", cfg.Azure.Endpoint != "", "gpt", cfg.Azure.GPTDeployment, "stt", cfg.Azure.STTDeployment, "tts", cfg.Azure.TTSDeployment)

			if !cfg.Knowledge.Enabled {
				logger.Info("knowledge", "enabled", false)
				return nil
			}
			store, err := knowledge.NewStore(cfg.Knowledge.DBPath, logger)
			if err != nil {
				logger.Warn("knowledge store unavailable", "err", err)
				return nil
			}
			defer store.Close()
			count, err := store.CountDocuments(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("knowledge", "enabled", true, "documents", count, "db", cfg.Knowledge.DBPath)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.port 8080)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
