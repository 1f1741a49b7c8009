package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stupiduntilnot/chatrelay/internal/bot"
	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/config"
	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/dummy"
	"github.com/stupiduntilnot/chatrelay/internal/history"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/openai"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
	"github.com/stupiduntilnot/chatrelay/internal/telegram"
	"github.com/stupiduntilnot/chatrelay/internal/users"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal("load .env", "err", err)
	}
	cfg, err := config.LoadRelayConfig()
	if err != nil {
		log.Fatal("load config", "err", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, "relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("relay exited", "err", logging.Scrub(err.Error()))
	}
}

func run(ctx context.Context, cfg config.RelayConfig, logger *log.Logger) error {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	processEventID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"role":     "relay",
		"pid":      os.Getpid(),
		"provider": cfg.ModelProvider,
		"source":   cfg.Commander,
		"model":    cfg.Model,
	})
	if err != nil {
		logger.Warn("failed to log process.started", "err", err)
	}
	defer func() {
		db.LogEvent(database, &processEventID, db.EventProcessStopped, map[string]any{"pid": os.Getpid()})
	}()

	commander, err := newCommander(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	provider, err := newModelProvider(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}

	store := history.NewSQLiteStore(database)
	b := &bot.Bot{
		Commander: commander,
		Users:     &users.Registry{DB: database},
		History:   store,
		Builder: &ctxpkg.Builder{
			Store:      store,
			Compressor: &ctxpkg.WindowCompressor{MaxPairs: cfg.MaxHistory},
		},
		Relay: &relay.Relay{
			Provider:      provider,
			History:       store,
			FlushInterval: time.Duration(cfg.FlushIntervalMillis) * time.Millisecond,
			Logger:        logger,
			DB:            database,
			ParentEventID: &processEventID,
		},
		SystemPrompt:  cfg.SystemPrompt,
		Logger:        logger,
		DB:            database,
		ParentEventID: &processEventID,
	}

	var offset int64
	if cfg.DropPending {
		offset, err = bot.BootstrapOffset(ctx, commander, time.Now(), cfg.PendingWindowSeconds, cfg.PendingMaxMessages)
		if err != nil {
			logger.Warn("bootstrap offset failed", "err", logging.Scrub(err.Error()))
		}
	}

	logger.Info("relay running",
		"model", cfg.Model,
		"provider", cfg.ModelProvider,
		"source", cfg.Commander,
		"max_history", cfg.MaxHistory,
		"offset", offset,
	)
	return b.Run(ctx, bot.PollOptions{
		Offset:  offset,
		Timeout: cfg.Timeout,
		Sleep:   time.Duration(cfg.SleepSeconds) * time.Second,
		Breaker: control.NewCircuitBreaker(5, 30*time.Second),
	})
}

func newCommander(cfg *config.RelayConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(cfg *config.RelayConfig) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case "openai":
		timeout := time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second
		return openai.NewClient(cfg.APIKey, cfg.ChatCompletionsURL, cfg.Model, timeout), nil
	case "dummy":
		return dummy.NewProvider(cfg.Model, cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
