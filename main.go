package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"rss-ai-bot/bot"
	"rss-ai-bot/config"
	"rss-ai-bot/enricher"
	"rss-ai-bot/fetcher"
	"rss-ai-bot/maintenance"
	"rss-ai-bot/publisher"
	"rss-ai-bot/scheduler"
	"rss-ai-bot/scraper"
	"rss-ai-bot/storage"
)

func main() {
	// .env is optional; real deployments use environment variables.
	_ = godotenv.Load()

	// Load configuration
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting RSS AI Bot", "config", configPath, "backend", cfg.Backend)

	// Initialize database
	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database initialized", "path", cfg.DBPath)

	// Initialize Telegram bot
	tgBot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		slog.Error("failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}
	slog.Info("telegram bot initialized", "username", tgBot.Self.UserName)

	// Select the AI backend
	backend, err := buildBackend(cfg)
	if err != nil {
		slog.Error("failed to initialize AI backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	// Initialize pipeline components
	articleEnricher := enricher.NewEnricher(
		backend,
		cfg.TargetLanguage,
		cfg.SummaryMaxChars,
		enricher.WithRetries(cfg.EnrichRetries),
	)
	feedFetcher := fetcher.NewFetcher(
		fetcher.WithTimeout(time.Duration(cfg.FetchTimeoutSecs)*time.Second),
		fetcher.WithMaxArticles(cfg.MaxArticlesPerPoll),
	)
	extractor := scraper.NewExtractor(
		scraper.WithTimeout(time.Duration(cfg.FetchTimeoutSecs) * time.Second),
	)
	// Destination chat: config wins, otherwise whatever /start bound
	// in a previous run.
	chatID := cfg.ChatID
	if chatID == 0 {
		if stored, err := db.GetSetting(context.Background(), "chat_id"); err == nil {
			if id, err := strconv.ParseInt(stored, 10, 64); err == nil {
				chatID = id
			}
		}
	}
	if chatID == 0 {
		slog.Warn("no destination chat yet; send /start in the target group to bind one")
	}

	pub := publisher.NewPublisher(
		tgBot,
		chatID,
		publisher.WithPause(time.Duration(cfg.PublishPauseMs)*time.Millisecond),
	)

	sched := scheduler.New(
		db,
		feedFetcher,
		articleEnricher,
		pub,
		scheduler.WithExtractor(extractor),
		scheduler.WithDefaultInterval(cfg.DefaultIntervalMins),
		scheduler.WithMaxArticleAttempts(cfg.MaxArticleAttempts),
		scheduler.WithTimeouts(
			time.Duration(cfg.FetchTimeoutSecs)*time.Second,
			time.Duration(cfg.EnrichTimeoutSecs)*time.Second,
			time.Duration(cfg.PublishTimeoutSecs)*time.Second,
		),
	)

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Resume polling persisted feeds
	if err := sched.Start(ctx); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Schedule daily seen-set pruning
	maint, err := maintenance.New(db, cfg.Timezone, cfg.SeenRetentionDays, cfg.SeenRetentionPerFeed)
	if err != nil {
		slog.Error("failed to initialize maintenance", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}
	if err := maint.Schedule(cfg.CleanupTime); err != nil {
		slog.Error("failed to schedule maintenance", "error", err)
		os.Exit(1)
	}
	maint.Start()
	defer maint.Stop()
	slog.Info("maintenance scheduled", "time", cfg.CleanupTime, "timezone", cfg.Timezone)

	// Handle commands
	handler := bot.NewCommandHandler(
		&telegramSender{bot: tgBot},
		sched,
		&chatBinder{db: db, pub: pub},
		cfg.AdminRestricted(),
		cfg.AdminUserID,
	)

	slog.Info("starting command loop")
	runCommandLoop(ctx, tgBot, handler)
	slog.Info("bot stopped")
}

func buildBackend(cfg *config.Config) (enricher.Backend, error) {
	switch cfg.Backend {
	case config.BackendGemini:
		return enricher.NewGemini(
			cfg.GeminiAPIKey,
			enricher.WithGeminiModel(cfg.GeminiModel),
			enricher.WithGeminiTimeout(time.Duration(cfg.EnrichTimeoutSecs)*time.Second),
		), nil
	case config.BackendLMStudio:
		return enricher.NewLMStudio(
			cfg.LMStudioBaseURL,
			cfg.LMStudioAPIKey,
			cfg.LMStudioModel,
			time.Duration(cfg.EnrichTimeoutSecs)*time.Second,
		), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func runCommandLoop(ctx context.Context, tgBot *tgbotapi.BotAPI, handler *bot.CommandHandler) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := tgBot.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			tgBot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			msg := update.Message
			var userID int64
			if msg.From != nil {
				userID = msg.From.ID
			}
			command := strings.ToLower(msg.Command())

			slog.Info("received command",
				"chat_id", msg.Chat.ID, "user_id", userID, "command", command)

			if err := handler.HandleCommand(ctx, msg.Chat.ID, userID, command, msg.CommandArguments()); err != nil {
				slog.Warn("command failed",
					"command", command, "chat_id", msg.Chat.ID, "error", err)
			}
		}
	}
}

// chatBinder persists the destination chat bound by /start and points
// the publisher at it.
type chatBinder struct {
	db  *storage.DB
	pub *publisher.Publisher
}

func (b *chatBinder) BindChat(ctx context.Context, chatID int64) error {
	if err := b.db.SetSetting(ctx, "chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	b.pub.SetChatID(chatID)
	slog.Info("destination chat bound", "chat_id", chatID)
	return nil
}

// telegramSender adapts the Telegram client to the bot.MessageSender
// interface used by command handlers.
type telegramSender struct {
	bot *tgbotapi.BotAPI
}

func (s *telegramSender) SendMessage(ctx context.Context, chatID int64, text string, html bool) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}

	sent, err := s.bot.Send(msg)
	if err != nil {
		slog.Warn("failed to send message", "chat_id", chatID, "error", err)
		return 0, err
	}
	return int64(sent.MessageID), nil
}

func parseLogLevel(level string) slog.Level {
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
