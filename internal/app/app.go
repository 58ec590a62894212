// Package app assembles the store, services, transports and scanner shared by the server and
// the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"benji/internal/bot"
	"benji/internal/cache"
	"benji/internal/config"
	"benji/internal/db"
	"benji/internal/domain"
	"benji/internal/explain"
	"benji/internal/market"
	"benji/internal/model"
	"benji/internal/repository"
	"benji/internal/sentiment"
	"benji/internal/service"
	"benji/internal/signal"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	tele "gopkg.in/telebot.v3"
)

// Store is everything the services need from persistence. Both the Postgres and the SQLite
// store satisfy it.
type Store interface {
	service.SignalStore
	service.AccountStore
	service.WatchlistStore
	RunMigrations(ctx context.Context) error
	Close() error
}

var (
	initPostgresFunc    = db.InitPostgres
	initRedisFunc       = cache.InitRedis
	openSQLiteFunc      = repository.OpenSQLite
	newTelegramBotFunc  = bot.NewTelegramBot
	newEmailTransportFn = bot.NewEmailTransport
)

type App struct {
	Config     *config.Config
	Tracer     trace.Tracer
	Store      Store
	Blender    *sentiment.Blender
	Accounts   *service.AccountService
	Lifecycle  *service.LifecycleManager
	Dispatcher *bot.AlertDispatcher
	Scanner    *service.Scanner
	// Bot is nil when no Telegram token is configured.
	Bot *tele.Bot
}

// New wires every component from cfg. Optional integrations (Redis, Telegram, SMTP, the
// scoring model, OpenAI) degrade to their fallbacks with a logged warning.
func New(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*App, error) {
	store, err := openStore(ctx, cfg, tracer)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Tracer: tracer, Store: store}

	lexicon := sentiment.NewLexicon()
	a.Blender = sentiment.NewBlender(
		scoreCache(ctx, cfg.RedisURL),
		lexicon,
		sentiment.NewSocialSource(lexicon),
		sentiment.NewNewsSource(cfg.NewsSentimentURL, nil),
		sentiment.NewMarketSource(cfg.MarketSentimentURL, nil),
		sentiment.WithCallTimeout(cfg.CallTimeout()),
	)

	a.Accounts = service.NewAccountService(tracer, store, cfg.CoreTickers)
	a.Lifecycle = service.NewLifecycleManager(tracer, store, service.OutcomePolicy{
		WinProbability: cfg.WinProbability,
		WinPnL:         cfg.WinPnL,
		LossPnL:        cfg.LossPnL,
	}, nil)

	var transports []bot.Transport
	if email, err := newEmailTransportFn(bot.EmailConfig{
		Server:   cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		Timeout:  cfg.CallTimeout(),
	}); err != nil {
		logOptional(err, "email alerts disabled")
	} else {
		transports = append(transports, email)
	}

	if b, err := newTelegramBotFunc(cfg.TelegramBotToken, false); err != nil {
		logOptional(err, "telegram disabled")
	} else {
		a.Bot = b
		bot.RegisterCommands(b, bot.NewCommands(a.Accounts, a.Lifecycle))
		transports = append(transports, bot.NewTelegramTransport(b))
	}
	a.Dispatcher = bot.NewAlertDispatcher(store, transports...).WithSendTimeout(cfg.CallTimeout())

	deps := service.ScannerDeps{
		Market:      market.NewHTTPProvider(cfg.MarketDataURL, cfg.MarketDataRPS, cfg.CallTimeout(), nil),
		Sentiment:   a.Blender,
		Engine:      signal.NewEngine(cfg.SentimentWeight, cfg.PoPThreshold, nil),
		Lifecycle:   a.Lifecycle,
		Watchlist:   store,
		Notifier:    a.Dispatcher,
		Explainer:   explain.NewExplainer(explain.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), cfg.CallTimeout()),
		CoreTickers: cfg.CoreTickers,
	}
	if m, err := model.Load(cfg.ModelPath); err != nil {
		logOptional(err, "scoring model not loaded")
	} else {
		deps.Classifier = m
	}
	a.Scanner = service.NewScanner(tracer, deps)

	log.Info().
		Strs("transports", a.Dispatcher.TransportNames()).
		Strs("core_tickers", cfg.CoreTickers).
		Msg("benji wired")
	return a, nil
}

// Close releases the store and shared connections. A started Bot is stopped by whoever
// started it.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}
	db.Close()
	if cache.Client != nil {
		_ = cache.Client.Close()
		cache.Client = nil
	}
}

func openStore(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (Store, error) {
	if cfg.DatabaseURL != "" {
		if err := initPostgresFunc(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(db.Pool, tracer)
		if err := store.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return store, nil
	}
	store, err := openSQLiteFunc(cfg.SQLitePath, tracer)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func scoreCache(ctx context.Context, redisURL string) sentiment.ScoreCache {
	if err := initRedisFunc(ctx, redisURL); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-process sentiment cache")
	}
	if cache.Client != nil {
		return cache.NewRedisScoreCache(cache.Client)
	}
	return cache.NewMemoryScoreCache()
}

func logOptional(err error, msg string) {
	if errors.Is(err, domain.ErrConfigurationMissing) {
		log.Info().Err(err).Msg(msg)
		return
	}
	log.Warn().Err(err).Msg(msg)
}
