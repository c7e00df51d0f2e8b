package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"motorent/internal/availability"
	"motorent/internal/config"
	"motorent/internal/pricing"
	"motorent/internal/receipts"
	"motorent/internal/rentalapi"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	client  *rentalapi.Client
	calc    *pricing.Calculator
	avail   *availability.Service
	rdb     *redis.Client
	journal *receipts.Journal
}

func newApp() (*app, error) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = logger.Level(cfg.LogLevel())

	client := rentalapi.NewClient(cfg.API.BaseURL, cfg.API.APIKey, logger)
	client.SetTimeout(cfg.APITimeout())
	if cfg.API.RateLimit > 0 {
		client.UseRateLimit(cfg.API.RateLimit, cfg.API.RateBurst)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		client: client,
		calc:   pricing.NewCalculator(cfg.Pricing),
		avail:  availability.NewService(client, availability.NewCache(cfg.CacheTTL()), logger),
	}

	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		store := availability.NewRedisStore(a.rdb, cfg.Redis.Prefix)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("redis unavailable, using memory cache only")
		} else {
			a.avail.UseSharedStore(store)
		}
	}

	return a, nil
}

func (a *app) openJournal() (*receipts.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	j, err := receipts.Open(a.cfg.Receipts.Path, &a.logger)
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

func (a *app) Close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// resolveType maps a motorcycle type slug or id to its id. Empty means no filter.
func (a *app) resolveType(ctx context.Context, typ string) (int64, error) {
	if typ == "" {
		return 0, nil
	}
	if id, err := strconv.ParseInt(typ, 10, 64); err == nil {
		return id, nil
	}
	types, err := a.client.ListTypes(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range types {
		if t.Slug == typ {
			return t.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown motorcycle type %q", typ)
}
