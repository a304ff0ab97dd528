package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketflip/relister/internal/amazon"
	"github.com/marketflip/relister/internal/api"
	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/browser"
	"github.com/marketflip/relister/internal/bulk"
	"github.com/marketflip/relister/internal/config"
	"github.com/marketflip/relister/internal/database"
	"github.com/marketflip/relister/internal/ebay"
	"github.com/marketflip/relister/internal/ratelimit"
	"github.com/marketflip/relister/internal/specifics"
)

// browserFetcher adapts the Playwright browser to the scraper's Fetcher.
type browserFetcher struct {
	browser *browser.Browser
}

func (f *browserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.browser.FetchHTML(ctx, url)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	webBridge := bridge.NewWebBridge()

	// Source page fetcher: plain HTTP by default, hardened browser when
	// the target keeps serving bot checks.
	var fetcher amazon.Fetcher
	if cfg.Scraper.UseBrowser {
		b, err := browser.New(&browser.Options{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			AcceptLanguage: cfg.Browser.AcceptLanguage,
			TimezoneID:     cfg.Browser.TimezoneID,
			Locale:         cfg.Browser.Locale,
			ProxyServer:    cfg.Browser.ProxyServer,
		})
		if err != nil {
			logger.Error("failed to initialize browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		fetcher = &browserFetcher{browser: b}
	} else {
		fetcher = amazon.NewHTTPFetcher(cfg.Scraper.HTTPTimeout)
	}

	limiter := ratelimit.NewAdaptive(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	scraper := amazon.NewScraper(fetcher, limiter, webBridge, logger)

	creds := ebay.Credentials{
		ClientID:     cfg.Ebay.ClientID,
		ClientSecret: cfg.Ebay.ClientSecret,
		DevID:        cfg.Ebay.DevID,
		RuName:       cfg.Ebay.RuName,
	}
	tokens := ebay.NewTokenManager(creds, cfg.Ebay.TokenFile)
	taxonomy := ebay.NewTaxonomyClient(tokens.ApplicationToken, logger)
	resolver := specifics.NewResolver(taxonomy, webBridge, logger)
	lister := ebay.NewLister(taxonomy, resolver, tokens, creds, ebay.ListerConfig{
		Location:      cfg.Ebay.Location,
		PostalCode:    cfg.Ebay.PostalCode,
		SellerPaysFee: cfg.Ebay.SellerPaysFee,
		Fees:          ebay.FeeSchedule{FixedFee: cfg.Ebay.FixedFee},
	}, webBridge, logger)

	// Run history and the listing activity stream are optional; without
	// them the app still scrapes and lists, it just doesn't remember.
	var recorder bulk.Recorder
	var history api.RunHistory
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}

		bulkRecorder := database.NewBulkRecorder(db, logger)
		recorder = bulkRecorder
		history = bulkRecorder

		if cfg.Redis.Enabled {
			redisClient := redis.NewClient(&redis.Options{
				Addr: cfg.Redis.Addr,
				DB:   cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}

			relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
				PollInterval: 5 * time.Second,
				BatchSize:    100,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && err != context.Canceled {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	runner := bulk.NewRunner(scraper, lister, webBridge, recorder, logger)
	handlers := api.NewHandlers(scraper, lister, runner, webBridge, tokens, history, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
