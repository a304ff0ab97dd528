package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketflip/relister/internal/amazon"
	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/bulk"
	"github.com/marketflip/relister/internal/config"
	"github.com/marketflip/relister/internal/ebay"
	"github.com/marketflip/relister/internal/ratelimit"
	"github.com/marketflip/relister/internal/specifics"
)

// bulk-runner processes a pasted-text batch file from the terminal, without
// the web UI. Prompts fall back to stdin.
func main() {
	var (
		file    = flag.String("file", "", "Path to the bulk text file")
		preview = flag.Bool("preview", false, "Parse and print the batch without listing")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: bulk-runner -file <batch.txt> [-preview]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *file, err)
		os.Exit(1)
	}

	items := bulk.ParseItems(string(raw))
	if len(items) == 0 {
		fmt.Fprintln(os.Stderr, "no items could be parsed from the file")
		os.Exit(1)
	}

	if *preview {
		for _, item := range items {
			fmt.Printf("%3d  %s  qty=%d", item.Index, item.URL, item.Quantity)
			if item.Note != "" {
				fmt.Printf("  note=%q", item.Note)
			}
			for k, v := range item.CustomSpecifics {
				fmt.Printf("  %s=%q", k, v)
			}
			fmt.Println()
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	termIO := bridge.NewTermIO(os.Stdin, os.Stdout)

	fetcher := amazon.NewHTTPFetcher(cfg.Scraper.HTTPTimeout)
	limiter := ratelimit.NewAdaptive(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	scraper := amazon.NewScraper(fetcher, limiter, termIO, logger)

	creds := ebay.Credentials{
		ClientID:     cfg.Ebay.ClientID,
		ClientSecret: cfg.Ebay.ClientSecret,
		DevID:        cfg.Ebay.DevID,
		RuName:       cfg.Ebay.RuName,
	}
	tokens := ebay.NewTokenManager(creds, cfg.Ebay.TokenFile)
	taxonomy := ebay.NewTaxonomyClient(tokens.ApplicationToken, logger)
	resolver := specifics.NewResolver(taxonomy, termIO, logger)
	lister := ebay.NewLister(taxonomy, resolver, tokens, creds, ebay.ListerConfig{
		Location:      cfg.Ebay.Location,
		PostalCode:    cfg.Ebay.PostalCode,
		SellerPaysFee: cfg.Ebay.SellerPaysFee,
		Fees:          ebay.FeeSchedule{FixedFee: cfg.Ebay.FixedFee},
	}, termIO, logger)

	if !tokens.Connected() {
		fmt.Fprintln(os.Stderr, "not connected to eBay: open this URL, authorize, then re-run the web app callback first")
		fmt.Fprintln(os.Stderr, tokens.ConsentURL())
		os.Exit(1)
	}

	runner := bulk.NewRunner(scraper, lister, termIO, nil, logger)
	// The run gets its own context: an interrupt requests an item-boundary
	// cancel rather than tearing down in-flight network calls.
	if err := runner.Start(context.Background(), items); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start batch: %v\n", err)
		os.Exit(1)
	}

	snapshot := waitForRun(ctx, runner)

	fmt.Println()
	failed := 0
	for _, item := range snapshot.Items {
		fmt.Printf("%3d  %-9s  %s\n", item.Index, item.Status, item.Message)
		if item.Status == bulk.StatusFailed {
			failed++
		}
	}
	fmt.Printf("\nProcessed %d of %d items.\n", snapshot.Processed, snapshot.Total)
	if failed > 0 || snapshot.Cancelled {
		os.Exit(1)
	}
}

// waitForRun polls until the run finishes. On interrupt it requests a
// cancel and keeps waiting so the in-flight item can complete cleanly.
func waitForRun(ctx context.Context, runner *bulk.Runner) bulk.RunSnapshot {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(os.Stderr, "\ninterrupt received, cancelling after the current item...")
			if err := runner.Cancel(); err != nil {
				return runner.Snapshot()
			}
		case <-ticker.C:
		}
		if snapshot := runner.Snapshot(); !snapshot.Running {
			return snapshot
		}
	}
}
