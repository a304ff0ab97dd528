package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/models"
)

// ErrRunActive is returned by Start when a bulk run is already in progress.
// Exactly one run may be active per process.
var ErrRunActive = errors.New("a bulk run is already active")

// ErrNoRun is returned by the control operations when nothing is running.
var ErrNoRun = errors.New("no bulk run is active")

// Scraper fetches and parses one source product page.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*models.Product, error)
}

// ListResult is the outcome of one listing submission.
type ListResult struct {
	OK     bool
	ItemID string
	Error  string
}

// Lister submits one product to the destination marketplace. The listing
// flow owns specifics resolution, so by the time it returns the item either
// exists on the marketplace or failed as a unit.
type Lister interface {
	List(ctx context.Context, p *models.Product) (*ListResult, error)
}

// Recorder persists run history. All methods are best-effort: persistence
// failures are logged, never surfaced into the run.
type Recorder interface {
	RunStarted(ctx context.Context, runID uuid.UUID, total int)
	ItemFinished(ctx context.Context, runID uuid.UUID, item Item)
	RunFinished(ctx context.Context, runID uuid.UUID, processed int, cancelled bool)
}

// RunSnapshot is a point-in-time copy of the active (or last) run's state,
// safe for the caller to hold and serialize without further locking.
type RunSnapshot struct {
	RunID     uuid.UUID `json:"run_id"`
	Running   bool      `json:"running"`
	Paused    bool      `json:"paused"`
	Cancelled bool      `json:"cancelled"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Items     []Item    `json:"items"`
}

// Runner drives bulk items sequentially through scrape → list on a dedicated
// goroutine. Pause and cancel are cooperative and take effect only at item
// boundaries: an in-flight network call is always allowed to finish, since
// aborting a submission midway risks a duplicate listing.
type Runner struct {
	scraper  Scraper
	lister   Lister
	io       bridge.IO
	recorder Recorder
	logger   *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	runID     uuid.UUID
	items     []*Item
	running   bool
	paused    bool
	cancelled bool
	processed int
}

func NewRunner(scraper Scraper, lister Lister, io bridge.IO, recorder Recorder, logger *slog.Logger) *Runner {
	r := &Runner{
		scraper:  scraper,
		lister:   lister,
		io:       io,
		recorder: recorder,
		logger:   logger.With("component", "bulk_runner"),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start begins processing items on a background goroutine and returns
// immediately. It fails with ErrRunActive if a run is in progress and leaves
// that run untouched.
func (r *Runner) Start(ctx context.Context, items []*Item) error {
	if len(items) == 0 {
		return errors.New("no items to process")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunActive
	}
	r.runID = uuid.New()
	r.items = items
	r.running = true
	r.paused = false
	r.cancelled = false
	r.processed = 0
	runID := r.runID
	r.mu.Unlock()

	r.logger.Info("bulk run started", "run_id", runID, "total", len(items))
	if r.recorder != nil {
		r.recorder.RunStarted(ctx, runID, len(items))
	}

	go r.process(ctx, runID, items)
	return nil
}

// Pause stops the run at the next item boundary. The in-flight item finishes
// its current step first.
func (r *Runner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNoRun
	}
	r.paused = true
	r.io.Log("Bulk processing paused.")
	return nil
}

func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNoRun
	}
	r.paused = false
	r.cond.Broadcast()
	r.io.Log("Bulk processing resumed.")
	return nil
}

// Cancel requests a stop at the next item boundary. Items not yet started
// transition to Cancelled; the in-flight item finishes its current call.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNoRun
	}
	r.cancelled = true
	r.paused = false
	r.cond.Broadcast()
	r.io.Log("Cancellation requested...")
	return nil
}

// Snapshot returns a consistent copy of the run state. It never blocks the
// worker beyond the time needed to copy the item list.
func (r *Runner) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RunSnapshot{
		RunID:     r.runID,
		Running:   r.running,
		Paused:    r.paused,
		Cancelled: r.cancelled,
		Processed: r.processed,
		Total:     len(r.items),
		Items:     make([]Item, 0, len(r.items)),
	}
	for _, item := range r.items {
		snap.Items = append(snap.Items, item.clone())
	}
	return snap
}

func (r *Runner) process(ctx context.Context, runID uuid.UUID, items []*Item) {
	cancelled := false
	for idx, item := range items {
		if !r.waitAtBoundary() {
			cancelled = true
			r.io.Log("Bulk process cancelled.")
			for _, remaining := range items[idx:] {
				r.setItemState(remaining, StatusCancelled, "Cancelled before processing.")
			}
			break
		}
		r.processItem(ctx, runID, item, len(items))
	}

	r.mu.Lock()
	r.running = false
	r.paused = false
	processed := r.processed
	r.mu.Unlock()

	if cancelled {
		r.logger.Info("bulk run cancelled", "run_id", runID, "processed", processed)
	} else {
		r.io.Log(fmt.Sprintf("Bulk processing finished. Processed %d items.", processed))
		r.logger.Info("bulk run finished", "run_id", runID, "processed", processed)
	}
	if r.recorder != nil {
		r.recorder.RunFinished(ctx, runID, processed, cancelled)
	}
}

// waitAtBoundary blocks while paused and reports whether processing should
// continue. false means the run was cancelled.
func (r *Runner) waitAtBoundary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.paused && !r.cancelled {
		r.cond.Wait()
	}
	return !r.cancelled
}

func (r *Runner) processItem(ctx context.Context, runID uuid.UUID, item *Item, total int) {
	r.io.Log(fmt.Sprintf("=== Processing Item %d/%d ===", item.Index, total))

	r.setItemState(item, StatusScraping, "Scraping source listing.")
	product, err := r.scraper.Scrape(ctx, item.URL)
	if err != nil {
		r.io.Log(fmt.Sprintf("Skipping item %d due to scraping failure.", item.Index))
		r.setItemState(item, StatusFailed, fmt.Sprintf("Scrape failed: %v", err))
		r.recordItem(ctx, runID, item)
		return
	}

	// Carry bulk-text values through onto the scraped product.
	product.SellerNote = item.Note
	product.Quantity = item.Quantity
	product.CustomSpecifics = item.CustomSpecifics

	r.mu.Lock()
	item.Title = product.Title
	r.mu.Unlock()

	r.setItemState(item, StatusListing, "Listing on eBay.")
	result, err := r.lister.List(ctx, product)
	switch {
	case err != nil:
		r.setItemState(item, StatusFailed, fmt.Sprintf("Listing failed: %v", err))
	case !result.OK:
		msg := "Listing failed."
		if result.Error != "" {
			msg = "Listing failed: " + result.Error
		}
		r.setItemState(item, StatusFailed, msg)
	default:
		r.mu.Lock()
		item.EbayItemID = result.ItemID
		r.processed++
		r.mu.Unlock()
		r.setItemState(item, StatusListed, fmt.Sprintf("Listed successfully (Item ID %s).", result.ItemID))
	}
	r.recordItem(ctx, runID, item)
}

func (r *Runner) setItemState(item *Item, status Status, message string) {
	r.mu.Lock()
	item.Status = status
	item.Message = message
	index := item.Index
	r.mu.Unlock()

	r.io.Log(fmt.Sprintf("Bulk item %d status updated to '%s': %s", index, status, message))
}

func (r *Runner) recordItem(ctx context.Context, runID uuid.UUID, item *Item) {
	if r.recorder == nil {
		return
	}
	r.mu.Lock()
	copied := item.clone()
	r.mu.Unlock()
	r.recorder.ItemFinished(ctx, runID, copied)
}
