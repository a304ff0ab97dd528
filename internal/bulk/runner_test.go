package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/models"
)

type fakeScraper struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]bool
	block   chan struct{} // when set, Scrape waits for a signal per call
	started chan string   // receives the URL as each scrape begins
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (*models.Product, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- url
	}
	if f.block != nil {
		<-f.block
	}
	if f.failOn[url] {
		return nil, fmt.Errorf("fetch %s: connection reset", url)
	}
	p := models.NewProduct(url)
	p.Title = "Product at " + url
	p.Price = 10
	return p, nil
}

func (f *fakeScraper) scraped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLister struct {
	mu     sync.Mutex
	calls  int
	failOn map[string]bool
}

func (f *fakeLister) List(_ context.Context, p *models.Product) (*ListResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.failOn[p.URL] {
		return &ListResult{OK: false, Error: "submit rejected"}, nil
	}
	return &ListResult{OK: true, ItemID: fmt.Sprintf("11000%d", n)}, nil
}

func testItems(n int) []*Item {
	items := make([]*Item, n)
	for i := range items {
		items[i] = &Item{
			Index:    i + 1,
			URL:      fmt.Sprintf("https://www.amazon.co.uk/dp/ITEM%04d", i+1),
			Quantity: 1,
			Status:   StatusReady,
		}
	}
	return items
}

func newTestRunner(s Scraper, l Lister) *Runner {
	return NewRunner(s, l, bridge.NullIO{}, nil, slog.Default())
}

func waitForDone(t *testing.T, r *Runner) RunSnapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap := r.Snapshot()
		if !snap.Running {
			return snap
		}
		select {
		case <-deadline:
			t.Fatal("run did not finish in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunnerProcessesAllItems(t *testing.T) {
	scraper := &fakeScraper{}
	lister := &fakeLister{}
	r := newTestRunner(scraper, lister)

	require.NoError(t, r.Start(context.Background(), testItems(3)))
	snap := waitForDone(t, r)

	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 3, snap.Total)
	for _, item := range snap.Items {
		assert.Equal(t, StatusListed, item.Status)
		assert.NotEmpty(t, item.EbayItemID)
		assert.NotEmpty(t, item.Title)
	}
}

func TestRunnerRejectsSecondStart(t *testing.T) {
	scraper := &fakeScraper{block: make(chan struct{}), started: make(chan string, 1)}
	lister := &fakeLister{}
	r := newTestRunner(scraper, lister)

	require.NoError(t, r.Start(context.Background(), testItems(1)))
	<-scraper.started

	err := r.Start(context.Background(), testItems(1))
	assert.ErrorIs(t, err, ErrRunActive)

	close(scraper.block)
	waitForDone(t, r)

	// Once idle, a new run is accepted again.
	scraper2 := &fakeScraper{}
	r2 := newTestRunner(scraper2, lister)
	assert.NoError(t, r2.Start(context.Background(), testItems(1)))
	waitForDone(t, r2)
}

func TestRunnerStartRejectsEmptyBatch(t *testing.T) {
	r := newTestRunner(&fakeScraper{}, &fakeLister{})
	assert.Error(t, r.Start(context.Background(), nil))
}

func TestRunnerOneFailureDoesNotStopBatch(t *testing.T) {
	items := testItems(4)
	scraper := &fakeScraper{failOn: map[string]bool{items[1].URL: true}}
	lister := &fakeLister{failOn: map[string]bool{items[2].URL: true}}
	r := newTestRunner(scraper, lister)

	require.NoError(t, r.Start(context.Background(), items))
	snap := waitForDone(t, r)

	assert.Equal(t, StatusListed, snap.Items[0].Status)
	assert.Equal(t, StatusFailed, snap.Items[1].Status)
	assert.Contains(t, snap.Items[1].Message, "Scrape failed")
	assert.Equal(t, StatusFailed, snap.Items[2].Status)
	assert.Contains(t, snap.Items[2].Message, "submit rejected")
	assert.Equal(t, StatusListed, snap.Items[3].Status)
	assert.Equal(t, 2, snap.Processed)
	assert.Len(t, scraper.scraped(), 4, "every item must be attempted")
}

func TestRunnerCancelMidScrape(t *testing.T) {
	items := testItems(5)
	scraper := &fakeScraper{block: make(chan struct{}), started: make(chan string, 5)}
	lister := &fakeLister{}
	r := newTestRunner(scraper, lister)

	require.NoError(t, r.Start(context.Background(), items))

	// Let items 1 and 2 through, then cancel while item 3 is mid-scrape.
	<-scraper.started
	scraper.block <- struct{}{}
	<-scraper.started
	scraper.block <- struct{}{}
	<-scraper.started

	require.NoError(t, r.Cancel())
	scraper.block <- struct{}{} // item 3's in-flight call is allowed to finish

	snap := waitForDone(t, r)

	assert.True(t, snap.Cancelled)
	assert.Equal(t, StatusListed, snap.Items[0].Status)
	assert.Equal(t, StatusListed, snap.Items[1].Status)
	assert.Equal(t, StatusListed, snap.Items[2].Status, "in-flight item finishes its work")
	assert.Equal(t, StatusCancelled, snap.Items[3].Status)
	assert.Equal(t, StatusCancelled, snap.Items[4].Status)
	assert.Len(t, scraper.scraped(), 3, "no external call may be made for cancelled items")
}

func TestRunnerPauseTakesEffectAtItemBoundary(t *testing.T) {
	items := testItems(3)
	scraper := &fakeScraper{block: make(chan struct{}), started: make(chan string, 3)}
	lister := &fakeLister{}
	r := newTestRunner(scraper, lister)

	require.NoError(t, r.Start(context.Background(), items))
	<-scraper.started

	require.NoError(t, r.Pause())
	scraper.block <- struct{}{} // item 1 finishes its step despite the pause

	// Give the worker a moment to park at the boundary.
	time.Sleep(50 * time.Millisecond)
	snap := r.Snapshot()
	assert.True(t, snap.Paused)
	assert.True(t, snap.Running)
	assert.Equal(t, StatusListed, snap.Items[0].Status)
	assert.Equal(t, StatusReady, snap.Items[1].Status, "no new item starts while paused")
	assert.Len(t, scraper.scraped(), 1)

	require.NoError(t, r.Resume())
	<-scraper.started
	scraper.block <- struct{}{}
	<-scraper.started
	scraper.block <- struct{}{}

	snap = waitForDone(t, r)
	assert.Equal(t, 3, snap.Processed)
}

func TestRunnerControlsRequireActiveRun(t *testing.T) {
	r := newTestRunner(&fakeScraper{}, &fakeLister{})
	assert.ErrorIs(t, r.Pause(), ErrNoRun)
	assert.ErrorIs(t, r.Resume(), ErrNoRun)
	assert.ErrorIs(t, r.Cancel(), ErrNoRun)
}

func TestRunnerSnapshotWhileRunning(t *testing.T) {
	scraper := &fakeScraper{block: make(chan struct{}), started: make(chan string, 1)}
	r := newTestRunner(scraper, &fakeLister{})

	require.NoError(t, r.Start(context.Background(), testItems(2)))
	<-scraper.started

	snap := r.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, StatusScraping, snap.Items[0].Status)

	// Mutating the snapshot must not leak into the live run.
	snap.Items[0].Status = StatusFailed
	assert.Equal(t, StatusScraping, r.Snapshot().Items[0].Status)

	close(scraper.block)
	waitForDone(t, r)
}

func TestRunnerCarriesBulkValuesOntoProduct(t *testing.T) {
	var listed *models.Product
	scraper := &fakeScraper{}
	lister := &captureLister{}
	r := NewRunner(scraper, lister, bridge.NullIO{}, nil, slog.Default())

	items := testItems(1)
	items[0].Quantity = 3
	items[0].Note = "Box 12"
	items[0].CustomSpecifics = map[string]string{"Colour": "Blue"}

	require.NoError(t, r.Start(context.Background(), items))
	waitForDone(t, r)

	listed = lister.last
	require.NotNil(t, listed)
	assert.Equal(t, 3, listed.Quantity)
	assert.Equal(t, "Box 12", listed.SellerNote)
	assert.Equal(t, map[string]string{"Colour": "Blue"}, listed.CustomSpecifics)
}

type captureLister struct {
	mu   sync.Mutex
	last *models.Product
}

func (c *captureLister) List(_ context.Context, p *models.Product) (*ListResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = p
	return &ListResult{OK: true, ItemID: "110001"}, nil
}
