package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/bulk"
	"github.com/marketflip/relister/internal/models"
)

type fakeScraper struct {
	mu    sync.Mutex
	urls  []string
	err   error
	block chan struct{}
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (*models.Product, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	p := models.NewProduct(url)
	p.Title = "Test Product"
	p.Price = 19.99
	return p, nil
}

func (f *fakeScraper) scrapedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeLister struct {
	mu     sync.Mutex
	listed []*models.Product
	result *bulk.ListResult
	err    error
}

func (f *fakeLister) List(ctx context.Context, p *models.Product) (*bulk.ListResult, error) {
	f.mu.Lock()
	f.listed = append(f.listed, p)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &bulk.ListResult{OK: true, ItemID: "123456"}, nil
}

type fakeAuth struct {
	mu        sync.Mutex
	connected bool
	code      string
	exchange  error
	cleared   bool
}

func (f *fakeAuth) ConsentURL() string { return "https://auth.ebay.com/oauth2/authorize?client_id=test" }

func (f *fakeAuth) ExchangeAuthCode(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchange != nil {
		return f.exchange
	}
	f.code = code
	f.connected = true
	return nil
}

func (f *fakeAuth) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAuth) ClearUserToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
	f.connected = false
}

type testEnv struct {
	server  *httptest.Server
	bridge  *bridge.WebBridge
	scraper *fakeScraper
	lister  *fakeLister
	auth    *fakeAuth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	scraper := &fakeScraper{}
	lister := &fakeLister{}
	auth := &fakeAuth{}
	webBridge := bridge.NewWebBridge()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := bulk.NewRunner(scraper, lister, webBridge, nil, logger)
	h := NewHandlers(scraper, lister, runner, webBridge, auth, nil, logger)
	server := httptest.NewServer(NewRouter(h))
	t.Cleanup(server.Close)
	return &testEnv{server: server, bridge: webBridge, scraper: scraper, lister: lister, auth: auth}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) post(t *testing.T, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

// waitForPrompt polls until a prompt is active and returns its ID.
func (e *testEnv) waitForPrompt(t *testing.T) int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(e.server.URL + "/api/prompts")
		require.NoError(t, err)
		body := decodeBody(t, resp)
		if prompt, ok := body["prompt"].(map[string]any); ok {
			return int(prompt["id"].(float64))
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for an active prompt")
	return 0
}

// waitForIdle polls state until no background task is running.
func (e *testEnv) waitForIdle(t *testing.T) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, state := e.get(t, "/api/state")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		bulkState, _ := state["bulk"].(map[string]any)
		running, _ := bulkState["running"].(bool)
		if state["processing"] == false && !running {
			return state
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for idle state")
	return nil
}

func TestStateEndpointInitial(t *testing.T) {
	env := newTestEnv(t)

	resp, state := env.get(t, "/api/state")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, state["product_loaded"])
	assert.Equal(t, false, state["processing"])
	assert.Equal(t, false, state["connected"])

	status := state["status"].(map[string]any)
	assert.Equal(t, "Idle", status["label"])

	bulkState := state["bulk"].(map[string]any)
	assert.Equal(t, false, bulkState["running"])
	assert.Empty(t, bulkState["items"])
}

func TestScrapeLoadsProduct(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/scrape", map[string]any{
		"url":          "https://www.amazon.co.uk/dp/B0TEST1",
		"note":         "Box 12",
		"quantity":     3,
		"custom_specs": "Colour: Blue | Size: Large",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	state := env.waitForIdle(t)
	assert.Equal(t, true, state["product_loaded"])
	assert.Equal(t, []string{"https://www.amazon.co.uk/dp/B0TEST1"}, env.scraper.scrapedURLs())
}

func TestScrapeRequiresURL(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/scrape", map[string]any{"url": "  "})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["ok"])
}

func TestScrapeRejectsConcurrentTask(t *testing.T) {
	env := newTestEnv(t)
	env.scraper.block = make(chan struct{})

	resp, _ := env.post(t, "/api/scrape", map[string]any{"url": "https://www.amazon.co.uk/dp/B0TEST1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.post(t, "/api/scrape", map[string]any{"url": "https://www.amazon.co.uk/dp/B0TEST2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "another task is running", body["error"])

	close(env.scraper.block)
	env.waitForIdle(t)
}

func TestListRequiresProduct(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/list", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "scrape or load a product")
}

func TestListAfterScrape(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/api/scrape", map[string]any{"url": "https://www.amazon.co.uk/dp/B0TEST1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.waitForIdle(t)

	resp, body := env.post(t, "/api/list", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	state := env.waitForIdle(t)
	status := state["status"].(map[string]any)
	assert.Contains(t, status["message"], "123456")

	env.lister.mu.Lock()
	defer env.lister.mu.Unlock()
	require.Len(t, env.lister.listed, 1)
	assert.Equal(t, "Test Product", env.lister.listed[0].Title)
}

func TestPromptRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	type promptResult struct {
		value string
		ok    bool
	}
	done := make(chan promptResult, 1)
	go func() {
		value, ok := env.bridge.PromptText(context.Background(), "Enter a price", "10", nil)
		done <- promptResult{value, ok}
	}()

	promptID := env.waitForPrompt(t)

	resp, body := env.post(t, fmt.Sprintf("/api/prompts/%d", promptID), map[string]any{"value": "42.50"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	result := <-done
	assert.True(t, result.ok)
	assert.Equal(t, "42.50", result.value)
}

func TestPromptCancelViaNullValue(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan bool, 1)
	go func() {
		_, ok := env.bridge.PromptText(context.Background(), "Enter a title", "", nil)
		done <- ok
	}()

	promptID := env.waitForPrompt(t)

	resp, body := env.post(t, fmt.Sprintf("/api/prompts/%d", promptID), map[string]any{"value": nil})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.False(t, <-done)
}

func TestAnswerPromptInvalidID(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/api/prompts/nonsense", map[string]any{"value": "x"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogAppendAndFetch(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/api/log", map[string]any{"message": "hello from the UI"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.get(t, "/api/logs?since=0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Contains(t, entry["message"], "hello from the UI")
	assert.Equal(t, float64(1), body["last_id"])
}

func TestBulkPreviewParsesText(t *testing.T) {
	env := newTestEnv(t)

	text := "1\nhttps://www.amazon.co.uk/dp/B0AAA\nqty: 2\n\n2\nhttps://www.amazon.co.uk/dp/B0BBB"
	resp, body := env.post(t, "/api/bulk/preview", map[string]any{"text": text})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "https://www.amazon.co.uk/dp/B0AAA", first["url"])
	assert.Equal(t, float64(2), first["quantity"])
	assert.Equal(t, "Ready", first["status"])
}

func TestBulkPreviewEmptyText(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/bulk/preview", map[string]any{"text": "   "})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["items"])
}

func TestBulkProcessRunsToCompletion(t *testing.T) {
	env := newTestEnv(t)

	text := "https://www.amazon.co.uk/dp/B0AAA\n\nhttps://www.amazon.co.uk/dp/B0BBB"
	resp, body := env.post(t, "/api/bulk/process", map[string]any{"text": text})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])

	state := env.waitForIdle(t)
	bulkState := state["bulk"].(map[string]any)
	assert.Equal(t, float64(2), bulkState["processed"])
	items := bulkState["items"].([]any)
	require.Len(t, items, 2)
	for _, raw := range items {
		item := raw.(map[string]any)
		assert.Equal(t, "Listed", item["status"])
	}
}

func TestBulkProcessRequiresParsableText(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/bulk/process", map[string]any{"text": "no urls in here"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "no items")
}

func TestBulkControlsWithoutRun(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/bulk/pause", "/api/bulk/resume", "/api/bulk/cancel"} {
		resp, _ := env.post(t, path, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/auth/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["connected"])

	resp, body = env.post(t, "/api/auth", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["connected"])
	assert.Contains(t, body["consent_url"], "auth.ebay.com")
	assert.Equal(t, []string{env.auth.ConsentURL()}, env.bridge.DrainOpenURLs())

	callbackResp, err := http.Get(env.server.URL + "/callback?code=test-code-123")
	require.NoError(t, err)
	callbackResp.Body.Close()
	assert.Equal(t, http.StatusOK, callbackResp.StatusCode)
	assert.Equal(t, "test-code-123", env.auth.code)
	assert.True(t, env.auth.Connected())

	resp, body = env.post(t, "/api/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.True(t, env.auth.cleared)
	assert.False(t, env.auth.Connected())
}

func TestOAuthCallbackMissingCode(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/callback")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadProductFromJSON(t *testing.T) {
	env := newTestEnv(t)

	product := models.NewProduct("https://www.amazon.co.uk/dp/B0AAA")
	product.Title = "Uploaded Product"
	product.Quantity = 4
	product.SellerNote = "Shelf A"
	raw, err := json.Marshal(product)
	require.NoError(t, err)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "product.json")
	require.NoError(t, err)
	_, err = part.Write(raw)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(env.server.URL+"/api/load-json", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	body := decodeBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "https://www.amazon.co.uk/dp/B0AAA", body["url"])
	assert.Equal(t, float64(4), body["quantity"])
	assert.Equal(t, "Shelf A", body["seller_note"])

	_, state := env.get(t, "/api/state")
	assert.Equal(t, true, state["product_loaded"])
}

func TestLoadProductRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "broken.json")
	require.NoError(t, err)
	_, err = part.Write([]byte("{not json"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(env.server.URL+"/api/load-json", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "failed to parse JSON")
}

func TestRunsWithoutDatabase(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/runs")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["runs"])
}

func TestParseCustomSpecifics(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "two pairs",
			raw:  "Colour: Blue | Size: Large",
			want: map[string]string{"Colour": "Blue", "Size": "Large"},
		},
		{
			name: "value keeps later colons",
			raw:  "Ratio: 4:1",
			want: map[string]string{"Ratio": "4:1"},
		},
		{
			name: "segments without colon skipped",
			raw:  "Colour: Blue | just text",
			want: map[string]string{"Colour": "Blue"},
		},
		{
			name: "blank key or value skipped",
			raw:  ": Blue | Size:  ",
			want: map[string]string{},
		},
		{
			name: "empty input",
			raw:  "",
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCustomSpecifics(tt.raw))
		})
	}
}
