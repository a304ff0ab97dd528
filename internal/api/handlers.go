package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/bulk"
	"github.com/marketflip/relister/internal/database"
	"github.com/marketflip/relister/internal/models"
)

const (
	maxUploadBytes = 2 << 20
)

// AuthManager is the slice of the eBay token manager the API needs.
type AuthManager interface {
	ConsentURL() string
	ExchangeAuthCode(ctx context.Context, code string) error
	Connected() bool
	ClearUserToken()
}

// RunHistory serves persisted bulk run summaries. Nil when persistence is
// disabled.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]database.RunSummary, error)
}

// StatusBanner is the web UI's headline state.
type StatusBanner struct {
	Label   string `json:"label"`
	Message string `json:"message"`
	Tone    string `json:"tone"`
}

type Handlers struct {
	scraper bulk.Scraper
	lister  bulk.Lister
	runner  *bulk.Runner
	bridge  *bridge.WebBridge
	auth    AuthManager
	history RunHistory
	logger  *slog.Logger

	mu         sync.Mutex
	product    *models.Product
	processing bool
	status     StatusBanner
}

func NewHandlers(scraper bulk.Scraper, lister bulk.Lister, runner *bulk.Runner, webBridge *bridge.WebBridge, auth AuthManager, history RunHistory, logger *slog.Logger) *Handlers {
	return &Handlers{
		scraper: scraper,
		lister:  lister,
		runner:  runner,
		bridge:  webBridge,
		auth:    auth,
		history: history,
		logger:  logger.With("component", "api"),
		status:  StatusBanner{Label: "Idle", Message: "Waiting for input.", Tone: "idle"},
	}
}

// beginTask claims the single-flight processing slot. Scrape, list and the
// bulk run all share it so only one workflow touches the prompt mailbox at
// a time.
func (h *Handlers) beginTask() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.processing {
		return false
	}
	h.processing = true
	return true
}

func (h *Handlers) endTask() {
	h.mu.Lock()
	h.processing = false
	h.mu.Unlock()
	h.bridge.Notify()
}

func (h *Handlers) setStatus(label, message, tone string) {
	h.mu.Lock()
	h.status = StatusBanner{Label: label, Message: message, Tone: tone}
	h.mu.Unlock()
	h.bridge.Notify()
}

func (h *Handlers) setProduct(p *models.Product) {
	h.mu.Lock()
	h.product = p
	h.mu.Unlock()
	h.bridge.Notify()
}

// GetState returns the aggregate UI state: product slot, processing flag,
// status banner and the bulk run snapshot.
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	state := map[string]interface{}{
		"product_loaded": h.product != nil,
		"processing":     h.processing,
		"status":         h.status,
	}
	h.mu.Unlock()

	snapshot := h.runner.Snapshot()
	if snapshot.Items == nil {
		snapshot.Items = []bulk.Item{}
	}
	state["bulk"] = snapshot
	state["connected"] = h.auth.Connected()
	h.respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))
	entries, lastID := h.bridge.LogsSince(since)
	if entries == nil {
		entries = []bridge.LogEntry{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"last_id": lastID,
	})
}

func (h *Handlers) AppendLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := strings.TrimSpace(req.Message); msg != "" {
		h.bridge.Log(msg)
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) GetPrompt(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"prompt": h.bridge.ActivePrompt(),
	})
}

// AnswerPrompt resolves the active prompt. A null value cancels it.
func (h *Handlers) AnswerPrompt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "promptID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}
	var req struct {
		Value *string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": h.bridge.Answer(id, req.Value)})
}

func (h *Handlers) GetOpenURLs(w http.ResponseWriter, r *http.Request) {
	urls := h.bridge.DrainOpenURLs()
	if urls == nil {
		urls = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"urls": urls})
}

// GetUpdates long-polls until the state changes past the client's cursor.
func (h *Handlers) GetUpdates(w http.ResponseWriter, r *http.Request) {
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil {
			since = parsed
		}
	}
	if since < 0 {
		h.respondError(w, http.StatusBadRequest, "invalid since value")
		return
	}
	current := h.bridge.WaitForUpdate(since, updateWait)
	h.respondJSON(w, http.StatusOK, map[string]int{"update_id": current})
}

// LoadProduct accepts a previously exported product JSON and loads it into
// the product slot, ready to list.
func (h *Handlers) LoadProduct(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(raw) > maxUploadBytes {
		h.respondError(w, http.StatusRequestEntityTooLarge, "uploaded JSON file is too large")
		return
	}

	var product models.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse JSON: %v", err))
		return
	}

	h.setProduct(&product)
	h.bridge.Log(fmt.Sprintf("Loaded product from %s", header.Filename))
	h.setStatus("Ready", "Product loaded from JSON.", "success")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"url":         product.URL,
		"quantity":    product.Quantity,
		"seller_note": product.SellerNote,
	})
}

// StartAuth kicks off the eBay consent flow. The consent URL is returned and
// also queued for the UI to open; the grant lands on the /callback route.
func (h *Handlers) StartAuth(w http.ResponseWriter, r *http.Request) {
	if h.auth.Connected() {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "connected": true})
		return
	}
	consentURL := h.auth.ConsentURL()
	h.bridge.OpenURL(consentURL)
	h.bridge.Log("Authorize the app in the eBay tab that just opened.")
	h.setStatus("Working", "Waiting for eBay authorization...", "working")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"connected":   false,
		"consent_url": consentURL,
	})
}

// OAuthCallback receives the authorization code from eBay's redirect.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "Authentication failed.")
		return
	}
	if err := h.auth.ExchangeAuthCode(r.Context(), code); err != nil {
		h.logger.Error("auth code exchange failed", "error", err)
		h.bridge.Log(fmt.Sprintf("eBay authorization failed: %v", err))
		h.setStatus("Attention", "eBay authorization failed.", "error")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "Authentication failed.")
		return
	}
	h.bridge.Log("All tokens are ready.")
	h.setStatus("Ready", "Connected to eBay.", "success")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<h1>Authentication Successful!</h1><p>You can now return to the app.</p>")
}

func (h *Handlers) AuthStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]bool{"connected": h.auth.Connected()})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.ClearUserToken()
	h.bridge.Log("User token cleared. Re-authorize to reconnect your eBay account.")
	h.setStatus("Ready", "Logged out from eBay.", "success")
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type scrapeRequest struct {
	URL         string `json:"url"`
	Note        string `json:"note"`
	Quantity    *int   `json:"quantity"`
	CustomSpecs string `json:"custom_specs"`
}

// Scrape fetches a single source listing in the background and parks the
// result in the product slot.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		h.respondError(w, http.StatusBadRequest, "please enter a product URL")
		return
	}
	if !h.beginTask() {
		h.respondError(w, http.StatusBadRequest, "another task is running")
		return
	}

	note := strings.TrimSpace(req.Note)
	quantity := 0
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	customSpecs := ParseCustomSpecifics(req.CustomSpecs)

	h.setStatus("Working", "Scraping product page...", "working")
	go func() {
		defer h.endTask()
		product, err := h.scraper.Scrape(context.Background(), url)
		if err != nil {
			h.bridge.Log(fmt.Sprintf("Scrape failed: %v", err))
			h.setStatus("Attention", "Scrape failed. See log for details.", "error")
			return
		}
		product.SellerNote = note
		if quantity > 0 {
			product.Quantity = quantity
		}
		if len(customSpecs) > 0 {
			product.CustomSpecifics = customSpecs
		}
		h.setProduct(product)
		h.bridge.Log("Product scraped. You can now list on eBay.")
		h.setStatus("Ready", "Product scraped. Ready to list.", "success")
	}()
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListProduct submits the loaded product to eBay in the background.
func (h *Handlers) ListProduct(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	product := h.product
	h.mu.Unlock()
	if product == nil {
		h.respondError(w, http.StatusBadRequest, "please scrape or load a product first")
		return
	}
	if !h.beginTask() {
		h.respondError(w, http.StatusBadRequest, "another task is running")
		return
	}

	h.setStatus("Working", "Listing item on eBay...", "working")
	go func() {
		defer h.endTask()
		result, err := h.lister.List(context.Background(), product)
		if err != nil {
			h.bridge.Log(fmt.Sprintf("Listing failed: %v", err))
			h.setStatus("Attention", "Listing failed. See log for details.", "error")
			return
		}
		if result.OK {
			h.bridge.Log(fmt.Sprintf("Listing complete. Item ID: %s", result.ItemID))
			h.setStatus("Ready", fmt.Sprintf("Listing complete. Item ID %s.", result.ItemID), "success")
		} else {
			h.bridge.Log(fmt.Sprintf("Listing failed: %s", result.Error))
			h.setStatus("Attention", "Listing failed. See log for details.", "error")
		}
	}()
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type bulkTextRequest struct {
	Text string `json:"text"`
}

// BulkPreview parses pasted bulk text without starting a run. While a run is
// active it returns the live items instead, so refreshing the preview cannot
// clobber in-flight state.
func (h *Handlers) BulkPreview(w http.ResponseWriter, r *http.Request) {
	var req bulkTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshot := h.runner.Snapshot()
	if snapshot.Running {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "items": snapshot.Items})
		return
	}

	text := strings.TrimSpace(req.Text)
	items := []bulk.Item{}
	if text != "" {
		for _, item := range bulk.ParseItems(text) {
			items = append(items, *item)
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "items": items})
}

func (h *Handlers) BulkProcess(w http.ResponseWriter, r *http.Request) {
	var req bulkTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.respondError(w, http.StatusBadRequest, "paste bulk text first")
		return
	}
	items := bulk.ParseItems(text)
	if len(items) == 0 {
		h.respondError(w, http.StatusBadRequest, "no items could be parsed from the text")
		return
	}

	if err := h.runner.Start(context.Background(), items); err != nil {
		if errors.Is(err, bulk.ErrRunActive) {
			h.respondError(w, http.StatusBadRequest, "bulk processing is already running")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.setStatus("Working", fmt.Sprintf("Bulk processing started (%d items).", len(items)), "working")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "total": len(items)})
}

func (h *Handlers) BulkPause(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Pause(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.bridge.Log("Bulk processing paused.")
	h.setStatus("Paused", "Bulk processing paused.", "warning")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "paused": true})
}

func (h *Handlers) BulkResume(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Resume(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.bridge.Log("Bulk processing resumed.")
	h.setStatus("Working", "Bulk processing resumed.", "working")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "paused": false})
}

func (h *Handlers) BulkCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Cancel(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.bridge.Log("Cancellation requested...")
	h.setStatus("Attention", "Bulk processing cancellation requested.", "warning")
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetRuns serves persisted run history. Without a database it reports an
// empty list rather than an error so the UI stays usable.
func (h *Handlers) GetRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": []database.RunSummary{}})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	runs, err := h.history.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load run history", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load run history")
		return
	}
	if runs == nil {
		runs = []database.RunSummary{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// ParseCustomSpecifics splits "Colour: Blue | Size: Large" style input into
// a specifics map. Malformed segments are skipped.
func ParseCustomSpecifics(raw string) map[string]string {
	specs := make(map[string]string)
	for _, part := range strings.Split(raw, "|") {
		key, value, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			specs[key] = value
		}
	}
	return specs
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{"ok": false, "error": message})
}
