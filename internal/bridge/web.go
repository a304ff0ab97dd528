package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	maxLogEntries        = 1000
	defaultPromptTimeout = 10 * time.Minute
)

// LogEntry is one line of the live log stream. IDs increase monotonically so
// a polling client can ask for "everything after N".
type LogEntry struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// Prompt is a pending question awaiting an answer from the UI.
type Prompt struct {
	ID          int      `json:"id"`
	Type        string   `json:"type"` // "text" or "choice"
	Label       string   `json:"prompt"`
	Default     string   `json:"default"`
	Options     []string `json:"options,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type pendingPrompt struct {
	answer chan *string // nil value means the user cancelled
}

// WebBridge implements IO for a polling web client. Prompts go through a
// single-slot mailbox: the processing worker blocks on the answer channel
// while the UI polls ActivePrompt and posts to Answer. A semaphore serializes
// prompts so at most one is ever outstanding, there is only one UI surface
// to answer them.
type WebBridge struct {
	promptTimeout time.Duration

	sem chan struct{}

	mu            sync.Mutex
	logEntries    []LogEntry
	logCounter    int
	promptCounter int
	active        *Prompt
	pending       map[int]*pendingPrompt
	openURLs      []string

	updateMu   sync.Mutex
	updateCond *sync.Cond
	updateSeq  int
}

func NewWebBridge() *WebBridge {
	b := &WebBridge{
		promptTimeout: defaultPromptTimeout,
		sem:           make(chan struct{}, 1),
		pending:       make(map[int]*pendingPrompt),
	}
	b.updateCond = sync.NewCond(&b.updateMu)
	return b
}

func (b *WebBridge) Log(msg string) {
	b.mu.Lock()
	b.logCounter++
	entry := LogEntry{
		ID:      b.logCounter,
		Message: fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg),
	}
	b.logEntries = append(b.logEntries, entry)
	if excess := len(b.logEntries) - maxLogEntries; excess > 0 {
		b.logEntries = b.logEntries[excess:]
	}
	b.mu.Unlock()
	b.notifyUpdate()
}

// LogsSince returns entries with IDs greater than since plus the latest ID.
func (b *WebBridge) LogsSince(since int) ([]LogEntry, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []LogEntry
	for _, entry := range b.logEntries {
		if entry.ID > since {
			out = append(out, entry)
		}
	}
	last := since
	if n := len(b.logEntries); n > 0 {
		last = b.logEntries[n-1].ID
	}
	return out, last
}

func (b *WebBridge) PromptText(ctx context.Context, label, def string, suggestions []string) (string, bool) {
	return b.await(ctx, Prompt{Type: "text", Label: label, Default: def, Suggestions: suggestions})
}

func (b *WebBridge) PromptChoice(ctx context.Context, label string, options []string) (string, bool) {
	value, ok := b.await(ctx, Prompt{Type: "choice", Label: label, Options: options})
	if !ok {
		return "", false
	}
	return value, true
}

func (b *WebBridge) OpenURL(url string) {
	b.mu.Lock()
	b.openURLs = append(b.openURLs, url)
	b.mu.Unlock()
	b.Log("Opening URL: " + url)
}

// DrainOpenURLs returns and clears the queued URLs for the client to open.
func (b *WebBridge) DrainOpenURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	urls := b.openURLs
	b.openURLs = nil
	return urls
}

// ActivePrompt returns the currently outstanding prompt, or nil.
func (b *WebBridge) ActivePrompt() *Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return nil
	}
	copied := *b.active
	return &copied
}

// Answer resolves a pending prompt. A nil value signals cancellation. It
// reports false when the prompt ID is unknown (already resolved or timed out).
func (b *WebBridge) Answer(id int, value *string) bool {
	b.mu.Lock()
	entry, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
		b.active = nil
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	entry.answer <- value
	b.notifyUpdate()
	return true
}

func (b *WebBridge) await(ctx context.Context, p Prompt) (string, bool) {
	// Serialize: only one outstanding prompt across the process.
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return "", false
	}
	defer func() { <-b.sem }()

	entry := &pendingPrompt{answer: make(chan *string, 1)}
	b.mu.Lock()
	b.promptCounter++
	p.ID = b.promptCounter
	b.active = &p
	b.pending[p.ID] = entry
	b.mu.Unlock()
	b.notifyUpdate()

	timer := time.NewTimer(b.promptTimeout)
	defer timer.Stop()

	select {
	case value := <-entry.answer:
		if value == nil {
			return "", false
		}
		return *value, true
	case <-timer.C:
		b.expire(p.ID)
		// Choice prompts carry no default, and an empty answer would just
		// re-prompt upstream. Treat those timeouts as cancelled.
		if p.Default == "" {
			b.Log("Prompt timed out; treating as cancelled.")
			return "", false
		}
		b.Log("Prompt timed out; continuing with default value.")
		return p.Default, true
	case <-ctx.Done():
		b.expire(p.ID)
		return "", false
	}
}

func (b *WebBridge) expire(id int) {
	b.mu.Lock()
	delete(b.pending, id)
	if b.active != nil && b.active.ID == id {
		b.active = nil
	}
	b.mu.Unlock()
	b.notifyUpdate()
}

// Notify bumps the update sequence so long-pollers wake up. Callers use it
// when they change state the bridge does not track itself, such as the web
// UI's status banner.
func (b *WebBridge) Notify() {
	b.notifyUpdate()
}

func (b *WebBridge) notifyUpdate() {
	b.updateMu.Lock()
	b.updateSeq++
	b.updateCond.Broadcast()
	b.updateMu.Unlock()
}

// WaitForUpdate blocks until the state has changed past since, or the wait
// times out, and returns the current sequence number. Long-poll support.
func (b *WebBridge) WaitForUpdate(since int, wait time.Duration) int {
	deadline := time.AfterFunc(wait, b.notifyUpdateNoIncrement)

	b.updateMu.Lock()
	defer b.updateMu.Unlock()
	defer deadline.Stop()

	start := time.Now()
	for b.updateSeq <= since && time.Since(start) < wait {
		b.updateCond.Wait()
	}
	return b.updateSeq
}

func (b *WebBridge) notifyUpdateNoIncrement() {
	b.updateMu.Lock()
	b.updateCond.Broadcast()
	b.updateMu.Unlock()
}
