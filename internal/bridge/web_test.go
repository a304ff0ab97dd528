package bridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForActivePrompt polls until a prompt is outstanding, the way the web
// client would.
func waitForActivePrompt(t *testing.T, b *WebBridge) *Prompt {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if p := b.ActivePrompt(); p != nil {
			return p
		}
		select {
		case <-deadline:
			t.Fatal("no prompt appeared")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestWebBridgePromptTextAnswered(t *testing.T) {
	b := NewWebBridge()

	type result struct {
		value string
		ok    bool
	}
	done := make(chan result, 1)
	go func() {
		v, ok := b.PromptText(context.Background(), "Enter a price", "9.99", nil)
		done <- result{v, ok}
	}()

	p := waitForActivePrompt(t, b)
	assert.Equal(t, "text", p.Type)
	assert.Equal(t, "Enter a price", p.Label)
	assert.Equal(t, "9.99", p.Default)

	answer := "12.50"
	require.True(t, b.Answer(p.ID, &answer))

	res := <-done
	assert.True(t, res.ok)
	assert.Equal(t, "12.50", res.value)
	assert.Nil(t, b.ActivePrompt())
}

func TestWebBridgePromptCancelled(t *testing.T) {
	b := NewWebBridge()

	done := make(chan bool, 1)
	go func() {
		_, ok := b.PromptChoice(context.Background(), "Pick a colour", []string{"Red", "Blue"})
		done <- ok
	}()

	p := waitForActivePrompt(t, b)
	assert.Equal(t, "choice", p.Type)
	assert.Equal(t, []string{"Red", "Blue"}, p.Options)

	require.True(t, b.Answer(p.ID, nil))
	assert.False(t, <-done)
}

func TestWebBridgeAnswerUnknownID(t *testing.T) {
	b := NewWebBridge()
	v := "whatever"
	assert.False(t, b.Answer(42, &v))
}

func TestWebBridgeAnswerIsOneShot(t *testing.T) {
	b := NewWebBridge()

	done := make(chan struct{})
	go func() {
		b.PromptText(context.Background(), "Title", "", nil)
		close(done)
	}()

	p := waitForActivePrompt(t, b)
	answer := "A"
	require.True(t, b.Answer(p.ID, &answer))
	<-done
	assert.False(t, b.Answer(p.ID, &answer), "a resolved prompt cannot be answered twice")
}

func TestWebBridgePromptsSerialized(t *testing.T) {
	b := NewWebBridge()

	answered := make(chan string, 2)
	for _, label := range []string{"first", "second"} {
		label := label
		go func() {
			v, _ := b.PromptText(context.Background(), label, label, nil)
			answered <- v
		}()
	}

	// Only one prompt is outstanding at a time; answering it surfaces the next.
	p1 := waitForActivePrompt(t, b)
	a1 := p1.Label
	require.True(t, b.Answer(p1.ID, &a1))
	<-answered

	p2 := waitForActivePrompt(t, b)
	assert.NotEqual(t, p1.ID, p2.ID)
	a2 := p2.Label
	require.True(t, b.Answer(p2.ID, &a2))
	<-answered
}

func TestWebBridgePromptTimeoutFallsBackToDefault(t *testing.T) {
	b := NewWebBridge()
	b.promptTimeout = 20 * time.Millisecond

	v, ok := b.PromptText(context.Background(), "Enter a title", "fallback", nil)
	assert.True(t, ok)
	assert.Equal(t, "fallback", v)
	assert.Nil(t, b.ActivePrompt(), "timed-out prompt is cleared")

	entries, _ := b.LogsSince(0)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[len(entries)-1].Message, "Prompt timed out")
}

func TestWebBridgeChoicePromptTimeoutCancels(t *testing.T) {
	b := NewWebBridge()
	b.promptTimeout = 20 * time.Millisecond

	v, ok := b.PromptChoice(context.Background(), "Pick a colour", []string{"Red", "Blue"})
	assert.False(t, ok, "a timed-out choice has no usable default")
	assert.Empty(t, v)
	assert.Nil(t, b.ActivePrompt(), "timed-out prompt is cleared")

	entries, _ := b.LogsSince(0)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[len(entries)-1].Message, "treating as cancelled")
}

func TestWebBridgeTextPromptTimeoutWithoutDefaultCancels(t *testing.T) {
	b := NewWebBridge()
	b.promptTimeout = 20 * time.Millisecond

	_, ok := b.PromptText(context.Background(), "Enter a title", "", nil)
	assert.False(t, ok)
}

func TestWebBridgePromptContextCancelled(t *testing.T) {
	b := NewWebBridge()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := b.PromptText(ctx, "Enter a title", "", nil)
		done <- ok
	}()

	waitForActivePrompt(t, b)
	cancel()
	assert.False(t, <-done)
}

func TestWebBridgeLogsSince(t *testing.T) {
	b := NewWebBridge()
	b.Log("one")
	b.Log("two")
	b.Log("three")

	entries, last := b.LogsSince(0)
	require.Len(t, entries, 3)
	assert.Equal(t, 3, last)
	assert.Contains(t, entries[0].Message, "one")

	entries, last = b.LogsSince(2)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "three")
	assert.Equal(t, 3, last)

	entries, last = b.LogsSince(3)
	assert.Empty(t, entries)
	assert.Equal(t, 3, last)
}

func TestWebBridgeLogRingCapped(t *testing.T) {
	b := NewWebBridge()
	for i := 0; i < maxLogEntries+25; i++ {
		b.Log(fmt.Sprintf("entry %d", i))
	}

	entries, last := b.LogsSince(0)
	assert.Len(t, entries, maxLogEntries)
	assert.Equal(t, maxLogEntries+25, last)
	assert.Contains(t, entries[0].Message, "entry 25", "oldest entries are dropped")
}

func TestWebBridgeDrainOpenURLs(t *testing.T) {
	b := NewWebBridge()
	b.OpenURL("https://www.ebay.co.uk/itm/110001")
	b.OpenURL("https://www.ebay.co.uk/itm/110002")

	urls := b.DrainOpenURLs()
	assert.Equal(t, []string{"https://www.ebay.co.uk/itm/110001", "https://www.ebay.co.uk/itm/110002"}, urls)
	assert.Empty(t, b.DrainOpenURLs())
}

func TestWebBridgeWaitForUpdate(t *testing.T) {
	b := NewWebBridge()

	// Times out without an update and returns the unchanged sequence.
	seq := b.WaitForUpdate(0, 20*time.Millisecond)
	assert.Equal(t, 0, seq)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Log("wake up")
	}()
	seq = b.WaitForUpdate(seq, 2*time.Second)
	assert.Greater(t, seq, 0)
}
