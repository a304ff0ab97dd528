// Package bridge decouples the processing core from whatever UI answers its
// prompts. The core logs and asks through the IO interface; implementations
// route that to a polling web client, a terminal, or nowhere.
package bridge

import (
	"context"
)

// IO is the interactive channel the scraping and listing flows depend on.
// Prompt methods block until answered; the bool return is false when the
// user cancelled, which callers treat as "leave this value unset".
type IO interface {
	Log(msg string)
	PromptText(ctx context.Context, label, def string, suggestions []string) (string, bool)
	PromptChoice(ctx context.Context, label string, options []string) (string, bool)
	OpenURL(url string)
}

// NullIO answers every prompt with its default and discards logs. It is the
// non-interactive baseline used in tests and headless runs.
type NullIO struct{}

func (NullIO) Log(string) {}

func (NullIO) PromptText(_ context.Context, _, def string, _ []string) (string, bool) {
	return def, true
}

func (NullIO) PromptChoice(_ context.Context, _ string, options []string) (string, bool) {
	if len(options) == 0 {
		return "", false
	}
	return options[0], true
}

func (NullIO) OpenURL(string) {}
