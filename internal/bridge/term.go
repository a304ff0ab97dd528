package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TermIO implements IO against a terminal, for one-shot CLI runs.
type TermIO struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewTermIO(in io.Reader, out io.Writer) *TermIO {
	return &TermIO{in: bufio.NewScanner(in), out: out}
}

func (t *TermIO) Log(msg string) {
	fmt.Fprintln(t.out, msg)
}

func (t *TermIO) PromptText(_ context.Context, label, def string, _ []string) (string, bool) {
	if def != "" {
		fmt.Fprintf(t.out, "%s [%s] ", label, def)
	} else {
		fmt.Fprintf(t.out, "%s ", label)
	}
	if !t.in.Scan() {
		return "", false
	}
	value := strings.TrimSpace(t.in.Text())
	if value == "" {
		return def, true
	}
	return value, true
}

func (t *TermIO) PromptChoice(_ context.Context, label string, options []string) (string, bool) {
	fmt.Fprintln(t.out, label)
	for i, option := range options {
		fmt.Fprintf(t.out, "  %d: %s\n", i+1, option)
	}
	for {
		fmt.Fprintf(t.out, "Enter your choice (1-%d), or blank to skip: ", len(options))
		if !t.in.Scan() {
			return "", false
		}
		text := strings.TrimSpace(t.in.Text())
		if text == "" {
			return "", false
		}
		choice, err := strconv.Atoi(text)
		if err != nil || choice < 1 || choice > len(options) {
			fmt.Fprintln(t.out, "Invalid choice. Please try again.")
			continue
		}
		return options[choice-1], true
	}
}

func (t *TermIO) OpenURL(url string) {
	fmt.Fprintf(t.out, "Open in browser: %s\n", url)
}
