package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts/engines"
)

// consoleHost stands in for the pet display: speech bubbles are printed to
// out and audio files are handed to an optional player command.
type consoleHost struct {
	mu     sync.Mutex
	out    io.Writer
	player []string
	runner engines.CommandRunner
}

func newConsoleHost(out io.Writer, player string, runner engines.CommandRunner) *consoleHost {
	if runner == nil {
		runner = engines.ExecCommandRunner{}
	}
	return &consoleHost{
		out:    out,
		player: strings.Fields(player),
		runner: runner,
	}
}

// ShowText prints text in a bubble.
func (h *consoleHost) ShowText(_ context.Context, text string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, _ = fmt.Fprintln(h.out, bubble.Render(text))
	if d > 0 {
		_, _ = fmt.Fprintln(h.out, faint(fmt.Sprintf("  ~%s", d.Round(100*time.Millisecond))))
	}
}

// PlayFile runs the player on path and waits for it. Without a player the
// bubble is all the pet gets.
func (h *consoleHost) PlayFile(ctx context.Context, path string) error {
	if len(h.player) == 0 {
		return nil
	}

	args := append(append([]string{}, h.player[1:]...), path)
	_, stderr, err := h.runner.Run(ctx, h.player[0], args, nil)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return fmt.Errorf("%s: %w: %s", h.player[0], err, msg)
		}
		return fmt.Errorf("%s: %w", h.player[0], err)
	}
	return nil
}
