package engines

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// waitForPlayback shows the text bubble and plays res through host. Without
// a host, or without anything playable, it waits out the estimated duration.
// Temporary files written here are removed before returning.
func waitForPlayback(ctx context.Context, host tts.Host, tempDir string, res *tts.AudioResult) error {
	if res == nil || !res.Success {
		return fmt.Errorf("nothing to play")
	}

	if host == nil {
		return sleepCtx(ctx, res.Duration)
	}

	host.ShowText(ctx, res.Text, res.Duration)

	path := res.FilePath
	if path == "" && len(res.Audio) > 0 {
		f, err := os.CreateTemp(tempDir, "vpet-tts-play-*"+extension(res.ContentType))
		if err != nil {
			return fmt.Errorf("failed to create playback file: %w", err)
		}
		path = f.Name()
		defer os.Remove(path) //nolint:errcheck
		_, werr := f.Write(res.Audio)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("failed to write playback file: %w", werr)
		}
		if cerr != nil {
			return fmt.Errorf("failed to write playback file: %w", cerr)
		}
	}
	if path == "" {
		return sleepCtx(ctx, res.Duration)
	}

	if err := host.PlayFile(ctx, path); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func extension(contentType string) string {
	switch contentType {
	case tts.FormatMP3.ContentType():
		return ".mp3"
	case tts.FormatPCM.ContentType():
		return ".pcm"
	default:
		return ".wav"
	}
}
