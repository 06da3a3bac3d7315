package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# command that plays a rendered audio file, e.g. "aplay -q" or "afplay"
# leave empty to only show speech bubbles
player: ""

tts:
  # voice backend: builtin, external or placeholder
  type: "builtin"
  # default per-request budget (1-600)
  timeout_seconds: 30
  # attempt diagnostics and event persistence
  enable_logging: true
  # retries after the first attempt (0-10)
  max_retry_count: 3
  # base delay between attempts
  retry_delay_ms: 1000
  # double the delay on every retry, capped at 30s
  use_backoff: true
  # in-flight adapter calls; 0 picks 1 for builtin and 4 otherwise
  max_concurrent: 0
  # reuse audio rendered for identical requests
  enable_caching: false
  cache_expiration_minutes: 60

  # local Piper renderer
  builtin:
    binary: "piper"
    model: "en_US-lessac-medium"
    # voice: "3"
    speed: 1.0
    volume: 1.0

  # hosted speech API (OpenAI compatible)
  external:
    base_url: "https://api.openai.com/v1"
    # api_key: "sk-..."
    model: "tts-1"
    voice: "alloy"
    requests_per_minute: 50

  # event log
  log:
    # directory for daily JSONL files; empty keeps events in memory only
    # dir: "~/.local/state/vpet-tts/events"
    retention_days: 7
    max_entries: 10000

  # audio cache
  cache:
    # dir: "~/.cache/vpet-tts/audio"
    # redis_addr: "localhost:6379"
    memory_items: 100
    max_size_mb: 100
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the vpet-tts config file",
	Long:    paragraph(fmt.Sprintf("\n%s the vpet-tts config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("vpet-tts config\nvpet-tts config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("vpet-tts", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)

		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
		if _, err := loadConfiguration(); err != nil {
			fmt.Println(failure(err.Error()))
		}
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
