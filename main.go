// Package main provides the entry point for the vpet-tts CLI application.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/dispatch"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	backend    string
	priority   string
	timeoutMs  int
	noPlay     bool

	closeLog = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "vpet-tts [TEXT]",
		Short: "Give your virtual pet a voice",
		Long: paragraph(
			fmt.Sprintf("\nSpeak text through a %s, or read one line per request from stdin.", keyword("local or hosted voice")),
		),
		Example:          paragraph("vpet-tts \"Good morning!\"\nfortune | vpet-tts --backend external\nvpet-tts --priority immediate \"Feed me\""),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	closer, err := setupLog(viper.GetBool("debug"))
	if err != nil {
		return err
	}
	closeLog = closer

	if configFile != "" && configFile != viper.ConfigFileUsed() {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	if cmd.Flags().Changed("backend") {
		if _, err := tts.ParseBackendType(backend); err != nil {
			return err
		}
		viper.Set("tts.type", backend)
	}

	if _, err := parsePriority(priority); err != nil {
		return err
	}
	if timeoutMs < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", timeoutMs)
	}
	return nil
}

func parsePriority(s string) (tts.Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return tts.PriorityLow, nil
	case "", "normal":
		return tts.PriorityNormal, nil
	case "high":
		return tts.PriorityHigh, nil
	case "immediate":
		return tts.PriorityImmediate, nil
	default:
		return tts.PriorityNormal, fmt.Errorf("unknown priority %q: use low, normal, high or immediate", s)
	}
}

func loadConfiguration() (tts.Configuration, error) {
	return tts.LoadConfigurationFromViper(viper.GetViper())
}

// openService loads the configuration and builds the dispatcher around a
// console host writing to out.
func openService(ctx context.Context, out io.Writer) (*service, error) {
	cfg, err := loadConfiguration()
	if err != nil {
		return nil, err
	}
	host := newConsoleHost(out, viper.GetString("player"), nil)
	return newService(ctx, cfg, host, log.Default())
}

func execute(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	svc, err := openService(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	if len(args) > 0 {
		return speak(ctx, svc.dispatcher, cmd.ErrOrStderr(), strings.Join(args, " "))
	}

	// Long-running line mode follows config edits.
	svc.watchConfig(ctx, viper.GetViper())

	if term.IsTerminal(int(os.Stdin.Fd())) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), faint("Type a line and press enter to speak it. Ctrl+D quits."))
	}
	return speakLines(ctx, svc.dispatcher, cmd.InOrStdin(), cmd.ErrOrStderr())
}

// speakLines speaks every non-blank line of r in order. Failures are
// reported and do not stop the loop.
func speakLines(ctx context.Context, d *dispatch.Dispatcher, r io.Reader, errOut io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), tts.MaxTextSize*4)

	var failed int
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := speak(ctx, d, errOut, line); err != nil {
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unable to read input: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of the requests failed", failed)
	}
	return nil
}

func speak(ctx context.Context, d *dispatch.Dispatcher, errOut io.Writer, text string) error {
	p, _ := parsePriority(priority)
	req := tts.NewRequest(text, p)
	req.Settings = d.Configuration().RequestSettings()
	if timeoutMs > 0 {
		req.Settings.TimeoutMs = timeoutMs
	}

	var resp *tts.Response
	if noPlay {
		resp = d.ProcessRequest(ctx, req)
	} else {
		resp = d.Speak(ctx, req)
	}

	if !resp.Success {
		_, _ = fmt.Fprintln(errOut, failure(fmt.Sprintf("%s: %s", resp.ErrorCode, resp.ErrorMessage)))
		if resp.ErrorDetails != "" {
			_, _ = fmt.Fprintln(errOut, faint("  "+resp.ErrorDetails))
		}
		return fmt.Errorf("request %s failed: %s", resp.RequestID, resp.ErrorCode)
	}

	log.Debug("Spoke",
		"request_id", resp.RequestID,
		"backend", resp.Adapter,
		"attempts", resp.Attempts,
		"cache_hit", resp.CacheHit,
		"elapsed", resp.ProcessingTime)
	return nil
}

func main() {
	err := rootCmd.Execute()
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "write debug logs to the cache directory")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "voice backend: builtin, external or placeholder")
	rootCmd.Flags().StringVarP(&priority, "priority", "p", "normal", "request priority: low, normal, high or immediate")
	rootCmd.Flags().IntVarP(&timeoutMs, "timeout", "t", 0, "per-request timeout in milliseconds (0 uses the configured default)")
	rootCmd.Flags().BoolVar(&noPlay, "no-play", false, "render without waiting for playback")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	tts.SetDefaults(viper.GetViper())
	viper.SetDefault("player", "")

	rootCmd.AddCommand(configCmd, manCmd, statusCmd, healthCmd, statsCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "vpet-tts")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "vpet-tts")}, dirs...)
	}

	if c := os.Getenv("VPET_TTS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("vpet-tts")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], "vpet-tts.yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
