package dispatch

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	"github.com/dgnsrekt/vpet-tts/internal/tts/engines"
)

// AdapterFactory resolves the adapter for a configuration snapshot. It is
// called once per configuration, never per request.
type AdapterFactory func(cfg tts.Configuration) (tts.Adapter, error)

// FactoryOptions holds the collaborators shared by the engine adapters.
type FactoryOptions struct {
	Host    tts.Host
	Runner  engines.CommandRunner
	Speech  engines.SpeechClient
	TempDir string
	Logger  *log.Logger
}

// NewAdapterFactory builds adapters from the engines package.
func NewAdapterFactory(opts FactoryOptions) AdapterFactory {
	return func(cfg tts.Configuration) (tts.Adapter, error) {
		switch cfg.Backend() {
		case tts.BackendBuiltin:
			return engines.NewBuiltin(cfg.Builtin, engines.BuiltinOptions{
				Runner:  opts.Runner,
				Host:    opts.Host,
				TempDir: opts.TempDir,
				Logger:  opts.Logger,
			}), nil
		case tts.BackendExternal:
			return engines.NewExternal(cfg.External, engines.ExternalOptions{
				Client: opts.Speech,
				Host:   opts.Host,
				Logger: opts.Logger,
			}), nil
		case tts.BackendPlaceholder:
			return engines.NewPlaceholder(""), nil
		default:
			return nil, fmt.Errorf("%w: %q", tts.ErrInvalidBackend, cfg.Type)
		}
	}
}

// StaticAdapters serves prebuilt adapters keyed by their backend.
func StaticAdapters(adapters ...tts.Adapter) AdapterFactory {
	byBackend := make(map[tts.BackendType]tts.Adapter, len(adapters))
	for _, a := range adapters {
		byBackend[a.Backend()] = a
	}
	return func(cfg tts.Configuration) (tts.Adapter, error) {
		a, ok := byBackend[cfg.Backend()]
		if !ok {
			return nil, fmt.Errorf("%w: no adapter for %q", tts.ErrInvalidBackend, cfg.Type)
		}
		return a, nil
	}
}
