package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/vpet-tts/internal/cache"
	"github.com/dgnsrekt/vpet-tts/internal/dispatch"
	"github.com/dgnsrekt/vpet-tts/internal/eventlog"
	"github.com/dgnsrekt/vpet-tts/internal/tts"
	"github.com/dgnsrekt/vpet-tts/internal/tts/engines"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const retentionInterval = time.Hour

// service owns the dispatcher and everything it was built from.
type service struct {
	dispatcher *dispatch.Dispatcher
	events     *eventlog.Logger
	logger     *log.Logger

	mu    sync.Mutex
	cache *cache.Manager
}

func newService(ctx context.Context, cfg tts.Configuration, host tts.Host, logger *log.Logger) (*service, error) {
	var sink eventlog.Sink
	if cfg.Log.Dir != "" {
		fs, err := eventlog.NewFileSink(cfg.Log.Dir)
		if err != nil {
			return nil, fmt.Errorf("unable to open event log: %w", err)
		}
		sink = fs
	}

	events := eventlog.New(eventlog.Options{
		MaxEntries:    cfg.Log.MaxEntries,
		RetentionDays: cfg.Log.RetentionDays,
		Sink:          sink,
		Logger:        logger,
	})
	events.StartRetention(ctx, retentionInterval)

	svc := &service{events: events, logger: logger}
	deps := dispatch.Deps{
		Logger: logger,
		Events: events,
		Adapters: dispatch.NewAdapterFactory(dispatch.FactoryOptions{
			Host:   host,
			Runner: engines.ExecCommandRunner{},
			Logger: logger,
		}),
	}

	if cfg.EnableCaching {
		m, err := cache.NewManager(ctx, cache.ConfigFromTTS(cfg), logger)
		if err != nil {
			_ = events.Close()
			return nil, fmt.Errorf("unable to create audio cache: %w", err)
		}
		svc.cache = m
		deps.Cache = m
	}

	d, err := dispatch.New(cfg, deps)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.dispatcher = d
	return svc, nil
}

// watchConfig re-reads the config file on change and hands the result to
// the dispatcher. Invalid files are logged and ignored.
func (s *service) watchConfig(ctx context.Context, v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := tts.LoadConfigurationFromViper(v)
		if err != nil {
			log.Warn("Ignoring invalid configuration", "path", e.Name, "error", err)
			return
		}
		if s.reload(ctx, cfg) {
			log.Info("Reloaded configuration", "path", e.Name)
		}
	})
	v.WatchConfig()
}

// reload applies cfg, building the audio cache the first time a
// configuration enables it. Cache settings of an existing cache keep their
// startup values.
func (s *service) reload(ctx context.Context, cfg tts.Configuration) bool {
	if !s.dispatcher.UpdateConfiguration(cfg) {
		return false
	}
	if !cfg.EnableCaching {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return true
	}
	m, err := cache.NewManager(ctx, cache.ConfigFromTTS(cfg), s.logger)
	if err != nil {
		s.logger.Warn("Caching stays disabled", "error", err)
		return true
	}
	s.cache = m
	s.dispatcher.SetCache(m)
	return true
}

func (s *service) Close() error {
	var errs []error
	if s.dispatcher != nil {
		errs = append(errs, s.dispatcher.Close())
	}
	s.mu.Lock()
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	s.mu.Unlock()
	errs = append(errs, s.events.Close())
	return errors.Join(errs...)
}
