// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// settleDelay is how long the file watcher waits after the last event on
// the config file before reloading. Editors often write a file in bursts.
const settleDelay = 100 * time.Millisecond

// Reload sources, reported in logs.
const (
	sourceManual = "manual"
	sourceFile   = "file"
	sourceSignal = "sighup"
)

// Holder owns the live configuration of a running server. Readers take a
// snapshot with Get; reloads replace the snapshot whole and then run the
// registered hooks, so a hook never sees a half-applied file.
type Holder struct {
	path   string
	logger zerolog.Logger

	current    atomic.Pointer[Config]
	generation atomic.Uint64

	// reloadMu serializes reloads from the watcher, SIGHUP and callers.
	reloadMu sync.Mutex

	hooksMu  sync.Mutex
	onChange []func(*Config)
	onError  []func(error)

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder serving it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	h := &Holder{
		path:   abs,
		logger: logger.With().Str("config", abs).Logger(),
		done:   make(chan struct{}),
	}
	h.current.Store(cfg)
	return h, nil
}

// Get returns the configuration snapshot in effect. Callers must not
// modify it.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Generation counts successful reloads since the holder was created.
func (h *Holder) Generation() uint64 {
	return h.generation.Load()
}

// Reload re-reads the file. A file that fails to load or validate leaves
// the current snapshot in place, runs the OnError hooks and returns the error.
func (h *Holder) Reload() error {
	return h.reload(sourceManual)
}

func (h *Holder) reload(source string) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("source", source).Msg("config rejected, keeping current settings")
		for _, fn := range h.errorHooks() {
			fn(err)
		}
		return fmt.Errorf("reload config: %w", err)
	}

	prev := h.current.Swap(next)
	gen := h.generation.Add(1)
	h.logChanges(prev, next)
	for _, fn := range h.changeHooks() {
		fn(next)
	}

	h.logger.Info().Str("source", source).Uint64("generation", gen).Msg("config applied")
	return nil
}

// OnChange registers fn to run with each accepted configuration.
func (h *Holder) OnChange(fn func(*Config)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers fn to run with the error of each rejected reload.
func (h *Holder) OnError(fn func(error)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onError = append(h.onError, fn)
}

func (h *Holder) changeHooks() []func(*Config) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	return append(([]func(*Config))(nil), h.onChange...)
}

func (h *Holder) errorHooks() []func(error) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	return append(([]func(error))(nil), h.onError...)
}

// WatchFile reloads whenever the config file is written or replaced.
// The parent directory is watched so rename-over saves are seen too.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = w

	go h.watchLoop(w)
	h.logger.Info().Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				_ = h.reload(sourceSignal)
			case <-h.done:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It may be called more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if h.touchesConfig(ev) {
				settle.Reset(settleDelay)
			}
		case <-settle.C:
			_ = h.reload(sourceFile)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).Msg("config watcher error")
		case <-h.done:
			return
		}
	}
}

// touchesConfig reports whether ev wrote or replaced the watched file.
func (h *Holder) touchesConfig(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != h.path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}

	if old.DefaultPlan != new.DefaultPlan {
		h.logger.Info().
			Str("old", old.DefaultPlan).
			Str("new", new.DefaultPlan).
			Msg("default plan changed")
	}

	oldPlans := make(map[string]PlanConfig, len(old.Plans))
	for _, p := range old.Plans {
		oldPlans[p.Name] = p
	}
	for _, p := range new.Plans {
		prev, ok := oldPlans[p.Name]
		switch {
		case !ok:
			h.logger.Info().Str("plan", p.Name).Msg("plan added")
		case prev != p:
			h.logger.Info().
				Str("plan", p.Name).
				Int64("quota_per_day", p.QuotaPerDay).
				Int64("requests_per_minute", p.RequestsPerMinute).
				Msg("plan limits changed")
		}
		delete(oldPlans, p.Name)
	}
	for name := range oldPlans {
		h.logger.Info().Str("plan", name).Msg("plan removed")
	}

	if old.Alerts.CheckOnAdmit != new.Alerts.CheckOnAdmit {
		h.logger.Info().
			Bool("old", old.Alerts.CheckOnAdmit).
			Bool("new", new.Alerts.CheckOnAdmit).
			Msg("alert check on admit changed")
	}

	for _, field := range NonReloadableFields() {
		if changed(old, new, field) {
			h.logger.Warn().Str("field", field).Msg("field changed but requires restart")
		}
	}
}

func changed(old, new *Config, field string) bool {
	switch field {
	case "server.host":
		return old.Server.Host != new.Server.Host
	case "server.port":
		return old.Server.Port != new.Server.Port
	case "database.driver":
		return old.Database.Driver != new.Database.Driver
	case "database.dsn":
		return old.Database.DSN != new.Database.DSN
	case "counters.backend":
		return old.Counters.Backend != new.Counters.Backend
	case "auth.key_prefix":
		return old.Auth.KeyPrefix != new.Auth.KeyPrefix
	case "auth.hasher":
		return old.Auth.Hasher != new.Auth.Hasher
	}
	return false
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"plans",
		"default_plan",
		"alerts.check_on_admit",
		"logging.level",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"database.driver",
		"database.dsn",
		"counters.backend",
		"auth.key_prefix",
		"auth.hasher",
	}
}
