// Package app provides the unified lifecycle for a Meridian engine process:
// configuration, the maintenance session, the auto-trim daemon and graceful
// shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meridiandb/meridian/internal/config"
	"github.com/meridiandb/meridian/internal/history"
	"github.com/meridiandb/meridian/internal/lifecycle"
	"github.com/meridiandb/meridian/internal/notify"
	"github.com/meridiandb/meridian/internal/session"
	"github.com/meridiandb/meridian/pkg/types"
)

// App manages the engine lifecycle for one configured database file.
type App struct {
	cfg *config.Config

	shutdown *lifecycle.Manager

	// maintenance is the session owned by the trim daemon. Client sessions
	// open their own through the session package.
	maintenance *session.Session

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:      cfg,
		shutdown: lifecycle.NewManager(lifecycle.Options{}),
	}, nil
}

// Start opens the database and starts the background daemons.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	mode, err := a.cfg.SchemaMode()
	if err != nil {
		a.cleanup()
		return err
	}

	sessCfg := session.Config{
		Path:     a.cfg.DatabasePath(),
		InMemory: a.cfg.Database.InMemory,
		ReadOnly: a.cfg.Database.ReadOnly,
		Mode:     mode,
	}
	if sessCfg.InMemory {
		sessCfg.Path = a.cfg.Database.Name
	}

	a.maintenance, err = session.Open(ctx, sessCfg)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("failed to open database: %w", err)
	}
	log.Printf("Database opened: %s (version %d)", sessCfg.Path, a.maintenance.Version())

	a.shutdown.AddCloser(lifecycle.CloserFunc(func() error {
		return a.maintenance.Close()
	}))

	if a.cfg.History.AutoTrim && !a.cfg.Database.ReadOnly {
		a.wg.Add(1)
		go a.trimLoop(ctx)
		log.Printf("Auto-trim enabled: interval=%s, keep_versions=%d",
			a.cfg.History.TrimInterval, a.cfg.History.KeepVersions)
	}

	a.wg.Add(1)
	go a.watchEvents(ctx)

	log.Printf("Meridian started")
	return nil
}

// trimLoop periodically reclaims commit history, keeping the configured
// number of versions below the latest.
func (a *App) trimLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.History.TrimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdown.Done():
			return
		case <-ticker.C:
			if !a.shutdown.Enter() {
				return
			}
			a.runTrim(ctx)
			a.shutdown.Exit()
		}
	}
}

// runTrim advances the maintenance session and trims everything older than
// the retention window.
func (a *App) runTrim(ctx context.Context) {
	if _, err := a.maintenance.Refresh(ctx); err != nil {
		log.Printf("Trim refresh error: %v", err)
		return
	}

	latest := a.maintenance.Version()
	keep := types.Version(a.cfg.History.KeepVersions)
	if latest <= history.BaseVersion+keep {
		return
	}

	floor, err := a.maintenance.TrimTo(ctx, latest-keep)
	if err != nil {
		log.Printf("Trim error: %v", err)
		return
	}
	log.Printf("History trimmed: floor=%d, latest=%d", floor, latest)
}

// watchEvents logs commit activity on the configured file.
func (a *App) watchEvents(ctx context.Context) {
	defer a.wg.Done()

	sub := notify.Default.Subscribe("app-watcher", nil)
	defer notify.Default.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdown.Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			switch ev.Type {
			case notify.SchemaChanged:
				log.Printf("Schema changed: path=%s, schema_version=%d", ev.Path, ev.SchemaVersion)
			case notify.HistoryTrimmed:
				log.Printf("History trimmed: path=%s, floor=%d", ev.Path, ev.Version)
			}
		}
	}
}

// Session returns the maintenance session. Intended for tooling that embeds
// the app; concurrent use with the trim daemon is not safe.
func (a *App) Session() *session.Session {
	return a.maintenance
}

// Stop gracefully stops the daemons and closes the database.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	// Daemons must be out of the maintenance session before it closes.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	err := a.shutdown.Stop(ctx, "stop requested")
	a.cleanup()

	log.Printf("Meridian stopped")
	return err
}

// cleanup releases resources on failed startup.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.WaitForSignal(ctx)
}
