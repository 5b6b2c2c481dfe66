// Package bridge wires the full system together and runs its workers.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"pocketbridge/internal/config"
	"pocketbridge/internal/lifecycle"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/monitor"
	"pocketbridge/internal/registry"
	"pocketbridge/internal/relay"
	"pocketbridge/internal/rules"
	"pocketbridge/internal/state"
	"pocketbridge/internal/telegram"
	"pocketbridge/internal/transcribe"
)

// Bridge owns every component and their shared state. Construction can
// fail; once Run starts, worker errors are logged and survived.
type Bridge struct {
	cfg    *config.Config
	store  *state.Store
	reg    *registry.Registry
	rules  *rules.Engine
	tg     *telegram.Client
	rel    *relay.Relay
	mon    *monitor.Monitor
	paused atomic.Bool
}

func New(cfg *config.Config) (*Bridge, error) {
	statePath, err := cfg.StatePath()
	if err != nil {
		return nil, err
	}
	rulesPath, err := cfg.RulesPath()
	if err != nil {
		return nil, err
	}
	store, err := state.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	b := &Bridge{
		cfg:   cfg,
		store: store,
		reg:   registry.New(cfg.Editor, store),
		rules: rules.NewEngine(rulesPath),
	}

	if paused, err := store.Paused(); err == nil && paused {
		b.paused.Store(true)
		logger.Info("delivery gate restored", "paused", true)
	}

	pair, err := lifecycle.NewPairing(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("restore pairing: %w", err)
	}

	var voice transcribe.Transcriber
	if cfg.Transcribe.APIKey != "" {
		voice = transcribe.NewOpenAI(cfg.Transcribe.APIKey, cfg.Transcribe.Model)
	} else {
		logger.Info("no transcription key, voice notes disabled")
	}

	b.tg = telegram.New(cfg.Telegram.APIURL, cfg.Telegram.Token)
	b.rel = relay.New(b.tg, b.reg, b.rules, pair, store, voice, &b.paused,
		func(text string) { b.mon.NoteInjected(text) })
	b.mon = monitor.New(b.reg, store, b.rel, b.paused.Load,
		cfg.Monitor.StableTicks, cfg.Monitor.ContextFillThreshold)

	return b, nil
}

// SetRestart installs the process-restart hook on the relay.
func (b *Bridge) SetRestart(fn func() error) {
	b.rel.SetRestart(fn)
}

// Run connects to the editor, verifies the bot identity, and runs all
// workers until the context ends. The initial editor handshake is the
// one fatal dependency: without a control port there is nothing to
// bridge.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.store.Close()

	me, err := b.tg.GetMe(ctx)
	if err != nil {
		logger.Warn("bot identity check failed", "error", err)
	} else {
		logger.Info("relay bot ready", "username", me.Username)
	}

	if err := b.reg.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial editor handshake: %w", err)
	}
	b.reg.RestoreFocus(ctx)

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logger.Debug("worker stopped", "worker", name)
		}()
	}

	start("rules-watcher", func(ctx context.Context) {
		if err := b.rules.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("rule watcher stopped", "error", err)
		}
	})
	start("reconciler", func(ctx context.Context) {
		b.reg.RunReconciler(ctx, b.cfg.Monitor.ScanInterval)
	})
	start("focus-detector", func(ctx context.Context) {
		b.reg.RunFocusDetector(ctx, b.cfg.Monitor.PollInterval)
	})
	start("monitor", func(ctx context.Context) {
		b.mon.Run(ctx, b.cfg.Monitor.PollInterval)
	})
	start("event-pump", b.pumpEvents)
	start("writer", b.rel.RunWriter)
	start("poller", b.rel.RunPoller)

	wg.Wait()
	logger.Info("bridge stopped")
	return nil
}

// pumpEvents forwards registry changes to the relay.
func (b *Bridge) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.reg.Events():
			if !ok {
				return
			}
			b.rel.NotifyEvent(ctx, ev)
		}
	}
}
