// Package watch runs the two cooperative background tickers that drive the
// sync engine without foreground interaction: the fact-push ticker and the
// conversation watcher.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/relaymem/syncengine/internal/sync"
	"github.com/relaymem/syncengine/pkg/logging"
)

// Loop owns both background tickers and runs them cooperatively in a single
// goroutine each, sharing the local store serially as the spec requires.
type Loop struct {
	engine     *sync.Engine
	discoverer sync.Discoverer
	parsers    sync.ParserRegistry
	status     *StatusHub

	factInterval time.Duration
	convInterval time.Duration

	log *logging.Logger

	observed map[string]observedSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pushMu sync.Mutex // single-flight guard for the fact-sync ticker
}

type observedSource struct {
	size    int64
	modTime int64
}

// Config configures a Loop.
type Config struct {
	Engine                    *sync.Engine
	Discoverer                sync.Discoverer
	Parsers                   sync.ParserRegistry
	FactSyncInterval          time.Duration
	ConversationWatchInterval time.Duration

	// Status is an optional dashboard hub; nil disables broadcasting
	// entirely with no effect on sync behavior.
	Status *StatusHub
}

// New constructs a Loop; intervals default to 60s and 30s respectively if
// left zero, matching spec §4.9.
func New(cfg *Config) *Loop {
	factInterval := cfg.FactSyncInterval
	if factInterval == 0 {
		factInterval = 60 * time.Second
	}
	convInterval := cfg.ConversationWatchInterval
	if convInterval == 0 {
		convInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		engine:       cfg.Engine,
		discoverer:   cfg.Discoverer,
		parsers:      cfg.Parsers,
		status:       cfg.Status,
		factInterval: factInterval,
		convInterval: convInterval,
		log:          logging.Default().Component("watch"),
		observed:     make(map[string]observedSource),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches both tickers in their own goroutines.
func (l *Loop) Start() {
	l.wg.Add(2)
	go l.runFactSync()
	go l.runConversationWatch()
	l.log.Info("background loop started", "fact_interval", l.factInterval, "conversation_interval", l.convInterval)
}

// Stop cancels both tickers and waits for their current tick to finish.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
	l.log.Info("background loop stopped")
}

func (l *Loop) runFactSync() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.factInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.tickFactSync()
		}
	}
}

// tickFactSync is single-flight: a tick that is still running when the next
// one fires is simply skipped, never overlapped.
func (l *Loop) tickFactSync() {
	if !l.pushMu.TryLock() {
		l.log.Warn("fact sync tick skipped: previous tick still running")
		return
	}
	defer l.pushMu.Unlock()

	err := l.engine.PushFacts(l.ctx)
	if err != nil {
		l.log.Warn("fact sync tick failed", "error", err)
	}
	if l.status != nil {
		l.status.Broadcast(EventFactSyncTick, map[string]interface{}{"error": errString(err)})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (l *Loop) runConversationWatch() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.convInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.tickConversationWatch()
		}
	}
}

func (l *Loop) tickConversationWatch() {
	if l.discoverer == nil || l.parsers == nil {
		return
	}

	sources, err := l.discoverer.Discover()
	if err != nil {
		l.log.Warn("conversation discovery failed", "error", err)
		return
	}

	for _, src := range sources {
		prev, seen := l.observed[src.Path]
		if seen && prev.size == src.Size && prev.modTime == src.ModTime {
			continue
		}

		parser, ok := l.parsers.ParserFor(src.Client)
		if !ok {
			l.log.Warn("no parser registered for client", "client", src.Client, "path", src.Path)
			continue
		}

		conv, err := parser.Parse(src.Path)
		if err != nil {
			l.log.Warn("failed to parse transcript", "path", src.Path, "error", err)
			continue
		}

		if err := l.engine.PushConversationDelta(l.ctx, conv); err != nil {
			l.log.Warn("failed to push conversation delta", "path", src.Path, "error", err)
			continue
		}

		l.observed[src.Path] = observedSource{size: src.Size, modTime: src.ModTime}
		if l.status != nil {
			l.status.Broadcast(EventConversationSync, map[string]interface{}{"path": src.Path, "client": src.Client})
		}
	}
}
