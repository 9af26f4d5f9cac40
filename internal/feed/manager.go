package feed

import (
	"context"
	"fmt"
	"sync"

	"feedsync/config"
	"feedsync/pkg/binance"
	"feedsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

// SinkFactory produces the sink for a new subscription key.
type SinkFactory func(key Key) Sink

// Manager owns the set of active subscriptions. It is an explicit instance
// constructed by the caller rather than a package-level singleton, so tests
// can run managers side by side without shared state.
type Manager struct {
	cfg     *config.Config
	log     *zap.Logger
	rest    *binance.RESTClient
	persist *postgres.Client // nil disables persistence
	sinks   SinkFactory

	mu   sync.Mutex
	subs map[Key]*Subscription
}

func NewManager(cfg *config.Config, rest *binance.RESTClient, sinks SinkFactory,
	persist *postgres.Client, log *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log,
		rest:    rest,
		persist: persist,
		sinks:   sinks,
		subs:    make(map[Key]*Subscription),
	}
}

// Subscribe starts reconciliation for a symbol+interval. Subscribing an
// already-active key is an error; resubscription is Unsubscribe followed by
// Subscribe, which guarantees the old generation's timers and fetches are
// cancelled before new state exists.
func (m *Manager) Subscribe(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[key]; ok {
		return fmt.Errorf("already subscribed to %s", key)
	}

	sub, err := newSubscription(key, m.cfg.Binance.WS.URL, m.cfg.Engine,
		m.rest, m.persist, m.sinks(key), m.log)
	if err != nil {
		return err
	}

	sub.start(ctx)
	m.subs[key] = sub
	m.log.Info("subscribed", zap.String("key", key.String()))
	return nil
}

// Unsubscribe tears down a subscription deterministically: the transport is
// closed, every timer cancelled, and the run goroutine joined before return.
func (m *Manager) Unsubscribe(key Key) {
	m.mu.Lock()
	sub, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
	}
	m.mu.Unlock()

	if ok {
		sub.stop()
		m.log.Info("unsubscribed", zap.String("key", key.String()))
	}
}

// Retry forces an immediate reconnect attempt for a key, e.g. from a user
// action while the subscription sits in polling fallback.
func (m *Manager) Retry(key Key) {
	m.mu.Lock()
	sub, ok := m.subs[key]
	m.mu.Unlock()
	if ok {
		sub.Retry()
	}
}

// Keys lists the active subscription keys.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Key, 0, len(m.subs))
	for k := range m.subs {
		out = append(out, k)
	}
	return out
}

// Close unsubscribes everything.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[Key]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}
