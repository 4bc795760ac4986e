package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ProfileWatcher exposes the profile store's change stream. The returned
// channel receives one signal per change notification for the user's profile
// document and is closed when ctx is cancelled.
type ProfileWatcher interface {
	WatchProfile(ctx context.Context, userID string) (<-chan struct{}, error)
}

type subscription struct {
	cancel context.CancelFunc
}

// SubscriptionManager maintains at most one live watch per actively-queried
// user. Every push notification invalidates that user's cache entry and then
// invokes the caller-supplied callback; what to do on a change (re-fetch,
// re-render) is the caller's decision, not this package's.
type SubscriptionManager struct {
	logger  *slog.Logger
	watcher ProfileWatcher
	cache   *Cache

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewSubscriptionManager constructs a SubscriptionManager.
func NewSubscriptionManager(watcher ProfileWatcher, cache *Cache, logger *slog.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		logger:  logger,
		watcher: watcher,
		cache:   cache,
		subs:    make(map[string]*subscription),
	}
}

// Subscribe establishes the live watch for userID, replacing and cleanly
// tearing down any prior watch for the same id. Subscribing twice is
// idempotent from the caller's perspective: the old watch is discarded, never
// leaked. onChange may be nil.
func (m *SubscriptionManager) Subscribe(userID string, onChange func()) error {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.watcher.WatchProfile(ctx, userID)
	if err != nil {
		cancel()
		return fmt.Errorf("authz: subscribe %q: %w", userID, err)
	}
	sub := &subscription{cancel: cancel}

	m.mu.Lock()
	if prev, ok := m.subs[userID]; ok {
		prev.cancel()
	}
	m.subs[userID] = sub
	m.mu.Unlock()

	go func() {
		for range ch {
			m.cache.InvalidateUser(userID)
			if onChange != nil {
				onChange()
			}
		}
		// Stream ended; drop the bookkeeping entry unless a newer
		// subscription already replaced this one.
		m.mu.Lock()
		if m.subs[userID] == sub {
			delete(m.subs, userID)
		}
		m.mu.Unlock()
	}()

	if m.logger != nil {
		m.logger.Debug("profile subscription established", slog.String("user_id", userID))
	}
	return nil
}

// Unsubscribe tears down the live watch for userID. Unknown ids are a no-op.
func (m *SubscriptionManager) Unsubscribe(userID string) {
	m.mu.Lock()
	sub, ok := m.subs[userID]
	if ok {
		delete(m.subs, userID)
	}
	m.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// UnsubscribeAll tears down every active watch. Called at process shutdown.
func (m *SubscriptionManager) UnsubscribeAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}

// ActiveSubscriptions reports the number of live watches, for observability.
func (m *SubscriptionManager) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
