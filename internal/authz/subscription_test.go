package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubWatcher struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
	ctxs  []context.Context
	err   error
}

func newStubWatcher() *stubWatcher {
	return &stubWatcher{chans: make(map[string]chan struct{})}
}

func (w *stubWatcher) WatchProfile(ctx context.Context, userID string) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	ch := make(chan struct{}, 1)
	w.chans[userID] = ch
	w.ctxs = append(w.ctxs, ctx)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (w *stubWatcher) signal(userID string) {
	w.mu.Lock()
	ch := w.chans[userID]
	w.mu.Unlock()
	ch <- struct{}{}
}

func (w *stubWatcher) cancelled(i int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctxs[i].Err() != nil
}

func TestSubscribeInvalidatesCacheOnChange(t *testing.T) {
	cache := NewCache(time.Minute, 16, nil)
	watcher := newStubWatcher()
	mgr := NewSubscriptionManager(watcher, cache, testLogger())
	defer mgr.UnsubscribeAll()

	cache.PutUser("user-1", PermissionSet{ModuleEvents: {ActionView}})

	changed := make(chan struct{}, 4)
	require.NoError(t, mgr.Subscribe("user-1", func() { changed <- struct{}{} }))
	require.Equal(t, 1, mgr.ActiveSubscriptions())

	watcher.signal("user-1")
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	_, ok := cache.GetUser("user-1")
	require.False(t, ok, "a change notification must drop the cached resolution")
}

func TestSubscribeTwiceReplacesPriorWatch(t *testing.T) {
	cache := NewCache(time.Minute, 16, nil)
	watcher := newStubWatcher()
	mgr := NewSubscriptionManager(watcher, cache, testLogger())
	defer mgr.UnsubscribeAll()

	require.NoError(t, mgr.Subscribe("user-1", nil))
	require.NoError(t, mgr.Subscribe("user-1", nil))

	require.Equal(t, 1, mgr.ActiveSubscriptions())
	require.Eventually(t, func() bool { return watcher.cancelled(0) }, 2*time.Second, 10*time.Millisecond,
		"the replaced watch must be torn down, not leaked")
	require.False(t, watcher.cancelled(1))
}

func TestUnsubscribe(t *testing.T) {
	cache := NewCache(time.Minute, 16, nil)
	watcher := newStubWatcher()
	mgr := NewSubscriptionManager(watcher, cache, testLogger())

	require.NoError(t, mgr.Subscribe("user-1", nil))
	mgr.Unsubscribe("user-1")

	require.Equal(t, 0, mgr.ActiveSubscriptions())
	require.Eventually(t, func() bool { return watcher.cancelled(0) }, 2*time.Second, 10*time.Millisecond)

	// Unknown ids are a no-op.
	mgr.Unsubscribe("never-subscribed")
}

func TestUnsubscribeAll(t *testing.T) {
	cache := NewCache(time.Minute, 16, nil)
	watcher := newStubWatcher()
	mgr := NewSubscriptionManager(watcher, cache, testLogger())

	require.NoError(t, mgr.Subscribe("user-1", nil))
	require.NoError(t, mgr.Subscribe("user-2", nil))
	mgr.UnsubscribeAll()

	require.Equal(t, 0, mgr.ActiveSubscriptions())
	require.Eventually(t, func() bool { return watcher.cancelled(0) && watcher.cancelled(1) }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeSurfacesWatcherError(t *testing.T) {
	cache := NewCache(time.Minute, 16, nil)
	watcher := newStubWatcher()
	watcher.err = errors.New("redis down")
	mgr := NewSubscriptionManager(watcher, cache, testLogger())

	require.Error(t, mgr.Subscribe("user-1", nil))
	require.Equal(t, 0, mgr.ActiveSubscriptions())
}
