package avatar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	calls atomic.Int32
	gate  chan struct{}
	url   string
	err   error
}

func (f *fakeLookup) Lookup(ctx context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.url, f.err
}

type fakeDownloader struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (f *fakeDownloader) Download(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return f.data, f.err
}

type failingStorage struct{}

func (failingStorage) Save(string, []byte) (string, error) {
	return "", errors.New("disk full")
}

type countingLoader struct {
	calls atomic.Int32
	err   error
}

func (l *countingLoader) Load(ctx context.Context, a *Avatar) error {
	l.calls.Add(1)
	if l.err != nil {
		return l.err
	}
	return FileLoader{}.Load(ctx, a)
}

type notification struct {
	hash   string
	avatar *Avatar
}

func collect(ch chan<- notification) Waiter {
	return func(hash string, a *Avatar) { ch <- notification{hash, a} }
}

func receive(t *testing.T, ch <-chan notification) notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for avatar notification")
	}
	return notification{}
}

func newTestCache(t *testing.T, lookup Lookup, dl Downloader, loader Loader) (*Cache, *Store) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	c := NewCache(Options{
		Lookup:     lookup,
		Downloader: dl,
		Storage:    store,
		Loader:     loader,
		Logger:     logr.Discard(),
	})
	t.Cleanup(c.Close)
	return c, store
}

func TestCache_ConcurrentResolveDownloadsOnce(t *testing.T) {
	const n = 20
	lookup := &fakeLookup{gate: make(chan struct{}), url: "https://cdn.example/files/dragon.avatar"}
	dl := &fakeDownloader{data: []byte("dragon")}
	loader := &countingLoader{}
	c, store := newTestCache(t, lookup, dl, loader)

	sharedBefore := testutil.ToFloat64(CacheShareCounterTotal)

	ch := make(chan notification, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, ok := c.Resolve("abc", collect(ch))
			assert.False(t, ok)
			assert.Nil(t, a)
		}()
	}
	wg.Wait()

	phase, ok := c.Phase("abc")
	require.True(t, ok)
	assert.Equal(t, PhaseLookingUp, phase)
	assert.True(t, c.Downloading("abc"))

	close(lookup.gate)

	var first *Avatar
	for i := range n {
		got := receive(t, ch)
		assert.Equal(t, "abc", got.hash)
		require.NotNil(t, got.avatar)
		if i == 0 {
			first = got.avatar
		}
		assert.Same(t, first, got.avatar)
	}

	assert.Equal(t, int32(1), lookup.calls.Load())
	assert.Equal(t, int32(1), dl.calls.Load())
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, float64(n-1), testutil.ToFloat64(CacheShareCounterTotal)-sharedBefore)

	assert.Equal(t, filepath.Join(store.Dir(), "dragon.avatar"), first.Path)
	assert.Equal(t, "dragon", first.Name)
	assert.Equal(t, []byte("dragon"), first.Bytes())
	assert.False(t, c.Downloading("abc"))
	phase, _ = c.Phase("abc")
	assert.Equal(t, PhaseDone, phase)

	// later requests read the entry directly
	a, ok := c.Resolve("abc", func(string, *Avatar) { t.Error("waiter must not be called for a loaded entry") })
	assert.True(t, ok)
	assert.Same(t, first, a)
}

func TestCache_UnknownHashFailsPermanently(t *testing.T) {
	lookup := &fakeLookup{err: ErrNotFound}
	dl := &fakeDownloader{}
	c, _ := newTestCache(t, lookup, dl, &countingLoader{})

	ch := make(chan notification, 1)
	a, ok := c.Resolve("abc", collect(ch))
	require.False(t, ok)
	require.Nil(t, a)

	got := receive(t, ch)
	assert.Equal(t, "abc", got.hash)
	assert.Nil(t, got.avatar)

	a, ok = c.Resolve("abc", collect(ch))
	assert.True(t, ok)
	assert.Nil(t, a)
	assert.Equal(t, int32(1), lookup.calls.Load())
	assert.Zero(t, dl.calls.Load())
}

func TestCache_StalledDownloadFails(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	lookup := &fakeLookup{url: srv.URL + "/stuck.avatar"}
	loader := &countingLoader{}
	c, _ := newTestCache(t, lookup, &Fetcher{Client: srv.Client(), StallTimeout: 50 * time.Millisecond}, loader)

	ch := make(chan notification, 2)
	c.Resolve("abc", collect(ch))
	c.Resolve("abc", collect(ch))

	assert.Nil(t, receive(t, ch).avatar)
	assert.Nil(t, receive(t, ch).avatar)
	assert.Zero(t, loader.calls.Load())

	a, ok := c.Resolve("abc", nil)
	assert.True(t, ok)
	assert.Nil(t, a)
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestCache_StorageErrorFails(t *testing.T) {
	c := NewCache(Options{
		Lookup:     &fakeLookup{url: "https://cdn.example/a.avatar"},
		Downloader: &fakeDownloader{data: []byte("x")},
		Storage:    failingStorage{},
	})
	defer c.Close()

	a, err := Await(t.Context(), c, "abc")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestCache_LocalAvatarLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knight.avatar")
	require.NoError(t, os.WriteFile(path, []byte("knight"), 0o644))

	lookup := &fakeLookup{}
	loader := &countingLoader{}
	c, _ := newTestCache(t, lookup, &fakeDownloader{}, loader)
	require.True(t, c.Add(NewAvatar("local", path)))
	assert.False(t, c.Add(NewAvatar("local", path)))

	ch := make(chan notification, 5)
	for range 5 {
		_, ok := c.Resolve("local", collect(ch))
		require.False(t, ok)
	}
	for range 5 {
		got := receive(t, ch)
		require.NotNil(t, got.avatar)
		assert.Equal(t, []byte("knight"), got.avatar.Bytes())
	}

	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Zero(t, lookup.calls.Load())
	assert.False(t, c.Downloading("local"))
}

func TestCache_LoadErrorFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.avatar")
	require.NoError(t, os.WriteFile(path, []byte("broken"), 0o644))

	loader := &countingLoader{err: errors.New("bad bundle")}
	c, _ := newTestCache(t, &fakeLookup{}, &fakeDownloader{}, loader)
	c.Add(NewAvatar("broken", path))

	a, err := Await(t.Context(), c, "broken")
	require.NoError(t, err)
	assert.Nil(t, a)

	a, ok := c.Resolve("broken", nil)
	assert.True(t, ok)
	assert.Nil(t, a)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCache_CloseAbortsInFlightWork(t *testing.T) {
	lookup := &fakeLookup{gate: make(chan struct{})}
	c := NewCache(Options{
		Lookup:     lookup,
		Downloader: &fakeDownloader{},
		Storage:    failingStorage{},
	})

	ch := make(chan notification, 1)
	c.Resolve("abc", collect(ch))
	c.Close()

	assert.Nil(t, receive(t, ch).avatar)

	a, ok := c.Resolve("other", collect(ch))
	assert.True(t, ok)
	assert.Nil(t, a)
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestCache_WithoutDownloadSourceFails(t *testing.T) {
	c := NewCache(Options{})
	defer c.Close()

	a, err := Await(t.Context(), c, "abc")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAwait_ContextDone(t *testing.T) {
	lookup := &fakeLookup{gate: make(chan struct{})}
	c, _ := newTestCache(t, lookup, &fakeDownloader{}, &countingLoader{})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := Await(ctx, c, "abc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownloadResult(t *testing.T) {
	assert.Equal(t, resultNotFound, downloadResult(errors.Join(errors.New("lookup"), ErrNotFound)))
	assert.Equal(t, resultStalled, downloadResult(ErrStalled))
	assert.Equal(t, resultError, downloadResult(errors.New("boom")))
}

func TestCache_GateLoadsAvatarAddedWhileHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.avatar")
	require.NoError(t, os.WriteFile(path, []byte("custom"), 0o644))

	lookup := &fakeLookup{err: ErrNotFound}
	dl := &fakeDownloader{}
	loader := &countingLoader{}
	c, _ := newTestCache(t, lookup, dl, loader)

	release := c.Gate()
	ch := make(chan notification, 2)
	a, ok := c.Resolve("custom", collect(ch))
	require.False(t, ok)
	require.Nil(t, a)
	c.Resolve("custom", collect(ch))

	phase, _ := c.Phase("custom")
	assert.Equal(t, PhaseQueued, phase)
	assert.False(t, c.Downloading("custom"))

	// registered by the startup scan after the first request came in
	require.True(t, c.Add(NewAvatar("custom", path)))
	release()
	release()

	for range 2 {
		got := receive(t, ch)
		require.NotNil(t, got.avatar)
		assert.Equal(t, []byte("custom"), got.avatar.Bytes())
	}
	assert.Zero(t, lookup.calls.Load())
	assert.Zero(t, dl.calls.Load())
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCache_GateDownloadsUnknownHashOnRelease(t *testing.T) {
	lookup := &fakeLookup{url: "https://cdn.example/files/remote.avatar"}
	dl := &fakeDownloader{data: []byte("remote")}
	c, _ := newTestCache(t, lookup, dl, &countingLoader{})

	release := c.Gate()
	ch := make(chan notification, 1)
	c.Resolve("remote", collect(ch))

	select {
	case <-ch:
		require.FailNow(t, "resolved while the gate was held")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Zero(t, lookup.calls.Load())

	release()
	got := receive(t, ch)
	require.NotNil(t, got.avatar)
	assert.Equal(t, []byte("remote"), got.avatar.Bytes())
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestCache_CloseFailsQueuedHashes(t *testing.T) {
	lookup := &fakeLookup{}
	c := NewCache(Options{Lookup: lookup, Downloader: &fakeDownloader{}, Storage: failingStorage{}})
	release := c.Gate()

	ch := make(chan notification, 1)
	c.Resolve("abc", collect(ch))
	c.Close()
	release()

	assert.Nil(t, receive(t, ch).avatar)
	assert.Zero(t, lookup.calls.Load())
}
