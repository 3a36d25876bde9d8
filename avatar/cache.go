package avatar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Waiter is called once when a hash reaches its terminal state. a is nil if
// the avatar could not be resolved.
type Waiter func(hash string, a *Avatar)

// Lookup finds the download URL of an avatar by its hash. It returns an
// error wrapping ErrNotFound if the hash is unknown.
type Lookup interface {
	Lookup(ctx context.Context, hash string) (string, error)
}

// Downloader fetches the contents behind a URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Storage persists downloaded avatars and returns the local path.
type Storage interface {
	Save(url string, data []byte) (string, error)
}

// Loader loads an avatar from its local file.
type Loader interface {
	Load(ctx context.Context, a *Avatar) error
}

// Options configures a Cache.
type Options struct {
	Lookup     Lookup
	Downloader Downloader
	Storage    Storage
	// Loader defaults to FileLoader.
	Loader Loader
	Logger logr.Logger
}

type state int

const (
	stateKnown state = iota
	stateLoading
	stateLoaded
)

type entry struct {
	state   state
	phase   Phase
	avatar  *Avatar
	waiters []Waiter
}

// Cache maps content hashes to avatars. At most one load and one download
// run per hash; every other requester subscribes to the running one.
type Cache struct {
	opts   Options
	logger logr.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	entries map[string]*entry
	// pending holds the hashes with a download in flight.
	pending map[string]struct{}
	// gates counts unreleased Gate calls. While positive, unknown hashes are
	// queued instead of looked up.
	gates  int
	queued map[string]struct{}
}

// NewCache creates an empty cache.
func NewCache(opts Options) *Cache {
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if opts.Loader == nil {
		opts.Loader = FileLoader{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		opts:    opts,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		pending: make(map[string]struct{}),
		queued:  make(map[string]struct{}),
	}
}

// Add registers a local, not yet loaded avatar. It reports false if the hash
// is already known.
func (c *Cache) Add(a *Avatar) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[a.Hash]; ok {
		if _, queued := c.queued[a.Hash]; queued && e.avatar == nil {
			e.avatar = a
			c.logger.V(1).Info("found queued avatar locally", "hash", a.Hash, "path", a.Path)
			return true
		}
		c.logger.V(1).Info("ignoring duplicate avatar", "hash", a.Hash, "path", a.Path)
		return false
	}
	c.entries[a.Hash] = &entry{state: stateKnown, phase: PhaseKnown, avatar: a}
	return true
}

// Resolve returns the avatar for hash if the hash has reached its terminal
// state; the avatar is nil if resolving it failed. Otherwise w is registered
// to be called once on completion, the load or download is started if
// nobody started it yet, and Resolve reports false.
func (c *Cache) Resolve(hash string, w Waiter) (*Avatar, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.V(1).Info("resolve on closed cache", "hash", hash)
		return nil, true
	}

	e, ok := c.entries[hash]
	if ok && e.state == stateLoaded {
		c.mu.Unlock()
		CacheHitCounterTotal.Inc()
		return e.avatar, true
	}

	var start func()
	switch {
	case !ok && c.gates > 0:
		e = &entry{state: stateLoading, phase: PhaseQueued}
		c.entries[hash] = e
		c.queued[hash] = struct{}{}
		CacheMissCounterTotal.Inc()
		InProgressGauge.Inc()
		c.logger.V(1).Info("queued avatar until local avatars are registered", "hash", hash)
	case !ok:
		e = &entry{state: stateLoading, phase: PhaseLookingUp}
		c.entries[hash] = e
		c.pending[hash] = struct{}{}
		start = func() { c.fetch(hash) }
	case e.state == stateKnown:
		e.state = stateLoading
		e.phase = PhaseLoading
		a := e.avatar
		start = func() { c.load(hash, a) }
	default:
		CacheShareCounterTotal.Inc()
		c.logger.V(1).Info("avatar already in progress", "hash", hash, "phase", e.phase)
	}

	if w != nil {
		e.waiters = append(e.waiters, w)
	}

	if start != nil {
		CacheMissCounterTotal.Inc()
		InProgressGauge.Inc()
		c.run(start)
	}
	c.mu.Unlock()

	return nil, false
}

// Phase returns the current phase of hash.
func (c *Cache) Phase(hash string) (Phase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return 0, false
	}
	return e.phase, true
}

// Downloading reports whether a download for hash is in flight.
func (c *Cache) Downloading(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[hash]
	return ok
}

// Close stops accepting requests, aborts running work and waits for it to
// finish. Waiters of aborted work receive nil.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	queued := c.queued
	c.queued = make(map[string]struct{})
	c.mu.Unlock()

	for hash := range queued {
		c.finish(hash, nil)
	}
	c.cancel()
	c.wg.Wait()
}

// Gate holds back lookups of unknown hashes until release is called. An
// avatar added while the gate is held is loaded from its file instead of
// being downloaded. Used while local avatars are being registered.
func (c *Cache) Gate() (release func()) {
	c.mu.Lock()
	c.gates++
	c.mu.Unlock()

	var once sync.Once
	return func() { once.Do(c.release) }
}

func (c *Cache) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gates--
	if c.gates > 0 || c.closed {
		return
	}
	for hash := range c.queued {
		e := c.entries[hash]
		if a := e.avatar; a != nil {
			e.phase = PhaseLoading
			c.run(func() { c.load(hash, a) })
			continue
		}
		e.phase = PhaseLookingUp
		c.pending[hash] = struct{}{}
		c.run(func() { c.fetch(hash) })
	}
	clear(c.queued)
}

// run starts work on its own goroutine. Must be called with mu held.
func (c *Cache) run(work func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		work()
	}()
}

// fetch runs the lookup, download and load of a hash that has no local file.
func (c *Cache) fetch(hash string) {
	logger := c.logger.WithValues("hash", hash)
	start := time.Now()

	a, err := c.download(c.ctx, hash)
	err = c.closedErr(err)
	DownloadDurationHistogram.Observe(time.Since(start).Seconds())
	if err != nil {
		DownloadCounterTotal.WithLabelValues(downloadResult(err)).Inc()
		logger.Error(err, "unable to download avatar")
		c.finish(hash, nil)
		return
	}
	DownloadCounterTotal.WithLabelValues(resultOK).Inc()
	logger.V(1).Info("downloaded avatar", "path", a.Path, "duration", time.Since(start).Seconds())

	c.load(hash, a)
}

func (c *Cache) download(ctx context.Context, hash string) (*Avatar, error) {
	if c.opts.Lookup == nil || c.opts.Downloader == nil || c.opts.Storage == nil {
		return nil, fmt.Errorf("no download source configured for %s: %w", hash, ErrNotFound)
	}

	url, err := c.opts.Lookup.Lookup(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up avatar %s: %w", hash, err)
	}
	c.setPhase(hash, PhaseDownloading)

	data, err := c.opts.Downloader.Download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to download avatar %s: %w", hash, err)
	}

	path, err := c.opts.Storage.Save(url, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store avatar %s: %w", hash, err)
	}

	a := NewAvatar(hash, path)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, hash)
	if e, ok := c.entries[hash]; ok {
		e.avatar = a
		e.phase = PhaseLoading
	}
	return a, nil
}

func (c *Cache) load(hash string, a *Avatar) {
	if err := c.closedErr(c.opts.Loader.Load(c.ctx, a)); err != nil {
		c.logger.Error(err, "unable to load avatar", "hash", hash, "path", a.Path)
		c.finish(hash, nil)
		return
	}
	c.logger.V(1).Info("loaded avatar", "hash", hash, "name", a.Name)
	c.finish(hash, a)
}

// finish moves hash to its terminal state and notifies its waiters.
func (c *Cache) finish(hash string, a *Avatar) {
	c.mu.Lock()
	e, ok := c.entries[hash]
	if !ok || e.state == stateLoaded {
		c.mu.Unlock()
		c.logger.Error(errors.New("no loading entry"), "dropping avatar completion", "hash", hash)
		return
	}
	e.state = stateLoaded
	e.phase = PhaseDone
	e.avatar = a
	waiters := e.waiters
	e.waiters = nil
	delete(c.pending, hash)
	c.mu.Unlock()

	InProgressGauge.Dec()
	for _, w := range waiters {
		w(hash, a)
	}
}

func (c *Cache) setPhase(hash string, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		e.phase = p
	}
}

// closedErr marks errors caused by Close.
func (c *Cache) closedErr(err error) error {
	if err != nil && c.ctx.Err() != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

func downloadResult(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return resultNotFound
	case errors.Is(err, ErrStalled):
		return resultStalled
	}
	return resultError
}

// Await resolves hash and blocks until it completes or ctx is done.
func Await(ctx context.Context, c *Cache, hash string) (*Avatar, error) {
	done := make(chan *Avatar, 1)
	if a, ok := c.Resolve(hash, func(_ string, a *Avatar) { done <- a }); ok {
		return a, nil
	}

	select {
	case a := <-done:
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
