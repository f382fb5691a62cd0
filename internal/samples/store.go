// Package samples loads, decodes and caches sample data by identifier.
//
// Concurrent requests for the same identifier share one fetch and decode.
// Every failure is contained here and reported as a sentinel error; callers
// treat any error as "no sound for this trigger" and carry on.
package samples

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cbegin/stepseq-go/internal/audio"
)

// Priority selects the load deadline.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

const (
	DefaultHighTimeout   = 5 * time.Second
	DefaultNormalTimeout = 10 * time.Second

	preloadConcurrency = 4
)

type Options struct {
	Window        RecencyWindow
	HighTimeout   time.Duration
	NormalTimeout time.Duration
	Logger        *slog.Logger
}

// Stats is a point-in-time view of the cache and its load pipeline. Hits and
// Misses count non-blocking Cached lookups only.
type Stats struct {
	Entries   int
	Limit     int
	Retain    int
	InFlight  int
	Hits      uint64
	Misses    uint64
	Loads     uint64
	Failures  uint64
	Evictions uint64
}

type Store struct {
	fetcher Fetcher
	decoder Decoder
	opts    Options
	log     *slog.Logger
	group   singleflight.Group

	mu        sync.Mutex
	cache     *orderedCache
	failed    map[string]error
	transient map[string]error
	pending   map[string]struct{}

	hits, misses, loads, failures, evictions atomic.Uint64
}

func New(fetcher Fetcher, decoder Decoder, opts Options) *Store {
	if opts.Window == (RecencyWindow{}) {
		opts.Window = DefaultWindow
	}
	if opts.HighTimeout <= 0 {
		opts.HighTimeout = DefaultHighTimeout
	}
	if opts.NormalTimeout <= 0 {
		opts.NormalTimeout = DefaultNormalTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		fetcher: fetcher,
		decoder: decoder,
		opts:    opts,
		log:     log,
		cache:   newOrderedCache(opts.Window),
		failed:    make(map[string]error),
		transient: make(map[string]error),
		pending:   make(map[string]struct{}),
	}
}

// Cached returns the decoded sample without blocking or loading.
func (s *Store) Cached(id string) (*audio.Buffer, bool) {
	s.mu.Lock()
	buf, ok := s.cache.get(id)
	s.mu.Unlock()
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return buf, ok
}

// Load returns the decoded sample for id, fetching it if needed. A load
// already in flight for id is joined rather than repeated. The load itself is
// bounded by the priority's timeout and keeps running if ctx ends first.
func (s *Store) Load(ctx context.Context, id string, prio Priority) (*audio.Buffer, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty sample id", ErrFetch)
	}
	s.mu.Lock()
	if buf, ok := s.cache.get(id); ok {
		s.mu.Unlock()
		return buf, nil
	}
	if err, ok := s.failed[id]; ok {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	ch := s.group.DoChan(id, func() (any, error) {
		return s.load(id, prio)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*audio.Buffer), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, id)
		}
		return nil, ctx.Err()
	}
}

// Prefetch starts loading id in the background unless it is cached, known to
// be undecodable, or already loading.
func (s *Store) Prefetch(id string, prio Priority) {
	if id == "" {
		return
	}
	s.mu.Lock()
	_, cached := s.cache.get(id)
	_, failed := s.failed[id]
	_, pending := s.pending[id]
	s.mu.Unlock()
	if cached || failed || pending {
		return
	}
	go func() {
		_, _ = s.Load(context.Background(), id, prio)
	}()
}

// Preload loads every id, a few at a time, and returns the joined failures.
func (s *Store) Preload(ctx context.Context, ids []string, prio Priority) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.Load(gctx, id, prio); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RetryDue reports whether the last load of id failed in a way a new attempt
// may fix, and no load is running for it now.
func (s *Store) RetryDue(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, failed := s.transient[id]
	_, pending := s.pending[id]
	return failed && !pending
}

// Forget drops both the cached data and any remembered failure for id, so the
// next Load fetches afresh.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.remove(id)
	delete(s.failed, id)
	delete(s.transient, id)
}

// CachedIDs returns the cached identifiers, oldest insertion first.
func (s *Store) CachedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.ids()
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	entries := s.cache.len()
	inflight := len(s.pending)
	s.mu.Unlock()
	return Stats{
		Entries:   entries,
		Limit:     s.opts.Window.Limit,
		Retain:    s.opts.Window.Retain,
		InFlight:  inflight,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Loads:     s.loads.Load(),
		Failures:  s.failures.Load(),
		Evictions: s.evictions.Load(),
	}
}

func (s *Store) timeout(prio Priority) time.Duration {
	if prio == PriorityHigh {
		return s.opts.HighTimeout
	}
	return s.opts.NormalTimeout
}

// load runs once per in-flight identifier.
func (s *Store) load(id string, prio Priority) (*audio.Buffer, error) {
	s.mu.Lock()
	s.pending[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()
	s.loads.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout(prio))
	defer cancel()
	start := time.Now()

	data, err := s.fetcher.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, s.fail(id, ErrTimeout, err, false)
		}
		return nil, s.fail(id, ErrFetch, err, false)
	}
	if len(data) == 0 {
		return nil, s.fail(id, ErrEmpty, nil, false)
	}
	buf, err := s.decoder.Decode(data)
	if err != nil {
		return nil, s.fail(id, ErrDecode, err, true)
	}
	if ctx.Err() != nil {
		return nil, s.fail(id, ErrTimeout, ctx.Err(), false)
	}

	s.mu.Lock()
	evicted := s.cache.put(id, buf)
	delete(s.transient, id)
	s.mu.Unlock()
	if len(evicted) > 0 {
		s.evictions.Add(uint64(len(evicted)))
		s.log.Debug("sample cache trimmed", "evicted", len(evicted), "entries", s.opts.Window.Retain)
	}
	s.log.Debug("sample loaded", "id", id, "priority", prio, "frames", buf.Frames(), "elapsed", time.Since(start))
	return buf, nil
}

func (s *Store) fail(id string, kind error, cause error, permanent bool) error {
	s.failures.Add(1)
	err := fmt.Errorf("%w: %s", kind, id)
	if cause != nil {
		err = fmt.Errorf("%w: %s: %v", kind, id, cause)
	}
	s.mu.Lock()
	if permanent {
		s.failed[id] = err
	} else if IsTransient(err) {
		s.transient[id] = err
	}
	s.mu.Unlock()
	s.log.Warn("sample load failed", "id", id, "err", err)
	return err
}
