package samples

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbegin/stepseq-go/internal/audio"
)

// countingFetcher serves fixed payloads and counts fetches per id. When gate
// is set, every fetch waits for it to close.
type countingFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	total  atomic.Int32
	gate   chan struct{}
	errFor map[string]error
	empty  map[string]bool
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{calls: map[string]int{}, errFor: map[string]error{}, empty: map[string]bool{}}
}

func (f *countingFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	f.calls[id]++
	gate := f.gate
	err := f.errFor[id]
	empty := f.empty[id]
	f.mu.Unlock()
	f.total.Add(1)
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}
	return []byte("raw:" + id), nil
}

func (f *countingFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// fakeDecoder produces a 4-frame buffer, or fails for payloads listed in bad.
type fakeDecoder struct {
	bad map[string]bool
}

func (d fakeDecoder) Decode(data []byte) (*audio.Buffer, error) {
	if d.bad[string(data)] {
		return nil, errors.New("corrupt")
	}
	return &audio.Buffer{Data: make([]float32, 8), SampleRate: 48000}, nil
}

func TestLoadCachesResult(t *testing.T) {
	f := newCountingFetcher()
	s := New(f, fakeDecoder{}, Options{})
	a, err := s.Load(context.Background(), "kick.wav", PriorityNormal)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b, err := s.Load(context.Background(), "kick.wav", PriorityNormal)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if a != b {
		t.Fatalf("cached load returned a different buffer")
	}
	if f.count("kick.wav") != 1 {
		t.Fatalf("fetch count = %d, want 1", f.count("kick.wav"))
	}
	if buf, ok := s.Cached("kick.wav"); !ok || buf != a {
		t.Fatalf("Cached should return the loaded buffer")
	}
	st := s.Stats()
	if st.Entries != 1 || st.Loads != 1 || st.Hits != 1 || st.Misses != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	f := newCountingFetcher()
	f.gate = make(chan struct{})
	s := New(f, fakeDecoder{}, Options{})

	const callers = 8
	results := make([]*audio.Buffer, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Load(context.Background(), "snare.wav", PriorityHigh)
		}()
	}
	// Give every caller time to join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	if got := s.Stats().InFlight; got != 1 {
		t.Fatalf("in flight = %d, want 1", got)
	}
	close(f.gate)
	wg.Wait()

	if got := f.count("snare.wav"); got != 1 {
		t.Fatalf("fetch count = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different buffer", i)
		}
	}
}

func TestConcurrentLoadsShareFailure(t *testing.T) {
	f := newCountingFetcher()
	f.gate = make(chan struct{})
	f.errFor["gone.wav"] = errors.New("connection reset")
	s := New(f, fakeDecoder{}, Options{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Load(context.Background(), "gone.wav", PriorityNormal)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	if f.count("gone.wav") != 1 {
		t.Fatalf("fetch count = %d, want 1", f.count("gone.wav"))
	}
	for i, err := range errs {
		if !errors.Is(err, ErrFetch) {
			t.Fatalf("caller %d: err = %v, want ErrFetch", i, err)
		}
	}
	if errs[0].Error() != errs[1].Error() {
		t.Fatalf("callers saw different failures: %v vs %v", errs[0], errs[1])
	}
}

func TestEvictionKeepsMostRecentAndRefetches(t *testing.T) {
	f := newCountingFetcher()
	s := New(f, fakeDecoder{}, Options{Window: RecencyWindow{Limit: 5, Retain: 3}})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := s.Load(ctx, fmt.Sprintf("s%d", i), PriorityNormal); err != nil {
			t.Fatalf("load s%d: %v", i, err)
		}
	}
	ids := s.CachedIDs()
	want := []string{"s3", "s4", "s5"}
	if len(ids) != len(want) {
		t.Fatalf("cached ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("cached ids = %v, want %v", ids, want)
		}
	}
	if s.Stats().Evictions != 3 {
		t.Fatalf("evictions = %d, want 3", s.Stats().Evictions)
	}

	if _, ok := s.Cached("s0"); ok {
		t.Fatalf("s0 should have been evicted")
	}
	if _, err := s.Load(ctx, "s0", PriorityNormal); err != nil {
		t.Fatalf("reload of evicted id failed: %v", err)
	}
	if f.count("s0") != 2 {
		t.Fatalf("evicted id should be refetched, count = %d", f.count("s0"))
	}
}

func TestTransientFailureRetriesOnNextLoad(t *testing.T) {
	f := newCountingFetcher()
	f.errFor["flaky.wav"] = errors.New("503")
	s := New(f, fakeDecoder{}, Options{})
	_, err := s.Load(context.Background(), "flaky.wav", PriorityNormal)
	if !errors.Is(err, ErrFetch) || !IsTransient(err) {
		t.Fatalf("err = %v, want transient ErrFetch", err)
	}
	if !s.RetryDue("flaky.wav") {
		t.Fatalf("transient failure should be due for retry")
	}
	f.mu.Lock()
	delete(f.errFor, "flaky.wav")
	f.mu.Unlock()
	if _, err := s.Load(context.Background(), "flaky.wav", PriorityNormal); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if f.count("flaky.wav") != 2 {
		t.Fatalf("fetch count = %d, want 2", f.count("flaky.wav"))
	}
	if s.RetryDue("flaky.wav") {
		t.Fatalf("successful load should clear the retry mark")
	}
}

func TestRetryDueOnlyForTransientFailures(t *testing.T) {
	f := newCountingFetcher()
	f.empty["blank.wav"] = true
	s := New(f, fakeDecoder{bad: map[string]bool{"raw:bad.wav": true}}, Options{})
	ctx := context.Background()
	_, _ = s.Load(ctx, "blank.wav", PriorityNormal)
	_, _ = s.Load(ctx, "bad.wav", PriorityNormal)
	for _, id := range []string{"blank.wav", "bad.wav", "never.wav"} {
		if s.RetryDue(id) {
			t.Fatalf("%s should not be due for retry", id)
		}
	}
}

func TestMissCountedOncePerLookup(t *testing.T) {
	s := New(newCountingFetcher(), fakeDecoder{}, Options{})
	if _, ok := s.Cached("kick.wav"); ok {
		t.Fatalf("nothing loaded yet")
	}
	s.Prefetch("kick.wav", PriorityHigh)
	waitCached(t, s, "kick.wav")
	st := s.Stats()
	if st.Misses != 1 {
		t.Fatalf("misses = %d, want 1", st.Misses)
	}
}

func TestEmptyPayload(t *testing.T) {
	f := newCountingFetcher()
	f.empty["blank.wav"] = true
	s := New(f, fakeDecoder{}, Options{})
	_, err := s.Load(context.Background(), "blank.wav", PriorityNormal)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	if IsTransient(err) {
		t.Fatalf("empty payload should not be transient")
	}
}

func TestDecodeFailureIsRememberedUntilForget(t *testing.T) {
	f := newCountingFetcher()
	s := New(f, fakeDecoder{bad: map[string]bool{"raw:bad.wav": true}}, Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Load(ctx, "bad.wav", PriorityNormal); !errors.Is(err, ErrDecode) {
			t.Fatalf("attempt %d: err = %v, want ErrDecode", i, err)
		}
	}
	if f.count("bad.wav") != 1 {
		t.Fatalf("decode failure should not refetch, count = %d", f.count("bad.wav"))
	}
	s.Prefetch("bad.wav", PriorityHigh)
	s.Forget("bad.wav")
	if _, err := s.Load(ctx, "bad.wav", PriorityNormal); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if f.count("bad.wav") != 2 {
		t.Fatalf("Forget should allow a fresh fetch, count = %d", f.count("bad.wav"))
	}
}

func TestLoadTimesOut(t *testing.T) {
	f := newCountingFetcher()
	f.gate = make(chan struct{}) // never released
	defer close(f.gate)
	s := New(f, fakeDecoder{}, Options{HighTimeout: 20 * time.Millisecond})
	_, err := s.Load(context.Background(), "slow.wav", PriorityHigh)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if s.Stats().Failures != 1 {
		t.Fatalf("failures = %d, want 1", s.Stats().Failures)
	}
}

func TestCallerContextDoesNotCancelLoad(t *testing.T) {
	f := newCountingFetcher()
	f.gate = make(chan struct{})
	s := New(f, fakeDecoder{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Load(ctx, "late.wav", PriorityNormal)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(f.gate)
	waitCached(t, s, "late.wav")
}

func TestPrefetchWarmsCache(t *testing.T) {
	f := newCountingFetcher()
	s := New(f, fakeDecoder{}, Options{})
	s.Prefetch("hat.wav", PriorityHigh)
	waitCached(t, s, "hat.wav")
	s.Prefetch("hat.wav", PriorityHigh)
	time.Sleep(10 * time.Millisecond)
	if f.count("hat.wav") != 1 {
		t.Fatalf("prefetch of cached id fetched again")
	}
}

func TestPreloadJoinsFailures(t *testing.T) {
	f := newCountingFetcher()
	f.errFor["b"] = errors.New("404")
	s := New(f, fakeDecoder{}, Options{})
	err := s.Preload(context.Background(), []string{"a", "b", "c"}, PriorityNormal)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want joined ErrFetch", err)
	}
	if s.Stats().Entries != 2 {
		t.Fatalf("entries = %d, want 2", s.Stats().Entries)
	}
}

func TestEmptyIDRejected(t *testing.T) {
	s := New(newCountingFetcher(), fakeDecoder{}, Options{})
	if _, err := s.Load(context.Background(), "", PriorityNormal); !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestRecencyWindowExcess(t *testing.T) {
	cases := []struct {
		w    RecencyWindow
		n    int
		want int
	}{
		{DefaultWindow, 50, 0},
		{DefaultWindow, 51, 21},
		{RecencyWindow{Limit: 10}, 11, 1},
		{RecencyWindow{Limit: 10, Retain: 20}, 11, 1},
		{RecencyWindow{}, 1000, 0},
	}
	for _, tc := range cases {
		if got := tc.w.Excess(tc.n); got != tc.want {
			t.Fatalf("%+v.Excess(%d) = %d, want %d", tc.w, tc.n, got, tc.want)
		}
	}
}

func waitCached(t *testing.T, s *Store, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		_, ok := s.cache.get(id)
		s.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never reached the cache", id)
}
