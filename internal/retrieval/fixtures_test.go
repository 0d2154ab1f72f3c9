package retrieval

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/regsearch/internal/config"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

// fakeTier is a scripted adapter that counts its calls.
type fakeTier struct {
	desc tier.Descriptor
	hits []tier.Hit
	// errs is consumed one per call; a nil entry or an exhausted list
	// falls through to err.
	errs  []error
	err   error
	delay time.Duration
	// stubborn ignores ctx while delaying.
	stubborn bool
	filters  tier.FilterReport

	calls   atomic.Int32
	mu      sync.Mutex
	lastReq tier.Request
}

func (f *fakeTier) Search(ctx context.Context, req tier.Request) (*tier.Result, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()

	if f.delay > 0 {
		if f.stubborn {
			time.Sleep(f.delay)
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.delay):
			}
		}
	}
	if n-1 < len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}
	if f.err != nil {
		return nil, f.err
	}
	hits := make([]tier.Hit, len(f.hits))
	copy(hits, f.hits)
	return &tier.Result{Hits: hits, Filters: f.filters}, nil
}

func (f *fakeTier) Capabilities() tier.Descriptor { return f.desc }
func (f *fakeTier) Close() error                  { return nil }

func (f *fakeTier) request() tier.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func fakeDescriptor(name string, priority, minHits int) tier.Descriptor {
	return tier.Descriptor{
		Name:          name,
		Kind:          "fake",
		Priority:      priority,
		Timeout:       200 * time.Millisecond,
		MinHits:       minHits,
		Weight:        1,
		PartialWeight: 0.5,
		Normalization: tier.Normalization{Lexical: StrategyMinMax, Vector: StrategyClamp},
	}
}

func newFake(name string, priority, minHits int, hits ...tier.Hit) *fakeTier {
	return &fakeTier{desc: fakeDescriptor(name, priority, minHits), hits: hits}
}

// lexical builds descending-score lexical hits for ids.
func lexical(tierName string, ids ...string) []tier.Hit {
	hits := make([]tier.Hit, len(ids))
	for i, id := range ids {
		hits[i] = tier.Hit{
			DocumentID:  id,
			Tier:        tierName,
			Modality:    tier.ModalityLexical,
			NativeScore: float64(len(ids)-i) * 2,
			Metadata:    tier.Metadata{Title: "Passage " + id},
		}
	}
	return hits
}

func vector(tierName string, ids ...string) []tier.Hit {
	hits := make([]tier.Hit, len(ids))
	for i, id := range ids {
		hits[i] = tier.Hit{
			DocumentID:  id,
			Tier:        tierName,
			Modality:    tier.ModalityVector,
			NativeScore: 0.9 - float64(i)*0.1,
		}
	}
	return hits
}

func docIDs(n int, prefix string) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return ids
}

func rankedIDs(hits []RankedHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocumentID
	}
	return ids
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Engine.Budget = time.Second
	return cfg
}

// recordingMetrics counts observations.
type recordingMetrics struct {
	mu       sync.Mutex
	attempts map[string]int
	hits     int
	misses   int
	requests int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{attempts: make(map[string]int)}
}

func (m *recordingMetrics) ObserveTierAttempt(t string, s State, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[t+"/"+string(s)]++
}

func (m *recordingMetrics) ObserveCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *recordingMetrics) ObserveRequest(State, bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
}
