package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultWindow is the per-minute look-back
	DefaultWindow = 60 * time.Second
	// DefaultBurstWindow is the short look-back used for the burst ceiling
	DefaultBurstWindow = 10 * time.Second

	shardCount = 64
)

// Deny reasons
const (
	ReasonBurst  = "burst"
	ReasonWindow = "window"
)

// Config configures a sliding window limiter
type Config struct {
	RequestsPerMinute int
	BurstSize         int
	Window            time.Duration
	BurstWindow       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = DefaultBurstWindow
	}
	return c
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Reason     string
}

// Admitter decides whether a request for key may proceed. Implementations never fail:
// any internal problem resolves to a decision.
type Admitter interface {
	Allow(ctx context.Context, key string) Decision
	Limit() int
}

/* SlidingWindow is an in-memory sliding window limiter with a burst ceiling */
type SlidingWindow struct {
	cfg    Config
	clock  clock.Clock
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

/* NewSlidingWindow creates a limiter. A nil clock uses wall time. */
func NewSlidingWindow(cfg Config, clk clock.Clock) *SlidingWindow {
	if clk == nil {
		clk = clock.New()
	}
	l := &SlidingWindow{cfg: cfg.withDefaults(), clock: clk}
	for i := range l.shards {
		l.shards[i].windows = make(map[string][]time.Time)
	}
	return l
}

func (l *SlidingWindow) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}

// Limit returns the per-window ceiling
func (l *SlidingWindow) Limit() int {
	return l.cfg.RequestsPerMinute
}

// Allow admits and, on allow, records the request in one step
func (l *SlidingWindow) Allow(_ context.Context, key string) Decision {
	now := l.clock.Now()
	s := l.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	d := l.admitLocked(s, key, now)
	if d.Allowed {
		l.recordLocked(s, key, now)
		d.Remaining = l.remaining(len(s.windows[key]))
	}
	return d
}

// Admit evicts expired entries for key and reports whether a request at now would be allowed.
// It does not occupy a slot; call Record after an allow.
func (l *SlidingWindow) Admit(key string, now time.Time) Decision {
	s := l.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return l.admitLocked(s, key, now)
}

// Record stores an admitted request at now
func (l *SlidingWindow) Record(key string, now time.Time) {
	s := l.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	l.recordLocked(s, key, now)
}

func (l *SlidingWindow) admitLocked(s *shard, key string, now time.Time) Decision {
	events := evict(s.windows[key], now.Add(-l.cfg.Window))
	if len(events) == 0 {
		delete(s.windows, key)
	} else {
		s.windows[key] = events
	}

	d := Decision{
		Limit:   l.cfg.RequestsPerMinute,
		ResetAt: now.Add(l.cfg.Window),
	}

	burstCutoff := now.Add(-l.cfg.BurstWindow)
	burstStart := len(events)
	for i, t := range events {
		if t.After(burstCutoff) {
			burstStart = i
			break
		}
	}

	if len(events)-burstStart >= l.cfg.BurstSize {
		d.Reason = ReasonBurst
		if burstStart < len(events) {
			d.RetryAfter = events[burstStart].Add(l.cfg.BurstWindow).Sub(now)
		}
		return d
	}
	if len(events) >= l.cfg.RequestsPerMinute {
		d.Reason = ReasonWindow
		if len(events) > 0 {
			d.RetryAfter = events[0].Add(l.cfg.Window).Sub(now)
		}
		return d
	}

	d.Allowed = true
	d.Remaining = l.remaining(len(events))
	return d
}

func (l *SlidingWindow) recordLocked(s *shard, key string, now time.Time) {
	s.windows[key] = append(s.windows[key], now)
}

func (l *SlidingWindow) remaining(count int) int {
	if r := l.cfg.RequestsPerMinute - count; r > 0 {
		return r
	}
	return 0
}

// Count returns how many requests are currently retained for key
func (l *SlidingWindow) Count(key string) int {
	s := l.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(evict(s.windows[key], l.clock.Now().Add(-l.cfg.Window)))
}

// Reset forgets key
func (l *SlidingWindow) Reset(key string) {
	s := l.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Sweep drops keys whose windows have fully expired and returns how many were removed
func (l *SlidingWindow) Sweep(now time.Time) int {
	cutoff := now.Add(-l.cfg.Window)
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, events := range s.windows {
			if len(events) == 0 || events[len(events)-1].Before(cutoff) {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps idle keys every interval until ctx is done
func (l *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep(l.clock.Now())
		case <-ctx.Done():
			return
		}
	}
}

// evict drops timestamps older than cutoff from the front of a time-ordered slice
func evict(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}
