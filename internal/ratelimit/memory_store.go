package ratelimit

import (
	"context"
	"path"
	"sync"
	"time"
)

type sumEntry struct {
	at    int64 // unix ms
	value float64
}

type fixedRecord struct {
	count   int64
	resetAt time.Time
}

// In-memory Store for tests and single-instance deployments without Redis.
// All operations hold one lock, which gives the same per-key serializability
// the Redis implementation gets from script execution.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string][]int64 // ascending unix ms timestamps
	sums      map[string][]sumEntry
	fixed     map[string]*fixedRecord
	penalties map[string]time.Time

	nowFn func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:   make(map[string][]int64),
		sums:      make(map[string][]sumEntry),
		fixed:     make(map[string]*fixedRecord),
		penalties: make(map[string]time.Time),
		nowFn:     time.Now,
	}
}

// trimWindow drops events at or before the trailing boundary. An event exactly
// at the boundary belongs to the expired side.
func trimWindow(events []int64, boundary int64) []int64 {
	i := 0
	for i < len(events) && events[i] <= boundary {
		i++
	}
	return events[i:]
}

func trimSum(entries []sumEntry, boundary int64) []sumEntry {
	i := 0
	for i < len(entries) && entries[i].at <= boundary {
		i++
	}
	return entries[i:]
}

func (s *MemoryStore) AllowWindows(ctx context.Context, windows []Window, sum *SumWindow, record bool) (*WindowVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn().UnixMilli()

	verdict := &WindowVerdict{
		Allowed:     true,
		FailedIndex: -1,
		Counts:      make([]int64, len(windows)),
	}

	for i, w := range windows {
		boundary := now - w.Span.Milliseconds()
		events := trimWindow(s.windows[w.Key], boundary)
		s.windows[w.Key] = events
		verdict.Counts[i] = int64(len(events))

		if int64(len(events)) >= w.Limit {
			verdict.Allowed = false
			verdict.FailedIndex = i
			verdict.RetryAfter = w.Span
			if len(events) > 0 {
				verdict.RetryAfter = time.Duration(events[0]+w.Span.Milliseconds()-now) * time.Millisecond
			}
			return verdict, nil
		}
	}

	if sum != nil {
		boundary := now - sum.Span.Milliseconds()
		entries := trimSum(s.sums[sum.Key], boundary)
		s.sums[sum.Key] = entries

		var total float64
		for _, e := range entries {
			total += e.value
		}

		if total+sum.Add > sum.Max {
			verdict.Allowed = false
			verdict.FailedIndex = len(windows)
			verdict.RetryAfter = sum.Span
			return verdict, nil
		}

		if record && sum.Add > 0 {
			s.sums[sum.Key] = append(entries, sumEntry{at: now, value: sum.Add})
		}
	}

	if record {
		for _, w := range windows {
			s.windows[w.Key] = append(s.windows[w.Key], now)
		}
	}

	return verdict, nil
}

func (s *MemoryStore) CountWindow(ctx context.Context, key string, span time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boundary := s.nowFn().UnixMilli() - span.Milliseconds()
	events := trimWindow(s.windows[key], boundary)
	s.windows[key] = events

	return int64(len(events)), nil
}

func (s *MemoryStore) SumInWindow(ctx context.Context, key string, span time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boundary := s.nowFn().UnixMilli() - span.Milliseconds()
	entries := trimSum(s.sums[key], boundary)
	s.sums[key] = entries

	var total float64
	for _, e := range entries {
		total += e.value
	}

	return total, nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, key string, span time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn().UnixMilli()
	events := trimWindow(s.windows[key], now-span.Milliseconds())
	events = append(events, now)
	s.windows[key] = events

	return int64(len(events)), nil
}

func (s *MemoryStore) IncrFixedWindow(ctx context.Context, key string, span time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	rec, ok := s.fixed[key]

	if !ok || now.After(rec.resetAt) {
		rec = &fixedRecord{count: 1, resetAt: now.Add(span)}
		s.fixed[key] = rec
		return rec.count, rec.resetAt, nil
	}

	rec.count++
	return rec.count, rec.resetAt, nil
}

func (s *MemoryStore) FixedWindowCount(ctx context.Context, key string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.fixed[key]
	if !ok || s.nowFn().After(rec.resetAt) {
		return 0, time.Time{}, nil
	}

	return rec.count, rec.resetAt, nil
}

func (s *MemoryStore) ScanFixedWindows(ctx context.Context, pattern string) (map[string]FixedWindowStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	stats := make(map[string]FixedWindowStat)

	for key, rec := range s.fixed {
		if matched, _ := path.Match(pattern, key); !matched {
			continue
		}
		if now.After(rec.resetAt) {
			continue
		}
		stats[key] = FixedWindowStat{Count: rec.count, ResetAt: rec.resetAt}
	}

	return stats, nil
}

func (s *MemoryStore) GetPenalty(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.penalties[key]
	if !ok {
		return time.Time{}, false, nil
	}

	if s.nowFn().After(expiry) {
		delete(s.penalties, key)
		return time.Time{}, false, nil
	}

	return expiry, true, nil
}

func (s *MemoryStore) SetPenalty(ctx context.Context, key string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.penalties[key] = s.nowFn().Add(duration)
	return nil
}

func (s *MemoryStore) ClearPenalty(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.penalties, key)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if _, ok := s.windows[key]; ok {
			delete(s.windows, key)
			deleted++
			continue
		}
		if _, ok := s.sums[key]; ok {
			delete(s.sums, key)
			deleted++
			continue
		}
		if _, ok := s.fixed[key]; ok {
			delete(s.fixed, key)
			deleted++
			continue
		}
		if _, ok := s.penalties[key]; ok {
			delete(s.penalties, key)
			deleted++
		}
	}

	return deleted, nil
}

func (s *MemoryStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64

	for key := range s.windows {
		if matched, _ := path.Match(pattern, key); matched {
			delete(s.windows, key)
			deleted++
		}
	}
	for key := range s.sums {
		if matched, _ := path.Match(pattern, key); matched {
			delete(s.sums, key)
			deleted++
		}
	}
	for key := range s.fixed {
		if matched, _ := path.Match(pattern, key); matched {
			delete(s.fixed, key)
			deleted++
		}
	}
	for key := range s.penalties {
		if matched, _ := path.Match(pattern, key); matched {
			delete(s.penalties, key)
			deleted++
		}
	}

	return deleted, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	var purged int64

	for key, rec := range s.fixed {
		if matched, _ := path.Match(pattern, key); !matched {
			continue
		}
		if now.After(rec.resetAt) {
			delete(s.fixed, key)
			purged++
		}
	}

	nowMs := now.UnixMilli()
	for key, events := range s.windows {
		if matched, _ := path.Match(pattern, key); !matched {
			continue
		}
		// A window with no event newer than an hour is dead weight
		if len(events) == 0 || events[len(events)-1] <= nowMs-time.Hour.Milliseconds() {
			delete(s.windows, key)
			purged++
		}
	}

	for key, expiry := range s.penalties {
		if matched, _ := path.Match(pattern, key); !matched {
			continue
		}
		if now.After(expiry) {
			delete(s.penalties, key)
			purged++
		}
	}

	return purged, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
