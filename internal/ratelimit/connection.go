package ratelimit

import (
	"context"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type ConnectionOptions struct {
	MaxConnections int           // Default: 10
	Window         time.Duration // Default: 60s
	KeyPrefix      string
	Enabled        bool
	FailOpen       bool
}

// Gates new socket connections per IP: at most MaxConnections attempts within
// a fixed window. State lives in the shared store so every instance sees the
// same counts.
type ConnectionLimiter struct {
	store  Store
	max    int64
	window time.Duration
	prefix string

	enabled  bool
	failOpen bool

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool

	now func() time.Time
}

type ConnectionStats struct {
	TrackedIPs int                      `json:"tracked_ips"`
	PerIP      map[string]ConnectionUse `json:"per_ip"`
}

type ConnectionUse struct {
	Count   int64  `json:"count"`
	ResetAt string `json:"reset_at"`
}

func NewConnectionLimiter(store Store, opts ConnectionOptions) *ConnectionLimiter {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 10
	}
	if opts.Window <= 0 {
		opts.Window = 60 * time.Second
	}

	return &ConnectionLimiter{
		store:    store,
		max:      int64(opts.MaxConnections),
		window:   opts.Window,
		prefix:   opts.KeyPrefix,
		enabled:  opts.Enabled,
		failOpen: opts.FailOpen,
		now:      time.Now,
	}
}

func (l *ConnectionLimiter) key(ip string) string {
	return l.prefix + "conn:" + ip
}

// Resolves a connection's IP. Priority: forwarded-for header, real-ip header,
// handshake remote address, then the raw transport address.
func ResolveIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}

// The gate used by connection middleware. One increment-and-compare against
// the store decides admission, so two racing attempts can never both take the
// last slot. Denied attempts stay counted, which keeps the stats honest and
// does not move the window's reset time.
func (l *ConnectionLimiter) Allow(ctx context.Context, ip string) *Result {
	if !l.enabled {
		return Allow()
	}

	count, resetAt, err := l.store.IncrFixedWindow(ctx, l.key(ip), l.window)
	if err != nil {
		return l.storeFailure(ip, err)
	}

	if count > l.max {
		retry := int(l.window.Seconds())
		if !resetAt.IsZero() {
			if secs := int(math.Ceil(resetAt.Sub(l.now()).Seconds())); secs > 0 {
				retry = secs
			}
		}

		log.Printf("Connection blocked for %s: rate limit reached (%d per %v)", ip, l.max, l.window)
		return Deny(
			ReasonConnectionLimit,
			"Too many connection attempts. Please wait before reconnecting.",
			retry,
		)
	}

	return Allow()
}

func (l *ConnectionLimiter) storeFailure(ip string, err error) *Result {
	log.Printf("ERROR: connection limiter store failure for %s: %v", ip, err)

	if l.failOpen {
		return Allow()
	}

	return Deny(ReasonStoreError, "Connection gate unavailable. Try again shortly.", 1)
}

// Clears one IP's record
func (l *ConnectionLimiter) Reset(ctx context.Context, ip string) error {
	_, err := l.store.Delete(ctx, l.key(ip))
	return err
}

// Clears every record and returns how many were cleared
func (l *ConnectionLimiter) ResetAll(ctx context.Context) (int64, error) {
	return l.store.DeleteByPattern(ctx, l.prefix+"conn:*")
}

func (l *ConnectionLimiter) Stats(ctx context.Context) (*ConnectionStats, error) {
	records, err := l.store.ScanFixedWindows(ctx, l.prefix+"conn:*")
	if err != nil {
		return nil, err
	}

	stats := &ConnectionStats{
		TrackedIPs: len(records),
		PerIP:      make(map[string]ConnectionUse, len(records)),
	}

	for key, rec := range records {
		ip := strings.TrimPrefix(key, l.prefix+"conn:")
		stats.PerIP[ip] = ConnectionUse{
			Count:   rec.Count,
			ResetAt: rec.ResetAt.Format(time.RFC3339),
		}
	}

	return stats, nil
}

// Runs the expired-record sweep every interval until Stop is called
func (l *ConnectionLimiter) StartCleanup(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.stopChan = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Cleanup(context.Background())
			case <-stop:
				return
			}
		}
	}(l.stopChan)
}

func (l *ConnectionLimiter) Cleanup(ctx context.Context) {
	purged, err := l.store.PurgeExpired(ctx, l.prefix+"conn:*")
	if err != nil {
		log.Printf("ERROR: connection limiter cleanup failed: %v", err)
		return
	}

	if purged > 0 {
		log.Printf("Connection limiter cleanup removed %d expired records", purged)
	}
}

func (l *ConnectionLimiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.running = false
	close(l.stopChan)
}
