package app

import (
	"context"
	"sync"
	"time"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
)

// Windows past their length are swept once a bucket map grows beyond this,
// keeping lazy reclaim bounded without an eviction goroutine.
const admissionSweepThreshold = 4096

// rateWindow is one key's counter inside a fixed-length window. Reset on
// first access after the window elapses.
type rateWindow struct {
	start time.Time
	count int
}

// MemoryAdmissionConfig holds the limits for MemoryAdmission. Zero values
// take the domain defaults.
type MemoryAdmissionConfig struct {
	ConnectionLimit  int
	ConnectionWindow time.Duration
	MessageLimit     int
	MessageWindow    time.Duration
	Clock            domain.Clock
}

// MemoryAdmission enforces connection and message rate limits with
// in-process windows, checked and reset on access. Suits a single gateway
// instance; multi-instance deployments select the Redis-backed adapter so
// limits hold across replicas.
type MemoryAdmission struct {
	connLimit  int
	connWindow time.Duration
	msgLimit   int
	msgWindow  time.Duration
	clock      domain.Clock

	mu    sync.Mutex
	conns map[string]*rateWindow
	msgs  map[string]*rateWindow
}

var _ Admission = (*MemoryAdmission)(nil)

// NewMemoryAdmission creates a MemoryAdmission with the given limits.
func NewMemoryAdmission(cfg MemoryAdmissionConfig) *MemoryAdmission {
	if cfg.ConnectionLimit <= 0 {
		cfg.ConnectionLimit = domain.ConnectionRateLimit
	}
	if cfg.ConnectionWindow <= 0 {
		cfg.ConnectionWindow = domain.ConnectionRateWindow
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = domain.MessageRateLimit
	}
	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = domain.MessageRateWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.RealClock{}
	}
	return &MemoryAdmission{
		connLimit:  cfg.ConnectionLimit,
		connWindow: cfg.ConnectionWindow,
		msgLimit:   cfg.MessageLimit,
		msgWindow:  cfg.MessageWindow,
		clock:      cfg.Clock,
		conns:      make(map[string]*rateWindow),
		msgs:       make(map[string]*rateWindow),
	}
}

// AdmitConnection checks the per-origin connection limit.
func (a *MemoryAdmission) AdmitConnection(_ context.Context, key string) (bool, error) {
	return a.admit(a.conns, key, a.connLimit, a.connWindow), nil
}

// AdmitMessage checks the per-connection message limit.
func (a *MemoryAdmission) AdmitMessage(_ context.Context, key string) (bool, error) {
	return a.admit(a.msgs, key, a.msgLimit, a.msgWindow), nil
}

// admit counts one event against the key's window. At the limit it denies
// without incrementing: denied attempts never extend a window or push the
// count past the limit.
func (a *MemoryAdmission) admit(buckets map[string]*rateWindow, key string, limit int, window time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	w, ok := buckets[key]
	if !ok || now.Sub(w.start) >= window {
		buckets[key] = &rateWindow{start: now, count: 1}
		if len(buckets) > admissionSweepThreshold {
			sweepExpired(buckets, now, window)
		}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

func sweepExpired(buckets map[string]*rateWindow, now time.Time, window time.Duration) {
	for key, w := range buckets {
		if now.Sub(w.start) >= window {
			delete(buckets, key)
		}
	}
}
