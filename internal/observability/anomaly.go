package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/warden/internal/config"
)

// minSamples is the number of outcomes an operation needs before its
// error rate is judged.
const minSamples = 5

// AnomalyDetector performs threshold-based anomaly detection over sliding
// windows: high failure rates per runtime, and callers that keep sending
// commands the policy rejects.
type AnomalyDetector struct {
	mu            sync.Mutex
	errorCounts   map[string]*slidingWindow
	successCounts map[string]*slidingWindow
	blocked       map[string]*slidingWindow
	cfg           config.AnomalyConfig
	logger        *slog.Logger
	now           func() time.Time
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 300
	}
	return &AnomalyDetector{
		errorCounts:   make(map[string]*slidingWindow),
		successCounts: make(map[string]*slidingWindow),
		blocked:       make(map[string]*slidingWindow),
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// RecordError records a failed operation and reports whether the error
// rate is now above the threshold.
func (a *AnomalyDetector) RecordError(operation string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.errorCounts, operation).add(a.now(), 1)
	return a.checkErrorRate(operation)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.successCounts, operation).add(a.now(), 1)
}

// RecordBlocked records a policy rejection for a caller and reports
// whether the caller has crossed the blocked-command threshold.
func (a *AnomalyDetector) RecordBlocked(callerID, pattern string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.window(a.blocked, callerID)
	now := a.now()
	w.add(now, 1)

	threshold := a.cfg.BlockedThreshold
	if threshold <= 0 {
		return false
	}
	count := int(w.sum(now))
	if count < threshold {
		return false
	}
	if a.logger != nil {
		a.logger.Warn("anomaly detected: repeated blocked commands",
			slog.String("caller", callerID),
			slog.String("pattern", pattern),
			slog.Int("blocked", count),
			slog.Int("threshold", threshold),
		)
	}
	return true
}

// ErrorRate returns the failure ratio of operation within the window.
func (a *AnomalyDetector) ErrorRate(operation string) float64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	errs, total := a.counts(operation)
	if total == 0 {
		return 0
	}
	return errs / total
}

// checkErrorRate must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(operation string) bool {
	threshold := a.cfg.ErrorRateThreshold
	if threshold <= 0 {
		return false
	}

	errs, total := a.counts(operation)
	if total < minSamples {
		return false
	}

	rate := errs / total
	if rate <= threshold {
		return false
	}
	if a.logger != nil {
		a.logger.Warn("anomaly detected: high error rate",
			slog.String("operation", operation),
			slog.Float64("error_rate", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("errors", errs),
			slog.Float64("total", total),
		)
	}
	return true
}

func (a *AnomalyDetector) counts(operation string) (errs, total float64) {
	now := a.now()
	errs = a.window(a.errorCounts, operation).sum(now)
	successes := a.window(a.successCounts, operation).sum(now)
	return errs, errs + successes
}

func (a *AnomalyDetector) window(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: time.Duration(a.cfg.WindowSeconds) * time.Second}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time, value float64) {
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

func (w *slidingWindow) sum(now time.Time) float64 {
	w.prune(now)
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune drops entries older than the window.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
