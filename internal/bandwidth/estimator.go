// Package bandwidth keeps a rolling estimate of network throughput from
// segment download timings and the coarse connection class a client reports.
package bandwidth

import "sync"

const (
	DefaultSeedBps = 1_000_000
	DefaultAlpha   = 0.3

	minAlpha = 0.2
	maxAlpha = 0.5
)

// Config controls the EWMA. Zero values select the defaults.
type Config struct {
	// Alpha is the weight of a new sample, clamped to [0.2, 0.5].
	Alpha float64
	// SeedBps is the estimate before any sample arrives.
	SeedBps float64
}

// Estimator is an exponentially weighted moving average of throughput in bits
// per second. Only the current estimate is retained.
type Estimator struct {
	mu       sync.Mutex
	alpha    float64
	estimate float64
	samples  int
}

// NewEstimator returns an Estimator seeded from cfg.
func NewEstimator(cfg Config) *Estimator {
	alpha := cfg.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if alpha < minAlpha {
		alpha = minAlpha
	}
	if alpha > maxAlpha {
		alpha = maxAlpha
	}
	seed := cfg.SeedBps
	if seed <= 0 {
		seed = DefaultSeedBps
	}
	return &Estimator{alpha: alpha, estimate: seed}
}

// CurrentEstimateBps returns the last known estimate, or the seed when no
// sample has been recorded.
func (e *Estimator) CurrentEstimateBps() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimate
}

// Samples returns how many active samples have been folded in.
func (e *Estimator) Samples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

// RecordSegmentLoad folds in the throughput of one segment download and
// returns the instantaneous rate. Non-positive sizes or durations are ignored.
func (e *Estimator) RecordSegmentLoad(bytesLoaded int64, loadDurationMs float64) (instBps float64, ok bool) {
	if bytesLoaded <= 0 || loadDurationMs <= 0 {
		return 0, false
	}
	instBps = float64(bytesLoaded) * 8 / (loadDurationMs / 1000)
	e.RecordSample(instBps)
	return instBps, true
}

// RecordSample folds in an externally measured throughput.
func (e *Estimator) RecordSample(bps float64) {
	if bps <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.estimate = e.alpha*bps + (1-e.alpha)*e.estimate
	e.samples++
}

// ObserveConnection applies the passive connection signal. Before any active
// sample it replaces the estimate; afterwards it is blended at half weight.
func (e *Estimator) ObserveConnection(info ConnectionInfo) bool {
	bps, ok := info.RepresentativeBps()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		e.estimate = bps
		return true
	}
	w := e.alpha / 2
	e.estimate = w*bps + (1-w)*e.estimate
	return true
}
