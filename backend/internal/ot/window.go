package ot

import "time"

// Default concurrency window thresholds. Tunable policy, not protocol
// invariants: the window approximates causal concurrency with wall-clock
// proximity and can mislabel operations near the boundary. True causal
// tracking would need per-author counters or vector clocks.
const (
	DefaultWindowPrefilter = 10 * time.Second
	DefaultWindowRadius    = 5 * time.Second
)

// Window selects the operations considered "not yet observed" by the author
// of an edit with a given timestamp.
type Window struct {
	// Prefilter bounds the log scan: only entries with
	// timestamp >= T-Prefilter are candidates.
	Prefilter time.Duration
	// Radius keeps candidates with |timestamp - T| <= Radius.
	Radius time.Duration
}

// DefaultWindow returns the window with the stock thresholds.
func DefaultWindow() Window {
	return Window{Prefilter: DefaultWindowPrefilter, Radius: DefaultWindowRadius}
}

// PrefilterSince returns the lower timestamp bound for the log scan.
func (w Window) PrefilterSince(ts int64) int64 {
	return ts - w.Prefilter.Milliseconds()
}

// Concurrent filters candidates down to the concurrent set, preserving the
// input order. Transform depends on that order being kept as-is.
func (w Window) Concurrent(candidates []Operation, ts int64) []Operation {
	radius := w.Radius.Milliseconds()
	var out []Operation
	for _, op := range candidates {
		d := op.Timestamp - ts
		if d < 0 {
			d = -d
		}
		if d <= radius {
			out = append(out, op)
		}
	}
	return out
}
