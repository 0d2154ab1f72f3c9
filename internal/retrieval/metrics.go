package retrieval

import "time"

// Metrics receives engine observations. The metrics package provides a
// Prometheus implementation.
type Metrics interface {
	ObserveTierAttempt(tier string, state State, latency time.Duration)
	ObserveCache(hit bool)
	ObserveRequest(state State, degraded bool, latency time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTierAttempt(string, State, time.Duration) {}
func (nopMetrics) ObserveCache(bool)                               {}
func (nopMetrics) ObserveRequest(State, bool, time.Duration)       {}
