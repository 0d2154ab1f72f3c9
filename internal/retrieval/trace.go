package retrieval

import (
	"encoding/json"
	"time"

	"github.com/Aman-CERP/regsearch/internal/tier"
)

// State is an orchestrator state. Attempts end in Sufficient,
// Insufficient or Error; a request ends in Success or Exhausted.
type State string

const (
	StateInit         State = "init"
	StateAttempt      State = "attempt"
	StateSufficient   State = "sufficient"
	StateInsufficient State = "insufficient"
	StateError        State = "error"
	StateSuccess      State = "success"
	StateExhausted    State = "exhausted"
)

// Attempt records one tier call.
type Attempt struct {
	Tier     string `json:"tier"`
	Priority int    `json:"priority"`
	State    State  `json:"state"`
	Hits     int    `json:"hits"`
	// ErrorKind is transport, timeout or query when State is error.
	ErrorKind   string            `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	Retried     bool              `json:"retried,omitempty"`
	CircuitOpen bool              `json:"circuit_open,omitempty"`
	Enrichment  bool              `json:"enrichment,omitempty"`
	Timeout     time.Duration     `json:"-"`
	Latency     time.Duration     `json:"-"`
	Filters     tier.FilterReport `json:"filters,omitempty"`
}

// MarshalJSON renders durations as milliseconds.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type plain Attempt
	return json.Marshal(struct {
		plain
		TimeoutMs float64 `json:"timeout_ms"`
		LatencyMs float64 `json:"latency_ms"`
	}{
		plain:     plain(a),
		TimeoutMs: float64(a.Timeout.Microseconds()) / 1000,
		LatencyMs: float64(a.Latency.Microseconds()) / 1000,
	})
}

// Trace is the per-request record of how a result was produced. Tier
// failures live here rather than in returned errors.
type Trace struct {
	Lexical        string              `json:"lexical_query"`
	Semantic       string              `json:"semantic_query"`
	Corrections    map[string]string   `json:"corrections,omitempty"`
	Expansions     map[string][]string `json:"expansions,omitempty"`
	Attempts       []Attempt           `json:"attempts"`
	Final          State               `json:"final_state"`
	BudgetExceeded bool                `json:"budget_exceeded,omitempty"`
}
