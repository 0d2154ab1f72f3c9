package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TierErrorKind classifies a failed tier attempt.
type TierErrorKind int

const (
	// KindTransport is a network or connection failure. Retried once.
	KindTransport TierErrorKind = iota
	// KindTimeout is a deadline exceeded inside the tier. Never retried.
	KindTimeout
	// KindQuery is a malformed or rejected translated query. Skipped.
	KindQuery
	// KindExhausted means every tier ran without usable hits.
	KindExhausted
)

// String returns the wire name used in traces and metrics labels.
func (k TierErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindQuery:
		return "query"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

func (k TierErrorKind) code() string {
	switch k {
	case KindTransport:
		return ErrCodeTierTransport
	case KindTimeout:
		return ErrCodeTierTimeout
	case KindQuery:
		return ErrCodeTierQuery
	default:
		return ErrCodeEngineExhausted
	}
}

// TierError is the typed failure of a single tier attempt.
// It is recorded in the request trace and never escapes the orchestrator.
type TierError struct {
	Tier string
	Kind TierErrorKind
	Err  error
}

func (e *TierError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tier %s: %s", e.Tier, e.Kind)
	}
	return fmt.Sprintf("tier %s: %s: %v", e.Tier, e.Kind, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// AsRegError converts the tier failure into a coded error for logs and output.
func (e *TierError) AsRegError() *RegError {
	return New(e.Kind.code(), e.Error(), e.Err).WithDetail("tier", e.Tier)
}

// TierTransportError wraps a connection-level failure from a tier.
func TierTransportError(tier string, err error) *TierError {
	return &TierError{Tier: tier, Kind: KindTransport, Err: err}
}

// TierTimeoutError records a tier that ran past its deadline.
func TierTimeoutError(tier string, err error) *TierError {
	return &TierError{Tier: tier, Kind: KindTimeout, Err: err}
}

// TierQueryError wraps a failure translating or executing the native query.
func TierQueryError(tier string, err error) *TierError {
	return &TierError{Tier: tier, Kind: KindQuery, Err: err}
}

// ErrStoreClosed is returned by a backing store after Close. A tier whose
// store is closed is unavailable, not mis-queried.
var ErrStoreClosed = errors.New("store is closed")

// busyMarkers are lock-contention messages. SQLite drivers report
// SQLITE_BUSY and SQLITE_LOCKED only as text.
var busyMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"sqlite_locked",
}

// ErrEngineExhausted marks a request where no tier produced a usable hit.
// Callers never see it as an error; it selects the empty-response path.
var ErrEngineExhausted = &TierError{Tier: "*", Kind: KindExhausted}

// IsTransport reports whether err should be retried as a transport failure.
func IsTransport(err error) bool {
	kind, ok := tierKind(err)
	return ok && kind == KindTransport
}

// ClassifyTierError maps an arbitrary adapter error onto the tier taxonomy.
// Adapters may return a TierError directly; otherwise deadline errors become
// timeouts, net errors, closed stores and lock contention become transport
// failures and everything else is treated as a query error.
func ClassifyTierError(tier string, err error) *TierError {
	if err == nil {
		return nil
	}
	var te *TierError
	if errors.As(err, &te) {
		if te.Tier == "" {
			return &TierError{Tier: tier, Kind: te.Kind, Err: te.Err}
		}
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TierTimeoutError(tier, err)
	}
	if errors.Is(err, ErrCircuitOpen) || IsRetryable(err) {
		return TierTransportError(tier, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return TierTimeoutError(tier, err)
		}
		return TierTransportError(tier, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, ErrStoreClosed) {
		return TierTransportError(tier, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range busyMarkers {
		if strings.Contains(msg, m) {
			return TierTransportError(tier, err)
		}
	}
	return TierQueryError(tier, err)
}

func tierKind(err error) (TierErrorKind, bool) {
	var te *TierError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}
