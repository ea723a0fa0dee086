// Package apierr classifies upstream HTTP failures so callers can decide on
// retries and user-facing outcomes without inspecting error text.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the coarse class of an upstream failure.
type Kind int

const (
	// KindPermanent failures will not succeed on retry (4xx other than 401/429).
	KindPermanent Kind = iota
	// KindTransient failures may succeed on retry (network, 429, 5xx).
	KindTransient
	// KindAuthExpired means the credential presented upstream was rejected.
	KindAuthExpired
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	default:
		return "permanent"
	}
}

// Error is an upstream failure tagged with its Kind.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus classifies a non-2xx HTTP status.
func FromStatus(op string, status int, err error) *Error {
	return &Error{Kind: KindForStatus(status), Op: op, Status: status, Err: err}
}

// KindForStatus maps an HTTP status code to a Kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// KindOf reports the Kind of err. Unclassified network and timeout errors are
// transient, anything else is permanent.
func KindOf(err error) Kind {
	if err == nil {
		return KindPermanent
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindPermanent
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsAuthExpired reports whether err means the upstream credential is no longer valid.
func IsAuthExpired(err error) bool {
	return err != nil && KindOf(err) == KindAuthExpired
}
