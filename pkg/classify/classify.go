// Package classify gives every role handler a single place to turn a Go
// error into the taxonomy spec.md §7 uses to pick a retry/DLQ/escalate
// response: Transient, Permanent, StalePrecondition, ConfigMissing, or
// ToolFailure.
package classify

import (
	"context"
	"errors"

	"github.com/codeready-toolchain/excproc/pkg/domain"
)

// Transient marks an error as retryable with backoff (network blips,
// timeouts, Store/Event Log unavailability).
type Transient struct{ Err error }

func (e Transient) Error() string { return "transient: " + e.Err.Error() }
func (e Transient) Unwrap() error { return e.Err }

// Permanent marks an error the retry loop must never retry — the input
// is structurally invalid and retrying cannot change the outcome.
type Permanent struct{ Err error }

func (e Permanent) Error() string { return "permanent: " + e.Err.Error() }
func (e Permanent) Unwrap() error { return e.Err }

// StalePrecondition marks a CAS (version) conflict: another writer moved
// the exception first. The handler must re-read state and re-evaluate,
// not blindly retry its stale decision.
type StalePrecondition struct{ Err error }

func (e StalePrecondition) Error() string { return "stale precondition: " + e.Err.Error() }
func (e StalePrecondition) Unwrap() error { return e.Err }

// ConfigMissing marks a handler invocation that could not resolve the
// config snapshot (policy table, playbook def) it needed.
type ConfigMissing struct{ Err error }

func (e ConfigMissing) Error() string { return "config missing: " + e.Err.Error() }
func (e ConfigMissing) Unwrap() error { return e.Err }

// ToolFailure marks a failed external tool invocation, carrying the
// tool's own error classification (so a tool-level "not found" still
// reads as Permanent rather than Transient).
type ToolFailure struct {
	Err     error
	Kind    domain.ErrorKind
	ToolID  string
}

func (e ToolFailure) Error() string { return "tool " + e.ToolID + " failed: " + e.Err.Error() }
func (e ToolFailure) Unwrap() error { return e.Err }

// Kind maps a classified error to the domain.ErrorKind recorded on the
// ProcessingError event. Unclassified errors default to Transient — an
// unrecognized failure mode should be retried a bounded number of times
// before escalation, never silently dropped.
func Kind(err error) domain.ErrorKind {
	var transient Transient
	var permanent Permanent
	var stale StalePrecondition
	var cfgMissing ConfigMissing
	var toolFailure ToolFailure
	switch {
	case errors.As(err, &stale):
		return domain.ErrorStalePrecondition
	case errors.As(err, &cfgMissing):
		return domain.ErrorConfigMissing
	case errors.As(err, &permanent):
		return domain.ErrorPermanent
	case errors.As(err, &toolFailure):
		return toolFailure.Kind
	case errors.As(err, &transient):
		return domain.ErrorTransient
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.ErrorTransient
	default:
		return domain.ErrorTransient
	}
}

// Retryable reports whether the retry/DLQ controller should schedule a
// redelivery for this error kind (spec.md §7's retry table). Permanent
// and ConfigMissing go straight to the DLQ; everything else is retried
// up to the playbook/role's configured max_attempts.
func Retryable(kind domain.ErrorKind) bool {
	switch kind {
	case domain.ErrorPermanent, domain.ErrorConfigMissing:
		return false
	default:
		return true
	}
}
