// Package evidence holds the capability-keyed provider registry and the
// dispatcher that turns EvidenceRequests into EvidenceResults under
// independent timeouts.
package evidence

import (
	"context"
	"errors"
	"fmt"

	"approver/pkg/proto"
)

// Provider is an evidence source. Providers advertise capabilities and are
// looked up by capability, never by name, so new providers slot in without
// touching the decision engine.
type Provider interface {
	// Name identifies the provider in logs and results.
	Name() string

	// Capabilities lists what this provider can answer.
	Capabilities() []proto.Capability

	// Invoke gathers evidence for one capability under the given deadline.
	// The returned payload is an opaque text summary consumed by the decision
	// engine. Failures should be wrapped in a *ProviderError so the
	// dispatcher can classify them.
	Invoke(ctx context.Context, cap proto.Capability, params map[string]string) (string, error)
}

// ProviderError carries the provider's own classification of a failure.
type ProviderError struct {
	Kind proto.FailureKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider failure: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable provider failure.
func Transient(err error) *ProviderError {
	return &ProviderError{Kind: proto.FailureTransient, Err: err}
}

// Permanent wraps err as a non-retryable provider failure.
func Permanent(err error) *ProviderError {
	return &ProviderError{Kind: proto.FailurePermanent, Err: err}
}

// ClassifyFailure extracts the provider's classification, defaulting to
// permanent for errors the provider did not classify.
func ClassifyFailure(err error) proto.FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return proto.FailurePermanent
}
