package evidence

import (
	"context"
	"errors"
	"sync"
	"time"

	"approver/pkg/logx"
	"approver/pkg/metrics"
	"approver/pkg/proto"
)

// Dispatcher routes EvidenceRequests to providers by capability, enforcing
// an independent timeout per dispatch. Transient failures are retried exactly
// once; permanent failures surface immediately. A result is produced for
// every request, never dropped.
type Dispatcher struct {
	registry *Registry
	logger   *logx.Logger
}

// NewDispatcher creates a dispatcher over the given (sealed) registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logx.NewLogger("evidence"),
	}
}

// Dispatch executes one evidence request and returns its attributed result.
func (d *Dispatcher) Dispatch(ctx context.Context, req proto.EvidenceRequest) proto.EvidenceResult {
	start := time.Now()
	result := d.dispatch(ctx, req)
	result.Elapsed = time.Since(start)

	metrics.EvidenceDispatchesTotal.WithLabelValues(string(req.Capability), string(result.Status)).Inc()
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, req proto.EvidenceRequest) proto.EvidenceResult {
	provider, err := d.registry.Lookup(req.Capability)
	if err != nil {
		return proto.EvidenceResult{
			RequestID:  req.ID,
			Capability: req.Capability,
			Status:     proto.EvidenceFailed,
			Failure:    proto.FailurePermanent,
			Detail:     err.Error(),
		}
	}

	payload, err := d.invokeOnce(ctx, provider, req)
	if err != nil && ClassifyFailure(err) == proto.FailureTransient && ctx.Err() == nil {
		d.logger.Debug("transient failure from %s for %s, retrying once: %v", provider.Name(), req.Capability, err)
		payload, err = d.invokeOnce(ctx, provider, req)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return proto.EvidenceResult{
				RequestID:  req.ID,
				Capability: req.Capability,
				Status:     proto.EvidenceTimeout,
				Detail:     "provider did not answer within " + req.Timeout.String(),
			}
		}
		return proto.EvidenceResult{
			RequestID:  req.ID,
			Capability: req.Capability,
			Status:     proto.EvidenceFailed,
			Failure:    ClassifyFailure(err),
			Detail:     err.Error(),
		}
	}

	return proto.EvidenceResult{
		RequestID:  req.ID,
		Capability: req.Capability,
		Status:     proto.EvidenceOK,
		Payload:    payload,
	}
}

// invokeOnce runs a single provider invocation under the request's own
// timeout. The provider is cancelled via context when the timeout elapses;
// cancellation is best-effort, but the result is reported either way.
func (d *Dispatcher) invokeOnce(ctx context.Context, provider Provider, req proto.EvidenceRequest) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		payload string
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		payload, err := provider.Invoke(invokeCtx, req.Capability, req.Params)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && invokeCtx.Err() != nil && errors.Is(invokeCtx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return out.payload, out.err
	case <-invokeCtx.Done():
		if errors.Is(invokeCtx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", invokeCtx.Err()
	}
}

// DispatchAll fans out all requests concurrently and joins before returning.
// Results are positionally aligned with the requests.
func (d *Dispatcher) DispatchAll(ctx context.Context, reqs []proto.EvidenceRequest) []proto.EvidenceResult {
	results := make([]proto.EvidenceResult, len(reqs))

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Dispatch(ctx, reqs[i])
		}(i)
	}
	wg.Wait()

	return results
}
