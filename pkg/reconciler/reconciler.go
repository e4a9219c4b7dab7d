// Package reconciler drives the event loop: it watches approval tasks,
// funnels them through the decision engine and writes verdicts back, with
// per-task single-flight, retry with backoff, and staleness checks around
// the slow analysis phase.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"approver/pkg/cluster"
	"approver/pkg/config"
	"approver/pkg/decision"
	"approver/pkg/feedback"
	"approver/pkg/logx"
	"approver/pkg/metrics"
	"approver/pkg/patcher"
	"approver/pkg/proto"
)

// Reconciler owns the watch loop and the worker pool.
type Reconciler struct {
	cfg      *config.Config
	client   cluster.Client
	engine   *decision.Engine
	patcher  *patcher.Patcher
	recorder *feedback.Recorder
	logger   *logx.Logger

	work chan proto.Identity
	done chan proto.Identity
}

// New wires a reconciler.
func New(cfg *config.Config, client cluster.Client, engine *decision.Engine, p *patcher.Patcher, recorder *feedback.Recorder) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		client:   client,
		engine:   engine,
		patcher:  p,
		recorder: recorder,
		logger:   logx.NewLogger("reconciler"),
		work:     make(chan proto.Identity),
		done:     make(chan proto.Identity),
	}
}

// Run blocks until ctx is cancelled, then drains in-flight reconciles.
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := r.client.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}

	// Tasks created while the engine was down never produce a watch event,
	// so seed the backlog from a full list taken after the watch is
	// registered. Terminal tasks are enqueued too: the skip pass records
	// feedback for human verdicts that landed during the downtime.
	existing, err := r.client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	initial := make([]proto.Identity, 0, len(existing))
	for _, task := range existing {
		initial = append(initial, task.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Engine.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx)
		}()
	}

	r.coordinate(ctx, events, initial)

	close(r.work)
	wg.Wait()
	r.logger.Info("reconciler stopped")
	return nil
}

// coordinate serializes all scheduling state: which tasks are queued, which
// are in flight, and which changed while in flight. A task is never worked
// on by two workers at once; events arriving mid-flight coalesce into a
// single follow-up pass over the newest snapshot.
func (r *Reconciler) coordinate(ctx context.Context, events <-chan cluster.Event, initial []proto.Identity) {
	var backlog []proto.Identity
	queued := make(map[proto.Identity]bool)
	inflight := make(map[proto.Identity]bool)
	dirty := make(map[proto.Identity]bool)

	for _, id := range initial {
		if !queued[id] {
			backlog = append(backlog, id)
			queued[id] = true
		}
	}

	for {
		var (
			dispatch chan proto.Identity
			next     proto.Identity
		)
		if len(backlog) > 0 {
			dispatch = r.work
			next = backlog[0]
		}

		select {
		case <-ctx.Done():
			// Workers observe ctx themselves; just stop scheduling.
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case cluster.EventDeleted:
				delete(dirty, ev.ID)
				if queued[ev.ID] {
					backlog = removeIdentity(backlog, ev.ID)
					delete(queued, ev.ID)
				}
			default:
				if inflight[ev.ID] {
					dirty[ev.ID] = true
				} else if !queued[ev.ID] {
					backlog = append(backlog, ev.ID)
					queued[ev.ID] = true
				}
			}

		case dispatch <- next:
			backlog = backlog[1:]
			delete(queued, next)
			inflight[next] = true

		case id := <-r.done:
			delete(inflight, id)
			if dirty[id] {
				delete(dirty, id)
				if !queued[id] {
					backlog = append(backlog, id)
					queued[id] = true
				}
			}
		}
	}
}

func (r *Reconciler) worker(ctx context.Context) {
	for id := range r.work {
		r.reconcile(ctx, id)
		select {
		case r.done <- id:
		case <-ctx.Done():
			return
		}
	}
}

// reconcile processes one task end to end under the reconcile deadline.
func (r *Reconciler) reconcile(ctx context.Context, id proto.Identity) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Engine.ReconcileDeadline)
	defer cancel()

	var lastErr error
	delay := r.cfg.Engine.BackoffBase

	// MaxRetries bounds the re-attempts after the first pass. Conflicts and
	// staleness restarts consume attempts too, so a permanently contended
	// task cannot loop forever.
	for attempt := 0; attempt <= r.cfg.Engine.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay + time.Duration(rand.Int63n(int64(delay)/2+1)) //nolint:gosec // jitter, not crypto
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					r.logger.Warn("task %s: reconcile deadline during backoff", id)
					r.markFailed(ctx, id, lastErr)
				}
				// Shutdown: leave the task untouched for the next run.
				return
			}
			delay *= 2
			if delay > r.cfg.Engine.BackoffCap {
				delay = r.cfg.Engine.BackoffCap
			}
		}

		done, err := r.attempt(ctx, id)
		if done {
			return
		}
		if err != nil {
			lastErr = err
			r.logger.Warn("task %s: attempt %d failed: %v", id, attempt+1, err)
		}
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		// Shutdown, not an analysis failure.
		return
	}
	r.markFailed(ctx, id, lastErr)
}

// attempt runs one full pass: snapshot, skip checks, analyze, staleness
// check, apply. It returns done=true when the task needs no further work
// and an error when the pass should be retried.
func (r *Reconciler) attempt(ctx context.Context, id proto.Identity) (bool, error) {
	task, err := r.client.Get(ctx, id)
	if errors.Is(err, cluster.ErrGone) {
		r.outcome("gone")
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if skip, reason := r.shouldSkip(task); skip {
		r.outcome("skipped")
		r.logger.Debug("task %s: skipped (%s)", id, reason)
		return true, nil
	}

	// Claim the task by moving it to Analyzing before the slow analysis
	// phase. The claimed write advances the version token every later step
	// is conditioned on.
	claimOutcome, claimed, err := r.patcher.BeginAnalysis(ctx, task, task.Version)
	if err != nil {
		return false, err
	}
	switch claimOutcome {
	case patcher.OutcomeConflict:
		r.outcome("conflict_retry")
		return false, fmt.Errorf("task %s: claim conflict", id)
	case patcher.OutcomeGone:
		r.outcome("gone")
		return true, nil
	}
	task = claimed
	observed := task.Version

	analysis, err := r.engine.Decide(ctx, task)
	if err != nil {
		return false, err
	}

	// The analysis ran against a snapshot; if the task moved underneath it,
	// the verdict may rest on stale evidence. Start over from a fresh read.
	current, err := r.client.Get(ctx, id)
	if errors.Is(err, cluster.ErrGone) {
		r.outcome("gone")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if current.Version != observed {
		r.outcome("stale")
		return false, fmt.Errorf("task %s changed during analysis (version %s -> %s)", id, observed, current.Version)
	}

	outcome, stored, err := r.patcher.Apply(ctx, task, observed, analysis)
	if err != nil {
		return false, err
	}
	switch outcome {
	case patcher.OutcomeConflict:
		r.outcome("conflict_retry")
		return false, fmt.Errorf("task %s: write conflict", id)
	case patcher.OutcomeGone:
		r.outcome("gone")
		return true, nil
	}

	if analysis.Verdict == proto.VerdictDefer {
		r.outcome("deferred")
	} else {
		r.outcome("decided")
	}

	if stored.Status.State.Terminal() {
		if _, err := r.recorder.RecordIfApplicable(stored); err != nil {
			r.logger.Warn("task %s: feedback recording failed: %v", id, err)
		}
	}
	return true, nil
}

// shouldSkip applies the cheap checks that keep the engine out of tasks it
// has no business touching. Terminal tasks still get a feedback pass: the
// human verdict that decided them may have arrived after ours.
func (r *Reconciler) shouldSkip(task *cluster.ApprovalTask) (bool, string) {
	if task.Status.State.Terminal() {
		if _, err := r.recorder.RecordIfApplicable(task); err != nil {
			r.logger.Warn("task %s: feedback recording failed: %v", task.ID, err)
		}
		return true, "terminal state " + string(task.Status.State)
	}
	if !task.HasApprover(r.cfg.Approver.Name) {
		return true, "engine not in approver list"
	}
	if task.EntryFor(r.cfg.Approver.Name) != nil {
		return true, "verdict already recorded"
	}
	if task.Reviewed() {
		return true, "already reviewed"
	}
	return false, ""
}

func (r *Reconciler) markFailed(_ context.Context, id proto.Identity, cause error) {
	r.outcome("failed")

	reason := "analysis retries exhausted"
	if cause != nil {
		reason = fmt.Sprintf("analysis retries exhausted: %v", cause)
	}

	// The reconcile context may already be exhausted; recording the failure
	// reason still has to land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One conflict retry: a concurrent write between the read and the patch
	// must not leave the task silently stuck in a non-terminal state.
	for attempt := 0; attempt < 2; attempt++ {
		task, err := r.client.Get(ctx, id)
		if err != nil {
			r.logger.Error("task %s: cannot mark failed: %v", id, err)
			return
		}
		if task.Status.State.Terminal() {
			return
		}
		outcome, err := r.patcher.MarkFailed(ctx, task, task.Version, reason)
		if err != nil {
			r.logger.Error("task %s: cannot mark failed: %v", id, err)
			return
		}
		if outcome != patcher.OutcomeConflict {
			return
		}
	}
	r.logger.Error("task %s: cannot mark failed: repeated write conflicts", id)
}

func (r *Reconciler) outcome(name string) {
	metrics.ReconcilesTotal.WithLabelValues(name).Inc()
}

func removeIdentity(ids []proto.Identity, id proto.Identity) []proto.Identity {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}
