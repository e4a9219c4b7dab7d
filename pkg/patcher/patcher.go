// Package patcher writes decisions back to approval tasks under optimistic
// concurrency. It is the only component that mutates tasks, and every write
// is conditional on the version token the decision was computed against.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"approver/pkg/cluster"
	"approver/pkg/logx"
	"approver/pkg/metrics"
	"approver/pkg/proto"
)

// Outcome reports what happened to one apply attempt.
type Outcome string

const (
	// OutcomeApplied means the write landed.
	OutcomeApplied Outcome = "applied"

	// OutcomeConflict means the task changed since the decision was
	// computed; the caller must re-read and re-decide.
	OutcomeConflict Outcome = "conflict"

	// OutcomeGone means the task was deleted; nothing to do.
	OutcomeGone Outcome = "gone"
)

// Patcher applies decisions to tasks.
type Patcher struct {
	client   cluster.Client
	approver string
	logger   *logx.Logger
}

// New creates a patcher writing entries under the given approver identity.
func New(client cluster.Client, approver string) *Patcher {
	return &Patcher{
		client:   client,
		approver: approver,
		logger:   logx.NewLogger("patcher"),
	}
}

// BeginAnalysis claims the task for one reconcile by advancing it to
// Analyzing under the version token. A task already in Analyzing (an
// earlier claim that never finished) is returned as-is; any other state is
// a scheduling bug surfaced as an error.
func (p *Patcher) BeginAnalysis(ctx context.Context, task *cluster.ApprovalTask, observedVersion string) (Outcome, *cluster.ApprovalTask, error) {
	if task.Status.State == proto.StatusAnalyzing {
		return OutcomeApplied, task.DeepCopy(), nil
	}
	if !task.Status.State.ValidTransition(proto.StatusAnalyzing) {
		return "", nil, fmt.Errorf("cannot begin analysis on %s in state %s", task.ID, task.Status.State)
	}

	mutated := task.DeepCopy()
	mutated.Status.State = proto.StatusAnalyzing

	stored, err := p.client.Update(ctx, mutated, observedVersion)
	switch {
	case errors.Is(err, cluster.ErrConflict):
		metrics.PatchConflictsTotal.Inc()
		p.logger.Info("claim conflict on %s (observed version %s)", task.ID, observedVersion)
		return OutcomeConflict, nil, nil
	case errors.Is(err, cluster.ErrGone):
		return OutcomeGone, nil, nil
	case err != nil:
		return "", nil, fmt.Errorf("claim %s for analysis: %w", task.ID, err)
	}
	return OutcomeApplied, stored, nil
}

// Apply writes the decision to the task, conditional on observedVersion.
// Approve and reject verdicts append an approval entry and advance the task
// state; defer records the rationale without consuming the engine's slot.
// The task must have been claimed via BeginAnalysis first: every state
// change is checked against the allowed transitions before it is written.
// On success the stored task (with its new version token) is returned.
func (p *Patcher) Apply(ctx context.Context, task *cluster.ApprovalTask, observedVersion string, d proto.Decision) (Outcome, *cluster.ApprovalTask, error) {
	if err := d.Validate(); err != nil {
		return "", nil, fmt.Errorf("refusing to apply invalid decision: %w", err)
	}

	mutated := task.DeepCopy()
	p.mutate(mutated, d)

	if from, to := task.Status.State, mutated.Status.State; to != from && !from.ValidTransition(to) {
		return "", nil, fmt.Errorf("illegal status transition %s -> %s on %s", from, to, task.ID)
	}

	stored, err := p.client.Update(ctx, mutated, observedVersion)
	switch {
	case errors.Is(err, cluster.ErrConflict):
		metrics.PatchConflictsTotal.Inc()
		p.logger.Info("apply conflict on %s (observed version %s)", task.ID, observedVersion)
		return OutcomeConflict, nil, nil
	case errors.Is(err, cluster.ErrGone):
		p.logger.Info("task %s gone before apply", task.ID)
		return OutcomeGone, nil, nil
	case err != nil:
		return "", nil, fmt.Errorf("apply decision %s to %s: %w", d.ID, task.ID, err)
	}

	p.logger.Info("applied decision %s to %s: verdict=%s state=%s",
		d.ID, task.ID, d.Verdict, stored.Status.State)
	return OutcomeApplied, stored, nil
}

// mutate folds the decision into the task in memory.
func (p *Patcher) mutate(task *cluster.ApprovalTask, d proto.Decision) {
	task.MarkReviewed(d.DecidedAt)

	if d.Verdict == proto.VerdictDefer {
		// The engine abstains: its approver slot stays pending and only
		// the rationale is surfaced.
		if task.Annotations == nil {
			task.Annotations = make(map[string]string)
		}
		task.Annotations[cluster.AnnotationMessage] = d.Rationale
		if task.Status.State == proto.StatusAnalyzing {
			task.Status.State = proto.StatusPending
		}
		return
	}

	entry := d.ToApprovalEntry(p.approver)
	replaced := false
	for i := range task.Status.Approvals {
		if task.Status.Approvals[i].Approver == p.approver {
			task.Status.Approvals[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		task.Status.Approvals = append(task.Status.Approvals, entry)
	}

	task.Status.State = nextState(task, d.Verdict)
}

// nextState recomputes the task state after recording a verdict. A reject
// decides the task outright; approvals decide it once the quorum is met.
// Approvals beyond the quorum never regress the state.
func nextState(task *cluster.ApprovalTask, verdict proto.Verdict) proto.TaskStatus {
	if task.Status.State == proto.StatusDecided {
		return proto.StatusDecided
	}
	if verdict == proto.VerdictReject {
		return proto.StatusDecided
	}
	if task.ApproveCount() >= task.Spec.Required {
		return proto.StatusDecided
	}
	return proto.StatusPending
}

// MarkFailed records a terminal analysis failure with its reason.
func (p *Patcher) MarkFailed(ctx context.Context, task *cluster.ApprovalTask, observedVersion, reason string) (Outcome, error) {
	if !task.Status.State.ValidTransition(proto.StatusFailed) {
		return "", fmt.Errorf("illegal status transition %s -> %s on %s", task.Status.State, proto.StatusFailed, task.ID)
	}

	mutated := task.DeepCopy()
	mutated.Status.State = proto.StatusFailed
	mutated.Status.Reason = reason
	mutated.MarkReviewed(time.Now().UTC())

	_, err := p.client.Update(ctx, mutated, observedVersion)
	switch {
	case errors.Is(err, cluster.ErrConflict):
		metrics.PatchConflictsTotal.Inc()
		return OutcomeConflict, nil
	case errors.Is(err, cluster.ErrGone):
		return OutcomeGone, nil
	case err != nil:
		return "", fmt.Errorf("mark %s failed: %w", task.ID, err)
	}

	p.logger.Warn("task %s marked failed: %s", task.ID, reason)
	return OutcomeApplied, nil
}
