package feedback

import (
	"fmt"

	"approver/pkg/cluster"
	"approver/pkg/logx"
	"approver/pkg/metrics"
	"approver/pkg/proto"
)

// Recorder inspects finished tasks and emits a reward sample when both the
// engine and a human recorded a verdict on the same task.
type Recorder struct {
	approver string
	sink     *Sink
	store    *Store
	logger   *logx.Logger
}

// NewRecorder creates a recorder for the given engine identity.
func NewRecorder(approver string, sink *Sink, store *Store) *Recorder {
	return &Recorder{
		approver: approver,
		sink:     sink,
		store:    store,
		logger:   logx.NewLogger("feedback"),
	}
}

// RecordIfApplicable emits at most one reward sample for the task. It is
// safe to call on every observation of a terminal task: tasks without both
// an engine and a human verdict are skipped, and the history store rejects
// duplicates.
func (r *Recorder) RecordIfApplicable(task *cluster.ApprovalTask) (bool, error) {
	if !task.Status.State.Terminal() {
		return false, nil
	}

	aiEntry := task.EntryFor(r.approver)
	if aiEntry == nil {
		return false, nil
	}

	human, ok := humanVerdict(task, r.approver)
	if !ok {
		return false, nil
	}

	identity := task.ID.String()
	recorded, err := r.store.Recorded(identity)
	if err != nil {
		return false, err
	}
	if recorded {
		return false, nil
	}

	sample := proto.NewRewardSample(task.ID, aiEntry.Verdict, human)
	if err := sample.Validate(); err != nil {
		return false, fmt.Errorf("reward sample for %s: %w", identity, err)
	}

	if err := r.store.Insert(sample); err != nil {
		return false, err
	}
	if err := r.sink.Write(sample); err != nil {
		return false, err
	}

	metrics.RewardSamplesTotal.WithLabelValues(fmt.Sprintf("%t", sample.Agreement)).Inc()
	r.logger.Info("reward sample for %s: ai=%s human=%s agreement=%t",
		identity, sample.AIVerdict, sample.HumanVerdict, sample.Agreement)
	return true, nil
}

// humanVerdict aggregates the human entries on a task: any human reject
// outweighs approvals, mirroring how a single reject decides the task.
func humanVerdict(task *cluster.ApprovalTask, aiApprover string) (proto.Verdict, bool) {
	var (
		found   bool
		verdict proto.Verdict
	)
	for i := range task.Status.Approvals {
		entry := &task.Status.Approvals[i]
		if entry.Approver == aiApprover {
			continue
		}
		switch entry.Verdict {
		case proto.VerdictReject:
			return proto.VerdictReject, true
		case proto.VerdictApprove:
			found = true
			verdict = proto.VerdictApprove
		}
	}
	return verdict, found
}
