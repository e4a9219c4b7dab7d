package patcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approver/pkg/cluster"
	"approver/pkg/proto"
)

const approverName = "ai-approver"

func seedTask(t *testing.T, fake *cluster.Fake, required int) *cluster.ApprovalTask {
	t.Helper()
	return fake.Create(&cluster.ApprovalTask{
		ID: proto.Identity{Namespace: "ci", Name: "gate"},
		Spec: cluster.Spec{
			Description: "ship it",
			Approvers:   []string{approverName, "alice", "bob"},
			Required:    required,
		},
		Status: cluster.Status{State: proto.StatusPending},
	})
}

// claim moves the task into Analyzing the way a reconcile pass would before
// it applies a decision.
func claim(t *testing.T, p *Patcher, task *cluster.ApprovalTask) *cluster.ApprovalTask {
	t.Helper()
	outcome, claimed, err := p.BeginAnalysis(context.Background(), task, task.Version)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	return claimed
}

func approveDecision() proto.Decision {
	return proto.NewDecision(proto.VerdictApprove, "low-risk change", nil, 0.9)
}

func TestBeginAnalysisAdvancesStateAndVersion(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)

	outcome, claimed, err := p.BeginAnalysis(context.Background(), task, task.Version)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, proto.StatusAnalyzing, claimed.Status.State)
	assert.NotEqual(t, task.Version, claimed.Version)

	stored, err := fake.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusAnalyzing, stored.Status.State)
}

func TestBeginAnalysisIsIdempotentOnAnalyzing(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)

	claimed := claim(t, p, task)

	// A crashed pass left the task in Analyzing: the re-claim must not write.
	outcome, again, err := p.BeginAnalysis(context.Background(), claimed, claimed.Version)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, claimed.Version, again.Version)
}

func TestBeginAnalysisConflictOnStaleVersion(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)

	other := task.DeepCopy()
	other.Spec.Description = "amended"
	_, err := fake.Update(context.Background(), other, task.Version)
	require.NoError(t, err)

	outcome, claimed, err := p.BeginAnalysis(context.Background(), task, task.Version)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Nil(t, claimed)
}

func TestApplyAppendsEntryAndKeepsPendingBelowQuorum(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)
	claimed := claim(t, p, task)

	outcome, stored, err := p.Apply(context.Background(), claimed, claimed.Version, approveDecision())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	assert.Equal(t, proto.StatusPending, stored.Status.State, "one of two approvals keeps the task pending")
	entry := stored.EntryFor(approverName)
	require.NotNil(t, entry)
	assert.Equal(t, proto.VerdictApprove, entry.Verdict)
	assert.True(t, stored.Reviewed())
	assert.NotEqual(t, claimed.Version, stored.Version)
}

func TestApplyDecidesAtQuorum(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	task.Status.Approvals = []proto.ApprovalEntry{
		{Approver: "alice", Verdict: proto.VerdictApprove, Rationale: "lgtm", Timestamp: time.Now()},
	}
	updated, err := fake.Update(context.Background(), task, task.Version)
	require.NoError(t, err)

	p := New(fake, approverName)
	claimed := claim(t, p, updated)
	outcome, stored, err := p.Apply(context.Background(), claimed, claimed.Version, approveDecision())
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, proto.StatusDecided, stored.Status.State)
	assert.Equal(t, 2, stored.ApproveCount())
}

func TestApplyRejectDecidesImmediately(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 3)
	p := New(fake, approverName)
	claimed := claim(t, p, task)

	d := proto.NewDecision(proto.VerdictReject, "diff disables TLS verification", nil, 0.95)
	outcome, stored, err := p.Apply(context.Background(), claimed, claimed.Version, d)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, proto.StatusDecided, stored.Status.State, "a single reject decides the task")
}

func TestApplyRefusesToDecideUnclaimedTask(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 1)
	p := New(fake, approverName)

	// Skipping the Analyzing claim would jump the task straight from
	// Pending to Decided, which the state machine forbids.
	_, _, err := p.Apply(context.Background(), task, task.Version, approveDecision())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")

	current, err := fake.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusPending, current.Status.State)
	assert.Nil(t, current.EntryFor(approverName))
}

func TestApplyDeferLeavesSlotPending(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)
	claimed := claim(t, p, task)

	d := proto.NewDecision(proto.VerdictDefer, "not enough evidence to judge", nil, 0.2)
	outcome, stored, err := p.Apply(context.Background(), claimed, claimed.Version, d)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	assert.Nil(t, stored.EntryFor(approverName), "defer must not consume the approver slot")
	assert.Equal(t, proto.StatusPending, stored.Status.State)
	assert.Equal(t, "not enough evidence to judge", stored.Annotations[cluster.AnnotationMessage])
	assert.True(t, stored.Reviewed())
}

func TestApplyConflictOnStaleVersion(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)
	claimed := claim(t, p, task)

	// Someone else writes first.
	other := claimed.DeepCopy()
	other.Spec.Description = "amended"
	_, err := fake.Update(context.Background(), other, claimed.Version)
	require.NoError(t, err)

	outcome, stored, err := p.Apply(context.Background(), claimed, claimed.Version, approveDecision())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Nil(t, stored)

	// The stale decision never landed.
	current, err := fake.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Nil(t, current.EntryFor(approverName))
}

func TestApplyGoneAfterDeletion(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)
	claimed := claim(t, p, task)
	fake.Delete(task.ID)

	outcome, _, err := p.Apply(context.Background(), claimed, claimed.Version, approveDecision())
	require.NoError(t, err)
	assert.Equal(t, OutcomeGone, outcome)
}

func TestApplyReplacesOwnEntryInsteadOfDuplicating(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 3)
	p := New(fake, approverName)

	claimed := claim(t, p, task)
	_, stored, err := p.Apply(context.Background(), claimed, claimed.Version, approveDecision())
	require.NoError(t, err)

	claimed2 := claim(t, p, stored)
	d2 := proto.NewDecision(proto.VerdictReject, "new evidence surfaced", nil, 0.9)
	_, stored2, err := p.Apply(context.Background(), claimed2, claimed2.Version, d2)
	require.NoError(t, err)

	require.Len(t, stored2.Status.Approvals, 1, "re-applying must replace, not duplicate")
	assert.Equal(t, proto.VerdictReject, stored2.Status.Approvals[0].Verdict)
}

func TestApplyRejectsInvalidDecision(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)
	claimed := claim(t, p, task)

	bad := proto.Decision{Verdict: proto.VerdictApprove} // no rationale, no timestamp
	_, _, err := p.Apply(context.Background(), claimed, claimed.Version, bad)
	require.Error(t, err)
}

func TestMarkFailedRecordsReason(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 2)
	p := New(fake, approverName)
	claimed := claim(t, p, task)

	outcome, err := p.MarkFailed(context.Background(), claimed, claimed.Version, "analysis retries exhausted")
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	current, err := fake.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusFailed, current.Status.State)
	assert.Equal(t, "analysis retries exhausted", current.Status.Reason)
}

func TestMarkFailedRefusesTerminalTask(t *testing.T) {
	fake := cluster.NewFake()
	task := seedTask(t, fake, 1)
	p := New(fake, approverName)

	claimed := claim(t, p, task)
	_, stored, err := p.Apply(context.Background(), claimed, claimed.Version, approveDecision())
	require.NoError(t, err)
	require.Equal(t, proto.StatusDecided, stored.Status.State)

	_, err = p.MarkFailed(context.Background(), stored, stored.Version, "too late")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")
}
