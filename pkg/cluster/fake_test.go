package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approver/pkg/proto"
)

func newTask(name string) *ApprovalTask {
	return &ApprovalTask{
		ID: proto.Identity{Namespace: "ci", Name: name},
		Spec: Spec{
			Description: "deploy gate",
			Approvers:   []string{"ai-approver", "alice"},
			Required:    2,
		},
	}
}

func TestFakeCreateAndGet(t *testing.T) {
	f := NewFake()
	created := f.Create(newTask("gate-1"))

	assert.NotEmpty(t, created.Version)
	assert.Equal(t, proto.StatusPending, created.Status.State)

	got, err := f.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Version, got.Version)
}

func TestFakeGetGone(t *testing.T) {
	f := NewFake()
	_, err := f.Get(context.Background(), proto.Identity{Namespace: "ci", Name: "missing"})
	assert.ErrorIs(t, err, ErrGone)
}

func TestFakeUpdateAdvancesVersion(t *testing.T) {
	f := NewFake()
	created := f.Create(newTask("gate-2"))

	created.Status.State = proto.StatusAnalyzing
	updated, err := f.Update(context.Background(), created, created.Version)
	require.NoError(t, err)
	assert.NotEqual(t, created.Version, updated.Version)
	assert.Equal(t, proto.StatusAnalyzing, updated.Status.State)
}

// Applying a second write against an already-consumed version token must
// conflict rather than append a duplicate entry.
func TestFakeUpdateConflictOnStaleToken(t *testing.T) {
	f := NewFake()
	created := f.Create(newTask("gate-3"))

	_, err := f.Update(context.Background(), created, created.Version)
	require.NoError(t, err)

	_, err = f.Update(context.Background(), created, created.Version)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFakeUpdateGone(t *testing.T) {
	f := NewFake()
	created := f.Create(newTask("gate-4"))
	f.Delete(created.ID)

	_, err := f.Update(context.Background(), created, created.Version)
	assert.ErrorIs(t, err, ErrGone)
}

func TestFakeWatchDeliversEvents(t *testing.T) {
	f := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.Watch(ctx)
	require.NoError(t, err)

	created := f.Create(newTask("gate-5"))
	created.Spec.Description = "updated"
	updated, err := f.Update(context.Background(), created, created.Version)
	require.NoError(t, err)
	f.Delete(created.ID)

	want := []EventType{EventCreated, EventUpdated, EventDeleted}
	for _, wantType := range want {
		select {
		case ev := <-events:
			assert.Equal(t, wantType, ev.Type)
			assert.Equal(t, created.ID, ev.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", wantType)
		}
	}
	assert.NotEqual(t, created.Version, updated.Version)
}

func TestTaskHelpers(t *testing.T) {
	task := newTask("gate-6")
	assert.True(t, task.HasApprover("alice"))
	assert.False(t, task.HasApprover("bob"))
	assert.False(t, task.Reviewed())

	now := time.Now()
	task.MarkReviewed(now)
	assert.True(t, task.Reviewed())

	task.Status.Approvals = append(task.Status.Approvals,
		proto.ApprovalEntry{Approver: "ai-approver", Verdict: proto.VerdictApprove, Rationale: "ok", Timestamp: now},
		proto.ApprovalEntry{Approver: "alice", Verdict: proto.VerdictReject, Rationale: "no", Timestamp: now},
	)
	assert.Equal(t, 1, task.ApproveCount())
	require.NotNil(t, task.EntryFor("alice"))
	assert.Equal(t, proto.VerdictReject, task.EntryFor("alice").Verdict)
	assert.Nil(t, task.EntryFor("bob"))

	cp := task.DeepCopy()
	cp.Status.Approvals[0].Verdict = proto.VerdictDefer
	assert.Equal(t, proto.VerdictApprove, task.Status.Approvals[0].Verdict)
}
