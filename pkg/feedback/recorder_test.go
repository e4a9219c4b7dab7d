package feedback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approver/pkg/cluster"
	"approver/pkg/proto"
)

const aiName = "ai-approver"

func newRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()

	sink, err := NewSink(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	store, err := OpenStore(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewRecorder(aiName, sink, store), dir
}

func decidedTask(entries ...proto.ApprovalEntry) *cluster.ApprovalTask {
	return &cluster.ApprovalTask{
		ID:     proto.Identity{Namespace: "ci", Name: "gate"},
		Spec:   cluster.Spec{Approvers: []string{aiName, "alice"}, Required: 2},
		Status: cluster.Status{State: proto.StatusDecided, Approvals: entries},
	}
}

func entry(approver string, v proto.Verdict) proto.ApprovalEntry {
	return proto.ApprovalEntry{Approver: approver, Verdict: v, Rationale: "r", Timestamp: time.Now()}
}

func TestRecordEmitsSampleOnAgreement(t *testing.T) {
	rec, dir := newRecorder(t)
	task := decidedTask(entry(aiName, proto.VerdictApprove), entry("alice", proto.VerdictApprove))

	emitted, err := rec.RecordIfApplicable(task)
	require.NoError(t, err)
	assert.True(t, emitted)

	samples, err := rec.store.Samples()
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "ci/gate", samples[0].Identity)
	assert.True(t, samples[0].Agreement)

	// The JSONL sink got the same sample.
	data, err := os.ReadFile(filepath.Join(dir, "rewards-"+time.Now().Format("2006-01-02")+".jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var fromFile proto.RewardSample
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &fromFile))
	assert.Equal(t, samples[0].Identity, fromFile.Identity)
	assert.Equal(t, proto.VerdictApprove, fromFile.AIVerdict)
}

func TestRecordDisagreement(t *testing.T) {
	rec, _ := newRecorder(t)
	task := decidedTask(entry(aiName, proto.VerdictApprove), entry("alice", proto.VerdictReject))

	emitted, err := rec.RecordIfApplicable(task)
	require.NoError(t, err)
	assert.True(t, emitted)

	samples, err := rec.store.Samples()
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Agreement)
	assert.Equal(t, proto.VerdictReject, samples[0].HumanVerdict)
}

func TestRecordIdempotentPerIdentity(t *testing.T) {
	rec, _ := newRecorder(t)
	task := decidedTask(entry(aiName, proto.VerdictApprove), entry("alice", proto.VerdictApprove))

	emitted, err := rec.RecordIfApplicable(task)
	require.NoError(t, err)
	require.True(t, emitted)

	for i := 0; i < 3; i++ {
		emitted, err = rec.RecordIfApplicable(task)
		require.NoError(t, err)
		assert.False(t, emitted, "repeat observations must not emit duplicates")
	}

	samples, err := rec.store.Samples()
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestRecordSkipsWithoutHumanVerdict(t *testing.T) {
	rec, _ := newRecorder(t)
	task := decidedTask(entry(aiName, proto.VerdictReject))

	emitted, err := rec.RecordIfApplicable(task)
	require.NoError(t, err)
	assert.False(t, emitted)
}

func TestRecordSkipsWithoutAIVerdict(t *testing.T) {
	rec, _ := newRecorder(t)
	task := decidedTask(entry("alice", proto.VerdictApprove), entry("bob", proto.VerdictApprove))

	emitted, err := rec.RecordIfApplicable(task)
	require.NoError(t, err)
	assert.False(t, emitted)
}

func TestRecordSkipsNonTerminalTask(t *testing.T) {
	rec, _ := newRecorder(t)
	task := decidedTask(entry(aiName, proto.VerdictApprove), entry("alice", proto.VerdictApprove))
	task.Status.State = proto.StatusPending

	emitted, err := rec.RecordIfApplicable(task)
	require.NoError(t, err)
	assert.False(t, emitted)
}

func TestHumanRejectOutweighsApprovals(t *testing.T) {
	rec, _ := newRecorder(t)
	task := decidedTask(
		entry(aiName, proto.VerdictApprove),
		entry("alice", proto.VerdictApprove),
		entry("bob", proto.VerdictReject),
	)

	emitted, err := rec.RecordIfApplicable(task)
	require.NoError(t, err)
	require.True(t, emitted)

	samples, err := rec.store.Samples()
	require.NoError(t, err)
	assert.Equal(t, proto.VerdictReject, samples[0].HumanVerdict)
}
