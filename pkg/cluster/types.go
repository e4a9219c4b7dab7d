// Package cluster defines the approval-task resource shape and the contract
// to the backing resource API: typed watch events plus conditional updates
// keyed on an opaque version token. The engine never mutates a task except
// through this contract.
package cluster

import (
	"time"

	"approver/pkg/proto"
)

// Well-known label and annotation keys carried by approval tasks.
const (
	// LabelPipelineRun names the pipeline run the task gates.
	LabelPipelineRun = "tekton.dev/pipelineRun"

	// LabelPipeline names the pipeline definition.
	LabelPipeline = "tekton.dev/pipeline"

	// AnnotationReviewedAt marks a task the engine has already analyzed.
	AnnotationReviewedAt = "approver.openshift-pipelines.org/reviewed-at"

	// AnnotationMessage carries the engine's rationale when it defers
	// instead of recording a verdict.
	AnnotationMessage = "approver.openshift-pipelines.org/message"
)

// PipelineContext references the change under review.
type PipelineContext struct {
	PipelineRun string `json:"pipelineRun,omitempty"`
	Pipeline    string `json:"pipeline,omitempty"`
	GitURL      string `json:"gitUrl,omitempty"`
	Revision    string `json:"revision,omitempty"`
}

// Spec is the desired-state half of an approval task.
type Spec struct {
	Description string          `json:"description"`
	Approvers   []string        `json:"approvers"`
	Required    int             `json:"numberOfApprovalsRequired"`
	Pipeline    PipelineContext `json:"pipeline"`
}

// Status is the observed-state half. Approval entries recorded here are the
// durable record of engine and human decisions.
type Status struct {
	State     proto.TaskStatus      `json:"state"`
	Approvals []proto.ApprovalEntry `json:"approvals,omitempty"`

	// Reason carries a human-readable condition message when State is Failed.
	Reason string `json:"reason,omitempty"`
}

// ApprovalTask is a cluster-resident sign-off gate in a pipeline.
type ApprovalTask struct {
	ID          proto.Identity    `json:"id"`
	Version     string            `json:"version"` // opaque, changes on every write
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Spec        Spec              `json:"spec"`
	Status      Status            `json:"status"`
}

// DeepCopy returns an independent copy of the task.
func (t *ApprovalTask) DeepCopy() *ApprovalTask {
	cp := *t
	cp.Labels = copyMap(t.Labels)
	cp.Annotations = copyMap(t.Annotations)
	cp.Spec.Approvers = append([]string(nil), t.Spec.Approvers...)
	cp.Status.Approvals = append([]proto.ApprovalEntry(nil), t.Status.Approvals...)
	return &cp
}

// HasApprover reports whether name is in the task's approver list.
func (t *ApprovalTask) HasApprover(name string) bool {
	for _, a := range t.Spec.Approvers {
		if a == name {
			return true
		}
	}
	return false
}

// EntryFor returns the recorded approval entry for the given approver, if any.
func (t *ApprovalTask) EntryFor(approver string) *proto.ApprovalEntry {
	for i := range t.Status.Approvals {
		if t.Status.Approvals[i].Approver == approver {
			return &t.Status.Approvals[i]
		}
	}
	return nil
}

// ApproveCount returns the number of recorded approve verdicts.
func (t *ApprovalTask) ApproveCount() int {
	n := 0
	for i := range t.Status.Approvals {
		if t.Status.Approvals[i].Verdict == proto.VerdictApprove {
			n++
		}
	}
	return n
}

// Reviewed reports whether the engine has already stamped this task.
func (t *ApprovalTask) Reviewed() bool {
	_, ok := t.Annotations[AnnotationReviewedAt]
	return ok
}

// MarkReviewed stamps the reviewed-at annotation with the given time.
func (t *ApprovalTask) MarkReviewed(at time.Time) {
	if t.Annotations == nil {
		t.Annotations = make(map[string]string)
	}
	t.Annotations[AnnotationReviewedAt] = at.UTC().Format(time.RFC3339)
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
