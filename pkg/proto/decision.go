package proto

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capability names an evidence-gathering ability advertised by a provider.
// Providers are looked up by capability, never by name.
type Capability string

const (
	// CapGitLatestCommit fetches the latest commit and its diff for the pipeline's repository.
	CapGitLatestCommit Capability = "git.latest-commit"

	// CapClusterLoad reports how many approval tasks and pipeline runs are active in the cluster.
	CapClusterLoad Capability = "cluster.load"

	// CapMetricsInstant evaluates a PromQL instant query.
	CapMetricsInstant Capability = "metrics.instant"
)

// EvidenceRequest is one item of an evidence-gathering plan. Immutable once issued.
type EvidenceRequest struct {
	ID         string            `json:"id"`
	Capability Capability        `json:"capability"`
	Params     map[string]string `json:"params,omitempty"`
	Required   bool              `json:"required"`
	Timeout    time.Duration     `json:"timeout"`
}

// NewEvidenceRequest creates a plan item with a fresh ID.
func NewEvidenceRequest(cap Capability, params map[string]string, required bool, timeout time.Duration) EvidenceRequest {
	return EvidenceRequest{
		ID:         uuid.New().String(),
		Capability: cap,
		Params:     params,
		Required:   required,
		Timeout:    timeout,
	}
}

// EvidenceStatus tags the outcome of one evidence dispatch.
type EvidenceStatus string

const (
	// EvidenceOK indicates the provider returned a payload.
	EvidenceOK EvidenceStatus = "ok"

	// EvidenceFailed indicates the provider returned an error.
	EvidenceFailed EvidenceStatus = "failed"

	// EvidenceTimeout indicates the dispatch deadline elapsed before the provider answered.
	EvidenceTimeout EvidenceStatus = "timeout"
)

// FailureKind classifies a provider failure. The provider itself decides the kind.
type FailureKind string

const (
	// FailureTransient marks failures worth retrying (network, timeout).
	FailureTransient FailureKind = "transient"

	// FailurePermanent marks failures that will not improve on retry (bad config, auth).
	FailurePermanent FailureKind = "permanent"
)

// EvidenceResult is the outcome of exactly one EvidenceRequest. Results are
// always attributed to their originating request and never silently dropped.
type EvidenceResult struct {
	RequestID  string         `json:"request_id"`
	Capability Capability     `json:"capability"`
	Status     EvidenceStatus `json:"status"`
	Payload    string         `json:"payload,omitempty"`
	Failure    FailureKind    `json:"failure,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// OK reports whether the dispatch produced a usable payload.
func (r *EvidenceResult) OK() bool {
	return r.Status == EvidenceOK
}

// Decision is the engine's verdict for one reconcile attempt, with the
// supporting rationale and evidence trail. Immutable after creation.
type Decision struct {
	ID         string           `json:"id"`
	Verdict    Verdict          `json:"verdict"`
	Rationale  string           `json:"rationale"`
	Evidence   []EvidenceResult `json:"evidence,omitempty"`
	Confidence float64          `json:"confidence"`
	DecidedAt  time.Time        `json:"decided_at"`
}

// NewDecision creates a Decision stamped with a fresh ID and the current time.
func NewDecision(verdict Verdict, rationale string, evidence []EvidenceResult, confidence float64) Decision {
	return Decision{
		ID:         uuid.New().String(),
		Verdict:    verdict,
		Rationale:  rationale,
		Evidence:   evidence,
		Confidence: confidence,
		DecidedAt:  time.Now().UTC(),
	}
}

// Validate enforces the decision protocol: allowed verdict, non-empty
// rationale, confidence inside [0,1].
func (d *Decision) Validate() error {
	if _, err := ParseVerdict(string(d.Verdict)); err != nil {
		return err
	}
	if strings.TrimSpace(d.Rationale) == "" {
		return fmt.Errorf("decision rationale must be non-empty")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("decision confidence %.3f outside [0,1]", d.Confidence)
	}
	if d.DecidedAt.IsZero() {
		return fmt.Errorf("decision missing timestamp")
	}
	return nil
}

// ToApprovalEntry serializes the decision into the durable approval record
// written to the resource status.
func (d *Decision) ToApprovalEntry(approver string) ApprovalEntry {
	return ApprovalEntry{
		Approver:  approver,
		Verdict:   d.Verdict,
		Rationale: d.Rationale,
		Timestamp: d.DecidedAt,
	}
}
