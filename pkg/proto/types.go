// Package proto defines the shared vocabulary of the approval engine:
// verdicts, task status, approval entries, decisions, evidence and reward samples.
package proto

import (
	"fmt"
	"strings"
	"time"
)

// Verdict represents the outcome of an approval analysis.
type Verdict string

const (
	// VerdictApprove indicates the change should proceed.
	VerdictApprove Verdict = "approve"

	// VerdictReject indicates the change should not proceed.
	VerdictReject Verdict = "reject"

	// VerdictDefer indicates there is not enough signal to safely approve or reject.
	// Defer is not terminal; the approver slot stays pending.
	VerdictDefer Verdict = "defer"
)

// ParseVerdict converts a string into a Verdict, rejecting anything outside the allowed set.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictApprove:
		return VerdictApprove, nil
	case VerdictReject:
		return VerdictReject, nil
	case VerdictDefer:
		return VerdictDefer, nil
	default:
		return "", fmt.Errorf("invalid verdict %q", s)
	}
}

// TaskStatus represents the lifecycle phase of an approval task.
type TaskStatus string

const (
	// StatusPending indicates the task is waiting for analysis.
	StatusPending TaskStatus = "Pending"

	// StatusAnalyzing indicates a reconcile is gathering evidence for the task.
	StatusAnalyzing TaskStatus = "Analyzing"

	// StatusDecided indicates the required approval count has been met.
	StatusDecided TaskStatus = "Decided"

	// StatusFailed indicates the engine exhausted retries; terminal until the task changes.
	StatusFailed TaskStatus = "Failed"
)

// Terminal reports whether the status permits no further engine mutation.
func (s TaskStatus) Terminal() bool {
	return s == StatusDecided || s == StatusFailed
}

// ValidTransition reports whether moving from s to next is allowed.
// The only legal paths are Pending→Analyzing→Decided and Pending/Analyzing→Failed.
func (s TaskStatus) ValidTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAnalyzing || next == StatusFailed
	case StatusAnalyzing:
		return next == StatusDecided || next == StatusFailed || next == StatusPending
	case StatusDecided, StatusFailed:
		return false
	default:
		return false
	}
}

// Identity uniquely names an approval task resource.
type Identity struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// String renders the identity as "namespace/name".
func (id Identity) String() string {
	return id.Namespace + "/" + id.Name
}

// ApprovalEntry is one recorded approval on a task's status: who answered,
// what they answered, why, and when. Entries are the durable record of decisions.
type ApprovalEntry struct {
	Approver  string    `json:"approver"`
	Verdict   Verdict   `json:"verdict"`
	Rationale string    `json:"rationale"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks that the entry carries a complete, well-formed record.
func (e *ApprovalEntry) Validate() error {
	if e.Approver == "" {
		return fmt.Errorf("approval entry missing approver identity")
	}
	if _, err := ParseVerdict(string(e.Verdict)); err != nil {
		return fmt.Errorf("approval entry: %w", err)
	}
	if strings.TrimSpace(e.Rationale) == "" {
		return fmt.Errorf("approval entry missing rationale")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("approval entry missing timestamp")
	}
	return nil
}
