package proto

import (
	"fmt"
	"time"
)

// RewardSample pairs an AI verdict with a later-observed human verdict on the
// same task. Samples are append-only and never mutated; they feed the
// agreement-rate training signal.
type RewardSample struct {
	Identity     string    `json:"request_identity"`
	AIVerdict    Verdict   `json:"ai_verdict"`
	HumanVerdict Verdict   `json:"human_verdict"`
	Agreement    bool      `json:"agreement"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewRewardSample builds a sample, deriving the agreement bit from the two verdicts.
func NewRewardSample(id Identity, ai, human Verdict) RewardSample {
	return RewardSample{
		Identity:     id.String(),
		AIVerdict:    ai,
		HumanVerdict: human,
		Agreement:    ai == human,
		Timestamp:    time.Now().UTC(),
	}
}

// Validate checks that both verdicts are in the allowed set and consistent
// with the agreement bit.
func (s *RewardSample) Validate() error {
	if s.Identity == "" {
		return fmt.Errorf("reward sample missing request identity")
	}
	if _, err := ParseVerdict(string(s.AIVerdict)); err != nil {
		return fmt.Errorf("reward sample ai verdict: %w", err)
	}
	if _, err := ParseVerdict(string(s.HumanVerdict)); err != nil {
		return fmt.Errorf("reward sample human verdict: %w", err)
	}
	if s.Agreement != (s.AIVerdict == s.HumanVerdict) {
		return fmt.Errorf("reward sample agreement bit inconsistent with verdicts")
	}
	return nil
}
