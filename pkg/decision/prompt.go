package decision

import (
	"fmt"
	"strings"

	"approver/pkg/cluster"
	"approver/pkg/config"
	"approver/pkg/model"
	"approver/pkg/proto"
)

// PromptBuilder assembles the structured prompt for one decision: the task
// framing, any rule instructions the task triggered, the evidence summary
// (budgeted), and the output contract.
type PromptBuilder struct {
	cfg     *config.Config
	counter *TokenCounter
}

// NewPromptBuilder creates a builder over the prompt configuration.
func NewPromptBuilder(cfg *config.Config) *PromptBuilder {
	return &PromptBuilder{
		cfg:     cfg,
		counter: NewTokenCounter(),
	}
}

// Build produces the model request body for a task and its gathered evidence.
func (b *PromptBuilder) Build(task *cluster.ApprovalTask, results []proto.EvidenceResult) model.Request {
	var sb strings.Builder

	pc := task.Spec.Pipeline
	sb.WriteString(fmt.Sprintf(b.cfg.Prompt.Base, pc.PipelineRun, pc.Pipeline, task.Spec.Description))
	sb.WriteString("\n")

	if rules := b.matchedRules(task); len(rules) > 0 {
		sb.WriteString("\nAdditional instructions for this task:\n")
		for _, r := range rules {
			sb.WriteString("- " + r.Instruction + "\n")
		}
	}

	if summary := b.evidenceSummary(results); summary != "" {
		sb.WriteString("\nGathered evidence:\n")
		sb.WriteString(summary)
	}

	return model.Request{
		System:      b.systemPrompt(),
		User:        sb.String(),
		MaxTokens:   b.cfg.Model.MaxTokens,
		Temperature: b.cfg.Model.Temperature,
	}
}

func (b *PromptBuilder) systemPrompt() string {
	var sb strings.Builder
	if len(b.cfg.Prompt.Considerations) > 0 {
		sb.WriteString("Weigh the following when deciding:\n")
		for _, c := range b.cfg.Prompt.Considerations {
			sb.WriteString("- " + c + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(b.cfg.Prompt.OutputContract)
	return sb.String()
}

// matchedRules returns prompt rules whose substring matches the task.
func (b *PromptBuilder) matchedRules(task *cluster.ApprovalTask) []config.PromptRule {
	var matched []config.PromptRule
	for _, r := range b.cfg.Prompt.Rules {
		if ruleFieldValue(task, r.Field) == "" {
			continue
		}
		if strings.Contains(
			strings.ToLower(ruleFieldValue(task, r.Field)),
			strings.ToLower(r.Contains),
		) {
			matched = append(matched, r)
		}
	}
	return matched
}

func ruleFieldValue(task *cluster.ApprovalTask, field string) string {
	switch field {
	case "description":
		return task.Spec.Description
	case "pipeline":
		return task.Spec.Pipeline.Pipeline
	default:
		return ""
	}
}

// evidenceSummary renders results into prompt text, truncated to the
// configured token budget. Failed evidence is named so the model knows what
// it is not seeing.
func (b *PromptBuilder) evidenceSummary(results []proto.EvidenceResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for i := range results {
		r := &results[i]
		switch r.Status {
		case proto.EvidenceOK:
			sb.WriteString(fmt.Sprintf("### %s\n%s\n\n", r.Capability, r.Payload))
		case proto.EvidenceTimeout:
			sb.WriteString(fmt.Sprintf("### %s\n(unavailable: timed out)\n\n", r.Capability))
		default:
			sb.WriteString(fmt.Sprintf("### %s\n(unavailable: %s)\n\n", r.Capability, r.Detail))
		}
	}
	return b.counter.Truncate(sb.String(), b.cfg.Prompt.MaxEvidenceTokens)
}

// EstimateTokens approximates the total token cost of a request, input plus
// the completion ceiling, for rate-limit reservations.
func (b *PromptBuilder) EstimateTokens(req model.Request) int {
	return b.counter.Count(req.System) + b.counter.Count(req.User) + req.MaxTokens
}
