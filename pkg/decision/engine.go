// Package decision turns an approval-task snapshot into a verdict: it plans
// evidence gathering, applies deterministic deny rules, runs model inference
// and enforces the output contract.
package decision

import (
	"context"
	"fmt"
	"strings"

	"approver/pkg/cluster"
	"approver/pkg/config"
	"approver/pkg/evidence"
	"approver/pkg/limiter"
	"approver/pkg/logx"
	"approver/pkg/metrics"
	"approver/pkg/model"
	"approver/pkg/proto"
)

// Engine produces decisions. It is stateless across tasks: everything it
// needs arrives in the task snapshot, so concurrent Decide calls are safe.
type Engine struct {
	cfg        *config.Config
	registry   *evidence.Registry
	dispatcher *evidence.Dispatcher
	client     model.Client
	limits     *limiter.Limiter
	prompts    *PromptBuilder
	logger     *logx.Logger
}

// NewEngine wires a decision engine.
func NewEngine(cfg *config.Config, reg *evidence.Registry, client model.Client, limits *limiter.Limiter) *Engine {
	return &Engine{
		cfg:        cfg,
		registry:   reg,
		dispatcher: evidence.NewDispatcher(reg),
		client:     client,
		limits:     limits,
		prompts:    NewPromptBuilder(cfg),
		logger:     logx.NewLogger("decision"),
	}
}

// Decide analyzes one task snapshot and returns the verdict. The returned
// decision always validates; analysis failures (model unreachable, contract
// violations) come back as errors for the reconciler's retry policy, never
// as a coerced verdict.
func (e *Engine) Decide(ctx context.Context, task *cluster.ApprovalTask) (proto.Decision, error) {
	// Deny rules on task fields fire before any evidence is gathered.
	if rule := e.firingDenyRule(task, ""); rule != nil {
		return e.record(proto.NewDecision(
			proto.VerdictReject,
			fmt.Sprintf("denied by rule: %s", rule.Reason),
			nil,
			1.0,
		)), nil
	}

	plan := BuildPlan(e.cfg, e.registry, task, e.cfg.Engine.EvidenceTimeout)
	results := e.dispatcher.DispatchAll(ctx, plan.Requests)

	// Missing required evidence means we cannot responsibly approve or
	// reject; the task stays with its human approvers.
	if detail, ok := missingRequired(plan, results); ok {
		e.logger.Warn("task %s: required evidence unavailable: %s", task.ID, detail)
		return e.record(proto.NewDecision(
			proto.VerdictDefer,
			fmt.Sprintf("required evidence unavailable: %s", detail),
			results,
			0.0,
		)), nil
	}

	// Deny rules on the diff need the gathered payload.
	if rule := e.firingDenyRule(task, diffPayload(results)); rule != nil {
		return e.record(proto.NewDecision(
			proto.VerdictReject,
			fmt.Sprintf("denied by rule: %s", rule.Reason),
			results,
			1.0,
		)), nil
	}

	parsed, err := e.infer(ctx, task, results)
	if err != nil {
		return proto.Decision{}, err
	}

	verdict, rationale := e.applyMode(parsed)
	return e.record(proto.NewDecision(verdict, rationale, results, parsed.Confidence)), nil
}

// infer runs one model round trip under the rate limits and parses the
// response against the output contract.
func (e *Engine) infer(ctx context.Context, task *cluster.ApprovalTask, results []proto.EvidenceResult) (ParsedOutput, error) {
	req := e.prompts.Build(task, results)

	if err := e.limits.Reserve(e.prompts.EstimateTokens(req)); err != nil {
		return ParsedOutput{}, fmt.Errorf("model budget for task %s: %w", task.ID, err)
	}
	if err := e.limits.Acquire(ctx); err != nil {
		return ParsedOutput{}, err
	}
	defer e.limits.Release()

	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return ParsedOutput{}, fmt.Errorf("model inference for task %s: %w", task.ID, err)
	}

	parsed, err := ParseOutput(resp.Content)
	if err != nil {
		e.logger.Warn("task %s: %v", task.ID, err)
		return ParsedOutput{}, err
	}
	return parsed, nil
}

// applyMode enforces the confidence threshold in co-approver mode: verdicts
// below the threshold downgrade to defer rather than committing the engine.
func (e *Engine) applyMode(parsed ParsedOutput) (proto.Verdict, string) {
	if e.cfg.Approver.Mode == config.ModeCoApprover &&
		parsed.Verdict != proto.VerdictDefer &&
		parsed.Confidence < e.cfg.Engine.ConfidenceThreshold {
		rationale := fmt.Sprintf(
			"confidence %.2f below threshold %.2f, deferring to human approvers. Model reasoning: %s",
			parsed.Confidence, e.cfg.Engine.ConfidenceThreshold, parsed.Reasoning)
		return proto.VerdictDefer, rationale
	}
	return parsed.Verdict, parsed.Reasoning
}

func (e *Engine) record(d proto.Decision) proto.Decision {
	metrics.DecisionsTotal.WithLabelValues(string(d.Verdict)).Inc()
	e.logger.Info("decision %s: verdict=%s confidence=%.2f", d.ID, d.Verdict, d.Confidence)
	return d
}

// firingDenyRule returns the first deny rule matching the task (and diff,
// when non-empty). Deny rules are deterministic and bypass the model.
func (e *Engine) firingDenyRule(task *cluster.ApprovalTask, diff string) *config.DenyRule {
	for i := range e.cfg.Deny {
		rule := &e.cfg.Deny[i]

		var value string
		switch rule.Field {
		case "diff":
			value = diff
		default:
			value = ruleFieldValue(task, rule.Field)
		}
		if value == "" {
			continue
		}
		if strings.Contains(strings.ToLower(value), strings.ToLower(rule.Contains)) {
			return rule
		}
	}
	return nil
}

// missingRequired reports the first required request without a usable result.
func missingRequired(plan Plan, results []proto.EvidenceResult) (string, bool) {
	for i := range plan.Requests {
		if !plan.Requests[i].Required {
			continue
		}
		if i >= len(results) || !results[i].OK() {
			detail := "no result"
			if i < len(results) {
				detail = fmt.Sprintf("%s (%s)", results[i].Status, results[i].Detail)
			}
			return fmt.Sprintf("%s: %s", plan.Requests[i].Capability, detail), true
		}
	}
	return "", false
}

func diffPayload(results []proto.EvidenceResult) string {
	for i := range results {
		if results[i].Capability == proto.CapGitLatestCommit && results[i].OK() {
			return results[i].Payload
		}
	}
	return ""
}
