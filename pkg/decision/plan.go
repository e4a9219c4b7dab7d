package decision

import (
	"time"

	"approver/pkg/cluster"
	"approver/pkg/config"
	"approver/pkg/evidence"
	"approver/pkg/proto"
)

// Plan is the set of evidence requests derived from one task snapshot.
type Plan struct {
	Requests []proto.EvidenceRequest
}

// Required reports whether the plan contains any required request.
func (p Plan) Required() bool {
	for i := range p.Requests {
		if p.Requests[i].Required {
			return true
		}
	}
	return false
}

// BuildPlan derives the evidence plan for a task. Requests are only emitted
// for capabilities some registered provider advertises; wiring gaps degrade
// the plan instead of failing the reconcile.
//
// A task that references a git revision makes the commit evidence required:
// deciding on a code change without seeing it is not acceptable. Cluster
// load and metrics are advisory.
func BuildPlan(cfg *config.Config, reg *evidence.Registry, task *cluster.ApprovalTask, timeout time.Duration) Plan {
	var plan Plan

	pc := task.Spec.Pipeline
	if pc.GitURL != "" && reg.Has(proto.CapGitLatestCommit) {
		plan.Requests = append(plan.Requests, proto.NewEvidenceRequest(
			proto.CapGitLatestCommit,
			map[string]string{
				"url":      pc.GitURL,
				"revision": pc.Revision,
			},
			true,
			timeout,
		))
	}

	if reg.Has(proto.CapClusterLoad) {
		plan.Requests = append(plan.Requests, proto.NewEvidenceRequest(
			proto.CapClusterLoad,
			map[string]string{"namespace": task.ID.Namespace},
			false,
			timeout,
		))
	}

	if cfg.Providers.Prometheus.Enabled && reg.Has(proto.CapMetricsInstant) {
		plan.Requests = append(plan.Requests, proto.NewEvidenceRequest(
			proto.CapMetricsInstant,
			map[string]string{"query": cfg.Providers.Prometheus.Query},
			false,
			timeout,
		))
	}

	return plan
}
