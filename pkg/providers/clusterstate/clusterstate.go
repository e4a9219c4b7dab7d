// Package clusterstate provides the cluster.load evidence capability: a
// summary of how many approval tasks are active, so the model can weigh
// current cluster pressure.
package clusterstate

import (
	"context"
	"fmt"

	"approver/pkg/cluster"
	"approver/pkg/evidence"
	"approver/pkg/proto"
)

// Provider implements evidence.Provider over the resource API.
type Provider struct {
	client cluster.Client
}

// New creates a provider reading through the given client.
func New(client cluster.Client) *Provider {
	return &Provider{client: client}
}

// Name implements evidence.Provider.
func (p *Provider) Name() string { return "clusterstate" }

// Capabilities implements evidence.Provider.
func (p *Provider) Capabilities() []proto.Capability {
	return []proto.Capability{proto.CapClusterLoad}
}

// Invoke implements evidence.Provider. Params: namespace (optional) narrows
// the per-namespace count in the summary.
func (p *Provider) Invoke(ctx context.Context, _ proto.Capability, params map[string]string) (string, error) {
	tasks, err := p.client.List(ctx)
	if err != nil {
		return "", evidence.Transient(fmt.Errorf("failed to list tasks: %w", err))
	}

	var pending, analyzing, decided, failed, inNamespace int
	namespace := params["namespace"]
	for _, task := range tasks {
		switch task.Status.State {
		case proto.StatusPending:
			pending++
		case proto.StatusAnalyzing:
			analyzing++
		case proto.StatusDecided:
			decided++
		case proto.StatusFailed:
			failed++
		}
		if namespace != "" && task.ID.Namespace == namespace {
			inNamespace++
		}
	}

	summary := fmt.Sprintf("Approval tasks in cluster: %d total (%d pending, %d analyzing, %d decided, %d failed)",
		len(tasks), pending, analyzing, decided, failed)
	if namespace != "" {
		summary += fmt.Sprintf("; %d in namespace %s", inNamespace, namespace)
	}
	return summary, nil
}
