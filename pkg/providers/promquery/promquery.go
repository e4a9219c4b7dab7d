// Package promquery provides the metrics.instant evidence capability: it
// evaluates a PromQL instant query and renders the samples for the prompt.
package promquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"approver/pkg/evidence"
	"approver/pkg/logx"
	"approver/pkg/proto"
)

// Provider implements evidence.Provider over a Prometheus server.
type Provider struct {
	queryAPI v1.API
	logger   *logx.Logger
}

// New creates a provider against the given Prometheus base URL.
func New(prometheusURL string) (*Provider, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &Provider{
		queryAPI: v1.NewAPI(client),
		logger:   logx.NewLogger("promquery"),
	}, nil
}

// Name implements evidence.Provider.
func (p *Provider) Name() string { return "promquery" }

// Capabilities implements evidence.Provider.
func (p *Provider) Capabilities() []proto.Capability {
	return []proto.Capability{proto.CapMetricsInstant}
}

// Invoke implements evidence.Provider. Params: query (required PromQL).
func (p *Provider) Invoke(ctx context.Context, _ proto.Capability, params map[string]string) (string, error) {
	query := params["query"]
	if query == "" {
		return "", evidence.Permanent(fmt.Errorf("missing query parameter"))
	}

	result, warnings, err := p.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		// PromQL syntax errors come back as bad_data; everything else on
		// this path is connectivity.
		if strings.Contains(err.Error(), "bad_data") || strings.Contains(err.Error(), "parse error") {
			return "", evidence.Permanent(fmt.Errorf("query %q rejected: %w", query, err))
		}
		return "", evidence.Transient(fmt.Errorf("query %q failed: %w", query, err))
	}
	for _, w := range warnings {
		p.logger.Warn("query %q warning: %s", query, w)
	}

	return renderResult(query, result), nil
}

func renderResult(query string, result model.Value) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PromQL: %s\n", query)

	switch value := result.(type) {
	case model.Vector:
		if len(value) == 0 {
			sb.WriteString("(no samples)")
			break
		}
		for _, sample := range value {
			fmt.Fprintf(&sb, "%s = %v\n", sample.Metric.String(), sample.Value)
		}
	case *model.Scalar:
		fmt.Fprintf(&sb, "scalar = %v\n", value.Value)
	default:
		fmt.Fprintf(&sb, "%s\n", result.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}
