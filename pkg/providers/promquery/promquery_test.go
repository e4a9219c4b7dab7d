package promquery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approver/pkg/evidence"
	"approver/pkg/proto"
)

func TestInvokeRendersVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/query", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[
			{"metric":{"__name__":"node_load1","instance":"worker-1"},"value":[1756000000,"2.5"]},
			{"metric":{"__name__":"node_load1","instance":"worker-2"},"value":[1756000000,"0.4"]}
		]}}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	require.NoError(t, err)

	payload, err := p.Invoke(context.Background(), proto.CapMetricsInstant,
		map[string]string{"query": "node_load1"})
	require.NoError(t, err)
	assert.Contains(t, payload, "PromQL: node_load1")
	assert.Contains(t, payload, "worker-1")
	assert.Contains(t, payload, "2.5")
}

func TestInvokeEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	require.NoError(t, err)

	payload, err := p.Invoke(context.Background(), proto.CapMetricsInstant,
		map[string]string{"query": "absent_metric"})
	require.NoError(t, err)
	assert.Contains(t, payload, "(no samples)")
}

func TestInvokeBadQueryIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","errorType":"bad_data","error":"parse error: unexpected end of input"}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), proto.CapMetricsInstant,
		map[string]string{"query": "sum(rate("})
	require.Error(t, err)
	assert.Equal(t, proto.FailurePermanent, evidence.ClassifyFailure(err))
}

func TestInvokeUnreachableServerIsTransient(t *testing.T) {
	p, err := New("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), proto.CapMetricsInstant,
		map[string]string{"query": "up"})
	require.Error(t, err)
	assert.Equal(t, proto.FailureTransient, evidence.ClassifyFailure(err))
}

func TestInvokeMissingQueryIsPermanent(t *testing.T) {
	p, err := New("http://127.0.0.1:9090")
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), proto.CapMetricsInstant, nil)
	require.Error(t, err)
	assert.Equal(t, proto.FailurePermanent, evidence.ClassifyFailure(err))
}
