// Command approver runs the approval engine: it watches approval tasks,
// gathers evidence, asks the configured model for a verdict and patches the
// result back, recording reward samples whenever a human answers the same
// task.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"approver/pkg/cluster"
	"approver/pkg/config"
	"approver/pkg/decision"
	"approver/pkg/evidence"
	"approver/pkg/feedback"
	"approver/pkg/limiter"
	"approver/pkg/logx"
	"approver/pkg/model"
	"approver/pkg/patcher"
	"approver/pkg/proto"
	"approver/pkg/providers/clusterstate"
	"approver/pkg/providers/gitinspect"
	"approver/pkg/providers/promquery"
	"approver/pkg/reconciler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "approver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config (defaults apply when empty)")
		listenAddr = flag.String("listen", ":8080", "address for /metrics and /healthz")
		demo       = flag.Bool("demo", false, "seed the in-memory cluster with sample tasks")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		logx.SetDebug(true)
	}
	logger := logx.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Misconfiguration must stop the engine before it touches anything.
		return err
	}

	client := cluster.NewFake()
	if *demo {
		seedDemoTasks(client, cfg.Approver.Name)
	}

	registry := evidence.NewRegistry()
	if cfg.Providers.Git.Enabled {
		git := gitinspect.New(cfg.Providers.Git.APIBase, cfg.Providers.Git.Token, cfg.Providers.Git.MaxPatchLen)
		if err := registry.Register(git); err != nil {
			return fmt.Errorf("register git provider: %w", err)
		}
	}
	if cfg.Providers.ClusterState.Enabled {
		if err := registry.Register(clusterstate.New(client)); err != nil {
			return fmt.Errorf("register cluster-state provider: %w", err)
		}
	}
	if cfg.Providers.Prometheus.Enabled {
		prom, err := promquery.New(cfg.Providers.Prometheus.URL)
		if err != nil {
			return fmt.Errorf("create prometheus provider: %w", err)
		}
		if err := registry.Register(prom); err != nil {
			return fmt.Errorf("register prometheus provider: %w", err)
		}
	}
	registry.Seal()
	logger.Info("evidence capabilities: %v", registry.Capabilities())

	modelClient, err := model.New(cfg)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}
	logger.Info("model backend: %s", modelClient.Name())

	limits := limiter.New(cfg.Model.MaxTokensPerMinute, cfg.Model.MaxConcurrent)
	engine := decision.NewEngine(cfg, registry, modelClient, limits)
	apply := patcher.New(client, cfg.Approver.Name)

	sink, err := feedback.NewSink(cfg.Feedback.Dir)
	if err != nil {
		return fmt.Errorf("create feedback sink: %w", err)
	}
	defer func() { _ = sink.Close() }()

	store, err := feedback.OpenStore(cfg.Feedback.DBPath)
	if err != nil {
		return fmt.Errorf("open feedback store: %w", err)
	}
	defer func() { _ = store.Close() }()

	recorder := feedback.NewRecorder(cfg.Approver.Name, sink, store)
	r := reconciler.New(cfg, client, engine, apply, recorder)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := serveHTTP(*listenAddr, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("approver %q starting in %s mode (workers=%d)",
		cfg.Approver.Name, cfg.Approver.Mode, cfg.Engine.Workers)

	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func serveHTTP(addr string, logger *logx.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server: %v", err)
		}
	}()
	logger.Info("serving /metrics and /healthz on %s", addr)
	return srv
}

func seedDemoTasks(fake *cluster.Fake, approver string) {
	fake.Create(&cluster.ApprovalTask{
		ID: proto.Identity{Namespace: "demo", Name: "deploy-gate"},
		Labels: map[string]string{
			cluster.LabelPipelineRun: "deploy-run-1",
			cluster.LabelPipeline:    "deploy",
		},
		Spec: cluster.Spec{
			Description: "Deploy demo-service v1.2.0",
			Approvers:   []string{approver, "alice"},
			Required:    2,
			Pipeline: cluster.PipelineContext{
				PipelineRun: "deploy-run-1",
				Pipeline:    "deploy",
			},
		},
	})
}
