// Package main implements the entry point for the replyflow service: a
// rule-evaluation and drip-scheduling engine for automated chat responses.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/replyflow/component"
	"github.com/c360/replyflow/config"
	"github.com/c360/replyflow/debounce"
	"github.com/c360/replyflow/directory"
	"github.com/c360/replyflow/dispatch"
	"github.com/c360/replyflow/engine"
	"github.com/c360/replyflow/health"
	"github.com/c360/replyflow/metric"
	"github.com/c360/replyflow/natsclient"
	"github.com/c360/replyflow/nurture"
	"github.com/c360/replyflow/pkg/retry"
	"github.com/c360/replyflow/rulestore"
	"github.com/c360/replyflow/schedule"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "replyflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting replyflow engine",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	client, monitor, registry, err := setupInfrastructure(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.NATS.DrainTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			slog.Error("NATS shutdown error", "error", err)
		}
	}()

	eng, metricsServer, err := buildPipeline(ctx, cfg, client, monitor, registry)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, cfg, eng, metricsServer, client, monitor)
}

// setupInfrastructure connects to NATS and stands up health and metrics.
func setupInfrastructure(
	ctx context.Context, cfg *config.Config) (*natsclient.Client, *health.Monitor, *metric.MetricsRegistry, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(appName),
		natsclient.WithConnectTimeout(cfg.NATS.ConnectTimeout),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.NATS.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if err := client.WaitForConnection(connectCtx); err != nil {
		return nil, nil, nil, fmt.Errorf("wait for NATS connection: %w", err)
	}

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("nats", "connected")

	client.OnHealthChange(func(healthy bool) {
		if healthy {
			monitor.UpdateHealthy("nats", "connected")
			registry.CoreMetrics().NATSConnected.Set(1)
			registry.CoreMetrics().NATSReconnects.Inc()
		} else {
			st := client.GetStatus()
			monitor.UpdateUnhealthy("nats",
				fmt.Sprintf("status=%s failures=%d", st.Status, client.Failures()))
			registry.CoreMetrics().NATSConnected.Set(0)
		}
	})
	registry.CoreMetrics().NATSConnected.Set(1)

	return client, monitor, registry, nil
}

// buildPipeline assembles the engine over durable NATS-backed stores.
func buildPipeline(
	ctx context.Context,
	cfg *config.Config,
	client *natsclient.Client,
	monitor *health.Monitor,
	registry *metric.MetricsRegistry,
) (*engine.Engine, *metric.Server, error) {
	buckets := map[string]string{
		"debounce": cfg.Buckets.Debounce,
		"sessions": cfg.Buckets.Sessions,
		"rules":    cfg.Buckets.Rules,
		"cancels":  cfg.Buckets.Cancels,
	}
	kvs := make(map[string]*natsclient.KVStore, len(buckets))
	for name, bucketName := range buckets {
		bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: bucketName})
		if err != nil {
			return nil, nil, fmt.Errorf("create %s bucket: %w", name, err)
		}
		kvs[name] = natsclient.NewKVStore(bucket, bucketName)
	}

	if _, err := client.CreateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Streams.DispatchStream,
		Subjects:  []string{cfg.Streams.DispatchSubject + ".>", dispatch.FailedSubject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		return nil, nil, fmt.Errorf("create dispatch stream: %w", err)
	}

	ruleStore, err := buildRuleStore(ctx, cfg, kvs["rules"])
	if err != nil {
		return nil, nil, err
	}

	cancels := dispatch.NewKVCancelRegistry(kvs["cancels"])
	sink := dispatch.NewJetStreamSink(client,
		dispatch.WithSubjectPrefix(cfg.Streams.DispatchSubject),
		dispatch.WithCancelRegistry(cancels),
		dispatch.WithRetryConfig(retry.Config{
			MaxAttempts:  cfg.Engine.DispatchRetryAttempts,
			InitialDelay: cfg.Engine.DispatchRetryDelay,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		}))

	timers := nurture.NewJetStreamTimerQueue(client,
		nurture.WithTimerStream(cfg.Streams.TimerStream, cfg.Streams.TimerSubject))
	sequencer := nurture.NewSequencer(
		nurture.NewKVSessionStore(kvs["sessions"]), timers, sink, ruleStore)

	debouncer := debounce.New(debounce.NewKVDebounceStore(kvs["debounce"]))
	scheduler := schedule.New(sink, schedule.WithSequencer(sequencer))

	eng, err := engine.New(engine.Options{
		Rules:          ruleStore,
		Directory:      buildDirectory(),
		Debouncer:      debouncer,
		Scheduler:      scheduler,
		Sink:           sink,
		Sequencer:      sequencer,
		Cancels:        cancels,
		Subscriber:     client,
		InboundSubject: cfg.Streams.InboundSubject,
		Metrics:        registry,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}

	// Rule removals observed through the KV watch fan out to sequence
	// and job cancellation.
	if kvRules, ok := ruleStore.(*rulestore.KVRuleStore); ok {
		kvRules.OnRuleRemoved = func(ruleID string) {
			cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := eng.CancelRule(cancelCtx, ruleID); err != nil {
				slog.Error("Rule cancellation failed", "rule_id", ruleID, "error", err)
			}
		}
		if err := kvRules.Watch(ctx); err != nil {
			return nil, nil, fmt.Errorf("watch rules bucket: %w", err)
		}
	}

	metricsServer := metric.NewServer(cfg.HTTP.ListenAddr, cfg.HTTP.MetricsPath, registry,
		func() (bool, string) {
			status := monitor.AggregateHealth(appName)
			return status.Healthy, status.Status
		})

	return eng, metricsServer, nil
}

// buildRuleStore prefers rule files when configured, otherwise serves rules
// from the KV bucket kept current by the console.
func buildRuleStore(ctx context.Context, cfg *config.Config, rulesKV *natsclient.KVStore) (rulestore.Store, error) {
	if cfg.Rules.ReplyRulesPath != "" {
		fs := rulestore.NewFileStore()
		if err := fs.LoadRules(cfg.Rules.ReplyRulesPath); err != nil {
			return nil, fmt.Errorf("load rule files: %w", err)
		}
		if cfg.Rules.ModerationRulesPath != "" {
			if err := fs.LoadModerationRules(cfg.Rules.ModerationRulesPath); err != nil {
				return nil, fmt.Errorf("load moderation rules: %w", err)
			}
		}
		for id, err := range fs.InvalidRules() {
			slog.Warn("Rule failed validation and was skipped", "rule_id", id, "error", err)
		}
		return fs, nil
	}

	kvStore := rulestore.NewKVRuleStore(rulesKV)
	if err := kvStore.Load(ctx); err != nil {
		return nil, fmt.Errorf("load rules from bucket: %w", err)
	}
	return kvStore, nil
}

// buildDirectory returns the contact directory. The static directory treats
// unknown senders as unsaved personal contacts; deployments with a real
// contact backend swap this out.
func buildDirectory() directory.Directory {
	return directory.NewStatic()
}

func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	eng *engine.Engine,
	metricsServer *metric.Server,
	client *natsclient.Client,
	monitor *health.Monitor,
) error {
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	if err := metricsServer.Start(errCh); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	if err := eng.Start(runCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	monitor.UpdateHealthy("engine", "running")

	compLog := component.NewLogger(appName, client, slog.Default())
	compLog.Info("Engine running")

	select {
	case <-runCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		slog.Error("Fatal component error", "error", err)
	}

	monitor.UpdateDegraded("engine", "shutting down")
	compLog.Info("Engine shutting down")

	if err := eng.Stop(cfg.Engine.ShutdownTimeout); err != nil {
		slog.Error("Engine shutdown error", "error", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Stop(stopCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
