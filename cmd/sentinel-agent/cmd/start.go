package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/cache"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/fileinfo"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/hosts"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/journal"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/process"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/remote"
	"github.com/Sentinel-Gate/sentinel-agent/internal/config"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/service"
	"github.com/Sentinel-Gate/sentinel-agent/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent",
	Long: `Start the agent in the foreground.

With remote.base_url configured the agent syncs policies, sends heartbeats
and delivers audit logs to the management service. The machine must be
registered first ("sentinel-agent register").

In dev mode without remote.base_url the agent runs standalone: it enforces
the cached policies and writes audit entries to stdout as JSON lines, or to
the audit journal when audit.journal_dir is set.

Examples:
  # Start with config file settings
  sentinel-agent start

  # Standalone development run
  sentinel-agent start --dev`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), process.ShutdownSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		return err
	}

	logger.Info("sentinel-agent stopped")
	return nil
}

// run wires the agent and blocks until ctx is canceled. Standalone audit
// output goes to stdout.
func run(ctx context.Context, cfg *config.AgentConfig, logger *slog.Logger, stdout io.Writer) error {
	if cfg.UsesDevKey() {
		logger.Warn("using the development cache key, cached policies are not protected")
	}

	providers, err := telemetry.Setup(telemetry.Options{
		Version:       Version,
		TraceStdout:   cfg.Telemetry.TraceStdout,
		MetricsStdout: cfg.Telemetry.MetricsStdout,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(reg)

	policies, err := cache.NewPolicyCache(cfg.Cache.Dir, cfg.Cache.EncryptionKey, logger)
	if err != nil {
		return fmt.Errorf("failed to open policy cache: %w", err)
	}

	decisions := service.NewDecisionStats()
	enforcerOpts := []service.EnforcerOption{
		service.WithEnforcerMetrics(metrics),
		service.WithDecisionStats(decisions),
	}
	if cfg.Enforcement.BlockProcesses {
		enforcerOpts = append(enforcerOpts, service.WithTerminator(process.NewTerminator(os.Getpid())))
	}
	enforcer := service.NewEnforcer(policies, policy.NewMatcher(fileinfo.NewInspector(0)), logger, enforcerOpts...)

	var (
		client  *remote.Client
		sink    audit.Sink
		agentID string
	)
	if cfg.Standalone() {
		logger.Warn("no management service configured, running standalone")
		sink = memory.NewAuditSink(stdout)
		agentID = cfg.Agent.ID
	} else {
		identity, err := resolveIdentity(cfg, logger)
		if err != nil {
			return err
		}
		client = remote.NewClient(
			remote.WithBaseURL(cfg.Remote.BaseURL),
			remote.WithAPIKey(identity.APIKey),
			remote.WithAgentID(identity.AgentID),
			remote.WithTimeout(cfg.Remote.TimeoutDuration()),
			remote.WithLogger(logger),
		)
		sink = client
		agentID = identity.AgentID
	}

	if cfg.Audit.JournalDir != "" {
		j, err := journal.Open(journal.Config{
			Dir:           cfg.Audit.JournalDir,
			RetentionDays: cfg.Audit.JournalRetentionDays,
			MaxFileSizeMB: cfg.Audit.JournalMaxSizeMB,
		}, logger)
		if err != nil {
			return fmt.Errorf("open audit journal: %w", err)
		}
		defer func() { _ = j.Close() }()

		if client == nil {
			sink = j
		} else {
			sink = journal.NewMirror(client, j, logger)
		}
		logger.Info("audit journal enabled", "dir", j.Dir())
	}

	reporter := service.NewAuditReporter(sink, agentID, logger,
		service.WithQueueCapacity(cfg.Audit.Capacity),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(cfg.Audit.FlushIntervalDuration()),
		service.WithShutdownTimeout(cfg.Audit.ShutdownTimeoutDuration()),
		service.WithReporterMetrics(metrics),
	)

	notifications := http.NewNotificationLog(0, &service.LogNotifier{Logger: logger})

	var (
		agentOpts  []service.AgentOption
		syncStatus http.SyncStatus
		accessC    *service.AccessCoordinator
		hostsPath  string
		healthOpts = []http.HealthOption{http.WithDecisionTotals(decisions)}
	)
	if client != nil {
		syncOpts := []service.SyncOption{
			service.WithHeartbeatSender(client),
			service.WithEventRecorder(reporter),
			service.WithDriftBuffer(cfg.Sync.DriftBufferDuration()),
			service.WithSyncMetrics(metrics),
		}
		if cfg.Hosts.Enabled {
			hostOpts := []hosts.Option{
				hosts.WithDNSFlush(cfg.Hosts.FlushDNS),
				hosts.WithLogger(logger),
			}
			if cfg.Hosts.Path != "" {
				hostOpts = append(hostOpts, hosts.WithPath(cfg.Hosts.Path))
			}
			blocker := hosts.NewBlocker(hostOpts...)
			hostsPath = blocker.Path()
			syncOpts = append(syncOpts, service.WithHostsBlocker(blocker))
			logger.Info("URL blocking enabled", "hosts_file", hostsPath)
		}
		sc := service.NewSyncCoordinator(client, policies, logger, syncOpts...)
		healthOpts = append(healthOpts, http.WithBlocklist(sc))

		accessC = service.NewAccessCoordinator(client, logger,
			service.WithDedupWindow(cfg.Access.DedupWindowDuration()),
			service.WithJustificationTimeout(cfg.Access.JustificationTimeoutDuration()),
			service.WithNotifier(service.NewURLApprovalNotifier(notifications, sc, logger)),
			service.WithAccessMetrics(metrics),
		)

		agentOpts = append(agentOpts, service.WithSync(sc), service.WithAccess(accessC))
		syncStatus = sc
	}

	agent := service.NewAgent(service.AgentConfig{
		Version:            Version,
		PolicyInterval:     cfg.Sync.PolicyIntervalDuration(),
		URLInterval:        cfg.Sync.URLIntervalDuration(),
		HeartbeatInterval:  cfg.Sync.HeartbeatIntervalDuration(),
		AccessPollInterval: cfg.Sync.AccessPollIntervalDuration(),
		BlockProcesses:     cfg.Enforcement.BlockProcesses,
	}, enforcer, reporter, logger, agentOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.Run(gctx) })

	if cfg.Server.HTTPAddr != config.ListenerDisabled {
		auth, err := intakeAuth(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to set up intake token: %w", err)
		}
		serverOpts := []http.Option{
			http.WithAddr(cfg.Server.HTTPAddr),
			http.WithLogger(logger),
			http.WithRegistry(reg),
			http.WithHealthChecker(http.NewHealthChecker(policies, reporter, syncStatus, Version, healthOpts...)),
			http.WithNotificationLog(notifications),
			http.WithIntakeAuth(auth),
		}
		if accessC != nil {
			broker := http.NewPromptBroker(logger)
			serverOpts = append(serverOpts, http.WithPromptBroker(broker))
			g.Go(func() error { return broker.Run(gctx, accessC.Prompts()) })
		}
		server := http.NewStatusServer(agent, serverOpts...)
		g.Go(func() error { return server.Start(gctx) })
	} else if accessC != nil {
		logger.Warn("status listener disabled, access requests cannot collect a justification")
	}

	printBanner(os.Stderr, cfg, agentID, policies.Len(), hostsPath)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveIdentity loads the stored identity. Configured values take
// precedence over the stored ones.
func resolveIdentity(cfg *config.AgentConfig, logger *slog.Logger) (cache.Identity, error) {
	store, err := cache.NewIdentityStore(cfg.Cache.Dir, cfg.Cache.EncryptionKey, logger)
	if err != nil {
		return cache.Identity{}, fmt.Errorf("failed to open identity store: %w", err)
	}

	identity, err := store.Load()
	if err != nil && !errors.Is(err, cache.ErrNotRegistered) {
		return cache.Identity{}, fmt.Errorf("failed to load identity: %w", err)
	}
	if cfg.Agent.ID != "" {
		identity.AgentID = cfg.Agent.ID
	}
	if cfg.Remote.APIKey != "" {
		identity.APIKey = cfg.Remote.APIKey
	}
	if identity.AgentID == "" {
		return cache.Identity{}, errors.New("agent is not registered: run \"sentinel-agent register\" first")
	}
	return identity, nil
}

// printBanner prints a startup summary to w.
func printBanner(w io.Writer, cfg *config.AgentConfig, agentID string, policyCount int, hostsPath string) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	modeStr := green + "managed" + reset
	if cfg.Standalone() {
		auditTo := "stdout"
		if cfg.Audit.JournalDir != "" {
			auditTo = "journal"
		}
		modeStr = yellow + "standalone" + reset + dim + " (audit to " + auditTo + ")" + reset
	}
	journalStr := "off"
	if cfg.Audit.JournalDir != "" {
		journalStr = cfg.Audit.JournalDir
	}
	enforcement := "block"
	if !cfg.Enforcement.BlockProcesses {
		enforcement = "audit only"
	}
	status := "off"
	if cfg.Server.HTTPAddr != config.ListenerDisabled {
		status = "http://" + cfg.Server.HTTPAddr
	}
	if agentID == "" {
		agentID = "-"
	}
	if hostsPath == "" {
		hostsPath = "off"
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s Sentinel Agent %s%s\n", bold, cyan, Version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s\n", "Agent ID:", agentID)
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Enforcement:", enforcement)
	fmt.Fprintf(w, "  %-14s %d cached\n", "Policies:", policyCount)
	fmt.Fprintf(w, "  %-14s %s\n", "Status:", status)
	fmt.Fprintf(w, "  %-14s %s\n", "Journal:", journalStr)
	fmt.Fprintf(w, "  %-14s %s\n", "URL blocks:", hostsPath)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
