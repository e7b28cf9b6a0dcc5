// Package main provides the CLI entry point for the gateway process:
// the server that boots one supervised worker per configured agent and
// keeps their consciousness, inbox, and space traffic flowing through
// Postgres and the in-process fan-out bus.
//
// # Basic Usage
//
// Start the server:
//
//	gatewayd serve --config gateway.yaml
//
// # Environment Variables
//
// Configuration can be provided via environment variables expanded
// inside the config file (e.g. ${GATEWAY_DATABASE_URL}), plus the
// provider credential named by provider.api_key_env.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lucentgrid/meridian/internal/agent"
	"github.com/lucentgrid/meridian/internal/asynctool"
	"github.com/lucentgrid/meridian/internal/broker"
	"github.com/lucentgrid/meridian/internal/bus"
	"github.com/lucentgrid/meridian/internal/config"
	"github.com/lucentgrid/meridian/internal/consciousness"
	"github.com/lucentgrid/meridian/internal/edge"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/internal/run"
	"github.com/lucentgrid/meridian/internal/scheduler"
	"github.com/lucentgrid/meridian/internal/spacemessage"
	"github.com/lucentgrid/meridian/internal/stream"
	"github.com/lucentgrid/meridian/internal/supervisor"
	"github.com/lucentgrid/meridian/internal/worker"
	"github.com/lucentgrid/meridian/pkg/models"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "gatewayd",
		Short:        "Living-agent orchestration gateway",
		Long:         `gatewayd boots one supervised worker loop per configured agent, each cycling through its own inbox, consciousness, and shared spaces.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway server.

The server will:
1. Load configuration from the specified file
2. Open the Postgres connection pool
3. Reconcile and start the plan scheduler
4. Spawn a supervised worker for every configured agent
5. Serve Prometheus metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}

// runServe implements the serve command: config, storage, and worker
// wiring, then blocks until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting gateway", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"metrics_port", cfg.Server.MetricsPort,
		"agents", len(cfg.Agents),
		"provider", cfg.Provider.Name,
	)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "meridian-gateway",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.EnableInsecure,
	})

	b := broker.NewMemoryBroker(256)
	ib := inbox.New(inbox.NewPostgresStore(db), b)
	consciousnessStore := consciousness.NewPostgresStoreFromDB(db)
	runStore := run.NewPostgresStore(db)
	spaceMessages := spacemessage.NewPostgresStore(db)
	planStore := scheduler.NewPostgresPlanStore(db)
	asyncStore := asynctool.NewPostgresStore(db)

	metrics := observability.NewMetrics()
	bootCtx, bootSpan := tracer.Start(ctx, "gateway.boot")
	defer bootSpan.End()

	fanoutBus := bus.New(b, metrics)
	streamProcessor := stream.New(fanoutBus, spaceMessages, logger, metrics, tracer)
	sched := scheduler.New(planStore, ib, logger, metrics)
	asyncManager := asynctool.NewManager(asyncStore, ib, spacemessage.Completer{Store: spaceMessages}, fanoutBus, metrics)

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("construct llm provider: %w", err)
	}

	agentEntityIDs := make([]string, 0, len(cfg.Agents))
	workerByEntity := make(map[string]worker.Deps, len(cfg.Agents))
	agentByEntity := make(map[string]models.Agent, len(cfg.Agents))
	spaces := staticSpaceMembership{spacesByEntity: spacesByEntity(cfg.Agents)}
	prompts := staticPromptBuilder{agents: agentByEntity}
	for _, a := range cfg.Agents {
		agentEntityIDs = append(agentEntityIDs, a.AgentEntityID)
		agentByEntity[a.AgentEntityID] = models.Agent{
			ID:            a.ID,
			AgentEntityID: a.AgentEntityID,
			Name:          a.Name,
			SystemPrompt:  a.SystemPrompt,
			Tools:         a.Tools,
			AsyncTools:    a.AsyncTools,
			VisibleTools:  a.VisibleTools,
			SoftCapTokens: a.SoftCapTokens,
			HardCapTokens: a.HardCapTokens,
			MaxSteps:      a.MaxSteps,
		}
		workerByEntity[a.AgentEntityID] = worker.Deps{
			Consciousness: consciousnessStore,
			Inbox:         ib,
			Runs:          runStore,
			Bus:           fanoutBus,
			Stream:        streamProcessor,
			Provider:      provider,
			Prompts:       prompts,
			Spaces:        spaces,
			Logger:        slogWorkerLogger{logger: logger},
			Metrics:       metrics,
			Tracer:        tracer,
		}
	}

	factory := func(agentEntityID string) (*worker.Worker, error) {
		agentCfg, ok := agentByEntity[agentEntityID]
		if !ok {
			return nil, fmt.Errorf("no agent configured for entity %q", agentEntityID)
		}
		deps, ok := workerByEntity[agentEntityID]
		if !ok {
			return nil, fmt.Errorf("no dependencies wired for entity %q", agentEntityID)
		}
		registry := buildToolRegistry(agentCfg)
		return worker.New(agentCfg, registry, deps), nil
	}

	sv := supervisor.New(ib, sched, factory, logger, metrics)

	runCtx, cancel := signal.NotifyContext(bootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sv.Boot(runCtx, agentEntityIDs); err != nil {
		return fmt.Errorf("boot supervisor: %w", err)
	}

	metricsSrv := startMetricsServer(cfg.Server.Host, cfg.Server.MetricsPort, metrics, logger)

	edgeHandler := edge.NewHandler(edge.Config{
		Inbox:      ib,
		Bus:        fanoutBus,
		Messages:   spaceMessages,
		AsyncTools: asyncManager,
		Runs:       runStore,
		Members:    staticMembers{agents: cfg.Agents},
		Logger:     logger,
	})
	edgeSrv := startEdgeServer(cfg.Server.Host, cfg.Server.HTTPPort, edgeHandler, logger)

	logger.Info("gateway started", "agents", agentEntityIDs)

	<-runCtx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = edgeSrv.Shutdown(shutdownCtx)
	_ = shutdownTracer(shutdownCtx)
	sv.Wait()

	logger.Info("gateway stopped gracefully")
	return nil
}

func startEdgeServer(host string, port int, handler http.Handler, logger *slog.Logger) *http.Server {
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("edge server stopped", "error", err)
		}
	}()
	return srv
}

// staticMembers resolves space membership from the static agent
// configuration file: every agent naming a space in its Spaces list is
// a member of that space with SenderType agent. Human membership is
// resolved by an external service out of scope here (spec §1's "policy
// oracle"); this default only knows the agent side, which is all the
// core needs to decide which inboxes a posted message wakes.
type staticMembers struct {
	agents []config.AgentConfig
}

func (s staticMembers) MembersOf(_ context.Context, spaceID string) ([]edge.Member, error) {
	var out []edge.Member
	for _, a := range s.agents {
		for _, sp := range a.Spaces {
			if sp == spaceID {
				out = append(out, edge.Member{AgentEntityID: a.AgentEntityID, Name: a.Name, Type: models.SenderAgent})
				break
			}
		}
	}
	return out, nil
}

func (s staticMembers) SpaceName(_ context.Context, spaceID string) (string, error) {
	return spaceID, nil
}

func startMetricsServer(host string, port int, metrics *observability.Metrics, logger *slog.Logger) *http.Server {
	_ = metrics // registered globally by promauto; handler below serves it
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}

func spacesByEntity(agents []config.AgentConfig) map[string][]string {
	out := make(map[string][]string, len(agents))
	for _, a := range agents {
		out[a.AgentEntityID] = a.Spaces
	}
	return out
}

// staticSpaceMembership resolves space membership from the static
// configuration file rather than a dynamic membership store.
type staticSpaceMembership struct {
	spacesByEntity map[string][]string
}

func (s staticSpaceMembership) SpacesForAgent(_ context.Context, agentEntityID string) ([]string, error) {
	return s.spacesByEntity[agentEntityID], nil
}

// staticPromptBuilder returns each agent's configured system prompt
// unchanged. A fuller identity/goals/memory template fill is an
// operator-supplied worker.PromptBuilder.
type staticPromptBuilder struct {
	agents map[string]models.Agent
}

func (p staticPromptBuilder) BuildSystemPrompt(_ context.Context, agentEntityID string) (string, error) {
	a, ok := p.agents[agentEntityID]
	if !ok {
		return "", fmt.Errorf("no agent configured for entity %q", agentEntityID)
	}
	return a.SystemPrompt, nil
}

type slogWorkerLogger struct {
	logger *slog.Logger
}

func (l slogWorkerLogger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// buildToolRegistry registers the two tools the cycle algorithm itself
// depends on by name (send_message, skip) plus a placeholder for every
// other tool the agent's configuration names; each placeholder returns
// an error result saying the tool is not wired. Real tool bodies
// (web search, code execution, browser automation, and so on) are
// wired in by an operator-supplied registry; this default keeps the
// server runnable against a bare configuration.
func buildToolRegistry(agentCfg models.Agent) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()
	registry.Register(agent.Tool{
		Kind:        agent.ToolKindSync,
		Name:        stream.SendMessageTool,
		Description: "Post a message to the active space.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Execute: func(_ context.Context, input json.RawMessage) (*agent.ToolResult, error) {
			var payload struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &payload); err != nil {
				return &agent.ToolResult{Content: "invalid send_message input", IsError: true}, nil
			}
			return &agent.ToolResult{Content: payload.Text}, nil
		},
	})
	registry.Register(agent.Tool{
		Kind:        agent.ToolKindSkip,
		Name:        stream.SkipTool,
		Description: "Decline to act on this cycle's inbox events.",
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
	})
	for _, name := range agentCfg.Tools {
		name := name
		if name == stream.SendMessageTool || name == stream.SkipTool {
			continue
		}
		registry.Register(agent.Tool{
			Kind:        agent.ToolKindSync,
			Name:        name,
			Description: fmt.Sprintf("%s (unwired placeholder; provide a real implementation before use)", name),
			Execute: func(_ context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
				return &agent.ToolResult{Content: fmt.Sprintf("tool %q is not wired in this deployment", name), IsError: true}, nil
			},
		})
	}
	return registry
}

// newProvider constructs the external LLM streaming client named by the
// configured provider. Concrete vendor clients live outside this
// module's scope; operators link one in by replacing this factory.
func newProvider(cfg config.ProviderConfig) (agent.LLMProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider.name is required")
	}
	return unwiredProvider{name: cfg.Name}, nil
}

// unwiredProvider satisfies agent.LLMProvider so the gateway links and
// boots against a bare configuration; it errors on first use until an
// operator supplies a real streaming client.
type unwiredProvider struct {
	name string
}

func (p unwiredProvider) Name() string { return p.name }

func (p unwiredProvider) StreamCycle(context.Context, agent.CycleRequest) (<-chan agent.StreamPart, error) {
	return nil, fmt.Errorf("llm provider %q is not wired in this deployment", p.name)
}
