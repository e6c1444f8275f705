// Command archon runs the plan/agent execution engine with its HTTP
// inspection surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archonlabs/archon"
	"github.com/archonlabs/archon/api"
	"github.com/archonlabs/archon/internal/config"
	"github.com/archonlabs/archon/observer"
	"github.com/archonlabs/archon/provider/openaicompat"
	"github.com/archonlabs/archon/store/postgres"
	"github.com/archonlabs/archon/store/sqlite"
	"github.com/archonlabs/archon/tools/file"
)

func main() {
	configPath := flag.String("config", "archon.toml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "archon:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var tracer archon.Tracer
	var metrics archon.Metrics
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
		tracer = observer.NewTracer()
		metrics = observer.NewMetrics(inst)
	}

	var recorder archon.Recorder
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pool.Close()
		recorder = postgres.New(pool)
	default:
		recorder = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	defer recorder.Close()
	if err := recorder.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	ids := archon.NewIDDispatcher()
	interrupts := archon.NewInterruptionManager()
	pools := archon.NewPoolProvider(
		archon.WithPoolSizes(cfg.Executor.PoolSizes...),
		archon.WithMaxDepth(cfg.Executor.MaxDepth),
		archon.WithDepthPolicy(archon.DepthPolicy(cfg.Executor.DepthPolicy)),
		archon.WithPoolLogger(logger),
	)
	defer pools.Close()
	dispatcher := archon.NewParallelExecutionService(pools, ids, interrupts, logger).WithMetrics(metrics)
	waits := archon.NewUserInputWaitRegistry(
		archon.WithLockTimeout(cfg.FormLockTimeout()),
		archon.WithRegistryLogger(logger),
	)

	llm := openaicompat.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	memory := archon.NewMemoryLimitService(llm,
		archon.WithMemoryBudget(cfg.Agent.MemoryBudget),
		archon.WithMemoryLogger(logger),
	)

	formTool := archon.NewFormInputTool(waits, interrupts, cfg.FormTimeout())
	readTool, writeTool, listTool := file.New(cfg.Workspace.Path)

	domainTools := func(archon.ExecutionContext) *archon.ToolRegistry {
		r := archon.NewToolRegistry()
		r.Add(readTool)
		r.Add(writeTool)
		r.Add(listTool)
		return r
	}
	// The factory closes over a variable so the sub-plan tool can re-enter
	// the executor created one line below.
	var toolFactory archon.ToolFactory
	executor := archon.NewPlanExecutor(recorder, ids, interrupts, pools, waits,
		func(ec archon.ExecutionContext) *archon.ToolRegistry { return toolFactory(ec) },
		archon.WithWorkspace(cfg.Workspace.Path, cfg.Workspace.UploadDir),
		archon.WithExecutorLogger(logger),
		archon.WithExecutorTracer(tracer),
		archon.WithExecutorMetrics(metrics),
	)
	toolFactory = archon.BuiltinToolFactory(executor, ids, formTool, domainTools)

	agent := archon.NewDynamicAgent("DEFAULT_AGENT", llm, recorder, ids, interrupts, memory, dispatcher,
		archon.WithAgentDescription("General-purpose executor for plan steps"),
		archon.WithSystemPrompt(cfg.Agent.SystemPrompt),
		archon.WithMaxSteps(cfg.Agent.MaxSteps),
		archon.WithModelName(cfg.LLM.Model),
		archon.WithAgentLogger(logger),
		archon.WithAgentTracer(tracer),
		archon.WithAgentMetrics(metrics),
	)
	executor.RegisterAgent(agent)

	reader := archon.NewHierarchyReader(recorder)
	server := api.New(reader, interrupts, waits, logger).WithExecutor(executor, ids)

	logger.Info("archon listening", "addr", cfg.Server.Addr, "db", cfg.Database.Driver)
	return http.ListenAndServe(cfg.Server.Addr, server.Router())
}
