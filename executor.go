package archon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ToolFactory builds the per-plan tool registry. Registries are never shared
// mutably across plans; augmenting a registry is confined to this bootstrap
// hook.
type ToolFactory func(ec ExecutionContext) *ToolRegistry

// PlanExecutor orchestrates a single plan: ordered step execution with
// interruption checks, agent selection, result mapping, lifecycle recording,
// and cleanup on every exit path. Sub-plan tool calls re-enter the executor
// at depth+1.
type PlanExecutor struct {
	recorder    Recorder
	ids         *IDDispatcher
	interrupts  *InterruptionManager
	pools       *PoolProvider
	waits       *UserInputWaitRegistry
	toolFactory ToolFactory
	agents      map[string]*DynamicAgent
	defaultName string
	workspace   string // root of per-plan workspaces; empty disables file sync
	uploadDir   string // staging area for pre-uploaded files, keyed by uploadKey
	logger      *slog.Logger
	tracer      Tracer
	metrics     Metrics
}

// ExecutorOption configures a PlanExecutor.
type ExecutorOption func(*PlanExecutor)

// WithWorkspace sets the per-plan workspace root and the upload staging dir.
func WithWorkspace(workspace, uploadDir string) ExecutorOption {
	return func(e *PlanExecutor) {
		e.workspace = workspace
		e.uploadDir = uploadDir
	}
}

// WithExecutorLogger sets a structured logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *PlanExecutor) { e.logger = l }
}

// WithExecutorTracer enables one span per plan execution.
func WithExecutorTracer(t Tracer) ExecutorOption {
	return func(e *PlanExecutor) { e.tracer = t }
}

// WithExecutorMetrics records plan lifecycle counts and durations.
func WithExecutorMetrics(m Metrics) ExecutorOption {
	return func(e *PlanExecutor) { e.metrics = m }
}

// NewPlanExecutor creates an executor. toolFactory supplies each plan
// invocation's tool registry.
func NewPlanExecutor(recorder Recorder, ids *IDDispatcher, interrupts *InterruptionManager, pools *PoolProvider, waits *UserInputWaitRegistry, toolFactory ToolFactory, opts ...ExecutorOption) *PlanExecutor {
	e := &PlanExecutor{
		recorder:    recorder,
		ids:         ids,
		interrupts:  interrupts,
		pools:       pools,
		waits:       waits,
		toolFactory: toolFactory,
		agents:      make(map[string]*DynamicAgent),
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterAgent adds an agent to the executor's selection table. The first
// registered agent becomes the default unless SetDefaultAgent overrides it.
func (e *PlanExecutor) RegisterAgent(a *DynamicAgent) {
	if len(e.agents) == 0 {
		e.defaultName = a.Name()
	}
	e.agents[a.Name()] = a
}

// SetDefaultAgent names the agent used for steps without an "[AGENT_TAG]"
// prefix.
func (e *PlanExecutor) SetDefaultAgent(name string) { e.defaultName = name }

// Execute runs a root plan to completion: identity assignment, interruption
// registration, workspace sync, and the step loop — the plan task itself
// runs on the depth-0 worker pool. Returns the plan's final result string.
func (e *PlanExecutor) Execute(ctx context.Context, plan *Plan) (string, error) {
	if plan.CurrentPlanID == "" {
		plan.CurrentPlanID = e.ids.NewPlanID()
	}
	plan.RootPlanID = plan.CurrentPlanID
	ec := ExecutionContext{
		CurrentPlanID:  plan.CurrentPlanID,
		RootPlanID:     plan.RootPlanID,
		ConversationID: NewID(),
		Depth:          0,
		UserRequest:    plan.UserRequest,
		ModelName:      plan.ModelName,
		UploadKey:      plan.UploadKey,
	}
	e.interrupts.Register(plan.RootPlanID)

	future, err := e.pools.Submit(0, func() (any, error) {
		return e.run(ctx, plan, ec)
	})
	if err != nil {
		return "", err
	}
	val, err := future.Wait(ctx)
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// Interrupt requests cooperative cancellation of a root plan's tree.
func (e *PlanExecutor) Interrupt(rootPlanID string) {
	e.interrupts.Request(rootPlanID)
}

// executeSubPlan runs a sub-plan inline on the caller's goroutine — the
// spawning tool call already occupies a worker on the sub-plan's depth pool.
func (e *PlanExecutor) executeSubPlan(ctx context.Context, plan *Plan, ec ExecutionContext) (string, error) {
	if ec.Depth > e.pools.maxDepth && e.pools.policy == DepthReject {
		return "", fmt.Errorf("sub-plan at depth %d: %w", ec.Depth, ErrDepthExceeded)
	}
	return e.run(ctx, plan, ec)
}

// run is the step loop shared by root and sub-plan execution.
func (e *PlanExecutor) run(ctx context.Context, plan *Plan, ec ExecutionContext) (result string, err error) {
	planCtx := ctx
	var span Span
	if e.tracer != nil {
		planCtx, span = e.tracer.Start(ctx, "plan.execute",
			StringAttr("plan_id", plan.CurrentPlanID),
			IntAttr("depth", ec.Depth),
			BoolAttr("sub_plan", plan.IsSubPlan()))
		defer func() {
			if err != nil {
				span.Error(err)
			}
			span.End()
		}()
	}

	e.preparePlan(plan)
	if e.metrics != nil {
		started := time.Now()
		e.metrics.PlanStarted(planCtx, plan.IsSubPlan())
		defer func() {
			outcome := "completed"
			switch {
			case errors.Is(err, ErrInterrupted):
				outcome = "interrupted"
			case err != nil:
				outcome = "failed"
			}
			e.metrics.PlanCompleted(planCtx, outcome, time.Since(started).Seconds())
		}()
	}
	registry := e.toolFactory(ec)
	defer e.performCleanup(planCtx, plan, registry)

	if !plan.IsSubPlan() && e.workspace != "" {
		if syncErr := e.syncWorkspace(plan); syncErr != nil {
			e.logger.Warn("workspace sync failed", "plan", plan.CurrentPlanID, "error", syncErr)
		}
	}

	if err := e.recorder.RecordPlanStart(planCtx, plan); err != nil {
		return "", fmt.Errorf("record plan start: %w", err)
	}
	e.logger.Info("plan started",
		"plan", plan.CurrentPlanID, "root", plan.RootPlanID,
		"depth", ec.Depth, "steps", len(plan.Steps))

	var lastResult string
	for i := range plan.Steps {
		step := &plan.Steps[i]

		if !e.interrupts.ShouldContinue(plan.RootPlanID) {
			step.Status = StepInterrupted
			step.ErrorMessage = ErrInterrupted.Error()
			_ = e.recorder.RecordStepEnd(planCtx, *step, plan.CurrentPlanID)
			e.completePlan(planCtx, plan, "", "plan interrupted by user request")
			return "", ErrInterrupted
		}

		agent := e.selectAgent(step)
		if agent == nil {
			step.Status = StepFailed
			step.ErrorMessage = "no agent available for step"
			_ = e.recorder.RecordStepEnd(planCtx, *step, plan.CurrentPlanID)
			e.completePlan(planCtx, plan, "", step.ErrorMessage)
			return "", fmt.Errorf("step %d: no agent available", step.StepIndex)
		}
		step.AgentName = agent.Name()
		step.Status = StepInProgress
		if err := e.recorder.RecordStepStart(planCtx, *step, plan.CurrentPlanID); err != nil {
			return "", fmt.Errorf("record step start: %w", err)
		}
		plan.CurrentStepIndex = step.StepIndex

		agentResult, agentErr := agent.Execute(planCtx, ec, step, registry)
		if agentErr != nil {
			step.Status = StepFailed
			step.ErrorMessage = agentErr.Error()
			_ = e.recorder.RecordStepEnd(planCtx, *step, plan.CurrentPlanID)
			e.completePlan(planCtx, plan, "", agentErr.Error())
			return "", agentErr
		}

		switch agentResult.Status {
		case AgentFinished:
			step.Status = StepCompleted
			step.Result = agentResult.Result
			lastResult = agentResult.Result
			if err := e.recorder.RecordStepEnd(planCtx, *step, plan.CurrentPlanID); err != nil {
				return "", fmt.Errorf("record step end: %w", err)
			}
		case AgentFailed:
			step.Status = StepFailed
			step.ErrorMessage = agentResult.ErrorMessage
			_ = e.recorder.RecordStepEnd(planCtx, *step, plan.CurrentPlanID)
			e.completePlan(planCtx, plan, "", agentResult.ErrorMessage)
			return "", fmt.Errorf("step %d failed: %s", step.StepIndex, agentResult.ErrorMessage)
		case AgentInterrupted:
			step.Status = StepInterrupted
			step.ErrorMessage = agentResult.ErrorMessage
			_ = e.recorder.RecordStepEnd(planCtx, *step, plan.CurrentPlanID)
			e.completePlan(planCtx, plan, "", "plan interrupted by user request")
			return "", ErrInterrupted
		default:
			step.Status = StepFailed
			step.ErrorMessage = fmt.Sprintf("unexpected agent status %q", agentResult.Status)
			_ = e.recorder.RecordStepEnd(planCtx, *step, plan.CurrentPlanID)
			e.completePlan(planCtx, plan, "", step.ErrorMessage)
			return "", fmt.Errorf("step %d: %s", step.StepIndex, step.ErrorMessage)
		}
	}

	summary := fmt.Sprintf("%d/%d steps completed", completedSteps(plan), len(plan.Steps))
	e.completePlan(planCtx, plan, summary, "")
	plan.Result = lastResult
	if err := e.recorder.RecordPlanComplete(planCtx, plan); err != nil {
		e.logger.Warn("record plan complete failed", "plan", plan.CurrentPlanID, "error", err)
	}
	e.logger.Info("plan completed", "plan", plan.CurrentPlanID, "steps", len(plan.Steps))
	return lastResult, nil
}

// preparePlan re-numbers step indices and backfills missing step ids before
// anything is recorded.
func (e *PlanExecutor) preparePlan(plan *Plan) {
	if plan.StartTime == 0 {
		plan.StartTime = NowMillis()
	}
	for i := range plan.Steps {
		plan.Steps[i].StepIndex = i
		if plan.Steps[i].StepID == "" {
			plan.Steps[i].StepID = e.ids.NewStepID()
		}
		if plan.Steps[i].Status == "" {
			plan.Steps[i].Status = StepNotStarted
		}
	}
}

// completePlan finalizes the plan row. Failed plans still complete — the
// error message carries the proximate cause.
func (e *PlanExecutor) completePlan(ctx context.Context, plan *Plan, summary, errMsg string) {
	plan.Completed = true
	plan.EndTime = NowMillis()
	if summary != "" {
		plan.Summary = summary
	}
	if errMsg != "" {
		plan.ErrorMessage = errMsg
		if err := e.recorder.RecordPlanComplete(ctx, plan); err != nil {
			e.logger.Warn("record plan complete failed", "plan", plan.CurrentPlanID, "error", err)
		}
	}
}

// selectAgent resolves the step's executor from an "[AGENT_TAG]" requirement
// prefix, falling back to the default agent.
func (e *PlanExecutor) selectAgent(step *Step) *DynamicAgent {
	if tag, ok := parseAgentTag(step.StepRequirement); ok {
		if a, found := e.agents[tag]; found {
			return a
		}
		e.logger.Warn("unknown agent tag, using default", "tag", tag)
	}
	return e.agents[e.defaultName]
}

// parseAgentTag extracts a leading "[TAG]" from a step requirement.
func parseAgentTag(requirement string) (string, bool) {
	s := strings.TrimSpace(requirement)
	if !strings.HasPrefix(s, "[") {
		return "", false
	}
	end := strings.Index(s, "]")
	if end <= 1 {
		return "", false
	}
	return s[1:end], true
}

// syncWorkspace creates the root plan's workspace, links it under a stable
// name, and copies any pre-uploaded files staged under the plan's uploadKey.
func (e *PlanExecutor) syncWorkspace(plan *Plan) error {
	dir := filepath.Join(e.workspace, plan.CurrentPlanID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	link := filepath.Join(e.workspace, "current")
	_ = os.Remove(link)
	if err := os.Symlink(dir, link); err != nil {
		e.logger.Debug("workspace link skipped", "error", err)
	}

	if plan.UploadKey == "" || e.uploadDir == "" {
		return nil
	}
	staged := filepath.Join(e.uploadDir, plan.UploadKey)
	entries, err := os.ReadDir(staged)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(staged, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, entry.Name()), data, 0o644); err != nil {
			return err
		}
	}
	e.logger.Debug("uploads synced", "plan", plan.CurrentPlanID, "key", plan.UploadKey, "files", len(entries))
	return nil
}

// performCleanup releases per-plan resources on every exit path. The
// workspace link and the wait/interrupt registrations belong to root plans
// only.
func (e *PlanExecutor) performCleanup(ctx context.Context, plan *Plan, registry *ToolRegistry) {
	for _, err := range registry.Cleanup(ctx, plan.CurrentPlanID) {
		e.logger.Warn("tool cleanup failed", "plan", plan.CurrentPlanID, "error", err)
	}
	if plan.IsSubPlan() {
		return
	}
	if e.workspace != "" {
		_ = os.Remove(filepath.Join(e.workspace, "current"))
	}
	if e.waits != nil {
		e.waits.Remove(plan.RootPlanID)
	}
	e.interrupts.MarkTerminated(plan.RootPlanID)
}

func completedSteps(plan *Plan) int {
	var n int
	for _, s := range plan.Steps {
		if s.Status == StepCompleted {
			n++
		}
	}
	return n
}
