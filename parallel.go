package archon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ExecStatus is the outcome class of one dispatched tool invocation.
type ExecStatus string

const (
	ExecSuccess     ExecStatus = "SUCCESS"
	ExecError       ExecStatus = "ERROR"
	ExecInterrupted ExecStatus = "INTERRUPTED"
)

// ParallelExecutionRequest is one tool invocation to dispatch.
type ParallelExecutionRequest struct {
	ToolName   string
	Params     json.RawMessage
	ToolCallID string // generated when empty
}

// ParallelExecutionResult is the outcome of one dispatched invocation.
// Index always equals the request's position in the input list, regardless
// of completion order.
type ParallelExecutionResult struct {
	Index      int        `json:"index"`
	ToolCallID string     `json:"tool_call_id"`
	Status     ExecStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ParallelExecutionService dispatches batches of tool invocations on the
// depth-appropriate worker pool, concurrently or sequentially. Tool side
// effects carry no cross-call ordering in the parallel mode; only the result
// list order is guaranteed.
type ParallelExecutionService struct {
	pools      *PoolProvider
	ids        *IDDispatcher
	interrupts *InterruptionManager
	logger     *slog.Logger
	metrics    Metrics
}

// NewParallelExecutionService creates a dispatcher.
func NewParallelExecutionService(pools *PoolProvider, ids *IDDispatcher, interrupts *InterruptionManager, logger *slog.Logger) *ParallelExecutionService {
	if logger == nil {
		logger = nopLogger
	}
	return &ParallelExecutionService{pools: pools, ids: ids, interrupts: interrupts, logger: logger}
}

// WithMetrics records tool execution counts and durations on every dispatch.
func (s *ParallelExecutionService) WithMetrics(m Metrics) *ParallelExecutionService {
	s.metrics = m
	return s
}

// Dispatch runs all requests concurrently on the pool selected by the parent
// context's depth and returns results in input order.
func (s *ParallelExecutionService) Dispatch(ctx context.Context, reqs []ParallelExecutionRequest, registry *ToolRegistry, parent ToolContext) ([]ParallelExecutionResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	batchID := s.ids.NewParallelExecID()
	s.logger.Debug("parallel dispatch", "batch", batchID, "calls", len(reqs), "depth", parent.PlanDepth)

	results := make([]ParallelExecutionResult, len(reqs))
	futures := make([]*Future, len(reqs))
	// Tool tasks are children of the plan task that dispatched them; they
	// run on the next depth's pool so a batch never waits on the workers
	// its own plan tree holds.
	for i, req := range reqs {
		i, req := i, req
		tc := s.childContext(parent, req)
		future, err := s.pools.Submit(parent.PlanDepth+1, func() (any, error) {
			return s.invoke(ctx, req, registry, tc), nil
		})
		if err != nil {
			// Pool refused (depth policy); fail this entry, keep the batch.
			results[i] = ParallelExecutionResult{Index: i, ToolCallID: tc.ToolCallID, Status: ExecError, Error: err.Error()}
			continue
		}
		futures[i] = future
	}

	g, waitCtx := errgroup.WithContext(ctx)
	for i := range futures {
		if futures[i] == nil {
			continue
		}
		i := i
		g.Go(func() error {
			val, err := futures[i].Wait(waitCtx)
			if err != nil {
				results[i] = ParallelExecutionResult{Index: i, ToolCallID: reqs[i].ToolCallID, Status: ExecError, Error: err.Error()}
				return nil
			}
			r := val.(ParallelExecutionResult)
			r.Index = i
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// DispatchSequential awaits each request in input order on the caller's
// goroutine. Used when any request binds to a tool requiring exclusive
// interaction (the form-input tool).
func (s *ParallelExecutionService) DispatchSequential(ctx context.Context, reqs []ParallelExecutionRequest, registry *ToolRegistry, parent ToolContext) ([]ParallelExecutionResult, error) {
	results := make([]ParallelExecutionResult, len(reqs))
	for i, req := range reqs {
		tc := s.childContext(parent, req)
		r := s.invoke(ctx, req, registry, tc)
		r.Index = i
		results[i] = r
	}
	return results, nil
}

// childContext seeds the per-call ToolContext, generating a tool-call id
// when the request carries none.
func (s *ParallelExecutionService) childContext(parent ToolContext, req ParallelExecutionRequest) ToolContext {
	id := req.ToolCallID
	if id == "" {
		id = s.ids.NewToolCallID()
	}
	return parent.Child(id)
}

// invoke resolves and runs one tool call, converting panics and errors into
// ERROR results and interruption into INTERRUPTED.
func (s *ParallelExecutionService) invoke(ctx context.Context, req ParallelExecutionRequest, registry *ToolRegistry, tc ToolContext) (r ParallelExecutionResult) {
	r = ParallelExecutionResult{ToolCallID: tc.ToolCallID}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.Status = ExecError
			r.Error = fmt.Sprintf("tool %q panic: %v", req.ToolName, p)
		}
		if s.metrics != nil {
			s.metrics.ToolExecution(ctx, req.ToolName, string(r.Status), time.Since(start).Seconds())
		}
	}()

	if s.interrupts != nil && !s.interrupts.ShouldContinue(tc.RootPlanID) {
		r.Status = ExecInterrupted
		r.Error = ErrInterrupted.Error()
		return r
	}
	if ctx.Err() != nil {
		r.Status = ExecInterrupted
		r.Error = ctx.Err().Error()
		return r
	}

	tool, ok := registry.Get(req.ToolName)
	if !ok {
		r.Status = ExecError
		r.Error = "unknown tool: " + req.ToolName
		return r
	}

	result, err := tool.Run(ctx, tc, req.Params)
	switch {
	case err != nil:
		r.Status = ExecError
		r.Error = err.Error()
	case result.Error != "":
		r.Status = ExecError
		r.Error = result.Error
		r.Output = result.Output
	default:
		r.Status = ExecSuccess
		r.Output = result.Output
	}
	return r
}
