package archon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// earlyTerminationLimit is how many consecutive thinking-only responses fail
// the step.
const earlyTerminationLimit = 3

// resultWindowSize is the sliding window for the repeated-result loop
// detector. Exact string equality across the window triggers one forced
// memory compression; no fuzzy matching — false positives would break
// legitimate repeated queries.
const resultWindowSize = 3

// reinforcementDirective is appended to the prompt after a thinking-only
// response so the next attempt acts.
const reinforcementDirective = "\n\nYou must call at least one tool in your response. Thinking alone does not make progress; pick a tool and act."

// defaultMaxSteps bounds think-act rounds per step.
const defaultMaxSteps = 20

// AgentResult is the terminal outcome of one agent execution on one step.
type AgentResult struct {
	Status       AgentStatus
	Result       string
	ErrorMessage string
}

// DynamicAgent drives one step to completion through think→act rounds: each
// round asks the LLM what to do, dispatches the returned tool calls, and
// feeds observations back until a terminable tool fires, the round budget is
// spent, a failure is raised, or the root plan is interrupted.
type DynamicAgent struct {
	name         string
	description  string
	systemPrompt string
	provider     Provider
	recorder     Recorder
	ids          *IDDispatcher
	interrupts   *InterruptionManager
	memory       *MemoryLimitService
	dispatcher   *ParallelExecutionService
	maxSteps     int
	modelName    string
	logger       *slog.Logger
	tracer       Tracer
	metrics      Metrics
	backoff      func(attempt int) time.Duration
}

// AgentOption configures a DynamicAgent.
type AgentOption func(*DynamicAgent)

// WithAgentDescription sets the human-readable description recorded with
// each execution.
func WithAgentDescription(s string) AgentOption {
	return func(a *DynamicAgent) { a.description = s }
}

// WithSystemPrompt sets the system prompt. Prompts are opaque strings,
// typically consumed from configuration.
func WithSystemPrompt(s string) AgentOption {
	return func(a *DynamicAgent) { a.systemPrompt = s }
}

// WithMaxSteps bounds the think-act rounds per step.
func WithMaxSteps(n int) AgentOption {
	return func(a *DynamicAgent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithModelName records the model used for this agent.
func WithModelName(s string) AgentOption {
	return func(a *DynamicAgent) { a.modelName = s }
}

// WithAgentLogger sets a structured logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *DynamicAgent) { a.logger = l }
}

// WithAgentTracer enables one span per think-act round.
func WithAgentTracer(t Tracer) AgentOption {
	return func(a *DynamicAgent) { a.tracer = t }
}

// WithAgentMetrics records think-act cycles, token usage, and LLM call
// durations.
func WithAgentMetrics(m Metrics) AgentOption {
	return func(a *DynamicAgent) { a.metrics = m }
}

// NewDynamicAgent creates an agent.
func NewDynamicAgent(name string, provider Provider, recorder Recorder, ids *IDDispatcher, interrupts *InterruptionManager, memory *MemoryLimitService, dispatcher *ParallelExecutionService, opts ...AgentOption) *DynamicAgent {
	a := &DynamicAgent{
		name:       name,
		provider:   provider,
		recorder:   recorder,
		ids:        ids,
		interrupts: interrupts,
		memory:     memory,
		dispatcher: dispatcher,
		maxSteps:   defaultMaxSteps,
		logger:     nopLogger,
		backoff:    RetryBackoff,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's identifier, matched against "[AGENT_TAG]" step
// prefixes.
func (a *DynamicAgent) Name() string { return a.name }

// agentRun is the mutable state of one execution.
type agentRun struct {
	ec           ExecutionContext
	step         *Step
	registry     *ToolRegistry
	rec          *AgentExecutionRecord
	messages     []ChatMessage // assistant + tool messages + pinned summaries
	resultWindow []string
	errs         []error // think-phase exceptions across attempts
}

// Execute runs the agent on one step. The registry is the per-plan tool set;
// it must include the builtin lifecycle tools the agent is expected to call.
func (a *DynamicAgent) Execute(ctx context.Context, ec ExecutionContext, step *Step, registry *ToolRegistry) (AgentResult, error) {
	run := &agentRun{
		ec:       ec,
		step:     step,
		registry: registry,
		rec: &AgentExecutionRecord{
			ID:               NewID(),
			StepID:           step.StepID,
			ConversationID:   ec.ConversationID,
			AgentName:        a.name,
			AgentDescription: a.description,
			AgentRequest:     step.StepRequirement,
			Status:           AgentRunning,
			StartTime:        NowMillis(),
			MaxSteps:         a.maxSteps,
			ModelName:        a.modelName,
		},
	}
	if err := a.recorder.RecordAgentStart(ctx, run.rec); err != nil {
		return AgentResult{Status: AgentFailed, ErrorMessage: err.Error()}, err
	}

	result := a.loop(ctx, run)

	run.rec.Status = result.Status
	run.rec.Result = result.Result
	run.rec.ErrorMessage = result.ErrorMessage
	run.rec.EndTime = NowMillis()
	if err := a.recorder.RecordAgentEnd(ctx, run.rec); err != nil {
		a.logger.Warn("record agent end failed", "agent", a.name, "step", run.step.StepID, "error", err)
	}
	return result, nil
}

// loop runs think-act rounds until a terminal condition.
func (a *DynamicAgent) loop(ctx context.Context, run *agentRun) AgentResult {
	for round := 1; round <= a.maxSteps; round++ {
		run.rec.CurrentStep = round
		if a.metrics != nil {
			a.metrics.ThinkActCycle(ctx, a.name)
		}

		roundCtx := ctx
		var span Span
		if a.tracer != nil {
			roundCtx, span = a.tracer.Start(ctx, "agent.round",
				StringAttr("agent", a.name), IntAttr("round", round))
		}
		result, done := a.round(roundCtx, run, round)
		if span != nil {
			span.End()
		}
		if done {
			return result
		}
	}

	// Round budget spent without a terminable tool.
	a.logger.Warn("max steps reached", "agent", a.name, "step", run.step.StepID, "max_steps", a.maxSteps)
	return AgentResult{
		Status: AgentFinished,
		Result: "Step ended after reaching the maximum number of rounds without an explicit terminate call.",
	}
}

// round performs one think→act iteration. done=false continues the loop.
func (a *DynamicAgent) round(ctx context.Context, run *agentRun, round int) (AgentResult, bool) {
	// Think.
	thinkResult, thinkRec, res, done := a.think(ctx, run, round)
	if done {
		return res, true
	}

	// Act.
	res, done = a.act(ctx, run, thinkResult, thinkRec)
	if done {
		return res, true
	}
	return AgentResult{}, false
}

// think runs the LLM phase: interruption check, environment collection,
// memory compression, prompt assembly, the streamed call with the retry and
// early-termination policies of the decision table. On success it persists
// the think-act record (phase one) and hands the tool calls to act.
func (a *DynamicAgent) think(ctx context.Context, run *agentRun, round int) (StreamingResult, *ThinkActRecord, AgentResult, bool) {
	var zero StreamingResult
	if !a.interrupts.ShouldContinue(run.ec.RootPlanID) {
		return zero, nil, AgentResult{Status: AgentInterrupted, ErrorMessage: ErrInterrupted.Error()}, true
	}

	env := run.registry.EnvironmentString()
	run.messages = a.memory.Apply(ctx, run.messages)

	reinforce := false
	attempt := 0
	earlyTerms := 0
	run.errs = run.errs[:0]
	for {
		if !a.interrupts.ShouldContinue(run.ec.RootPlanID) {
			return zero, nil, AgentResult{Status: AgentInterrupted, ErrorMessage: ErrInterrupted.Error()}, true
		}

		req := a.buildRequest(run, env, reinforce)
		thinkStart := NowMillis()
		llmStart := time.Now()
		result := AggregateStream(ctx, a.provider, req)
		if a.metrics != nil {
			a.metrics.LLMCall(ctx, result.LastResponse.Usage, time.Since(llmStart).Seconds())
		}

		if result.Err != nil {
			run.errs = append(run.errs, result.Err)
			attempt++
			if !IsRetryableLLMError(result.Err) {
				return zero, nil, a.failStep(ctx, run, thinkStart, result,
					"LLM call failed: "+result.Err.Error()), true
			}
			if attempt >= maxLLMAttempts {
				return zero, nil, a.reportSystemError(ctx, run, thinkStart, result), true
			}
			wait := a.backoff(attempt)
			a.logger.Warn("retryable LLM error, backing off",
				"agent", a.name, "attempt", attempt, "wait", wait, "error", result.Err)
			if err := sleepCtx(ctx, wait); err != nil {
				return zero, nil, AgentResult{Status: AgentInterrupted, ErrorMessage: err.Error()}, true
			}
			continue
		}

		if result.EarlyTerminated {
			earlyTerms++
			if earlyTerms < earlyTerminationLimit {
				a.logger.Debug("thinking-only response, reinforcing",
					"agent", a.name, "round", round, "count", earlyTerms)
				reinforce = true
				continue
			}
			msg := fmt.Sprintf("Early termination threshold reached: %d consecutive responses without a tool call. Last response: %s",
				earlyTerminationLimit, truncateRunes(result.EffectiveText, 500))
			return zero, nil, a.failStep(ctx, run, thinkStart, result, msg), true
		}

		// Tool calls present: persist phase one and proceed to act.
		thinkRec := a.buildThinkActRecord(run, req, result, thinkStart)
		if err := a.recorder.RecordThinkingAndAction(ctx, thinkRec); err != nil {
			a.logger.Warn("record think-act failed", "agent", a.name, "error", err)
		}
		return result, thinkRec, AgentResult{}, false
	}
}

// buildRequest assembles the prompt: system, compressed history, and the
// current step requirement with the environment snapshot. After a
// thinking-only response the reinforcement directive is appended.
func (a *DynamicAgent) buildRequest(run *agentRun, env string, reinforce bool) ChatRequest {
	messages := make([]ChatMessage, 0, len(run.messages)+2)
	if a.systemPrompt != "" {
		messages = append(messages, SystemMessage(a.systemPrompt))
	}
	messages = append(messages, run.messages...)

	var b strings.Builder
	b.WriteString("Current step: ")
	b.WriteString(run.step.StepRequirement)
	if env != "" {
		b.WriteString("\n\n")
		b.WriteString(env)
	}
	if reinforce {
		b.WriteString(reinforcementDirective)
	}
	messages = append(messages, UserMessage(b.String()))

	return ChatRequest{Messages: messages, Tools: run.registry.Definitions()}
}

// buildThinkActRecord creates the phase-one record: tool-call rows carry nil
// results until act completes. Each tool call, including a lone one, gets a
// freshly issued tool-call id.
func (a *DynamicAgent) buildThinkActRecord(run *agentRun, req ChatRequest, result StreamingResult, thinkStart int64) *ThinkActRecord {
	infos := make([]ActToolInfo, len(result.EffectiveToolCalls))
	for i, tc := range result.EffectiveToolCalls {
		infos[i] = ActToolInfo{
			ToolCallID: a.ids.NewToolCallID(),
			Name:       tc.Name,
			Parameters: string(tc.Args),
		}
	}
	thinkInput, _ := json.Marshal(req.Messages)
	return &ThinkActRecord{
		ID:                NewID(),
		ParentExecutionID: run.rec.ID,
		ThinkActID:        a.ids.NewThinkActID(),
		ThinkInput:        truncateRunes(string(thinkInput), 20_000),
		ThinkOutput:       result.EffectiveText,
		InputCharCount:    result.InputCharCount,
		OutputCharCount:   result.OutputCharCount,
		ActionNeeded:      len(result.EffectiveToolCalls) > 0,
		ThinkStartTime:    thinkStart,
		ThinkEndTime:      NowMillis(),
		ActToolInfos:      infos,
	}
}

// act dispatches the round's tool calls, persists phase-two results, runs
// the loop detector, and applies termination and error-report detection.
func (a *DynamicAgent) act(ctx context.Context, run *agentRun, thinkResult StreamingResult, thinkRec *ThinkActRecord) (AgentResult, bool) {
	if !a.interrupts.ShouldContinue(run.ec.RootPlanID) {
		return AgentResult{Status: AgentInterrupted, ErrorMessage: ErrInterrupted.Error()}, true
	}

	thinkRec.ActStartTime = NowMillis()

	reqs := make([]ParallelExecutionRequest, len(thinkResult.EffectiveToolCalls))
	sequential := false
	for i, tc := range thinkResult.EffectiveToolCalls {
		reqs[i] = ParallelExecutionRequest{
			ToolName:   tc.Name,
			Params:     tc.Args,
			ToolCallID: thinkRec.ActToolInfos[i].ToolCallID,
		}
		if tc.Name == FormInputToolName {
			sequential = true
		}
	}

	parent := ToolContextFor(run.ec)
	var results []ParallelExecutionResult
	var err error
	if sequential {
		results, err = a.dispatcher.DispatchSequential(ctx, reqs, run.registry, parent)
	} else {
		results, err = a.dispatcher.Dispatch(ctx, reqs, run.registry, parent)
	}
	if err != nil {
		return a.failAct(ctx, run, thinkRec, "tool dispatch failed: "+err.Error()), true
	}

	var (
		terminated  bool
		stepResult  string
		errorReport string
		interrupted bool
	)
	infos := make([]ActToolInfo, len(results))
	for i, r := range results {
		output := r.Output
		if r.Status == ExecError && r.Error != "" {
			output = "error: " + r.Error
		}
		infos[i] = thinkRec.ActToolInfos[i]
		infos[i].Result = &output
		thinkRec.ActToolInfos[i].Result = &output

		if r.Status == ExecInterrupted {
			interrupted = true
		}

		name := reqs[i].ToolName
		if tool, ok := run.registry.Get(name); ok {
			if term, ok := tool.(TerminableTool); ok && term.CanTerminate() && r.Status == ExecSuccess {
				terminated = true
				stepResult = r.Output
			}
			if rep, ok := tool.(ErrorReportingTool); ok {
				if msg := rep.ErrorMessage(reqs[i].Params); msg != "" {
					errorReport = msg
				}
			}
		}

		// Repeated-result loop detector: exact equality over the last
		// resultWindowSize processed outputs.
		run.resultWindow = append(run.resultWindow, output)
		if len(run.resultWindow) > resultWindowSize {
			run.resultWindow = run.resultWindow[1:]
		}
		if len(run.resultWindow) == resultWindowSize && allEqual(run.resultWindow) {
			a.logger.Info("repeated tool results, forcing memory compression",
				"agent", a.name, "step", run.step.StepID)
			run.messages = a.memory.ForceCompress(ctx, run.messages)
			run.resultWindow = run.resultWindow[:0]
		}
	}

	// Persist phase two.
	if err := a.recorder.RecordActionResult(ctx, infos); err != nil {
		a.logger.Warn("record action result failed", "agent", a.name, "error", err)
	}
	thinkRec.ActEndTime = NowMillis()
	thinkRec.ActionResult = summarizeResults(results)
	if errorReport != "" {
		thinkRec.ErrorMessage = errorReport
	}
	if err := a.recorder.RecordThinkActEnd(ctx, thinkRec); err != nil {
		a.logger.Warn("record think-act end failed", "agent", a.name, "error", err)
	}

	// Fold the round into the message history: one assistant turn with the
	// tool calls, then one tool message per result. Only assistant and tool
	// messages (plus pinned summaries) are retained across rounds.
	run.messages = append(run.messages, ChatMessage{
		Role:      "assistant",
		Content:   thinkResult.EffectiveText,
		ToolCalls: thinkResult.EffectiveToolCalls,
	})
	for i, r := range results {
		content := r.Output
		if r.Status != ExecSuccess {
			content = "error: " + r.Error
		}
		callID := thinkResult.EffectiveToolCalls[i].ID
		if callID == "" {
			callID = infos[i].ToolCallID
		}
		run.messages = append(run.messages, ToolResultMessage(callID, content))
	}

	switch {
	case errorReport != "":
		run.step.ErrorMessage = errorReport
		return AgentResult{Status: AgentFailed, ErrorMessage: errorReport}, true
	case interrupted:
		return AgentResult{Status: AgentInterrupted, ErrorMessage: ErrInterrupted.Error()}, true
	case terminated:
		return AgentResult{Status: AgentFinished, Result: stepResult}, true
	}
	return AgentResult{}, false
}

// failStep records a failed think round and returns a FAILED result.
func (a *DynamicAgent) failStep(ctx context.Context, run *agentRun, thinkStart int64, result StreamingResult, msg string) AgentResult {
	rec := &ThinkActRecord{
		ID:                NewID(),
		ParentExecutionID: run.rec.ID,
		ThinkActID:        a.ids.NewThinkActID(),
		ThinkOutput:       result.EffectiveText,
		InputCharCount:    result.InputCharCount,
		OutputCharCount:   result.OutputCharCount,
		ErrorMessage:      msg,
		ThinkStartTime:    thinkStart,
		ThinkEndTime:      NowMillis(),
	}
	if err := a.recorder.RecordThinkingAndAction(ctx, rec); err != nil {
		a.logger.Warn("record failed think failed", "agent", a.name, "error", err)
	}
	run.step.ErrorMessage = msg
	return AgentResult{Status: AgentFailed, ErrorMessage: msg}
}

// reportSystemError synthesizes a SystemErrorReport tool call carrying the
// latest exception and records it through the normal think/act path, so the
// exhausted retries are visible in the same shape as any other tool outcome.
func (a *DynamicAgent) reportSystemError(ctx context.Context, run *agentRun, thinkStart int64, result StreamingResult) AgentResult {
	last := run.errs[len(run.errs)-1]
	msgs := make([]string, len(run.errs))
	for i, e := range run.errs {
		msgs[i] = e.Error()
	}
	errMsg := fmt.Sprintf("LLM retries exhausted after %d attempts: %s", len(run.errs), last.Error())

	args, _ := json.Marshal(map[string]string{"error_message": errMsg})
	callID := a.ids.NewToolCallID()
	rec := &ThinkActRecord{
		ID:                NewID(),
		ParentExecutionID: run.rec.ID,
		ThinkActID:        a.ids.NewThinkActID(),
		ThinkOutput:       strings.Join(msgs, "; "),
		InputCharCount:    result.InputCharCount,
		ErrorMessage:      errMsg,
		ActionNeeded:      true,
		ThinkStartTime:    thinkStart,
		ThinkEndTime:      NowMillis(),
		ActToolInfos: []ActToolInfo{{
			ToolCallID: callID,
			Name:       SystemErrorReportToolName,
			Parameters: string(args),
		}},
	}
	if err := a.recorder.RecordThinkingAndAction(ctx, rec); err != nil {
		a.logger.Warn("record system error report failed", "agent", a.name, "error", err)
	}

	rec.ActStartTime = NowMillis()
	var tool Tool = SystemErrorReportTool{}
	if t, ok := run.registry.Get(SystemErrorReportToolName); ok {
		tool = t
	}
	res, _ := tool.Run(ctx, ToolContextFor(run.ec).Child(callID), args)
	out := res.Output
	rec.ActToolInfos[0].Result = &out
	rec.ActEndTime = NowMillis()
	if err := a.recorder.RecordActionResult(ctx, rec.ActToolInfos); err != nil {
		a.logger.Warn("record system error result failed", "agent", a.name, "error", err)
	}
	if err := a.recorder.RecordThinkActEnd(ctx, rec); err != nil {
		a.logger.Warn("record system error end failed", "agent", a.name, "error", err)
	}

	run.step.ErrorMessage = errMsg
	return AgentResult{Status: AgentFailed, ErrorMessage: errMsg}
}

// failAct records an act-phase infrastructure failure.
func (a *DynamicAgent) failAct(ctx context.Context, run *agentRun, thinkRec *ThinkActRecord, msg string) AgentResult {
	thinkRec.ErrorMessage = msg
	thinkRec.ActEndTime = NowMillis()
	if err := a.recorder.RecordThinkActEnd(ctx, thinkRec); err != nil {
		a.logger.Warn("record act failure failed", "agent", a.name, "error", err)
	}
	run.step.ErrorMessage = msg
	return AgentResult{Status: AgentFailed, ErrorMessage: msg}
}

// summarizeResults renders a compact act outcome for the think-act row.
func summarizeResults(results []ParallelExecutionResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		switch r.Status {
		case ExecSuccess:
			parts[i] = fmt.Sprintf("[%d] %s", r.Index, truncateRunes(r.Output, 200))
		default:
			parts[i] = fmt.Sprintf("[%d] %s: %s", r.Index, r.Status, truncateRunes(r.Error, 200))
		}
	}
	return strings.Join(parts, "\n")
}

func allEqual(window []string) bool {
	for _, s := range window[1:] {
		if s != window[0] {
			return false
		}
	}
	return true
}

// truncateRunes truncates s to n runes.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
