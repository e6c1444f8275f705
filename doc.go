// Package archon is the runtime core of an autonomous task-execution
// platform. It converts a user request into a hierarchical plan of ordered
// steps and drives each step through a ReAct-style agent that iteratively
// calls an LLM and invokes tools until the step completes.
//
// The building blocks compose explicitly:
//
//	ids := archon.NewIDDispatcher()
//	interrupts := archon.NewInterruptionManager()
//	pools := archon.NewPoolProvider(archon.WithPoolSizes(4, 4, 2))
//	dispatcher := archon.NewParallelExecutionService(pools, ids, interrupts, logger)
//	memory := archon.NewMemoryLimitService(provider)
//	waits := archon.NewUserInputWaitRegistry()
//
//	executor := archon.NewPlanExecutor(recorder, ids, interrupts, pools, waits, toolFactory)
//	executor.RegisterAgent(archon.NewDynamicAgent("DEFAULT_AGENT", provider,
//		recorder, ids, interrupts, memory, dispatcher))
//
//	result, err := executor.Execute(ctx, &archon.Plan{
//		Title:       "demo",
//		UserRequest: "write hello to a file",
//		Steps:       []archon.Step{{StepRequirement: "write hello to a.txt"}},
//	})
//
// A tool invocation may itself spawn a sub-plan (SubPlanTool), producing a
// tree of executions linked by tool-call ids. The recorder persists every
// plan, step, think-act cycle, and tool call; HierarchyReader rebuilds the
// tree for clients. Cancellation is cooperative: InterruptionManager flags
// are polled at every safe point, and interrupted work unwinds with
// ErrInterrupted.
//
// Store implementations live in store/sqlite and store/postgres, the HTTP
// inspection surface in api, and OpenTelemetry wiring in observer.
package archon
