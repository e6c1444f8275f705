package archon

import (
	"context"
	"encoding/json"
)

// Qualified names of the builtin lifecycle tools.
const (
	TerminateToolName         = "agent-terminate"
	ErrorReportToolName       = "report-error"
	SystemErrorReportToolName = "report-system-error"
)

// TerminateTool ends the step successfully. Its message argument is the
// step's final answer.
type TerminateTool struct{}

func (TerminateTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        TerminateToolName,
		Description: "Finish the current step. Call this when the step requirement is satisfied; message carries the final answer.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string", "description": "The final result of the step"}},
			"required": ["message"]
		}`),
	}
}

func (TerminateTool) Run(_ context.Context, _ ToolContext, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid terminate arguments: " + err.Error()}, nil
	}
	return ToolResult{Output: params.Message}, nil
}

func (TerminateTool) CanTerminate() bool { return true }

var _ TerminableTool = TerminateTool{}

// ErrorReportTool lets the model report an unrecoverable step problem. The
// report is recorded through the normal think/act path and its message is
// attached to the step as the failure cause.
type ErrorReportTool struct{}

func (ErrorReportTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ErrorReportToolName,
		Description: "Report that the step cannot be completed. error_message explains the cause.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"error_message": {"type": "string"}},
			"required": ["error_message"]
		}`),
	}
}

func (ErrorReportTool) Run(_ context.Context, _ ToolContext, args json.RawMessage) (ToolResult, error) {
	return ToolResult{Output: extractErrorMessage(args)}, nil
}

func (ErrorReportTool) CanTerminate() bool { return true }

func (ErrorReportTool) ErrorMessage(args json.RawMessage) string {
	return extractErrorMessage(args)
}

var _ TerminableTool = ErrorReportTool{}
var _ ErrorReportingTool = ErrorReportTool{}

// SystemErrorReportTool is the engine-synthesized variant: when all LLM
// retries are exhausted the agent records a call to this tool carrying the
// latest exception, so the failure is visible in the same shape as any
// other tool outcome.
type SystemErrorReportTool struct{}

func (SystemErrorReportTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        SystemErrorReportToolName,
		Description: "Engine-internal: records an infrastructure failure that stopped the step.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"error_message": {"type": "string"}},
			"required": ["error_message"]
		}`),
	}
}

func (SystemErrorReportTool) Run(_ context.Context, _ ToolContext, args json.RawMessage) (ToolResult, error) {
	return ToolResult{Output: extractErrorMessage(args)}, nil
}

func (SystemErrorReportTool) CanTerminate() bool { return true }

func (SystemErrorReportTool) ErrorMessage(args json.RawMessage) string {
	return extractErrorMessage(args)
}

var _ TerminableTool = SystemErrorReportTool{}
var _ ErrorReportingTool = SystemErrorReportTool{}

func extractErrorMessage(args json.RawMessage) string {
	var params struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return string(args)
	}
	return params.ErrorMessage
}
