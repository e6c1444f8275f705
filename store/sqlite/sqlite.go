// Package sqlite implements archon.Recorder using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/archonlabs/archon"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements archon.Recorder backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ archon.Recorder = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS plan_execution_record (
			id TEXT PRIMARY KEY,
			current_plan_id TEXT NOT NULL UNIQUE,
			root_plan_id TEXT NOT NULL,
			parent_plan_id TEXT,
			tool_call_id TEXT,
			title TEXT NOT NULL,
			user_request TEXT NOT NULL,
			summary TEXT,
			result TEXT,
			error_message TEXT,
			completed INTEGER NOT NULL DEFAULT 0,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			current_step_index INTEGER NOT NULL DEFAULT 0,
			model_name TEXT,
			upload_key TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS plan_step (
			step_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			step_requirement TEXT NOT NULL,
			agent_name TEXT,
			status TEXT NOT NULL,
			result TEXT,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS agent_execution_record (
			id TEXT PRIMARY KEY,
			step_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT,
			agent_name TEXT NOT NULL,
			agent_description TEXT,
			agent_request TEXT,
			result TEXT,
			error_message TEXT,
			status TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			max_steps INTEGER NOT NULL DEFAULT 0,
			current_step INTEGER NOT NULL DEFAULT 0,
			model_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS think_act_record (
			id TEXT PRIMARY KEY,
			parent_execution_id TEXT NOT NULL,
			think_act_id TEXT NOT NULL,
			think_input TEXT,
			think_output TEXT,
			error_message TEXT,
			input_char_count INTEGER NOT NULL DEFAULT 0,
			output_char_count INTEGER NOT NULL DEFAULT 0,
			action_needed INTEGER NOT NULL DEFAULT 0,
			action_result TEXT,
			think_start_time INTEGER,
			think_end_time INTEGER,
			act_start_time INTEGER,
			act_end_time INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS act_tool_info (
			id TEXT PRIMARY KEY,
			think_act_record_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			parameters TEXT,
			result TEXT
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_plan_root ON plan_execution_record(root_plan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_tool_call ON plan_execution_record(tool_call_id)`,
		`CREATE INDEX IF NOT EXISTS idx_step_plan ON plan_step(plan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_step ON agent_execution_record(step_id)`,
		`CREATE INDEX IF NOT EXISTS idx_think_act_parent ON think_act_record(parent_execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_info_call ON act_tool_info(tool_call_id)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// RecordPlanStart inserts or replaces the plan row and its step rows.
func (s *Store) RecordPlanStart(ctx context.Context, plan *archon.Plan) error {
	start := time.Now()
	s.logger.Debug("sqlite: record plan start",
		"plan", plan.CurrentPlanID, "root", plan.RootPlanID, "steps", len(plan.Steps))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_execution_record
			(id, current_plan_id, root_plan_id, parent_plan_id, tool_call_id,
			 title, user_request, completed, start_time, current_step_index,
			 model_name, upload_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(current_plan_id) DO UPDATE SET
			title = excluded.title,
			user_request = excluded.user_request,
			start_time = excluded.start_time`,
		archon.NewID(), plan.CurrentPlanID, plan.RootPlanID,
		nullStr(plan.ParentPlanID), nullStr(plan.ToolCallID),
		plan.Title, plan.UserRequest, plan.StartTime, plan.CurrentStepIndex,
		nullStr(plan.ModelName), nullStr(plan.UploadKey))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for _, step := range plan.Steps {
		if step.StepID == "" {
			return fmt.Errorf("step %d: missing step id", step.StepIndex)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_step
				(step_id, plan_id, step_index, step_requirement, agent_name, status)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(step_id) DO UPDATE SET
				step_index = excluded.step_index,
				step_requirement = excluded.step_requirement`,
			step.StepID, plan.CurrentPlanID, step.StepIndex,
			step.StepRequirement, nullStr(step.AgentName), string(step.Status))
		if err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("sqlite: plan start recorded", "plan", plan.CurrentPlanID, "duration", time.Since(start))
	return nil
}

// RecordStepStart marks the step in progress and advances the plan's current
// step index.
func (s *Store) RecordStepStart(ctx context.Context, step archon.Step, planID string) error {
	s.logger.Debug("sqlite: record step start", "step", step.StepID, "plan", planID, "index", step.StepIndex)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE plan_step SET status = ?, agent_name = ? WHERE step_id = ?`,
		string(step.Status), nullStr(step.AgentName), step.StepID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %s: %w", step.StepID, archon.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE plan_execution_record SET current_step_index = ? WHERE current_plan_id = ?`,
		step.StepIndex, planID); err != nil {
		return fmt.Errorf("update plan index: %w", err)
	}
	return tx.Commit()
}

// RecordStepEnd writes the step's terminal status, result, and error.
func (s *Store) RecordStepEnd(ctx context.Context, step archon.Step, planID string) error {
	s.logger.Debug("sqlite: record step end", "step", step.StepID, "plan", planID, "status", step.Status)
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_step SET status = ?, result = ?, error_message = ? WHERE step_id = ?`,
		string(step.Status), nullStr(step.Result), nullStr(step.ErrorMessage), step.StepID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %s: %w", step.StepID, archon.ErrNotFound)
	}
	return nil
}

// RecordPlanComplete sets completed, end time, summary, result, and error.
func (s *Store) RecordPlanComplete(ctx context.Context, plan *archon.Plan) error {
	s.logger.Debug("sqlite: record plan complete", "plan", plan.CurrentPlanID, "error", plan.ErrorMessage != "")
	res, err := s.db.ExecContext(ctx, `
		UPDATE plan_execution_record
		SET completed = 1, end_time = ?, summary = ?, result = ?, error_message = ?
		WHERE current_plan_id = ?`,
		plan.EndTime, nullStr(plan.Summary), nullStr(plan.Result),
		nullStr(plan.ErrorMessage), plan.CurrentPlanID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", plan.CurrentPlanID, archon.ErrNotFound)
	}
	return nil
}

// RecordAgentStart inserts the agent execution record. A second start for
// the same step upserts onto the existing row, keeping at most one record
// per step.
func (s *Store) RecordAgentStart(ctx context.Context, rec *archon.AgentExecutionRecord) error {
	s.logger.Debug("sqlite: record agent start", "agent", rec.AgentName, "step", rec.StepID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_execution_record
			(id, step_id, conversation_id, agent_name, agent_description,
			 agent_request, status, start_time, max_steps, current_step, model_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(step_id) DO UPDATE SET
			status = excluded.status,
			start_time = excluded.start_time,
			current_step = excluded.current_step,
			result = NULL,
			error_message = NULL,
			end_time = NULL`,
		rec.ID, rec.StepID, nullStr(rec.ConversationID), rec.AgentName,
		nullStr(rec.AgentDescription), nullStr(rec.AgentRequest),
		string(rec.Status), rec.StartTime, rec.MaxSteps, rec.CurrentStep,
		nullStr(rec.ModelName))
	if err != nil {
		return fmt.Errorf("insert agent record: %w", err)
	}
	return nil
}

// RecordAgentEnd writes the agent's terminal state.
func (s *Store) RecordAgentEnd(ctx context.Context, rec *archon.AgentExecutionRecord) error {
	s.logger.Debug("sqlite: record agent end", "agent", rec.AgentName, "step", rec.StepID, "status", rec.Status)
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_execution_record
		SET status = ?, result = ?, error_message = ?, end_time = ?, current_step = ?
		WHERE step_id = ?`,
		string(rec.Status), nullStr(rec.Result), nullStr(rec.ErrorMessage),
		rec.EndTime, rec.CurrentStep, rec.StepID)
	if err != nil {
		return fmt.Errorf("update agent record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %s: %w", rec.StepID, archon.ErrNotFound)
	}
	return nil
}

// RecordThinkingAndAction inserts the think-act row plus its tool-call rows
// with null results (phase one).
func (s *Store) RecordThinkingAndAction(ctx context.Context, rec *archon.ThinkActRecord) error {
	start := time.Now()
	s.logger.Debug("sqlite: record think-act", "id", rec.ID, "parent", rec.ParentExecutionID, "tools", len(rec.ActToolInfos))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO think_act_record
			(id, parent_execution_id, think_act_id, think_input, think_output,
			 error_message, input_char_count, output_char_count, action_needed,
			 think_start_time, think_end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.ParentExecutionID, rec.ThinkActID,
		nullStr(rec.ThinkInput), nullStr(rec.ThinkOutput), nullStr(rec.ErrorMessage),
		rec.InputCharCount, rec.OutputCharCount, boolInt(rec.ActionNeeded),
		rec.ThinkStartTime, rec.ThinkEndTime)
	if err != nil {
		return fmt.Errorf("insert think-act: %w", err)
	}

	for _, info := range rec.ActToolInfos {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO act_tool_info (id, think_act_record_id, tool_call_id, name, parameters, result)
			VALUES (?, ?, ?, ?, ?, NULL)
			ON CONFLICT(tool_call_id) DO NOTHING`,
			archon.NewID(), rec.ID, info.ToolCallID, info.Name, nullStr(info.Parameters))
		if err != nil {
			return fmt.Errorf("insert tool info: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("sqlite: think-act recorded", "id", rec.ID, "duration", time.Since(start))
	return nil
}

// RecordThinkActEnd updates the act-phase columns of the think-act row.
func (s *Store) RecordThinkActEnd(ctx context.Context, rec *archon.ThinkActRecord) error {
	s.logger.Debug("sqlite: record think-act end", "id", rec.ID)
	_, err := s.db.ExecContext(ctx, `
		UPDATE think_act_record
		SET action_result = ?, error_message = ?, act_start_time = ?, act_end_time = ?
		WHERE id = ?`,
		nullStr(rec.ActionResult), nullStr(rec.ErrorMessage),
		rec.ActStartTime, rec.ActEndTime, rec.ID)
	if err != nil {
		return fmt.Errorf("update think-act: %w", err)
	}
	return nil
}

// RecordActionResult fills tool-call results in (phase two). Rows missing
// from phase one are inserted — out-of-order writes are tolerated.
func (s *Store) RecordActionResult(ctx context.Context, infos []archon.ActToolInfo) error {
	if len(infos) == 0 {
		return nil
	}
	s.logger.Debug("sqlite: record action results", "count", len(infos))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, info := range infos {
		var result any
		if info.Result != nil {
			result = *info.Result
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE act_tool_info SET result = ? WHERE tool_call_id = ?`,
			result, info.ToolCallID)
		if err != nil {
			return fmt.Errorf("update tool info: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO act_tool_info (id, think_act_record_id, tool_call_id, name, parameters, result)
				VALUES (?, '', ?, ?, ?, ?)`,
				archon.NewID(), info.ToolCallID, info.Name, nullStr(info.Parameters), result)
			if err != nil {
				return fmt.Errorf("insert tool info: %w", err)
			}
		}
	}
	return tx.Commit()
}

// GetPlan loads one plan with its steps.
func (s *Store) GetPlan(ctx context.Context, planID string) (archon.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT current_plan_id, root_plan_id, parent_plan_id, tool_call_id,
		       title, user_request, summary, result, error_message, completed,
		       start_time, end_time, current_step_index, model_name, upload_key
		FROM plan_execution_record WHERE current_plan_id = ?`, planID)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return archon.Plan{}, fmt.Errorf("plan %s: %w", planID, archon.ErrNotFound)
		}
		return archon.Plan{}, fmt.Errorf("query plan: %w", err)
	}
	steps, err := s.stepsForPlans(ctx, []string{planID})
	if err != nil {
		return archon.Plan{}, err
	}
	plan.Steps = steps[planID]
	return plan, nil
}

// ListPlansByRoot loads every plan in a tree, steps included.
func (s *Store) ListPlansByRoot(ctx context.Context, rootPlanID string) ([]archon.Plan, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT current_plan_id, root_plan_id, parent_plan_id, tool_call_id,
		       title, user_request, summary, result, error_message, completed,
		       start_time, end_time, current_step_index, model_name, upload_key
		FROM plan_execution_record WHERE root_plan_id = ? ORDER BY start_time`, rootPlanID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []archon.Plan
	var ids []string
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
		ids = append(ids, plan.CurrentPlanID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	steps, err := s.stepsForPlans(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		plans[i].Steps = steps[plans[i].CurrentPlanID]
	}
	s.logger.Debug("sqlite: plans listed", "root", rootPlanID, "count", len(plans), "duration", time.Since(start))
	return plans, nil
}

// GetAgentExecutionDetail loads the step's agent record with think-act steps
// and tool calls attached in two follow-up queries (no per-row N+1).
func (s *Store) GetAgentExecutionDetail(ctx context.Context, stepID string) (archon.AgentExecutionRecord, error) {
	recs, err := s.agentRecords(ctx, []string{stepID})
	if err != nil {
		return archon.AgentExecutionRecord{}, err
	}
	if len(recs) == 0 {
		return archon.AgentExecutionRecord{}, fmt.Errorf("step %s: %w", stepID, archon.ErrNotFound)
	}
	rec := recs[0]

	taRows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_execution_id, think_act_id, think_input, think_output,
		       error_message, input_char_count, output_char_count, action_needed,
		       action_result, think_start_time, think_end_time, act_start_time, act_end_time
		FROM think_act_record WHERE parent_execution_id = ? ORDER BY think_start_time, id`, rec.ID)
	if err != nil {
		return archon.AgentExecutionRecord{}, fmt.Errorf("query think-acts: %w", err)
	}
	defer taRows.Close()

	var taIDs []string
	for taRows.Next() {
		var ta archon.ThinkActRecord
		var thinkInput, thinkOutput, errMsg, actionResult sql.NullString
		var actionNeeded int
		var thinkStart, thinkEnd, actStart, actEnd sql.NullInt64
		if err := taRows.Scan(&ta.ID, &ta.ParentExecutionID, &ta.ThinkActID,
			&thinkInput, &thinkOutput, &errMsg,
			&ta.InputCharCount, &ta.OutputCharCount, &actionNeeded, &actionResult,
			&thinkStart, &thinkEnd, &actStart, &actEnd); err != nil {
			return archon.AgentExecutionRecord{}, fmt.Errorf("scan think-act: %w", err)
		}
		ta.ThinkInput = thinkInput.String
		ta.ThinkOutput = thinkOutput.String
		ta.ErrorMessage = errMsg.String
		ta.ActionResult = actionResult.String
		ta.ActionNeeded = actionNeeded != 0
		ta.ThinkStartTime = thinkStart.Int64
		ta.ThinkEndTime = thinkEnd.Int64
		ta.ActStartTime = actStart.Int64
		ta.ActEndTime = actEnd.Int64
		rec.ThinkActSteps = append(rec.ThinkActSteps, ta)
		taIDs = append(taIDs, ta.ID)
	}
	if err := taRows.Err(); err != nil {
		return archon.AgentExecutionRecord{}, err
	}
	if len(taIDs) == 0 {
		return rec, nil
	}

	infoRows, err := s.db.QueryContext(ctx,
		`SELECT think_act_record_id, tool_call_id, name, parameters, result
		 FROM act_tool_info WHERE think_act_record_id IN (`+placeholders(len(taIDs))+`) ORDER BY rowid`,
		anySlice(taIDs)...)
	if err != nil {
		return archon.AgentExecutionRecord{}, fmt.Errorf("query tool infos: %w", err)
	}
	defer infoRows.Close()

	infosByTA := make(map[string][]archon.ActToolInfo)
	for infoRows.Next() {
		var taID string
		var info archon.ActToolInfo
		var params, result sql.NullString
		if err := infoRows.Scan(&taID, &info.ToolCallID, &info.Name, &params, &result); err != nil {
			return archon.AgentExecutionRecord{}, fmt.Errorf("scan tool info: %w", err)
		}
		info.Parameters = params.String
		if result.Valid {
			v := result.String
			info.Result = &v
		}
		infosByTA[taID] = append(infosByTA[taID], info)
	}
	if err := infoRows.Err(); err != nil {
		return archon.AgentExecutionRecord{}, err
	}
	for i := range rec.ThinkActSteps {
		rec.ThinkActSteps[i].ActToolInfos = infosByTA[rec.ThinkActSteps[i].ID]
	}
	return rec, nil
}

// ListAgentExecutions loads agent records for the given steps without
// think-act detail.
func (s *Store) ListAgentExecutions(ctx context.Context, stepIDs []string) ([]archon.AgentExecutionRecord, error) {
	return s.agentRecords(ctx, stepIDs)
}

// FindToolCall looks a tool-call row up by id.
func (s *Store) FindToolCall(ctx context.Context, toolCallID string) (archon.ActToolInfo, error) {
	var info archon.ActToolInfo
	var params, result sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT tool_call_id, name, parameters, result FROM act_tool_info WHERE tool_call_id = ?`,
		toolCallID).Scan(&info.ToolCallID, &info.Name, &params, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return archon.ActToolInfo{}, fmt.Errorf("tool call %s: %w", toolCallID, archon.ErrNotFound)
	}
	if err != nil {
		return archon.ActToolInfo{}, fmt.Errorf("query tool call: %w", err)
	}
	info.Parameters = params.String
	if result.Valid {
		v := result.String
		info.Result = &v
	}
	return info, nil
}

// DeletePlanTree removes every plan in the tree and all owned records.
func (s *Store) DeletePlanTree(ctx context.Context, rootPlanID string) error {
	s.logger.Debug("sqlite: delete plan tree", "root", rootPlanID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Plans own steps and agent records; agent records own think-acts,
	// which own tool infos. Walk the ownership chain bottom-up.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM act_tool_info WHERE think_act_record_id IN (
			SELECT tar.id FROM think_act_record tar
			JOIN agent_execution_record aer ON aer.id = tar.parent_execution_id
			JOIN plan_step ps ON ps.step_id = aer.step_id
			JOIN plan_execution_record per ON per.current_plan_id = ps.plan_id
			WHERE per.root_plan_id = ?)`, rootPlanID); err != nil {
		return fmt.Errorf("delete tool infos: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM think_act_record WHERE parent_execution_id IN (
			SELECT aer.id FROM agent_execution_record aer
			JOIN plan_step ps ON ps.step_id = aer.step_id
			JOIN plan_execution_record per ON per.current_plan_id = ps.plan_id
			WHERE per.root_plan_id = ?)`, rootPlanID); err != nil {
		return fmt.Errorf("delete think-acts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM agent_execution_record WHERE step_id IN (
			SELECT ps.step_id FROM plan_step ps
			JOIN plan_execution_record per ON per.current_plan_id = ps.plan_id
			WHERE per.root_plan_id = ?)`, rootPlanID); err != nil {
		return fmt.Errorf("delete agent records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM plan_step WHERE plan_id IN (
			SELECT current_plan_id FROM plan_execution_record WHERE root_plan_id = ?)`, rootPlanID); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM plan_execution_record WHERE root_plan_id = ?`, rootPlanID); err != nil {
		return fmt.Errorf("delete plans: %w", err)
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (archon.Plan, error) {
	var p archon.Plan
	var parent, toolCall, summary, result, errMsg, model, uploadKey sql.NullString
	var completed int
	var endTime sql.NullInt64
	err := row.Scan(&p.CurrentPlanID, &p.RootPlanID, &parent, &toolCall,
		&p.Title, &p.UserRequest, &summary, &result, &errMsg, &completed,
		&p.StartTime, &endTime, &p.CurrentStepIndex, &model, &uploadKey)
	if err != nil {
		return archon.Plan{}, err
	}
	p.ParentPlanID = parent.String
	p.ToolCallID = toolCall.String
	p.Summary = summary.String
	p.Result = result.String
	p.ErrorMessage = errMsg.String
	p.Completed = completed != 0
	p.EndTime = endTime.Int64
	p.ModelName = model.String
	p.UploadKey = uploadKey.String
	return p, nil
}

func (s *Store) stepsForPlans(ctx context.Context, planIDs []string) (map[string][]archon.Step, error) {
	if len(planIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, step_id, step_index, step_requirement, agent_name, status, result, error_message
		 FROM plan_step WHERE plan_id IN (`+placeholders(len(planIDs))+`) ORDER BY plan_id, step_index`,
		anySlice(planIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	byPlan := make(map[string][]archon.Step)
	for rows.Next() {
		var planID string
		var step archon.Step
		var agent, result, errMsg sql.NullString
		var status string
		if err := rows.Scan(&planID, &step.StepID, &step.StepIndex,
			&step.StepRequirement, &agent, &status, &result, &errMsg); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.AgentName = agent.String
		step.Status = archon.StepStatus(status)
		step.Result = result.String
		step.ErrorMessage = errMsg.String
		byPlan[planID] = append(byPlan[planID], step)
	}
	return byPlan, rows.Err()
}

func (s *Store) agentRecords(ctx context.Context, stepIDs []string) ([]archon.AgentExecutionRecord, error) {
	if len(stepIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_id, conversation_id, agent_name, agent_description,
		       agent_request, result, error_message, status, start_time,
		       end_time, max_steps, current_step, model_name
		FROM agent_execution_record WHERE step_id IN (`+placeholders(len(stepIDs))+`) ORDER BY start_time`,
		anySlice(stepIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query agent records: %w", err)
	}
	defer rows.Close()

	var recs []archon.AgentExecutionRecord
	for rows.Next() {
		var rec archon.AgentExecutionRecord
		var conv, desc, req, result, errMsg, model sql.NullString
		var status string
		var endTime sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.StepID, &conv, &rec.AgentName, &desc,
			&req, &result, &errMsg, &status, &rec.StartTime,
			&endTime, &rec.MaxSteps, &rec.CurrentStep, &model); err != nil {
			return nil, fmt.Errorf("scan agent record: %w", err)
		}
		rec.ConversationID = conv.String
		rec.AgentDescription = desc.String
		rec.AgentRequest = req.String
		rec.Result = result.String
		rec.ErrorMessage = errMsg.String
		rec.Status = archon.AgentStatus(status)
		rec.EndTime = endTime.Int64
		rec.ModelName = model.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
