// Package postgres implements archon.Recorder using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archonlabs/archon"
)

// Store implements archon.Recorder backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ archon.Recorder = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
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
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			start_time BIGINT NOT NULL,
			end_time BIGINT,
			current_step_index INT NOT NULL DEFAULT 0,
			model_name TEXT,
			upload_key TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS plan_step (
			step_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			step_index INT NOT NULL,
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
			start_time BIGINT NOT NULL,
			end_time BIGINT,
			max_steps INT NOT NULL DEFAULT 0,
			current_step INT NOT NULL DEFAULT 0,
			model_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS think_act_record (
			id TEXT PRIMARY KEY,
			parent_execution_id TEXT NOT NULL,
			think_act_id TEXT NOT NULL,
			think_input TEXT,
			think_output TEXT,
			error_message TEXT,
			input_char_count INT NOT NULL DEFAULT 0,
			output_char_count INT NOT NULL DEFAULT 0,
			action_needed BOOLEAN NOT NULL DEFAULT FALSE,
			action_result TEXT,
			think_start_time BIGINT,
			think_end_time BIGINT,
			act_start_time BIGINT,
			act_end_time BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS act_tool_info (
			id TEXT PRIMARY KEY,
			think_act_record_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			parameters TEXT,
			result TEXT,
			seq BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_root ON plan_execution_record(root_plan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_tool_call ON plan_execution_record(tool_call_id)`,
		`CREATE INDEX IF NOT EXISTS idx_step_plan ON plan_step(plan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_step ON agent_execution_record(step_id)`,
		`CREATE INDEX IF NOT EXISTS idx_think_act_parent ON think_act_record(parent_execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_info_call ON act_tool_info(tool_call_id)`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

// RecordPlanStart inserts or updates the plan row and its step rows.
func (s *Store) RecordPlanStart(ctx context.Context, plan *archon.Plan) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO plan_execution_record
			(id, current_plan_id, root_plan_id, parent_plan_id, tool_call_id,
			 title, user_request, completed, start_time, current_step_index,
			 model_name, upload_key)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, FALSE, $8, $9, NULLIF($10, ''), NULLIF($11, ''))
		ON CONFLICT (current_plan_id) DO UPDATE SET
			title = EXCLUDED.title,
			user_request = EXCLUDED.user_request,
			start_time = EXCLUDED.start_time`,
		archon.NewID(), plan.CurrentPlanID, plan.RootPlanID,
		plan.ParentPlanID, plan.ToolCallID, plan.Title, plan.UserRequest,
		plan.StartTime, plan.CurrentStepIndex, plan.ModelName, plan.UploadKey)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for _, step := range plan.Steps {
		if step.StepID == "" {
			return fmt.Errorf("step %d: missing step id", step.StepIndex)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO plan_step (step_id, plan_id, step_index, step_requirement, agent_name, status)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
			ON CONFLICT (step_id) DO UPDATE SET
				step_index = EXCLUDED.step_index,
				step_requirement = EXCLUDED.step_requirement`,
			step.StepID, plan.CurrentPlanID, step.StepIndex,
			step.StepRequirement, step.AgentName, string(step.Status))
		if err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RecordStepStart marks the step in progress and advances the plan's current
// step index.
func (s *Store) RecordStepStart(ctx context.Context, step archon.Step, planID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE plan_step SET status = $1, agent_name = NULLIF($2, '') WHERE step_id = $3`,
		string(step.Status), step.AgentName, step.StepID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %s: %w", step.StepID, archon.ErrNotFound)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE plan_execution_record SET current_step_index = $1 WHERE current_plan_id = $2`,
		step.StepIndex, planID); err != nil {
		return fmt.Errorf("update plan index: %w", err)
	}
	return tx.Commit(ctx)
}

// RecordStepEnd writes the step's terminal status, result, and error.
func (s *Store) RecordStepEnd(ctx context.Context, step archon.Step, planID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_step SET status = $1, result = NULLIF($2, ''), error_message = NULLIF($3, '') WHERE step_id = $4`,
		string(step.Status), step.Result, step.ErrorMessage, step.StepID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %s: %w", step.StepID, archon.ErrNotFound)
	}
	return nil
}

// RecordPlanComplete sets completed, end time, summary, result, and error.
func (s *Store) RecordPlanComplete(ctx context.Context, plan *archon.Plan) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plan_execution_record
		SET completed = TRUE, end_time = $1, summary = NULLIF($2, ''),
		    result = NULLIF($3, ''), error_message = NULLIF($4, '')
		WHERE current_plan_id = $5`,
		plan.EndTime, plan.Summary, plan.Result, plan.ErrorMessage, plan.CurrentPlanID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %s: %w", plan.CurrentPlanID, archon.ErrNotFound)
	}
	return nil
}

// RecordAgentStart inserts the agent record, upserting on the step id.
func (s *Store) RecordAgentStart(ctx context.Context, rec *archon.AgentExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_execution_record
			(id, step_id, conversation_id, agent_name, agent_description,
			 agent_request, status, start_time, max_steps, current_step, model_name)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, NULLIF($11, ''))
		ON CONFLICT (step_id) DO UPDATE SET
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			current_step = EXCLUDED.current_step,
			result = NULL,
			error_message = NULL,
			end_time = NULL`,
		rec.ID, rec.StepID, rec.ConversationID, rec.AgentName,
		rec.AgentDescription, rec.AgentRequest, string(rec.Status),
		rec.StartTime, rec.MaxSteps, rec.CurrentStep, rec.ModelName)
	if err != nil {
		return fmt.Errorf("insert agent record: %w", err)
	}
	return nil
}

// RecordAgentEnd writes the agent's terminal state.
func (s *Store) RecordAgentEnd(ctx context.Context, rec *archon.AgentExecutionRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agent_execution_record
		SET status = $1, result = NULLIF($2, ''), error_message = NULLIF($3, ''),
		    end_time = $4, current_step = $5
		WHERE step_id = $6`,
		string(rec.Status), rec.Result, rec.ErrorMessage, rec.EndTime,
		rec.CurrentStep, rec.StepID)
	if err != nil {
		return fmt.Errorf("update agent record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %s: %w", rec.StepID, archon.ErrNotFound)
	}
	return nil
}

// RecordThinkingAndAction inserts the think-act row plus tool-call rows with
// null results (phase one).
func (s *Store) RecordThinkingAndAction(ctx context.Context, rec *archon.ThinkActRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO think_act_record
			(id, parent_execution_id, think_act_id, think_input, think_output,
			 error_message, input_char_count, output_char_count, action_needed,
			 think_start_time, think_end_time)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ParentExecutionID, rec.ThinkActID, rec.ThinkInput,
		rec.ThinkOutput, rec.ErrorMessage, rec.InputCharCount,
		rec.OutputCharCount, rec.ActionNeeded, rec.ThinkStartTime, rec.ThinkEndTime)
	if err != nil {
		return fmt.Errorf("insert think-act: %w", err)
	}

	for _, info := range rec.ActToolInfos {
		_, err = tx.Exec(ctx, `
			INSERT INTO act_tool_info (id, think_act_record_id, tool_call_id, name, parameters, result)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULL)
			ON CONFLICT (tool_call_id) DO NOTHING`,
			archon.NewID(), rec.ID, info.ToolCallID, info.Name, info.Parameters)
		if err != nil {
			return fmt.Errorf("insert tool info: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RecordThinkActEnd updates the act-phase columns.
func (s *Store) RecordThinkActEnd(ctx context.Context, rec *archon.ThinkActRecord) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE think_act_record
		SET action_result = NULLIF($1, ''), error_message = NULLIF($2, ''),
		    act_start_time = $3, act_end_time = $4
		WHERE id = $5`,
		rec.ActionResult, rec.ErrorMessage, rec.ActStartTime, rec.ActEndTime, rec.ID)
	if err != nil {
		return fmt.Errorf("update think-act: %w", err)
	}
	return nil
}

// RecordActionResult fills tool-call results in (phase two), inserting rows
// that phase one never wrote.
func (s *Store) RecordActionResult(ctx context.Context, infos []archon.ActToolInfo) error {
	if len(infos) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, info := range infos {
		var result *string
		if info.Result != nil {
			result = info.Result
		}
		tag, err := tx.Exec(ctx,
			`UPDATE act_tool_info SET result = $1 WHERE tool_call_id = $2`,
			result, info.ToolCallID)
		if err != nil {
			return fmt.Errorf("update tool info: %w", err)
		}
		if tag.RowsAffected() == 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO act_tool_info (id, think_act_record_id, tool_call_id, name, parameters, result)
				VALUES ($1, '', $2, $3, NULLIF($4, ''), $5)`,
				archon.NewID(), info.ToolCallID, info.Name, info.Parameters, result)
			if err != nil {
				return fmt.Errorf("insert tool info: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

// GetPlan loads one plan with its steps.
func (s *Store) GetPlan(ctx context.Context, planID string) (archon.Plan, error) {
	row := s.pool.QueryRow(ctx, planSelect+` WHERE current_plan_id = $1`, planID)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	rows, err := s.pool.Query(ctx, planSelect+` WHERE root_plan_id = $1 ORDER BY start_time`, rootPlanID)
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
	return plans, nil
}

// GetAgentExecutionDetail loads the step's agent record with think-act steps
// and tool calls attached.
func (s *Store) GetAgentExecutionDetail(ctx context.Context, stepID string) (archon.AgentExecutionRecord, error) {
	recs, err := s.agentRecords(ctx, []string{stepID})
	if err != nil {
		return archon.AgentExecutionRecord{}, err
	}
	if len(recs) == 0 {
		return archon.AgentExecutionRecord{}, fmt.Errorf("step %s: %w", stepID, archon.ErrNotFound)
	}
	rec := recs[0]

	taRows, err := s.pool.Query(ctx, `
		SELECT id, parent_execution_id, think_act_id,
		       COALESCE(think_input, ''), COALESCE(think_output, ''),
		       COALESCE(error_message, ''), input_char_count, output_char_count,
		       action_needed, COALESCE(action_result, ''),
		       COALESCE(think_start_time, 0), COALESCE(think_end_time, 0),
		       COALESCE(act_start_time, 0), COALESCE(act_end_time, 0)
		FROM think_act_record WHERE parent_execution_id = $1 ORDER BY think_start_time, id`, rec.ID)
	if err != nil {
		return archon.AgentExecutionRecord{}, fmt.Errorf("query think-acts: %w", err)
	}
	defer taRows.Close()

	var taIDs []string
	for taRows.Next() {
		var ta archon.ThinkActRecord
		if err := taRows.Scan(&ta.ID, &ta.ParentExecutionID, &ta.ThinkActID,
			&ta.ThinkInput, &ta.ThinkOutput, &ta.ErrorMessage,
			&ta.InputCharCount, &ta.OutputCharCount, &ta.ActionNeeded,
			&ta.ActionResult, &ta.ThinkStartTime, &ta.ThinkEndTime,
			&ta.ActStartTime, &ta.ActEndTime); err != nil {
			return archon.AgentExecutionRecord{}, fmt.Errorf("scan think-act: %w", err)
		}
		rec.ThinkActSteps = append(rec.ThinkActSteps, ta)
		taIDs = append(taIDs, ta.ID)
	}
	if err := taRows.Err(); err != nil {
		return archon.AgentExecutionRecord{}, err
	}
	if len(taIDs) == 0 {
		return rec, nil
	}

	infoRows, err := s.pool.Query(ctx, `
		SELECT think_act_record_id, tool_call_id, name, COALESCE(parameters, ''), result
		FROM act_tool_info WHERE think_act_record_id = ANY($1) ORDER BY seq`, taIDs)
	if err != nil {
		return archon.AgentExecutionRecord{}, fmt.Errorf("query tool infos: %w", err)
	}
	defer infoRows.Close()

	infosByTA := make(map[string][]archon.ActToolInfo)
	for infoRows.Next() {
		var taID string
		var info archon.ActToolInfo
		if err := infoRows.Scan(&taID, &info.ToolCallID, &info.Name, &info.Parameters, &info.Result); err != nil {
			return archon.AgentExecutionRecord{}, fmt.Errorf("scan tool info: %w", err)
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

// ListAgentExecutions loads agent records without think-act detail.
func (s *Store) ListAgentExecutions(ctx context.Context, stepIDs []string) ([]archon.AgentExecutionRecord, error) {
	return s.agentRecords(ctx, stepIDs)
}

// FindToolCall looks a tool-call row up by id.
func (s *Store) FindToolCall(ctx context.Context, toolCallID string) (archon.ActToolInfo, error) {
	var info archon.ActToolInfo
	err := s.pool.QueryRow(ctx,
		`SELECT tool_call_id, name, COALESCE(parameters, ''), result FROM act_tool_info WHERE tool_call_id = $1`,
		toolCallID).Scan(&info.ToolCallID, &info.Name, &info.Parameters, &info.Result)
	if errors.Is(err, pgx.ErrNoRows) {
		return archon.ActToolInfo{}, fmt.Errorf("tool call %s: %w", toolCallID, archon.ErrNotFound)
	}
	if err != nil {
		return archon.ActToolInfo{}, fmt.Errorf("query tool call: %w", err)
	}
	return info, nil
}

// DeletePlanTree removes every plan in the tree and all owned records.
func (s *Store) DeletePlanTree(ctx context.Context, rootPlanID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	queries := []string{
		`DELETE FROM act_tool_info WHERE think_act_record_id IN (
			SELECT tar.id FROM think_act_record tar
			JOIN agent_execution_record aer ON aer.id = tar.parent_execution_id
			JOIN plan_step ps ON ps.step_id = aer.step_id
			JOIN plan_execution_record per ON per.current_plan_id = ps.plan_id
			WHERE per.root_plan_id = $1)`,
		`DELETE FROM think_act_record WHERE parent_execution_id IN (
			SELECT aer.id FROM agent_execution_record aer
			JOIN plan_step ps ON ps.step_id = aer.step_id
			JOIN plan_execution_record per ON per.current_plan_id = ps.plan_id
			WHERE per.root_plan_id = $1)`,
		`DELETE FROM agent_execution_record WHERE step_id IN (
			SELECT ps.step_id FROM plan_step ps
			JOIN plan_execution_record per ON per.current_plan_id = ps.plan_id
			WHERE per.root_plan_id = $1)`,
		`DELETE FROM plan_step WHERE plan_id IN (
			SELECT current_plan_id FROM plan_execution_record WHERE root_plan_id = $1)`,
		`DELETE FROM plan_execution_record WHERE root_plan_id = $1`,
	}
	for _, q := range queries {
		if _, err := tx.Exec(ctx, q, rootPlanID); err != nil {
			return fmt.Errorf("delete tree: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// --- helpers ---

const planSelect = `
	SELECT current_plan_id, root_plan_id, COALESCE(parent_plan_id, ''),
	       COALESCE(tool_call_id, ''), title, user_request,
	       COALESCE(summary, ''), COALESCE(result, ''), COALESCE(error_message, ''),
	       completed, start_time, COALESCE(end_time, 0), current_step_index,
	       COALESCE(model_name, ''), COALESCE(upload_key, '')
	FROM plan_execution_record`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (archon.Plan, error) {
	var p archon.Plan
	err := row.Scan(&p.CurrentPlanID, &p.RootPlanID, &p.ParentPlanID,
		&p.ToolCallID, &p.Title, &p.UserRequest, &p.Summary, &p.Result,
		&p.ErrorMessage, &p.Completed, &p.StartTime, &p.EndTime,
		&p.CurrentStepIndex, &p.ModelName, &p.UploadKey)
	return p, err
}

func (s *Store) stepsForPlans(ctx context.Context, planIDs []string) (map[string][]archon.Step, error) {
	if len(planIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT plan_id, step_id, step_index, step_requirement,
		       COALESCE(agent_name, ''), status, COALESCE(result, ''), COALESCE(error_message, '')
		FROM plan_step WHERE plan_id = ANY($1) ORDER BY plan_id, step_index`, planIDs)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	byPlan := make(map[string][]archon.Step)
	for rows.Next() {
		var planID, status string
		var step archon.Step
		if err := rows.Scan(&planID, &step.StepID, &step.StepIndex,
			&step.StepRequirement, &step.AgentName, &status,
			&step.Result, &step.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Status = archon.StepStatus(status)
		byPlan[planID] = append(byPlan[planID], step)
	}
	return byPlan, rows.Err()
}

func (s *Store) agentRecords(ctx context.Context, stepIDs []string) ([]archon.AgentExecutionRecord, error) {
	if len(stepIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, step_id, COALESCE(conversation_id, ''), agent_name,
		       COALESCE(agent_description, ''), COALESCE(agent_request, ''),
		       COALESCE(result, ''), COALESCE(error_message, ''), status,
		       start_time, COALESCE(end_time, 0), max_steps, current_step,
		       COALESCE(model_name, '')
		FROM agent_execution_record WHERE step_id = ANY($1) ORDER BY start_time`, stepIDs)
	if err != nil {
		return nil, fmt.Errorf("query agent records: %w", err)
	}
	defer rows.Close()

	var recs []archon.AgentExecutionRecord
	for rows.Next() {
		var rec archon.AgentExecutionRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.StepID, &rec.ConversationID,
			&rec.AgentName, &rec.AgentDescription, &rec.AgentRequest,
			&rec.Result, &rec.ErrorMessage, &status, &rec.StartTime,
			&rec.EndTime, &rec.MaxSteps, &rec.CurrentStep, &rec.ModelName); err != nil {
			return nil, fmt.Errorf("scan agent record: %w", err)
		}
		rec.Status = archon.AgentStatus(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
