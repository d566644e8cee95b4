package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentline/internal/app"
	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/provider"
	"agentline/internal/record"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	cfg := config.Default()
	ctx := context.Background()
	if err := app.Bootstrap(ctx, conn, cfg, nil); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	eng, err := engine.New(cfg, conn, provider.Static{}, nil, nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createCompany(t *testing.T, env testEnv, name string) domain.ActionRecord {
	t.Helper()
	res, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionCreate,
		TargetType:  "business.Company",
		Fields:      map[string]any{"name": name, "industry": "audit"},
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	return res.Action
}

func TestExecuteCreateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	action := createCompany(t, env, "Acme Ltd")

	if action.Status != domain.StatusExecuted {
		t.Fatalf("status = %s, want EXECUTED", action.Status)
	}
	if action.TargetID == "" {
		t.Fatalf("expected target id from created record")
	}
	if action.ExecutedAt == nil {
		t.Fatalf("expected executed_at to be set")
	}
	if name, _ := action.DataAfter["name"].(string); name != "Acme Ltd" {
		t.Fatalf("data_after name = %v", action.DataAfter["name"])
	}

	// the stored row must match what Execute returned
	stored, err := env.Engine.Repo.GetAction(env.Ctx, action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if stored.Status != domain.StatusExecuted || stored.TargetID != action.TargetID {
		t.Fatalf("stored action diverges: %+v", stored)
	}
}

func TestExecuteUpdateSnapshotsBefore(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Before Ltd")

	res, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionUpdate,
		TargetType:  "business.Company",
		TargetID:    created.TargetID,
		Fields:      map[string]any{"name": "After Ltd"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if name, _ := res.Action.DataBefore["name"].(string); name != "Before Ltd" {
		t.Fatalf("data_before name = %v", res.Action.DataBefore["name"])
	}
	if name, _ := res.Action.DataAfter["name"].(string); name != "After Ltd" {
		t.Fatalf("data_after name = %v", res.Action.DataAfter["name"])
	}
}

func TestExecuteDeleteAndQuery(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Gone Ltd")

	del, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionDelete,
		TargetType:  "business.Company",
		TargetID:    created.TargetID,
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if soft, _ := del.Action.DataAfter["soft"].(bool); !soft {
		t.Fatalf("company delete should be soft, got %+v", del.Action.DataAfter)
	}

	q, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionQuery,
		TargetType:  "business.Company",
		Fields:      map[string]any{"name": "Gone Ltd"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(q.Results) != 1 {
		t.Fatalf("query results = %d, want 1", len(q.Results))
	}
	if active, _ := q.Results[0]["is_active"].(bool); active {
		t.Fatalf("deleted company should be inactive")
	}
}

func TestExecuteFailureRecordsFailedAction(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionCreate,
		TargetType:  "business.Company",
		Fields:      map[string]any{"industry": "audit"}, // no name
	})
	var execErr engine.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if res == nil || res.Action.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED action, got %+v", res)
	}

	stored, getErr := env.Engine.Repo.GetAction(env.Ctx, res.Action.ID)
	if getErr != nil {
		t.Fatalf("get action: %v", getErr)
	}
	if stored.Status != domain.StatusFailed || stored.ErrorMessage == "" {
		t.Fatalf("stored failure incomplete: %+v", stored)
	}

	// the failed create must not have left a row behind
	q, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionQuery,
		TargetType:  "business.Company",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(q.Results) != 0 {
		t.Fatalf("expected no companies, got %d", len(q.Results))
	}
}

func TestExecuteRejectsUnknownTargetType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionCreate,
		TargetType:  "business.Unknown",
		Fields:      map[string]any{"name": "x"},
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestExecuteUpdateMissingRecord(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionUpdate,
		TargetType:  "business.Company",
		TargetID:    "no-such-id",
		Fields:      map[string]any{"name": "x"},
	})
	var nfe engine.NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRollbackCreate(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Undo Ltd")

	rb, err := env.Engine.Rollback(env.Ctx, created.ID, "mistake", "tester")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.Action.Status != domain.StatusRolledBack {
		t.Fatalf("status = %s, want ROLLED_BACK", rb.Action.Status)
	}

	q, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionQuery,
		TargetType:  "business.Company",
		Fields:      map[string]any{"name": "Undo Ltd", "is_active": true},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(q.Results) != 0 {
		t.Fatalf("rolled-back create should leave no active record")
	}
}

func TestRollbackUpdateRestoresSnapshot(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Original Ltd")

	upd, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionUpdate,
		TargetType:  "business.Company",
		TargetID:    created.TargetID,
		Fields:      map[string]any{"name": "Renamed Ltd", "notes": "oops"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := env.Engine.Rollback(env.Ctx, upd.Action.ID, "bad rename", "tester"); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	q, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionQuery,
		TargetType:  "business.Company",
		Fields:      map[string]any{"name": "Original Ltd"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(q.Results) != 1 {
		t.Fatalf("expected restored name, got %d results", len(q.Results))
	}
	if notes, _ := q.Results[0]["notes"].(string); notes != "" {
		t.Fatalf("notes should be restored to empty, got %q", notes)
	}
}

func TestRollbackUpdatePreservesCreatedAt(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Original Ltd")
	createdAt, _ := created.DataAfter["created_at"].(string)
	if createdAt == "" {
		t.Fatalf("create snapshot missing created_at: %+v", created.DataAfter)
	}

	upd, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionUpdate,
		TargetType:  "business.Company",
		TargetID:    created.TargetID,
		Fields:      map[string]any{"name": "Renamed Ltd"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// pin the clock so the rollback's write time is observable
	rollbackTime := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return rollbackTime }
	env.Engine.Now = clock
	env.Engine.Records = record.Builtin(clock)

	if _, err := env.Engine.Rollback(env.Ctx, upd.Action.ID, "bad rename", "tester"); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	accessor, err := env.Engine.Records.Get("business.Company")
	if err != nil {
		t.Fatalf("accessor: %v", err)
	}
	snap, err := accessor.Get(env.Ctx, env.Engine.DB, created.TargetID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if snap["created_at"] != createdAt {
		t.Fatalf("created_at changed by rollback: %v, want %v", snap["created_at"], createdAt)
	}
	if snap["updated_at"] != "2030-01-02T03:04:05Z" {
		t.Fatalf("updated_at should reflect the rollback time, got %v", snap["updated_at"])
	}
}

func TestRollbackSoftDeleteReactivates(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Revive Ltd")

	del, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionDelete,
		TargetType:  "business.Company",
		TargetID:    created.TargetID,
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	rb, err := env.Engine.Rollback(env.Ctx, del.Action.ID, "restore", "tester")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.NewTargetID != "" {
		t.Fatalf("soft delete rollback must keep the id")
	}

	q, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionQuery,
		TargetType:  "business.Company",
		Fields:      map[string]any{"name": "Revive Ltd", "is_active": true},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(q.Results) != 1 {
		t.Fatalf("expected reactivated company")
	}
}

func TestRollbackHardDeleteRecreatesWithNewID(t *testing.T) {
	env := newTestEnv(t)
	company := createCompany(t, env, "Client Ltd")

	created, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionCreate,
		TargetType:  "business.BillableHour",
		Fields: map[string]any{
			"employee_name": "Ada",
			"client_id":     company.TargetID,
			"role":          "SENIOR",
			"hours":         7.5,
			"hourly_rate":   1200.0,
		},
	})
	if err != nil {
		t.Fatalf("create billable hour: %v", err)
	}

	del, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionDelete,
		TargetType:  "business.BillableHour",
		TargetID:    created.Action.TargetID,
	})
	if err != nil {
		t.Fatalf("delete billable hour: %v", err)
	}
	if soft, _ := del.Action.DataAfter["soft"].(bool); soft {
		t.Fatalf("billable hour delete should be hard")
	}

	rb, err := env.Engine.Rollback(env.Ctx, del.Action.ID, "needed after all", "tester")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.NewTargetID == "" || rb.NewTargetID == created.Action.TargetID {
		t.Fatalf("expected recreated record under new id, got %q", rb.NewTargetID)
	}
	if len(rb.Warnings) == 0 {
		t.Fatalf("expected partial-restore warning")
	}
}

func TestRollbackTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Twice Ltd")

	if _, err := env.Engine.Rollback(env.Ctx, created.ID, "first", "tester"); err != nil {
		t.Fatalf("first rollback: %v", err)
	}
	_, err := env.Engine.Rollback(env.Ctx, created.ID, "second", "tester")
	var rne engine.RollbackNotAllowedError
	if !errors.As(err, &rne) {
		t.Fatalf("expected RollbackNotAllowedError, got %v", err)
	}
	if rne.Status != domain.StatusRolledBack {
		t.Fatalf("conflict status = %s", rne.Status)
	}
}

func TestRollbackFailedActionDenied(t *testing.T) {
	env := newTestEnv(t)
	res, _ := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionCreate,
		TargetType:  "business.Company",
		Fields:      map[string]any{}, // fails validation inside the accessor
	})
	_, err := env.Engine.Rollback(env.Ctx, res.Action.ID, "", "tester")
	var rne engine.RollbackNotAllowedError
	if !errors.As(err, &rne) {
		t.Fatalf("expected RollbackNotAllowedError, got %v", err)
	}
}

func TestChatExecutesToolCall(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		Message:     `{"tool":"create_company","arguments":{"name":"Chat Ltd"},"reasoning":"user asked","confidence":0.9}`,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(result.Outcomes))
	}
	outcome := result.Outcomes[0]
	if outcome.Error != "" {
		t.Fatalf("outcome error: %s", outcome.Error)
	}
	if outcome.Action.Status != domain.StatusExecuted {
		t.Fatalf("action status = %s", outcome.Action.Status)
	}
	if outcome.Action.Confidence != 0.9 {
		t.Fatalf("confidence = %v", outcome.Action.Confidence)
	}

	session, err := env.Engine.Repo.GetSession(env.Ctx, result.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.TotalActions != 1 || session.SuccessfulActions != 1 {
		t.Fatalf("session counters: %+v", session)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("messages = %d, want user+assistant", len(session.Messages))
	}
}

func TestChatProposalWhenNotAutoExecute(t *testing.T) {
	env := newTestEnv(t)
	agent := domain.Agent{
		ID:          "agent-manual",
		Name:        "manual_agent",
		DisplayName: "Manual",
		AgentType:   "BUSINESS",
		LLMModel:    "gpt-4o-mini",
		Temperature: 0.7,
		AutoExecute: false,
		IsActive:    true,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := env.Engine.Repo.InsertAgent(env.Ctx, agent); err != nil {
		t.Fatalf("insert agent: %v", err)
	}

	result, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		AgentName:   "manual_agent",
		Message:     `{"tool":"create_company","arguments":{"name":"Pending Ltd"}}`,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(result.Proposals) != 1 || len(result.Outcomes) != 0 {
		t.Fatalf("expected one proposal and no outcomes, got %+v", result)
	}
	if result.Proposals[0].Tool != "create_company" {
		t.Fatalf("proposal tool = %s", result.Proposals[0].Tool)
	}

	// nothing may have been written
	q, err := env.Engine.Execute(env.Ctx, engine.ActionRequest{
		PrincipalID: "tester",
		ActionType:  domain.ActionQuery,
		TargetType:  "business.Company",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(q.Results) != 0 {
		t.Fatalf("proposal must not execute, found %d companies", len(q.Results))
	}
}

func TestChatQueriesExecuteDespiteManualAgent(t *testing.T) {
	env := newTestEnv(t)
	agent := domain.Agent{
		ID:          "agent-manual-2",
		Name:        "manual_query_agent",
		DisplayName: "Manual",
		AgentType:   "BUSINESS",
		LLMModel:    "gpt-4o-mini",
		Temperature: 0.7,
		AutoExecute: false,
		IsActive:    true,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := env.Engine.Repo.InsertAgent(env.Ctx, agent); err != nil {
		t.Fatalf("insert agent: %v", err)
	}

	result, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		AgentName:   "manual_query_agent",
		Message:     `{"tool":"query_companies","arguments":{}}`,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(result.Outcomes) != 1 || len(result.Proposals) != 0 {
		t.Fatalf("queries should run even without auto-execute: %+v", result)
	}
}

func TestChatDeniedWhenQuotaExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Quota = engine.NewQuotaManager(1, 100000, nil, nil)

	if _, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		Message:     "hello",
	}); err != nil {
		t.Fatalf("first chat: %v", err)
	}

	_, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		Message:     "hello again",
	})
	var qe engine.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.Reason != engine.ReasonRequestLimit {
		t.Fatalf("reason = %q", qe.Reason)
	}

	// other principals are unaffected
	if _, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "other",
		Message:     "hi",
	}); err != nil {
		t.Fatalf("other principal chat: %v", err)
	}
}

func TestChatDeniedWhenEstimateExceedsTokenBudget(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Quota = engine.NewQuotaManager(100, 5, nil, nil)

	_, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		Message:     "hello",
	})
	var qe engine.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.Reason != engine.ReasonTokenLimit {
		t.Fatalf("reason = %q", qe.Reason)
	}
	// the denied turn must not consume anything
	if s := env.Engine.Quota.Status("tester"); s.RequestsUsed != 0 || s.TokensUsed != 0 {
		t.Fatalf("denied turn consumed quota: %+v", s)
	}
}

func TestChatRejectsForeignSession(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "alice",
		Message:     "hello",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	_, err = env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "bob",
		SessionID:   first.SessionID,
		Message:     "hijack",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestChatRollbackProposedWhenNotAutoExecute(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Guarded Ltd")

	agent := domain.Agent{
		ID:          "agent-manual-3",
		Name:        "manual_rollback_agent",
		DisplayName: "Manual",
		AgentType:   "BUSINESS",
		LLMModel:    "gpt-4o-mini",
		Temperature: 0.7,
		AutoExecute: false,
		IsActive:    true,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := env.Engine.Repo.InsertAgent(env.Ctx, agent); err != nil {
		t.Fatalf("insert agent: %v", err)
	}

	result, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		AgentName:   "manual_rollback_agent",
		Message:     `{"tool":"rollback_action","arguments":{"action_id":"` + created.ID + `","reason":"undo"}}`,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(result.Proposals) != 1 || len(result.Outcomes) != 0 {
		t.Fatalf("rollback must be proposed, not executed: %+v", result)
	}
	if result.Proposals[0].Tool != "rollback_action" {
		t.Fatalf("proposal tool = %s", result.Proposals[0].Tool)
	}

	stored, err := env.Engine.Repo.GetAction(env.Ctx, created.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if stored.Status != domain.StatusExecuted {
		t.Fatalf("action status = %s, want EXECUTED", stored.Status)
	}
}

func TestChatRollbackTool(t *testing.T) {
	env := newTestEnv(t)
	created := createCompany(t, env, "Tooled Ltd")

	result, err := env.Engine.Chat(env.Ctx, engine.ChatRequest{
		PrincipalID: "tester",
		Message:     `{"tool":"rollback_action","arguments":{"action_id":"` + created.ID + `","reason":"wrong client"}}`,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].Error != "" {
		t.Fatalf("rollback outcome: %+v", result.Outcomes)
	}
	if result.Outcomes[0].Action.Status != domain.StatusRolledBack {
		t.Fatalf("status = %s", result.Outcomes[0].Action.Status)
	}
}
