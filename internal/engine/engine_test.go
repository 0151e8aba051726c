package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"landflow/internal/config"
	"landflow/internal/db"
	"landflow/internal/engine"
	"landflow/internal/engine/auth"
	"landflow/internal/migrate"
	"landflow/internal/repo"
	"landflow/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("market-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.RegisterUser(ctx, "admin-1", "admin@example.com", "Admin", []string{string(workflow.RoleAdministrator)}); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if _, err := eng.RegisterUser(ctx, "inv-1", "investor@example.com", "Investor", []string{string(workflow.RoleInvestor)}); err != nil {
		t.Fatalf("register investor: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func submitSite(t *testing.T, env testEnv) string {
	t.Helper()
	w, err := env.Engine.SubmitWorkflow(env.Ctx, engine.SubmitOptions{
		LandownerID:       "owner-1",
		Title:             "North Ridge Solar",
		EnergyCategory:    "solar",
		AreaAcres:         120,
		CapacityMW:        100,
		PricePerMWh:       40,
		ContractTermYears: 20,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if w.State != "submitted" {
		t.Fatalf("state = %s, want submitted", w.State)
	}
	return w.ID
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)

	w, err := env.Engine.VerifyWorkflow(env.Ctx, id, "admin-1", false)
	if err != nil || w.State != "verified_by_admin" {
		t.Fatalf("verify: %v state=%s", err, w.State)
	}
	tasks, err := env.Engine.AssignTasks(env.Ctx, id, "admin-1", false)
	if err != nil {
		t.Fatalf("assign tasks: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatalf("no tasks created")
	}
	for _, task := range tasks {
		if task.Status != "assigned" {
			t.Fatalf("task %s status = %s, want assigned", task.ID, task.Status)
		}
	}
	w, err = env.Engine.Repo.GetWorkflow(env.Ctx, id)
	if err != nil || w.State != "tasks_assigned" {
		t.Fatalf("after assign: %v state=%s", err, w.State)
	}

	// first task movement pulls the workflow into in_progress
	if _, err := env.Engine.RegisterUser(env.Ctx, "sales-1", "sales@example.com", "Sales", []string{string(workflow.RoleSalesAdvisor)}); err != nil {
		t.Fatalf("register sales advisor: %v", err)
	}
	status := "in_progress"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{TaskID: tasks[0].ID, Status: &status, ActorID: "sales-1"}, false); err != nil {
		t.Fatalf("update task: %v", err)
	}
	w, _ = env.Engine.Repo.GetWorkflow(env.Ctx, id)
	if w.State != "in_progress" {
		t.Fatalf("after task update state = %s, want in_progress", w.State)
	}

	if _, err := env.Engine.SendInterest(env.Ctx, id, "inv-1", false); err != nil {
		t.Fatalf("send interest: %v", err)
	}
	if _, err := env.Engine.AcceptInterest(env.Ctx, id, "admin-1", false); err != nil {
		t.Fatalf("accept interest: %v", err)
	}
	w, err = env.Engine.ApproveReadyToBuild(env.Ctx, id, "admin-1", false)
	if err != nil || w.State != "ready_to_build" {
		t.Fatalf("approve rtb: %v state=%s", err, w.State)
	}

	// terminal: nothing follows ready_to_build
	_, err = env.Engine.TransitionWorkflow(env.Ctx, id, workflow.StateSubmitted, "admin-1", true)
	var ite workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestTransitionSkipRejected(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)
	_, err := env.Engine.TransitionWorkflow(env.Ctx, id, workflow.StateReadyToBuild, "admin-1", false)
	var ite workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	w, _ := env.Engine.Repo.GetWorkflow(env.Ctx, id)
	if w.State != "submitted" {
		t.Fatalf("state changed on rejected transition: %s", w.State)
	}
}

func TestTransitionRoleEnforced(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)

	// investor may not verify
	_, err := env.Engine.VerifyWorkflow(env.Ctx, id, "inv-1", false)
	var fe auth.ForbiddenRoleError
	if !errors.As(err, &fe) || fe.Role != workflow.RoleAdministrator {
		t.Fatalf("expected ForbiddenRoleError for administrator, got %v", err)
	}
	// force bypasses the role check but never the graph
	if _, err := env.Engine.VerifyWorkflow(env.Ctx, id, "inv-1", true); err != nil {
		t.Fatalf("forced verify: %v", err)
	}
}

func TestUpdateTaskRoleEnforced(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)
	if _, err := env.Engine.VerifyWorkflow(env.Ctx, id, "admin-1", false); err != nil {
		t.Fatal(err)
	}
	tasks, err := env.Engine.AssignTasks(env.Ctx, id, "admin-1", false)
	if err != nil {
		t.Fatal(err)
	}
	var pmTask string
	for _, task := range tasks {
		if task.AssignedRole == string(workflow.RoleProjectManager) {
			pmTask = task.ID
		}
	}
	if pmTask == "" {
		t.Fatal("no project_manager task created")
	}
	if _, err := env.Engine.RegisterUser(env.Ctx, "analyst-1", "analyst@example.com", "Analyst", []string{string(workflow.RoleAnalyst)}); err != nil {
		t.Fatal(err)
	}

	// holding a specialist role is not enough: the actor must hold the
	// task's assigned role
	status := "in_progress"
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{TaskID: pmTask, Status: &status, ActorID: "analyst-1"}, false)
	var fe auth.ForbiddenRoleError
	if !errors.As(err, &fe) || fe.Role != workflow.RoleProjectManager {
		t.Fatalf("expected ForbiddenRoleError for project_manager, got %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, pmTask)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "assigned" {
		t.Fatalf("task status changed on rejected update: %s", got.Status)
	}
	w, _ := env.Engine.Repo.GetWorkflow(env.Ctx, id)
	if w.State != "tasks_assigned" {
		t.Fatalf("workflow advanced on rejected update: %s", w.State)
	}

	// the role holder may update, and force bypasses the check
	if _, err := env.Engine.RegisterUser(env.Ctx, "pm-1", "pm@example.com", "PM", []string{string(workflow.RoleProjectManager)}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{TaskID: pmTask, Status: &status, ActorID: "pm-1"}, false); err != nil {
		t.Fatalf("update by assigned role: %v", err)
	}
	notes := "schedule reviewed"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{TaskID: pmTask, Notes: &notes, ActorID: "admin-1"}, true); err != nil {
		t.Fatalf("forced update: %v", err)
	}
}

func TestAssignTasksAtomic(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)
	// assigning before verification must fail and leave no tasks behind
	if _, err := env.Engine.AssignTasks(env.Ctx, id, "admin-1", false); err == nil {
		t.Fatalf("expected transition error")
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilter{WorkflowID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks created despite failed assignment: %d", len(tasks))
	}
}

func TestCreateTicketAndDocument(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)
	if _, err := env.Engine.VerifyWorkflow(env.Ctx, id, "admin-1", false); err != nil {
		t.Fatal(err)
	}
	tasks, err := env.Engine.AssignTasks(env.Ctx, id, "admin-1", false)
	if err != nil {
		t.Fatal(err)
	}

	ticket, err := env.Engine.CreateTicket(env.Ctx, engine.TicketOptions{
		TaskID:   tasks[0].ID,
		Subject:  "Missing grid data",
		Priority: "high",
		FromRole: "re_analyst",
		ToRole:   "administrator",
		ActorID:  "spec-1",
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if ticket.WorkflowID != id {
		t.Fatalf("ticket workflow = %s, want %s", ticket.WorkflowID, id)
	}
	if _, err := env.Engine.CreateTicket(env.Ctx, engine.TicketOptions{TaskID: "missing", Subject: "x", ActorID: "spec-1"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc, err := env.Engine.AddSLADocument(env.Ctx, id, tasks[0].ID, "sla.pdf", []byte("contents"), "spec-1")
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	data, err := env.Engine.Repo.GetDocumentContent(env.Ctx, doc.ID)
	if err != nil || string(data) != "contents" {
		t.Fatalf("document content round trip: %v %q", err, data)
	}
}

func TestUpdateWorkflowDetails(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)

	notes := "checked land registry"
	developer := "Helios Partners"
	w, err := env.Engine.UpdateWorkflowDetails(env.Ctx, engine.WorkflowDetailsOptions{
		WorkflowID: id,
		AdminNotes: &notes,
		ActorID:    "admin-1",
	}, false)
	if err != nil {
		t.Fatalf("update details: %v", err)
	}
	if w.AdminNotes != notes {
		t.Fatalf("admin notes = %q", w.AdminNotes)
	}

	// non-admin is rejected
	_, err = env.Engine.UpdateWorkflowDetails(env.Ctx, engine.WorkflowDetailsOptions{
		WorkflowID:    id,
		DeveloperName: &developer,
		ActorID:       "inv-1",
	}, false)
	var fe auth.ForbiddenRoleError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenRoleError, got %v", err)
	}

	// empty patch is an error
	if _, err := env.Engine.UpdateWorkflowDetails(env.Ctx, engine.WorkflowDetailsOptions{WorkflowID: id, ActorID: "admin-1"}, false); err == nil {
		t.Fatal("expected error for empty update")
	}

	got, err := env.Engine.Repo.GetWorkflow(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.AdminNotes != notes || got.DeveloperName != "" || got.State != "submitted" {
		t.Fatalf("persisted workflow = %+v", got)
	}
}

func TestPortfolio(t *testing.T) {
	env := newTestEnv(t)
	a := submitSite(t, env)
	b, err := env.Engine.SubmitWorkflow(env.Ctx, engine.SubmitOptions{
		LandownerID:       "owner-2",
		Title:             "Westgate Wind",
		EnergyCategory:    "wind",
		CapacityMW:        50,
		PricePerMWh:       30,
		ContractTermYears: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{a, b.ID} {
		for _, target := range []workflow.State{
			workflow.StateVerifiedByAdmin, workflow.StateTasksAssigned,
			workflow.StateInProgress, workflow.StateInterestRequest,
			workflow.StateInterestAccepted,
		} {
			if _, err := env.Engine.TransitionWorkflow(env.Ctx, id, target, "admin-1", true); err != nil {
				t.Fatalf("advance %s to %s: %v", id, target, err)
			}
		}
	}
	sum, err := env.Engine.Portfolio(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := 100.0*40*8760*20 + 50.0*30*8760*10
	if sum.ProjectCount != 2 || sum.TotalCapacityMW != 150 || sum.TotalContractValue != want {
		t.Fatalf("portfolio = %+v, want count 2 capacity 150 value %f", sum, want)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SubmitWorkflow(env.Ctx, engine.SubmitOptions{LandownerID: "o", Title: "x", EnergyCategory: "plutonium"}); err == nil {
		t.Fatalf("expected invalid energy category")
	}
	if _, err := env.Engine.SubmitWorkflow(env.Ctx, engine.SubmitOptions{LandownerID: "o", EnergyCategory: "solar"}); err == nil {
		t.Fatalf("expected missing title error")
	}
}

func TestEventLog(t *testing.T) {
	env := newTestEnv(t)
	id := submitSite(t, env)
	if _, err := env.Engine.VerifyWorkflow(env.Ctx, id, "admin-1", false); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, id, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("event count = %d, want 2", len(evts))
	}
	if evts[0].Type != "workflow.state.changed" || evts[1].Type != "workflow.submitted" {
		t.Fatalf("unexpected event order: %s, %s", evts[0].Type, evts[1].Type)
	}
}
