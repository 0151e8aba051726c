package store_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"

	"landflow/internal/domain"
	"landflow/internal/store"
	"landflow/internal/workflow"
)

// fakeAPI is an in-memory persistence collaborator with failure injection.
type fakeAPI struct {
	workflows []domain.WorkflowInstance
	tasks     []domain.Task
	fail      bool
	nextID    int
}

var errBoom = errors.New("boom")

func (f *fakeAPI) ListWorkflows(ctx context.Context) ([]domain.WorkflowInstance, error) {
	if f.fail {
		return nil, errBoom
	}
	return append([]domain.WorkflowInstance(nil), f.workflows...), nil
}

func (f *fakeAPI) ListTasks(ctx context.Context, workflowID string) ([]domain.Task, error) {
	if f.fail {
		return nil, errBoom
	}
	var res []domain.Task
	for _, t := range f.tasks {
		if workflowID == "" || t.WorkflowID == workflowID {
			res = append(res, t)
		}
	}
	return res, nil
}

func (f *fakeAPI) UpdateWorkflowState(ctx context.Context, workflowID string, state workflow.State) error {
	if f.fail {
		return errBoom
	}
	return nil
}

func (f *fakeAPI) UpdateTask(ctx context.Context, taskID string, patch store.TaskPatch) error {
	if f.fail {
		return errBoom
	}
	return nil
}

func (f *fakeAPI) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	if f.fail {
		return domain.Ticket{}, errBoom
	}
	f.nextID++
	t.ID = fmt.Sprintf("tk-%d", f.nextID)
	t.CreatedAt = "2026-01-01T00:00:00Z"
	return t, nil
}

func (f *fakeAPI) UploadSLADocument(ctx context.Context, doc domain.SLADocument, contents io.Reader) (domain.SLADocument, error) {
	if f.fail {
		return domain.SLADocument{}, errBoom
	}
	f.nextID++
	doc.ID = fmt.Sprintf("doc-%d", f.nextID)
	doc.CreatedAt = "2026-01-01T00:00:00Z"
	return doc, nil
}

func seededStore(t *testing.T) (*store.Store, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{
		workflows: []domain.WorkflowInstance{
			{ID: "wf-1", Title: "North Ridge Solar", State: "submitted", EnergyCategory: "solar", CapacityMW: 100, PricePerMWh: 40, ContractTermYears: 20},
			{ID: "wf-2", Title: "Westgate Wind", State: "in_progress", EnergyCategory: "wind", CapacityMW: 50, PricePerMWh: 30, ContractTermYears: 10},
		},
		tasks: []domain.Task{
			{ID: "t-1", WorkflowID: "wf-2", AssignedRole: "re_analyst", Title: "Yield analysis", Status: "assigned"},
			{ID: "t-2", WorkflowID: "wf-2", AssignedRole: "re_sales_advisor", Title: "PPA terms", Status: "assigned"},
		},
	}
	s := store.New(api)
	ctx := context.Background()
	if err := s.LoadWorkflows(ctx); err != nil {
		t.Fatalf("load workflows: %v", err)
	}
	if err := s.LoadTasks(ctx, ""); err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	return s, api
}

func TestHappyPathAndSkipRejected(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	if err := s.UpdateWorkflowState(ctx, "wf-1", workflow.StateVerifiedByAdmin); err != nil {
		t.Fatalf("verify: %v", err)
	}
	w, _ := s.GetWorkflow("wf-1")
	if w.State != "verified_by_admin" {
		t.Fatalf("state = %s, want verified_by_admin", w.State)
	}

	// skipping straight to ready_to_build must fail and change nothing
	err := s.UpdateWorkflowState(ctx, "wf-1", workflow.StateReadyToBuild)
	var ite workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	w, _ = s.GetWorkflow("wf-1")
	if w.State != "verified_by_admin" {
		t.Fatalf("state changed on invalid transition: %s", w.State)
	}
}

func TestUpdateWorkflowStateNotFound(t *testing.T) {
	s, _ := seededStore(t)
	err := s.UpdateWorkflowState(context.Background(), "nope", workflow.StateVerifiedByAdmin)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNoPartialApplicationOnPersistFailure(t *testing.T) {
	s, api := seededStore(t)
	ctx := context.Background()
	before := s.Workflows()
	beforeTasks := s.Tasks()

	api.fail = true
	if err := s.UpdateWorkflowState(ctx, "wf-1", workflow.StateVerifiedByAdmin); err == nil {
		t.Fatalf("expected persist error")
	}
	status := "completed"
	if err := s.UpdateTask(ctx, "t-1", store.TaskPatch{Status: &status}); err == nil {
		t.Fatalf("expected persist error")
	}
	if _, err := s.CreateTicket(ctx, store.TicketData{TaskID: "t-1", Subject: "x", Priority: "high", FromRole: workflow.RoleAnalyst, ToRole: workflow.RoleAdministrator}); err == nil {
		t.Fatalf("expected persist error")
	}

	if !reflect.DeepEqual(before, s.Workflows()) {
		t.Fatalf("workflow collection changed after failed mutations")
	}
	if !reflect.DeepEqual(beforeTasks, s.Tasks()) {
		t.Fatalf("task collection changed after failed mutations")
	}
	if len(s.Tickets()) != 0 {
		t.Fatalf("ticket appended despite failure")
	}
	var pe *store.PersistError
	if !errors.As(s.Err(), &pe) {
		t.Fatalf("expected recorded PersistError, got %v", s.Err())
	}
}

func TestFailedLoadRetainsPriorCollections(t *testing.T) {
	s, api := seededStore(t)
	before := s.Workflows()

	api.fail = true
	err := s.LoadWorkflows(context.Background())
	var le *store.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Workflows()) {
		t.Fatalf("failed load replaced collection")
	}
	if s.Err() == nil {
		t.Fatalf("expected recorded error")
	}

	// a later successful mutation clears the recorded error
	api.fail = false
	if err := s.UpdateWorkflowState(context.Background(), "wf-1", workflow.StateVerifiedByAdmin); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if s.Err() != nil {
		t.Fatalf("error not cleared: %v", s.Err())
	}
}

func TestUpdateTask(t *testing.T) {
	s, _ := seededStore(t)
	status := "in_progress"
	notes := "site visit booked"
	if err := s.UpdateTask(context.Background(), "t-1", store.TaskPatch{Status: &status, Notes: &notes}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	for _, task := range s.Tasks() {
		if task.ID == "t-1" {
			if task.Status != "in_progress" || task.Notes != "site visit booked" {
				t.Fatalf("patch not merged: %+v", task)
			}
			if task.Title != "Yield analysis" {
				t.Fatalf("unrelated field changed: %+v", task)
			}
		}
	}

	bad := "nonsense"
	if err := s.UpdateTask(context.Background(), "t-1", store.TaskPatch{Status: &bad}); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if err := s.UpdateTask(context.Background(), "missing", store.TaskPatch{Status: &status}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateTicketReferentialIntegrity(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	_, err := s.CreateTicket(ctx, store.TicketData{TaskID: "nonexistent", Subject: "help"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(s.Tickets()); n != 0 {
		t.Fatalf("ticket collection length = %d, want 0", n)
	}

	tk, err := s.CreateTicket(ctx, store.TicketData{
		TaskID:   "t-1",
		Subject:  "Blocked on grid data",
		Priority: "urgent",
		FromRole: workflow.RoleAnalyst,
		ToRole:   workflow.RoleAdministrator,
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if tk.WorkflowID != "wf-2" {
		t.Fatalf("ticket workflow id = %s, want wf-2", tk.WorkflowID)
	}
	if len(s.Tickets()) != 1 {
		t.Fatalf("ticket not appended")
	}
}

func TestUploadSLADocument(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	if _, err := s.UploadSLADocument(ctx, "missing", "sla.pdf", nil, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// task must belong to the same workflow
	if _, err := s.UploadSLADocument(ctx, "wf-1", "sla.pdf", nil, "t-1"); err == nil {
		t.Fatalf("expected cross-workflow task rejection")
	}
	doc, err := s.UploadSLADocument(ctx, "wf-2", "sla.pdf", nil, "t-1")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.TaskID == nil || *doc.TaskID != "t-1" {
		t.Fatalf("task id not recorded: %+v", doc)
	}
	if len(s.SLADocuments()) != 1 {
		t.Fatalf("document not appended")
	}
}

func TestDerivedViewConsistency(t *testing.T) {
	s, _ := seededStore(t)
	total := 0
	for _, st := range workflow.States {
		bucket := s.GetWorkflowsByState(st)
		for _, w := range bucket {
			if w.State != string(st) {
				t.Fatalf("bucket %s contains workflow in state %s", st, w.State)
			}
		}
		total += len(bucket)
	}
	if total != len(s.Workflows()) {
		t.Fatalf("state buckets sum to %d, want %d", total, len(s.Workflows()))
	}
	counts := s.StateCounts()
	if counts[workflow.StateSubmitted] != 1 || counts[workflow.StateInProgress] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestTasksForRolesUnion(t *testing.T) {
	s, _ := seededStore(t)
	union := s.GetTasksForRoles([]workflow.Role{workflow.RoleAnalyst, workflow.RoleSalesAdvisor})
	if len(union) != 2 {
		t.Fatalf("union = %d tasks, want 2", len(union))
	}
	only := s.GetTasksByRole(workflow.RoleAnalyst)
	if len(only) != 1 || only[0].ID != "t-1" {
		t.Fatalf("single role filter wrong: %+v", only)
	}
}

func TestPortfolioAggregation(t *testing.T) {
	api := &fakeAPI{
		workflows: []domain.WorkflowInstance{
			{ID: "a", State: "interest_accepted", CapacityMW: 100, PricePerMWh: 40, ContractTermYears: 20},
			{ID: "b", State: "interest_accepted", CapacityMW: 50, PricePerMWh: 30, ContractTermYears: 10},
			{ID: "c", State: "submitted", CapacityMW: 999, PricePerMWh: 99, ContractTermYears: 99},
		},
	}
	s := store.New(api)
	if err := s.LoadWorkflows(context.Background()); err != nil {
		t.Fatal(err)
	}
	sum := s.Portfolio()
	if sum.TotalCapacityMW != 150 {
		t.Fatalf("total capacity = %f, want 150", sum.TotalCapacityMW)
	}
	want := 100.0*40*8760*20 + 50.0*30*8760*10
	if sum.TotalContractValue != want {
		t.Fatalf("total contract value = %f, want %f", sum.TotalContractValue, want)
	}
	if sum.ProjectCount != 2 {
		t.Fatalf("project count = %d, want 2", sum.ProjectCount)
	}
}

func TestSubscriberNotification(t *testing.T) {
	s, _ := seededStore(t)
	var changes []store.Change
	cancel := s.Subscribe(func(c store.Change) { changes = append(changes, c) })

	if err := s.UpdateWorkflowState(context.Background(), "wf-1", workflow.StateVerifiedByAdmin); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0] != store.ChangeWorkflows {
		t.Fatalf("unexpected notifications: %v", changes)
	}

	// a failing mutation must not notify
	err := s.UpdateWorkflowState(context.Background(), "wf-1", workflow.StateReadyToBuild)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(changes) != 1 {
		t.Fatalf("notification fired for failed mutation")
	}

	cancel()
	if err := s.UpdateWorkflowState(context.Background(), "wf-1", workflow.StateTasksAssigned); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("notification after cancel")
	}
}
