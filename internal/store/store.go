// Package store holds the session's workflow collections and mediates every
// mutation through the lifecycle rules in internal/workflow. The contract is
// validate-then-persist-then-apply: an operation first checks the requested
// change against the in-memory state, then calls the persistence API, and
// only applies the delta locally once the call succeeds. A failed operation
// leaves the collections exactly as they were.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"landflow/internal/domain"
	"landflow/internal/workflow"
)

// ErrNotFound is returned when a referenced workflow, task, or entity id is
// not present in the current in-memory collections.
var ErrNotFound = errors.New("not found")

// LoadError wraps a transport failure during a load operation. The store
// records it and keeps the previously loaded collections.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load failed: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// PersistError wraps a transport failure during a mutating operation.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string { return fmt.Sprintf("%s failed: %v", e.Op, e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }

// TaskPatch is a partial task update; nil fields are left untouched.
type TaskPatch struct {
	Status       *string `json:"status,omitempty"`
	TimelineText *string `json:"timeline_text,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// TicketData is the caller-supplied portion of a new ticket.
type TicketData struct {
	TaskID      string
	Subject     string
	Description string
	Priority    string
	FromRole    workflow.Role
	ToRole      workflow.Role
}

// API is the persistence collaborator behind the store. Implementations talk
// to the authoritative backend; the Go SDK client satisfies this interface.
type API interface {
	ListWorkflows(ctx context.Context) ([]domain.WorkflowInstance, error)
	ListTasks(ctx context.Context, workflowID string) ([]domain.Task, error)
	UpdateWorkflowState(ctx context.Context, workflowID string, state workflow.State) error
	UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error
	CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error)
	UploadSLADocument(ctx context.Context, doc domain.SLADocument, contents io.Reader) (domain.SLADocument, error)
}

// Change names the slice of state a notification refers to.
type Change string

const (
	ChangeWorkflows Change = "workflows"
	ChangeTasks     Change = "tasks"
	ChangeTickets   Change = "tickets"
	ChangeDocuments Change = "documents"
)

// Store is the session-scoped workflow state holder. Construct one at
// application start and pass it to the views that need it.
type Store struct {
	api API

	mu      sync.Mutex
	state   snapshot
	subs    map[int]func(Change)
	nextSub int
}

// New returns an empty store backed by the given persistence API.
func New(api API) *Store {
	return &Store{
		api:  api,
		subs: map[int]func(Change){},
	}
}

// Subscribe registers a callback invoked after every successful mutation.
// The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// dispatch applies an action under the lock and returns the subscribers to
// notify. Callbacks run outside the lock so they can read the store.
func (s *Store) dispatch(a action) []func(Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = reduce(s.state, a)
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return fns
}

func (s *Store) notify(fns []func(Change), c Change) {
	for _, fn := range fns {
		fn(c)
	}
}

// recordError stores a load/persist failure without touching the
// collections, and returns the error for the caller to branch on.
func (s *Store) recordError(err error) error {
	s.mu.Lock()
	s.state = reduce(s.state, action{kind: actionSetError, err: err})
	s.mu.Unlock()
	return err
}

// LoadWorkflows fetches the full workflow collection and replaces the
// in-memory one wholesale. On transport failure the prior collection is
// retained and a LoadError is recorded and returned.
func (s *Store) LoadWorkflows(ctx context.Context) error {
	items, err := s.api.ListWorkflows(ctx)
	if err != nil {
		return s.recordError(&LoadError{Err: err})
	}
	fns := s.dispatch(action{kind: actionSetWorkflows, workflows: items})
	s.notify(fns, ChangeWorkflows)
	return nil
}

// LoadTasks fetches tasks, optionally scoped to one workflow (empty id means
// all), and replaces the in-memory task collection.
func (s *Store) LoadTasks(ctx context.Context, workflowID string) error {
	items, err := s.api.ListTasks(ctx, workflowID)
	if err != nil {
		return s.recordError(&LoadError{Err: err})
	}
	fns := s.dispatch(action{kind: actionSetTasks, tasks: items})
	s.notify(fns, ChangeTasks)
	return nil
}

// UpdateWorkflowState moves a workflow to target if that is a legal
// successor of its current state. Illegal transitions and unknown ids fail
// before any I/O and leave the store untouched.
func (s *Store) UpdateWorkflowState(ctx context.Context, workflowID string, target workflow.State) error {
	s.mu.Lock()
	current, ok := findWorkflow(s.state.workflows, workflowID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	if err := workflow.EnsureTransition(workflow.State(current.State), target); err != nil {
		return err
	}
	if err := s.api.UpdateWorkflowState(ctx, workflowID, target); err != nil {
		return s.recordError(&PersistError{Op: "update workflow state", Err: err})
	}
	fns := s.dispatch(action{kind: actionSetWorkflowState, workflowID: workflowID, state: string(target)})
	s.notify(fns, ChangeWorkflows)
	return nil
}

// UpdateTask merges patch into the named task after persisting it.
func (s *Store) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error {
	s.mu.Lock()
	_, ok := findTask(s.state.tasks, taskID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if patch.Status != nil && !workflow.ValidTaskStatus(*patch.Status) {
		return fmt.Errorf("invalid task status %q", *patch.Status)
	}
	if err := s.api.UpdateTask(ctx, taskID, patch); err != nil {
		return s.recordError(&PersistError{Op: "update task", Err: err})
	}
	fns := s.dispatch(action{kind: actionMergeTask, taskID: taskID, patch: patch})
	s.notify(fns, ChangeTasks)
	return nil
}

// CreateTicket persists and appends an escalation ticket. The referenced
// task must exist; the ticket's workflow id is taken from it.
func (s *Store) CreateTicket(ctx context.Context, data TicketData) (domain.Ticket, error) {
	s.mu.Lock()
	task, ok := findTask(s.state.tasks, data.TaskID)
	s.mu.Unlock()
	if !ok {
		return domain.Ticket{}, fmt.Errorf("task %s: %w", data.TaskID, ErrNotFound)
	}
	if data.Priority != "" && !workflow.ValidTicketPriority(data.Priority) {
		return domain.Ticket{}, fmt.Errorf("invalid ticket priority %q", data.Priority)
	}
	ticket := domain.Ticket{
		WorkflowID:  task.WorkflowID,
		TaskID:      data.TaskID,
		Subject:     data.Subject,
		Description: data.Description,
		Priority:    data.Priority,
		FromRole:    string(data.FromRole),
		ToRole:      string(data.ToRole),
	}
	created, err := s.api.CreateTicket(ctx, ticket)
	if err != nil {
		return domain.Ticket{}, s.recordError(&PersistError{Op: "create ticket", Err: err})
	}
	fns := s.dispatch(action{kind: actionAddTicket, ticket: created})
	s.notify(fns, ChangeTickets)
	return created, nil
}

// UploadSLADocument persists and appends a document record attached to a
// workflow, optionally scoped to one of its tasks.
func (s *Store) UploadSLADocument(ctx context.Context, workflowID, fileName string, contents io.Reader, taskID string) (domain.SLADocument, error) {
	s.mu.Lock()
	_, ok := findWorkflow(s.state.workflows, workflowID)
	var task domain.Task
	var taskOK bool
	if taskID != "" {
		task, taskOK = findTask(s.state.tasks, taskID)
	}
	s.mu.Unlock()
	if !ok {
		return domain.SLADocument{}, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	doc := domain.SLADocument{
		WorkflowID: workflowID,
		FileName:   fileName,
	}
	if taskID != "" {
		if !taskOK {
			return domain.SLADocument{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if task.WorkflowID != workflowID {
			return domain.SLADocument{}, fmt.Errorf("task %s does not belong to workflow %s", taskID, workflowID)
		}
		doc.TaskID = &taskID
	}
	created, err := s.api.UploadSLADocument(ctx, doc, contents)
	if err != nil {
		return domain.SLADocument{}, s.recordError(&PersistError{Op: "upload sla document", Err: err})
	}
	fns := s.dispatch(action{kind: actionAddDocument, document: created})
	s.notify(fns, ChangeDocuments)
	return created, nil
}

// --- pure reads ---

// Workflows returns a copy of the workflow collection.
func (s *Store) Workflows() []domain.WorkflowInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WorkflowInstance(nil), s.state.workflows...)
}

// Tasks returns a copy of the task collection.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.state.tasks...)
}

// Tickets returns a copy of the ticket collection.
func (s *Store) Tickets() []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Ticket(nil), s.state.tickets...)
}

// SLADocuments returns a copy of the document collection.
func (s *Store) SLADocuments() []domain.SLADocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SLADocument(nil), s.state.slaDocuments...)
}

// GetWorkflow looks up one workflow by id.
func (s *Store) GetWorkflow(id string) (domain.WorkflowInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findWorkflow(s.state.workflows, id)
}

// GetTasksByRole filters the task collection by assigned role.
func (s *Store) GetTasksByRole(role workflow.Role) []domain.Task {
	return s.GetTasksForRoles([]workflow.Role{role})
}

// GetTasksForRoles returns the union of tasks assigned to any of the given
// roles. A user holding several specialist roles sees all of their work, not
// just the first role's.
func (s *Store) GetTasksForRoles(roles []workflow.Role) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Task
	for _, t := range s.state.tasks {
		for _, r := range roles {
			if t.AssignedRole == string(r) {
				res = append(res, t)
				break
			}
		}
	}
	return res
}

// GetWorkflowsByState filters the workflow collection by lifecycle state.
func (s *Store) GetWorkflowsByState(state workflow.State) []domain.WorkflowInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.WorkflowInstance
	for _, w := range s.state.workflows {
		if w.State == string(state) {
			res = append(res, w)
		}
	}
	return res
}

// StateCounts buckets the workflow collection by state.
func (s *Store) StateCounts() map[workflow.State]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := map[workflow.State]int{}
	for _, w := range s.state.workflows {
		res[workflow.State(w.State)]++
	}
	return res
}

// CanPerformWorkflowAction delegates to the permission table.
func (s *Store) CanPerformWorkflowAction(action workflow.Action, role workflow.Role, w domain.WorkflowInstance) bool {
	return workflow.CanPerformAction(action, role, w)
}

// PortfolioSummary aggregates the investor-committed slice of the
// collection: workflows in interest_accepted or ready_to_build.
type PortfolioSummary struct {
	ProjectCount       int     `json:"project_count"`
	TotalCapacityMW    float64 `json:"total_capacity_mw"`
	TotalContractValue float64 `json:"total_contract_value"`
}

// Portfolio recomputes the portfolio summary from the current collection on
// every call; nothing is cached incrementally.
func (s *Store) Portfolio() PortfolioSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum PortfolioSummary
	for _, w := range s.state.workflows {
		switch workflow.State(w.State) {
		case workflow.StateInterestAccepted, workflow.StateReadyToBuild:
			sum.ProjectCount++
			sum.TotalCapacityMW += w.CapacityMW
			sum.TotalContractValue += workflow.ContractValue(w)
		}
	}
	return sum
}

// Err returns the last recorded load/persist error, nil after a successful
// operation.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.err
}

func findWorkflow(ws []domain.WorkflowInstance, id string) (domain.WorkflowInstance, bool) {
	for _, w := range ws {
		if w.ID == id {
			return w, true
		}
	}
	return domain.WorkflowInstance{}, false
}

func findTask(ts []domain.Task, id string) (domain.Task, bool) {
	for _, t := range ts {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}
