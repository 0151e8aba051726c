package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"landflow/internal/config"
	"landflow/internal/domain"
	"landflow/internal/engine/auth"
	"landflow/internal/events"
	"landflow/internal/repo"
	"landflow/internal/workflow"
)

// Engine implements the marketplace operations on top of the repo. Every
// mutation runs inside one transaction together with its event log entry.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SubmitOptions are parameters for registering a land parcel.
type SubmitOptions struct {
	ID                string
	LandownerID       string
	Title             string
	LocationText      string
	Latitude          *float64
	Longitude         *float64
	AreaAcres         float64
	LandType          string
	EnergyCategory    string
	CapacityMW        float64
	PricePerMWh       float64
	ContractTermYears int
	TimelineText      string
}

// SubmitWorkflow registers a new land parcel in state submitted.
func (e Engine) SubmitWorkflow(ctx context.Context, opts SubmitOptions) (domain.WorkflowInstance, error) {
	if opts.Title == "" {
		return domain.WorkflowInstance{}, errors.New("title is required")
	}
	if opts.LandownerID == "" {
		return domain.WorkflowInstance{}, errors.New("landowner is required")
	}
	if opts.EnergyCategory == "" || !workflow.ValidEnergyCategory(opts.EnergyCategory) {
		return domain.WorkflowInstance{}, fmt.Errorf("invalid energy category %q", opts.EnergyCategory)
	}
	if opts.CapacityMW < 0 || opts.PricePerMWh < 0 || opts.ContractTermYears < 0 {
		return domain.WorkflowInstance{}, errors.New("capacity, price and term must be non-negative")
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.LandownerID+"|"+opts.Title+"|"+now)).String()
	}
	w := domain.WorkflowInstance{
		ID:                id,
		LandownerID:       opts.LandownerID,
		Title:             opts.Title,
		LocationText:      opts.LocationText,
		Latitude:          opts.Latitude,
		Longitude:         opts.Longitude,
		AreaAcres:         opts.AreaAcres,
		LandType:          opts.LandType,
		EnergyCategory:    opts.EnergyCategory,
		CapacityMW:        opts.CapacityMW,
		PricePerMWh:       opts.PricePerMWh,
		ContractTermYears: opts.ContractTermYears,
		TimelineText:      opts.TimelineText,
		State:             string(workflow.StateSubmitted),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureUser(ctx, tx, opts.LandownerID); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := e.Repo.AssignRole(ctx, tx, opts.LandownerID, string(workflow.RoleLandowner)); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := e.Repo.InsertWorkflowTx(ctx, tx, w); err != nil {
		return domain.WorkflowInstance{}, fmt.Errorf("insert workflow: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowSubmitted, w.ID, "workflow", w.ID, opts.LandownerID, events.EventPayload{
		"title":  w.Title,
		"energy": w.EnergyCategory,
		"state":  w.State,
	}); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowInstance{}, err
	}
	return w, nil
}

// TransitionWorkflow moves a workflow along the lifecycle. The target must be
// the declared successor of the current state, and the actor must hold the
// role assigned to that edge unless force is set.
func (e Engine) TransitionWorkflow(ctx context.Context, workflowID string, target workflow.State, actorID string, force bool) (domain.WorkflowInstance, error) {
	if !workflow.ValidState(target) {
		return domain.WorkflowInstance{}, fmt.Errorf("invalid workflow state %q", target)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	from := workflow.State(w.State)
	if err := workflow.EnsureTransition(from, target); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if !force {
		required, _ := workflow.TransitionRole(from, target)
		ok, err := e.Auth.HasRole(ctx, tx, actorID, required)
		if err != nil {
			return domain.WorkflowInstance{}, err
		}
		if !ok {
			return domain.WorkflowInstance{}, auth.ForbiddenRoleError{Role: required}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkflowStateTx(ctx, tx, workflowID, string(target), now); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowStateChanged, workflowID, "workflow", workflowID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(target),
	}); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowInstance{}, err
	}
	w.State = string(target)
	w.UpdatedAt = now
	return w, nil
}

// VerifyWorkflow marks a submitted registration as verified by an administrator.
func (e Engine) VerifyWorkflow(ctx context.Context, workflowID, actorID string, force bool) (domain.WorkflowInstance, error) {
	return e.TransitionWorkflow(ctx, workflowID, workflow.StateVerifiedByAdmin, actorID, force)
}

// SendInterest records an investor's interest in an in-progress site.
func (e Engine) SendInterest(ctx context.Context, workflowID, actorID string, force bool) (domain.WorkflowInstance, error) {
	return e.TransitionWorkflow(ctx, workflowID, workflow.StateInterestRequest, actorID, force)
}

// AcceptInterest accepts a pending interest request.
func (e Engine) AcceptInterest(ctx context.Context, workflowID, actorID string, force bool) (domain.WorkflowInstance, error) {
	return e.TransitionWorkflow(ctx, workflowID, workflow.StateInterestAccepted, actorID, force)
}

// ApproveReadyToBuild moves an accepted project to the terminal state.
func (e Engine) ApproveReadyToBuild(ctx context.Context, workflowID, actorID string, force bool) (domain.WorkflowInstance, error) {
	return e.TransitionWorkflow(ctx, workflowID, workflow.StateReadyToBuild, actorID, force)
}

// AssignTasks transitions a verified workflow to tasks_assigned and stamps out
// one task per configured template, all in a single transaction. A failure on
// any task rolls back the state change as well.
func (e Engine) AssignTasks(ctx context.Context, workflowID, actorID string, force bool) ([]domain.Task, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID)
	if err != nil {
		return nil, err
	}
	from := workflow.State(w.State)
	if err := workflow.EnsureTransition(from, workflow.StateTasksAssigned); err != nil {
		return nil, err
	}
	if !force {
		ok, err := e.Auth.HasRole(ctx, tx, actorID, workflow.RoleAdministrator)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, auth.ForbiddenRoleError{Role: workflow.RoleAdministrator}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	var created []domain.Task
	for _, role := range workflow.SpecialistRoles {
		for i, tpl := range e.Config.TemplatesFor(role) {
			t := domain.Task{
				ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(workflowID+"|"+string(role)+"|"+fmt.Sprint(i)+"|"+now)).String(),
				WorkflowID:   workflowID,
				AssignedRole: string(role),
				Title:        tpl.Title,
				Description:  tpl.Description,
				Status:       workflow.TaskAssigned,
				TimelineText: tpl.TimelineText,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
				return nil, fmt.Errorf("insert task: %w", err)
			}
			if err := e.Events.Append(ctx, tx, events.TaskAssigned, workflowID, "task", t.ID, actorID, events.EventPayload{
				"role":  t.AssignedRole,
				"title": t.Title,
			}); err != nil {
				return nil, err
			}
			created = append(created, t)
		}
	}
	if len(created) == 0 {
		return nil, errors.New("no task templates configured")
	}
	if err := e.Repo.UpdateWorkflowStateTx(ctx, tx, workflowID, string(workflow.StateTasksAssigned), now); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowStateChanged, workflowID, "workflow", workflowID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(workflow.StateTasksAssigned),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// WorkflowDetailsOptions are parameters for updating the mutable descriptive
// fields of a workflow. Nil fields are left untouched.
type WorkflowDetailsOptions struct {
	WorkflowID    string
	AdminNotes    *string
	DeveloperName *string
	TimelineText  *string
	ActorID       string
}

// UpdateWorkflowDetails lets an administrator amend notes, developer name and
// timeline without touching the lifecycle state.
func (e Engine) UpdateWorkflowDetails(ctx context.Context, opts WorkflowDetailsOptions, force bool) (domain.WorkflowInstance, error) {
	if opts.AdminNotes == nil && opts.DeveloperName == nil && opts.TimelineText == nil {
		return domain.WorkflowInstance{}, errors.New("no fields to update")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkflowTx(ctx, tx, opts.WorkflowID)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	if !force {
		ok, err := e.Auth.HasRole(ctx, tx, opts.ActorID, workflow.RoleAdministrator)
		if err != nil {
			return domain.WorkflowInstance{}, err
		}
		if !ok {
			return domain.WorkflowInstance{}, auth.ForbiddenRoleError{Role: workflow.RoleAdministrator}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkflowFieldsTx(ctx, tx, opts.WorkflowID, opts.AdminNotes, opts.DeveloperName, opts.TimelineText, now); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := e.Events.Append(ctx, tx, events.WorkflowUpdated, opts.WorkflowID, "workflow", opts.WorkflowID, opts.ActorID, events.EventPayload{
		"admin_notes":    opts.AdminNotes != nil,
		"developer_name": opts.DeveloperName != nil,
		"timeline_text":  opts.TimelineText != nil,
	}); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if opts.AdminNotes != nil {
		w.AdminNotes = *opts.AdminNotes
	}
	if opts.DeveloperName != nil {
		w.DeveloperName = *opts.DeveloperName
	}
	if opts.TimelineText != nil {
		w.TimelineText = *opts.TimelineText
	}
	w.UpdatedAt = now
	return w, nil
}

// TaskUpdateOptions are parameters for a partial task update.
type TaskUpdateOptions struct {
	TaskID       string
	Status       *string
	TimelineText *string
	Notes        *string
	ActorID      string
}

// UpdateTask applies a partial update to a task. The actor must hold the
// task's assigned role unless force is set. When the first task of a
// workflow in tasks_assigned moves off its initial status the workflow is
// advanced to in_progress.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions, force bool) (domain.Task, error) {
	if opts.Status != nil && !workflow.ValidTaskStatus(*opts.Status) {
		return domain.Task{}, fmt.Errorf("invalid task status %q", *opts.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !force {
		ok, err := e.Auth.HasRole(ctx, tx, opts.ActorID, workflow.Role(t.AssignedRole))
		if err != nil {
			return domain.Task{}, err
		}
		if !ok {
			return domain.Task{}, auth.ForbiddenRoleError{Role: workflow.Role(t.AssignedRole)}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTaskTx(ctx, tx, opts.TaskID, opts.Status, opts.TimelineText, opts.Notes, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, t.WorkflowID, "task", t.ID, opts.ActorID, events.EventPayload{
		"status": stringOrEmpty(opts.Status),
	}); err != nil {
		return domain.Task{}, err
	}
	if opts.Status != nil && *opts.Status != workflow.TaskAssigned {
		w, err := e.Repo.GetWorkflowTx(ctx, tx, t.WorkflowID)
		if err != nil {
			return domain.Task{}, err
		}
		if workflow.State(w.State) == workflow.StateTasksAssigned {
			if err := e.Repo.UpdateWorkflowStateTx(ctx, tx, t.WorkflowID, string(workflow.StateInProgress), now); err != nil {
				return domain.Task{}, err
			}
			if err := e.Events.Append(ctx, tx, events.WorkflowStateChanged, t.WorkflowID, "workflow", t.WorkflowID, opts.ActorID, events.EventPayload{
				"from": string(workflow.StateTasksAssigned),
				"to":   string(workflow.StateInProgress),
			}); err != nil {
				return domain.Task{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t = applyTaskUpdate(t, opts)
	t.UpdatedAt = now
	return t, nil
}

// TicketOptions are parameters for an escalation ticket.
type TicketOptions struct {
	TaskID      string
	Subject     string
	Description string
	Priority    string
	FromRole    string
	ToRole      string
	ActorID     string
}

// CreateTicket opens an escalation ticket against a task.
func (e Engine) CreateTicket(ctx context.Context, opts TicketOptions) (domain.Ticket, error) {
	if opts.Subject == "" {
		return domain.Ticket{}, errors.New("subject is required")
	}
	if opts.Priority == "" {
		opts.Priority = workflow.PriorityMedium
	}
	if !workflow.ValidTicketPriority(opts.Priority) {
		return domain.Ticket{}, fmt.Errorf("invalid ticket priority %q", opts.Priority)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Ticket{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	ticket := domain.Ticket{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.TaskID+"|"+opts.Subject+"|"+now)).String(),
		WorkflowID:  t.WorkflowID,
		TaskID:      t.ID,
		Subject:     opts.Subject,
		Description: opts.Description,
		Priority:    opts.Priority,
		FromRole:    opts.FromRole,
		ToRole:      opts.ToRole,
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertTicketTx(ctx, tx, ticket); err != nil {
		return domain.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TicketCreated, t.WorkflowID, "ticket", ticket.ID, opts.ActorID, events.EventPayload{
		"subject":  ticket.Subject,
		"priority": ticket.Priority,
		"to_role":  ticket.ToRole,
	}); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, err
	}
	return ticket, nil
}

// AddSLADocument stores an uploaded document attached to a workflow,
// optionally scoped to one of its tasks.
func (e Engine) AddSLADocument(ctx context.Context, workflowID, taskID, fileName string, contents []byte, actorID string) (domain.SLADocument, error) {
	if fileName == "" {
		return domain.SLADocument{}, errors.New("file name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SLADocument{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID); err != nil {
		return domain.SLADocument{}, err
	}
	if taskID != "" {
		t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return domain.SLADocument{}, err
		}
		if t.WorkflowID != workflowID {
			return domain.SLADocument{}, fmt.Errorf("task %s not in workflow %s", taskID, workflowID)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	doc := domain.SLADocument{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(workflowID+"|"+fileName+"|"+now)).String(),
		WorkflowID: workflowID,
		TaskID:     optionalString(taskID),
		FileName:   fileName,
		UploadedBy: actorID,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, doc, contents); err != nil {
		return domain.SLADocument{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.DocumentUploaded, workflowID, "document", doc.ID, actorID, events.EventPayload{
		"file_name": doc.FileName,
	}); err != nil {
		return domain.SLADocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SLADocument{}, err
	}
	return doc, nil
}

// PortfolioSummary aggregates projects an investor has committed to.
type PortfolioSummary struct {
	ProjectCount       int     `json:"project_count"`
	TotalCapacityMW    float64 `json:"total_capacity_mw"`
	TotalContractValue float64 `json:"total_contract_value"`
}

// Portfolio sums capacity and full-term contract value over workflows in
// interest_accepted or ready_to_build.
func (e Engine) Portfolio(ctx context.Context) (PortfolioSummary, error) {
	var sum PortfolioSummary
	for _, state := range []workflow.State{workflow.StateInterestAccepted, workflow.StateReadyToBuild} {
		ws, err := e.Repo.ListWorkflows(ctx, repo.WorkflowFilter{State: string(state)})
		if err != nil {
			return PortfolioSummary{}, err
		}
		for _, w := range ws {
			sum.ProjectCount++
			sum.TotalCapacityMW += w.CapacityMW
			sum.TotalContractValue += workflow.ContractValue(w)
		}
	}
	return sum, nil
}

// RegisterUser creates a user with the given roles.
func (e Engine) RegisterUser(ctx context.Context, id, email, name string, roles []string) (domain.User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	u := domain.User{ID: id, Email: email, Name: name, Roles: roles, CreatedAt: now}
	if err := e.Repo.EnsureUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	for _, role := range roles {
		if err := e.Repo.AssignRole(ctx, tx, u.ID, role); err != nil {
			return domain.User{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateAPIKey mints and stores a hashed API key for the user, returning the
// plaintext key once.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if userID == "" {
		return domain.APIKey{}, "", errors.New("user_id required")
	}
	plain := uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// --- helpers ---

func applyTaskUpdate(t domain.Task, opts TaskUpdateOptions) domain.Task {
	if opts.Status != nil {
		t.Status = *opts.Status
	}
	if opts.TimelineText != nil {
		t.TimelineText = *opts.TimelineText
	}
	if opts.Notes != nil {
		t.Notes = *opts.Notes
	}
	return t
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
