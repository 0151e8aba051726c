package store

import (
	"context"
	"io"

	"landflow/internal/domain"
	"landflow/internal/workflow"
	landflowsdk "landflow/sdk/go"
)

// Remote adapts the Go SDK client to the store's API interface, translating
// between the SDK's wire types and the domain records. This is the seam that
// backs a Store with a live server.
type Remote struct {
	Client *landflowsdk.Client
}

var _ API = Remote{}

// NewRemote wraps an SDK client as a store persistence API.
func NewRemote(c *landflowsdk.Client) Remote {
	return Remote{Client: c}
}

func (r Remote) ListWorkflows(ctx context.Context) ([]domain.WorkflowInstance, error) {
	items, err := r.Client.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]domain.WorkflowInstance, 0, len(items))
	for _, w := range items {
		res = append(res, workflowFromWire(w))
	}
	return res, nil
}

func (r Remote) ListTasks(ctx context.Context, workflowID string) ([]domain.Task, error) {
	items, err := r.Client.ListTasks(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(items))
	for _, t := range items {
		res = append(res, taskFromWire(t))
	}
	return res, nil
}

func (r Remote) UpdateWorkflowState(ctx context.Context, workflowID string, state workflow.State) error {
	return r.Client.UpdateWorkflowState(ctx, workflowID, string(state))
}

func (r Remote) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error {
	return r.Client.UpdateTask(ctx, taskID, landflowsdk.TaskPatch{
		Status:       patch.Status,
		TimelineText: patch.TimelineText,
		Notes:        patch.Notes,
	})
}

func (r Remote) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	created, err := r.Client.CreateTicket(ctx, landflowsdk.Ticket{
		TaskID:      t.TaskID,
		Subject:     t.Subject,
		Description: t.Description,
		Priority:    t.Priority,
		FromRole:    t.FromRole,
		ToRole:      t.ToRole,
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return ticketFromWire(created), nil
}

func (r Remote) UploadSLADocument(ctx context.Context, doc domain.SLADocument, contents io.Reader) (domain.SLADocument, error) {
	created, err := r.Client.UploadSLADocument(ctx, landflowsdk.SLADocument{
		WorkflowID: doc.WorkflowID,
		TaskID:     doc.TaskID,
		FileName:   doc.FileName,
	}, contents)
	if err != nil {
		return domain.SLADocument{}, err
	}
	return documentFromWire(created), nil
}

func workflowFromWire(w landflowsdk.Workflow) domain.WorkflowInstance {
	return domain.WorkflowInstance{
		ID:                w.ID,
		LandownerID:       w.LandownerID,
		Title:             w.Title,
		LocationText:      w.LocationText,
		Latitude:          w.Latitude,
		Longitude:         w.Longitude,
		AreaAcres:         w.AreaAcres,
		LandType:          w.LandType,
		EnergyCategory:    w.EnergyCategory,
		CapacityMW:        w.CapacityMW,
		PricePerMWh:       w.PricePerMWh,
		ContractTermYears: w.ContractTermYears,
		DeveloperName:     w.DeveloperName,
		TimelineText:      w.TimelineText,
		AdminNotes:        w.AdminNotes,
		State:             w.State,
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
	}
}

func taskFromWire(t landflowsdk.Task) domain.Task {
	return domain.Task{
		ID:           t.ID,
		WorkflowID:   t.WorkflowID,
		AssignedRole: t.AssignedRole,
		AssigneeID:   t.AssigneeID,
		Title:        t.Title,
		Description:  t.Description,
		Status:       t.Status,
		TimelineText: t.TimelineText,
		Notes:        t.Notes,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func ticketFromWire(t landflowsdk.Ticket) domain.Ticket {
	return domain.Ticket{
		ID:          t.ID,
		WorkflowID:  t.WorkflowID,
		TaskID:      t.TaskID,
		Subject:     t.Subject,
		Description: t.Description,
		Priority:    t.Priority,
		FromRole:    t.FromRole,
		ToRole:      t.ToRole,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
	}
}

func documentFromWire(d landflowsdk.SLADocument) domain.SLADocument {
	return domain.SLADocument{
		ID:         d.ID,
		WorkflowID: d.WorkflowID,
		TaskID:     d.TaskID,
		FileName:   d.FileName,
		UploadedBy: d.UploadedBy,
		CreatedAt:  d.CreatedAt,
	}
}
