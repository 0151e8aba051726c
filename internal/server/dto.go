package server

import (
	"landflow/internal/domain"
	"landflow/internal/engine"
)

// SubmitWorkflowRequest is the payload for registering a land parcel.
type SubmitWorkflowRequest struct {
	ID                string   `json:"id,omitempty"`
	Title             string   `json:"title"`
	LocationText      string   `json:"location_text,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	AreaAcres         float64  `json:"area_acres,omitempty"`
	LandType          string   `json:"land_type,omitempty"`
	EnergyCategory    string   `json:"energy_category" enum:"solar,wind,hydroelectric,biomass,geothermal"`
	CapacityMW        float64  `json:"capacity_mw,omitempty"`
	PricePerMWh       float64  `json:"price_per_mwh,omitempty"`
	ContractTermYears int      `json:"contract_term_years,omitempty"`
	TimelineText      string   `json:"timeline_text,omitempty"`
}

// WorkflowResponse mirrors domain.WorkflowInstance on the wire.
type WorkflowResponse = domain.WorkflowInstance

// TaskResponse mirrors domain.Task on the wire.
type TaskResponse = domain.Task

// TicketResponse mirrors domain.Ticket on the wire.
type TicketResponse = domain.Ticket

// DocumentResponse mirrors domain.SLADocument on the wire.
type DocumentResponse = domain.SLADocument

// EventResponse mirrors domain.Event on the wire.
type EventResponse = domain.Event

// PortfolioResponse mirrors the engine aggregate on the wire.
type PortfolioResponse = engine.PortfolioSummary

// CreateTicketRequest is the payload for opening an escalation ticket.
type CreateTicketRequest struct {
	TaskID      string `json:"task_id"`
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	FromRole    string `json:"from_role,omitempty"`
	ToRole      string `json:"to_role,omitempty"`
}

// UpdateTaskRequest is a partial task update; omitted fields are untouched.
type UpdateTaskRequest struct {
	Status       *string `json:"status,omitempty" enum:"assigned,in_progress,pending,delayed,completed,rejected,on_hold"`
	TimelineText *string `json:"timeline_text,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// UpdateWorkflowRequest is a partial update of the descriptive workflow
// fields; omitted fields are untouched.
type UpdateWorkflowRequest struct {
	AdminNotes    *string `json:"admin_notes,omitempty"`
	DeveloperName *string `json:"developer_name,omitempty"`
	TimelineText  *string `json:"timeline_text,omitempty"`
}

// UpdateStateRequest moves a workflow along the lifecycle.
type UpdateStateRequest struct {
	State string `json:"state" enum:"submitted,verified_by_admin,tasks_assigned,in_progress,interest_request,interest_accepted,ready_to_build"`
}
