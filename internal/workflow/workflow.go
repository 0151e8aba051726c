// Package workflow defines the land-registration lifecycle: the closed set
// of workflow states, the legal transitions between them, and the role
// permission table gating each action. Everything here is pure data and
// pure functions; persistence and transport live elsewhere.
package workflow

import (
	"fmt"

	"landflow/internal/domain"
)

// State is a node in the land-registration lifecycle.
type State string

const (
	StateSubmitted        State = "submitted"
	StateVerifiedByAdmin  State = "verified_by_admin"
	StateTasksAssigned    State = "tasks_assigned"
	StateInProgress       State = "in_progress"
	StateInterestRequest  State = "interest_request"
	StateInterestAccepted State = "interest_accepted"
	StateReadyToBuild     State = "ready_to_build"
)

// States lists the lifecycle in progression order.
var States = []State{
	StateSubmitted,
	StateVerifiedByAdmin,
	StateTasksAssigned,
	StateInProgress,
	StateInterestRequest,
	StateInterestAccepted,
	StateReadyToBuild,
}

// Role identifies an actor category in the marketplace.
type Role string

const (
	RoleLandowner      Role = "landowner"
	RoleAdministrator  Role = "administrator"
	RoleInvestor       Role = "investor"
	RoleSalesAdvisor   Role = "re_sales_advisor"
	RoleAnalyst        Role = "re_analyst"
	RoleGovernanceLead Role = "re_governance_lead"
	RoleProjectManager Role = "project_manager"
)

// Roles lists every role the marketplace knows about.
var Roles = []Role{
	RoleLandowner,
	RoleAdministrator,
	RoleInvestor,
	RoleSalesAdvisor,
	RoleAnalyst,
	RoleGovernanceLead,
	RoleProjectManager,
}

// ValidRole reports whether r is a member of the role enumeration.
func ValidRole(r Role) bool {
	for _, known := range Roles {
		if known == r {
			return true
		}
	}
	return false
}

// SpecialistRoles are the roles that receive tasks when an administrator
// assigns work on a verified registration.
var SpecialistRoles = []Role{
	RoleSalesAdvisor,
	RoleAnalyst,
	RoleGovernanceLead,
	RoleProjectManager,
}

// Action is a user-visible operation gated by the permission table.
type Action string

const (
	ActionSubmitForm     Action = "submit_form"
	ActionVerifyForm     Action = "verify_form"
	ActionAssignTasks    Action = "assign_tasks"
	ActionUpdateTask     Action = "update_task"
	ActionSendInterest   Action = "send_interest"
	ActionAcceptInterest Action = "accept_interest"
	ActionApproveRTB     Action = "approve_rtb"
)

// Task statuses move independently of the workflow state.
const (
	TaskAssigned   = "assigned"
	TaskInProgress = "in_progress"
	TaskPending    = "pending"
	TaskDelayed    = "delayed"
	TaskCompleted  = "completed"
	TaskRejected   = "rejected"
	TaskOnHold     = "on_hold"
)

var taskStatuses = map[string]struct{}{
	TaskAssigned: {}, TaskInProgress: {}, TaskPending: {}, TaskDelayed: {},
	TaskCompleted: {}, TaskRejected: {}, TaskOnHold: {},
}

// ValidTaskStatus reports whether s is a member of the task status enumeration.
func ValidTaskStatus(s string) bool {
	_, ok := taskStatuses[s]
	return ok
}

// Energy categories for a registered site.
const (
	EnergySolar         = "solar"
	EnergyWind          = "wind"
	EnergyHydroelectric = "hydroelectric"
	EnergyBiomass       = "biomass"
	EnergyGeothermal    = "geothermal"
)

// EnergyCategories lists the fixed energy enumeration.
var EnergyCategories = []string{
	EnergySolar, EnergyWind, EnergyHydroelectric, EnergyBiomass, EnergyGeothermal,
}

// ValidEnergyCategory reports membership in the energy enumeration.
func ValidEnergyCategory(s string) bool {
	for _, c := range EnergyCategories {
		if c == s {
			return true
		}
	}
	return false
}

// Ticket priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidTicketPriority reports membership in the priority enumeration.
func ValidTicketPriority(s string) bool {
	switch s {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// InvalidTransitionError is returned when a requested state change is not a
// legal successor of the current state.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid workflow transition %s -> %s", e.From, e.To)
}

// transition pairs each edge of the lifecycle with the role that triggers it.
type transition struct {
	next State
	role Role
}

// transitions is the single source of truth for the lifecycle graph. The
// chain is strictly forward: no transition skips a state or moves backward,
// and ready_to_build is terminal.
var transitions = map[State]transition{
	StateSubmitted:        {StateVerifiedByAdmin, RoleAdministrator},
	StateVerifiedByAdmin:  {StateTasksAssigned, RoleAdministrator},
	StateTasksAssigned:    {StateInProgress, RoleAdministrator},
	StateInProgress:       {StateInterestRequest, RoleInvestor},
	StateInterestRequest:  {StateInterestAccepted, RoleAdministrator},
	StateInterestAccepted: {StateReadyToBuild, RoleAdministrator},
}

// ValidState reports whether s is a member of the state enumeration.
func ValidState(s State) bool {
	if s == StateReadyToBuild {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// NextStates returns the declared successors of s. The default model is a
// linear chain, so the slice has at most one element; terminal states
// return nil.
func NextStates(s State) []State {
	t, ok := transitions[s]
	if !ok {
		return nil
	}
	return []State{t.next}
}

// CanTransition reports whether to is a declared successor of from.
func CanTransition(from, to State) bool {
	t, ok := transitions[from]
	return ok && t.next == to
}

// EnsureTransition validates a requested state change, returning
// InvalidTransitionError when the edge is not in the lifecycle graph.
func EnsureTransition(from, to State) error {
	if !CanTransition(from, to) {
		return InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// TransitionRole returns the role allowed to trigger the from->to edge.
// The second result is false when the edge is not in the graph.
func TransitionRole(from, to State) (Role, bool) {
	t, ok := transitions[from]
	if !ok || t.next != to {
		return "", false
	}
	return t.role, true
}

// CanPerformAction is the central permission predicate: it answers whether a
// holder of role may perform action on the given workflow instance. The
// server enforces the same table; every operation in the system routes
// through it before mutating state.
func CanPerformAction(action Action, role Role, w domain.WorkflowInstance) bool {
	switch action {
	case ActionSubmitForm:
		return role == RoleLandowner
	case ActionVerifyForm:
		return role == RoleAdministrator && State(w.State) == StateSubmitted
	case ActionAssignTasks:
		return role == RoleAdministrator && State(w.State) == StateVerifiedByAdmin
	case ActionUpdateTask:
		for _, r := range SpecialistRoles {
			if r == role {
				return true
			}
		}
		return false
	case ActionSendInterest:
		return role == RoleInvestor && State(w.State) == StateInProgress
	case ActionAcceptInterest:
		return role == RoleAdministrator && State(w.State) == StateInterestRequest
	case ActionApproveRTB:
		return role == RoleAdministrator && State(w.State) == StateInterestAccepted
	default:
		return false
	}
}

// CanPerformActionAny reports whether any of the caller's roles allows the
// action. Users may hold several roles; their capabilities are the union,
// not whichever role happens to be listed first.
func CanPerformActionAny(action Action, roles []Role, w domain.WorkflowInstance) bool {
	for _, r := range roles {
		if CanPerformAction(action, r, w) {
			return true
		}
	}
	return false
}

// HoursPerYear is the constant used for contract valuation.
const HoursPerYear = 8760

// AnnualRevenue returns the projected yearly revenue of a workflow's
// contract: capacity (MW) x price ($/MWh) x hours in a year.
func AnnualRevenue(w domain.WorkflowInstance) float64 {
	return w.CapacityMW * w.PricePerMWh * HoursPerYear
}

// ContractValue returns the full-term contract value of a workflow.
func ContractValue(w domain.WorkflowInstance) float64 {
	return AnnualRevenue(w) * float64(w.ContractTermYears)
}
