package workflow_test

import (
	"errors"
	"testing"

	"landflow/internal/domain"
	"landflow/internal/workflow"
)

func TestTransitionClosure(t *testing.T) {
	allowed := map[workflow.State]workflow.State{
		workflow.StateSubmitted:        workflow.StateVerifiedByAdmin,
		workflow.StateVerifiedByAdmin:  workflow.StateTasksAssigned,
		workflow.StateTasksAssigned:    workflow.StateInProgress,
		workflow.StateInProgress:       workflow.StateInterestRequest,
		workflow.StateInterestRequest:  workflow.StateInterestAccepted,
		workflow.StateInterestAccepted: workflow.StateReadyToBuild,
	}
	for _, from := range workflow.States {
		for _, to := range workflow.States {
			want := allowed[from] == to
			if got := workflow.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			err := workflow.EnsureTransition(from, to)
			if want && err != nil {
				t.Errorf("EnsureTransition(%s, %s): unexpected error %v", from, to, err)
			}
			if !want {
				var ite workflow.InvalidTransitionError
				if !errors.As(err, &ite) {
					t.Errorf("EnsureTransition(%s, %s): expected InvalidTransitionError, got %v", from, to, err)
				}
			}
		}
	}
}

func TestReadyToBuildTerminal(t *testing.T) {
	if next := workflow.NextStates(workflow.StateReadyToBuild); next != nil {
		t.Fatalf("expected no successors for terminal state, got %v", next)
	}
}

func TestTransitionRoles(t *testing.T) {
	cases := []struct {
		from, to workflow.State
		role     workflow.Role
	}{
		{workflow.StateSubmitted, workflow.StateVerifiedByAdmin, workflow.RoleAdministrator},
		{workflow.StateInProgress, workflow.StateInterestRequest, workflow.RoleInvestor},
		{workflow.StateInterestAccepted, workflow.StateReadyToBuild, workflow.RoleAdministrator},
	}
	for _, c := range cases {
		role, ok := workflow.TransitionRole(c.from, c.to)
		if !ok || role != c.role {
			t.Errorf("TransitionRole(%s, %s) = %s/%v, want %s", c.from, c.to, role, ok, c.role)
		}
	}
	if _, ok := workflow.TransitionRole(workflow.StateSubmitted, workflow.StateReadyToBuild); ok {
		t.Fatalf("expected no role for illegal edge")
	}
}

func TestInvestorGate(t *testing.T) {
	w := domain.WorkflowInstance{ID: "wf-1", State: string(workflow.StateVerifiedByAdmin)}
	if workflow.CanPerformAction(workflow.ActionSendInterest, workflow.RoleInvestor, w) {
		t.Fatalf("investor should not send interest before in_progress")
	}
	w.State = string(workflow.StateInProgress)
	if !workflow.CanPerformAction(workflow.ActionSendInterest, workflow.RoleInvestor, w) {
		t.Fatalf("investor should send interest once in_progress")
	}
	if workflow.CanPerformAction(workflow.ActionSendInterest, workflow.RoleAdministrator, w) {
		t.Fatalf("administrator may not send interest")
	}
}

func TestPermissionPredicatePurity(t *testing.T) {
	w := domain.WorkflowInstance{ID: "wf-1", State: string(workflow.StateSubmitted)}
	first := workflow.CanPerformAction(workflow.ActionVerifyForm, workflow.RoleAdministrator, w)
	for i := 0; i < 100; i++ {
		// interleave unrelated calls to surface any hidden state
		workflow.CanPerformAction(workflow.ActionSubmitForm, workflow.RoleLandowner, w)
		workflow.CanPerformAction(workflow.ActionApproveRTB, workflow.RoleAdministrator, w)
		if got := workflow.CanPerformAction(workflow.ActionVerifyForm, workflow.RoleAdministrator, w); got != first {
			t.Fatalf("predicate result changed across calls: %v then %v", first, got)
		}
	}
}

func TestActionTable(t *testing.T) {
	submitted := domain.WorkflowInstance{State: string(workflow.StateSubmitted)}
	cases := []struct {
		action workflow.Action
		role   workflow.Role
		w      domain.WorkflowInstance
		want   bool
	}{
		{workflow.ActionSubmitForm, workflow.RoleLandowner, submitted, true},
		{workflow.ActionSubmitForm, workflow.RoleInvestor, submitted, false},
		{workflow.ActionVerifyForm, workflow.RoleAdministrator, submitted, true},
		{workflow.ActionVerifyForm, workflow.RoleAdministrator, domain.WorkflowInstance{State: string(workflow.StateInProgress)}, false},
		{workflow.ActionAssignTasks, workflow.RoleAdministrator, domain.WorkflowInstance{State: string(workflow.StateVerifiedByAdmin)}, true},
		{workflow.ActionAssignTasks, workflow.RoleAdministrator, submitted, false},
		{workflow.ActionUpdateTask, workflow.RoleAnalyst, submitted, true},
		{workflow.ActionUpdateTask, workflow.RoleLandowner, submitted, false},
		{workflow.ActionAcceptInterest, workflow.RoleAdministrator, domain.WorkflowInstance{State: string(workflow.StateInterestRequest)}, true},
		{workflow.ActionApproveRTB, workflow.RoleAdministrator, domain.WorkflowInstance{State: string(workflow.StateInterestAccepted)}, true},
		{workflow.ActionApproveRTB, workflow.RoleProjectManager, domain.WorkflowInstance{State: string(workflow.StateInterestAccepted)}, false},
	}
	for _, c := range cases {
		if got := workflow.CanPerformAction(c.action, c.role, c.w); got != c.want {
			t.Errorf("CanPerformAction(%s, %s, state=%s) = %v, want %v", c.action, c.role, c.w.State, got, c.want)
		}
	}
}

func TestCanPerformActionAnyUnion(t *testing.T) {
	w := domain.WorkflowInstance{State: string(workflow.StateInProgress)}
	roles := []workflow.Role{workflow.RoleLandowner, workflow.RoleInvestor}
	if !workflow.CanPerformActionAny(workflow.ActionSendInterest, roles, w) {
		t.Fatalf("union of roles should allow send_interest")
	}
	if workflow.CanPerformActionAny(workflow.ActionSendInterest, []workflow.Role{workflow.RoleLandowner}, w) {
		t.Fatalf("landowner alone should not allow send_interest")
	}
}

func TestContractValue(t *testing.T) {
	w := domain.WorkflowInstance{CapacityMW: 100, PricePerMWh: 40, ContractTermYears: 20}
	wantAnnual := 100.0 * 40 * 8760
	if got := workflow.AnnualRevenue(w); got != wantAnnual {
		t.Fatalf("AnnualRevenue = %f, want %f", got, wantAnnual)
	}
	if got := workflow.ContractValue(w); got != wantAnnual*20 {
		t.Fatalf("ContractValue = %f, want %f", got, wantAnnual*20)
	}
}
