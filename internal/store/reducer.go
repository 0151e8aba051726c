package store

import "landflow/internal/domain"

// snapshot is the store's in-memory state: the collections for the current
// session plus the last recorded load/persist error.
type snapshot struct {
	workflows    []domain.WorkflowInstance
	tasks        []domain.Task
	tickets      []domain.Ticket
	slaDocuments []domain.SLADocument
	err          error
}

type actionKind int

const (
	actionSetWorkflows actionKind = iota
	actionSetTasks
	actionSetWorkflowState
	actionMergeTask
	actionAddTicket
	actionAddDocument
	actionSetError
)

// action carries one state delta through the reducer. Transition validation
// happens before an action is ever dispatched; reduce only applies.
type action struct {
	kind       actionKind
	workflows  []domain.WorkflowInstance
	tasks      []domain.Task
	workflowID string
	state      string
	taskID     string
	patch      TaskPatch
	ticket     domain.Ticket
	document   domain.SLADocument
	err        error
}

// reduce is a pure (state, action) -> state function. It never mutates its
// input: collections touched by the action are rebuilt, the rest are shared.
func reduce(s snapshot, a action) snapshot {
	switch a.kind {
	case actionSetWorkflows:
		s.workflows = a.workflows
		s.err = nil
	case actionSetTasks:
		s.tasks = a.tasks
		s.err = nil
	case actionSetWorkflowState:
		next := make([]domain.WorkflowInstance, len(s.workflows))
		for i, w := range s.workflows {
			if w.ID == a.workflowID {
				w.State = a.state
			}
			next[i] = w
		}
		s.workflows = next
		s.err = nil
	case actionMergeTask:
		next := make([]domain.Task, len(s.tasks))
		for i, t := range s.tasks {
			if t.ID == a.taskID {
				t = applyTaskPatch(t, a.patch)
			}
			next[i] = t
		}
		s.tasks = next
		s.err = nil
	case actionAddTicket:
		s.tickets = append(s.tickets[:len(s.tickets):len(s.tickets)], a.ticket)
		s.err = nil
	case actionAddDocument:
		s.slaDocuments = append(s.slaDocuments[:len(s.slaDocuments):len(s.slaDocuments)], a.document)
		s.err = nil
	case actionSetError:
		s.err = a.err
	}
	return s
}

func applyTaskPatch(t domain.Task, p TaskPatch) domain.Task {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.TimelineText != nil {
		t.TimelineText = *p.TimelineText
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	return t
}
