package repo

import (
	"context"
	"database/sql"
	"strings"

	"landflow/internal/domain"
)

const ticketColumns = `id,workflow_id,task_id,subject,description,priority,from_role,to_role,created_by,created_at`

func scanTicket(scan func(dest ...any) error) (domain.Ticket, error) {
	var t domain.Ticket
	err := scan(&t.ID, &t.WorkflowID, &t.TaskID, &t.Subject, &t.Description,
		&t.Priority, &t.FromRole, &t.ToRole, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTicketTx(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tickets(`+ticketColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkflowID, t.TaskID, t.Subject, t.Description, t.Priority,
		t.FromRole, t.ToRole, t.CreatedBy, t.CreatedAt)
	return err
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id)
	return scanTicket(row.Scan)
}

// TicketFilter narrows ListTickets; zero values mean no constraint.
type TicketFilter struct {
	WorkflowID string
	TaskID     string
	ToRole     string
}

func (r Repo) ListTickets(ctx context.Context, f TicketFilter) ([]domain.Ticket, error) {
	var (
		clauses []string
		args    []any
	)
	if f.WorkflowID != "" {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, f.WorkflowID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.ToRole != "" {
		clauses = append(clauses, "to_role=?")
		args = append(args, f.ToRole)
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
