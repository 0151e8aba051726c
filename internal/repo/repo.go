package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"landflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const workflowColumns = `id,landowner_id,title,location_text,latitude,longitude,area_acres,land_type,energy_category,capacity_mw,price_per_mwh,contract_term_years,developer_name,timeline_text,admin_notes,state,created_at,updated_at`

func scanWorkflow(scan func(dest ...any) error) (domain.WorkflowInstance, error) {
	var w domain.WorkflowInstance
	var lat, lng sql.NullFloat64
	err := scan(&w.ID, &w.LandownerID, &w.Title, &w.LocationText, &lat, &lng, &w.AreaAcres,
		&w.LandType, &w.EnergyCategory, &w.CapacityMW, &w.PricePerMWh, &w.ContractTermYears,
		&w.DeveloperName, &w.TimelineText, &w.AdminNotes, &w.State, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if lat.Valid {
		w.Latitude = &lat.Float64
	}
	if lng.Valid {
		w.Longitude = &lng.Float64
	}
	return w, err
}

func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.WorkflowInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflows(`+workflowColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.LandownerID, w.Title, w.LocationText, nullableFloatPtr(w.Latitude), nullableFloatPtr(w.Longitude),
		w.AreaAcres, w.LandType, w.EnergyCategory, w.CapacityMW, w.PricePerMWh, w.ContractTermYears,
		w.DeveloperName, w.TimelineText, w.AdminNotes, w.State, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.WorkflowInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=?`, id)
	return scanWorkflow(row.Scan)
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkflowInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=?`, id)
	return scanWorkflow(row.Scan)
}

// WorkflowFilter narrows ListWorkflows; zero values mean no constraint.
type WorkflowFilter struct {
	State       string
	LandownerID string
	Energy      string
}

func (r Repo) ListWorkflows(ctx context.Context, f WorkflowFilter) ([]domain.WorkflowInstance, error) {
	return r.ListWorkflowsWithCursor(ctx, f, 0, "", "")
}

func (r Repo) ListWorkflowsWithCursor(ctx context.Context, f WorkflowFilter, limit int, cursorCreatedAt, cursorID string) ([]domain.WorkflowInstance, error) {
	var (
		clauses []string
		args    []any
	)
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.LandownerID != "" {
		clauses = append(clauses, "landowner_id=?")
		args = append(args, f.LandownerID)
	}
	if f.Energy != "" {
		clauses = append(clauses, "energy_category=?")
		args = append(args, f.Energy)
	}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowInstance
	for rows.Next() {
		w, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWorkflowStateTx(ctx context.Context, tx *sql.Tx, id, state, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET state=?, updated_at=? WHERE id=?`, state, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateWorkflowFieldsTx applies a partial update of the mutable descriptive
// fields. Nil pointers are left untouched.
func (r Repo) UpdateWorkflowFieldsTx(ctx context.Context, tx *sql.Tx, id string, adminNotes, developerName, timelineText *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if adminNotes != nil {
		fields = append(fields, "admin_notes=?")
		args = append(args, *adminNotes)
	}
	if developerName != nil {
		fields = append(fields, "developer_name=?")
		args = append(args, *developerName)
	}
	if timelineText != nil {
		fields = append(fields, "timeline_text=?")
		args = append(args, *timelineText)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE workflows SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountWorkflowsByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM workflows GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		res[state] = n
	}
	return res, rows.Err()
}

const taskColumns = `id,workflow_id,assigned_role,assignee_id,title,description,status,timeline_text,notes,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assignee sql.NullString
	err := scan(&t.ID, &t.WorkflowID, &t.AssignedRole, &assignee, &t.Title, &t.Description,
		&t.Status, &t.TimelineText, &t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	return t, err
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkflowID, t.AssignedRole, nullableStringPtr(t.AssigneeID), t.Title, t.Description,
		t.Status, t.TimelineText, t.Notes, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

// TaskFilter narrows ListTasks; zero values mean no constraint.
type TaskFilter struct {
	WorkflowID   string
	AssignedRole string
	Status       string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.WorkflowID != "" {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, f.WorkflowID)
	}
	if f.AssignedRole != "" {
		clauses = append(clauses, "assigned_role=?")
		args = append(args, f.AssignedRole)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, id string, status, timelineText, notes *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if timelineText != nil {
		fields = append(fields, "timeline_text=?")
		args = append(args, *timelineText)
	}
	if notes != nil {
		fields = append(fields, "notes=?")
		args = append(args, *notes)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
