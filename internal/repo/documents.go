package repo

import (
	"context"
	"database/sql"

	"landflow/internal/domain"
)

func scanDocument(scan func(dest ...any) error) (domain.SLADocument, error) {
	var d domain.SLADocument
	var taskID sql.NullString
	err := scan(&d.ID, &d.WorkflowID, &taskID, &d.FileName, &d.UploadedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if taskID.Valid {
		d.TaskID = &taskID.String
	}
	return d, err
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.SLADocument, contents []byte) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sla_documents(id,workflow_id,task_id,file_name,content,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.WorkflowID, nullableStringPtr(d.TaskID), d.FileName, contents, d.UploadedBy, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.SLADocument, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,workflow_id,task_id,file_name,uploaded_by,created_at FROM sla_documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

// GetDocumentContent returns the stored file bytes.
func (r Repo) GetDocumentContent(ctx context.Context, id string) ([]byte, error) {
	var contents []byte
	err := r.DB.QueryRowContext(ctx, `SELECT content FROM sla_documents WHERE id=?`, id).Scan(&contents)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return contents, err
}

func (r Repo) ListDocuments(ctx context.Context, workflowID string) ([]domain.SLADocument, error) {
	query := `SELECT id,workflow_id,task_id,file_name,uploaded_by,created_at FROM sla_documents`
	var args []any
	if workflowID != "" {
		query += ` WHERE workflow_id=?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SLADocument
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
