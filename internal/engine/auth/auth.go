package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"landflow/internal/workflow"
)

// ForbiddenError indicates the actor's roles do not allow the action.
type ForbiddenError struct {
	Action workflow.Action
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("action %s not permitted for actor roles", e.Action)
}

// ForbiddenRoleError indicates a transition reserved for another role.
type ForbiddenRoleError struct {
	Role workflow.Role
}

func (e ForbiddenRoleError) Error() string {
	return fmt.Sprintf("role %s required", e.Role)
}

// Service provides role lookups backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureUser(ctx context.Context, tx *sql.Tx, userID string) error {
	if userID == "" {
		return errors.New("user_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, email, name, created_at) VALUES (?,?,?,?)`,
		userID, userID, "", now)
	return err
}

// UserRoles returns the roles held by the user inside the caller's transaction.
func (s Service) UserRoles(ctx context.Context, tx *sql.Tx, userID string) ([]workflow.Role, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []workflow.Role
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, workflow.Role(r))
	}
	return roles, rows.Err()
}

// HasRole reports whether the user holds the role.
func (s Service) HasRole(ctx context.Context, tx *sql.Tx, userID string, role workflow.Role) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM user_roles WHERE user_id=? AND role=? LIMIT 1`, userID, string(role))
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
