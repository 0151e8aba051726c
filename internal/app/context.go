package app

import (
	"context"
	"fmt"
	"time"

	"landflow/internal/config"
	"landflow/internal/domain"
	"landflow/internal/repo"
	"landflow/internal/workflow"
)

// ResolveConfig loads landflow.yml from the workspace, falling back to the
// built-in defaults, and bootstraps the local actor as an administrator so a
// fresh workspace is usable without a separate user setup step.
func ResolveConfig(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("landflow")
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := ensureLocalAdmin(ctx, r, actorID); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureLocalAdmin(ctx context.Context, r repo.Repo, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	u := domain.User{ID: actorID, Email: actorID, CreatedAt: now}
	if err := r.EnsureUser(ctx, tx, u); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if err := r.AssignRole(ctx, tx, actorID, string(workflow.RoleAdministrator)); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return tx.Commit()
}
