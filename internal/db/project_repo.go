package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"minhafloresta/internal/types"
)

// ProjectRepo reads project metadata and mutates fund counters.
//
// funds_raised_cents is only ever changed through AddFunds, a single atomic
// UPDATE. There is no read-modify-write path, so concurrent donations to the
// same project cannot lose increments.
type ProjectRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProjectRepo creates a new ProjectRepo backed by the given database
// connection (pool or transaction).
func NewProjectRepo(db DBTX, logger *slog.Logger) *ProjectRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectRepo{db: db, logger: logger}
}

// Get loads a project by its slug.
func (r *ProjectRepo) Get(ctx context.Context, projectID string) (*types.SocialProject, error) {
	var p types.SocialProject
	err := r.db.QueryRow(ctx,
		`SELECT id, name, funds_raised_cents FROM social_projects WHERE id = $1`,
		projectID,
	).Scan(&p.ID, &p.Name, &p.FundsRaisedCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProject, "project not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load project", err)
	}
	return &p, nil
}

// GetName returns the display name for a project slug, or the slug itself
// when the project row is missing. Rendering must not fail because a project
// was renamed or removed after purchase.
func (r *ProjectRepo) GetName(ctx context.Context, projectID string) string {
	p, err := r.Get(ctx, projectID)
	if err != nil {
		r.logger.WarnContext(ctx, "project name lookup failed, falling back to slug",
			slog.String("project_id", projectID),
		)
		return projectID
	}
	return p.Name
}

// AddFunds atomically increments the project's raised funds. A zero rows
// result means the project does not exist.
func (r *ProjectRepo) AddFunds(ctx context.Context, projectID string, amountCents int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE social_projects
		 SET funds_raised_cents = funds_raised_cents + $1
		 WHERE id = $2`,
		amountCents,
		projectID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to add project funds", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProject, "project not found for fund increment", nil)
	}
	return nil
}
