package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/autoapply/internal/domain"
)

// ArtifactRepo implements domain.ArtifactStore.
type ArtifactRepo struct {
	pool *pgxpool.Pool
}

func NewArtifactRepo(pool *pgxpool.Pool) *ArtifactRepo {
	return &ArtifactRepo{pool: pool}
}

const insertArtifact = `-- name: InsertArtifact :exec
INSERT INTO artifacts (id, kind, platform, external_id, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const getArtifact = `-- name: GetArtifact :one
SELECT id, kind, platform, external_id, body, created_at
FROM artifacts
WHERE id = $1`

func (r *ArtifactRepo) SaveArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := r.pool.Exec(ctx, insertArtifact,
		a.Handle.ID, a.Handle.Kind, a.Identity.Platform, a.Identity.ExternalID, a.Body, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", a.Handle.ID, err)
	}
	return nil
}

func (r *ArtifactRepo) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := r.pool.QueryRow(ctx, getArtifact, id).Scan(
		&a.Handle.ID, &a.Handle.Kind, &a.Identity.Platform, &a.Identity.ExternalID, &a.Body, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
