package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/iep-collab-api/internal/models"
)

// IEPSnapshotRepository persists JSON images of IEP documents.
type IEPSnapshotRepository struct {
	db *sqlx.DB
}

// NewIEPSnapshotRepository constructs the repository.
func NewIEPSnapshotRepository(db *sqlx.DB) *IEPSnapshotRepository {
	return &IEPSnapshotRepository{db: db}
}

// Upsert stores the snapshot unless a newer image is already persisted. Lifecycle
// transitions keep the version, so updated_at orders images of equal version.
func (r *IEPSnapshotRepository) Upsert(ctx context.Context, snapshot *models.DocumentSnapshot) error {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO iep_documents (id, student_id, status, version, payload, updated_at)
	VALUES (:id, :student_id, :status, :version, :payload, :updated_at)
	ON CONFLICT (id) DO UPDATE SET student_id = EXCLUDED.student_id, status = EXCLUDED.status,
	version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	WHERE (iep_documents.version, iep_documents.updated_at) <= (EXCLUDED.version, EXCLUDED.updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, snapshot); err != nil {
		return fmt.Errorf("upsert iep snapshot: %w", err)
	}
	return nil
}

// LoadAll returns every persisted snapshot, oldest update first.
func (r *IEPSnapshotRepository) LoadAll(ctx context.Context) ([]models.DocumentSnapshot, error) {
	const query = `SELECT id, student_id, status, version, payload, updated_at FROM iep_documents ORDER BY updated_at ASC`
	var snapshots []models.DocumentSnapshot
	if err := r.db.SelectContext(ctx, &snapshots, query); err != nil {
		return nil, fmt.Errorf("load iep snapshots: %w", err)
	}
	return snapshots, nil
}
