package facilitations

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentorbridge/backend/internal/models"
)

const facilitationColumns = `id, requester_id, target_id, requester_role, status, message,
	COALESCE(admin_notes,''), reviewed_by, created_at, reviewed_at, matched_at, completed_at`

// Repository handles facilitation request persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a facilitations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanFacilitation(row pgx.Row, f *models.FacilitationRequest) error {
	return row.Scan(&f.ID, &f.RequesterID, &f.TargetID, &f.RequesterRole, &f.Status, &f.Message,
		&f.AdminNotes, &f.ReviewedBy, &f.CreatedAt, &f.ReviewedAt, &f.MatchedAt, &f.CompletedAt)
}

// Create inserts a new facilitation request in pending state.
func (r *Repository) Create(ctx context.Context, f *models.FacilitationRequest) error {
	const q = `INSERT INTO facilitation_requests (id, requester_id, target_id, requester_role, status, message)
		VALUES (gen_random_uuid(), $1, $2, $3, 'pending', $4)
		RETURNING id, status, created_at`
	return r.pool.QueryRow(ctx, q, f.RequesterID, f.TargetID, f.RequesterRole, f.Message).
		Scan(&f.ID, &f.Status, &f.CreatedAt)
}

// GetByID returns a facilitation request by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.FacilitationRequest, error) {
	const q = `SELECT ` + facilitationColumns + ` FROM facilitation_requests WHERE id = $1`
	var f models.FacilitationRequest
	if err := scanFacilitation(r.pool.QueryRow(ctx, q, id), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListByParticipant returns facilitations where the user is requester or target.
func (r *Repository) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]models.FacilitationRequest, error) {
	const q = `SELECT ` + facilitationColumns + ` FROM facilitation_requests
		WHERE requester_id = $1 OR target_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, q, userID)
}

// ListByStatus returns facilitations in the given state, newest first (admin review queues).
func (r *Repository) ListByStatus(ctx context.Context, status models.FacilitationStatus) ([]models.FacilitationRequest, error) {
	const q = `SELECT ` + facilitationColumns + ` FROM facilitation_requests
		WHERE status = $1 ORDER BY created_at DESC`
	return r.list(ctx, q, status)
}

// ListAll returns every facilitation, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]models.FacilitationRequest, error) {
	const q = `SELECT ` + facilitationColumns + ` FROM facilitation_requests ORDER BY created_at DESC`
	return r.list(ctx, q)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.FacilitationRequest, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.FacilitationRequest
	for rows.Next() {
		var f models.FacilitationRequest
		if err := scanFacilitation(rows, &f); err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

// HasActiveMatch reports whether a matched facilitation already links the two
// users in either direction, excluding the given request.
func (r *Repository) HasActiveMatch(ctx context.Context, userA, userB, exclude uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM facilitation_requests
		WHERE status = 'matched' AND id <> $3
		  AND ((requester_id = $1 AND target_id = $2) OR (requester_id = $2 AND target_id = $1)))`
	var exists bool
	err := r.pool.QueryRow(ctx, q, userA, userB, exclude).Scan(&exists)
	return exists, err
}

// MarkInReview moves pending -> in_review, stamping reviewed_at. Returns false
// when the row was not in pending (stale caller state).
func (r *Repository) MarkInReview(ctx context.Context, id, actorID uuid.UUID) (bool, error) {
	const q = `UPDATE facilitation_requests
		SET status = 'in_review', reviewed_at = NOW(), reviewed_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, q, id, actorID)
	return tag.RowsAffected() > 0, err
}

// MarkCancelled moves the request to cancelled from the expected state,
// recording the decline/rejection reason in admin_notes when given.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID, from models.FacilitationStatus, actorID uuid.UUID, notes string) (bool, error) {
	const q = `UPDATE facilitation_requests
		SET status = 'cancelled', reviewed_by = $3,
		    admin_notes = CASE WHEN $4 <> '' THEN $4 ELSE admin_notes END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, from, actorID, notes)
	return tag.RowsAffected() > 0, err
}

// MarkMatched moves in_review -> matched, stamping matched_at and reviewed_by.
func (r *Repository) MarkMatched(ctx context.Context, id, actorID uuid.UUID) (bool, error) {
	const q = `UPDATE facilitation_requests
		SET status = 'matched', matched_at = NOW(), reviewed_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_review'`
	tag, err := r.pool.Exec(ctx, q, id, actorID)
	return tag.RowsAffected() > 0, err
}

// MarkCompleted moves matched -> completed, stamping completed_at.
func (r *Repository) MarkCompleted(ctx context.Context, id, actorID uuid.UUID) (bool, error) {
	const q = `UPDATE facilitation_requests
		SET status = 'completed', completed_at = NOW(), reviewed_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'matched'`
	tag, err := r.pool.Exec(ctx, q, id, actorID)
	return tag.RowsAffected() > 0, err
}

// UpdateAdminNotes replaces the reviewer notes. Returns false when no row matched.
func (r *Repository) UpdateAdminNotes(ctx context.Context, id uuid.UUID, notes string) (bool, error) {
	const q = `UPDATE facilitation_requests SET admin_notes = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, notes)
	return tag.RowsAffected() > 0, err
}
