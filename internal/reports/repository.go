package reports

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentorbridge/backend/internal/models"
)

const reportColumns = `id, month, requested_by, status, COALESCE(s3_key,''), COALESCE(s3_url,''),
	COALESCE(error,''), created_at, completed_at`

// Repository handles report export persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reports repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanReport(row pgx.Row, rp *models.ReportExport) error {
	var month string
	if err := row.Scan(&rp.ID, &month, &rp.RequestedBy, &rp.Status, &rp.S3Key, &rp.S3URL,
		&rp.Error, &rp.CreatedAt, &rp.CompletedAt); err != nil {
		return err
	}
	rp.Month = models.MonthKey(month)
	return nil
}

// Create inserts a pending report export request.
func (r *Repository) Create(ctx context.Context, rp *models.ReportExport) error {
	const q = `INSERT INTO report_exports (id, month, requested_by, status)
		VALUES (gen_random_uuid(), $1, $2, 'pending')
		RETURNING id, status, created_at`
	return r.pool.QueryRow(ctx, q, string(rp.Month), rp.RequestedBy).
		Scan(&rp.ID, &rp.Status, &rp.CreatedAt)
}

// GetByID returns a report export by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReportExport, error) {
	const q = `SELECT ` + reportColumns + ` FROM report_exports WHERE id = $1`
	var rp models.ReportExport
	if err := scanReport(r.pool.QueryRow(ctx, q, id), &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

// List returns all report exports, newest first.
func (r *Repository) List(ctx context.Context) ([]models.ReportExport, error) {
	const q = `SELECT ` + reportColumns + ` FROM report_exports ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ReportExport
	for rows.Next() {
		var rp models.ReportExport
		if err := scanReport(rows, &rp); err != nil {
			return nil, err
		}
		list = append(list, rp)
	}
	return list, rows.Err()
}

// MarkProcessing moves pending -> processing so a crashed worker run is visible.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE report_exports SET status = 'processing' WHERE id = $1 AND status IN ('pending','processing')`
	tag, err := r.pool.Exec(ctx, q, id)
	return tag.RowsAffected() > 0, err
}

// MarkCompleted records the uploaded object location.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, key, url string) error {
	const q = `UPDATE report_exports
		SET status = 'completed', s3_key = $2, s3_url = $3, error = NULL, completed_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, key, url)
	return err
}

// MarkFailed records a terminal failure.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	const q = `UPDATE report_exports SET status = 'failed', error = $2, completed_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, msg)
	return err
}
