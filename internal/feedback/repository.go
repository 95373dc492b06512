package feedback

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentorbridge/backend/internal/models"
)

const feedbackColumns = `id, facilitation_id, submitter_id, recipient_id, submitter_role, rating, feedback_text,
	hours_contributed, COALESCE(tasks_completed,''), COALESCE(highlights,''), COALESCE(challenges,''),
	COALESCE(goals_next_month,''), support_needed, COALESCE(support_details,''), feedback_month, created_at, updated_at`

const uniqueViolation = "23505"

// Repository handles monthly feedback persistence. The
// (facilitation_id, submitter_id, feedback_month) unique index is the
// arbiter for duplicate submissions; the insert maps its violation to
// ErrDuplicateSubmission.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a feedback repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanFeedback(row pgx.Row, fb *models.MonthlyFeedback) error {
	var month string
	if err := row.Scan(&fb.ID, &fb.FacilitationID, &fb.SubmitterID, &fb.RecipientID, &fb.SubmitterRole,
		&fb.Rating, &fb.FeedbackText, &fb.HoursContributed, &fb.TasksCompleted, &fb.Highlights,
		&fb.Challenges, &fb.GoalsNextMonth, &fb.SupportNeeded, &fb.SupportDetails,
		&month, &fb.CreatedAt, &fb.UpdatedAt); err != nil {
		return err
	}
	fb.FeedbackMonth = models.MonthKey(month)
	return nil
}

// Insert stores a new feedback record. A unique-index violation on
// (facilitation_id, submitter_id, feedback_month) becomes ErrDuplicateSubmission.
func (r *Repository) Insert(ctx context.Context, fb *models.MonthlyFeedback) error {
	const q = `INSERT INTO monthly_feedback
		(id, facilitation_id, submitter_id, recipient_id, submitter_role, rating, feedback_text,
		 hours_contributed, tasks_completed, highlights, challenges, goals_next_month,
		 support_needed, support_details, feedback_month)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6,
		        $7, NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), NULLIF($11,''),
		        $12, NULLIF($13,''), $14)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q,
		fb.FacilitationID, fb.SubmitterID, fb.RecipientID, fb.SubmitterRole, fb.Rating, fb.FeedbackText,
		fb.HoursContributed, fb.TasksCompleted, fb.Highlights, fb.Challenges, fb.GoalsNextMonth,
		fb.SupportNeeded, fb.SupportDetails, string(fb.FeedbackMonth)).
		Scan(&fb.ID, &fb.CreatedAt, &fb.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateSubmission
	}
	return err
}

// GetByID returns a feedback record by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.MonthlyFeedback, error) {
	const q = `SELECT ` + feedbackColumns + ` FROM monthly_feedback WHERE id = $1`
	var fb models.MonthlyFeedback
	if err := scanFeedback(r.pool.QueryRow(ctx, q, id), &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// Update rewrites the mutable fields of a record (a correction by the
// original submitter). The month and identity columns never change.
func (r *Repository) Update(ctx context.Context, fb *models.MonthlyFeedback) error {
	const q = `UPDATE monthly_feedback
		SET rating = $2, feedback_text = $3, hours_contributed = $4,
		    tasks_completed = NULLIF($5,''), highlights = NULLIF($6,''), challenges = NULLIF($7,''),
		    goals_next_month = NULLIF($8,''), support_needed = $9, support_details = NULLIF($10,''),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, q, fb.ID, fb.Rating, fb.FeedbackText, fb.HoursContributed,
		fb.TasksCompleted, fb.Highlights, fb.Challenges, fb.GoalsNextMonth,
		fb.SupportNeeded, fb.SupportDetails).Scan(&fb.UpdatedAt)
}

// ExistsForMonth reports whether the submitter already filed feedback for the
// facilitation in the given month. Advisory only; Insert remains the arbiter.
func (r *Repository) ExistsForMonth(ctx context.Context, facilitationID, submitterID uuid.UUID, month models.MonthKey) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM monthly_feedback
		WHERE facilitation_id = $1 AND submitter_id = $2 AND feedback_month = $3)`
	var exists bool
	err := r.pool.QueryRow(ctx, q, facilitationID, submitterID, string(month)).Scan(&exists)
	return exists, err
}

// ListByFacilitation returns all feedback for a facilitation, newest month first.
func (r *Repository) ListByFacilitation(ctx context.Context, facilitationID uuid.UUID) ([]models.MonthlyFeedback, error) {
	const q = `SELECT ` + feedbackColumns + ` FROM monthly_feedback
		WHERE facilitation_id = $1 ORDER BY feedback_month DESC, created_at DESC`
	return r.list(ctx, q, facilitationID)
}

// ListByMonth returns all feedback filed for a calendar month (report exports).
func (r *Repository) ListByMonth(ctx context.Context, month models.MonthKey) ([]models.MonthlyFeedback, error) {
	const q = `SELECT ` + feedbackColumns + ` FROM monthly_feedback
		WHERE feedback_month = $1 ORDER BY recipient_id, created_at`
	return r.list(ctx, q, string(month))
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.MonthlyFeedback, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.MonthlyFeedback
	for rows.Next() {
		var fb models.MonthlyFeedback
		if err := scanFeedback(rows, &fb); err != nil {
			return nil, err
		}
		list = append(list, fb)
	}
	return list, rows.Err()
}

// MonthlyAverage returns the mean rating and row count for a recipient's month.
func (r *Repository) MonthlyAverage(ctx context.Context, recipientID uuid.UUID, month models.MonthKey) (float64, int, error) {
	const q = `SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM monthly_feedback
		WHERE recipient_id = $1 AND feedback_month = $2`
	var avg float64
	var count int
	err := r.pool.QueryRow(ctx, q, recipientID, string(month)).Scan(&avg, &count)
	return avg, count, err
}
