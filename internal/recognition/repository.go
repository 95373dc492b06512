package recognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentorbridge/backend/internal/models"
)

const tierColumns = `student_id, current_tier, consecutive_high_ratings, last_high_rating_month,
	bronze_achieved_at, silver_achieved_at, gold_achieved_at, updated_at`

// Repository handles recognition tier persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recognition repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTier(row pgx.Row, rt *models.RecognitionTier) error {
	var month *string
	if err := row.Scan(&rt.StudentID, &rt.CurrentTier, &rt.ConsecutiveHighRatingMonths, &month,
		&rt.BronzeAchievedAt, &rt.SilverAchievedAt, &rt.GoldAchievedAt, &rt.UpdatedAt); err != nil {
		return err
	}
	if month != nil {
		m := models.MonthKey(*month)
		rt.LastHighRatingMonth = &m
	}
	return nil
}

// Get returns the student's recognition record, or a fresh zero record when
// none has been written yet.
func (r *Repository) Get(ctx context.Context, studentID uuid.UUID) (*models.RecognitionTier, error) {
	const q = `SELECT ` + tierColumns + ` FROM recognition_tiers WHERE student_id = $1`
	var rt models.RecognitionTier
	err := scanTier(r.pool.QueryRow(ctx, q, studentID), &rt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.RecognitionTier{StudentID: studentID, CurrentTier: models.TierNone}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// UpdateTier applies fn to the student's row inside a transaction holding a
// row lock, inserting the row first if missing. Concurrent evaluations for
// the same student serialize on the lock.
func (r *Repository) UpdateTier(ctx context.Context, studentID uuid.UUID, fn func(*models.RecognitionTier) bool) (*models.RecognitionTier, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO recognition_tiers (student_id) VALUES ($1) ON CONFLICT (student_id) DO NOTHING`,
		studentID); err != nil {
		return nil, fmt.Errorf("ensure tier row: %w", err)
	}

	const sel = `SELECT ` + tierColumns + ` FROM recognition_tiers WHERE student_id = $1 FOR UPDATE`
	var rt models.RecognitionTier
	if err := scanTier(tx.QueryRow(ctx, sel, studentID), &rt); err != nil {
		return nil, fmt.Errorf("lock tier row: %w", err)
	}

	if !fn(&rt) {
		return &rt, tx.Commit(ctx)
	}

	const upd = `UPDATE recognition_tiers
		SET current_tier = $2, consecutive_high_ratings = $3, last_high_rating_month = $4,
		    bronze_achieved_at = $5, silver_achieved_at = $6, gold_achieved_at = $7, updated_at = NOW()
		WHERE student_id = $1`
	var month *string
	if rt.LastHighRatingMonth != nil {
		s := string(*rt.LastHighRatingMonth)
		month = &s
	}
	if _, err := tx.Exec(ctx, upd, studentID, rt.CurrentTier, rt.ConsecutiveHighRatingMonths, month,
		rt.BronzeAchievedAt, rt.SilverAchievedAt, rt.GoldAchievedAt); err != nil {
		return nil, fmt.Errorf("save tier row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &rt, nil
}

// ListAll returns every recognition record (report exports).
func (r *Repository) ListAll(ctx context.Context) ([]models.RecognitionTier, error) {
	const q = `SELECT ` + tierColumns + ` FROM recognition_tiers ORDER BY student_id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.RecognitionTier
	for rows.Next() {
		var rt models.RecognitionTier
		if err := scanTier(rows, &rt); err != nil {
			return nil, err
		}
		list = append(list, rt)
	}
	return list, rows.Err()
}
