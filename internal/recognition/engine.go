package recognition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mentorbridge/backend/internal/models"
)

const (
	// QualifyingAverage is the monthly rating average at or above which a
	// month counts toward the streak.
	QualifyingAverage = 4.0

	// Consecutive qualifying months required for each tier.
	BronzeThreshold = 2
	SilverThreshold = 4
	GoldThreshold   = 6
)

// TierFor maps a streak length to the tier it warrants.
func TierFor(consecutive int) models.Tier {
	switch {
	case consecutive >= GoldThreshold:
		return models.TierGold
	case consecutive >= SilverThreshold:
		return models.TierSilver
	case consecutive >= BronzeThreshold:
		return models.TierBronze
	default:
		return models.TierNone
	}
}

// Progress describes the distance from a streak to the next tier. Zero value
// (no NextTier) means gold is already reached.
type Progress struct {
	NextTier     models.Tier `json:"next_tier,omitempty"`
	MonthsToNext int         `json:"months_to_next,omitempty"`
}

// ProgressFor returns the next tier and how many more consecutive qualifying
// months a streak of n needs to reach it.
func ProgressFor(n int) Progress {
	switch {
	case n < BronzeThreshold:
		return Progress{NextTier: models.TierBronze, MonthsToNext: BronzeThreshold - n}
	case n < SilverThreshold:
		return Progress{NextTier: models.TierSilver, MonthsToNext: SilverThreshold - n}
	case n < GoldThreshold:
		return Progress{NextTier: models.TierGold, MonthsToNext: GoldThreshold - n}
	default:
		return Progress{}
	}
}

// TierStore persists recognition rows. UpdateTier runs fn against the
// student's row under a per-student lock and saves when fn reports a change,
// serializing concurrent evaluations for the same student.
type TierStore interface {
	Get(ctx context.Context, studentID uuid.UUID) (*models.RecognitionTier, error)
	UpdateTier(ctx context.Context, studentID uuid.UUID, fn func(*models.RecognitionTier) bool) (*models.RecognitionTier, error)
}

// RatingSource provides the per-recipient monthly rating aggregate.
type RatingSource interface {
	MonthlyAverage(ctx context.Context, recipientID uuid.UUID, month models.MonthKey) (avg float64, count int, err error)
}

// Engine maintains the consecutive-high-rating streak and recognition tier
// per student. Tier and achievement stamps never regress; only a qualifying
// month that breaks calendar continuity resets the streak, and it resets to 1.
type Engine struct {
	tiers   TierStore
	ratings RatingSource
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates a recognition tier engine.
func NewEngine(tiers TierStore, ratings RatingSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{tiers: tiers, ratings: ratings, logger: logger, now: time.Now}
}

// Evaluate recomputes the student's streak after the aggregate for month
// changed (a feedback submission or correction touched it). A month with no
// feedback or an average below the bar advances nothing.
func (e *Engine) Evaluate(ctx context.Context, studentID uuid.UUID, month models.MonthKey) (*models.RecognitionTier, error) {
	avg, count, err := e.ratings.MonthlyAverage(ctx, studentID, month)
	if err != nil {
		return nil, err
	}
	if count == 0 || avg < QualifyingAverage {
		return e.tiers.Get(ctx, studentID)
	}

	now := e.now().UTC()
	rt, err := e.tiers.UpdateTier(ctx, studentID, func(rt *models.RecognitionTier) bool {
		return applyQualifyingMonth(rt, month, now)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("recognition evaluated",
		zap.String("student_id", studentID.String()),
		zap.String("month", string(month)),
		zap.Int("streak", rt.ConsecutiveHighRatingMonths),
		zap.String("tier", string(rt.CurrentTier)),
	)
	return rt, nil
}

// Status returns the student's current recognition record without mutating it.
func (e *Engine) Status(ctx context.Context, studentID uuid.UUID) (*models.RecognitionTier, error) {
	return e.tiers.Get(ctx, studentID)
}

// applyQualifyingMonth advances the streak for a month whose average reached
// the bar. Reports whether the record changed. The same month is never
// counted twice, and a month older than the streak head never rewinds it.
func applyQualifyingMonth(rt *models.RecognitionTier, month models.MonthKey, now time.Time) bool {
	if rt.LastHighRatingMonth != nil {
		last := *rt.LastHighRatingMonth
		switch {
		case month == last || month.Before(last):
			return false
		case month == last.Next():
			rt.ConsecutiveHighRatingMonths++
		default:
			// A non-qualifying gap month existed; continuity is broken.
			rt.ConsecutiveHighRatingMonths = 1
		}
	} else {
		rt.ConsecutiveHighRatingMonths = 1
	}
	m := month
	rt.LastHighRatingMonth = &m

	if t := TierFor(rt.ConsecutiveHighRatingMonths); t.Rank() > rt.CurrentTier.Rank() {
		rt.CurrentTier = t
	}
	n := rt.ConsecutiveHighRatingMonths
	if n >= BronzeThreshold && rt.BronzeAchievedAt == nil {
		ts := now
		rt.BronzeAchievedAt = &ts
	}
	if n >= SilverThreshold && rt.SilverAchievedAt == nil {
		ts := now
		rt.SilverAchievedAt = &ts
	}
	if n >= GoldThreshold && rt.GoldAchievedAt == nil {
		ts := now
		rt.GoldAchievedAt = &ts
	}
	rt.UpdatedAt = now
	return true
}
