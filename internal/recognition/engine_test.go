package recognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorbridge/backend/internal/models"
)

type memTierStore struct {
	mu    sync.Mutex
	tiers map[uuid.UUID]*models.RecognitionTier
}

func newMemTierStore() *memTierStore {
	return &memTierStore{tiers: make(map[uuid.UUID]*models.RecognitionTier)}
}

func (s *memTierStore) Get(_ context.Context, studentID uuid.UUID) (*models.RecognitionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.tiers[studentID]; ok {
		cp := *rt
		return &cp, nil
	}
	return &models.RecognitionTier{StudentID: studentID, CurrentTier: models.TierNone}, nil
}

func (s *memTierStore) UpdateTier(_ context.Context, studentID uuid.UUID, fn func(*models.RecognitionTier) bool) (*models.RecognitionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tiers[studentID]
	if !ok {
		rt = &models.RecognitionTier{StudentID: studentID, CurrentTier: models.TierNone}
		s.tiers[studentID] = rt
	}
	fn(rt)
	cp := *rt
	return &cp, nil
}

type stubRatings struct {
	mu   sync.Mutex
	avgs map[models.MonthKey]float64
	cnts map[models.MonthKey]int
}

func newStubRatings() *stubRatings {
	return &stubRatings{avgs: make(map[models.MonthKey]float64), cnts: make(map[models.MonthKey]int)}
}

func (r *stubRatings) set(month models.MonthKey, avg float64, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avgs[month] = avg
	r.cnts[month] = count
}

func (r *stubRatings) MonthlyAverage(_ context.Context, _ uuid.UUID, month models.MonthKey) (float64, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avgs[month], r.cnts[month], nil
}

func newTestEngine() (*Engine, *stubRatings) {
	ratings := newStubRatings()
	eng := NewEngine(newMemTierStore(), ratings, nil)
	eng.now = func() time.Time { return time.Date(2025, time.July, 15, 10, 0, 0, 0, time.UTC) }
	return eng, ratings
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, models.TierNone, TierFor(0))
	assert.Equal(t, models.TierNone, TierFor(1))
	assert.Equal(t, models.TierBronze, TierFor(2))
	assert.Equal(t, models.TierBronze, TierFor(3))
	assert.Equal(t, models.TierSilver, TierFor(4))
	assert.Equal(t, models.TierSilver, TierFor(5))
	assert.Equal(t, models.TierGold, TierFor(6))
	assert.Equal(t, models.TierGold, TierFor(9))
}

func TestProgressFor(t *testing.T) {
	assert.Equal(t, Progress{NextTier: models.TierBronze, MonthsToNext: 2}, ProgressFor(0))
	assert.Equal(t, Progress{NextTier: models.TierBronze, MonthsToNext: 1}, ProgressFor(1))
	assert.Equal(t, Progress{NextTier: models.TierSilver, MonthsToNext: 2}, ProgressFor(2))
	assert.Equal(t, Progress{NextTier: models.TierGold, MonthsToNext: 1}, ProgressFor(5))
	assert.Equal(t, Progress{}, ProgressFor(6))
}

func TestEvaluateFirstQualifyingMonth(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()
	ratings.set("2025-01", 4.5, 2)

	rt, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.ConsecutiveHighRatingMonths)
	assert.Equal(t, models.TierNone, rt.CurrentTier)
	require.NotNil(t, rt.LastHighRatingMonth)
	assert.Equal(t, models.MonthKey("2025-01"), *rt.LastHighRatingMonth)
	assert.Nil(t, rt.BronzeAchievedAt)
}

func TestEvaluateStreakToGold(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()

	months := []models.MonthKey{"2025-01", "2025-02", "2025-03", "2025-04", "2025-05", "2025-06"}
	var rt *models.RecognitionTier
	var err error
	for _, m := range months {
		ratings.set(m, 4.2, 3)
		rt, err = eng.Evaluate(context.Background(), student, m)
		require.NoError(t, err)
	}

	assert.Equal(t, 6, rt.ConsecutiveHighRatingMonths)
	assert.Equal(t, models.TierGold, rt.CurrentTier)
	assert.NotNil(t, rt.BronzeAchievedAt)
	assert.NotNil(t, rt.SilverAchievedAt)
	assert.NotNil(t, rt.GoldAchievedAt)
}

func TestEvaluateNonQualifyingMonthDoesNotAdvance(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()

	ratings.set("2025-01", 4.5, 1)
	_, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)

	// Below the bar.
	ratings.set("2025-02", 3.9, 4)
	rt, err := eng.Evaluate(context.Background(), student, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.ConsecutiveHighRatingMonths)
	assert.Equal(t, models.MonthKey("2025-01"), *rt.LastHighRatingMonth)

	// No feedback at all.
	ratings.set("2025-03", 0, 0)
	rt, err = eng.Evaluate(context.Background(), student, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.ConsecutiveHighRatingMonths)
}

func TestEvaluateExactBoundaryQualifies(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()
	ratings.set("2025-01", 4.0, 1)

	rt, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.ConsecutiveHighRatingMonths)
}

func TestEvaluateGapResetsStreakButKeepsTier(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()

	ratings.set("2025-01", 4.5, 1)
	ratings.set("2025-02", 4.5, 1)
	_, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)
	rt, err := eng.Evaluate(context.Background(), student, "2025-02")
	require.NoError(t, err)
	require.Equal(t, models.TierBronze, rt.CurrentTier)
	bronzeAt := *rt.BronzeAchievedAt

	// March had no qualifying average; April breaks continuity.
	ratings.set("2025-04", 4.8, 2)
	rt, err = eng.Evaluate(context.Background(), student, "2025-04")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.ConsecutiveHighRatingMonths)
	assert.Equal(t, models.TierBronze, rt.CurrentTier, "tier never regresses")
	assert.Equal(t, bronzeAt, *rt.BronzeAchievedAt, "achievement stamp is immutable")
}

func TestEvaluateSameMonthTwiceIsNoOp(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()
	ratings.set("2025-01", 4.5, 1)

	_, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)
	rt, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.ConsecutiveHighRatingMonths)
}

func TestEvaluateOlderMonthDoesNotRewind(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()

	ratings.set("2025-02", 4.5, 1)
	ratings.set("2025-03", 4.5, 1)
	_, err := eng.Evaluate(context.Background(), student, "2025-02")
	require.NoError(t, err)
	_, err = eng.Evaluate(context.Background(), student, "2025-03")
	require.NoError(t, err)

	// A late correction touched January's aggregate.
	ratings.set("2025-01", 4.9, 1)
	rt, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 2, rt.ConsecutiveHighRatingMonths)
	assert.Equal(t, models.MonthKey("2025-03"), *rt.LastHighRatingMonth)
}

func TestEvaluateCorrectionCanDropMonthBelowBar(t *testing.T) {
	eng, ratings := newTestEngine()
	student := uuid.New()

	ratings.set("2025-01", 4.5, 1)
	_, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)

	// The correction lowered the average; the streak head stays where it was
	// because streaks are forward-only.
	ratings.set("2025-01", 3.0, 1)
	rt, err := eng.Evaluate(context.Background(), student, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.ConsecutiveHighRatingMonths)
}

func TestStatusForUnknownStudent(t *testing.T) {
	eng, _ := newTestEngine()
	rt, err := eng.Status(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, models.TierNone, rt.CurrentTier)
	assert.Zero(t, rt.ConsecutiveHighRatingMonths)
	assert.Nil(t, rt.LastHighRatingMonth)
}
