package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorbridge/backend/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.MonthlyFeedback
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]*models.MonthlyFeedback)}
}

func (s *memStore) Insert(_ context.Context, fb *models.MonthlyFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.FacilitationID == fb.FacilitationID && r.SubmitterID == fb.SubmitterID && r.FeedbackMonth == fb.FeedbackMonth {
			return ErrDuplicateSubmission
		}
	}
	fb.ID = uuid.New()
	fb.CreatedAt = time.Now()
	fb.UpdatedAt = fb.CreatedAt
	cp := *fb
	s.records[fb.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.MonthlyFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *memStore) Update(_ context.Context, fb *models.MonthlyFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[fb.ID]; !ok {
		return pgx.ErrNoRows
	}
	fb.UpdatedAt = time.Now()
	cp := *fb
	s.records[fb.ID] = &cp
	return nil
}

func (s *memStore) ExistsForMonth(_ context.Context, facilitationID, submitterID uuid.UUID, month models.MonthKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.FacilitationID == facilitationID && r.SubmitterID == submitterID && r.FeedbackMonth == month {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListByFacilitation(_ context.Context, facilitationID uuid.UUID) ([]models.MonthlyFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MonthlyFeedback
	for _, r := range s.records {
		if r.FacilitationID == facilitationID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) MonthlyAverage(_ context.Context, recipientID uuid.UUID, month models.MonthKey) (float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, n := 0, 0
	for _, r := range s.records {
		if r.RecipientID == recipientID && r.FeedbackMonth == month {
			sum += r.Rating
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(n), n, nil
}

type stubFacilitations struct {
	byID map[uuid.UUID]*models.FacilitationRequest
}

func (s *stubFacilitations) GetByID(_ context.Context, id uuid.UUID) (*models.FacilitationRequest, error) {
	if f, ok := s.byID[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

type stubEvaluator struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (e *stubEvaluator) Evaluate(_ context.Context, studentID uuid.UUID, _ models.MonthKey) (*models.RecognitionTier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.calls = append(e.calls, studentID)
	return &models.RecognitionTier{StudentID: studentID, CurrentTier: models.TierNone}, nil
}

func (e *stubEvaluator) evaluated() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uuid.UUID(nil), e.calls...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	feedback int
	tiers    int
}

func (n *recordingNotifier) FeedbackReceived(_ context.Context, _ *models.MonthlyFeedback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.feedback++
}

func (n *recordingNotifier) TierUpdated(_ context.Context, _ *models.RecognitionTier) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tiers++
}

type serviceFixture struct {
	svc       *Service
	store     *memStore
	evaluator *stubEvaluator
	notifier  *recordingNotifier

	facilitation *models.FacilitationRequest
	mentor       uuid.UUID
	student      uuid.UUID
}

// newServiceFixture builds a service around one matched facilitation where a
// student requested a mentor.
func newServiceFixture(t *testing.T, status models.FacilitationStatus) *serviceFixture {
	t.Helper()
	student := uuid.New()
	mentor := uuid.New()
	f := &models.FacilitationRequest{
		ID:            uuid.New(),
		RequesterID:   student,
		TargetID:      mentor,
		RequesterRole: models.RoleStudent,
		Status:        status,
	}
	store := newMemStore()
	evaluator := &stubEvaluator{}
	notifier := &recordingNotifier{}
	svc := NewService(store, &stubFacilitations{byID: map[uuid.UUID]*models.FacilitationRequest{f.ID: f}}, evaluator, notifier, nil)
	svc.now = func() time.Time { return time.Date(2025, time.July, 15, 10, 0, 0, 0, time.UTC) }
	return &serviceFixture{
		svc:          svc,
		store:        store,
		evaluator:    evaluator,
		notifier:     notifier,
		facilitation: f,
		mentor:       mentor,
		student:      student,
	}
}

func validSubmit(fx *serviceFixture, submitter uuid.UUID) SubmitInput {
	return SubmitInput{
		FacilitationID: fx.facilitation.ID,
		SubmitterID:    submitter,
		Rating:         5,
		FeedbackText:   "great collaboration this month",
	}
}

func TestSubmitDefaultsToCurrentMonth(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	fb, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	require.NoError(t, err)
	assert.Equal(t, models.MonthKey("2025-07"), fb.FeedbackMonth)
	assert.Equal(t, fx.student, fb.RecipientID)
	assert.Equal(t, models.RoleMentor, fb.SubmitterRole)
	assert.Equal(t, 1, fx.notifier.feedback)
}

func TestSubmitExplicitMonth(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	in := validSubmit(fx, fx.mentor)
	in.FeedbackMonth = "2025-06"
	fb, err := fx.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.MonthKey("2025-06"), fb.FeedbackMonth)

	in.FeedbackMonth = "June 2025"
	_, err = fx.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitValidation(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	in := validSubmit(fx, fx.mentor)
	in.Rating = 0
	_, err := fx.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	in = validSubmit(fx, fx.mentor)
	in.Rating = 6
	_, err = fx.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	in = validSubmit(fx, fx.mentor)
	in.FeedbackText = "   short   "
	_, err = fx.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	in = validSubmit(fx, fx.mentor)
	neg := -2
	in.HoursContributed = &neg
	_, err = fx.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitEligibilityGates(t *testing.T) {
	for _, status := range []models.FacilitationStatus{
		models.FacilitationPending,
		models.FacilitationInReview,
		models.FacilitationCancelled,
	} {
		fx := newServiceFixture(t, status)
		_, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
		assert.ErrorIs(t, err, ErrNotEligible, "status %s", status)
	}

	// Completed arrangements still accept feedback.
	fx := newServiceFixture(t, models.FacilitationCompleted)
	_, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	assert.NoError(t, err)
}

func TestSubmitByOutsiderForbidden(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)
	_, err := fx.svc.Submit(context.Background(), validSubmit(fx, uuid.New()))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitRecipientMismatch(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)
	in := validSubmit(fx, fx.mentor)
	in.RecipientID = uuid.New()
	_, err := fx.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitUnknownFacilitation(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)
	in := validSubmit(fx, fx.mentor)
	in.FacilitationID = uuid.New()
	_, err := fx.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrFacilitationNotFound)
}

func TestSubmitDuplicateMonth(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	_, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	require.NoError(t, err)
	_, err = fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	// The other party has their own quota for the month.
	_, err = fx.svc.Submit(context.Background(), validSubmit(fx, fx.student))
	assert.NoError(t, err)

	// Next month reopens the window.
	in := validSubmit(fx, fx.mentor)
	in.FeedbackMonth = "2025-08"
	_, err = fx.svc.Submit(context.Background(), in)
	assert.NoError(t, err)
}

func TestSubmitConcurrentOneWinner(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateSubmission)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSubmitEvaluatesTierForStudentRecipient(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	// Mentor rates the student: the student's streak is re-evaluated.
	_, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{fx.student}, fx.evaluator.evaluated())

	// Student rates the mentor: mentors carry no tier.
	_, err = fx.svc.Submit(context.Background(), validSubmit(fx, fx.student))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{fx.student}, fx.evaluator.evaluated())
	assert.Equal(t, 1, fx.notifier.tiers)
}

func TestSubmitSurfacesEvaluationFailure(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)
	fx.evaluator.err = errors.New("tier store down")

	fb, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	require.Error(t, err)
	require.NotNil(t, fb, "the record is durable even when evaluation fails")
	_, getErr := fx.store.GetByID(context.Background(), fb.ID)
	assert.NoError(t, getErr)
}

func TestCanSubmit(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	ok, month, err := fx.svc.CanSubmit(context.Background(), fx.facilitation.ID, fx.mentor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.MonthKey("2025-07"), month)

	_, err = fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	require.NoError(t, err)

	ok, _, err = fx.svc.CanSubmit(context.Background(), fx.facilitation.ID, fx.mentor)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = fx.svc.CanSubmit(context.Background(), fx.facilitation.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorrect(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	fb, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	require.NoError(t, err)

	updated, err := fx.svc.Correct(context.Background(), fb.ID, fx.mentor, CorrectInput{
		Rating:       3,
		FeedbackText: "revised after a second look",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Rating)
	assert.Equal(t, fb.FeedbackMonth, updated.FeedbackMonth, "the month never changes")

	// Correction touched July's aggregate, so the tier ran again.
	assert.Len(t, fx.evaluator.evaluated(), 2)
}

func TestCorrectGuards(t *testing.T) {
	fx := newServiceFixture(t, models.FacilitationMatched)

	fb, err := fx.svc.Submit(context.Background(), validSubmit(fx, fx.mentor))
	require.NoError(t, err)

	_, err = fx.svc.Correct(context.Background(), fb.ID, fx.student, CorrectInput{Rating: 2, FeedbackText: "not my record to change"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = fx.svc.Correct(context.Background(), fb.ID, fx.mentor, CorrectInput{Rating: 9, FeedbackText: "rating out of range"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = fx.svc.Correct(context.Background(), uuid.New(), fx.mentor, CorrectInput{Rating: 3, FeedbackText: "no such record here"})
	assert.ErrorIs(t, err, ErrNotFound)
}
