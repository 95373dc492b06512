package facilitations

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

type memFacilitationStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.FacilitationRequest
}

func newMemFacilitationStore() *memFacilitationStore {
	return &memFacilitationStore{records: make(map[uuid.UUID]*models.FacilitationRequest)}
}

func (s *memFacilitationStore) Create(_ context.Context, f *models.FacilitationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = uuid.New()
	f.Status = models.FacilitationPending
	f.CreatedAt = time.Now()
	cp := *f
	s.records[f.ID] = &cp
	return nil
}

func (s *memFacilitationStore) GetByID(_ context.Context, id uuid.UUID) (*models.FacilitationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.records[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *memFacilitationStore) HasActiveMatch(_ context.Context, userA, userB, exclude uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.records {
		if f.ID == exclude || f.Status != models.FacilitationMatched {
			continue
		}
		if (f.RequesterID == userA && f.TargetID == userB) || (f.RequesterID == userB && f.TargetID == userA) {
			return true, nil
		}
	}
	return false, nil
}

// cas applies the transition only when the row is still in from.
func (s *memFacilitationStore) cas(id uuid.UUID, from, to models.FacilitationStatus, mutate func(*models.FacilitationRequest)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.records[id]
	if !ok || f.Status != from {
		return false, nil
	}
	f.Status = to
	if mutate != nil {
		mutate(f)
	}
	return true, nil
}

func (s *memFacilitationStore) MarkInReview(_ context.Context, id, actorID uuid.UUID) (bool, error) {
	return s.cas(id, models.FacilitationPending, models.FacilitationInReview, func(f *models.FacilitationRequest) {
		f.ReviewedBy = &actorID
		now := time.Now()
		f.ReviewedAt = &now
	})
}

func (s *memFacilitationStore) MarkCancelled(_ context.Context, id uuid.UUID, from models.FacilitationStatus, actorID uuid.UUID, notes string) (bool, error) {
	return s.cas(id, from, models.FacilitationCancelled, func(f *models.FacilitationRequest) {
		f.ReviewedBy = &actorID
		if notes != "" {
			f.AdminNotes = notes
		}
	})
}

func (s *memFacilitationStore) MarkMatched(_ context.Context, id, actorID uuid.UUID) (bool, error) {
	return s.cas(id, models.FacilitationInReview, models.FacilitationMatched, func(f *models.FacilitationRequest) {
		f.ReviewedBy = &actorID
		now := time.Now()
		f.MatchedAt = &now
	})
}

func (s *memFacilitationStore) MarkCompleted(_ context.Context, id, actorID uuid.UUID) (bool, error) {
	return s.cas(id, models.FacilitationMatched, models.FacilitationCompleted, func(f *models.FacilitationRequest) {
		now := time.Now()
		f.CompletedAt = &now
	})
}

// force sets a status directly, bypassing transition checks.
func (s *memFacilitationStore) force(id uuid.UUID, status models.FacilitationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = status
}

func newTestMachine() (*StateMachine, *memFacilitationStore) {
	store := newMemFacilitationStore()
	return NewStateMachine(store, nil, nil), store
}

func mustCreate(t *testing.T, m *StateMachine, requester, target uuid.UUID) *models.FacilitationRequest {
	t.Helper()
	f, err := m.Create(context.Background(), requester, models.RoleStudent, target, "looking for guidance on backend work")
	require.NoError(t, err)
	return f
}

func TestCreate(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()

	f := mustCreate(t, m, student, mentor)
	assert.Equal(t, models.FacilitationPending, f.Status)
	assert.Equal(t, student, f.RequesterID)
	assert.Equal(t, mentor, f.TargetID)
}

func TestCreateValidation(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()

	_, err := m.Create(context.Background(), student, models.RoleAdmin, uuid.New(), "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.Create(context.Background(), student, models.RoleStudent, student, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateRejectsActiveMatch(t *testing.T) {
	m, store := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	admin := uuid.New()

	f := mustCreate(t, m, student, mentor)
	_, err := m.Confirm(context.Background(), f.ID, mentor)
	require.NoError(t, err)
	_, err = m.Approve(context.Background(), f.ID, admin, models.RoleAdmin)
	require.NoError(t, err)

	// Either direction counts as the same pair.
	_, err = m.Create(context.Background(), mentor, models.RoleMentor, student, "")
	assert.ErrorIs(t, err, ErrValidation)

	// A completed arrangement no longer blocks a new request.
	store.force(f.ID, models.FacilitationCompleted)
	_, err = m.Create(context.Background(), mentor, models.RoleMentor, student, "")
	assert.NoError(t, err)
}

func TestConfirm(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	f := mustCreate(t, m, student, mentor)

	_, err := m.Confirm(context.Background(), f.ID, student)
	assert.ErrorIs(t, err, ErrForbidden, "requester cannot confirm their own request")

	got, err := m.Confirm(context.Background(), f.ID, mentor)
	require.NoError(t, err)
	assert.Equal(t, models.FacilitationInReview, got.Status)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, mentor, *got.ReviewedBy)

	_, err = m.Confirm(context.Background(), f.ID, mentor)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeclineByTarget(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	f := mustCreate(t, m, student, mentor)

	// A target decline needs no reason.
	got, err := m.Decline(context.Background(), f.ID, mentor, models.RoleMentor, "")
	require.NoError(t, err)
	assert.Equal(t, models.FacilitationCancelled, got.Status)
}

func TestDeclineByAdminRequiresReason(t *testing.T) {
	m, _ := newTestMachine()
	admin := uuid.New()
	f := mustCreate(t, m, uuid.New(), uuid.New())

	_, err := m.Decline(context.Background(), f.ID, admin, models.RoleAdmin, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := m.Decline(context.Background(), f.ID, admin, models.RoleAdmin, "mentor at capacity this term")
	require.NoError(t, err)
	assert.Equal(t, models.FacilitationCancelled, got.Status)
	assert.Equal(t, "mentor at capacity this term", got.AdminNotes)
}

func TestDeclineGuards(t *testing.T) {
	m, store := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	f := mustCreate(t, m, student, mentor)

	_, err := m.Decline(context.Background(), f.ID, student, models.RoleStudent, "")
	assert.ErrorIs(t, err, ErrForbidden, "requester cannot decline")

	_, err = m.Decline(context.Background(), f.ID, uuid.New(), models.RoleMentor, "")
	assert.ErrorIs(t, err, ErrForbidden)

	store.force(f.ID, models.FacilitationMatched)
	_, err = m.Decline(context.Background(), f.ID, mentor, models.RoleMentor, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "matched arrangements cannot be declined")
}

func TestApprove(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	admin := uuid.New()
	f := mustCreate(t, m, student, mentor)

	_, err := m.Approve(context.Background(), f.ID, admin, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidTransition, "cannot approve before the target confirms")

	_, err = m.Confirm(context.Background(), f.ID, mentor)
	require.NoError(t, err)

	_, err = m.Approve(context.Background(), f.ID, mentor, models.RoleMentor)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := m.Approve(context.Background(), f.ID, admin, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.FacilitationMatched, got.Status)
	assert.NotNil(t, got.MatchedAt)
}

func TestApproveRechecksActiveMatch(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	admin := uuid.New()

	// Two parallel requests between the same pair both reach in_review.
	f1 := mustCreate(t, m, student, mentor)
	f2 := mustCreate(t, m, student, mentor)
	_, err := m.Confirm(context.Background(), f1.ID, mentor)
	require.NoError(t, err)
	_, err = m.Confirm(context.Background(), f2.ID, mentor)
	require.NoError(t, err)

	_, err = m.Approve(context.Background(), f1.ID, admin, models.RoleAdmin)
	require.NoError(t, err)
	_, err = m.Approve(context.Background(), f2.ID, admin, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrValidation, "second approval would double-match the pair")
}

func TestComplete(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	admin := uuid.New()
	f := mustCreate(t, m, student, mentor)

	_, err := m.Complete(context.Background(), f.ID, admin, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Confirm(context.Background(), f.ID, mentor)
	require.NoError(t, err)
	_, err = m.Approve(context.Background(), f.ID, admin, models.RoleAdmin)
	require.NoError(t, err)

	_, err = m.Complete(context.Background(), f.ID, mentor, models.RoleMentor)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := m.Complete(context.Background(), f.ID, admin, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.FacilitationCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	_, err = m.Complete(context.Background(), f.ID, admin, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStaleState(t *testing.T) {
	m, store := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	f := mustCreate(t, m, student, mentor)

	// The row moves between the read and the conditional update.
	fetched, err := m.Get(context.Background(), f.ID)
	require.NoError(t, err)
	require.Equal(t, models.FacilitationPending, fetched.Status)
	store.force(f.ID, models.FacilitationCancelled)

	// Confirm re-reads, so it reports the transition as invalid rather than
	// stale; the conditional update is the backstop for true races.
	_, err = m.Confirm(context.Background(), f.ID, mentor)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	ok, err := store.MarkInReview(context.Background(), f.ID, mentor)
	require.NoError(t, err)
	assert.False(t, ok, "conditional update must not fire against a moved row")
}

func TestGetNotFound(t *testing.T) {
	m, _ := newTestMachine()
	_, err := m.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentConfirmSingleWinner(t *testing.T) {
	m, _ := newTestMachine()
	student := uuid.New()
	mentor := uuid.New()
	f := mustCreate(t, m, student, mentor)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Confirm(context.Background(), f.ID, mentor)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.Truef(t, errors.Is(err, ErrStaleState) || errors.Is(err, ErrInvalidTransition),
				"unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
}
