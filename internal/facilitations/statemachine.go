package facilitations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mentorbridge/backend/internal/models"
)

var (
	// ErrNotFound means the facilitation does not exist.
	ErrNotFound = errors.New("facilitation not found")
	// ErrForbidden means the actor is not allowed to perform the transition.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition means the requested edge does not exist from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStaleState means the record moved underneath the caller; refetch and retry.
	ErrStaleState = errors.New("stale state")
	// ErrValidation wraps rejected input.
	ErrValidation = errors.New("validation failed")
)

// Store is the persistence surface the state machine drives. The Mark*
// methods apply a transition only when the row is still in the expected
// state and report whether a row changed.
type Store interface {
	Create(ctx context.Context, f *models.FacilitationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FacilitationRequest, error)
	HasActiveMatch(ctx context.Context, userA, userB, exclude uuid.UUID) (bool, error)
	MarkInReview(ctx context.Context, id, actorID uuid.UUID) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, from models.FacilitationStatus, actorID uuid.UUID, notes string) (bool, error)
	MarkMatched(ctx context.Context, id, actorID uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, id, actorID uuid.UUID) (bool, error)
}

// Notifier delivers best-effort status-change events to the affected users.
type Notifier interface {
	FacilitationStatusChanged(ctx context.Context, f *models.FacilitationRequest)
}

// StateMachine validates and applies facilitation lifecycle transitions:
// pending -> in_review -> matched -> completed, with cancelled reachable from
// pending and in_review. Repeating a transition against a row that already
// moved yields ErrStaleState rather than a silent no-op.
type StateMachine struct {
	store  Store
	notify Notifier
	logger *zap.Logger
}

// NewStateMachine creates the facilitation state machine.
func NewStateMachine(store Store, notify Notifier, logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{store: store, notify: notify, logger: logger}
}

// Create opens a new pending facilitation request from requester to target.
func (m *StateMachine) Create(ctx context.Context, requesterID uuid.UUID, requesterRole models.Role, targetID uuid.UUID, message string) (*models.FacilitationRequest, error) {
	if requesterRole != models.RoleStudent && requesterRole != models.RoleMentor {
		return nil, fmt.Errorf("%w: requester role must be student or mentor", ErrValidation)
	}
	if requesterID == targetID {
		return nil, fmt.Errorf("%w: requester and target must be distinct", ErrValidation)
	}
	active, err := m.store.HasActiveMatch(ctx, requesterID, targetID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: an active facilitation already links these users", ErrValidation)
	}

	f := &models.FacilitationRequest{
		RequesterID:   requesterID,
		TargetID:      targetID,
		RequesterRole: requesterRole,
		Message:       strings.TrimSpace(message),
	}
	if err := m.store.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Confirm is the target accepting interest: pending -> in_review.
func (m *StateMachine) Confirm(ctx context.Context, id, actorID uuid.UUID) (*models.FacilitationRequest, error) {
	f, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.TargetID != actorID {
		return nil, fmt.Errorf("%w: only the target may confirm interest", ErrForbidden)
	}
	if f.Status != models.FacilitationPending {
		return nil, fmt.Errorf("%w: cannot confirm from %s", ErrInvalidTransition, f.Status)
	}
	updated, err := m.store.MarkInReview(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ErrStaleState
	}
	return m.finish(ctx, id)
}

// Decline cancels the request: the target declining, or an admin rejecting.
// An admin rejection requires a non-empty reason; a target decline may carry one.
func (m *StateMachine) Decline(ctx context.Context, id, actorID uuid.UUID, actorRole models.Role, reason string) (*models.FacilitationRequest, error) {
	f, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	isAdmin := actorRole == models.RoleAdmin
	if !isAdmin && f.TargetID != actorID {
		return nil, fmt.Errorf("%w: only the target or an admin may decline", ErrForbidden)
	}
	reason = strings.TrimSpace(reason)
	if isAdmin && reason == "" {
		return nil, fmt.Errorf("%w: rejection requires a reason", ErrValidation)
	}
	if f.Status != models.FacilitationPending && f.Status != models.FacilitationInReview {
		return nil, fmt.Errorf("%w: cannot decline from %s", ErrInvalidTransition, f.Status)
	}
	updated, err := m.store.MarkCancelled(ctx, id, f.Status, actorID, reason)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ErrStaleState
	}
	return m.finish(ctx, id)
}

// Approve is the admin matching the pair: in_review -> matched.
func (m *StateMachine) Approve(ctx context.Context, id, actorID uuid.UUID, actorRole models.Role) (*models.FacilitationRequest, error) {
	if actorRole != models.RoleAdmin {
		return nil, fmt.Errorf("%w: only an admin may approve", ErrForbidden)
	}
	f, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Status != models.FacilitationInReview {
		return nil, fmt.Errorf("%w: cannot approve from %s", ErrInvalidTransition, f.Status)
	}
	active, err := m.store.HasActiveMatch(ctx, f.RequesterID, f.TargetID, f.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: an active facilitation already links these users", ErrValidation)
	}
	updated, err := m.store.MarkMatched(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ErrStaleState
	}
	return m.finish(ctx, id)
}

// Complete is the admin closing a matched arrangement: matched -> completed.
func (m *StateMachine) Complete(ctx context.Context, id, actorID uuid.UUID, actorRole models.Role) (*models.FacilitationRequest, error) {
	if actorRole != models.RoleAdmin {
		return nil, fmt.Errorf("%w: only an admin may mark done", ErrForbidden)
	}
	f, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Status != models.FacilitationMatched {
		return nil, fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, f.Status)
	}
	updated, err := m.store.MarkCompleted(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ErrStaleState
	}
	return m.finish(ctx, id)
}

// Get returns a facilitation, mapping missing rows to ErrNotFound.
func (m *StateMachine) Get(ctx context.Context, id uuid.UUID) (*models.FacilitationRequest, error) {
	return m.get(ctx, id)
}

func (m *StateMachine) get(ctx context.Context, id uuid.UUID) (*models.FacilitationRequest, error) {
	f, err := m.store.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// finish refetches the transitioned record and fires the status-changed event.
func (m *StateMachine) finish(ctx context.Context, id uuid.UUID) (*models.FacilitationRequest, error) {
	f, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.notify != nil {
		m.notify.FacilitationStatusChanged(ctx, f)
	}
	return f, nil
}
