package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mentorbridge/backend/internal/models"
)

// MinFeedbackTextLen is the minimum trimmed length of the feedback text.
const MinFeedbackTextLen = 10

var (
	// ErrNotFound means the feedback record does not exist.
	ErrNotFound = errors.New("feedback not found")
	// ErrFacilitationNotFound means the referenced facilitation does not exist.
	ErrFacilitationNotFound = errors.New("facilitation not found")
	// ErrForbidden means the actor may not submit or correct this feedback.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation wraps rejected payloads.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateSubmission means feedback already exists for the
	// (facilitation, submitter, month) tuple.
	ErrDuplicateSubmission = errors.New("duplicate submission for this month")
	// ErrNotEligible means the facilitation is not in a state that accepts feedback.
	ErrNotEligible = errors.New("facilitation is not accepting feedback")
)

// FacilitationSource resolves facilitation records for eligibility checks.
type FacilitationSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.FacilitationRequest, error)
}

// Store is the feedback persistence surface.
type Store interface {
	Insert(ctx context.Context, fb *models.MonthlyFeedback) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MonthlyFeedback, error)
	Update(ctx context.Context, fb *models.MonthlyFeedback) error
	ExistsForMonth(ctx context.Context, facilitationID, submitterID uuid.UUID, month models.MonthKey) (bool, error)
	ListByFacilitation(ctx context.Context, facilitationID uuid.UUID) ([]models.MonthlyFeedback, error)
	MonthlyAverage(ctx context.Context, recipientID uuid.UUID, month models.MonthKey) (avg float64, count int, err error)
}

// TierEvaluator re-evaluates a student's recognition streak after the
// aggregate for a month changed.
type TierEvaluator interface {
	Evaluate(ctx context.Context, studentID uuid.UUID, month models.MonthKey) (*models.RecognitionTier, error)
}

// Notifier delivers best-effort events to the affected users.
type Notifier interface {
	FeedbackReceived(ctx context.Context, fb *models.MonthlyFeedback)
	TierUpdated(ctx context.Context, rt *models.RecognitionTier)
}

// SubmitInput is the payload for a monthly feedback submission.
type SubmitInput struct {
	FacilitationID uuid.UUID
	SubmitterID    uuid.UUID
	RecipientID    uuid.UUID // optional; derived from the facilitation when zero
	Rating         int
	FeedbackText   string
	FeedbackMonth  string // optional YYYY-MM; defaults to the current month

	HoursContributed *int
	TasksCompleted   string
	Highlights       string
	Challenges       string
	GoalsNextMonth   string
	SupportNeeded    bool
	SupportDetails   string
}

// CorrectInput is the payload for correcting an existing record. The month
// and identities never change.
type CorrectInput struct {
	Rating       int
	FeedbackText string

	HoursContributed *int
	TasksCompleted   string
	Highlights       string
	Challenges       string
	GoalsNextMonth   string
	SupportNeeded    bool
	SupportDetails   string
}

// Service enforces submission uniqueness and eligibility, and drives tier
// re-evaluation for student recipients.
type Service struct {
	store         Store
	facilitations FacilitationSource
	tiers         TierEvaluator
	notify        Notifier
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates the monthly feedback engine.
func NewService(store Store, facilitations FacilitationSource, tiers TierEvaluator, notify Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:         store,
		facilitations: facilitations,
		tiers:         tiers,
		notify:        notify,
		logger:        logger,
		now:           time.Now,
	}
}

// Submit validates and stores one feedback record, then re-evaluates the
// recipient's recognition tier when the recipient is a student. The unique
// index closes the eligibility-check/insert race: of two concurrent submits
// for the same tuple exactly one wins, the other gets ErrDuplicateSubmission.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.MonthlyFeedback, error) {
	f, err := s.getFacilitation(ctx, in.FacilitationID)
	if err != nil {
		return nil, err
	}
	if !f.Status.AcceptsFeedback() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotEligible, f.Status)
	}
	if !f.Participant(in.SubmitterID) {
		return nil, fmt.Errorf("%w: submitter is not a participant", ErrForbidden)
	}
	recipient := f.OtherParty(in.SubmitterID)
	if in.RecipientID != uuid.Nil && in.RecipientID != recipient {
		return nil, fmt.Errorf("%w: recipient must be the other party of the facilitation", ErrValidation)
	}
	if err := validatePayload(in.Rating, in.FeedbackText, in.HoursContributed); err != nil {
		return nil, err
	}

	month := models.MonthOf(s.now())
	if in.FeedbackMonth != "" {
		month, err = models.ParseMonthKey(in.FeedbackMonth)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	fb := &models.MonthlyFeedback{
		FacilitationID:   f.ID,
		SubmitterID:      in.SubmitterID,
		RecipientID:      recipient,
		SubmitterRole:    f.RoleOf(in.SubmitterID),
		Rating:           in.Rating,
		FeedbackText:     strings.TrimSpace(in.FeedbackText),
		HoursContributed: in.HoursContributed,
		TasksCompleted:   in.TasksCompleted,
		Highlights:       in.Highlights,
		Challenges:       in.Challenges,
		GoalsNextMonth:   in.GoalsNextMonth,
		SupportNeeded:    in.SupportNeeded,
		SupportDetails:   in.SupportDetails,
		FeedbackMonth:    month,
	}
	if err := s.store.Insert(ctx, fb); err != nil {
		return nil, err
	}

	if err := s.evaluateTier(ctx, f, recipient, month); err != nil {
		// The record is durable; the caller learns the tier pass failed.
		return fb, fmt.Errorf("feedback stored but recognition evaluation failed: %w", err)
	}
	if s.notify != nil {
		s.notify.FeedbackReceived(ctx, fb)
	}
	return fb, nil
}

// CanSubmit reports whether the submitter may still file feedback for the
// current month. Advisory: the insert path remains the source of truth.
func (s *Service) CanSubmit(ctx context.Context, facilitationID, submitterID uuid.UUID) (bool, models.MonthKey, error) {
	month := models.MonthOf(s.now())
	f, err := s.getFacilitation(ctx, facilitationID)
	if err != nil {
		return false, month, err
	}
	if !f.Status.AcceptsFeedback() || !f.Participant(submitterID) {
		return false, month, nil
	}
	exists, err := s.store.ExistsForMonth(ctx, facilitationID, submitterID, month)
	if err != nil {
		return false, month, err
	}
	return !exists, month, nil
}

// Correct lets the original submitter revise a record. The feedback month is
// immutable, so a correction is never a resubmission; the recipient's
// aggregate for that month changed, so the tier is re-evaluated.
func (s *Service) Correct(ctx context.Context, feedbackID, submitterID uuid.UUID, in CorrectInput) (*models.MonthlyFeedback, error) {
	fb, err := s.store.GetByID(ctx, feedbackID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if fb.SubmitterID != submitterID {
		return nil, fmt.Errorf("%w: only the original submitter may correct feedback", ErrForbidden)
	}
	if err := validatePayload(in.Rating, in.FeedbackText, in.HoursContributed); err != nil {
		return nil, err
	}

	fb.Rating = in.Rating
	fb.FeedbackText = strings.TrimSpace(in.FeedbackText)
	fb.HoursContributed = in.HoursContributed
	fb.TasksCompleted = in.TasksCompleted
	fb.Highlights = in.Highlights
	fb.Challenges = in.Challenges
	fb.GoalsNextMonth = in.GoalsNextMonth
	fb.SupportNeeded = in.SupportNeeded
	fb.SupportDetails = in.SupportDetails
	if err := s.store.Update(ctx, fb); err != nil {
		return nil, err
	}

	f, err := s.getFacilitation(ctx, fb.FacilitationID)
	if err != nil {
		return nil, err
	}
	if err := s.evaluateTier(ctx, f, fb.RecipientID, fb.FeedbackMonth); err != nil {
		return fb, fmt.Errorf("correction stored but recognition evaluation failed: %w", err)
	}
	return fb, nil
}

// ListByFacilitation returns the feedback history for a facilitation.
func (s *Service) ListByFacilitation(ctx context.Context, facilitationID uuid.UUID) ([]models.MonthlyFeedback, error) {
	return s.store.ListByFacilitation(ctx, facilitationID)
}

// MonthlyAverage returns the mean rating and submission count for a
// recipient's calendar month.
func (s *Service) MonthlyAverage(ctx context.Context, recipientID uuid.UUID, month models.MonthKey) (float64, int, error) {
	return s.store.MonthlyAverage(ctx, recipientID, month)
}

func (s *Service) getFacilitation(ctx context.Context, id uuid.UUID) (*models.FacilitationRequest, error) {
	f, err := s.facilitations.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFacilitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// evaluateTier runs the recognition engine when the recipient belongs to the
// tracked population (students) and fires the tier event.
func (s *Service) evaluateTier(ctx context.Context, f *models.FacilitationRequest, recipientID uuid.UUID, month models.MonthKey) error {
	if f.RoleOf(recipientID) != models.RoleStudent {
		return nil
	}
	rt, err := s.tiers.Evaluate(ctx, recipientID, month)
	if err != nil {
		return err
	}
	if s.notify != nil {
		s.notify.TierUpdated(ctx, rt)
	}
	return nil
}

func validatePayload(rating int, text string, hours *int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}
	if len(strings.TrimSpace(text)) < MinFeedbackTextLen {
		return fmt.Errorf("%w: feedback text must be at least %d characters", ErrValidation, MinFeedbackTextLen)
	}
	if hours != nil && *hours < 0 {
		return fmt.Errorf("%w: hours contributed cannot be negative", ErrValidation)
	}
	return nil
}
