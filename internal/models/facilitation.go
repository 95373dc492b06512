package models

import (
	"time"

	"github.com/google/uuid"
)

// FacilitationStatus is the lifecycle state of a facilitation request.
type FacilitationStatus string

const (
	FacilitationPending   FacilitationStatus = "pending"
	FacilitationInReview  FacilitationStatus = "in_review"
	FacilitationMatched   FacilitationStatus = "matched"
	FacilitationCompleted FacilitationStatus = "completed"
	FacilitationCancelled FacilitationStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s FacilitationStatus) Valid() bool {
	switch s {
	case FacilitationPending, FacilitationInReview, FacilitationMatched,
		FacilitationCompleted, FacilitationCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s FacilitationStatus) Terminal() bool {
	return s == FacilitationCompleted || s == FacilitationCancelled
}

// AcceptsFeedback reports whether monthly feedback may be filed against a
// facilitation in this state. Completed arrangements still accept late filings.
func (s FacilitationStatus) AcceptsFeedback() bool {
	return s == FacilitationMatched || s == FacilitationCompleted
}

// FacilitationRequest is an admin-mediated introduction between a requester
// and a target from the opposite population.
type FacilitationRequest struct {
	ID            uuid.UUID          `json:"id"`
	RequesterID   uuid.UUID          `json:"requester_id"`
	TargetID      uuid.UUID          `json:"target_id"`
	RequesterRole Role               `json:"requester_role"`
	Status        FacilitationStatus `json:"status"`
	Message       string             `json:"message"`
	AdminNotes    string             `json:"admin_notes,omitempty"`
	ReviewedBy    *uuid.UUID         `json:"reviewed_by,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ReviewedAt    *time.Time         `json:"reviewed_at,omitempty"`
	MatchedAt     *time.Time         `json:"matched_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

// Participant reports whether userID is the requester or the target.
func (f *FacilitationRequest) Participant(userID uuid.UUID) bool {
	return f.RequesterID == userID || f.TargetID == userID
}

// OtherParty returns the counterpart of userID in the facilitation, or
// uuid.Nil if userID is not a participant.
func (f *FacilitationRequest) OtherParty(userID uuid.UUID) uuid.UUID {
	switch userID {
	case f.RequesterID:
		return f.TargetID
	case f.TargetID:
		return f.RequesterID
	}
	return uuid.Nil
}

// RoleOf returns the population role of a participant: the requester carries
// RequesterRole, the target the opposite population.
func (f *FacilitationRequest) RoleOf(userID uuid.UUID) Role {
	switch userID {
	case f.RequesterID:
		return f.RequesterRole
	case f.TargetID:
		return f.RequesterRole.Counterpart()
	}
	return ""
}
