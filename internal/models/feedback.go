package models

import (
	"time"

	"github.com/google/uuid"
)

// MonthlyFeedback is a single rated review: one per submitter per facilitation
// per calendar month, enforced by a unique index on
// (facilitation_id, submitter_id, feedback_month).
type MonthlyFeedback struct {
	ID             uuid.UUID `json:"id"`
	FacilitationID uuid.UUID `json:"facilitation_id"`
	SubmitterID    uuid.UUID `json:"submitter_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	SubmitterRole  Role      `json:"submitter_role"`
	Rating         int       `json:"rating"`
	FeedbackText   string    `json:"feedback_text"`

	// Optional structured fields.
	HoursContributed *int   `json:"hours_contributed,omitempty"`
	TasksCompleted   string `json:"tasks_completed,omitempty"`
	Highlights       string `json:"highlights,omitempty"`
	Challenges       string `json:"challenges,omitempty"`
	GoalsNextMonth   string `json:"goals_next_month,omitempty"`
	SupportNeeded    bool   `json:"support_needed"`
	SupportDetails   string `json:"support_details,omitempty"`

	FeedbackMonth MonthKey  `json:"feedback_month"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
