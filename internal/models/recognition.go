package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the recognition level derived from a student's streak of
// consecutive high-rating months.
type Tier string

const (
	TierNone   Tier = "none"
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Rank orders tiers so progression can be compared (none < bronze < silver < gold).
func (t Tier) Rank() int {
	switch t {
	case TierBronze:
		return 1
	case TierSilver:
		return 2
	case TierGold:
		return 3
	}
	return 0
}

// RecognitionTier is the longitudinal recognition record for one student.
// CurrentTier never regresses; the achieved-at stamps are set once and kept
// even if the streak later resets.
type RecognitionTier struct {
	StudentID                   uuid.UUID  `json:"student_id"`
	CurrentTier                 Tier       `json:"current_tier"`
	ConsecutiveHighRatingMonths int        `json:"consecutive_high_rating_months"`
	LastHighRatingMonth         *MonthKey  `json:"last_high_rating_month,omitempty"`
	BronzeAchievedAt            *time.Time `json:"bronze_achieved_at,omitempty"`
	SilverAchievedAt            *time.Time `json:"silver_achieved_at,omitempty"`
	GoldAchievedAt              *time.Time `json:"gold_achieved_at,omitempty"`
	UpdatedAt                   time.Time  `json:"updated_at"`
}
