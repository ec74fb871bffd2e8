package models

import (
	"time"

	"github.com/google/uuid"
)

// Referral связь "пригласивший -> приглашённый". Для одного RefereeID
// существует не более одной записи.
type Referral struct {
	ID           uuid.UUID      `json:"id"`
	ReferrerID   string         `json:"referrer_id"`
	RefereeID    string         `json:"referee_id"`
	ReferralCode string         `json:"referral_code"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type TrackReferralInput struct {
	ReferralCode string         `json:"referral_code" binding:"required"`
	RefereeID    string         `json:"referee_id" binding:"required"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
