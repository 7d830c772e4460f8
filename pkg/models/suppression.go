package models

import (
	"time"

	"github.com/google/uuid"
)

// Suppression hides a (rule, entity) pairing from future runs. At most one
// record exists per (RuleID, EventID, ArtistID); writes are upserts.
type Suppression struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	RuleID          string     `db:"rule_id"          json:"rule_id"`
	EventID         *string    `db:"event_id"         json:"event_id"`
	ArtistID        *string    `db:"artist_id"        json:"artist_id"`
	SuppressedBy    string     `db:"suppressed_by"    json:"suppressed_by"`
	SuppressedUntil *time.Time `db:"suppressed_until" json:"suppressed_until"`
	Reason          *string    `db:"reason"           json:"reason"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
}
