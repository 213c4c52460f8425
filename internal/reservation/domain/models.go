// Package domain contains the persistence models for two-phase credit holds.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ReservationStatus is the lifecycle state of a hold. Transitions out of
// active are compare-and-swap: exactly one of committed, released or expired
// wins.
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
	StatusExpired   ReservationStatus = "expired"
)

// Reservation holds funds out of the available balance without touching the
// committed balance. Only active, unexpired reservations count against
// available funds.
type Reservation struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         string            `gorm:"type:text;not null;index;uniqueIndex:ux_reservations_user_key,priority:1" json:"user_id"`
	IdempotencyKey string            `gorm:"type:text;not null;uniqueIndex:ux_reservations_user_key,priority:2" json:"idempotency_key"`
	Amount         int64             `gorm:"not null" json:"amount"`
	ToolID         string            `gorm:"type:text" json:"tool_id,omitempty"`
	Description    string            `gorm:"type:text" json:"description,omitempty"`
	Status         ReservationStatus `gorm:"type:text;not null;index:idx_reservations_sweep,priority:1" json:"status"`
	ExpiresAt      time.Time         `gorm:"not null;index:idx_reservations_sweep,priority:2" json:"expires_at"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Reservation) TableName() string { return "reservations" }
