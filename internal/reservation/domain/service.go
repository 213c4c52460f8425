package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
)

// ReserveRequest places a hold against the available balance.
type ReserveRequest struct {
	UserID         string         `json:"user_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Amount         int64          `json:"amount"`
	ToolID         string         `json:"tool_id"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
}

type ReserveResult struct {
	Reservation Reservation `json:"reservation"`
	// Available is the available balance after the hold applied.
	Available int64 `json:"available"`
	Replayed  bool  `json:"replayed"`
}

// CommitResult reports the debit produced by a committed hold.
type CommitResult struct {
	Reservation Reservation              `json:"reservation"`
	Transaction ledgerdomain.Transaction `json:"transaction"`
	NewBalance  int64                    `json:"new_balance"`
	Replayed    bool                     `json:"replayed"`
}

// Service manages the reservation lifecycle. Reserve checks available
// balance the same way Consume does, so a hold can always be committed.
type Service interface {
	Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error)
	// Commit converts an active hold into a debit transaction. Committing
	// an already-committed reservation replays the original debit.
	Commit(ctx context.Context, userID string, id snowflake.ID) (*CommitResult, error)
	// Release discards an active hold without producing a transaction.
	// Releasing a released or expired reservation is a no-op success.
	Release(ctx context.Context, userID string, id snowflake.ID) (*Reservation, error)
	// ListActive returns the caller's unexpired active holds.
	ListActive(ctx context.Context, userID string) ([]Reservation, error)
}

var (
	ErrReservationNotFound  = errors.New("reservation_not_found")
	ErrReservationExpired   = errors.New("reservation_expired")
	ErrReservationCommitted = errors.New("reservation_committed")
)
