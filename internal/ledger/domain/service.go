package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/mestredigital/creditos/pkg/db/pagination"
)

// ConsumeRequest debits credits for one billable tool invocation.
type ConsumeRequest struct {
	UserID         string         `json:"user_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Amount         int64          `json:"amount"`
	ToolID         string         `json:"tool_id"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
}

// CreditRequest increases a balance: purchases, promotional bonuses, refunds.
type CreditRequest struct {
	UserID         string          `json:"user_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         int64           `json:"amount"`
	Kind           TransactionKind `json:"kind"`
	Description    string          `json:"description"`
	ReversalOf     string          `json:"reversal_of"`
	Metadata       map[string]any  `json:"metadata"`
}

// OperationResult reports a committed (or replayed) ledger mutation.
type OperationResult struct {
	Transaction Transaction `json:"transaction"`
	NewBalance  int64       `json:"new_balance"`
	// Replayed is true when the idempotency key matched an earlier
	// transaction and no new debit or credit was applied.
	Replayed bool `json:"replayed"`
}

// Balance is a consistent snapshot of a user's funds.
type Balance struct {
	UserID string `json:"user_id"`
	// Balance is the committed ledger balance.
	Balance int64 `json:"balance"`
	// Available is Balance minus the sum of active reservations.
	Available int64 `json:"available"`
}

type ListTransactionsRequest struct {
	pagination.Pagination
	UserID string `json:"user_id"`
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

// Service is the sole authority over account balances. All mutating
// operations serialize per account and honor idempotency keys.
type Service interface {
	// GetBalance returns the current balance, initializing the account to
	// zero (plus any configured signup bonus) on first touch. It never
	// returns ErrAccountNotFound.
	GetBalance(ctx context.Context, userID string) (Balance, error)
	Consume(ctx context.Context, req ConsumeRequest) (*OperationResult, error)
	Credit(ctx context.Context, req CreditRequest) (*OperationResult, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	// GrantAccessDays adds prepaid access days to the account's bank and
	// returns the new total. Each banked day refreshes the daily allowance
	// once when the user first debits on a new calendar day.
	GrantAccessDays(ctx context.Context, userID string, days int64) (int64, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidKind         = errors.New("invalid_kind")
	ErrInvalidReversal     = errors.New("invalid_reversal")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInsufficientFunds   = errors.New("insufficient_funds")
	ErrStorageUnavailable  = errors.New("storage_unavailable")
	ErrConcurrencyConflict = errors.New("concurrency_conflict")
)

// InsufficientFundsError carries the balances the caller needs to render an
// accurate shortfall. It unwraps to ErrInsufficientFunds.
type InsufficientFundsError struct {
	Current   int64
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
