// Package domain contains the persistence models for the credit ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionKind classifies a ledger transaction.
type TransactionKind string

const (
	KindPurchase TransactionKind = "purchase"
	KindDebit    TransactionKind = "debit"
	KindRefund   TransactionKind = "refund"
	KindBonus    TransactionKind = "bonus"
)

// CreditKinds are the kinds accepted by the Credit operation.
var CreditKinds = map[TransactionKind]struct{}{
	KindPurchase: {},
	KindBonus:    {},
	KindRefund:   {},
}

// Account holds a user's spendable credit balance. Accounts are created on
// first touch and only ever mutated through the ledger service. Version is
// the optimistic-concurrency token: every mutation increments it, and every
// conditional write matches on it.
type Account struct {
	UserID  string `gorm:"primaryKey;type:text" json:"user_id"`
	Balance int64  `gorm:"not null;default:0" json:"balance"`
	Version int64  `gorm:"not null;default:0" json:"-"`

	// AccessDaysBank holds prepaid access days granted by subscriptions.
	// Entering a new calendar day consumes one and refreshes the daily
	// allowance; when the bank is empty the allowance stays exhausted.
	AccessDaysBank int64 `gorm:"not null;default:0" json:"access_days_bank"`
	// DailyAllowance overrides the configured per-day free credit quota.
	// Zero means the account uses the service-wide default.
	DailyAllowance int64 `gorm:"not null;default:0" json:"daily_allowance,omitempty"`
	// DailyUsed counts allowance credits spent on LastAccessDay.
	DailyUsed int64 `gorm:"not null;default:0" json:"daily_used"`
	// LastAccessDay is the UTC calendar day (YYYY-MM-DD) of the last debit
	// that touched the allowance.
	LastAccessDay string `gorm:"type:text;not null;default:''" json:"last_access_day,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// Transaction is an immutable, append-only ledger entry. Amount is signed:
// negative for the wallet portion of debits, positive for every credit kind.
// A debit fully covered by the daily allowance records a zero amount with the
// split in Metadata. BalanceAfter snapshots the account balance immediately
// after the transaction applied so statements can be rendered without replay.
type Transaction struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         string            `gorm:"type:text;not null;index;uniqueIndex:ux_transactions_user_key,priority:1" json:"user_id"`
	IdempotencyKey string            `gorm:"type:text;not null;uniqueIndex:ux_transactions_user_key,priority:2" json:"idempotency_key"`
	Kind           TransactionKind   `gorm:"type:text;not null" json:"kind"`
	Amount         int64             `gorm:"not null" json:"amount"`
	ToolID         string            `gorm:"type:text" json:"tool_id,omitempty"`
	Description    string            `gorm:"type:text" json:"description,omitempty"`
	BalanceAfter   int64             `gorm:"not null" json:"balance_after"`
	ReversalOf     *snowflake.ID     `gorm:"index" json:"reversal_of,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }
