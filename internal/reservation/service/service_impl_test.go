package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/mestredigital/creditos/internal/audit/domain"
	"github.com/mestredigital/creditos/internal/clock"
	"github.com/mestredigital/creditos/internal/config"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	ledgerservice "github.com/mestredigital/creditos/internal/ledger/service"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAudit struct{}

func (noopAudit) AuditLog(context.Context, string, string, *string, map[string]any) error {
	return nil
}

func (noopAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type testEnv struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	ledger      ledgerdomain.Service
	reservation reservationdomain.Service
}

var testDBCounter atomic.Int64

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:reservation_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.Transaction{},
		&reservationdomain.Reservation{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{ReservationTTL: 15 * time.Minute}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Cfg:   cfg,
		Clock: clk,
	})

	reservationSvc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Cfg:      cfg,
		Clock:    clk,
		Ledger:   ledgerSvc,
		AuditSvc: noopAudit{},
	})

	return &testEnv{db: db, clock: clk, ledger: ledgerSvc, reservation: reservationSvc}
}

func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.ledger.Credit(context.Background(), ledgerdomain.CreditRequest{
		UserID:         userID,
		IdempotencyKey: "fund",
		Amount:         amount,
		Kind:           ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)
}

func (e *testEnv) debitCount(t *testing.T, userID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&ledgerdomain.Transaction{}).
		Where("user_id = ? AND kind = ?", userID, ledgerdomain.KindDebit).
		Count(&count).Error)
	return count
}

func TestReserveThenCommit_ProducesExactlyOneDebit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	reserved, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID:         "user-1",
		IdempotencyKey: "hold-1",
		Amount:         30,
		ToolID:         "essay_correction",
	})
	require.NoError(t, err)
	assert.Equal(t, reservationdomain.StatusActive, reserved.Reservation.Status)
	assert.Equal(t, int64(70), reserved.Available)

	committed, err := env.reservation.Commit(ctx, "user-1", reserved.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, committed.Replayed)
	assert.Equal(t, int64(70), committed.NewBalance)
	assert.Equal(t, ledgerdomain.KindDebit, committed.Transaction.Kind)
	assert.Equal(t, int64(-30), committed.Transaction.Amount)
	assert.Equal(t, "hold-1", committed.Transaction.IdempotencyKey)
	assert.Equal(t, int64(1), env.debitCount(t, "user-1"))

	// Committing again replays the original debit.
	replay, err := env.reservation.Commit(ctx, "user-1", reserved.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, committed.Transaction.ID, replay.Transaction.ID)
	assert.Equal(t, int64(70), replay.NewBalance)
	assert.Equal(t, int64(1), env.debitCount(t, "user-1"))

	balance, err := env.ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance.Balance)
	assert.Equal(t, int64(70), balance.Available)
}

func TestReserveThenRelease_ProducesNoTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	reserved, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 40,
	})
	require.NoError(t, err)

	balance, err := env.ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance.Available)

	released, err := env.reservation.Release(ctx, "user-1", reserved.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, reservationdomain.StatusReleased, released.Status)
	assert.Equal(t, int64(0), env.debitCount(t, "user-1"))

	balance, err = env.ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Balance)
	assert.Equal(t, int64(100), balance.Available)

	// Releasing again is a no-op success.
	again, err := env.reservation.Release(ctx, "user-1", reserved.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, reservationdomain.StatusReleased, again.Status)
}

func TestRelease_CommittedReservationFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	reserved, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 30,
	})
	require.NoError(t, err)
	_, err = env.reservation.Commit(ctx, "user-1", reserved.Reservation.ID)
	require.NoError(t, err)

	_, err = env.reservation.Release(ctx, "user-1", reserved.Reservation.ID)
	assert.ErrorIs(t, err, reservationdomain.ErrReservationCommitted)
}

func TestCommit_ExpiredReservationFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	reserved, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 30,
	})
	require.NoError(t, err)

	env.clock.Advance(16 * time.Minute)

	_, err = env.reservation.Commit(ctx, "user-1", reserved.Reservation.ID)
	assert.ErrorIs(t, err, reservationdomain.ErrReservationExpired)
	assert.Equal(t, int64(0), env.debitCount(t, "user-1"))

	// Expiry behaves like a release: the funds are spendable again.
	balance, err := env.ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Available)
}

func TestRelease_OverdueReservationExpiresIt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	reserved, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 30,
	})
	require.NoError(t, err)

	env.clock.Advance(16 * time.Minute)

	released, err := env.reservation.Release(ctx, "user-1", reserved.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, reservationdomain.StatusExpired, released.Status)
}

func TestCommit_UnknownOrForeignReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	_, err = env.reservation.Commit(ctx, "user-1", node.Generate())
	assert.ErrorIs(t, err, reservationdomain.ErrReservationNotFound)

	reserved, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 30,
	})
	require.NoError(t, err)

	// Another user cannot see, let alone commit, the hold.
	_, err = env.reservation.Commit(ctx, "user-2", reserved.Reservation.ID)
	assert.ErrorIs(t, err, reservationdomain.ErrReservationNotFound)
}

func TestReserve_ChecksAvailableBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	_, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 80,
	})
	require.NoError(t, err)

	_, err = env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-2", Amount: 30,
	})
	var insufficientErr *ledgerdomain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(100), insufficientErr.Current)
	assert.Equal(t, int64(20), insufficientErr.Available)
	assert.Equal(t, int64(30), insufficientErr.Requested)

	// A direct consume is blocked by the hold the same way.
	_, err = env.ledger.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "spend", Amount: 30,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	_, err = env.ledger.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "small-spend", Amount: 20,
	})
	require.NoError(t, err)
}

func TestReserve_ReplaysIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	first, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 30,
	})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "hold-1", Amount: 30,
	})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)

	var count int64
	require.NoError(t, env.db.Model(&reservationdomain.Reservation{}).
		Where("user_id = ?", "user-1").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestListActive_OmitsFinishedHolds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "user-1", 100)

	keep, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "keep", Amount: 10,
	})
	require.NoError(t, err)
	drop, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{
		UserID: "user-1", IdempotencyKey: "drop", Amount: 10,
	})
	require.NoError(t, err)

	_, err = env.reservation.Release(ctx, "user-1", drop.Reservation.ID)
	require.NoError(t, err)

	holds, err := env.reservation.ListActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, keep.Reservation.ID, holds[0].ID)
}

func TestListActive_CanceledContextReportsStorageUnavailable(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.reservation.ListActive(ctx, "user-1")
	assert.ErrorIs(t, err, ledgerdomain.ErrStorageUnavailable)
}

func TestReserve_RejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{UserID: "", Amount: 10})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)

	_, err = env.reservation.Reserve(ctx, reservationdomain.ReserveRequest{UserID: "user-1", Amount: 0})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
}
