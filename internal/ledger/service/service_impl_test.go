package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mestredigital/creditos/internal/cache"
	"github.com/mestredigital/creditos/internal/clock"
	"github.com/mestredigital/creditos/internal/config"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBCounter atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
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
	return db
}

func newTestService(t *testing.T, db *gorm.DB, bonus int64, clk clock.Clock) ledgerdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Cfg:   config.Config{SignupBonus: bonus},
		Clock: clk,
	})
}

func TestGetBalance_InitializesAccountWithSignupBonus(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 50, clock.NewSystem())
	ctx := context.Background()

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)
	assert.Equal(t, int64(50), balance.Available)

	// Second touch must not credit the bonus again.
	balance, err = svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)

	var count int64
	require.NoError(t, db.Model(&ledgerdomain.Transaction{}).
		Where("user_id = ? AND kind = ?", "user-1", ledgerdomain.KindBonus).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConsume_DebitsAndReplaysIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:         "user-1",
		IdempotencyKey: "k1",
		Amount:         100,
		Kind:           ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)

	first, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:         "user-1",
		IdempotencyKey: "k2",
		Amount:         30,
		ToolID:         "flashcards",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), first.NewBalance)
	assert.Equal(t, int64(-30), first.Transaction.Amount)
	assert.False(t, first.Replayed)

	// Retrying the same key returns the original transaction untouched.
	replay, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:         "user-1",
		IdempotencyKey: "k2",
		Amount:         30,
		ToolID:         "flashcards",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Transaction.ID, replay.Transaction.ID)
	assert.Equal(t, int64(70), replay.NewBalance)

	_, err = svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:         "user-1",
		IdempotencyKey: "k3",
		Amount:         1000,
	})
	var insufficientErr *ledgerdomain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(70), insufficientErr.Current)
	assert.Equal(t, int64(70), insufficientErr.Available)
	assert.Equal(t, int64(1000), insufficientErr.Requested)
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance.Balance)
}

func TestConsume_RejectsInvalidInput(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())
	ctx := context.Background()

	_, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{UserID: "user-1", Amount: 0})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.Consume(ctx, ledgerdomain.ConsumeRequest{UserID: "user-1", Amount: -5})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.Consume(ctx, ledgerdomain.ConsumeRequest{UserID: "  ", Amount: 10})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)
}

func TestCredit_RejectsInvalidKind(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())

	_, err := svc.Credit(context.Background(), ledgerdomain.CreditRequest{
		UserID: "user-1",
		Amount: 10,
		Kind:   ledgerdomain.KindDebit,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidKind)
}

func TestCredit_RefundLinksReversal(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:         "user-1",
		IdempotencyKey: "purchase",
		Amount:         100,
		Kind:           ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)

	debit, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:         "user-1",
		IdempotencyKey: "work",
		Amount:         40,
	})
	require.NoError(t, err)

	refund, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:         "user-1",
		IdempotencyKey: "refund",
		Amount:         40,
		Kind:           ledgerdomain.KindRefund,
		ReversalOf:     debit.Transaction.ID.String(),
	})
	require.NoError(t, err)
	require.NotNil(t, refund.Transaction.ReversalOf)
	assert.Equal(t, debit.Transaction.ID, *refund.Transaction.ReversalOf)
	assert.Equal(t, int64(100), refund.NewBalance)

	// Only debits can be reversed, and only by refunds.
	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:         "user-1",
		IdempotencyKey: "bad-reversal",
		Amount:         10,
		Kind:           ledgerdomain.KindRefund,
		ReversalOf:     refund.Transaction.ID.String(),
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidReversal)

	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:         "user-1",
		IdempotencyKey: "bad-kind",
		Amount:         10,
		Kind:           ledgerdomain.KindPurchase,
		ReversalOf:     debit.Transaction.ID.String(),
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidReversal)
}

func TestConsume_AvailableBalanceExcludesActiveHolds(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, 0, clk)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:         "user-1",
		IdempotencyKey: "purchase",
		Amount:         100,
		Kind:           ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	hold := reservationdomain.Reservation{
		ID:             node.Generate(),
		UserID:         "user-1",
		IdempotencyKey: "hold",
		Amount:         60,
		Status:         reservationdomain.StatusActive,
		ExpiresAt:      clk.Now().Add(15 * time.Minute),
		CreatedAt:      clk.Now(),
		UpdatedAt:      clk.Now(),
	}
	require.NoError(t, db.Create(&hold).Error)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Balance)
	assert.Equal(t, int64(40), balance.Available)

	_, err = svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:         "user-1",
		IdempotencyKey: "too-much",
		Amount:         50,
	})
	var insufficientErr *ledgerdomain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(100), insufficientErr.Current)
	assert.Equal(t, int64(40), insufficientErr.Available)

	// The hold stops counting once its deadline passes.
	clk.Advance(16 * time.Minute)
	ok, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:         "user-1",
		IdempotencyKey: "after-expiry",
		Amount:         50,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), ok.NewBalance)
}

func TestListTransactions_CursorPagination(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
			UserID:         "user-1",
			IdempotencyKey: fmt.Sprintf("k%d", i),
			Amount:         int64(i + 1),
			Kind:           ledgerdomain.KindPurchase,
		})
		require.NoError(t, err)
	}

	var seen []int64
	token := ""
	pages := 0
	for {
		pageResp, err := svc.ListTransactions(ctx, listRequest("user-1", token, 2))
		require.NoError(t, err)
		require.LessOrEqual(t, len(pageResp.Transactions), 2)
		for _, txn := range pageResp.Transactions {
			seen = append(seen, txn.Amount)
		}
		pages++
		if !pageResp.HasMore {
			break
		}
		token = pageResp.NextPageToken
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, seen)

	_, err := svc.ListTransactions(ctx, listRequest("user-1", "not-a-token", 2))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)
}

func TestLedger_ConservesBalance(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 25, clock.NewSystem())
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID: "user-1", IdempotencyKey: "p1", Amount: 100, Kind: ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "d1", Amount: 30,
	})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "d2", Amount: 45,
	})
	require.NoError(t, err)
	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID: "user-1", IdempotencyKey: "r1", Amount: 10, Kind: ledgerdomain.KindRefund,
	})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)

	var sum int64
	require.NoError(t, db.Model(&ledgerdomain.Transaction{}).
		Where("user_id = ?", "user-1").
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error)
	assert.Equal(t, balance.Balance, sum)
	assert.Equal(t, int64(60), balance.Balance)
	assert.GreaterOrEqual(t, balance.Balance, int64(0))
}

func TestConsume_GeneratesKeyWhenMissing(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 100, clock.NewSystem())
	ctx := context.Background()

	first, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{UserID: "user-1", Amount: 10})
	require.NoError(t, err)
	second, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{UserID: "user-1", Amount: 10})
	require.NoError(t, err)

	// Without a caller-supplied key each call is a distinct debit.
	assert.NotEqual(t, first.Transaction.IdempotencyKey, second.Transaction.IdempotencyKey)
	assert.Equal(t, int64(80), second.NewBalance)
}

func TestGetBalance_NeverReturnsAccountNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())

	balance, err := svc.GetBalance(context.Background(), "brand-new-user")
	require.NoError(t, err)
	assert.False(t, errors.Is(err, ledgerdomain.ErrAccountNotFound))
	assert.Equal(t, int64(0), balance.Balance)
}

func newTestServiceWithCfg(t *testing.T, db *gorm.DB, cfg config.Config, clk clock.Clock, accounts cache.AccountCache) ledgerdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Cfg:      cfg,
		Clock:    clk,
		Accounts: accounts,
	})
}

func TestConsume_FailedFirstTouchDoesNotPoisonAccountCache(t *testing.T) {
	db := newTestDB(t)
	svc := newTestServiceWithCfg(t, db, config.Config{}, clock.NewSystem(), cache.NewAccountCache())
	ctx := context.Background()

	// The first touch rolls back on insufficient funds, taking the account
	// insert with it. The cache must not remember the phantom account.
	_, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:         "user-1",
		IdempotencyKey: "k1",
		Amount:         5,
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Balance)
}

func TestGetBalance_RecoversFromStaleAccountCache(t *testing.T) {
	db := newTestDB(t)
	accounts := cache.NewAccountCache()
	svc := newTestServiceWithCfg(t, db, config.Config{}, clock.NewSystem(), accounts)

	// A cache entry without a backing row must heal instead of surfacing
	// account_not_found.
	accounts.MarkKnown("user-1")

	balance, err := svc.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Balance)
}

func TestConsume_DrawsDailyAllowanceBeforeWallet(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestServiceWithCfg(t, db, config.Config{DailyAllowance: 20}, clk, nil)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID: "user-1", IdempotencyKey: "fund", Amount: 100, Kind: ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)
	total, err := svc.GrantAccessDays(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// 20 credits come from today's allowance, only 10 hit the wallet.
	first, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "d1", Amount: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90), first.NewBalance)
	assert.Equal(t, int64(-10), first.Transaction.Amount)
	breakdown, ok := first.Transaction.Metadata["breakdown"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 30, breakdown["requested"])
	assert.EqualValues(t, 20, breakdown["allowance_used"])
	assert.EqualValues(t, 10, breakdown["wallet_used"])

	// Allowance exhausted for the day: wallet only, no breakdown.
	second, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "d2", Amount: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(85), second.NewBalance)
	assert.Equal(t, int64(-5), second.Transaction.Amount)
	assert.NotContains(t, map[string]any(second.Transaction.Metadata), "breakdown")

	// A new calendar day consumes one banked access day and refreshes the
	// allowance, covering the debit entirely.
	clk.Advance(24 * time.Hour)
	third, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "d3", Amount: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(85), third.NewBalance)
	assert.Equal(t, int64(0), third.Transaction.Amount)

	var account ledgerdomain.Account
	require.NoError(t, db.Where("user_id = ?", "user-1").First(&account).Error)
	assert.Equal(t, int64(0), account.AccessDaysBank)
	assert.Equal(t, int64(20), account.DailyUsed)
	assert.Equal(t, "2026-03-02", account.LastAccessDay)
}

func TestConsume_AllowanceShortfallLeavesStateUntouched(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestServiceWithCfg(t, db, config.Config{DailyAllowance: 20}, clk, nil)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID: "user-1", IdempotencyKey: "fund", Amount: 10, Kind: ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)
	_, err = svc.GrantAccessDays(ctx, "user-1", 1)
	require.NoError(t, err)

	// The shortfall reports only the wallet portion: the allowance would
	// have covered 20 of the 50.
	_, err = svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "big", Amount: 50,
	})
	var insufficientErr *ledgerdomain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(10), insufficientErr.Current)
	assert.Equal(t, int64(10), insufficientErr.Available)
	assert.Equal(t, int64(30), insufficientErr.Requested)

	// The rejected attempt must not burn the allowance or the banked day.
	ok, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "fit", Amount: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), ok.NewBalance)
	assert.Equal(t, int64(-5), ok.Transaction.Amount)
}

func TestConsume_NoAccessDaysMeansWalletOnly(t *testing.T) {
	db := newTestDB(t)
	svc := newTestServiceWithCfg(t, db, config.Config{DailyAllowance: 20}, clock.NewSystem(), nil)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID: "user-1", IdempotencyKey: "fund", Amount: 50, Kind: ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)

	out, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID: "user-1", IdempotencyKey: "d1", Amount: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), out.NewBalance)
	assert.Equal(t, int64(-10), out.Transaction.Amount)
	assert.Empty(t, out.Transaction.Metadata)
}

func TestGrantAccessDays_AccumulatesAndValidates(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())
	ctx := context.Background()

	_, err := svc.GrantAccessDays(ctx, "user-1", 0)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
	_, err = svc.GrantAccessDays(ctx, "  ", 1)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)

	total, err := svc.GrantAccessDays(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	total, err = svc.GrantAccessDays(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestConsume_ParallelDebitsNeverOverspend(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID: "user-1", IdempotencyKey: "fund", Amount: 5, Kind: ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	var succeeded, insufficient atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
				UserID:         "user-1",
				IdempotencyKey: fmt.Sprintf("spend-%d", i),
				Amount:         1,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(5), succeeded.Load())
	assert.Equal(t, int64(5), insufficient.Load())

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Balance)

	var debits int64
	require.NoError(t, db.Model(&ledgerdomain.Transaction{}).
		Where("user_id = ? AND kind = ?", "user-1", ledgerdomain.KindDebit).
		Count(&debits).Error)
	assert.Equal(t, int64(5), debits)
}

func TestWithRetry_RecoversFromConcurrencyConflict(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem()).(*Service)

	calls := 0
	err := svc.withRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ledgerdomain.ErrConcurrencyConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustionReportsStorageUnavailable(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem()).(*Service)

	calls := 0
	err := svc.withRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return ledgerdomain.ErrConcurrencyConflict
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrStorageUnavailable)
	assert.Equal(t, maxAttempts, calls)
}

func TestListTransactions_CanceledContextReportsStorageUnavailable(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 0, clock.NewSystem())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ListTransactions(ctx, listRequest("user-1", "", 2))
	assert.ErrorIs(t, err, ledgerdomain.ErrStorageUnavailable)
}

func listRequest(userID, token string, size int) ledgerdomain.ListTransactionsRequest {
	req := ledgerdomain.ListTransactionsRequest{UserID: userID}
	req.PageToken = token
	req.PageSize = size
	return req
}
