package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/mestredigital/creditos/internal/audit/domain"
	"github.com/mestredigital/creditos/internal/clock"
	"github.com/mestredigital/creditos/internal/config"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	obsmetrics "github.com/mestredigital/creditos/internal/observability/metrics"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"github.com/mestredigital/creditos/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxAttempts    = 5
	storageTimeout = 3 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfg        config.Config
	clock      clock.Clock
	ledger     ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) reservationdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reservation.service"),
		genID:      p.GenID,
		cfg:        p.Cfg,
		clock:      p.Clock,
		ledger:     p.Ledger,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Reserve(ctx context.Context, req reservationdomain.ReserveRequest) (*reservationdomain.ReserveResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = ulid.Make().String()
	}

	// Initializes the account (and signup bonus) through the ledger so
	// first-touch behavior is identical to a direct consume.
	if _, err := s.ledger.GetBalance(ctx, req.UserID); err != nil {
		return nil, err
	}

	var result *reservationdomain.ReserveResult
	err := s.withRetry(ctx, "reserve", func(ctx context.Context) error {
		var err error
		result, err = s.tryReserve(ctx, req)
		return err
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			s.obsMetrics.RecordInsufficientFunds(ctx, req.ToolID)
		}
		return nil, err
	}

	if !result.Replayed {
		s.obsMetrics.RecordReservationEvent(ctx, "reserved")
	}
	return result, nil
}

func (s *Service) Commit(ctx context.Context, userID string, id snowflake.ID) (*reservationdomain.CommitResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	var result *reservationdomain.CommitResult
	err := s.withRetry(ctx, "commit_reservation", func(ctx context.Context) error {
		var err error
		result, err = s.tryCommit(ctx, userID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.obsMetrics.RecordReservationEvent(ctx, "committed")
		s.obsMetrics.RecordLedgerOp(ctx, "consume", string(ledgerdomain.KindDebit), result.Reservation.ToolID)
		targetID := id.String()
		if err := s.auditSvc.AuditLog(ctx, "reservation.commit", "reservation", &targetID, map[string]any{
			"user_id": userID,
			"amount":  result.Reservation.Amount,
			"tool_id": result.Reservation.ToolID,
		}); err != nil {
			s.log.Warn("failed to write reservation audit log", zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) Release(ctx context.Context, userID string, id snowflake.ID) (*reservationdomain.Reservation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	var released *reservationdomain.Reservation
	var changed bool
	err := s.withRetry(ctx, "release_reservation", func(ctx context.Context) error {
		var err error
		released, changed, err = s.tryRelease(ctx, userID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.obsMetrics.RecordReservationEvent(ctx, "released")
	}
	return released, nil
}

func (s *Service) ListActive(ctx context.Context, userID string) ([]reservationdomain.Reservation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	// Reads are bounded like mutations so a stuck backend cannot pin the
	// request.
	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	var holds []reservationdomain.Reservation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, reservationdomain.StatusActive, s.clock.Now()).
		Order("id DESC").
		Find(&holds).Error
	if err != nil {
		return nil, s.storageErr("list_active", err)
	}
	return holds, nil
}

func (s *Service) tryReserve(ctx context.Context, req reservationdomain.ReserveRequest) (*reservationdomain.ReserveResult, error) {
	var result *reservationdomain.ReserveResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing, err := s.findByIdempotencyKey(ctx, tx, req.UserID, req.IdempotencyKey); err != nil {
			return err
		} else if existing != nil {
			account, err := s.loadAccount(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			holds, err := s.activeHolds(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			result = &reservationdomain.ReserveResult{
				Reservation: *existing,
				Available:   account.Balance - holds,
				Replayed:    true,
			}
			return nil
		}

		account, err := s.loadAccount(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		holds, err := s.activeHolds(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		available := account.Balance - holds
		if available < req.Amount {
			return &ledgerdomain.InsufficientFundsError{
				Current:   account.Balance,
				Available: available,
				Requested: req.Amount,
			}
		}

		// Bumping the version serializes the hold against concurrent
		// consumes reading the same available balance.
		if err := s.bumpVersion(ctx, tx, account); err != nil {
			return err
		}

		now := s.clock.Now()
		hold := reservationdomain.Reservation{
			ID:             s.genID.Generate(),
			UserID:         req.UserID,
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			ToolID:         strings.TrimSpace(req.ToolID),
			Description:    strings.TrimSpace(req.Description),
			Status:         reservationdomain.StatusActive,
			ExpiresAt:      now.Add(s.ttl()),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if req.Metadata != nil {
			hold.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if err := tx.WithContext(ctx).Create(&hold).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrConcurrencyConflict
			}
			return s.storageErr("insert_reservation", err)
		}

		result = &reservationdomain.ReserveResult{
			Reservation: hold,
			Available:   available - req.Amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) tryCommit(ctx context.Context, userID string, id snowflake.ID) (*reservationdomain.CommitResult, error) {
	var result *reservationdomain.CommitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hold, err := s.findByID(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if hold == nil {
			return reservationdomain.ErrReservationNotFound
		}

		switch hold.Status {
		case reservationdomain.StatusCommitted:
			debit, err := s.findTransactionByKey(ctx, tx, userID, hold.IdempotencyKey)
			if err != nil {
				return err
			}
			if debit == nil {
				return s.storageErr("commit_replay", gorm.ErrRecordNotFound)
			}
			result = &reservationdomain.CommitResult{
				Reservation: *hold,
				Transaction: *debit,
				NewBalance:  debit.BalanceAfter,
				Replayed:    true,
			}
			return nil
		case reservationdomain.StatusReleased:
			return reservationdomain.ErrReservationNotFound
		case reservationdomain.StatusExpired:
			return reservationdomain.ErrReservationExpired
		}

		now := s.clock.Now()
		if !hold.ExpiresAt.After(now) {
			// Overdue but not yet swept. The sweep persists the expired
			// status; the caller sees the same outcome either way.
			return reservationdomain.ErrReservationExpired
		}

		if err := s.casStatus(ctx, tx, hold.ID, reservationdomain.StatusCommitted, now); err != nil {
			return err
		}

		account, err := s.loadAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account.Balance < hold.Amount {
			// The hold guarantees funds; a shortfall means a concurrent
			// writer slipped between reads.
			return ledgerdomain.ErrConcurrencyConflict
		}

		newBalance := account.Balance - hold.Amount
		if err := s.applyBalance(ctx, tx, account, newBalance); err != nil {
			return err
		}

		debit := ledgerdomain.Transaction{
			ID:             s.genID.Generate(),
			UserID:         userID,
			IdempotencyKey: hold.IdempotencyKey,
			Kind:           ledgerdomain.KindDebit,
			Amount:         -hold.Amount,
			ToolID:         hold.ToolID,
			Description:    hold.Description,
			BalanceAfter:   newBalance,
			Metadata:       hold.Metadata,
			CreatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&debit).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrConcurrencyConflict
			}
			return s.storageErr("insert_commit_debit", err)
		}

		hold.Status = reservationdomain.StatusCommitted
		hold.UpdatedAt = now
		result = &reservationdomain.CommitResult{
			Reservation: *hold,
			Transaction: debit,
			NewBalance:  newBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) tryRelease(ctx context.Context, userID string, id snowflake.ID) (*reservationdomain.Reservation, bool, error) {
	var released *reservationdomain.Reservation
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hold, err := s.findByID(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if hold == nil {
			return reservationdomain.ErrReservationNotFound
		}

		switch hold.Status {
		case reservationdomain.StatusReleased, reservationdomain.StatusExpired:
			released = hold
			return nil
		case reservationdomain.StatusCommitted:
			return reservationdomain.ErrReservationCommitted
		}

		now := s.clock.Now()
		target := reservationdomain.StatusReleased
		if !hold.ExpiresAt.After(now) {
			target = reservationdomain.StatusExpired
		}
		if err := s.casStatus(ctx, tx, hold.ID, target, now); err != nil {
			return err
		}

		hold.Status = target
		hold.UpdatedAt = now
		released = hold
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return released, changed, nil
}

// casStatus performs the single-winner transition out of active.
func (s *Service) casStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, to reservationdomain.ReservationStatus, now time.Time) error {
	res := tx.WithContext(ctx).Model(&reservationdomain.Reservation{}).
		Where("id = ? AND status = ?", id, reservationdomain.StatusActive).
		Updates(map[string]any{
			"status":     to,
			"updated_at": now,
		})
	if res.Error != nil {
		return s.storageErr("cas_status", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledgerdomain.ErrConcurrencyConflict
	}
	return nil
}

func (s *Service) findByID(ctx context.Context, tx *gorm.DB, userID string, id snowflake.ID) (*reservationdomain.Reservation, error) {
	var hold reservationdomain.Reservation
	err := tx.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, s.storageErr("find_reservation", err)
	}
	return &hold, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, tx *gorm.DB, userID, key string) (*reservationdomain.Reservation, error) {
	var hold reservationdomain.Reservation
	err := tx.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key).First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, s.storageErr("find_reservation_key", err)
	}
	return &hold, nil
}

func (s *Service) findTransactionByKey(ctx context.Context, tx *gorm.DB, userID, key string) (*ledgerdomain.Transaction, error) {
	var record ledgerdomain.Transaction
	err := tx.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, s.storageErr("find_transaction", err)
	}
	return &record, nil
}

func (s *Service) loadAccount(ctx context.Context, tx *gorm.DB, userID string) (*ledgerdomain.Account, error) {
	var account ledgerdomain.Account
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		return nil, s.storageErr("load_account", err)
	}
	return &account, nil
}

func (s *Service) activeHolds(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM reservations
		 WHERE user_id = ? AND status = ? AND expires_at > ?`,
		userID,
		reservationdomain.StatusActive,
		s.clock.Now(),
	).Scan(&total).Error
	if err != nil {
		return 0, s.storageErr("active_holds", err)
	}
	return total, nil
}

func (s *Service) bumpVersion(ctx context.Context, tx *gorm.DB, account *ledgerdomain.Account) error {
	res := tx.WithContext(ctx).Model(&ledgerdomain.Account{}).
		Where("user_id = ? AND version = ?", account.UserID, account.Version).
		Updates(map[string]any{
			"version":    account.Version + 1,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return s.storageErr("bump_version", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledgerdomain.ErrConcurrencyConflict
	}
	return nil
}

func (s *Service) applyBalance(ctx context.Context, tx *gorm.DB, account *ledgerdomain.Account, newBalance int64) error {
	res := tx.WithContext(ctx).Model(&ledgerdomain.Account{}).
		Where("user_id = ? AND version = ?", account.UserID, account.Version).
		Updates(map[string]any{
			"balance":    newBalance,
			"version":    account.Version + 1,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return s.storageErr("apply_balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledgerdomain.ErrConcurrencyConflict
	}
	return nil
}

func (s *Service) ttl() time.Duration {
	if s.cfg.ReservationTTL > 0 {
		return s.cfg.ReservationTTL
	}
	return 15 * time.Minute
}

func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, storageTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !errors.Is(err, ledgerdomain.ErrConcurrencyConflict) {
			return err
		}

		s.obsMetrics.RecordConflictRetry(ctx, op)
		s.log.Debug("retrying after concurrency conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
		)
		if err := sleepBackoff(ctx, attempt); err != nil {
			return ledgerdomain.ErrStorageUnavailable
		}
	}
	s.log.Warn("operation exhausted concurrency retries", zap.String("op", op))
	return ledgerdomain.ErrStorageUnavailable
}

func (s *Service) storageErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("storage call timed out", zap.String("op", op), zap.Error(err))
		return ledgerdomain.ErrStorageUnavailable
	}
	s.log.Error("storage call failed", zap.String("op", op), zap.Error(err))
	return ledgerdomain.ErrStorageUnavailable
}

func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(attempt+1) * 25 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(base + jitter):
		return nil
	}
}
