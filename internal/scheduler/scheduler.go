// Package scheduler runs the background sweep that expires overdue
// reservations. The sweep is safe to run concurrently with commit and
// release: the status transition out of active has a single winner.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mestredigital/creditos/internal/audit/domain"
	"github.com/mestredigital/creditos/internal/auditcontext"
	"github.com/mestredigital/creditos/internal/clock"
	obsmetrics "github.com/mestredigital/creditos/internal/observability/metrics"
	"github.com/mestredigital/creditos/internal/ratelimit"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepLockKey = "credits:sweep:reservations"

var ErrInvalidConfig = errors.New("scheduler: missing dependencies")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")

	// The lock keeps replicas from sweeping the same rows at once. It is
	// an optimization only: the CAS keeps concurrent sweeps correct.
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("sweep lock unavailable, proceeding unlocked", zap.Error(err))
		} else if !ok {
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(ctx, sweepLockKey, token); err != nil {
					s.log.Warn("failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	return s.ExpireReservationsJob(ctx)
}

// ExpireReservationsJob expires overdue active holds in batches until none
// remain.
func (s *Scheduler) ExpireReservationsJob(ctx context.Context) error {
	now := s.clock.Now()
	var total int64

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		expired, err := s.expireBatch(ctx, now)
		if err != nil {
			return err
		}
		total += expired
		if expired == 0 {
			break
		}
	}

	if total > 0 {
		s.obsMetrics.RecordReservationsExpired(ctx, total)
		s.log.Info("expired overdue reservations",
			zap.Int64("count", total),
			zap.Time("as_of", now),
		)
	}
	return nil
}

func (s *Scheduler) expireBatch(ctx context.Context, now time.Time) (int64, error) {
	var expired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		overdue, err := s.claimOverdue(ctx, tx, now)
		if err != nil {
			return err
		}
		if len(overdue) == 0 {
			return nil
		}

		res := tx.WithContext(ctx).Model(&reservationdomain.Reservation{}).
			Where("id IN ? AND status = ?", overdue, reservationdomain.StatusActive).
			Updates(map[string]any{
				"status":     reservationdomain.StatusExpired,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// claimOverdue locks a batch of overdue holds so concurrent sweep replicas
// pick disjoint rows.
func (s *Scheduler) claimOverdue(ctx context.Context, tx *gorm.DB, now time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM reservations
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		reservationdomain.StatusActive,
		now,
		s.cfg.BatchSize,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
