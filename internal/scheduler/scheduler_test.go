package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mestredigital/creditos/internal/clock"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSweepTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:sweep_test_%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&reservationdomain.Reservation{}))
	return db
}

func insertHold(t *testing.T, db *gorm.DB, node *snowflake.Node, userID string, status reservationdomain.ReservationStatus, expiresAt time.Time) snowflake.ID {
	t.Helper()
	hold := reservationdomain.Reservation{
		ID:             node.Generate(),
		UserID:         userID,
		IdempotencyKey: "hold-" + node.Generate().String(),
		Amount:         10,
		Status:         status,
		ExpiresAt:      expiresAt,
		CreatedAt:      expiresAt.Add(-15 * time.Minute),
		UpdatedAt:      expiresAt.Add(-15 * time.Minute),
	}
	require.NoError(t, db.Create(&hold).Error)
	return hold.ID
}

func statusOf(t *testing.T, db *gorm.DB, id snowflake.ID) reservationdomain.ReservationStatus {
	t.Helper()
	var record reservationdomain.Reservation
	require.NoError(t, db.Where("id = ?", id).First(&record).Error)
	return record.Status
}

func TestRunOnce_ExpiresOnlyOverdueActiveHolds(t *testing.T) {
	db := newSweepTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)

	// BatchSize 2 forces the sweep to loop over several batches.
	sweep, err := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Config: Config{BatchSize: 2},
	})
	require.NoError(t, err)

	overdue := []snowflake.ID{
		insertHold(t, db, node, "user-1", reservationdomain.StatusActive, start.Add(-1*time.Minute)),
		insertHold(t, db, node, "user-1", reservationdomain.StatusActive, start.Add(-2*time.Minute)),
		insertHold(t, db, node, "user-2", reservationdomain.StatusActive, start.Add(-3*time.Minute)),
	}
	future := insertHold(t, db, node, "user-2", reservationdomain.StatusActive, start.Add(10*time.Minute))
	released := insertHold(t, db, node, "user-3", reservationdomain.StatusReleased, start.Add(-5*time.Minute))
	committed := insertHold(t, db, node, "user-3", reservationdomain.StatusCommitted, start.Add(-5*time.Minute))

	require.NoError(t, sweep.RunOnce(context.Background()))

	for _, id := range overdue {
		assert.Equal(t, reservationdomain.StatusExpired, statusOf(t, db, id))
	}
	assert.Equal(t, reservationdomain.StatusActive, statusOf(t, db, future))
	assert.Equal(t, reservationdomain.StatusReleased, statusOf(t, db, released))
	assert.Equal(t, reservationdomain.StatusCommitted, statusOf(t, db, committed))

	// Once its deadline passes, the remaining hold is swept too.
	clk.Advance(11 * time.Minute)
	require.NoError(t, sweep.RunOnce(context.Background()))
	assert.Equal(t, reservationdomain.StatusExpired, statusOf(t, db, future))
}

func TestRunOnce_NoOverdueHoldsIsANoOp(t *testing.T) {
	db := newSweepTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)

	sweep, err := New(Params{DB: db, Log: zap.NewNop(), Clock: clk})
	require.NoError(t, err)

	id := insertHold(t, db, node, "user-1", reservationdomain.StatusActive, start.Add(5*time.Minute))
	require.NoError(t, sweep.RunOnce(context.Background()))
	assert.Equal(t, reservationdomain.StatusActive, statusOf(t, db, id))
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop(), Clock: clock.NewSystem()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
