package migration

import (
	"strings"

	auditdomain "github.com/mestredigital/creditos/internal/audit/domain"
	"github.com/mestredigital/creditos/internal/config"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	reservationdomain "github.com/mestredigital/creditos/internal/reservation/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres dialects (sqlite for local work, mysql) get the
		// schema from the models directly.
		return conn.AutoMigrate(
			&ledgerdomain.Account{},
			&ledgerdomain.Transaction{},
			&reservationdomain.Reservation{},
			&auditdomain.AuditLog{},
		)
	}),
)
