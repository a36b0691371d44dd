package database

import (
	"github.com/MarcoPoloResearchLab/convoy/backend/internal/convoys"
	"github.com/go-gormigrate/gormigrate/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationsTableName               = "db_migrations"
	migrationCreateConvoySchema       = "2026-10-01_create_convoys_and_vehicles"
	migrationNormalizeRegistrations   = "2026-10-08_normalize_registration_numbers"
	migrationIndexVehicleCurrentState = "2026-10-08_index_vehicle_current_status"
)

func migrationOptions() *gormigrate.Options {
	options := *gormigrate.DefaultOptions
	options.TableName = migrationsTableName
	options.IDColumnName = "name"
	options.IDColumnSize = 190
	options.UseTransaction = false
	return &options
}

func migrationDefinitions() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: migrationCreateConvoySchema,
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&convoys.Convoy{}, &convoys.Vehicle{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&convoys.Vehicle{}, &convoys.Convoy{})
			},
		},
		{
			ID:      migrationNormalizeRegistrations,
			Migrate: normalizeRegistrationNumbers,
		},
		{
			ID: migrationIndexVehicleCurrentState,
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_vehicles_current_status ON vehicles (current_status)").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_vehicles_current_status").Error
			},
		},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	log := loggerOrNop(logger)
	definitions := migrationDefinitions()
	for _, definition := range definitions {
		migrate := definition.Migrate
		name := definition.ID
		definition.Migrate = func(tx *gorm.DB) error {
			if err := migrate(tx); err != nil {
				return err
			}
			log.Info("database migration applied", zap.String("migration", name))
			return nil
		}
	}
	return gormigrate.New(db, migrationOptions(), definitions).Migrate()
}

// normalizeRegistrationNumbers brings rows written by other tools into the canonical
// form used for uniqueness checks.
func normalizeRegistrationNumbers(tx *gorm.DB) error {
	return tx.Model(&convoys.Vehicle{}).
		Where("registration_number <> UPPER(TRIM(registration_number))").
		Update("registration_number", gorm.Expr("UPPER(TRIM(registration_number))")).Error
}
