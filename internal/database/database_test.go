package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/convoy/backend/internal/convoys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type migrationRecord struct {
	Name string `gorm:"column:name"`
}

func TestOpenSQLiteAppliesMigrationsOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "convoy.db")
	core, logs := observer.New(zapcore.InfoLevel)

	db, err := OpenSQLite(databasePath, zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if !db.Migrator().HasTable(&convoys.Convoy{}) || !db.Migrator().HasTable(&convoys.Vehicle{}) {
		testContext.Fatalf("expected convoy tables to exist")
	}

	var records []migrationRecord
	if err := db.Table(migrationsTableName).Order("name").Find(&records).Error; err != nil {
		testContext.Fatalf("failed to read migration records: %v", err)
	}
	if len(records) != len(migrationDefinitions()) {
		testContext.Fatalf("expected %d migration records, got %d", len(migrationDefinitions()), len(records))
	}
	if applied := logs.FilterMessage("database migration applied").Len(); applied != len(migrationDefinitions()) {
		testContext.Fatalf("expected one log entry per migration, got %d", applied)
	}

	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	core, logs = observer.New(zapcore.InfoLevel)
	reopened, err := OpenSQLite(databasePath, zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to reopen sqlite: %v", err)
	}
	defer func() {
		sqlDB, _ := reopened.DB()
		_ = sqlDB.Close()
	}()
	if applied := logs.FilterMessage("database migration applied").Len(); applied != 0 {
		testContext.Fatalf("expected no migrations on reopen, got %d", applied)
	}
}

func TestOpenSQLiteCascadesVehicleDeletes(testContext *testing.T) {
	db, err := OpenSQLite(filepath.Join(testContext.TempDir(), "cascade.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	}()

	now := time.Unix(1700000000, 0).UTC()
	convoy := convoys.Convoy{Name: "Alpha", Priority: convoys.PriorityHigh, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&convoy).Error; err != nil {
		testContext.Fatalf("failed to insert convoy: %v", err)
	}
	vehicle := convoys.Vehicle{
		ConvoyID:           convoy.ID,
		RegistrationNumber: "DL-01-AB-1234",
		VehicleType:        convoys.VehicleTypeTruck,
		LoadType:           convoys.LoadTypeFuel,
		LoadWeightKg:       500,
		CapacityKg:         1000,
		DriverName:         "R. Singh",
		CurrentStatus:      convoys.VehicleStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := db.Create(&vehicle).Error; err != nil {
		testContext.Fatalf("failed to insert vehicle: %v", err)
	}

	if err := db.Exec("DELETE FROM convoys WHERE id = ?", convoy.ID).Error; err != nil {
		testContext.Fatalf("failed to delete convoy: %v", err)
	}
	var remaining int64
	if err := db.Model(&convoys.Vehicle{}).Count(&remaining).Error; err != nil {
		testContext.Fatalf("failed to count vehicles: %v", err)
	}
	if remaining != 0 {
		testContext.Fatalf("expected cascade to remove vehicles, got %d", remaining)
	}

	orphan := vehicle
	orphan.ID = 0
	orphan.ConvoyID = convoy.ID + 100
	orphan.RegistrationNumber = "DL-01-AB-9999"
	if err := db.Create(&orphan).Error; err == nil {
		testContext.Fatalf("expected foreign key violation for unknown convoy")
	}
}

func TestNormalizeRegistrationNumbersMigration(testContext *testing.T) {
	db, err := OpenSQLite(filepath.Join(testContext.TempDir(), "normalize.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	}()

	now := time.Unix(1700000000, 0).UTC()
	convoy := convoys.Convoy{Name: "Alpha", Priority: convoys.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&convoy).Error; err != nil {
		testContext.Fatalf("failed to insert convoy: %v", err)
	}
	if err := db.Exec(
		"INSERT INTO vehicles (convoy_id, registration_number, vehicle_type, load_type, load_weight_kg, capacity_kg, driver_name, current_status, source_lat, source_lon, destination_lat, destination_lon, created_at, updated_at) VALUES (?, ?, 'van', 'supplies', 1, 2, 'D', 'idle', 0, 0, 0, 0, ?, ?)",
		convoy.ID, " dl-05-xx-0001 ", now, now,
	).Error; err != nil {
		testContext.Fatalf("failed to insert raw vehicle: %v", err)
	}

	if err := normalizeRegistrationNumbers(db); err != nil {
		testContext.Fatalf("normalize failed: %v", err)
	}
	var stored convoys.Vehicle
	if err := db.Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload vehicle: %v", err)
	}
	if stored.RegistrationNumber != "DL-05-XX-0001" {
		testContext.Fatalf("expected normalized registration, got %q", stored.RegistrationNumber)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}); err == nil {
		testContext.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(Options{Driver: DriverPostgres}); err == nil {
		testContext.Fatalf("expected error for missing postgres dsn")
	}
	if _, err := Open(Options{Driver: DriverSQLite}); err == nil {
		testContext.Fatalf("expected error for missing sqlite path")
	}
}

func TestSQLiteDSNAddsForeignKeyPragma(testContext *testing.T) {
	testCases := map[string]string{
		"convoy.db":                         "convoy.db?_pragma=foreign_keys(1)",
		"file:convoy.db?cache=shared":       "file:convoy.db?cache=shared&_pragma=foreign_keys(1)",
		"convoy.db?_pragma=foreign_keys(1)": "convoy.db?_pragma=foreign_keys(1)",
	}
	for input, want := range testCases {
		if got := sqliteDSN(input); got != want {
			testContext.Fatalf("sqliteDSN(%q) = %q, want %q", input, got, want)
		}
	}
}
