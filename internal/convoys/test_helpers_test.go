package convoys

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseSequence atomic.Int64

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:convoy_test_%d_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)",
		time.Now().UnixNano(), testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&Convoy{}, &Vehicle{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    steppingClock(time.Unix(1700000000, 0).UTC()),
	})
	if err != nil {
		t.Fatalf("failed to construct convoys service: %v", err)
	}
	return service, db
}

// steppingClock advances one second per call so ordering by created_at is deterministic.
func steppingClock(start time.Time) func() time.Time {
	var calls atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(calls.Add(1)) * time.Second)
	}
}

func alphaInput(vehicles ...VehicleInput) ConvoyInput {
	return ConvoyInput{
		Name:        "Alpha",
		Source:      &Location{Coordinates: Coordinates{Lat: 28.6139, Lon: 77.2090}, Place: "Delhi"},
		Destination: &Location{Coordinates: Coordinates{Lat: 34.0837, Lon: 74.7973}, Place: "Srinagar"},
		Priority:    PriorityHigh,
		Vehicles:    vehicles,
	}
}

func truckInput(registration string, load, capacity float64) VehicleInput {
	return VehicleInput{
		VehicleType:        VehicleTypeTruck,
		RegistrationNumber: registration,
		LoadType:           LoadTypeSupplies,
		LoadWeightKg:       load,
		CapacityKg:         capacity,
		DriverName:         "R. Singh",
	}
}

func ambulanceInput(registration string, load, capacity float64) VehicleInput {
	return VehicleInput{
		VehicleType:        VehicleTypeAmbulance,
		RegistrationNumber: registration,
		LoadType:           LoadTypeMedical,
		LoadWeightKg:       load,
		CapacityKg:         capacity,
		DriverName:         "A. Khan",
		CurrentStatus:      VehicleStatusIdle,
	}
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	statement := db.Model(model)
	if query != "" {
		statement = statement.Where(query, args...)
	}
	if err := statement.Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
