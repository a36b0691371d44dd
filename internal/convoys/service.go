package convoys

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnConvoyID           = "convoy_id"
	columnRegistrationNumber = "registration_number"
	queryConvoyName          = "convoy_name = ?"
	queryConvoyID            = columnConvoyID + " = ?"
	queryRegistrationIn      = columnRegistrationNumber + " IN ?"
	coordinateTolerance      = 1e-9
	selectVehicleAggregates  = "COUNT(*) AS vehicle_count, COALESCE(SUM(load_weight_kg), 0.0) AS total_load_kg"
	selectConvoySummaries    = "convoys.*, COUNT(vehicles.id) AS vehicle_count, COALESCE(SUM(vehicles.load_weight_kg), 0.0) AS total_load_kg"
	joinOwnedVehicles        = "LEFT JOIN vehicles ON vehicles.convoy_id = convoys.id"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the convoy service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service implements the convoy and vehicle lifecycle on top of a gorm store.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	logger   *zap.Logger
	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, "database handle is required", ErrStore, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:       cfg.Database,
		clock:    clock,
		logger:   logger,
		validate: newInputValidator(),
	}, nil
}

// CreateOrMergeConvoy creates the named convoy with the supplied vehicles, or attaches the
// vehicles to the existing convoy of that name. All vehicles are written or none are.
func (s *Service) CreateOrMergeConvoy(ctx context.Context, input ConvoyInput) (CreateResult, error) {
	if err := s.requireDatabase(opCreateOrMerge); err != nil {
		return CreateResult{}, err
	}

	normalized := normalizeConvoyInput(input)
	if err := validateStruct(s.validator(), opCreateOrMerge, normalized); err != nil {
		return CreateResult{}, err
	}
	if duplicates := duplicateRegistrations(normalized.Vehicles); len(duplicates) > 0 {
		return CreateResult{}, newServiceError(opCreateOrMerge, reasonDuplicateRegistration,
			fmt.Sprintf("registration number repeated in request: %s", duplicates[0]), ErrDuplicateRegistration, nil)
	}

	var result CreateResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC()

		existing, found, err := s.findConvoyByName(tx, normalized.Name)
		if err != nil {
			return err
		}
		if !found {
			if err := requireCreateMetadata(normalized); err != nil {
				return err
			}
		} else if err := checkMetadataConflict(existing, normalized); err != nil {
			return err
		}

		if err := s.ensureRegistrationsAvailable(tx, opCreateOrMerge, registrationsOf(normalized.Vehicles)); err != nil {
			return err
		}

		convoy := existing
		status := CreateStatusMerged
		if !found {
			convoy = newConvoy(normalized, now)
			insert := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "convoy_name"}},
				DoNothing: true,
			}).Create(&convoy)
			if insert.Error != nil {
				s.logError(opCreateOrMerge, reasonInsertFailed, insert.Error, zap.String("convoy_name", normalized.Name))
				return newStoreError(opCreateOrMerge, reasonInsertFailed, insert.Error)
			}
			if insert.RowsAffected == 0 {
				// Another writer created the name between lookup and insert.
				convoy, _, err = s.findConvoyByName(tx, normalized.Name)
				if err != nil {
					return err
				}
				if err := checkMetadataConflict(convoy, normalized); err != nil {
					return err
				}
			} else {
				status = CreateStatusCreated
			}
		}

		vehicles := make([]Vehicle, 0, len(normalized.Vehicles))
		for _, vehicleInput := range normalized.Vehicles {
			vehicles = append(vehicles, s.newVehicle(convoy, vehicleInput, now))
		}
		if err := s.insertVehicles(tx, opCreateOrMerge, vehicles); err != nil {
			return err
		}

		if status == CreateStatusMerged {
			if err := s.touchConvoy(tx, opCreateOrMerge, convoy.ID, now); err != nil {
				return err
			}
			convoy.UpdatedAt = now
		}

		aggregates, err := s.aggregatesFor(tx, opCreateOrMerge, convoy.ID)
		if err != nil {
			return err
		}

		result = CreateResult{
			Status:        status,
			VehiclesAdded: len(vehicles),
			Convoy:        ConvoySummary{Convoy: convoy, Aggregates: aggregates},
		}
		return nil
	})
	if txErr != nil {
		return CreateResult{}, txErr
	}

	s.loggerOrDefault().Info("convoy vehicles recorded",
		zap.String("status", string(result.Status)),
		zap.Uint("convoy_id", result.Convoy.ID),
		zap.String("convoy_name", result.Convoy.Name),
		zap.Int("vehicles_added", result.VehiclesAdded))
	return result, nil
}

// AddVehicle attaches a single vehicle to an existing convoy.
func (s *Service) AddVehicle(ctx context.Context, convoyID uint, input VehicleInput) (Vehicle, error) {
	if err := s.requireDatabase(opAddVehicle); err != nil {
		return Vehicle{}, err
	}

	normalized := normalizeVehicleInput(input)
	if err := validateStruct(s.validator(), opAddVehicle, normalized); err != nil {
		return Vehicle{}, err
	}

	var created Vehicle
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convoy, err := s.findConvoyByID(tx, opAddVehicle, convoyID)
		if err != nil {
			return err
		}
		if err := s.ensureRegistrationsAvailable(tx, opAddVehicle, []string{normalized.RegistrationNumber}); err != nil {
			return err
		}

		now := s.clock().UTC()
		vehicles := []Vehicle{s.newVehicle(convoy, normalized, now)}
		if err := s.insertVehicles(tx, opAddVehicle, vehicles); err != nil {
			return err
		}
		if err := s.touchConvoy(tx, opAddVehicle, convoy.ID, now); err != nil {
			return err
		}
		created = vehicles[0]
		return nil
	})
	if txErr != nil {
		return Vehicle{}, txErr
	}

	s.loggerOrDefault().Info("vehicle added",
		zap.Uint("convoy_id", convoyID),
		zap.Uint("vehicle_id", created.ID),
		zap.String("registration_number", created.RegistrationNumber))
	return created, nil
}

// ListConvoys returns every convoy, newest first, with aggregates computed over owned vehicles.
func (s *Service) ListConvoys(ctx context.Context) ([]ConvoySummary, error) {
	if err := s.requireDatabase(opListConvoys); err != nil {
		return nil, err
	}

	summaries := make([]ConvoySummary, 0)
	if err := s.db.WithContext(ctx).
		Table(Convoy{}.TableName()).
		Select(selectConvoySummaries).
		Joins(joinOwnedVehicles).
		Group("convoys.id").
		Order("convoys.created_at DESC, convoys.id DESC").
		Scan(&summaries).Error; err != nil {
		s.logError(opListConvoys, reasonQueryFailed, err)
		return nil, newStoreError(opListConvoys, reasonQueryFailed, err)
	}
	return summaries, nil
}

// GetConvoy returns the convoy and all of its vehicles.
func (s *Service) GetConvoy(ctx context.Context, convoyID uint) (ConvoyDetail, error) {
	if err := s.requireDatabase(opGetConvoy); err != nil {
		return ConvoyDetail{}, err
	}

	db := s.db.WithContext(ctx)
	convoy, err := s.findConvoyByID(db, opGetConvoy, convoyID)
	if err != nil {
		return ConvoyDetail{}, err
	}

	vehicles := make([]Vehicle, 0)
	if err := db.Where(queryConvoyID, convoyID).Order("id ASC").Find(&vehicles).Error; err != nil {
		s.logError(opGetConvoy, reasonQueryFailed, err, zap.Uint("convoy_id", convoyID))
		return ConvoyDetail{}, newStoreError(opGetConvoy, reasonQueryFailed, err)
	}

	return ConvoyDetail{
		ConvoySummary: ConvoySummary{Convoy: convoy, Aggregates: aggregateVehicles(vehicles)},
		Vehicles:      vehicles,
	}, nil
}

// DeleteConvoy removes the convoy and every vehicle it owns.
func (s *Service) DeleteConvoy(ctx context.Context, convoyID uint) error {
	if err := s.requireDatabase(opDeleteConvoy); err != nil {
		return err
	}

	var removedVehicles int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.findConvoyByID(tx, opDeleteConvoy, convoyID); err != nil {
			return err
		}
		vehicleDelete := tx.Where(queryConvoyID, convoyID).Delete(&Vehicle{})
		if vehicleDelete.Error != nil {
			s.logError(opDeleteConvoy, reasonDeleteFailed, vehicleDelete.Error, zap.Uint("convoy_id", convoyID))
			return newStoreError(opDeleteConvoy, reasonDeleteFailed, vehicleDelete.Error)
		}
		removedVehicles = vehicleDelete.RowsAffected
		convoyDelete := tx.Delete(&Convoy{}, convoyID)
		if convoyDelete.Error != nil {
			s.logError(opDeleteConvoy, reasonDeleteFailed, convoyDelete.Error, zap.Uint("convoy_id", convoyID))
			return newStoreError(opDeleteConvoy, reasonDeleteFailed, convoyDelete.Error)
		}
		if convoyDelete.RowsAffected == 0 {
			return newNotFoundError(opDeleteConvoy, convoyID)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.loggerOrDefault().Info("convoy deleted",
		zap.Uint("convoy_id", convoyID),
		zap.Int64("vehicles_removed", removedVehicles))
	return nil
}

// ListVehicles returns every stored vehicle ordered by convoy and id.
func (s *Service) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	if err := s.requireDatabase(opListVehicles); err != nil {
		return nil, err
	}
	vehicles := make([]Vehicle, 0)
	if err := s.db.WithContext(ctx).Order("convoy_id ASC, id ASC").Find(&vehicles).Error; err != nil {
		s.logError(opListVehicles, reasonQueryFailed, err)
		return nil, newStoreError(opListVehicles, reasonQueryFailed, err)
	}
	return vehicles, nil
}

func (s *Service) requireDatabase(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, "database handle is required", ErrStore, errMissingDatabase)
	}
	return nil
}

func (s *Service) validator() *validator.Validate {
	if s.validate == nil {
		s.validate = newInputValidator()
	}
	return s.validate
}

func (s *Service) findConvoyByName(tx *gorm.DB, name string) (Convoy, bool, error) {
	var convoy Convoy
	err := tx.Where(queryConvoyName, name).Take(&convoy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Convoy{}, false, nil
	}
	if err != nil {
		s.logError(opCreateOrMerge, reasonQueryFailed, err, zap.String("convoy_name", name))
		return Convoy{}, false, newStoreError(opCreateOrMerge, reasonQueryFailed, err)
	}
	return convoy, true, nil
}

func (s *Service) findConvoyByID(tx *gorm.DB, operation string, convoyID uint) (Convoy, error) {
	if convoyID == 0 {
		return Convoy{}, newNotFoundError(operation, convoyID)
	}
	var convoy Convoy
	err := tx.Take(&convoy, convoyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Convoy{}, newNotFoundError(operation, convoyID)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Uint("convoy_id", convoyID))
		return Convoy{}, newStoreError(operation, reasonQueryFailed, err)
	}
	return convoy, nil
}

func (s *Service) ensureRegistrationsAvailable(tx *gorm.DB, operation string, registrations []string) error {
	var taken []string
	if err := tx.Model(&Vehicle{}).
		Where(queryRegistrationIn, registrations).
		Order(columnRegistrationNumber).
		Pluck(columnRegistrationNumber, &taken).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return newStoreError(operation, reasonQueryFailed, err)
	}
	if len(taken) > 0 {
		return newDuplicateRegistrationError(operation, taken)
	}
	return nil
}

func (s *Service) insertVehicles(tx *gorm.DB, operation string, vehicles []Vehicle) error {
	if err := tx.Omit("Convoy").Create(&vehicles).Error; err != nil {
		if isUniqueViolation(err) {
			// The store is the arbiter when a concurrent writer registered the same number.
			return newDuplicateRegistrationError(operation, registrationsOfVehicles(vehicles))
		}
		s.logError(operation, reasonInsertFailed, err)
		return newStoreError(operation, reasonInsertFailed, err)
	}
	return nil
}

func (s *Service) touchConvoy(tx *gorm.DB, operation string, convoyID uint, now time.Time) error {
	if err := tx.Model(&Convoy{}).Where("id = ?", convoyID).UpdateColumn("updated_at", now).Error; err != nil {
		s.logError(operation, reasonUpdateFailed, err, zap.Uint("convoy_id", convoyID))
		return newStoreError(operation, reasonUpdateFailed, err)
	}
	return nil
}

func (s *Service) aggregatesFor(tx *gorm.DB, operation string, convoyID uint) (Aggregates, error) {
	var aggregates Aggregates
	if err := tx.Model(&Vehicle{}).
		Select(selectVehicleAggregates).
		Where(queryConvoyID, convoyID).
		Scan(&aggregates).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Uint("convoy_id", convoyID))
		return Aggregates{}, newStoreError(operation, reasonQueryFailed, err)
	}
	return aggregates, nil
}

func (s *Service) newVehicle(convoy Convoy, input VehicleInput, now time.Time) Vehicle {
	status := input.CurrentStatus
	if status == "" {
		status = VehicleStatusPending
	}
	vehicle := Vehicle{
		ConvoyID:           convoy.ID,
		RegistrationNumber: input.RegistrationNumber,
		VehicleType:        input.VehicleType,
		LoadType:           input.LoadType,
		LoadWeightKg:       input.LoadWeightKg,
		CapacityKg:         input.CapacityKg,
		DriverName:         input.DriverName,
		CurrentStatus:      status,
		SourceLat:          convoy.SourceLat,
		SourceLon:          convoy.SourceLon,
		DestinationLat:     convoy.DestinationLat,
		DestinationLon:     convoy.DestinationLon,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if input.Source != nil {
		vehicle.SourceLat = input.Source.Lat
		vehicle.SourceLon = input.Source.Lon
	}
	if input.Destination != nil {
		vehicle.DestinationLat = input.Destination.Lat
		vehicle.DestinationLon = input.Destination.Lon
	}
	if vehicle.LoadWeightKg > vehicle.CapacityKg {
		s.loggerOrDefault().Warn("vehicle load exceeds capacity",
			zap.String("registration_number", vehicle.RegistrationNumber),
			zap.Float64("load_weight_kg", vehicle.LoadWeightKg),
			zap.Float64("capacity_kg", vehicle.CapacityKg))
	}
	return vehicle
}

func newConvoy(input ConvoyInput, now time.Time) Convoy {
	return Convoy{
		Name:             input.Name,
		SourceLat:        input.Source.Lat,
		SourceLon:        input.Source.Lon,
		SourcePlace:      input.Source.Place,
		DestinationLat:   input.Destination.Lat,
		DestinationLon:   input.Destination.Lon,
		DestinationPlace: input.Destination.Place,
		Priority:         input.Priority,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func requireCreateMetadata(input ConvoyInput) error {
	missing := make([]string, 0, 3)
	if input.Source == nil {
		missing = append(missing, "source")
	}
	if input.Destination == nil {
		missing = append(missing, "destination")
	}
	if input.Priority == "" {
		missing = append(missing, "priority")
	}
	if len(missing) == 0 {
		return nil
	}
	return newValidationError(opCreateOrMerge, fmt.Sprintf("new convoy %q requires %v", input.Name, missing))
}

// checkMetadataConflict rejects a merge whose supplied metadata differs from the stored convoy.
// Omitted metadata never conflicts.
func checkMetadataConflict(existing Convoy, input ConvoyInput) error {
	conflicts := make([]string, 0, 3)
	if input.Source != nil && !sameLocation(existing.SourceLat, existing.SourceLon, existing.SourcePlace, *input.Source) {
		conflicts = append(conflicts, "source")
	}
	if input.Destination != nil && !sameLocation(existing.DestinationLat, existing.DestinationLon, existing.DestinationPlace, *input.Destination) {
		conflicts = append(conflicts, "destination")
	}
	if input.Priority != "" && input.Priority != existing.Priority {
		conflicts = append(conflicts, "priority")
	}
	if len(conflicts) == 0 {
		return nil
	}
	detail := fmt.Sprintf("convoy %q already exists with different %v", existing.Name, conflicts)
	return newServiceError(opCreateOrMerge, reasonMetadataConflict, detail, ErrMetadataConflict, nil)
}

func sameLocation(lat, lon float64, place string, candidate Location) bool {
	if math.Abs(lat-candidate.Lat) > coordinateTolerance || math.Abs(lon-candidate.Lon) > coordinateTolerance {
		return false
	}
	return candidate.Place == "" || candidate.Place == place
}

func registrationsOf(vehicles []VehicleInput) []string {
	registrations := make([]string, 0, len(vehicles))
	for _, vehicle := range vehicles {
		registrations = append(registrations, vehicle.RegistrationNumber)
	}
	return registrations
}

func registrationsOfVehicles(vehicles []Vehicle) []string {
	registrations := make([]string, 0, len(vehicles))
	for _, vehicle := range vehicles {
		registrations = append(registrations, vehicle.RegistrationNumber)
	}
	return registrations
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("convoys service error", attrs...)
}
