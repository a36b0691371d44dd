package convoys

import "time"

// Priority ranks how urgently a convoy must move.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// VehicleType enumerates the transport units a convoy can carry.
type VehicleType string

const (
	VehicleTypeTruck     VehicleType = "truck"
	VehicleTypeVan       VehicleType = "van"
	VehicleTypeJeep      VehicleType = "jeep"
	VehicleTypeAmbulance VehicleType = "ambulance"
	VehicleTypeTanker    VehicleType = "tanker"
)

// LoadType enumerates cargo categories.
type LoadType string

const (
	LoadTypeMedical    LoadType = "medical"
	LoadTypeSupplies   LoadType = "supplies"
	LoadTypeAmmunition LoadType = "ammunition"
	LoadTypeFuel       LoadType = "fuel"
	LoadTypePersonnel  LoadType = "personnel"
)

// VehicleStatus describes where a vehicle is in its trip.
type VehicleStatus string

const (
	VehicleStatusIdle         VehicleStatus = "idle"
	VehicleStatusEnRoute      VehicleStatus = "en_route"
	VehicleStatusAtCheckpoint VehicleStatus = "at_checkpoint"
	VehicleStatusCompleted    VehicleStatus = "completed"
	VehicleStatusBreakdown    VehicleStatus = "breakdown"
	VehicleStatusPending      VehicleStatus = "pending"
)

// Convoy is a named logistics operation moving vehicles from a source to a destination.
// Vehicle counts and load totals are never stored; see ConvoySummary.
type Convoy struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name             string    `gorm:"column:convoy_name;size:190;not null;uniqueIndex:idx_convoys_name"`
	SourceLat        float64   `gorm:"column:source_lat;not null"`
	SourceLon        float64   `gorm:"column:source_lon;not null"`
	SourcePlace      string    `gorm:"column:source_place;size:255;not null;default:''"`
	DestinationLat   float64   `gorm:"column:destination_lat;not null"`
	DestinationLon   float64   `gorm:"column:destination_lon;not null"`
	DestinationPlace string    `gorm:"column:destination_place;size:255;not null;default:''"`
	Priority         Priority  `gorm:"column:priority;size:16;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index:idx_convoys_created"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Convoy) TableName() string {
	return "convoys"
}

// Vehicle is a transport unit owned by exactly one convoy.
type Vehicle struct {
	ID                 uint          `gorm:"column:id;primaryKey;autoIncrement"`
	ConvoyID           uint          `gorm:"column:convoy_id;not null;index:idx_vehicles_convoy"`
	Convoy             *Convoy       `gorm:"foreignKey:ConvoyID;references:ID;constraint:OnDelete:CASCADE"`
	RegistrationNumber string        `gorm:"column:registration_number;size:64;not null;uniqueIndex:idx_vehicles_registration"`
	VehicleType        VehicleType   `gorm:"column:vehicle_type;size:16;not null"`
	LoadType           LoadType      `gorm:"column:load_type;size:16;not null"`
	LoadWeightKg       float64       `gorm:"column:load_weight_kg;not null"`
	CapacityKg         float64       `gorm:"column:capacity_kg;not null"`
	DriverName         string        `gorm:"column:driver_name;size:190;not null"`
	CurrentStatus      VehicleStatus `gorm:"column:current_status;size:16;not null;default:'pending'"`
	SourceLat          float64       `gorm:"column:source_lat;not null"`
	SourceLon          float64       `gorm:"column:source_lon;not null"`
	DestinationLat     float64       `gorm:"column:destination_lat;not null"`
	DestinationLon     float64       `gorm:"column:destination_lon;not null"`
	CreatedAt          time.Time     `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time     `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vehicle) TableName() string {
	return "vehicles"
}

// Aggregates are computed from the vehicles a convoy currently owns.
type Aggregates struct {
	VehicleCount int64   `gorm:"column:vehicle_count"`
	TotalLoadKg  float64 `gorm:"column:total_load_kg"`
}

// ConvoySummary pairs a convoy with its read-time aggregates.
type ConvoySummary struct {
	Convoy
	Aggregates
}

// ConvoyDetail is a convoy with its full vehicle list.
type ConvoyDetail struct {
	ConvoySummary
	Vehicles []Vehicle
}

// CreateStatus reports which branch a create-or-merge request took.
type CreateStatus string

const (
	CreateStatusCreated CreateStatus = "created"
	CreateStatusMerged  CreateStatus = "merged"
)

// CreateResult describes the outcome of CreateOrMergeConvoy.
type CreateResult struct {
	Status        CreateStatus
	VehiclesAdded int
	Convoy        ConvoySummary
}

func aggregateVehicles(vehicles []Vehicle) Aggregates {
	aggregates := Aggregates{VehicleCount: int64(len(vehicles))}
	for _, vehicle := range vehicles {
		aggregates.TotalLoadKg += vehicle.LoadWeightKg
	}
	return aggregates
}
