package convoys

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `label:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `label:"lon" validate:"gte=-180,lte=180"`
}

// Location is a coordinate pair with a human-readable place name.
type Location struct {
	Coordinates
	Place string `label:"place" validate:"max=255"`
}

// ConvoyInput is the create-or-merge request. Source, Destination and Priority are
// required only when the convoy does not exist yet.
type ConvoyInput struct {
	Name        string         `label:"convoy_name" validate:"required,max=190"`
	Source      *Location      `label:"source"`
	Destination *Location      `label:"destination"`
	Priority    Priority       `label:"priority" validate:"omitempty,oneof=critical high medium low"`
	Vehicles    []VehicleInput `label:"vehicles" validate:"required,min=1,dive"`
}

// VehicleInput carries the fields a client supplies for one vehicle.
type VehicleInput struct {
	VehicleType        VehicleType   `label:"vehicle_type" validate:"required,oneof=truck van jeep ambulance tanker"`
	RegistrationNumber string        `label:"registration_number" validate:"required,max=64"`
	LoadType           LoadType      `label:"load_type" validate:"required,oneof=medical supplies ammunition fuel personnel"`
	LoadWeightKg       float64       `label:"load_weight_kg" validate:"gt=0"`
	CapacityKg         float64       `label:"capacity_kg" validate:"gt=0"`
	DriverName         string        `label:"driver_name" validate:"required,max=190"`
	CurrentStatus      VehicleStatus `label:"current_status" validate:"omitempty,oneof=idle en_route at_checkpoint completed breakdown pending"`
	Source             *Coordinates  `label:"source"`
	Destination        *Coordinates  `label:"destination"`
}

// ParseKilograms converts a client-supplied weight into a positive number of kilograms.
func ParseKilograms(field, raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, newServiceError(opParseKilograms, reasonInvalidInput, fmt.Sprintf("%s is required", field), ErrValidation, nil)
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0, newServiceError(opParseKilograms, reasonInvalidInput, fmt.Sprintf("%s must be a positive number", field), ErrValidation, nil)
	}
	return value, nil
}

func newInputValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if label := field.Tag.Get("label"); label != "" {
			return label
		}
		return field.Name
	})
	return validate
}

func normalizeConvoyInput(input ConvoyInput) ConvoyInput {
	normalized := ConvoyInput{
		Name:     strings.TrimSpace(input.Name),
		Priority: Priority(strings.ToLower(strings.TrimSpace(string(input.Priority)))),
		Vehicles: make([]VehicleInput, 0, len(input.Vehicles)),
	}
	if input.Source != nil {
		source := *input.Source
		source.Place = strings.TrimSpace(source.Place)
		normalized.Source = &source
	}
	if input.Destination != nil {
		destination := *input.Destination
		destination.Place = strings.TrimSpace(destination.Place)
		normalized.Destination = &destination
	}
	for _, vehicle := range input.Vehicles {
		normalized.Vehicles = append(normalized.Vehicles, normalizeVehicleInput(vehicle))
	}
	return normalized
}

func normalizeVehicleInput(input VehicleInput) VehicleInput {
	normalized := input
	normalized.VehicleType = VehicleType(strings.ToLower(strings.TrimSpace(string(input.VehicleType))))
	normalized.RegistrationNumber = NormalizeRegistration(input.RegistrationNumber)
	normalized.LoadType = LoadType(strings.ToLower(strings.TrimSpace(string(input.LoadType))))
	normalized.DriverName = strings.TrimSpace(input.DriverName)
	normalized.CurrentStatus = VehicleStatus(strings.ToLower(strings.TrimSpace(string(input.CurrentStatus))))
	return normalized
}

// NormalizeRegistration returns the canonical form used for storage and uniqueness checks.
func NormalizeRegistration(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// validateStruct runs the struct validator and folds failures into one validation error.
func validateStruct(validate *validator.Validate, operation string, value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return newValidationError(operation, err.Error())
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		messages = append(messages, describeFieldError(fieldError))
	}
	return newValidationError(operation, strings.Join(messages, "; "))
}

func describeFieldError(fieldError validator.FieldError) string {
	field := fieldPath(fieldError.Namespace())
	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fieldError.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be a positive number", field)
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", field)
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fieldError.Param())
	case "min":
		return fmt.Sprintf("%s requires at least %s entries", field, fieldError.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if index := strings.Index(namespace, "."); index >= 0 {
		namespace = namespace[index+1:]
	}
	return strings.ReplaceAll(namespace, "Coordinates.", "")
}

func duplicateRegistrations(vehicles []VehicleInput) []string {
	seen := make(map[string]struct{}, len(vehicles))
	duplicates := make([]string, 0)
	for _, vehicle := range vehicles {
		if _, exists := seen[vehicle.RegistrationNumber]; exists {
			duplicates = append(duplicates, vehicle.RegistrationNumber)
			continue
		}
		seen[vehicle.RegistrationNumber] = struct{}{}
	}
	return duplicates
}
