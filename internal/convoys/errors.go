package convoys

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrValidation marks missing or malformed input.
	ErrValidation = errors.New("convoys: validation failed")
	// ErrDuplicateRegistration marks a registration number that is already in use.
	ErrDuplicateRegistration = errors.New("convoys: duplicate registration number")
	// ErrNotFound marks an unknown convoy identifier.
	ErrNotFound = errors.New("convoys: convoy not found")
	// ErrMetadataConflict marks a merge that supplied metadata differing from the stored convoy.
	ErrMetadataConflict = errors.New("convoys: conflicting convoy metadata")
	// ErrStore marks an unexpected database failure.
	ErrStore = errors.New("convoys: store failure")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceError carries an operation-scoped code, a client-safe detail message and the
// sentinel describing its category.
type ServiceError struct {
	code   string
	detail string
	kind   error
	cause  error
}

func (e *ServiceError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.code, e.detail)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.detail, e.cause)
}

// Unwrap exposes both the category sentinel and the underlying cause to errors.Is.
func (e *ServiceError) Unwrap() []error {
	wrapped := make([]error, 0, 2)
	if e.kind != nil {
		wrapped = append(wrapped, e.kind)
	}
	if e.cause != nil {
		wrapped = append(wrapped, e.cause)
	}
	return wrapped
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

// Detail returns the message safe to surface to clients.
func (e *ServiceError) Detail() string {
	return e.detail
}

const (
	opServiceNew     = "convoys.service.new"
	opCreateOrMerge  = "convoys.create_or_merge"
	opAddVehicle     = "convoys.add_vehicle"
	opListConvoys    = "convoys.list_convoys"
	opGetConvoy      = "convoys.get_convoy"
	opDeleteConvoy   = "convoys.delete_convoy"
	opListVehicles   = "convoys.list_vehicles"
	opParseKilograms = "convoys.parse_kilograms"
)

const (
	reasonMissingDatabase       = "missing_database"
	reasonInvalidInput          = "invalid_input"
	reasonDuplicateRegistration = "duplicate_registration"
	reasonNotFound              = "not_found"
	reasonMetadataConflict      = "metadata_conflict"
	reasonQueryFailed           = "query_failed"
	reasonInsertFailed          = "insert_failed"
	reasonUpdateFailed          = "update_failed"
	reasonDeleteFailed          = "delete_failed"
)

func newServiceError(operation, reason, detail string, kind, cause error) *ServiceError {
	return &ServiceError{
		code:   fmt.Sprintf("%s.%s", operation, reason),
		detail: detail,
		kind:   kind,
		cause:  cause,
	}
}

func newValidationError(operation, detail string) *ServiceError {
	return newServiceError(operation, reasonInvalidInput, detail, ErrValidation, nil)
}

func newDuplicateRegistrationError(operation string, registrations []string) *ServiceError {
	detail := fmt.Sprintf("registration number already exists: %s", strings.Join(registrations, ", "))
	return newServiceError(operation, reasonDuplicateRegistration, detail, ErrDuplicateRegistration, nil)
}

func newNotFoundError(operation string, convoyID uint) *ServiceError {
	return newServiceError(operation, reasonNotFound, fmt.Sprintf("convoy %d not found", convoyID), ErrNotFound, nil)
}

func newStoreError(operation, reason string, cause error) *ServiceError {
	return newServiceError(operation, reason, "internal store error", ErrStore, cause)
}

// isUniqueViolation reports whether the store rejected a write on a unique index.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
