package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/convoy/backend/internal/convoys"
	"github.com/MarcoPoloResearchLab/convoy/backend/internal/routemap"
	"github.com/paulmach/orb/geojson"
)

var errInvalidNumber = errors.New("value must be a number or a numeric string")

// flexibleNumber accepts either a JSON number or a numeric string and keeps the raw text
// for convoys.ParseKilograms.
type flexibleNumber struct {
	raw string
}

func (n *flexibleNumber) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		n.raw = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		n.raw = text
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return errInvalidNumber
	}
	n.raw = number.String()
	return nil
}

type createConvoyRequestPayload struct {
	ConvoyName       string                  `json:"convoy_name"`
	SourceLat        *float64                `json:"source_lat"`
	SourceLon        *float64                `json:"source_lon"`
	SourcePlace      string                  `json:"source_place"`
	DestinationLat   *float64                `json:"destination_lat"`
	DestinationLon   *float64                `json:"destination_lon"`
	DestinationPlace string                  `json:"destination_place"`
	Priority         string                  `json:"priority"`
	Vehicles         []vehicleRequestPayload `json:"vehicles"`
}

type vehicleRequestPayload struct {
	VehicleType        string         `json:"vehicle_type"`
	RegistrationNumber string         `json:"registration_number"`
	LoadType           string         `json:"load_type"`
	LoadWeightKg       flexibleNumber `json:"load_weight_kg"`
	CapacityKg         flexibleNumber `json:"capacity_kg"`
	DriverName         string         `json:"driver_name"`
	CurrentStatus      string         `json:"current_status"`
	SourceLat          *float64       `json:"source_lat"`
	SourceLon          *float64       `json:"source_lon"`
	DestinationLat     *float64       `json:"destination_lat"`
	DestinationLon     *float64       `json:"destination_lon"`
}

// toInput converts the wire payload; every error it returns maps to 400.
func (p createConvoyRequestPayload) toInput() (convoys.ConvoyInput, error) {
	source, err := optionalLocation("source", p.SourceLat, p.SourceLon, p.SourcePlace)
	if err != nil {
		return convoys.ConvoyInput{}, err
	}
	destination, err := optionalLocation("destination", p.DestinationLat, p.DestinationLon, p.DestinationPlace)
	if err != nil {
		return convoys.ConvoyInput{}, err
	}
	input := convoys.ConvoyInput{
		Name:        p.ConvoyName,
		Source:      source,
		Destination: destination,
		Priority:    convoys.Priority(p.Priority),
		Vehicles:    make([]convoys.VehicleInput, 0, len(p.Vehicles)),
	}
	for index, vehicle := range p.Vehicles {
		vehicleInput, err := vehicle.toInput(fmt.Sprintf("vehicles[%d].", index))
		if err != nil {
			return convoys.ConvoyInput{}, err
		}
		input.Vehicles = append(input.Vehicles, vehicleInput)
	}
	return input, nil
}

func (p vehicleRequestPayload) toInput(fieldPrefix string) (convoys.VehicleInput, error) {
	loadWeight, err := convoys.ParseKilograms(fieldPrefix+"load_weight_kg", p.LoadWeightKg.raw)
	if err != nil {
		return convoys.VehicleInput{}, err
	}
	capacity, err := convoys.ParseKilograms(fieldPrefix+"capacity_kg", p.CapacityKg.raw)
	if err != nil {
		return convoys.VehicleInput{}, err
	}
	source, err := optionalCoordinates(fieldPrefix+"source", p.SourceLat, p.SourceLon)
	if err != nil {
		return convoys.VehicleInput{}, err
	}
	destination, err := optionalCoordinates(fieldPrefix+"destination", p.DestinationLat, p.DestinationLon)
	if err != nil {
		return convoys.VehicleInput{}, err
	}
	return convoys.VehicleInput{
		VehicleType:        convoys.VehicleType(p.VehicleType),
		RegistrationNumber: p.RegistrationNumber,
		LoadType:           convoys.LoadType(p.LoadType),
		LoadWeightKg:       loadWeight,
		CapacityKg:         capacity,
		DriverName:         p.DriverName,
		CurrentStatus:      convoys.VehicleStatus(p.CurrentStatus),
		Source:             source,
		Destination:        destination,
	}, nil
}

func optionalCoordinates(field string, lat, lon *float64) (*convoys.Coordinates, error) {
	if lat == nil && lon == nil {
		return nil, nil
	}
	if lat == nil || lon == nil {
		return nil, newPayloadError(fmt.Sprintf("%s_lat and %s_lon must be provided together", field, field))
	}
	return &convoys.Coordinates{Lat: *lat, Lon: *lon}, nil
}

func optionalLocation(field string, lat, lon *float64, place string) (*convoys.Location, error) {
	coordinates, err := optionalCoordinates(field, lat, lon)
	if err != nil {
		return nil, err
	}
	if coordinates == nil {
		return nil, nil
	}
	return &convoys.Location{Coordinates: *coordinates, Place: place}, nil
}

type convoyResponsePayload struct {
	ID               uint      `json:"id"`
	ConvoyName       string    `json:"convoy_name"`
	SourceLat        float64   `json:"source_lat"`
	SourceLon        float64   `json:"source_lon"`
	SourcePlace      string    `json:"source_place"`
	DestinationLat   float64   `json:"destination_lat"`
	DestinationLon   float64   `json:"destination_lon"`
	DestinationPlace string    `json:"destination_place"`
	Priority         string    `json:"priority"`
	VehicleCount     int64     `json:"vehicle_count"`
	TotalLoadKg      float64   `json:"total_load_kg"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type convoyDetailResponsePayload struct {
	convoyResponsePayload
	Vehicles []vehicleResponsePayload `json:"vehicles"`
}

type vehicleResponsePayload struct {
	ID                 uint      `json:"id"`
	ConvoyID           uint      `json:"convoy_id"`
	RegistrationNumber string    `json:"registration_number"`
	VehicleType        string    `json:"vehicle_type"`
	LoadType           string    `json:"load_type"`
	LoadWeightKg       float64   `json:"load_weight_kg"`
	CapacityKg         float64   `json:"capacity_kg"`
	DriverName         string    `json:"driver_name"`
	CurrentStatus      string    `json:"current_status"`
	SourceLat          float64   `json:"source_lat"`
	SourceLon          float64   `json:"source_lon"`
	DestinationLat     float64   `json:"destination_lat"`
	DestinationLon     float64   `json:"destination_lon"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type createConvoyResponsePayload struct {
	Message       string                `json:"message"`
	Status        string                `json:"status"`
	ConvoyID      uint                  `json:"convoy_id"`
	VehiclesAdded int                   `json:"vehicles_added"`
	Convoy        convoyResponsePayload `json:"convoy"`
}

func newConvoyResponse(summary convoys.ConvoySummary) convoyResponsePayload {
	return convoyResponsePayload{
		ID:               summary.ID,
		ConvoyName:       summary.Name,
		SourceLat:        summary.SourceLat,
		SourceLon:        summary.SourceLon,
		SourcePlace:      summary.SourcePlace,
		DestinationLat:   summary.DestinationLat,
		DestinationLon:   summary.DestinationLon,
		DestinationPlace: summary.DestinationPlace,
		Priority:         string(summary.Priority),
		VehicleCount:     summary.VehicleCount,
		TotalLoadKg:      summary.TotalLoadKg,
		CreatedAt:        summary.CreatedAt.UTC(),
		UpdatedAt:        summary.UpdatedAt.UTC(),
	}
}

func newVehicleResponse(vehicle convoys.Vehicle) vehicleResponsePayload {
	return vehicleResponsePayload{
		ID:                 vehicle.ID,
		ConvoyID:           vehicle.ConvoyID,
		RegistrationNumber: vehicle.RegistrationNumber,
		VehicleType:        string(vehicle.VehicleType),
		LoadType:           string(vehicle.LoadType),
		LoadWeightKg:       vehicle.LoadWeightKg,
		CapacityKg:         vehicle.CapacityKg,
		DriverName:         vehicle.DriverName,
		CurrentStatus:      string(vehicle.CurrentStatus),
		SourceLat:          vehicle.SourceLat,
		SourceLon:          vehicle.SourceLon,
		DestinationLat:     vehicle.DestinationLat,
		DestinationLon:     vehicle.DestinationLon,
		CreatedAt:          vehicle.CreatedAt.UTC(),
		UpdatedAt:          vehicle.UpdatedAt.UTC(),
	}
}

func newConvoyDetailResponse(detail convoys.ConvoyDetail) convoyDetailResponsePayload {
	vehicles := make([]vehicleResponsePayload, 0, len(detail.Vehicles))
	for _, vehicle := range detail.Vehicles {
		vehicles = append(vehicles, newVehicleResponse(vehicle))
	}
	return convoyDetailResponsePayload{
		convoyResponsePayload: newConvoyResponse(detail.ConvoySummary),
		Vehicles:              vehicles,
	}
}

func createMessage(result convoys.CreateResult) string {
	if result.Status == convoys.CreateStatusCreated {
		return fmt.Sprintf("Convoy '%s' created with %d vehicles", result.Convoy.Name, result.VehiclesAdded)
	}
	return fmt.Sprintf("Added %d vehicles to existing convoy '%s'", result.VehiclesAdded, result.Convoy.Name)
}

// latLon is a [lat, lon] pair as sent by map clients.
type latLon [2]float64

func (p latLon) point() routemap.Point {
	return routemap.Point{Lat: p[0], Lon: p[1]}
}

type overlayRequestPayload struct {
	Route       []latLon                   `json:"route"`
	Start       *latLon                    `json:"start"`
	End         *latLon                    `json:"end"`
	Checkpoints []checkpointRequestPayload `json:"checkpoints"`
	DangerZones []dangerZoneRequestPayload `json:"danger_zones"`
}

type checkpointRequestPayload struct {
	Name           string  `json:"name"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	CheckpointType string  `json:"checkpoint_type"`
	Status         string  `json:"status"`
}

type dangerZoneRequestPayload struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadiusMeters float64 `json:"radius_m"`
	RiskLevel    string  `json:"risk_level"`
}

func (p overlayRequestPayload) toInput() routemap.Input {
	input := routemap.Input{
		Route:       make([]routemap.Point, 0, len(p.Route)),
		Checkpoints: make([]routemap.Checkpoint, 0, len(p.Checkpoints)),
		DangerZones: make([]routemap.DangerZone, 0, len(p.DangerZones)),
	}
	for _, point := range p.Route {
		input.Route = append(input.Route, point.point())
	}
	if p.Start != nil {
		start := p.Start.point()
		input.Start = &start
	}
	if p.End != nil {
		end := p.End.point()
		input.End = &end
	}
	for _, checkpoint := range p.Checkpoints {
		input.Checkpoints = append(input.Checkpoints, routemap.Checkpoint{
			Name:     checkpoint.Name,
			Type:     checkpoint.CheckpointType,
			Status:   checkpoint.Status,
			Position: routemap.Point{Lat: checkpoint.Lat, Lon: checkpoint.Lon},
		})
	}
	for _, zone := range p.DangerZones {
		input.DangerZones = append(input.DangerZones, routemap.DangerZone{
			Name:         zone.Name,
			Description:  zone.Description,
			RiskLevel:    zone.RiskLevel,
			RadiusMeters: zone.RadiusMeters,
			Center:       routemap.Point{Lat: zone.Lat, Lon: zone.Lon},
		})
	}
	return input
}

type overlayResponsePayload struct {
	Overlay *geojson.FeatureCollection `json:"overlay"`
	Bounds  [][2]float64               `json:"bounds"`
}

func newOverlayResponse(overlay routemap.Overlay) overlayResponsePayload {
	return overlayResponsePayload{
		Overlay: overlay.Features,
		Bounds:  overlay.LeafletBounds(),
	}
}

// convoyOverlayInput draws a stored convoy as a straight route from source to destination.
func convoyOverlayInput(convoy convoys.Convoy) routemap.Input {
	start := routemap.Point{Lat: convoy.SourceLat, Lon: convoy.SourceLon}
	end := routemap.Point{Lat: convoy.DestinationLat, Lon: convoy.DestinationLon}
	return routemap.Input{
		Route: []routemap.Point{start, end},
		Start: &start,
		End:   &end,
	}
}
