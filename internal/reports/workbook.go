// Package reports renders convoy data as spreadsheets for offline review.
package reports

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/convoy/backend/internal/convoys"
	"github.com/xuri/excelize/v2"
)

const (
	ConvoySheetName  = "Convoys"
	VehicleSheetName = "Vehicles"

	// ContentType is the MIME type of the rendered workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	timestampLayout = time.RFC3339
)

var (
	convoyHeader = []any{
		"convoy_id", "convoy_name", "priority",
		"source_lat", "source_lon", "source_place",
		"destination_lat", "destination_lon", "destination_place",
		"vehicle_count", "total_load_kg", "created_at", "updated_at",
	}
	vehicleHeader = []any{
		"vehicle_id", "convoy_id", "registration_number", "vehicle_type", "load_type",
		"load_weight_kg", "capacity_kg", "driver_name", "current_status",
		"source_lat", "source_lon", "destination_lat", "destination_lon", "created_at",
	}
)

var errNilWriter = errors.New("reports: writer must be provided")

// WriteConvoyWorkbook writes a two-sheet XLSX workbook: one row per convoy with its
// aggregates, and one row per vehicle.
func WriteConvoyWorkbook(w io.Writer, summaries []convoys.ConvoySummary, vehicles []convoys.Vehicle) error {
	if w == nil {
		return errNilWriter
	}
	workbook := excelize.NewFile()
	defer func() {
		_ = workbook.Close()
	}()

	if err := workbook.SetSheetName(workbook.GetSheetName(0), ConvoySheetName); err != nil {
		return fmt.Errorf("reports: rename sheet: %w", err)
	}
	if _, err := workbook.NewSheet(VehicleSheetName); err != nil {
		return fmt.Errorf("reports: create vehicle sheet: %w", err)
	}

	convoyRows := make([][]any, 0, len(summaries)+1)
	convoyRows = append(convoyRows, convoyHeader)
	for _, summary := range summaries {
		convoyRows = append(convoyRows, []any{
			summary.ID, summary.Name, string(summary.Priority),
			summary.SourceLat, summary.SourceLon, summary.SourcePlace,
			summary.DestinationLat, summary.DestinationLon, summary.DestinationPlace,
			summary.VehicleCount, summary.TotalLoadKg,
			summary.CreatedAt.UTC().Format(timestampLayout),
			summary.UpdatedAt.UTC().Format(timestampLayout),
		})
	}
	if err := writeRows(workbook, ConvoySheetName, convoyRows); err != nil {
		return err
	}

	vehicleRows := make([][]any, 0, len(vehicles)+1)
	vehicleRows = append(vehicleRows, vehicleHeader)
	for _, vehicle := range vehicles {
		vehicleRows = append(vehicleRows, []any{
			vehicle.ID, vehicle.ConvoyID, vehicle.RegistrationNumber,
			string(vehicle.VehicleType), string(vehicle.LoadType),
			vehicle.LoadWeightKg, vehicle.CapacityKg, vehicle.DriverName, string(vehicle.CurrentStatus),
			vehicle.SourceLat, vehicle.SourceLon, vehicle.DestinationLat, vehicle.DestinationLon,
			vehicle.CreatedAt.UTC().Format(timestampLayout),
		})
	}
	if err := writeRows(workbook, VehicleSheetName, vehicleRows); err != nil {
		return err
	}

	if _, err := workbook.WriteTo(w); err != nil {
		return fmt.Errorf("reports: write workbook: %w", err)
	}
	return nil
}

func writeRows(workbook *excelize.File, sheet string, rows [][]any) error {
	for index, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, index+1)
		if err != nil {
			return fmt.Errorf("reports: %s row %d: %w", sheet, index+1, err)
		}
		if err := workbook.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("reports: %s row %d: %w", sheet, index+1, err)
		}
	}
	if err := workbook.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("reports: freeze %s header: %w", sheet, err)
	}
	return nil
}
