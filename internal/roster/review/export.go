package review

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/tripcoord/internal/roster/domain"
)

const exportSheet = "Coordinadores"

// ExportHeader is the column order of the coordinator sheet.
var ExportHeader = []string{
	"Nombre",
	"RUT",
	"Correo",
	"Teléfono",
	"Fecha",
	"Cerro",
	"Rol",
	"Conductor Asignado",
	"Teléfono Emergencia",
	"Antecedentes Salud",
	"Tratamientos",
	"Asiste",
	"Percepción",
}

var exportColumnWidths = []float64{28, 14, 28, 18, 12, 18, 10, 28, 18, 30, 30, 10, 12}

// FileName names the export after the trip, or after today with no trip.
func FileName(trip domain.TripKey, today time.Time) string {
	if trip.Date == "" {
		return fmt.Sprintf("coordinadores_%s.xlsx", today.Format("2006-01-02"))
	}
	if trip.Location == "" {
		return fmt.Sprintf("coordinadores_%s.xlsx", trip.Date)
	}
	return fmt.Sprintf("coordinadores_%s_%s.xlsx", trip.Date, trip.Location)
}

// Export renders entries as an xlsx workbook. records is the full snapshot and
// is used to show the assigned driver's name.
func Export(entries []Entry, records []domain.Registration) ([]byte, error) {
	drivers := make(map[domain.TripKey]map[string]string)
	for _, r := range records {
		if !r.IsDriver() {
			continue
		}
		if drivers[r.Trip] == nil {
			drivers[r.Trip] = make(map[string]string)
		}
		drivers[r.Trip][r.ExternalID] = r.FullName
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range ExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(exportSheet, name, name, exportColumnWidths[col]); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, e := range entries {
		r := e.Registration
		driverName := ""
		if r.AssignedDriverRef != "" {
			driverName = drivers[r.Trip][r.AssignedDriverRef]
		}
		row := []any{
			orNA(r.FullName),
			orNA(r.ExternalID),
			orNA(r.ContactEmail),
			orNA(r.ContactPhone),
			orNA(displayDate(r.Trip.Date)),
			orNA(r.Trip.Location),
			roleLabel(r.Role),
			orNA(driverName),
			orNA(r.EmergencyPhone),
			orNA(r.HealthNotes),
			orNA(r.Treatments),
			e.Annotation.Attendance.External(),
			e.Annotation.Perception.External(),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("row cell: %w", err)
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func displayDate(date string) string {
	t, ok := domain.ParseTripDate(date)
	if !ok {
		return date
	}
	return t.Format("02/01/2006")
}

func roleLabel(r domain.Role) string {
	if r == domain.RoleDriver {
		return "Conductor"
	}
	return "Pasajero"
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
