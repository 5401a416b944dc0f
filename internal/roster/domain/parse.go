package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type field int

const (
	fieldID field = iota
	fieldFullName
	fieldFirstName
	fieldLastName
	fieldExternalID
	fieldDate
	fieldLocation
	fieldRole
	fieldCapacity
	fieldDriverRef
	fieldStatus
	fieldPhone
	fieldEmail
	fieldDifficulty
	fieldOrigin
	fieldEmergencyPhone
	fieldHealthNotes
	fieldTreatments
)

// registrationFields maps every normalized field to the payload keys it may
// arrive under, in lookup order.
var registrationFields = map[field][]string{
	fieldID:             {"id", "recordId", "Record ID"},
	fieldFullName:       {"fullName", "full_name", "Nombre Completo"},
	fieldFirstName:      {"Nombre", "nombre", "First Name"},
	fieldLastName:       {"Apellido", "apellido", "Last Name"},
	fieldExternalID:     {"RUN", "RUT", "rut", "externalId", "external_id"},
	fieldDate:           {"Fecha Cerro", "FechaSalida", "fechaSalida", "tripDate", "date"},
	fieldLocation:       {"Cerro", "Lugar", "lugar", "tripLocation", "location"},
	fieldRole:           {"¿Puedes aportar con auto?", "TipoTransporte", "tipoTransporte", "role"},
	fieldCapacity:       {"¿Cuántos cupos tienes?", "CuposDisponibles", "cuposDisponibles", "capacity"},
	fieldDriverRef:      {"Conductor Asignado RUT", "Assigned Driver RUT", "ConductorAsignadoRUT", "DriverID", "assignedDriverRef"},
	fieldStatus:         {"Estado", "estado", "status"},
	fieldPhone:          {"Telefono de contacto", "Teléfono", "Telefono", "Phone", "phone", "telefono"},
	fieldEmail:          {"Mail", "Email", "email"},
	fieldDifficulty:     {"Nivel de dificultad", "Dificultad", "difficulty"},
	fieldOrigin:         {"¿Desde donde partes?", "Direccion", "origin"},
	fieldEmergencyPhone: {"Telefono de emergencia", "emergencyPhone"},
	fieldHealthNotes:    {"Antecedentes Salud", "healthNotes"},
	fieldTreatments:     {"Tratamientos", "treatments"},
}

// driverValues are the role answers that mark a driver. Any other answer,
// blank or free text, is a passenger.
var driverValues = map[string]struct{}{
	"si":        {},
	"sí":        {},
	"yes":       {},
	"true":      {},
	"auto":      {},
	"driver":    {},
	"conductor": {},
}

func parseRole(v string) Role {
	if _, ok := driverValues[strings.ToLower(v)]; ok {
		return RoleDriver
	}
	return RolePassenger
}

// Parse normalizes one raw record. A missing trip key or inconsistent
// role/capacity fields yield a *ParseError; cosmetic fields default to empty.
func Parse(raw RawRecord) (Registration, error) {
	return parse(raw, 0)
}

// ParseAll normalizes a batch, skipping malformed records. Records without an
// id get a deterministic one derived from their external id, date and position.
func ParseAll(raws []RawRecord) ([]Registration, []*ParseError) {
	records := make([]Registration, 0, len(raws))
	var failures []*ParseError
	for i, raw := range raws {
		rec, err := parse(raw, i)
		if err != nil {
			failures = append(failures, err.(*ParseError))
			continue
		}
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("reg-%s-%s-%d", rec.ExternalID, rec.Trip.Date, i)
		}
		records = append(records, rec)
	}
	return records, failures
}

func parse(raw RawRecord, index int) (Registration, error) {
	rec := Registration{
		ID:             value(raw, fieldID),
		ExternalID:     value(raw, fieldExternalID),
		ContactPhone:   value(raw, fieldPhone),
		ContactEmail:   value(raw, fieldEmail),
		Difficulty:     value(raw, fieldDifficulty),
		Origin:         value(raw, fieldOrigin),
		EmergencyPhone: value(raw, fieldEmergencyPhone),
		HealthNotes:    value(raw, fieldHealthNotes),
		Treatments:     value(raw, fieldTreatments),
		Status:         parseStatus(value(raw, fieldStatus)),
		Trip: TripKey{
			Date:     value(raw, fieldDate),
			Location: value(raw, fieldLocation),
		},
	}
	rec.FullName = value(raw, fieldFullName)
	if rec.FullName == "" {
		rec.FullName = strings.TrimSpace(value(raw, fieldFirstName) + " " + value(raw, fieldLastName))
	}

	if rec.Trip.Date == "" {
		return Registration{}, &ParseError{Index: index, Field: "tripDate", Reason: "missing"}
	}
	if rec.Trip.Location == "" {
		return Registration{}, &ParseError{Index: index, Field: "tripLocation", Reason: "missing"}
	}

	role := parseRole(value(raw, fieldRole))
	rec.Role = role

	capacity, numeric := leadingInt(value(raw, fieldCapacity))
	driverRef := value(raw, fieldDriverRef)
	switch role {
	case RoleDriver:
		if numeric && capacity < 0 {
			return Registration{}, &ParseError{Index: index, Field: "capacity", Reason: "negative capacity on driver"}
		}
		if driverRef != "" {
			return Registration{}, &ParseError{Index: index, Field: "assignedDriverRef", Reason: "driver cannot be assigned to a driver"}
		}
		if numeric {
			rec.Capacity = capacity
		}
	case RolePassenger:
		if numeric && capacity != 0 {
			return Registration{}, &ParseError{Index: index, Field: "capacity", Reason: "capacity declared on passenger"}
		}
		rec.AssignedDriverRef = driverRef
	}
	return rec, nil
}

// ValidateDraft reports whether a draft would parse back once stored.
func ValidateDraft(d RegistrationDraft) error {
	raw := RawRecord{
		"fullName":     d.FullName,
		"externalId":   d.ExternalID,
		"tripDate":     d.Trip.Date,
		"tripLocation": d.Trip.Location,
		"role":         string(d.Role),
	}
	if d.Role == RoleDriver || d.Capacity != 0 {
		raw["capacity"] = d.Capacity
	}
	_, err := Parse(raw)
	return err
}

func value(raw RawRecord, f field) string {
	for _, key := range registrationFields[f] {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		if len(val) == 0 {
			return ""
		}
		return stringify(val[0])
	case []string:
		if len(val) == 0 {
			return ""
		}
		return strings.TrimSpace(val[0])
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func parseStatus(v string) Status {
	switch strings.ToLower(v) {
	case "confirmed", "confirmado":
		return StatusConfirmed
	default:
		return StatusPending
	}
}

// leadingInt reads an optional sign and the leading digits of s, so "3 cupos"
// yields 3. It reports false when s has no leading number.
func leadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
