package domain

import (
	"context"
	"time"
)

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// TripKey scopes a registration to one coordinated outing.
type TripKey struct {
	Date     string `json:"date"`
	Location string `json:"location"`
}

func (k TripKey) IsZero() bool { return k.Date == "" && k.Location == "" }

func (k TripKey) String() string { return k.Date + "@" + k.Location }

// Registration is one person's registration for one trip.
type Registration struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	ContactPhone string `json:"contact_phone"`
	ContactEmail string `json:"contact_email"`
	ExternalID   string `json:"external_id"`

	Trip   TripKey `json:"trip"`
	Role   Role    `json:"role"`
	Status Status  `json:"status"`

	// Capacity is only meaningful for drivers.
	Capacity int `json:"capacity"`
	// AssignedDriverRef holds a driver's ExternalID; only passengers carry one.
	AssignedDriverRef string `json:"assigned_driver_ref,omitempty"`

	Difficulty     string `json:"difficulty,omitempty"`
	Origin         string `json:"origin,omitempty"`
	EmergencyPhone string `json:"emergency_phone,omitempty"`
	HealthNotes    string `json:"health_notes,omitempty"`
	Treatments     string `json:"treatments,omitempty"`
}

func (r Registration) IsDriver() bool    { return r.Role == RoleDriver }
func (r Registration) IsPassenger() bool { return r.Role == RolePassenger }

// RawRecord is a registration as returned by the external store, before
// normalization. Values are scalars or single-element arrays.
type RawRecord map[string]any

// TripOption is one entry of the trip catalog.
type TripOption struct {
	Trip         TripKey  `json:"trip"`
	Difficulty   string   `json:"difficulty,omitempty"`
	Coordinators []string `json:"coordinators,omitempty"`
}

// RegistrationDraft is an intake submission for a new registration.
type RegistrationDraft struct {
	FullName     string  `json:"full_name"`
	ExternalID   string  `json:"external_id"`
	ContactEmail string  `json:"contact_email"`
	ContactPhone string  `json:"contact_phone"`
	Trip         TripKey `json:"trip"`
	Role         Role    `json:"role"`
	Capacity     int     `json:"capacity"`
	ShareConsent bool    `json:"share_consent"`
}

// AssignmentRequest is the persistence request for an assign or unassign.
// An empty DriverExternalID means unassign.
type AssignmentRequest struct {
	PassengerExternalID string  `json:"passenger_external_id"`
	DriverExternalID    string  `json:"driver_external_id"`
	Trip                TripKey `json:"trip"`
}

func (r AssignmentRequest) IsUnassign() bool { return r.DriverExternalID == "" }

// AttendanceEntry is one annotated registration in an attendance submission.
type AttendanceEntry struct {
	RegistrationID string `json:"id"`
	ExternalID     string `json:"external_id"`
	FullName       string `json:"full_name"`
	Attendance     string `json:"attendance"`
	Perception     string `json:"perception"`
}

type AttendanceSubmission struct {
	Trip    TripKey           `json:"trip"`
	Entries []AttendanceEntry `json:"entries"`
}

// Coordinator is the verdict of a successful credential check.
type Coordinator struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Gateway is the boundary to the external store and webhook functions.
type Gateway interface {
	FetchTripCatalog(ctx context.Context) ([]TripOption, error)
	FetchRegistrations(ctx context.Context) ([]RawRecord, error)
	SubmitRegistration(ctx context.Context, draft RegistrationDraft) error
	SetAssignment(ctx context.Context, req AssignmentRequest) error
	AuthenticateCoordinator(ctx context.Context, username, password string) (Coordinator, error)
	SubmitAttendance(ctx context.Context, sub AttendanceSubmission) error
}

type RosterEventType string

const (
	EventAssignmentChanged     RosterEventType = "AssignmentChanged"
	EventRegistrationSubmitted RosterEventType = "RegistrationSubmitted"
	EventAttendanceSubmitted   RosterEventType = "AttendanceSubmitted"
)

type RosterEvent struct {
	ID        string          `json:"id"`
	Type      RosterEventType `json:"type"`
	Trip      TripKey         `json:"trip"`
	Actor     string          `json:"actor,omitempty"`
	Payload   map[string]any  `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event RosterEvent) error
}

type IdempotencyRepository interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
