package assignment

import (
	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/grouping"
)

// Outcome is the result of a validated assign or unassign. Group is a copy of
// the input group with the optimistic change applied. Request is nil when the
// operation was a no-op.
type Outcome struct {
	Group     grouping.TripGroup
	Passenger domain.Registration
	Request   *domain.AssignmentRequest
}

// Changed reports whether the outcome needs to be persisted.
func (o Outcome) Changed() bool { return o.Request != nil }

// RemainingCapacity is the driver's capacity minus the passengers referencing it.
// It goes negative when upstream data is already over-assigned.
func RemainingCapacity(driver domain.Registration, passengers []domain.Registration) int {
	return driver.Capacity - countAssigned(driver, passengers, "")
}

func countAssigned(driver domain.Registration, passengers []domain.Registration, excludeID string) int {
	n := 0
	for _, p := range passengers {
		if p.ID == excludeID {
			continue
		}
		if p.AssignedDriverRef != "" && p.AssignedDriverRef == driver.ExternalID {
			n++
		}
	}
	return n
}

// ResolveDriverReference finds the driver of group whose external id is ref.
func ResolveDriverReference(ref string, group grouping.TripGroup) (domain.Registration, bool) {
	if ref == "" {
		return domain.Registration{}, false
	}
	for _, d := range group.Drivers {
		if d.ExternalID == ref {
			return d, true
		}
	}
	return domain.Registration{}, false
}

// AssignPassenger validates and applies an assignment of passenger to driver
// within group. Validation failures never produce a request.
func AssignPassenger(group grouping.TripGroup, passenger, driver domain.Registration) (Outcome, error) {
	if !passenger.IsPassenger() || !driver.IsDriver() {
		return Outcome{}, domain.ErrRoleMismatch
	}
	if passenger.Trip != driver.Trip {
		return Outcome{}, &domain.CrossTripError{Passenger: passenger.Trip, Driver: driver.Trip}
	}
	if group.Key != passenger.Trip {
		return Outcome{}, &domain.CrossTripError{Passenger: passenger.Trip, Driver: group.Key}
	}
	idx := indexOf(group.Passengers, passenger.ID)
	if idx < 0 {
		return Outcome{}, domain.ErrRegistrationNotFound
	}
	if indexOf(group.Drivers, driver.ID) < 0 {
		return Outcome{}, domain.ErrRegistrationNotFound
	}
	current := group.Passengers[idx]
	if current.AssignedDriverRef == driver.ExternalID {
		return Outcome{Group: group.Clone(), Passenger: current}, nil
	}

	assigned := countAssigned(driver, group.Passengers, current.ID)
	if driver.Capacity-assigned <= 0 {
		return Outcome{}, &domain.CapacityExceededError{
			DriverExternalID: driver.ExternalID,
			Capacity:         driver.Capacity,
			Assigned:         assigned,
		}
	}

	next := group.Clone()
	next.Passengers[idx].AssignedDriverRef = driver.ExternalID
	return Outcome{
		Group:     next,
		Passenger: next.Passengers[idx],
		Request: &domain.AssignmentRequest{
			PassengerExternalID: current.ExternalID,
			DriverExternalID:    driver.ExternalID,
			Trip:                current.Trip,
		},
	}, nil
}

// UnassignPassenger clears the passenger's driver reference, dangling or not.
func UnassignPassenger(group grouping.TripGroup, passenger domain.Registration) (Outcome, error) {
	if !passenger.IsPassenger() {
		return Outcome{}, domain.ErrRoleMismatch
	}
	idx := indexOf(group.Passengers, passenger.ID)
	if idx < 0 {
		return Outcome{}, domain.ErrRegistrationNotFound
	}
	current := group.Passengers[idx]
	if current.AssignedDriverRef == "" {
		return Outcome{Group: group.Clone(), Passenger: current}, nil
	}

	next := group.Clone()
	next.Passengers[idx].AssignedDriverRef = ""
	return Outcome{
		Group:     next,
		Passenger: next.Passengers[idx],
		Request: &domain.AssignmentRequest{
			PassengerExternalID: current.ExternalID,
			Trip:                current.Trip,
		},
	}, nil
}

func indexOf(records []domain.Registration, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
