package assignment

import (
	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/grouping"
)

// DriverLoad is one driver with the passengers currently referencing it.
type DriverLoad struct {
	Driver       domain.Registration   `json:"driver"`
	Passengers   []domain.Registration `json:"passengers"`
	Remaining    int                   `json:"remaining"`
	OverAssigned bool                  `json:"over_assigned"`
}

// Board is the capacity view of one trip. All lists keep input order.
type Board struct {
	Trip    domain.TripKey `json:"trip"`
	Drivers []DriverLoad   `json:"drivers"`
	// Unassigned includes passengers whose reference does not resolve.
	Unassigned []domain.Registration `json:"unassigned"`
	// Dangling lists passengers whose raw reference names no driver of the trip.
	Dangling []domain.Registration `json:"dangling"`
	// Eligible lists drivers that can take one more passenger.
	Eligible []domain.Registration `json:"eligible"`
}

// BuildBoard computes the capacity view of group.
func BuildBoard(group grouping.TripGroup) Board {
	board := Board{
		Trip:       group.Key,
		Drivers:    make([]DriverLoad, 0, len(group.Drivers)),
		Unassigned: []domain.Registration{},
		Dangling:   []domain.Registration{},
		Eligible:   []domain.Registration{},
	}
	for _, d := range group.Drivers {
		load := DriverLoad{Driver: d, Passengers: []domain.Registration{}}
		for _, p := range group.Passengers {
			if p.AssignedDriverRef != "" && p.AssignedDriverRef == d.ExternalID {
				load.Passengers = append(load.Passengers, p)
			}
		}
		load.Remaining = d.Capacity - len(load.Passengers)
		load.OverAssigned = load.Remaining < 0
		if load.Remaining > 0 {
			board.Eligible = append(board.Eligible, d)
		}
		board.Drivers = append(board.Drivers, load)
	}
	for _, p := range group.Passengers {
		if p.AssignedDriverRef == "" {
			board.Unassigned = append(board.Unassigned, p)
			continue
		}
		if _, ok := ResolveDriverReference(p.AssignedDriverRef, group); !ok {
			board.Unassigned = append(board.Unassigned, p)
			board.Dangling = append(board.Dangling, p)
		}
	}
	return board
}
