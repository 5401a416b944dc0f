package assignment_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/tripcoord/internal/roster/assignment"
	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/grouping"
)

var hill = domain.TripKey{Date: "2024-05-01", Location: "Hill"}

func driver(id string, capacity int, trip domain.TripKey) domain.Registration {
	return domain.Registration{ID: id, ExternalID: "rut-" + id, Trip: trip, Role: domain.RoleDriver, Capacity: capacity}
}

func passenger(id string, trip domain.TripKey) domain.Registration {
	return domain.Registration{ID: id, ExternalID: "rut-" + id, Trip: trip, Role: domain.RolePassenger}
}

func group(trip domain.TripKey, records ...domain.Registration) grouping.TripGroup {
	return grouping.GroupByTrip(records)[trip]
}

func remaining(t *testing.T, g grouping.TripGroup, driverID string) int {
	t.Helper()
	d, ok := g.Find(driverID)
	require.True(t, ok)
	return assignment.RemainingCapacity(d, g.Passengers)
}

func find(t *testing.T, g grouping.TripGroup, id string) domain.Registration {
	t.Helper()
	r, ok := g.Find(id)
	require.True(t, ok)
	return r
}

func TestCapacityScenario(t *testing.T) {
	g := group(hill, driver("d", 2, hill), passenger("a", hill), passenger("b", hill), passenger("c", hill))
	d := find(t, g, "d")

	out, err := assignment.AssignPassenger(g, find(t, g, "a"), d)
	require.NoError(t, err)
	require.True(t, out.Changed())
	require.Equal(t, domain.AssignmentRequest{PassengerExternalID: "rut-a", DriverExternalID: "rut-d", Trip: hill}, *out.Request)
	g = out.Group
	require.Equal(t, 1, remaining(t, g, "d"))

	out, err = assignment.AssignPassenger(g, find(t, g, "b"), d)
	require.NoError(t, err)
	g = out.Group
	require.Equal(t, 0, remaining(t, g, "d"))

	_, err = assignment.AssignPassenger(g, find(t, g, "c"), d)
	var capErr *domain.CapacityExceededError
	require.True(t, errors.As(err, &capErr))
	require.Equal(t, 2, capErr.Assigned)
	require.Equal(t, 0, remaining(t, g, "d"))
	require.Empty(t, find(t, g, "c").AssignedDriverRef)

	out, err = assignment.UnassignPassenger(g, find(t, g, "a"))
	require.NoError(t, err)
	require.True(t, out.Request.IsUnassign())
	g = out.Group
	require.Equal(t, 1, remaining(t, g, "d"))

	out, err = assignment.AssignPassenger(g, find(t, g, "c"), d)
	require.NoError(t, err)
	g = out.Group
	require.Equal(t, 0, remaining(t, g, "d"))
}

func TestAssignDoesNotMutateInput(t *testing.T) {
	g := group(hill, driver("d", 1, hill), passenger("a", hill))
	_, err := assignment.AssignPassenger(g, find(t, g, "a"), find(t, g, "d"))
	require.NoError(t, err)
	require.Empty(t, find(t, g, "a").AssignedDriverRef)
}

func TestAssignIsIdempotent(t *testing.T) {
	g := group(hill, driver("d", 1, hill), passenger("a", hill))
	first, err := assignment.AssignPassenger(g, find(t, g, "a"), find(t, g, "d"))
	require.NoError(t, err)

	second, err := assignment.AssignPassenger(first.Group, find(t, first.Group, "a"), find(t, first.Group, "d"))
	require.NoError(t, err, "reassigning to the same full driver must not self-block")
	require.False(t, second.Changed())
	require.Equal(t, first.Group, second.Group)
}

func TestUnassignUnassignedIsNoop(t *testing.T) {
	g := group(hill, driver("d", 1, hill), passenger("a", hill))
	out, err := assignment.UnassignPassenger(g, find(t, g, "a"))
	require.NoError(t, err)
	require.False(t, out.Changed())
}

func TestReassignMovesBetweenDrivers(t *testing.T) {
	p := passenger("a", hill)
	p.AssignedDriverRef = "rut-d1"
	g := group(hill, driver("d1", 1, hill), driver("d2", 1, hill), p)

	out, err := assignment.AssignPassenger(g, find(t, g, "a"), find(t, g, "d2"))
	require.NoError(t, err)
	require.Equal(t, 1, remaining(t, out.Group, "d1"))
	require.Equal(t, 0, remaining(t, out.Group, "d2"))
}

func TestCrossTripAssignmentRejected(t *testing.T) {
	north := domain.TripKey{Date: "2024-03-01", Location: "North"}
	south := domain.TripKey{Date: "2024-03-01", Location: "South"}
	p := passenger("p", north)
	d := driver("d", 3, south)
	groups := grouping.GroupByTrip([]domain.Registration{p, d})

	_, err := assignment.AssignPassenger(groups[north], p, d)
	var crossErr *domain.CrossTripError
	require.True(t, errors.As(err, &crossErr))
	require.Equal(t, north, crossErr.Passenger)
	require.Equal(t, south, crossErr.Driver)
	require.Empty(t, groups[north].Passengers[0].AssignedDriverRef)
	require.Equal(t, 3, assignment.RemainingCapacity(groups[south].Drivers[0], groups[south].Passengers))
}

func TestAssignRejectsRoleMismatch(t *testing.T) {
	g := group(hill, driver("d", 1, hill), driver("e", 1, hill))
	_, err := assignment.AssignPassenger(g, find(t, g, "e"), find(t, g, "d"))
	require.ErrorIs(t, err, domain.ErrRoleMismatch)
}

func TestCapacityNeverExceededUnderRandomAssignments(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		var records []domain.Registration
		nDrivers := 1 + rng.Intn(4)
		for i := 0; i < nDrivers; i++ {
			records = append(records, driver(fmt.Sprintf("d%d", i), rng.Intn(4), hill))
		}
		nPassengers := rng.Intn(12)
		for i := 0; i < nPassengers; i++ {
			records = append(records, passenger(fmt.Sprintf("p%d", i), hill))
		}
		g := group(hill, records...)
		if len(g.Passengers) == 0 {
			continue
		}

		for step := 0; step < 40; step++ {
			p := g.Passengers[rng.Intn(len(g.Passengers))]
			d := g.Drivers[rng.Intn(len(g.Drivers))]
			out, err := assignment.AssignPassenger(g, p, d)
			if err == nil {
				g = out.Group
			}
			for _, drv := range g.Drivers {
				require.GreaterOrEqual(t, assignment.RemainingCapacity(drv, g.Passengers), 0)
			}
		}
	}
}

func TestResolveDriverReference(t *testing.T) {
	g := group(hill, driver("d", 1, hill), passenger("a", hill))
	got, ok := assignment.ResolveDriverReference("rut-d", g)
	require.True(t, ok)
	require.Equal(t, "d", got.ID)

	_, ok = assignment.ResolveDriverReference("rut-missing", g)
	require.False(t, ok)
	_, ok = assignment.ResolveDriverReference("", g)
	require.False(t, ok)
}

func TestBoardSurfacesDanglingAndOverAssignment(t *testing.T) {
	p1 := passenger("p1", hill)
	p1.AssignedDriverRef = "rut-d"
	p2 := passenger("p2", hill)
	p2.AssignedDriverRef = "rut-d"
	p3 := passenger("p3", hill)
	p3.AssignedDriverRef = "rut-gone"
	p4 := passenger("p4", hill)
	g := group(hill, driver("d", 1, hill), driver("e", 2, hill), p1, p2, p3, p4)

	board := assignment.BuildBoard(g)
	require.Len(t, board.Drivers, 2)
	require.Equal(t, -1, board.Drivers[0].Remaining)
	require.True(t, board.Drivers[0].OverAssigned)
	require.Len(t, board.Drivers[0].Passengers, 2)
	require.Equal(t, 2, board.Drivers[1].Remaining)

	require.Len(t, board.Unassigned, 2)
	require.Equal(t, "p3", board.Unassigned[0].ID)
	require.Equal(t, "p4", board.Unassigned[1].ID)
	require.Len(t, board.Dangling, 1)
	require.Equal(t, "rut-gone", board.Dangling[0].AssignedDriverRef, "raw reference preserved")
	require.Len(t, board.Eligible, 1)
	require.Equal(t, "e", board.Eligible[0].ID)

	// The over-assigned driver still refuses new passengers.
	_, err := assignment.AssignPassenger(g, p4, g.Drivers[0])
	require.Error(t, err)
}
