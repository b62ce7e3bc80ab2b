// Package eta merges the static timetable with live vehicle positions into
// departure estimates for a single stop.
package eta

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/busboard/busboard/pkg/timetable"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/rs/zerolog/log"
)

const (
	// Urban bus assumption. Only used when estimating from a live position,
	// never for purely scheduled rows.
	averageSpeedMetersPerSecond = 8.0

	// How far out we pull vehicle positions around a stop.
	vehicleSearchRadiusMeters = 3000

	// A vehicle further than this from the stop is not considered a match
	// for any scheduled row.
	maxMatchDistanceMeters = 2500

	// Scheduled rows this far past their time are dropped.
	graceWindow = 2 * time.Minute

	// A live vehicle only matches a scheduled row when its estimated
	// arrival is this close to the scheduled time. Stops a vehicle on an
	// earlier or later run of the same line hijacking the row.
	maxScheduleDeviation = 15 * time.Minute
)

type TimetableProvider interface {
	Available(ctx context.Context) bool
	UpcomingDepartures(ctx context.Context, stopID string, from time.Time, limit int) ([]timetable.UpcomingDeparture, error)
}

type VehicleProvider interface {
	Available() bool
	FetchVehiclePositions(ctx context.Context, box transport.BoundingBox) ([]transport.VehicleActivity, error)
}

type Calculator struct {
	timetable TimetableProvider
	vehicles  VehicleProvider

	now func() time.Time
}

func NewCalculator(timetableProvider TimetableProvider, vehicleProvider VehicleProvider) *Calculator {
	return &Calculator{
		timetable: timetableProvider,
		vehicles:  vehicleProvider,
		now:       time.Now,
	}
}

// ComputeDepartures produces ranked departure estimates for one stop. It
// only errors when neither source could produce anything at all.
func (c *Calculator) ComputeDepartures(ctx context.Context, stop transport.Stop, limit int) ([]transport.Departure, error) {
	if limit <= 0 {
		limit = 10
	}

	live := c.fetchLiveVehicles(ctx, stop)

	if !c.timetable.Available(ctx) {
		return c.liveOnly(stop, live, limit)
	}

	rows, err := c.timetable.UpcomingDepartures(ctx, stop.ATCOCode, c.now().Add(-graceWindow), limit*2)
	if err != nil {
		log.Warn().Err(err).Str("stop", stop.ATCOCode).Msg("Timetable lookup failed, using live positions only")
		return c.liveOnly(stop, live, limit)
	}

	departures := c.mergeScheduledAndLive(stop, rows, live)

	transport.SortDepartures(departures)
	if len(departures) > limit {
		departures = departures[:limit]
	}

	return departures, nil
}

func (c *Calculator) fetchLiveVehicles(ctx context.Context, stop transport.Stop) []transport.VehicleActivity {
	if c.vehicles == nil || !c.vehicles.Available() {
		return nil
	}

	box := transport.BoundingBoxAround(stop.Location, vehicleSearchRadiusMeters)

	live, err := c.vehicles.FetchVehiclePositions(ctx, box)
	if err != nil {
		log.Debug().Err(err).Str("stop", stop.ATCOCode).Msg("Vehicle position fetch failed")
		return nil
	}

	return live
}

// liveOnly estimates departures purely from vehicle positions: one entry per
// line, nearest vehicle wins.
func (c *Calculator) liveOnly(stop transport.Stop, live []transport.VehicleActivity, limit int) ([]transport.Departure, error) {
	if len(live) == 0 {
		return nil, fmt.Errorf("no departure data available for stop %s", stop.ATCOCode)
	}

	nearestPerLine := map[string]transport.VehicleActivity{}
	for _, vehicle := range live {
		line := NormalizeLineRef(vehicle.LineRef)
		if line == "" {
			continue
		}

		current, ok := nearestPerLine[line]
		if !ok || vehicle.Location.DistanceTo(stop.Location) < current.Location.DistanceTo(stop.Location) {
			nearestPerLine[line] = vehicle
		}
	}

	var departures []transport.Departure
	for _, vehicle := range nearestPerLine {
		minutes := c.estimateMinutes(vehicle, stop)

		departures = append(departures, transport.Departure{
			Line:         DisplayLineRef(vehicle.LineRef),
			Destination:  vehicle.DestinationName,
			ExpectedTime: c.now().Add(time.Duration(minutes) * time.Minute).Format("15:04"),
			MinutesUntil: minutes,
			Status:       transport.DepartureStatusOnTime,
			Operator:     vehicle.Operator,
			IsRealTime:   true,
		})
	}

	transport.SortDepartures(departures)
	if len(departures) > limit {
		departures = departures[:limit]
	}

	return departures, nil
}

func (c *Calculator) mergeScheduledAndLive(stop transport.Stop, rows []timetable.UpcomingDeparture, live []transport.VehicleActivity) []transport.Departure {
	now := c.now()
	claimed := map[int]bool{}

	var departures []transport.Departure
	for _, row := range rows {
		if now.Sub(row.DepartsAt) > graceWindow {
			continue
		}

		vehicleIndex := c.matchVehicle(stop, row, live, claimed)

		if vehicleIndex >= 0 {
			claimed[vehicleIndex] = true
			vehicle := live[vehicleIndex]
			minutes := c.estimateMinutes(vehicle, stop)

			departures = append(departures, transport.Departure{
				Line:         row.Line,
				Destination:  row.Destination,
				ExpectedTime: now.Add(time.Duration(minutes) * time.Minute).Format("15:04"),
				MinutesUntil: minutes,
				Status:       transport.DepartureStatusOnTime,
				Operator:     vehicle.Operator,
				IsRealTime:   true,
			})
			continue
		}

		minutes := int(row.DepartsAt.Sub(now).Minutes())
		if minutes < 0 {
			minutes = 0
		}

		departures = append(departures, transport.Departure{
			Line:         row.Line,
			Destination:  row.Destination,
			ExpectedTime: row.DepartsAt.Format("15:04"),
			MinutesUntil: minutes,
			Status:       transport.DepartureStatusScheduled,
			IsRealTime:   false,
		})
	}

	return departures
}

// matchVehicle finds the nearest unclaimed live vehicle on the row's line
// that is close enough, and whose estimated arrival agrees with the
// schedule. Returns -1 when nothing qualifies.
func (c *Calculator) matchVehicle(stop transport.Stop, row timetable.UpcomingDeparture, live []transport.VehicleActivity, claimed map[int]bool) int {
	rowLine := NormalizeLineRef(row.Line)
	best := -1
	bestDistance := 0.0

	for i, vehicle := range live {
		if claimed[i] {
			continue
		}
		if NormalizeLineRef(vehicle.LineRef) != rowLine {
			continue
		}

		distance := vehicle.Location.DistanceTo(stop.Location)
		if distance > maxMatchDistanceMeters {
			continue
		}

		estimatedArrival := c.now().Add(time.Duration(distance/averageSpeedMetersPerSecond) * time.Second)
		deviation := estimatedArrival.Sub(row.DepartsAt)
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > maxScheduleDeviation {
			continue
		}

		if best == -1 || distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}

	return best
}

func (c *Calculator) estimateMinutes(vehicle transport.VehicleActivity, stop transport.Stop) int {
	distance := vehicle.Location.DistanceTo(stop.Location)
	seconds := distance / averageSpeedMetersPerSecond

	return int(seconds / 60)
}

// NormalizeLineRef strips an operator prefix like "FESX:42" down to the line
// token and lowercases it, as feeds disagree on both prefix and case.
func NormalizeLineRef(lineRef string) string {
	return strings.ToLower(DisplayLineRef(lineRef))
}

// DisplayLineRef is the line token with any operator prefix removed but the
// original casing kept.
func DisplayLineRef(lineRef string) string {
	parts := strings.Split(lineRef, ":")

	return strings.TrimSpace(parts[len(parts)-1])
}
