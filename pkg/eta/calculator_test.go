package eta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/busboard/busboard/pkg/timetable"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimetable struct {
	available bool
	rows      []timetable.UpcomingDeparture
	err       error
}

func (f *fakeTimetable) Available(_ context.Context) bool {
	return f.available
}

func (f *fakeTimetable) UpcomingDepartures(_ context.Context, _ string, _ time.Time, _ int) ([]timetable.UpcomingDeparture, error) {
	return f.rows, f.err
}

type fakeVehicles struct {
	available  bool
	activities []transport.VehicleActivity
	err        error
}

func (f *fakeVehicles) Available() bool {
	return f.available
}

func (f *fakeVehicles) FetchVehiclePositions(_ context.Context, _ transport.BoundingBox) ([]transport.VehicleActivity, error) {
	return f.activities, f.err
}

var testStop = transport.Stop{
	ATCOCode: "1500IM52",
	Name:     "Chelmsford Bus Station",
	Bearing:  "N",
	Location: transport.Location{Latitude: 51.7347, Longitude: 0.4684},
}

// nearLocation is roughly 960m north of the test stop, about 2 minutes at
// the assumed 8 m/s.
var nearLocation = transport.Location{Latitude: 51.7433, Longitude: 0.4684}

func fixedNow() time.Time {
	return time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
}

func newTestCalculator(tt *fakeTimetable, vehicles *fakeVehicles) *Calculator {
	calculator := NewCalculator(tt, vehicles)
	calculator.now = fixedNow

	return calculator
}

func scheduledRow(tripID, line string, departsAt time.Time) timetable.UpcomingDeparture {
	return timetable.UpcomingDeparture{
		ScheduledDeparture: transport.ScheduledDeparture{
			TripID:        tripID,
			Line:          line,
			Destination:   "Basildon",
			DepartureTime: departsAt.Format("15:04:05"),
		},
		DepartsAt: departsAt,
	}
}

func TestLiveOnlyFallbackWhenTimetableUnavailable(t *testing.T) {
	vehicles := &fakeVehicles{
		available: true,
		activities: []transport.VehicleActivity{
			{VehicleRef: "v1", LineRef: "FESX:42", Operator: "FESX", Location: nearLocation, DestinationName: "Basildon"},
		},
	}

	calculator := newTestCalculator(&fakeTimetable{available: false}, vehicles)

	departures, err := calculator.ComputeDepartures(context.Background(), testStop, 5)
	require.NoError(t, err, "timetable being down must not surface as an error")
	require.Len(t, departures, 1)

	assert.Equal(t, "42", departures[0].Line)
	assert.True(t, departures[0].IsRealTime)
	assert.Equal(t, transport.DepartureStatusOnTime, departures[0].Status)
	assert.InDelta(t, 2, departures[0].MinutesUntil, 1)
}

func TestLiveOnlyKeepsNearestVehiclePerLine(t *testing.T) {
	farLocation := transport.Location{Latitude: 51.7550, Longitude: 0.4684}

	vehicles := &fakeVehicles{
		available: true,
		activities: []transport.VehicleActivity{
			{VehicleRef: "far", LineRef: "FESX:42", Location: farLocation},
			{VehicleRef: "near", LineRef: "fesx:42", Location: nearLocation},
		},
	}

	calculator := newTestCalculator(&fakeTimetable{available: false}, vehicles)

	departures, err := calculator.ComputeDepartures(context.Background(), testStop, 5)
	require.NoError(t, err)
	require.Len(t, departures, 1, "case-insensitive line matching should collapse both vehicles")
	assert.InDelta(t, 2, departures[0].MinutesUntil, 1)
}

func TestScheduledRowMatchedToLiveVehicle(t *testing.T) {
	tt := &fakeTimetable{
		available: true,
		rows: []timetable.UpcomingDeparture{
			scheduledRow("t1", "42", fixedNow().Add(5*time.Minute)),
			scheduledRow("t2", "100", fixedNow().Add(12*time.Minute)),
		},
	}
	vehicles := &fakeVehicles{
		available: true,
		activities: []transport.VehicleActivity{
			{VehicleRef: "v1", LineRef: "FESX:42", Operator: "FESX", Location: nearLocation},
		},
	}

	calculator := newTestCalculator(tt, vehicles)

	departures, err := calculator.ComputeDepartures(context.Background(), testStop, 5)
	require.NoError(t, err)
	require.Len(t, departures, 2)

	// The 42 is tracked live, the 100 falls back to its scheduled time.
	assert.True(t, departures[0].IsRealTime)
	assert.Equal(t, "42", departures[0].Line)
	assert.False(t, departures[1].IsRealTime)
	assert.Equal(t, transport.DepartureStatusScheduled, departures[1].Status)
	assert.Equal(t, 12, departures[1].MinutesUntil)
}

func TestVehicleOnDifferentRunIsNotMatched(t *testing.T) {
	// Scheduled 40 minutes out, but the vehicle would arrive in ~2 minutes.
	// Proximity alone used to match these; the deviation check must not.
	tt := &fakeTimetable{
		available: true,
		rows: []timetable.UpcomingDeparture{
			scheduledRow("t1", "42", fixedNow().Add(40*time.Minute)),
		},
	}
	vehicles := &fakeVehicles{
		available: true,
		activities: []transport.VehicleActivity{
			{VehicleRef: "v1", LineRef: "FESX:42", Location: nearLocation},
		},
	}

	calculator := newTestCalculator(tt, vehicles)

	departures, err := calculator.ComputeDepartures(context.Background(), testStop, 5)
	require.NoError(t, err)
	require.Len(t, departures, 1)

	assert.False(t, departures[0].IsRealTime)
	assert.Equal(t, 40, departures[0].MinutesUntil)
}

func TestStaleScheduledRowsDropped(t *testing.T) {
	tt := &fakeTimetable{
		available: true,
		rows: []timetable.UpcomingDeparture{
			scheduledRow("gone", "42", fixedNow().Add(-5*time.Minute)),
			scheduledRow("due", "42", fixedNow().Add(-time.Minute)),
			scheduledRow("soon", "42", fixedNow().Add(8*time.Minute)),
		},
	}

	calculator := newTestCalculator(tt, &fakeVehicles{})

	departures, err := calculator.ComputeDepartures(context.Background(), testStop, 5)
	require.NoError(t, err)
	require.Len(t, departures, 2, "rows more than the grace window in the past are dropped")

	// Within the grace window the departure shows as due now.
	assert.Equal(t, 0, departures[0].MinutesUntil)
	assert.Equal(t, 8, departures[1].MinutesUntil)
}

func TestResultSortedAndTruncated(t *testing.T) {
	tt := &fakeTimetable{
		available: true,
		rows: []timetable.UpcomingDeparture{
			scheduledRow("c", "3", fixedNow().Add(30*time.Minute)),
			scheduledRow("a", "1", fixedNow().Add(4*time.Minute)),
			scheduledRow("b", "2", fixedNow().Add(15*time.Minute)),
		},
	}

	calculator := newTestCalculator(tt, &fakeVehicles{})

	departures, err := calculator.ComputeDepartures(context.Background(), testStop, 2)
	require.NoError(t, err)
	require.Len(t, departures, 2)

	assert.Equal(t, "1", departures[0].Line)
	assert.Equal(t, "2", departures[1].Line)
}

func TestTimetableErrorFallsBackToLive(t *testing.T) {
	tt := &fakeTimetable{available: true, err: errors.New("dataset corrupted")}
	vehicles := &fakeVehicles{
		available: true,
		activities: []transport.VehicleActivity{
			{VehicleRef: "v1", LineRef: "42", Location: nearLocation},
		},
	}

	calculator := newTestCalculator(tt, vehicles)

	departures, err := calculator.ComputeDepartures(context.Background(), testStop, 5)
	require.NoError(t, err)
	require.Len(t, departures, 1)
	assert.True(t, departures[0].IsRealTime)
}

func TestNoDataAtAllIsAnError(t *testing.T) {
	calculator := newTestCalculator(&fakeTimetable{available: false}, &fakeVehicles{})

	_, err := calculator.ComputeDepartures(context.Background(), testStop, 5)
	assert.Error(t, err)
}
