package departures

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const groupedFeedJSON = `{
  "atcocode": "1500IM52",
  "departures": {
    "all": [
      {"line_name": "42", "line": "FESX:42", "direction": "Basildon", "operator_name": "First Essex", "aimed_departure_time": "14:05", "expected_departure_time": "14:09"},
      {"line_name": "100", "direction": "Lakeside", "operator_name": "First Essex", "aimed_departure_time": "14:20", "expected_departure_time": "14:20"}
    ]
  }
}`

const legacyFeedJSON = `{
  "departures": [
    {"line": "42", "direction": "Basildon", "operator_name": "First Essex", "aimed_departure_time": "14:05"}
  ]
}`

func newOperatorSource(t *testing.T, handler http.HandlerFunc) (*OperatorFeedSource, *httptest.Server) {
	t.Helper()
	resilience.ResetBreakers()
	server := httptest.NewServer(handler)

	source := NewOperatorFeedSource(config.OperatorFeed{URL: server.URL, AppID: "app", AppKey: "key"})
	source.now = func() time.Time {
		return time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	}

	return source, server
}

func TestOperatorFeedGroupedShape(t *testing.T) {
	source, server := newOperatorSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app", r.URL.Query().Get("app_id"))
		w.Write([]byte(groupedFeedJSON))
	})
	defer server.Close()

	departures, err := source.DeparturesForStop(context.Background(), chainStop, 10)
	require.NoError(t, err)
	require.Len(t, departures, 2)

	// Expected time differs from aimed, so the 42 is running late.
	assert.Equal(t, "42", departures[0].Line)
	assert.Equal(t, transport.DepartureStatusDelayed, departures[0].Status)
	assert.Equal(t, 9, departures[0].MinutesUntil)
	assert.True(t, departures[0].IsRealTime)

	assert.Equal(t, transport.DepartureStatusOnTime, departures[1].Status)
	assert.Equal(t, 20, departures[1].MinutesUntil)
}

func TestOperatorFeedLegacyShape(t *testing.T) {
	source, server := newOperatorSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(legacyFeedJSON))
	})
	defer server.Close()

	departures, err := source.DeparturesForStop(context.Background(), chainStop, 10)
	require.NoError(t, err)
	require.Len(t, departures, 1)

	// No expected time in the legacy shape, the row is schedule only.
	assert.Equal(t, "42", departures[0].Line)
	assert.False(t, departures[0].IsRealTime)
	assert.Equal(t, transport.DepartureStatusScheduled, departures[0].Status)
	assert.Equal(t, 5, departures[0].MinutesUntil)
}

func TestOperatorFeedWithoutCredentials(t *testing.T) {
	resilience.ResetBreakers()
	source := NewOperatorFeedSource(config.OperatorFeed{URL: "http://example.invalid"})

	_, err := source.DeparturesForStop(context.Background(), chainStop, 10)
	assert.ErrorIs(t, err, UnsupportedSourceError)
}

func TestOperatorFeedDisablesAfterRejection(t *testing.T) {
	calls := 0
	source, server := newOperatorSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer server.Close()

	_, err := source.DeparturesForStop(context.Background(), chainStop, 10)
	assert.ErrorIs(t, err, UnsupportedSourceError)
	assert.Equal(t, 1, calls, "a rejected credential must not be retried")

	_, err = source.DeparturesForStop(context.Background(), chainStop, 10)
	assert.ErrorIs(t, err, UnsupportedSourceError)
	assert.Equal(t, 1, calls, "the source stays disabled for the session")
}

func TestOperatorFeedServerError(t *testing.T) {
	source, server := newOperatorSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer server.Close()

	_, err := source.DeparturesForStop(context.Background(), chainStop, 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, UnsupportedSourceError)
}

func TestPinClockTimeRollsIntoTomorrow(t *testing.T) {
	now := time.Date(2026, 8, 31, 23, 55, 0, 0, time.UTC)

	pinned, err := pinClockTime("00:10", now)
	require.NoError(t, err)

	assert.Equal(t, 1, pinned.Day())
	assert.Equal(t, time.September, pinned.Month())
}
