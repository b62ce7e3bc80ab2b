package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A dead redis must not stop the board, the cache and favourites both read as
// misses and everything else still works.
func TestBuildSurvivesUnreachableRedis(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		departs := time.Now().Add(12 * time.Minute).Format("15:04")
		fmt.Fprintf(w, `{"departures": [{"line_name": "42", "direction": "Broomfield", "expected_departure_time": %q}]}`, departs)
	}))
	defer feed.Close()

	cfg := config.Defaults()
	cfg.Redis.Address = "localhost:1"
	cfg.Feeds.OperatorFeed.URL = feed.URL
	cfg.Feeds.OperatorFeed.AppID = "test-app"
	cfg.Feeds.OperatorFeed.AppKey = "test-key"

	application, err := Build(cfg)
	require.NoError(t, err)

	stop, ok := application.Catalogue.Get("1500IM52")
	require.True(t, ok)

	board := application.Buses.GetDeparturesForStop(context.Background(), stop)
	require.NotNil(t, board)
	require.NotEmpty(t, board.Departures)
	assert.Equal(t, "42", board.Departures[0].Line)
	assert.False(t, board.IsStale, "the dead store always reads as a miss")

	assert.Empty(t, application.Favourites.List(context.Background()))
	assert.False(t, application.Favourites.IsFavourite(context.Background(), stop.ATCOCode))
}
