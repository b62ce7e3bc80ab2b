package departures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync/atomic"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/eta"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/busboard/busboard/pkg/util"
	"github.com/rs/zerolog/log"
)

const operatorFeedEndpoint = "operator-feed"

// MissingCredentialsError disables the operator feed for the session, there
// is no point retrying an unauthenticated request.
type MissingCredentialsError struct{}

func (e *MissingCredentialsError) Error() string {
	return "operator feed credentials are missing or rejected"
}

func (e *MissingCredentialsError) Permanent() bool { return true }

// OperatorFeedSource pulls live departure boards from the operator's own API.
// The feed has gone through two format generations and responses from both
// are still seen in the wild, so parsing handles either shape.
type OperatorFeedSource struct {
	url        string
	appID      string
	appKey     string
	httpClient *http.Client

	disabled atomic.Bool

	now func() time.Time
}

func NewOperatorFeedSource(cfg config.OperatorFeed) *OperatorFeedSource {
	return &OperatorFeedSource{
		url:        cfg.URL,
		appID:      cfg.AppID,
		appKey:     cfg.AppKey,
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

func (o *OperatorFeedSource) GetName() string {
	return "operator-realtime-feed"
}

func (o *OperatorFeedSource) DeparturesForStop(ctx context.Context, stop transport.Stop, limit int) ([]transport.Departure, error) {
	if o.appID == "" || o.appKey == "" || o.disabled.Load() {
		return nil, UnsupportedSourceError
	}

	rows, err := resilience.Do(ctx, resilience.FetchOptions{
		Endpoint: operatorFeedEndpoint,
		Key:      fmt.Sprintf("%s:%s", operatorFeedEndpoint, stop.ATCOCode),
	}, func(ctx context.Context) ([]operatorDeparture, error) {
		return o.fetch(ctx, stop.ATCOCode)
	})
	if err != nil {
		if _, missing := err.(*MissingCredentialsError); missing {
			log.Warn().Str("stop", stop.ATCOCode).Msg("Operator feed rejected credentials, disabling for this session")
			o.disabled.Store(true)
			return nil, UnsupportedSourceError
		}

		return nil, err
	}

	departures := o.normalise(rows)

	transport.SortDepartures(departures)
	if limit > 0 && len(departures) > limit {
		departures = departures[:limit]
	}

	return departures, nil
}

func (o *OperatorFeedSource) fetch(ctx context.Context, atcoCode string) ([]operatorDeparture, error) {
	values := url.Values{}
	values.Set("app_id", o.appID)
	values.Set("app_key", o.appKey)
	values.Set("group", "no")

	requestURL := fmt.Sprintf("%s/%s/live.json?%s", o.url, atcoCode, values.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header["user-agent"] = []string{"busboard/1.0"}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &MissingCredentialsError{}
	case http.StatusTooManyRequests:
		return nil, &resilience.RateLimitError{Endpoint: operatorFeedEndpoint}
	default:
		return nil, fmt.Errorf("operator feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return parseOperatorFeed(body)
}

type operatorFeedResponse struct {
	Departures json.RawMessage `json:"departures"`
}

type operatorDeparture struct {
	Line        string `json:"line_name"`
	LineRef     string `json:"line"`
	Direction   string `json:"direction"`
	Operator    string `json:"operator_name"`
	Aimed       string `json:"aimed_departure_time"`
	Expected    string `json:"expected_departure_time"`
	IsCancelled bool   `json:"cancelled"`
}

// parseOperatorFeed handles both response generations. The current format
// keys departures by group name ("all" when grouping is off), the legacy one
// is a flat array.
func parseOperatorFeed(body []byte) ([]operatorDeparture, error) {
	var envelope operatorFeedResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("operator feed response is not valid JSON: %w", err)
	}
	if len(envelope.Departures) == 0 {
		return nil, nil
	}

	var flat []operatorDeparture
	if err := json.Unmarshal(envelope.Departures, &flat); err == nil {
		return flat, nil
	}

	var grouped map[string][]operatorDeparture
	if err := json.Unmarshal(envelope.Departures, &grouped); err != nil {
		return nil, fmt.Errorf("operator feed departures in unknown shape: %w", err)
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var rows []operatorDeparture
	for _, key := range keys {
		rows = append(rows, grouped[key]...)
	}

	return rows, nil
}

func (o *OperatorFeedSource) normalise(rows []operatorDeparture) []transport.Departure {
	now := o.now()

	var departures []transport.Departure
	for _, row := range rows {
		line := row.Line
		if line == "" {
			line = eta.DisplayLineRef(row.LineRef)
		}
		if line == "" {
			continue
		}

		timeText := row.Expected
		isRealTime := timeText != ""
		if timeText == "" {
			timeText = row.Aimed
		}

		departsAt, err := pinClockTime(timeText, now)
		if err != nil {
			continue
		}

		status := transport.DepartureStatusScheduled
		switch {
		case row.IsCancelled:
			status = transport.DepartureStatusCancelled
		case isRealTime && row.Aimed != "" && row.Expected != row.Aimed:
			status = transport.DepartureStatusDelayed
		case isRealTime:
			status = transport.DepartureStatusOnTime
		}

		minutes := int(departsAt.Sub(now).Minutes())
		if minutes < 0 {
			minutes = 0
		}

		departures = append(departures, transport.Departure{
			Line:         line,
			Destination:  row.Direction,
			ExpectedTime: departsAt.Format("15:04"),
			MinutesUntil: minutes,
			Status:       status,
			Operator:     row.Operator,
			IsRealTime:   isRealTime,
		})
	}

	return departures
}

// pinClockTime resolves an HH:MM feed time onto today. A time far in the
// past belongs to tomorrow, the feed stops publishing departures more than a
// few hours out.
func pinClockTime(value string, now time.Time) (time.Time, error) {
	clock, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, err
	}

	pinned := util.AddTimeToDate(now, clock)
	if now.Sub(pinned) > 6*time.Hour {
		pinned = pinned.AddDate(0, 0, 1)
	}

	return pinned, nil
}
