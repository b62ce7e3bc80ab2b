// Package rail fetches national rail departure boards through the LDBWS
// gateway for the two configured stations.
package rail

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/busboard/busboard/pkg/util"
)

const gatewayEndpoint = "rail-gateway"

// Gateway talks to the national rail SOAP gateway. The gateway wraps the
// upstream service and speaks plain GET, but the response body is still the
// SOAP envelope.
type Gateway struct {
	endpoint   string
	httpClient *http.Client

	now func() time.Time
}

func NewGateway(cfg config.RailGateway) *Gateway {
	return &Gateway{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// FetchDepartures returns upcoming departures for one station by CRS code.
func (g *Gateway) FetchDepartures(ctx context.Context, crs string, limit int) ([]transport.TrainDeparture, error) {
	return resilience.Do(ctx, resilience.FetchOptions{
		Endpoint: gatewayEndpoint,
		Key:      fmt.Sprintf("%s:%s", gatewayEndpoint, crs),
	}, func(ctx context.Context) ([]transport.TrainDeparture, error) {
		return g.fetch(ctx, crs, limit)
	})
}

func (g *Gateway) fetch(ctx context.Context, crs string, limit int) ([]transport.TrainDeparture, error) {
	requestURL := fmt.Sprintf("%s/departures/%s", g.endpoint, crs)

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header["user-agent"] = []string{"busboard/1.0"}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &resilience.RateLimitError{Endpoint: gatewayEndpoint}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rail gateway returned status %d for %s", resp.StatusCode, crs)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope depBoardWithDetailsResponse
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("rail gateway response unparseable: %w", err)
	}

	departures := g.normalise(envelope.BoardResult.TrainServices)

	if limit > 0 && len(departures) > limit {
		departures = departures[:limit]
	}

	return departures, nil
}

func (g *Gateway) normalise(services []trainService) []transport.TrainDeparture {
	now := g.now()

	var departures []transport.TrainDeparture
	for _, service := range services {
		scheduledAt, err := pinBoardTime(service.Scheduled, now)
		if err != nil {
			continue
		}

		departure := transport.TrainDeparture{
			Destination: service.Destination.Name,
			ScheduledAt: service.Scheduled,
			ExpectedAt:  service.Scheduled,
			Platform:    service.Platform,
			Operator:    service.Operator,
		}

		expectedAt := scheduledAt

		switch {
		case service.IsCancelled:
			departure.Status = transport.DepartureStatusCancelled
		case isOnTime(service.Estimated):
			departure.Status = transport.DepartureStatusOnTime
		default:
			estimated, err := pinBoardTime(service.Estimated, now)
			if err != nil {
				// "Delayed" with no estimate.
				departure.Status = transport.DepartureStatusDelayed
				departure.ExpectedAt = ""
				break
			}

			expectedAt = estimated
			departure.ExpectedAt = service.Estimated
			departure.Status = transport.DepartureStatusDelayed
		}

		minutes := int(expectedAt.Sub(now).Minutes())
		if minutes < 0 {
			minutes = 0
		}
		departure.MinutesUntil = minutes

		departures = append(departures, departure)
	}

	return departures
}

func isOnTime(estimated string) bool {
	return strings.EqualFold(strings.TrimSpace(estimated), "On time")
}

// pinBoardTime resolves the board's HH:MM onto today, rolling just-past
// midnight departures into tomorrow.
func pinBoardTime(value string, now time.Time) (time.Time, error) {
	clock, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}

	pinned := util.AddTimeToDate(now, clock)
	if now.Sub(pinned) > 6*time.Hour {
		pinned = pinned.AddDate(0, 0, 1)
	}

	return pinned, nil
}

type depBoardWithDetailsResponse struct {
	XMLName     xml.Name
	BoardResult stationBoardResult `xml:"Body>GetDepBoardWithDetailsResponse>GetStationBoardResult"`
}

type stationBoardResult struct {
	GeneratedAt  string `xml:"generatedAt"`
	LocationName string `xml:"locationName"`
	Crs          string `xml:"crs"`

	TrainServices []trainService `xml:"trainServices>service"`
}

type trainService struct {
	ServiceID string `xml:"serviceID"`

	IsCancelled bool `xml:"isCancelled"`

	Operator     string `xml:"operator"`
	OperatorCode string `xml:"operatorCode"`

	Scheduled string `xml:"std"`
	Estimated string `xml:"etd"`
	Platform  string `xml:"platform"`

	Origin      boardLocation `xml:"origin>location"`
	Destination boardLocation `xml:"destination>location"`
}

type boardLocation struct {
	Name string `xml:"locationName"`
	Crs  string `xml:"crs"`
}
