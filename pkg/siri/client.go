// Package siri fetches live vehicle positions from the bus open data
// SIRI-VM datafeed.
package siri

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/rs/zerolog/log"
)

const endpointKey = "vehicle-positions"

// Records older than this are position noise, not live vehicles.
const maxRecordAge = 20 * time.Minute

// MissingAPIKeyError is a configuration error: the feed is unavailable for
// the whole session and must not be retried.
type MissingAPIKeyError struct{}

func (e *MissingAPIKeyError) Error() string {
	return "no API key configured for the vehicle position feed"
}

func (e *MissingAPIKeyError) Permanent() bool { return true }

type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client

	now func() time.Time
}

func NewClient(cfg config.VehiclePositionsFeed) *Client {
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// Available reports whether the feed is usable at all this session.
func (c *Client) Available() bool {
	return c.apiKey != ""
}

// FetchVehiclePositions returns live vehicle activity within the bounding
// box, most recent data only.
func (c *Client) FetchVehiclePositions(ctx context.Context, box transport.BoundingBox) ([]transport.VehicleActivity, error) {
	if !c.Available() {
		return nil, &MissingAPIKeyError{}
	}

	boxKey := fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", box.MinLongitude, box.MinLatitude, box.MaxLongitude, box.MaxLatitude)

	return resilience.Do(ctx, resilience.FetchOptions{
		Endpoint: endpointKey,
		Key:      endpointKey + ":" + boxKey,
	}, func(ctx context.Context) ([]transport.VehicleActivity, error) {
		requestURL := fmt.Sprintf("%s?api_key=%s&boundingBox=%s", c.url, c.apiKey, boxKey)

		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header["user-agent"] = []string{"busboard/1.0"}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &resilience.RateLimitError{Endpoint: endpointKey}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("vehicle position feed returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		return c.parse(body)
	})
}

type siriEnvelope struct {
	ServiceDelivery struct {
		ResponseTimestamp string

		VehicleMonitoringDelivery struct {
			ResponseTimestamp string
			VehicleActivity   []vehicleActivity
		}
	}
}

type vehicleActivity struct {
	RecordedAtTime string
	ItemIdentifier string
	ValidUntilTime string

	MonitoredVehicleJourney struct {
		LineRef           string
		PublishedLineName string
		OperatorRef       string

		OriginName      string
		DestinationName string

		VehicleLocation struct {
			Longitude float64
			Latitude  float64
		}

		VehicleRef string
	}
}

func (c *Client) parse(body []byte) ([]transport.VehicleActivity, error) {
	var envelope siriEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	currentTime := c.now()
	var activities []transport.VehicleActivity

	for _, record := range envelope.ServiceDelivery.VehicleMonitoringDelivery.VehicleActivity {
		journey := record.MonitoredVehicleJourney

		recordedAt, err := time.Parse(time.RFC3339, record.RecordedAtTime)
		if err == nil && currentTime.Sub(recordedAt) > maxRecordAge {
			continue
		}

		location := transport.Location{
			Latitude:  journey.VehicleLocation.Latitude,
			Longitude: journey.VehicleLocation.Longitude,
		}
		if !location.Valid() {
			continue
		}

		activities = append(activities, transport.VehicleActivity{
			VehicleRef:      journey.VehicleRef,
			LineRef:         journey.LineRef,
			Operator:        journey.OperatorRef,
			Location:        location,
			RecordedAt:      recordedAt,
			OriginName:      journey.OriginName,
			DestinationName: journey.DestinationName,
		})
	}

	log.Debug().Int("vehicles", len(activities)).Msg("Parsed vehicle activity")

	return activities, nil
}
