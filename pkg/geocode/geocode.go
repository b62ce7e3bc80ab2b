// Package geocode resolves postcodes to coordinates and back using the
// postcodes.io API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/transport"
)

const endpointKey = "geocoder"

// NotFoundError means the query was understood but matched nothing. It is a
// user facing condition, not a feed failure, so it is never retried.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find a location for %q", e.Query)
}

func (e *NotFoundError) Permanent() bool { return true }

type Result struct {
	Coordinates    transport.Location
	NormalizedText string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.GeocoderFeed) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		httpClient: &http.Client{},
	}
}

type postcodeResponse struct {
	Status int `json:"status"`
	Result struct {
		Postcode  string  `json:"postcode"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"result"`
}

type reverseResponse struct {
	Status int `json:"status"`
	Result []struct {
		Postcode string `json:"postcode"`
	} `json:"result"`
}

// Geocode resolves a postcode to coordinates.
func (c *Client) Geocode(ctx context.Context, text string) (Result, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(text), " "))

	return resilience.Do(ctx, resilience.FetchOptions{
		Endpoint: endpointKey,
		Key:      "geocode:" + normalized,
	}, func(ctx context.Context) (Result, error) {
		requestURL := fmt.Sprintf("%s/postcodes/%s", c.baseURL, url.PathEscape(normalized))

		body, statusCode, err := c.get(ctx, requestURL)
		if err != nil {
			return Result{}, err
		}

		if statusCode == http.StatusNotFound {
			return Result{}, &NotFoundError{Query: text}
		}
		if err := statusError(statusCode); err != nil {
			return Result{}, err
		}

		var response postcodeResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return Result{}, err
		}

		return Result{
			Coordinates: transport.Location{
				Latitude:  response.Result.Latitude,
				Longitude: response.Result.Longitude,
			},
			NormalizedText: response.Result.Postcode,
		}, nil
	})
}

// ReverseGeocode resolves coordinates to the nearest postcode.
func (c *Client) ReverseGeocode(ctx context.Context, location transport.Location) (string, error) {
	return resilience.Do(ctx, resilience.FetchOptions{
		Endpoint: endpointKey,
		Key:      fmt.Sprintf("reverse:%.4f:%.4f", location.Latitude, location.Longitude),
	}, func(ctx context.Context) (string, error) {
		requestURL := fmt.Sprintf("%s/postcodes?lon=%f&lat=%f", c.baseURL, location.Longitude, location.Latitude)

		body, statusCode, err := c.get(ctx, requestURL)
		if err != nil {
			return "", err
		}
		if err := statusError(statusCode); err != nil {
			return "", err
		}

		var response reverseResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return "", err
		}

		if len(response.Result) == 0 {
			return "", &NotFoundError{Query: fmt.Sprintf("%f,%f", location.Latitude, location.Longitude)}
		}

		return response.Result[0].Postcode, nil
	})
}

func (c *Client) get(ctx context.Context, requestURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header["user-agent"] = []string{"busboard/1.0"}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	return body, resp.StatusCode, nil
}

func statusError(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &resilience.RateLimitError{Endpoint: endpointKey}
	case statusCode >= 400 && statusCode != http.StatusNotFound:
		return fmt.Errorf("geocoder returned status %d", statusCode)
	}

	return nil
}
