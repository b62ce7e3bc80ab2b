// Package timetable serves scheduled departures from the pre-built static
// dataset. The dataset is fetched once and held in memory for its TTL
// (default one day).
package timetable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	iso8601 "github.com/senseyeio/duration"
)

const endpointKey = "timetable"

// UpcomingDeparture is a timetable row with its resolved wall-clock time.
type UpcomingDeparture struct {
	transport.ScheduledDeparture

	DepartsAt time.Time
}

type dataset struct {
	GeneratedAt string                                    `json:"generatedAt"`
	Stops       map[string][]transport.ScheduledDeparture `json:"stops"`
}

type Service struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	data      *dataset
	fetchedAt time.Time

	now func() time.Time
}

func NewService(cfg config.TimetableFeed, ttl time.Duration) *Service {
	return &Service{
		url:        cfg.URL,
		ttl:        ttl,
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// Available probes whether the dataset can be served, either from memory or
// from the feed. Never retries - it is only a probe.
func (s *Service) Available(ctx context.Context) bool {
	s.mu.Lock()
	fresh := s.data != nil && s.now().Sub(s.fetchedAt) < s.ttl
	s.mu.Unlock()

	if fresh {
		return true
	}

	ok, err := resilience.Do(ctx, resilience.FetchOptions{
		Endpoint:  endpointKey,
		Key:       endpointKey + ":probe",
		SkipRetry: true,
	}, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, "HEAD", s.url, nil)
		if err != nil {
			return false, err
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return false, err
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return false, fmt.Errorf("timetable probe returned status %d", resp.StatusCode)
		}

		return true, nil
	})

	return err == nil && ok
}

// UpcomingDepartures returns the next scheduled departures for a stop from
// the given time, extending into tomorrow when today's rows run out.
func (s *Service) UpcomingDepartures(ctx context.Context, stopID string, from time.Time, limit int) ([]UpcomingDeparture, error) {
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	// Hand out copies so callers never alias the long lived cached rows.
	var rows []transport.ScheduledDeparture
	if err := copier.Copy(&rows, data.Stops[stopID]); err != nil {
		return nil, err
	}

	upcoming := resolveRows(rows, from, from)

	if len(upcoming) < limit {
		nextDay, _ := iso8601.ParseISO8601("P1D")
		tomorrow := nextDay.Shift(from)
		tomorrow = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())

		upcoming = append(upcoming, resolveRows(rows, tomorrow, from)...)
	}

	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].DepartsAt.Before(upcoming[j].DepartsAt)
	})

	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}

	return upcoming, nil
}

// resolveRows pins HH:MM:SS rows to a calendar date, keeping only rows at or
// after the cutoff.
func resolveRows(rows []transport.ScheduledDeparture, date time.Time, cutoff time.Time) []UpcomingDeparture {
	var resolved []UpcomingDeparture

	for _, row := range rows {
		departsAt, err := pinTime(row.DepartureTime, date)
		if err != nil {
			continue
		}

		if departsAt.Before(cutoff) {
			continue
		}

		resolved = append(resolved, UpcomingDeparture{
			ScheduledDeparture: row,
			DepartsAt:          departsAt,
		})
	}

	return resolved
}

// pinTime resolves a GTFS style HH:MM:SS onto a date. Hours of 24+ roll into
// the next day, as GTFS allows for services running past midnight.
func pinTime(value string, date time.Time) (time.Time, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("bad departure time %q", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, err
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	second, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, err
	}

	dayOffset := 0
	if hour >= 24 {
		hour -= 24
		dayOffset = 1
	}

	pinned := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, second, 0, date.Location())

	return pinned.AddDate(0, 0, dayOffset), nil
}

func (s *Service) load(ctx context.Context) (*dataset, error) {
	s.mu.Lock()
	if s.data != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		data := s.data
		s.mu.Unlock()
		return data, nil
	}
	stale := s.data
	s.mu.Unlock()

	data, err := resilience.Do(ctx, resilience.FetchOptions{
		Endpoint: endpointKey,
		Key:      endpointKey + ":dataset",
	}, func(ctx context.Context) (*dataset, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		// Serve the expired copy rather than nothing at all.
		if stale != nil {
			log.Warn().Err(err).Msg("Timetable refresh failed, serving stale dataset")
			return stale, nil
		}

		return nil, err
	}

	s.mu.Lock()
	s.data = data
	s.fetchedAt = s.now()
	s.mu.Unlock()

	return data, nil
}

func (s *Service) fetch(ctx context.Context) (*dataset, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header["user-agent"] = []string{"busboard/1.0"}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &resilience.RateLimitError{Endpoint: endpointKey}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timetable feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var data dataset
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}

	stopCount := len(data.Stops)
	log.Info().Int("stops", stopCount).Str("generatedAt", data.GeneratedAt).Msg("Loaded static timetable")

	return &data, nil
}
