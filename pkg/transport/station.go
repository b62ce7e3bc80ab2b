package transport

import "time"

// Station is a national rail station. There are only two of interest so they
// are static configuration rather than fetched data.
type Station struct {
	Name     string   `json:"name" groups:"basic"`
	CRS      string   `json:"crs" groups:"basic"`
	Location Location `json:"location" groups:"basic"`
}

type TrainDeparture struct {
	Destination  string          `json:"destination" groups:"basic"`
	ScheduledAt  string          `json:"scheduledAt" groups:"basic"`
	ExpectedAt   string          `json:"expectedAt" groups:"basic"`
	MinutesUntil int             `json:"minutesUntil" groups:"basic"`
	Platform     string          `json:"platform,omitempty" groups:"basic"`
	Status       DepartureStatus `json:"status" groups:"basic"`
	Operator     string          `json:"operator,omitempty" groups:"basic"`
}

type StationBoard struct {
	Station     Station          `json:"station" groups:"basic"`
	Departures  []TrainDeparture `json:"departures" groups:"basic"`
	LastUpdated time.Time        `json:"lastUpdated" groups:"basic"`
	IsStale     bool             `json:"isStale" groups:"basic"`
}
