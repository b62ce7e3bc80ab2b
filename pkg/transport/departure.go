package transport

import (
	"sort"
	"time"
)

type DepartureStatus string

const (
	DepartureStatusOnTime    DepartureStatus = "on-time"
	DepartureStatusDelayed   DepartureStatus = "delayed"
	DepartureStatusCancelled DepartureStatus = "cancelled"
	DepartureStatusScheduled DepartureStatus = "scheduled"
	DepartureStatusUnknown   DepartureStatus = "unknown"
)

type Departure struct {
	Line         string          `json:"line" groups:"basic"`
	Destination  string          `json:"destination" groups:"basic"`
	ExpectedTime string          `json:"expectedTime" groups:"basic"`
	MinutesUntil int             `json:"minutesUntil" groups:"basic"`
	Status       DepartureStatus `json:"status" groups:"basic"`
	Operator     string          `json:"operator,omitempty" groups:"basic"`
	IsRealTime   bool            `json:"isRealTime" groups:"basic"`

	BrandColour string `json:"brandColour,omitempty" groups:"basic"`
	Hidden      bool   `json:"-"`
}

// DepartureBoard is the set of departures for one stop in one fetch cycle.
// Departures are kept sorted ascending by MinutesUntil.
type DepartureBoard struct {
	Stop        Stop        `json:"stop" groups:"basic"`
	Departures  []Departure `json:"departures" groups:"basic"`
	LastUpdated time.Time   `json:"lastUpdated" groups:"basic"`
	IsStale     bool        `json:"isStale" groups:"basic"`
}

func SortDepartures(departures []Departure) {
	sort.SliceStable(departures, func(i, j int) bool {
		return departures[i].MinutesUntil < departures[j].MinutesUntil
	})
}
