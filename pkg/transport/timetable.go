package transport

// ScheduledDeparture is one row of the pre-built static timetable dataset.
type ScheduledDeparture struct {
	TripID        string `json:"tripId"`
	DepartureTime string `json:"departureTime"` // HH:MM:SS local
	Line          string `json:"line"`
	Destination   string `json:"destination"`
	ServiceID     string `json:"serviceId"`
	StopSequence  int    `json:"stopSequence"`
}
