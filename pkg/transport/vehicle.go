package transport

import "time"

// VehicleActivity is a single real-time vehicle position record from a
// SIRI-VM feed. Only used to compute ETAs, never persisted.
type VehicleActivity struct {
	VehicleRef string
	LineRef    string
	Operator   string

	Location Location

	RecordedAt time.Time

	OriginName      string
	DestinationName string
}
