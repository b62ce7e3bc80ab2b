package transport

import "math"

const earthRadiusMeters = 6371000

type Location struct {
	Latitude  float64 `json:"latitude" groups:"basic"`
	Longitude float64 `json:"longitude" groups:"basic"`
}

func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// DistanceTo returns the great-circle distance in meters between two locations.
func (l Location) DistanceTo(other Location) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	deltaLat := (other.Latitude - l.Latitude) * math.Pi / 180
	deltaLon := (other.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// BoundingBox is the lon/lat rectangle used when querying vehicle position feeds.
type BoundingBox struct {
	MinLongitude float64
	MinLatitude  float64
	MaxLongitude float64
	MaxLatitude  float64
}

// BoundingBoxAround returns a box of roughly radiusMeters in each direction
// around the centre. Good enough for feed queries - the ETA calculator
// re-checks real distances afterwards.
func BoundingBoxAround(centre Location, radiusMeters float64) BoundingBox {
	latDelta := radiusMeters / 111320
	lonDelta := radiusMeters / (111320 * math.Cos(centre.Latitude*math.Pi/180))

	return BoundingBox{
		MinLongitude: centre.Longitude - lonDelta,
		MinLatitude:  centre.Latitude - latDelta,
		MaxLongitude: centre.Longitude + lonDelta,
		MaxLatitude:  centre.Latitude + latDelta,
	}
}
