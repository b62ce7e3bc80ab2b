package transport

// Stop is a bus stop from the bundled NaPTAN derived dataset. Loaded once at
// startup and never mutated afterwards.
type Stop struct {
	ATCOCode  string `json:"atcoCode" groups:"basic"`
	Name      string `json:"name" groups:"basic"`
	Indicator string `json:"indicator,omitempty" groups:"basic"`
	Bearing   string `json:"bearing,omitempty" groups:"basic"`

	Location Location `json:"location" groups:"basic"`
}

// NearbyStop is a Stop with its distance from a query origin. The distance is
// query relative so it is recomputed on every search and never persisted.
type NearbyStop struct {
	Stop `groups:"basic"`

	DistanceMeters float64 `json:"distanceMeters" groups:"basic"`
}

var oppositeBearings = map[string]string{
	"N":  "S",
	"S":  "N",
	"E":  "W",
	"W":  "E",
	"NE": "SW",
	"SW": "NE",
	"NW": "SE",
	"SE": "NW",
}

// OppositeBearing returns the geometric opposite of a compass bearing, or ""
// when the bearing is unknown.
func OppositeBearing(bearing string) string {
	return oppositeBearings[bearing]
}
