// Package stopdata loads the bundled NaPTAN derived stop dataset. The
// catalogue is built once at startup and never mutated afterwards.
package stopdata

import (
	_ "embed"
	"fmt"

	"github.com/busboard/busboard/pkg/transport"
	"github.com/gocarina/gocsv"
	"github.com/paulcager/osgridref"
	"github.com/rs/zerolog/log"
)

//go:embed data/stops.csv
var stopsCSV []byte

type stopRecord struct {
	ATCOCode   string  `csv:"atco_code"`
	CommonName string  `csv:"common_name"`
	Indicator  string  `csv:"indicator"`
	Bearing    string  `csv:"bearing"`
	Easting    string  `csv:"easting"`
	Northing   string  `csv:"northing"`
	Latitude   float64 `csv:"latitude"`
	Longitude  float64 `csv:"longitude"`
}

// location resolves the record's coordinates. NaPTAN rows sometimes only
// carry a UKOS easting/northing pair, so convert when lat/lon is unset.
func (r *stopRecord) location() (transport.Location, error) {
	if (r.Latitude == 0 || r.Longitude == 0) && r.Easting != "" && r.Northing != "" {
		gridRef, err := osgridref.ParseOsGridRef(fmt.Sprintf("%s,%s", r.Easting, r.Northing))
		if err != nil {
			return transport.Location{}, err
		}

		lat, lon := gridRef.ToLatLon()

		return transport.Location{Latitude: lat, Longitude: lon}, nil
	}

	return transport.Location{Latitude: r.Latitude, Longitude: r.Longitude}, nil
}

type Catalogue struct {
	stops  []transport.Stop
	byATCO map[string]transport.Stop
}

// Load parses the embedded dataset.
func Load() (*Catalogue, error) {
	return loadFrom(stopsCSV)
}

// NewCatalogue builds a catalogue from an in-memory stop list.
func NewCatalogue(stops []transport.Stop) *Catalogue {
	catalogue := &Catalogue{
		byATCO: map[string]transport.Stop{},
	}

	for _, stop := range stops {
		catalogue.stops = append(catalogue.stops, stop)
		catalogue.byATCO[stop.ATCOCode] = stop
	}

	return catalogue
}

func loadFrom(data []byte) (*Catalogue, error) {
	var records []*stopRecord
	if err := gocsv.UnmarshalBytes(data, &records); err != nil {
		return nil, err
	}

	catalogue := &Catalogue{
		byATCO: map[string]transport.Stop{},
	}

	for _, record := range records {
		if record.ATCOCode == "" {
			continue
		}

		location, err := record.location()
		if err != nil {
			log.Warn().Err(err).Str("atco", record.ATCOCode).Msg("Skipping stop with unparseable grid reference")
			continue
		}

		stop := transport.Stop{
			ATCOCode:  record.ATCOCode,
			Name:      record.CommonName,
			Indicator: record.Indicator,
			Bearing:   record.Bearing,
			Location:  location,
		}

		catalogue.stops = append(catalogue.stops, stop)
		catalogue.byATCO[stop.ATCOCode] = stop
	}

	log.Info().Int("stops", len(catalogue.stops)).Msg("Loaded stop dataset")

	return catalogue, nil
}

// All returns every stop in the dataset. Callers must not mutate the slice.
func (c *Catalogue) All() []transport.Stop {
	return c.stops
}

func (c *Catalogue) Get(atcoCode string) (transport.Stop, bool) {
	stop, ok := c.byATCO[atcoCode]
	return stop, ok
}

func (c *Catalogue) Len() int {
	return len(c.stops)
}
