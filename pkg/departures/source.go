// Package departures resolves a stop's departure board by walking an ordered
// chain of data sources. The first source that can answer wins, the local
// estimate is the final fallback.
package departures

import (
	"context"
	"errors"
	"fmt"

	"github.com/busboard/busboard/pkg/transport"
	"github.com/rs/zerolog/log"
)

// UnsupportedSourceError signals that a source cannot answer for this stop
// and the chain should move on to the next one.
var UnsupportedSourceError = errors.New("source does not support this stop")

type Source interface {
	GetName() string
	DeparturesForStop(ctx context.Context, stop transport.Stop, limit int) ([]transport.Departure, error)
}

type Chain struct {
	sources []Source
}

func NewChain(sources ...Source) *Chain {
	chain := &Chain{}
	for _, source := range sources {
		chain.RegisterSource(source)
	}

	return chain
}

func (c *Chain) RegisterSource(source Source) {
	c.sources = append(c.sources, source)

	log.Debug().Str("name", source.GetName()).Msg("Registering departure source")
}

// DeparturesForStop walks the chain in registration order. A source returning
// UnsupportedSourceError is skipped silently, any other failure is logged and
// the next source is tried.
func (c *Chain) DeparturesForStop(ctx context.Context, stop transport.Stop, limit int) ([]transport.Departure, error) {
	var lastErr error

	for _, source := range c.sources {
		departures, err := source.DeparturesForStop(ctx, stop, limit)
		if err == nil {
			return departures, nil
		}

		if errors.Is(err, UnsupportedSourceError) {
			continue
		}

		log.Warn().Err(err).Str("source", source.GetName()).Str("stop", stop.ATCOCode).Msg("Departure source failed, trying next")
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all departure sources failed for stop %s: %w", stop.ATCOCode, lastErr)
	}

	return nil, fmt.Errorf("no departure source could answer for stop %s", stop.ATCOCode)
}
