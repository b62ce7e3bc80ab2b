package departures

import (
	"context"

	"github.com/busboard/busboard/pkg/transport"
)

type Estimator interface {
	ComputeDepartures(ctx context.Context, stop transport.Stop, limit int) ([]transport.Departure, error)
}

// LocalSource estimates departures from the static timetable and live
// vehicle positions. It is the end of the chain and answers for any stop.
type LocalSource struct {
	estimator Estimator
}

func NewLocalSource(estimator Estimator) *LocalSource {
	return &LocalSource{estimator: estimator}
}

func (l *LocalSource) GetName() string {
	return "local-estimate"
}

func (l *LocalSource) DeparturesForStop(ctx context.Context, stop transport.Stop, limit int) ([]transport.Departure, error) {
	return l.estimator.ComputeDepartures(ctx, stop, limit)
}
