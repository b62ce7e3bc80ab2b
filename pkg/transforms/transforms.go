// Package transforms applies configured display rules to departures before
// rendering: brand colours per operator, renamed destinations, hiding rows
// the user never wants to see.
package transforms

import (
	"fmt"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/busboard/busboard/pkg/util"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
)

// departureEnv is what a rule expression can see.
type departureEnv struct {
	Line         string
	Destination  string
	Operator     string
	Status       string
	MinutesUntil int
	IsRealTime   bool
}

type rule struct {
	program *vm.Program
	hide    bool
	set     map[string]string
}

type Engine struct {
	rules []rule
}

// Setup compiles the configured rules. A rule that does not compile is a
// configuration error, not something to discover at render time.
func Setup(definitions []config.DisplayRule) (*Engine, error) {
	engine := &Engine{}

	for _, definition := range definitions {
		program, err := expr.Compile(definition.When, expr.Env(departureEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("display rule %q does not compile: %w", definition.When, err)
		}

		engine.rules = append(engine.rules, rule{
			program: program,
			hide:    definition.Hide,
			set:     definition.Set,
		})
	}

	return engine, nil
}

// ApplyDepartures runs every rule over every departure, dropping hidden rows.
func (e *Engine) ApplyDepartures(departures []transport.Departure) []transport.Departure {
	if len(e.rules) == 0 {
		return departures
	}

	for i := range departures {
		e.apply(&departures[i])
	}

	util.InPlaceFilter(&departures, func(departure transport.Departure) bool {
		return !departure.Hidden
	})

	return departures
}

// ApplyBoard rewrites one board's departures in place.
func (e *Engine) ApplyBoard(board *transport.DepartureBoard) {
	if board == nil {
		return
	}

	board.Departures = e.ApplyDepartures(board.Departures)
}

func (e *Engine) apply(departure *transport.Departure) {
	env := departureEnv{
		Line:         departure.Line,
		Destination:  departure.Destination,
		Operator:     departure.Operator,
		Status:       string(departure.Status),
		MinutesUntil: departure.MinutesUntil,
		IsRealTime:   departure.IsRealTime,
	}

	for _, rule := range e.rules {
		matched, err := expr.Run(rule.program, env)
		if err != nil {
			log.Debug().Err(err).Msg("Display rule evaluation failed")
			continue
		}

		if !matched.(bool) {
			continue
		}

		if rule.hide {
			departure.Hidden = true
		}

		for field, value := range rule.set {
			switch field {
			case "brandColour":
				departure.BrandColour = value
			case "destination":
				departure.Destination = value
			case "operator":
				departure.Operator = value
			default:
				log.Debug().Str("field", field).Msg("Display rule sets unknown field")
			}
		}
	}
}
