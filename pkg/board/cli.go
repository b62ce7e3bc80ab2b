// Package board is the terminal renderer: a one-shot departure board for the
// configured town, plus lookup and diagnostics subcommands.
package board

import (
	"context"
	"fmt"

	"github.com/busboard/busboard/pkg/app"
	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/orchestrator"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/kr/pretty"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:  "config",
		Value: "",
		Usage: "path to the configuration file",
	}
	locationFlags := []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:  "postcode",
			Usage: "centre the board on a postcode instead of the town centre",
		},
		&cli.Float64Flag{
			Name:  "lat",
			Usage: "centre the board on this latitude (with --lon)",
		},
		&cli.Float64Flag{
			Name:  "lon",
			Usage: "centre the board on this longitude (with --lat)",
		},
	}

	return &cli.Command{
		Name:  "board",
		Usage: "Renders the departure board in the terminal",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the current board, served from cache where warm",
				Flags: locationFlags,
				Action: func(c *cli.Context) error {
					return runBoard(c, false)
				},
			},
			{
				Name:  "refresh",
				Usage: "print the board with every feed fetched fresh",
				Flags: locationFlags,
				Action: func(c *cli.Context) error {
					return runBoard(c, true)
				},
			},
			{
				Name:      "lookup",
				Usage:     "dump one stop from the bundled dataset",
				ArgsUsage: "<atco-code>",
				Flags:     []cli.Flag{configFlag},
				Action:    lookupStop,
			},
			{
				Name:  "status",
				Usage: "dump circuit breaker and throttle state",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					if _, err := buildApp(c); err != nil {
						return err
					}

					pretty.Println(resilience.BreakerStatuses())
					pretty.Println(resilience.GlobalThrottle().Status())

					return nil
				},
			},
		},
	}
}

func buildApp(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	return app.Build(cfg)
}

func runBoard(c *cli.Context, refresh bool) error {
	application, err := buildApp(c)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if err := applyLocation(ctx, c, application); err != nil {
		return err
	}

	var items []orchestrator.DisplayItem
	if refresh {
		items, err = application.Session.Refresh(ctx)
	} else {
		items, err = application.Session.Update(ctx)
	}
	if err != nil {
		return err
	}

	render(items)

	return nil
}

// applyLocation moves the session off the town centre when the user asked
// for a postcode or coordinates.
func applyLocation(ctx context.Context, c *cli.Context, application *app.App) error {
	if postcode := c.String("postcode"); postcode != "" {
		result, err := application.Geocoder.Geocode(ctx, postcode)
		if err != nil {
			return err
		}

		application.Session.SetLocation(result.Coordinates)
		return nil
	}

	if c.IsSet("lat") || c.IsSet("lon") {
		location := transport.Location{
			Latitude:  c.Float64("lat"),
			Longitude: c.Float64("lon"),
		}
		if !location.Valid() {
			return fmt.Errorf("coordinates out of range")
		}

		application.Session.SetLocation(location)
	}

	return nil
}

func lookupStop(c *cli.Context) error {
	application, err := buildApp(c)
	if err != nil {
		return err
	}

	stop, ok := application.Catalogue.Get(c.Args().First())
	if !ok {
		return fmt.Errorf("no stop with ATCO code %q in the dataset", c.Args().First())
	}

	pretty.Println(stop)

	return nil
}
