package api

import (
	"github.com/busboard/busboard/pkg/app"
	"github.com/busboard/busboard/pkg/config"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Provides the core web API",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run web api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: "",
						Usage: "listen target for the web server, overrides the configured address",
					},
					&cli.StringFlag{
						Name:  "config",
						Value: "",
						Usage: "path to the configuration file",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					application, err := app.Build(cfg)
					if err != nil {
						return err
					}

					listen := c.String("listen")
					if listen == "" {
						listen = cfg.API.ListenAddress
					}

					return SetupServer(listen, application)
				},
			},
		},
	}
}
