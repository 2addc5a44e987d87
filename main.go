package main

import (
	"errors"
	"os"

	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "bosectl",
		Usage:                  "Control Bose headsets over their serial port service.",
		EnableBashCompletion:   true,
		UseShortOptionHandling: true,
		Suggest:                true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"BOSECTL_CONFIG"},
				Value:   configPath(),
				Usage:   "Read settings from `FILE`.",
			},
			&cli.StringFlag{
				Name:    "adapter",
				Aliases: []string{"a"},
				EnvVars: []string{"BOSECTL_ADAPTER"},
				Usage:   "Local adapter to use. (For example, hci0)",
			},
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				EnvVars: []string{"BOSECTL_DEVICE"},
				Usage:   "Name of the headset used when none is given.",
			},
			&cli.StringFlag{
				Name:    "service-name",
				EnvVars: []string{"BOSECTL_SERVICE_NAME"},
				Usage:   "Name of the control service record.",
			},
			&cli.StringFlag{
				Name:    "socket",
				EnvVars: []string{"BOSECTL_SOCKET"},
				Usage:   "Daemon socket path.",
			},
			&cli.DurationFlag{
				Name:    "open-timeout",
				EnvVars: []string{"BOSECTL_OPEN_TIMEOUT"},
				Usage:   "How long to wait for the control channel to open.",
			},
			&cli.DurationFlag{
				Name:    "query-timeout",
				EnvVars: []string{"BOSECTL_QUERY_TIMEOUT"},
				Usage:   "How long to wait for device listing and service discovery.",
			},
			&cli.BoolFlag{
				Name:    "init-on-connect",
				EnvVars: []string{"BOSECTL_INIT_ON_CONNECT"},
				Usage:   "Send the init handshake after connecting.",
			},
			&cli.BoolFlag{
				Name:    "power-on",
				EnvVars: []string{"BOSECTL_POWER_ON"},
				Usage:   "Power the adapter on when it is off.",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"BOSECTL_LOG_LEVEL"},
				Usage:   "Daemon log level: debug, info, warn or error.",
			},
			&cli.StringFlag{
				Name:    "log-format",
				EnvVars: []string{"BOSECTL_LOG_FORMAT"},
				Usage:   "Daemon log format: text or json.",
			},
		},
		Before: func(cliCtx *cli.Context) error {
			// Merges the global flags under the root namespace in koanf.
			if cliCtx.Command != nil {
				cliCtx.Command.Name = "global"
			}
			cfg, err := loadConfig(cliCtx.String("config"), cliCtx)
			if err != nil {
				return err
			}
			if cliCtx.App.Metadata == nil {
				cliCtx.App.Metadata = map[string]any{}
			}
			cliCtx.App.Metadata[configKey] = cfg
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "daemon",
				Usage: "Run the daemon that owns the headset connection.",
				Action: func(cliCtx *cli.Context) error {
					cfg := configFrom(cliCtx)
					log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
					if err != nil {
						return err
					}
					return runDaemon(cfg, log)
				},
			},
			{
				Name:  "devices",
				Usage: "List paired devices.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "refresh",
						Aliases: []string{"r"},
						Usage:   "Enumerate again instead of using the cached list.",
					},
				},
				Action: func(cliCtx *cli.Context) error {
					return runDevices(configFrom(cliCtx), cliCtx.Bool("refresh"))
				},
			},
			{
				Name:      "services",
				Usage:     "Show the service records of a paired device.",
				ArgsUsage: "[name]",
				Action: func(cliCtx *cli.Context) error {
					return runServices(configFrom(cliCtx), cliCtx.Args().First())
				},
			},
			{
				Name:      "connect",
				Usage:     "Open the control channel of a paired headset.",
				ArgsUsage: "[name]",
				Action: func(cliCtx *cli.Context) error {
					return runConnect(configFrom(cliCtx), cliCtx.Args().First())
				},
			},
			{
				Name:      "send",
				Usage:     "Send a command: init, nc <off|medium|high>, paired-devices.",
				ArgsUsage: "<op> [args]",
				Action: func(cliCtx *cli.Context) error {
					if !cliCtx.Args().Present() {
						return errors.New("no command given")
					}
					return runSend(configFrom(cliCtx), cliCtx.Args().First(), cliCtx.Args().Tail())
				},
			},
			{
				Name:      "nc",
				Usage:     "Set the noise cancellation level.",
				ArgsUsage: "<off|medium|high>",
				Action: func(cliCtx *cli.Context) error {
					if cliCtx.NArg() != 1 {
						return errors.New("expected one level: off, medium or high")
					}
					return runSend(configFrom(cliCtx), "nc", cliCtx.Args().Slice())
				},
			},
			{
				Name:  "status",
				Usage: "Show the active connection.",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the raw daemon response."},
				},
				Action: func(cliCtx *cli.Context) error {
					return runStatus(configFrom(cliCtx), cliCtx.Bool("json"))
				},
			},
			{
				Name:  "disconnect",
				Usage: "Close the control channel.",
				Action: func(cliCtx *cli.Context) error {
					return runDisconnect(configFrom(cliCtx))
				},
			},
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}
			printError(err)
		},
	}
}

func configFrom(cliCtx *cli.Context) Config {
	if cfg, ok := cliCtx.App.Metadata[configKey].(Config); ok {
		return cfg
	}
	return defaultConfig()
}
