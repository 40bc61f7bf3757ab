package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	doMain(os.Args)
}

func doMain(args []string) {
	app := &cli.App{
		Name:  "fleet-sim",
		Usage: "Simulate a fleet of MDM agents against an mdm-api server",
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "Run the simulated devices",
				Action: cmdRun,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "server-url",
						Usage: "mdm-api base URL",
						Value: "http://localhost:8090",
					},
					&cli.StringFlag{
						Name:  "api-key",
						Usage: "API key for enrollment and check-ins",
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Number of devices to simulate",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "start-time",
						Usage: "Startup window in seconds; devices spawn uniformly across it",
						Value: 10,
					},
					&cli.StringFlag{
						Name:  "device-prefix",
						Usage: "Device ID prefix",
						Value: "sim",
					},
					&cli.StringFlag{
						Name:  "profile",
						Usage: "Path to a YAML fleet profile (models, OS versions, network types)",
					},
					&cli.StringFlag{
						Name:  "package",
						Usage: "Package name to poll the manifest for",
						Value: "com.example.agent",
					},
					&cli.IntFlag{
						Name:  "checkin-interval",
						Usage: "Check-in interval in seconds",
						Value: 60,
					},
					&cli.IntFlag{
						Name:  "manifest-interval",
						Usage: "Manifest poll interval in seconds",
						Value: 300,
					},
					&cli.IntFlag{
						Name:  "install-time",
						Usage: "Simulated install duration in seconds",
						Value: 15,
					},
					&cli.StringFlag{
						Name:  "mqtt-broker",
						Usage: "MQTT broker to subscribe for commands; empty disables the command channel",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "Enable debug logging",
					},
				},
			},
		},
	}

	err := app.Run(args)
	if err != nil {
		log.Fatal(err)
	}
}

func cmdRun(args *cli.Context) error {
	if args.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	config := &RunConfig{
		ServerURL:        args.String("server-url"),
		APIKey:           args.String("api-key"),
		Count:            args.Int64("count"),
		StartTime:        time.Duration(args.Int("start-time")) * time.Second,
		DevicePrefix:     args.String("device-prefix"),
		ProfilePath:      args.String("profile"),
		PackageName:      args.String("package"),
		CheckinInterval:  time.Duration(args.Int("checkin-interval")) * time.Second,
		ManifestInterval: time.Duration(args.Int("manifest-interval")) * time.Second,
		InstallTime:      time.Duration(args.Int("install-time")) * time.Second,
		MQTTBroker:       args.String("mqtt-broker"),
	}
	return run(config)
}
