// Command cropctl runs predictions and inspects the city table offline, using the same
// configuration and models as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/crop-advisory-service/internal/app"
	"github.com/kjstillabower/crop-advisory-service/internal/config"
	"github.com/kjstillabower/crop-advisory-service/internal/models"
	"github.com/kjstillabower/crop-advisory-service/internal/observability"
	"github.com/kjstillabower/crop-advisory-service/internal/validation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "cropctl",
		Usage: "Crop, fertilizer and pesticide recommendations from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Value: "config",
				Usage: "Directory holding {ENV_NAME}.yaml and secrets.yaml",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log startup details to stderr",
			},
		},
		Commands: []*cli.Command{
			predictCmd(),
			citiesCmd(),
		},
	}
}

func predictCmd() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Recommend a crop, fertilizer and pesticides for a city and weather reading",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "city", Required: true, Usage: "City name (case-insensitive)"},
			&cli.FloatFlag{Name: "temperature", Required: true, Usage: "Temperature in °C"},
			&cli.FloatFlag{Name: "humidity", Required: true, Usage: "Relative humidity in percent"},
			&cli.FloatFlag{Name: "rainfall", Required: true, Usage: "Rainfall in mm"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			city, err := validation.ValidateCity(cmd.String("city"), validation.DefaultCityMinLength, validation.DefaultCityMaxLength)
			if err != nil {
				return err
			}
			f := models.Features{
				Temperature: cmd.Float("temperature"),
				Humidity:    cmd.Float("humidity"),
				Rainfall:    cmd.Float("rainfall"),
			}
			if err := validation.ValidateFeatures(f); err != nil {
				return err
			}

			a, err := loadApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Service.Predict(ctx, city, f)
			if err != nil {
				return fmt.Errorf("predict: %w", err)
			}
			if result.IsIneligible() {
				fmt.Fprintf(cmd.Root().ErrWriter, "%s: not in the city table or not eligible for farming\n", city)
			}
			enc := json.NewEncoder(cmd.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func citiesCmd() *cli.Command {
	return &cli.Command{
		Name:  "cities",
		Usage: "List the city table",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "eligible", Usage: "Only list cities whose farming status is Yes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.LoadDir(cmd.String("config-dir"))
			if err != nil {
				return err
			}
			table, err := app.LoadCities(ctx, cfg)
			if err != nil {
				return fmt.Errorf("city table: %w", err)
			}

			w := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CITY\tFARMING_STATUS")
			for _, r := range table.Records() {
				if cmd.Bool("eligible") && !r.Eligible() {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\n", r.Name, r.FarmingStatus)
			}
			return w.Flush()
		},
	}
}

// loadApp builds the prediction stack from --config-dir. Startup logs go to stderr with --verbose.
func loadApp(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	cfg, err := config.LoadDir(cmd.String("config-dir"))
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if cmd.Bool("verbose") {
		if logger, err = observability.NewLogger(); err != nil {
			return nil, err
		}
	}
	return app.New(ctx, cfg, logger)
}
