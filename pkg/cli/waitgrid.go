package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dibtr/grid-runner/pkg/driver/appium"
)

var waitGridCommand = &cli.Command{
	Name:  "wait-grid",
	Usage: "Wait until the grid reports ready",
	Description: `Poll the /status endpoint of environment.local.grid.location with
exponential backoff until it reports ready or the timeout expires.

Examples:
  grid-runner wait-grid
  grid-runner --config env/ci.properties wait-grid --timeout 2m`,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for the grid",
			Value: 60 * time.Second,
		},
	},
	Action: waitGrid,
}

func waitGrid(c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	gridURL, err := settings.GridURL()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	if err := appium.NewClient(gridURL.String()).WaitReady(ctx, c.Duration("timeout")); err != nil {
		return fmt.Errorf("grid %s not ready after %s: %w", gridURL, formatDuration(time.Since(start).Milliseconds()), err)
	}
	fmt.Fprintf(outWriter(c), "%s grid %s is ready (%s)\n", green("✓"), gridURL, formatDuration(time.Since(start).Milliseconds()))
	return nil
}
