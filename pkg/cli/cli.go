// Package cli provides the command-line interface for grid-runner.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/dibtr/grid-runner/pkg/config"
	"github.com/dibtr/grid-runner/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// errScenariosFailed makes the process exit 1 without an error line; the
// summary table already shows what failed.
var errScenariosFailed = errors.New("one or more scenarios did not pass")

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Settings file (.properties, .yaml or .json)",
		Value:   config.DefaultConfigPath(),
		EnvVars: []string{"GRID_RUNNER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Rotating JSON log file (overrides logger.file)",
		EnvVars: []string{"GRID_RUNNER_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Log debug output to stderr",
		EnvVars: []string{"GRID_RUNNER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the grid-runner application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "grid-runner",
		Usage:   "Run UI scenarios on Appium and Selenium grids",
		Version: Version,
		Description: `grid-runner opens automation sessions on a local Appium server, a
Selenium grid or a remote device cloud and runs the scenarios of a suite file
against them, one session per scenario.

Examples:
  grid-runner run suite.yaml
  grid-runner --config env/ci.properties run suite.yaml --parallel 4
  grid-runner caps --platform-version 17.4 --device-name "iPhone 15"
  grid-runner wait-grid --timeout 2m`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				color.NoColor = true
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			capsCommand,
			waitGridCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		if !errors.Is(err, errScenariosFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// loadSettings reads the --config file. A missing file at the default
// location falls back to defaults plus environment overrides; an explicit
// --config must exist.
func loadSettings(c *cli.Context) (config.Settings, error) {
	path := c.String("config")
	if !c.IsSet("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// setupLogging configures the global logger from the logger.* settings and
// the global flags. --verbose adds a debug console on stderr.
func setupLogging(c *cli.Context, settings config.Settings) error {
	ls := settings.Logger()
	opts := logger.Options{
		File:       ls.File,
		Level:      ls.Level,
		MaxSizeMB:  ls.MaxSizeMB,
		MaxBackups: ls.MaxBackups,
		MaxAgeDays: ls.MaxAgeDays,
		Compress:   ls.Compress,
	}
	if f := c.String("log-file"); f != "" {
		opts.File = f
	}
	if c.Bool("verbose") {
		opts.Level = "debug"
		opts.Console = errWriter(c)
	}
	return logger.Configure(opts)
}

func outWriter(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
