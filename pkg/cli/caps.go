package cli

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dibtr/grid-runner/pkg/capability"
	"github.com/dibtr/grid-runner/pkg/core"
)

var capsCommand = &cli.Command{
	Name:  "caps",
	Usage: "Print the new-session payload for the current settings",
	Description: `Print the JSON body that would be sent to open a session, without
contacting the grid. Useful to check what a device cloud will receive.

Examples:
  grid-runner caps --platform-version 17.4 --device-name "iPhone 15"
  grid-runner caps --platform web`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "platform",
			Usage: "Session platform (mobile, web)",
			Value: string(core.PlatformMobile),
		},
		&cli.StringFlag{
			Name:  "platform-version",
			Usage: "platformVersion capability (mobile)",
		},
		&cli.StringFlag{
			Name:  "device-name",
			Usage: "deviceName capability (mobile)",
		},
		&cli.BoolFlag{
			Name:  "full-reset",
			Usage: "Request a full reset of the app (mobile)",
		},
	},
	Action: printCaps,
}

func printCaps(c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}

	var caps *capability.Set
	switch core.Platform(c.String("platform")) {
	case core.PlatformMobile:
		caps = capability.Mobile(settings, capability.Request{
			PlatformVersion: c.String("platform-version"),
			DeviceName:      c.String("device-name"),
			FullReset:       c.Bool("full-reset"),
		})
	case core.PlatformWeb:
		caps = capability.Web(settings)
	default:
		return fmt.Errorf("unknown platform %q (want mobile or web)", c.String("platform"))
	}

	enc := json.NewEncoder(outWriter(c))
	enc.SetIndent("", "  ")
	return enc.Encode(caps.Payload())
}
