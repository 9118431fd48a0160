// Command grid-runner runs UI scenarios on Appium and Selenium grids.
package main

import "github.com/dibtr/grid-runner/pkg/cli"

func main() {
	cli.Execute()
}
