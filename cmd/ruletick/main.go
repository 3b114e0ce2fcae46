// Command ruletick runs analytic rules on their schedules.
package main

import (
	"os"

	"github.com/watzon/ruletick/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
