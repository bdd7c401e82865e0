// Command molingest is the command line client of the upload pipeline.
package main

import (
	"os"

	"github.com/turtacn/molingest/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
