// Command statekeeper compiles, runs and inspects declarative stores.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/statekeeper/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()

	// Commands report their own ExitErrors; flag and format errors are plain.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
