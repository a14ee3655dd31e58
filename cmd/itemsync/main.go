// Command itemsync synchronizes work items between providers according to
// declarative CUE rules.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/itemsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()

	// Commands report their own failures; only cobra usage errors reach here unprinted.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
