// Command navq compiles and runs navigation-aware queries.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/navq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
