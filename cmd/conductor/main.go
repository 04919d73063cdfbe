// Command conductor runs the Plan/Job DAG scheduler from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/ironham/conductor/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
