// Command tripctl evaluates formulas and push rule sets from the shell.
package main

import (
	"os"

	"github.com/liamcoop/tripflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
