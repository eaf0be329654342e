// Command algo runs multi-leg options strategies with scheduling and auto
// square-off.
package main

import (
	"os"

	"github.com/Hari-sh-S/options-algo/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
