// pistatusd is the status daemon and CLI for local pi coding agents.
package main

import (
	"os"

	"github.com/pi-agent/statusd/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
