package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pi-agent/statusd/internal/config"
	"github.com/pi-agent/statusd/internal/route"
	"github.com/pi-agent/statusd/internal/scan"
	"github.com/pi-agent/statusd/internal/sockd"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the status daemon in the foreground",
	Long: `Run the status daemon in the foreground.

The daemon binds ` + "`statusd.sock`" + ` in the runtime directory and serves one
request per connection until stopped. Only one instance runs per user;
a second invocation exits immediately.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	scanner := scan.NewScanner()
	router := route.NewRouter()
	srv := sockd.NewServer(scanner, router)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Printf("[statusd] received %s, shutting down", s)
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, sockd.ErrAlreadyRunning) {
		return fmt.Errorf("another statusd instance owns %s", config.LockPath())
	}
	return err
}
