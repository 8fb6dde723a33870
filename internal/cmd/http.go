package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pi-agent/statusd/internal/config"
	"github.com/pi-agent/statusd/internal/httpd"
)

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Run the HTTP gateway in the foreground",
	Long: `Run the HTTP gateway in the foreground.

The gateway proxies the daemon socket to HTTP clients: status snapshots,
long-poll and SSE watch streams, and a rate-limited send endpoint. When
HTTPS is enabled it also listens with a self-signed certificate whose
fingerprint is reported on /tls.

Configuration comes from statusd-http.json in the runtime directory and
PI_STATUSD_HTTP_* environment overrides; --host and --port win over both.`,
	RunE: runHTTP,
}

var (
	httpHost string
	httpPort int
)

func init() {
	httpCmd.Flags().StringVar(&httpHost, "host", "", "Bind address (overrides config)")
	httpCmd.Flags().IntVar(&httpPort, "port", 0, "Bind port (overrides config)")
	rootCmd.AddCommand(httpCmd)
}

func runHTTP(cmd *cobra.Command, args []string) error {
	cfg := config.LoadHTTP()
	if httpHost != "" {
		cfg.Host = httpHost
	}
	if httpPort != 0 {
		cfg.Port = httpPort
	}
	return httpd.NewGateway(cfg).ListenAndServe()
}
