package cmd

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// newReportCmd creates the 'report' subcommand.
func newReportCmd() *cobra.Command {
	var (
		addr   string
		format string
		queues int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Prints the report of a running crawl",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			client := newOperatorClient(cfg, addr)
			path, query := "/v1/frontier/report", url.Values{"format": {format}}
			switch format {
			case "stats":
				path, query = "/v1/frontier/stats", nil
			case "queues":
				path, query = "/v1/frontier/queues", url.Values{"limit": {strconv.Itoa(queues)}}
			}
			data, err := client.do(cmd, http.MethodGet, path, query, nil)
			if err != nil {
				return err
			}
			return writeOut(cmd, data)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "operator API base URL (default http://localhost:<server.port>)")
	cmd.Flags().StringVar(&format, "format", "full", "line, full, stats or queues")
	cmd.Flags().IntVar(&queues, "queues", 100, "queue limit for --format=queues")
	return cmd
}
