package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

// newSeedCmd creates the 'seed' subcommand.
func newSeedCmd() *cobra.Command {
	var (
		addr  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "seed URL...",
		Short: "Adds seeds to a running crawl",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			client := newOperatorClient(cfg, addr)
			data, err := client.do(cmd, http.MethodPost, "/v1/frontier/seeds", nil, map[string]any{
				"urls":  args,
				"force": force,
			})
			if err != nil {
				return err
			}
			return writeOut(cmd, data)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "operator API base URL (default http://localhost:<server.port>)")
	cmd.Flags().BoolVar(&force, "force", false, "refetch URIs that were already seen")
	return cmd
}
