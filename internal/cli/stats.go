package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daemon-wide counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient().GlobalStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the daemon to stop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().Shutdown(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("shutdown requested")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, shutdownCmd)
}
