package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/model"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage service users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <service> <username> <password>",
	Short: "Grant a user access to a service",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := apiClient().CreateUser(cmd.Context(), args[0], model.CreateUser{
			Username: args[1],
			Password: args[2],
		})
		if err != nil {
			return err
		}
		return printJSON(user)
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove <service> <username>",
	Short: "Revoke a user's access",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DeleteUser(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("user %s removed from %s\n", args[1], args[0])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list <service>",
	Short: "List the users of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := apiClient().Users(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(users)
	},
}

var userStatsEndpoints bool

var userStatsCmd = &cobra.Command{
	Use:   "stats <service> <username>",
	Short: "Show a user's request counters",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if userStatsEndpoints {
			stats, err := apiClient().UserEndpointStats(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(stats)
		}
		stats, err := apiClient().UserStats(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	userStatsCmd.Flags().BoolVar(&userStatsEndpoints, "endpoints", false, "break counters down by request path")

	userCmd.AddCommand(userAddCmd, userRemoveCmd, userListCmd, userStatsCmd)
	rootCmd.AddCommand(userCmd)
}
