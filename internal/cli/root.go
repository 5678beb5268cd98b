// Package cli implements the authgate management command line.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/client"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Manage authgate proxy services and users",
	Long: `authgate talks to a running authgated daemon over its management API.

Services map a public endpoint prefix to an upstream URL and only let
requests through that carry known basic-auth credentials.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "management API URL (default $AUTHGATE_API_URL or "+client.DefaultAPIURL+")")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func apiClient() *client.Client {
	return client.New(apiURL)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
