package cli

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/model"
)

var (
	smokeName      string
	smokeTo        string
	smokeBindHTTP  string
	smokeBindHTTPS string
	smokeCertPath  string
	smokeKeyPath   string
	smokeServer    []string
	smokeUsername  string
	smokePassword  string
	smokePath      string
	smokeKeep      bool
)

// smokeCmd exercises a running daemon end to end: register a service, grant
// a user access, then fetch through the proxy with basic auth.
var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run an end-to-end check against a running daemon",
	Args:  cobra.NoArgs,
	RunE:  runSmoke,
}

func runSmoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	api := apiClient()

	create := model.CreateService{
		Name:       smokeName,
		ServerName: model.Names(smokeServer),
		From:       "/",
		To:         smokeTo,
	}
	if smokeBindHTTP != "" {
		create.BindHTTP = model.Addresses{smokeBindHTTP}
	}
	if smokeBindHTTPS != "" {
		create.BindHTTPS = model.Addresses{smokeBindHTTPS}
		create.Cert = &model.CreateServiceCert{Path: smokeCertPath, KeyPath: smokeKeyPath}
	}

	service, err := api.CreateServiceIdempotent(ctx, create)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	fmt.Printf("service %s registered\n", service.Name)

	if _, err := api.CreateUser(ctx, service.Name, model.CreateUser{
		Username: smokeUsername,
		Password: smokePassword,
	}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Printf("user %s added\n", smokeUsername)

	services, err := api.Services(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	if err := printJSON(services); err != nil {
		return err
	}

	proxyURL, scheme := "", "http"
	if !service.BindHTTPS.Empty() {
		scheme = "https"
		proxyURL = fmt.Sprintf("https://%s%s", service.BindHTTPS[0], smokePath)
	} else if !service.BindHTTP.Empty() {
		proxyURL = fmt.Sprintf("http://%s%s", service.BindHTTP[0], smokePath)
	} else {
		return fmt.Errorf("service %s has no listening addresses", service.Name)
	}

	// The smoke certificate is usually self-signed.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: scheme == "https"},
		},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", proxyURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(smokeUsername, smokePassword)

	res, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("proxied request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	fmt.Printf("GET %s: %s\n%s\n", proxyURL, res.Status, body)

	if !smokeKeep {
		if err := api.DeleteService(ctx, service.Name); err != nil {
			return fmt.Errorf("cleanup service: %w", err)
		}
		fmt.Printf("service %s removed\n", service.Name)
	}
	return nil
}

func init() {
	smokeCmd.Flags().StringVar(&smokeName, "name", "smoke-service", "service name to register")
	smokeCmd.Flags().StringVar(&smokeTo, "to", "", "destination URL the proxy forwards to")
	smokeCmd.Flags().StringVar(&smokeBindHTTP, "bind-http", "127.0.0.1:1180", "plain HTTP listening address")
	smokeCmd.Flags().StringVar(&smokeBindHTTPS, "bind-https", "", "TLS listening address")
	smokeCmd.Flags().StringVar(&smokeCertPath, "cert", "", "TLS certificate path")
	smokeCmd.Flags().StringVar(&smokeKeyPath, "key", "", "TLS key path")
	smokeCmd.Flags().StringSliceVar(&smokeServer, "server-name", []string{"127.0.0.1"}, "public host name")
	smokeCmd.Flags().StringVar(&smokeUsername, "username", "uu", "basic auth username")
	smokeCmd.Flags().StringVar(&smokePassword, "password", "pp", "basic auth password")
	smokeCmd.Flags().StringVar(&smokePath, "path", "/", "request path to fetch through the proxy")
	smokeCmd.Flags().BoolVar(&smokeKeep, "keep", false, "leave the service registered afterwards")
	_ = smokeCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(smokeCmd)
}
