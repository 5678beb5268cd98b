package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/model"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage proxy services",
}

var (
	serviceFile       string
	serviceName       string
	serviceFrom       string
	serviceTo         string
	serviceBindHTTP   []string
	serviceBindHTTPS  []string
	serviceServerName []string
	serviceCertPath   string
	serviceKeyPath    string
)

var serviceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a service from flags or a JSON descriptor file",
	Args:  cobra.NoArgs,
	RunE:  runServiceCreate,
}

var serviceGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show a single service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := apiClient().Service(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(service)
	},
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := apiClient().Services(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(services)
	},
}

var serviceDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DeleteService(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("service %s deleted\n", args[0])
		return nil
	},
}

func runServiceCreate(cmd *cobra.Command, args []string) error {
	var create model.CreateService

	if serviceFile != "" {
		data, err := os.ReadFile(serviceFile)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &create); err != nil {
			return fmt.Errorf("parse %s: %w", serviceFile, err)
		}
	}

	if serviceName != "" {
		create.Name = serviceName
	}
	if serviceFrom != "" {
		create.From = serviceFrom
	}
	if serviceTo != "" {
		create.To = serviceTo
	}
	if len(serviceBindHTTP) > 0 {
		addrs, err := model.ParseAddresses(serviceBindHTTP...)
		if err != nil {
			return err
		}
		create.BindHTTP = addrs
	}
	if len(serviceBindHTTPS) > 0 {
		addrs, err := model.ParseAddresses(serviceBindHTTPS...)
		if err != nil {
			return err
		}
		create.BindHTTPS = addrs
	}
	if len(serviceServerName) > 0 {
		create.ServerName = model.Names(serviceServerName)
	}
	if serviceCertPath != "" || serviceKeyPath != "" {
		create.Cert = &model.CreateServiceCert{Path: serviceCertPath, KeyPath: serviceKeyPath}
	}

	service, err := apiClient().CreateService(cmd.Context(), create)
	if err != nil {
		return err
	}
	return printJSON(service)
}

func init() {
	serviceCreateCmd.Flags().StringVarP(&serviceFile, "file", "f", "", "JSON service descriptor file")
	serviceCreateCmd.Flags().StringVar(&serviceName, "name", "", "service name")
	serviceCreateCmd.Flags().StringVar(&serviceFrom, "from", "", "source endpoint prefix, e.g. /resource")
	serviceCreateCmd.Flags().StringVar(&serviceTo, "to", "", "destination URL")
	serviceCreateCmd.Flags().StringSliceVar(&serviceBindHTTP, "bind-http", nil, "plain HTTP listening address")
	serviceCreateCmd.Flags().StringSliceVar(&serviceBindHTTPS, "bind-https", nil, "TLS listening address")
	serviceCreateCmd.Flags().StringSliceVar(&serviceServerName, "server-name", nil, "public host name the service answers to")
	serviceCreateCmd.Flags().StringVar(&serviceCertPath, "cert", "", "TLS certificate path")
	serviceCreateCmd.Flags().StringVar(&serviceKeyPath, "key", "", "TLS key path")

	serviceCmd.AddCommand(serviceCreateCmd, serviceGetCmd, serviceListCmd, serviceDeleteCmd)
	rootCmd.AddCommand(serviceCmd)
}
