package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions/client"
)

func loginClient(cmd *cobra.Command) (*client.Client, error) {
	if cfg.APIEmail == "" || cfg.APIPassword == "" {
		return nil, fmt.Errorf("PERMISSIONS_API_EMAIL and PERMISSIONS_API_PASSWORD are required")
	}
	c := client.New(cfg.APIURL)
	if err := c.Login(cmd.Context(), cfg.APIEmail, cfg.APIPassword); err != nil {
		return nil, err
	}
	return c, nil
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the live permission matrix as a seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loginClient(cmd)
		if err != nil {
			return err
		}
		catalog, err := c.ListModules(cmd.Context())
		if err != nil {
			return err
		}
		roles, err := c.ListRoles(cmd.Context())
		if err != nil {
			return err
		}
		raw, err := yaml.Marshal(permissions.SeedFromCatalog(catalog, roles))
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" || out == "-" {
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		}
		if err := os.WriteFile(out, raw, 0o644); err != nil {
			return err
		}
		logger.Info("matrix exported", "path", out, "roles", len(roles), "modules", len(catalog.Modules))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("out", "o", "-", "output file, - for stdout")
	rootCmd.AddCommand(exportCmd)
}
