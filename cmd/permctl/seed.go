package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/db"
	"github.com/odyssey-erp/odyssey-dashboard/internal/rbac"
	"github.com/odyssey-erp/odyssey-dashboard/internal/users"
)

// catalogFile is the seed document: the permission catalog plus optional
// bootstrap users.
type catalogFile struct {
	permissions.SeedFile `yaml:",inline"`
	Users                []seedUser `yaml:"users"`
}

type seedUser struct {
	Email    string   `yaml:"email"`
	Name     string   `yaml:"name"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

func readCatalogFile(path string) (catalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return catalogFile{}, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return catalogFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return file, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert actions, modules, roles, grants and users from a YAML file",
	Long: `Upsert actions, modules, roles, grants and users from a YAML file.

Roles listed in the file get exactly the listed grants; "*" grants every
action of a module. Roles absent from the file are left untouched.

Example:
  permctl seed --file deploy/permissions/catalog.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		file, err := readCatalogFile(path)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
		if err != nil {
			return err
		}
		defer pool.Close()

		var permissionCache *permissions.Cache
		if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr}); err != nil {
			logger.Warn("redis unavailable, server caches expire on their own", slog.Any("error", err))
		} else {
			defer func() { _ = client.Close() }()
			permissionCache = permissions.NewCache(client, 0)
		}

		service := permissions.NewService(permissions.NewRepository(pool), permissions.ServiceConfig{Cache: permissionCache, Logger: logger})
		summary, err := service.Seed(ctx, file.SeedFile)
		if err != nil {
			return err
		}
		seeded, err := seedUsers(ctx, users.NewService(users.NewRepository(pool)), rbac.NewService(rbac.NewRepository(pool)), file.Users)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d actions, %d modules, %d roles, %d users\n", summary.Actions, summary.Modules, summary.Roles, seeded)
		return nil
	},
}

type userUpserter interface {
	Upsert(ctx context.Context, input users.UpsertInput) (users.User, error)
}

type roleAssigner interface {
	AssignRole(ctx context.Context, userID int64, roleID string) error
}

func seedUsers(ctx context.Context, svc userUpserter, assigner roleAssigner, list []seedUser) (int, error) {
	for _, u := range list {
		user, err := svc.Upsert(ctx, users.UpsertInput{Email: u.Email, Name: u.Name, Password: u.Password})
		if err != nil {
			return 0, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		for _, roleID := range u.Roles {
			if err := assigner.AssignRole(ctx, user.ID, roleID); err != nil {
				return 0, fmt.Errorf("assign %s to %s: %w", roleID, u.Email, err)
			}
		}
	}
	return len(list), nil
}

func init() {
	seedCmd.Flags().StringP("file", "f", "", "catalog YAML file")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
