package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(*cobra.Command, []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, err := openLibrary(cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()
			log.Info("schema up to date", "driver", cfg.Database.Driver)
			return nil
		},
	}
}

func createAdminCmd() *cobra.Command {
	var username, email string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account, or promote an existing member",
		Long: "Creates an admin account. The password is taken from ADMIN_PASSWORD " +
			"or prompted for. An existing member with that username is promoted instead.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			password := os.Getenv("ADMIN_PASSWORD")
			if password == "" {
				if password, err = promptNewPassword(username); err != nil {
					return err
				}
			}

			mgr, err := openLibrary(cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			u, created, err := mgr.Users.EnsureAdmin(cmd.Context(), library.NewUser{
				Username: username,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Created admin '%s' with ID %d\n", u.Username, u.ID)
			} else {
				fmt.Printf("User '%s' (ID %d) is an admin\n", u.Username, u.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "admin username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "admin email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func promptNewPassword(username string) (string, error) {
	password, err := readPassword(fmt.Sprintf("Enter password for %s: ", username))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if confirm != password {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

func listUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "Print every account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, err := openLibrary(cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			users, err := mgr.Users.GetAll(cmd.Context(), &library.Caller{Role: library.RoleAdmin})
			if err != nil {
				return err
			}
			fmt.Printf("%-4s %-24s %-36s %-7s\n", "ID", "Username", "Email", "Role")
			fmt.Println(strings.Repeat("-", 74))
			for _, u := range users {
				fmt.Printf("%-4d %-24s %-36s %-7s\n", u.ID, truncateString(u.Username, 24), truncateString(u.Email, 36), u.Role)
			}
			return nil
		},
	}
}
