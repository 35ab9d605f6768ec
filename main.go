package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/config"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/logging"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $LIBRARY_CONFIG)")
	root.AddCommand(serveCmd(), migrateCmd(), createAdminCmd(), listUsersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the logger for it.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.Log), nil
}

func openLibrary(cfg *config.Config) (*library.Manager, error) {
	scope, err := library.ParseLogScope(cfg.Lending.MemberLogScope)
	if err != nil {
		return nil, err
	}
	mgr, err := library.NewManager(library.Options{
		Driver:         library.Driver(cfg.Database.Driver),
		DSN:            cfg.DSN(),
		PasswordCost:   cfg.Auth.BcryptCost,
		LoanPeriod:     cfg.Lending.LoanPeriod,
		MemberLogScope: scope,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return mgr, nil
}

// readPassword reads a password from the terminal without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
