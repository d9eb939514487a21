package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopfront/chatsync"
)

var (
	initRole    string
	initBaseURL string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initRole, "role", "", "Role to chat as: customer or admin")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "Chat API base URL (e.g. https://shop.example.com/api)")
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store a bearer token in ~/.chatsync/config.toml",
	Long:  "Initialize chatsync by storing your bearer token, and optionally role and API URL, in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if initRole != "" {
			role, err := chatsync.ParseRole(initRole)
			if err != nil {
				return err
			}
			cfg.Default.Role = string(role)
		}
		if cfg.Default.Role == "" {
			cfg.Default.Role = string(chatsync.RoleCustomer)
		}
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s (role: %s)\n", path, cfg.Default.Role)
		return nil
	},
}
