package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "Print the config file as stored")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsync configuration",
	Long:  "View or modify the chatsync configuration stored in ~/.chatsync/config.toml.",
}

var configShowRaw bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: "Print every setting with the value chatsync will use and where it came from:\n" +
		"a CHATSYNC_* environment variable (including .env), the config file, or the built-in default.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if configShowRaw {
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No configuration file found. Run 'chatsync init <token>' to create one.")
					return nil
				}
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Printf("Config file: %s\n\n", path)
		return printEffectiveSettings(cmd.OutOrStdout(), cfg)
	},
}

// settingRow is one line of `config show`.
type settingRow struct {
	key       string
	envKey    string
	fileValue string
	value     string
}

// printEffectiveSettings writes the resolved settings with the source of each.
func printEffectiveSettings(w io.Writer, cfg *Config) error {
	s, err := resolveSettings(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	rows := []settingRow{
		{"default.base_url", "CHATSYNC_BASE_URL", cfg.Default.BaseURL, valueOrDefault(s.BaseURL, "(unset)")},
		{"default.role", "CHATSYNC_ROLE", cfg.Default.Role, string(s.Role)},
		{"default.poll_interval", "CHATSYNC_POLL_INTERVAL", cfg.Default.PollInterval, s.PollInterval.String()},
		{"default.inbox_interval", "CHATSYNC_INBOX_INTERVAL", cfg.Default.InboxInterval, s.InboxInterval.String()},
		{"default.log_level", "CHATSYNC_LOG_LEVEL", cfg.Default.LogLevel, s.LogLevel},
		{"auth.token", "CHATSYNC_TOKEN", cfg.Auth.Token, valueOrDefault(maskKey(s.Token), "(unset)")},
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.key, row.value, settingSource(row.envKey, row.fileValue))
	}
	return tw.Flush()
}

func settingSource(envKey, fileValue string) string {
	if os.Getenv(envKey) != "" {
		return "env " + envKey
	}
	if fileValue != "" {
		return "file"
	}
	return "default"
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatsync config set default.poll_interval 3s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "auth.token" {
			value = maskKey(value)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
