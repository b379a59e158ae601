package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginAdminID    string
	loginAdminEmail string
)

func init() {
	loginCmd.Flags().StringVar(&loginAdminID, "admin-id", "", "Admin user id announced on realtime channels")
	loginCmd.Flags().StringVar(&loginAdminEmail, "admin-email", "", "Admin email shown by 'status'")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an admin token in ~/.supportchat/config.toml",
	Long:  "Store the admin session token used for REST requests and the realtime handshake.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if loginAdminID != "" {
			cfg.Auth.AdminID = loginAdminID
		}
		if loginAdminEmail != "" {
			cfg.Auth.AdminEmail = loginAdminEmail
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored admin token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
