package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// envConfigPath overrides the location of the config file.
const envConfigPath = "SUPPORT_CHAT_CONFIG"

// Config is the CLI configuration stored in ~/.supportchat/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds endpoint settings.
type ConfigDefault struct {
	APIURL    string `toml:"api_url,omitempty"`
	SocketURL string `toml:"socket_url,omitempty"`
	Origin    string `toml:"origin,omitempty"`
}

// ConfigAuth holds the admin session.
type ConfigAuth struct {
	Token      string `toml:"token,omitempty"`
	AdminID    string `toml:"admin_id,omitempty"`
	AdminEmail string `toml:"admin_email,omitempty"`
}

// ============================================================================
// Settings
// ============================================================================

// configSetting is one key accepted by 'config set'.
type configSetting struct {
	key   string
	label string
	field func(*Config) *string
	// schemes lists the accepted URL schemes; empty means a plain string.
	schemes []string
	secret  bool
}

var httpSchemes = []string{"http", "https"}

var configSettings = []configSetting{
	{key: "default.api_url", label: "API URL", schemes: httpSchemes,
		field: func(c *Config) *string { return &c.Default.APIURL }},
	{key: "default.socket_url", label: "Socket URL", schemes: []string{"http", "https", "ws", "wss"},
		field: func(c *Config) *string { return &c.Default.SocketURL }},
	{key: "default.origin", label: "Origin", schemes: httpSchemes,
		field: func(c *Config) *string { return &c.Default.Origin }},
	{key: "auth.token", label: "Token", secret: true,
		field: func(c *Config) *string { return &c.Auth.Token }},
	{key: "auth.admin_id", label: "Admin ID",
		field: func(c *Config) *string { return &c.Auth.AdminID }},
	{key: "auth.admin_email", label: "Admin Email",
		field: func(c *Config) *string { return &c.Auth.AdminEmail }},
}

func lookupSetting(key string) (configSetting, bool) {
	for _, s := range configSettings {
		if s.key == key {
			return s, true
		}
	}
	return configSetting{}, false
}

func settingKeys() []string {
	keys := make([]string, 0, len(configSettings))
	for _, s := range configSettings {
		keys = append(keys, s.key)
	}
	return keys
}

// setConfigValue validates value for key and stores it in cfg. An empty
// value clears the setting.
func setConfigValue(cfg *Config, key, value string) error {
	s, ok := lookupSetting(key)
	if !ok {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(settingKeys(), ", "))
	}
	value = strings.TrimSpace(value)
	if value != "" && len(s.schemes) > 0 {
		v, err := validateEndpoint(value, s.schemes)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		value = v
	}
	*s.field(cfg) = value
	return nil
}

// validateEndpoint checks raw is an absolute URL with one of schemes and
// returns it without a trailing slash.
func validateEndpoint(raw string, schemes []string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if !slices.Contains(schemes, strings.ToLower(u.Scheme)) {
		return "", fmt.Errorf("URL scheme must be one of %s, got %q", strings.Join(schemes, ", "), u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("URL has no host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// ============================================================================
// File
// ============================================================================

func configPath() (string, error) {
	if p := os.Getenv(envConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".supportchat", "config.toml"), nil
}

// loadConfig reads the config file. A missing file yields an empty Config;
// unknown keys are rejected so typos do not go unnoticed.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// saveConfig replaces the config file atomically. The file holds the admin
// token and is only readable by the owner.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// ============================================================================
// Display
// ============================================================================

// writeSettings prints the settings commands will actually use: endpoints
// resolved through flags, the config file and the environment, and the
// stored session with the token masked.
func writeSettings(w io.Writer, cfg *Config, lookup func(string) string) {
	apiURL, socketURL := resolveEndpoints(cfg, lookup)
	effective := *cfg
	effective.Default.APIURL = apiURL
	effective.Default.SocketURL = socketURL

	for _, s := range configSettings {
		v := *s.field(&effective)
		switch {
		case v == "":
			v = "(not set)"
		case s.secret:
			v = maskKey(v)
		}
		fmt.Fprintf(w, "  %-13s%s\n", s.label+":", v)
	}
}

// ============================================================================
// Commands
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage supportchat configuration",
	Long:  "View or modify the CLI configuration stored in ~/.supportchat/config.toml (or $" + envConfigPath + ").",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print the endpoints and session the other commands will use. The token is masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := configPath()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "Config file: %s (not created yet)\n", path)
		} else {
			fmt.Fprintf(out, "Config file: %s\n", path)
		}
		writeSettings(out, cfg, os.Getenv)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. URL keys must be absolute http(s) URLs; an empty value clears the key.\n" +
		"Keys: " + strings.Join(settingKeys(), ", ") + "\n" +
		"Example: supportchat config set default.api_url https://shop.example.com/api",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, key, args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}

		s, _ := lookupSetting(key)
		shown := *s.field(cfg)
		if s.secret && shown != "" {
			shown = maskKey(shown)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, shown)
		return nil
	},
}
