package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the operator-tunable settings for rds-proxy. Everything has
// a sensible default; the file exists mostly so regions and bastion login
// users do not have to be repeated on every invocation.
type Config struct {
	Region   string `mapstructure:"region" yaml:"region"`
	Profile  string `mapstructure:"profile" yaml:"profile"`
	SSHUser  string `mapstructure:"ssh_user" yaml:"ssh_user"`
	Language string `mapstructure:"language" yaml:"language"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`
}

// Dir returns the per-user rds-proxy directory. Key material, control
// sockets and the session history database all live here.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	dir := filepath.Join(base, "rds-proxy")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("could not create %s: %w", dir, err)
	}
	return dir, nil
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "rds-proxy")
		default: // Linux, macOS, etc.
			configDir = "/etc/rds-proxy"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "rds-proxy")
	}

	return filepath.Join(configDir, "rds-proxy.yaml"), nil
}

// Path returns the location of the user (or system) configuration file.
func Path(system bool) (string, error) {
	return getConfigPath(system)
}

// LoadConfig resolves the effective configuration: defaults, then config
// file, then RDS_PROXY_* environment variables, then command-line flags.
func LoadConfig(cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (Config, error) {
	var c Config
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search (rds-proxy.yaml)
	v.SetConfigName("rds-proxy")
	v.SetConfigType("yaml")

	// 3. Explicit config file path from --config has the highest precedence
	// for file-based configuration.
	if additionalConfigFilePath != nil && *additionalConfigFilePath != "" {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	// 4. Standard config locations
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for rds-proxy.yaml in current dir

	// 5. Read in the primary config file.
	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	// 6. Read from environment variables
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("rds_proxy")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return c, err
	}

	// Flag spellings differ from config keys; bind the aliases explicitly.
	for key, flagName := range map[string]string{
		"ssh_user": "ssh-user",
		"language": "lang",
	} {
		f := cmd.Flags().Lookup(flagName)
		if f == nil {
			f = cmd.InheritedFlags().Lookup(flagName)
		}
		if f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return c, err
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile persists the given configuration as YAML to the standard
// user (or system) location, creating the directory if needed.
func WriteConfigFile(c *Config, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file may carry a profile name the operator considers private.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	return nil
}
