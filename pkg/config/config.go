// Package config loads axspoof settings from a YAML file, AXSPOOF_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const Name = "axspoof"

type Backup struct {
	Dir     string `mapstructure:"dir"`
	Encrypt bool   `mapstructure:"encrypt"`
	// Keep is the number of backups retained by prune.
	Keep int `mapstructure:"keep"`
}

type KeyStore struct {
	Dir string `mapstructure:"dir"`
}

type History struct {
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

type USB struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	WriteDelay time.Duration `mapstructure:"write-delay"`
}

// Target holds the identity to spoof to, as typed by the user (0x2001).
type Target struct {
	VID string `mapstructure:"vid"`
	PID string `mapstructure:"pid"`
}

type Config struct {
	Backup            Backup   `mapstructure:"backup"`
	KeyStore          KeyStore `mapstructure:"keystore"`
	History           History  `mapstructure:"history"`
	USB               USB      `mapstructure:"usb"`
	Target            Target   `mapstructure:"target"`
	AllowExperimental bool     `mapstructure:"allow-experimental"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"backup-dir":         "backup.dir",
	"encrypt":            "backup.encrypt",
	"keep":               "backup.keep",
	"keystore-dir":       "keystore.dir",
	"history-db":         "history.path",
	"history":            "history.enabled",
	"usb-timeout":        "usb.timeout",
	"write-delay":        "usb.write-delay",
	"vid":                "target.vid",
	"pid":                "target.pid",
	"allow-experimental": "allow-experimental",
}

func setDefaults(v *viper.Viper) {
	dataDir := filepath.Join(xdg.DataHome, Name)
	v.SetDefault("backup.dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup.encrypt", true)
	v.SetDefault("backup.keep", 20)
	v.SetDefault("keystore.dir", filepath.Join(dataDir, "keys"))
	v.SetDefault("history.path", filepath.Join(xdg.StateHome, Name, "history.db"))
	v.SetDefault("history.enabled", true)
	v.SetDefault("usb.timeout", 5*time.Second)
	v.SetDefault("usb.write-delay", 10*time.Millisecond)
	v.SetDefault("target.vid", "0x2001")
	v.SetDefault("target.pid", "0x3C05")
	v.SetDefault("allow-experimental", false)
}

// Load reads the configuration. An empty path searches the XDG config
// directory and the working directory for axspoof.yaml; a missing file is
// not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, Name))
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	v.SetEnvPrefix(strings.ToUpper(Name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("could not bind flag %q: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}
	c.File = v.ConfigFileUsed()
	if c.USB.Timeout <= 0 {
		return nil, fmt.Errorf("usb.timeout must be positive, got %s", c.USB.Timeout)
	}
	if c.USB.WriteDelay < 0 {
		return nil, fmt.Errorf("usb.write-delay must not be negative, got %s", c.USB.WriteDelay)
	}
	return &c, nil
}
