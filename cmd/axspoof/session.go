package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/app"
	"github.com/mib2ctl/axspoof/pkg/backup"
	"github.com/mib2ctl/axspoof/pkg/config"
	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/history"
	"github.com/mib2ctl/axspoof/pkg/integrity"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.File != "" {
		slog.Debug("Using configuration file", "path", cfg.File)
	}
	return cfg, nil
}

func configTarget(cfg *config.Config) (devices.Target, error) {
	vid, err := parseID(cfg.Target.VID)
	if err != nil {
		return devices.Target{}, fmt.Errorf("target vid: %w", err)
	}
	pid, err := parseID(cfg.Target.PID)
	if err != nil {
		return devices.Target{}, fmt.Errorf("target pid: %w", err)
	}
	return devices.Target{VendorID: vid, ProductID: pid}, nil
}

func openBackupStore(cfg *config.Config) (*backup.Store, error) {
	fs := afero.NewOsFs()
	ks, err := integrity.NewFileKeyStore(fs, cfg.KeyStore.Dir, nil)
	if err != nil {
		return nil, err
	}
	opts := []backup.Option{backup.WithSealer(integrity.NewSealer(ks, integrity.DefaultKeyName, nil))}
	if !cfg.Backup.Encrypt {
		opts = append(opts, backup.WithoutEncryption())
	}
	return backup.NewStore(fs, cfg.Backup.Dir, opts...)
}

// env is everything a device command needs.
type env struct {
	cfg     *config.Config
	target  devices.Target
	adapter *adapter
	port    *eeprom.ASIXPort
	history *history.Store
	session *app.Session
}

func (e *env) Close() {
	if e.history != nil {
		e.history.Close()
	}
	if e.adapter != nil {
		if err := e.adapter.Close(); err != nil {
			slog.Warn("Closing adapter failed", "err", err)
		}
	}
}

func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	target, err := configTarget(cfg)
	if err != nil {
		return nil, err
	}
	store, err := openBackupStore(cfg)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, target: target}
	if cfg.History.Enabled {
		e.history, err = history.Open(cfg.History.Path)
		if err != nil {
			slog.Warn("History disabled", "err", err)
			e.history = nil
		}
	}

	e.adapter, err = openAdapter(target)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.port, err = eeprom.NewASIXPort(e.adapter.Usb, cfg.USB.Timeout, cfg.USB.WriteDelay)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.session = app.NewSession(e.adapter.Identity, e.port, store, app.Options{
		Target:            target,
		AllowExperimental: cfg.AllowExperimental,
		History:           e.history,
	})
	return e, nil
}
