package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/hjson"
	"github.com/knadh/koanf/providers/cliflagv2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v2"

	"github.com/mil-ad/bosectl/internal/headset"
)

const configFile = "bosectl.conf"

// Config holds the settings shared by the daemon and the client commands.
type Config struct {
	Adapter       string        `koanf:"adapter"`
	Device        string        `koanf:"device"`
	ServiceName   string        `koanf:"service-name"`
	Socket        string        `koanf:"socket"`
	OpenTimeout   time.Duration `koanf:"open-timeout"`
	QueryTimeout  time.Duration `koanf:"query-timeout"`
	InitOnConnect bool          `koanf:"init-on-connect"`
	PowerOn       bool          `koanf:"power-on"`
	LogLevel      string        `koanf:"log-level"`
	LogFormat     string        `koanf:"log-format"`
}

func defaultConfig() Config {
	return Config{
		Adapter:       "hci0",
		ServiceName:   headset.DefaultControlService,
		Socket:        socketPath(),
		OpenTimeout:   10 * time.Second,
		QueryTimeout:  10 * time.Second,
		InitOnConnect: true,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "bosectl", configFile)
}

func socketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "bosectl.sock")
}

// loadConfig layers the config file, if any, and then the command-line flags
// over the defaults.
func loadConfig(path string, cliCtx *cli.Context) (Config, error) {
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), hjson.Parser()); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if cliCtx != nil {
		if err := k.Load(cliflagv2.Provider(cliCtx, "."), nil); err != nil {
			return Config{}, fmt.Errorf("read flags: %w", err)
		}
	}

	cfg := defaultConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail much later.
func (c Config) Validate() error {
	if c.Adapter == "" {
		return errors.New("adapter must not be empty")
	}
	if c.ServiceName == "" {
		return errors.New("service-name must not be empty")
	}
	if c.Socket == "" {
		return errors.New("socket must not be empty")
	}
	if c.OpenTimeout <= 0 {
		return fmt.Errorf("open-timeout must be positive, got %s", c.OpenTimeout)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query-timeout must be positive, got %s", c.QueryTimeout)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if !slices.Contains(logFormats, c.LogFormat) {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// resolveDevice picks a device name. If name is non-empty, it is returned
// directly. Otherwise, the configured device is used.
func resolveDevice(cfg Config, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if cfg.Device == "" {
		return "", errors.New("no device specified and none configured")
	}
	return cfg.Device, nil
}
