// Zaparoo USB Events
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo USB Events.
//
// Zaparoo USB Events is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo USB Events is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo USB Events.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "USBEVENTS_CFG"

	DefaultBackoff        = 100 * time.Millisecond
	DefaultRescanInterval = 1 * time.Second
)

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Watcher      Watcher `toml:"watcher"`
	Source       Source  `toml:"source,omitempty"`
	Drives       Drives  `toml:"drives"`
	ConfigSchema int     `toml:"config_schema"`
	DebugLogging bool    `toml:"debug_logging"`
}

type Watcher struct {
	// Backoff is the pause after a failed event wait, as a Go duration.
	Backoff    string `toml:"backoff,omitempty" validate:"omitempty,duration"`
	IncludeTTY bool   `toml:"include_tty"`
}

// Source overrides where host device information is read from. Empty
// values use the system locations.
type Source struct {
	SysfsRoot   string `toml:"sysfs_root,omitempty" validate:"omitempty,startswith=/"`
	UdevDataDir string `toml:"udev_data_dir,omitempty" validate:"omitempty,startswith=/"`
	MountTable  string `toml:"mount_table,omitempty" validate:"omitempty,startswith=/"`
}

type Drives struct {
	RescanInterval string `toml:"rescan_interval,omitempty" validate:"omitempty,duration"`
	Enabled        bool   `toml:"enabled"`
	ForcePoll      bool   `toml:"force_poll,omitempty"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Drives: Drives{
		Enabled: true,
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		val := fl.Field().String()
		if val == "" {
			return true
		}
		d, err := time.ParseDuration(val)
		return err == nil && d > 0
	})
	return v
}

type Instance struct {
	fs       afero.Fs
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig loads the config file, writing the defaults to it first if it
// does not exist. The path comes from the USBEVENTS_CFG environment
// variable, else configDir/config.toml.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		fs:       fs,
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := fs.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		log.Info().Msg("saving new default config to disk")

		if err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields missing from the file keep their default values.
	newVals := c.defaults
	if err := toml.Unmarshal(data, &newVals); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return ErrSchemaMismatch
	}

	if err := validate.Struct(newVals); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) Path() string {
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

func (c *Instance) IncludeTTY() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Watcher.IncludeTTY
}

func (c *Instance) SetIncludeTTY(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Watcher.IncludeTTY = enabled
}

// WatcherBackoff returns the configured wait failure backoff, or the
// default when unset.
func (c *Instance) WatcherBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Watcher.Backoff, DefaultBackoff)
}

func (c *Instance) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Source
}

func (c *Instance) DrivesEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Drives.Enabled
}

func (c *Instance) DrivesForcePoll() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Drives.ForcePoll
}

func (c *Instance) DrivesRescanInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Drives.RescanInterval, DefaultRescanInterval)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
