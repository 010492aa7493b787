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
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigDir = "/home/pi/.config/usbevents"

func writeConfig(t *testing.T, fs afero.Fs, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(testConfigDir, 0o750))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testConfigDir, CfgFile), []byte(content), 0o600))
}

func TestNewConfig_WritesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()

	cfg, err := NewConfig(fs, testConfigDir, BaseDefaults)
	require.NoError(t, err)

	exists, err := afero.Exists(fs, filepath.Join(testConfigDir, CfgFile))
	require.NoError(t, err)
	assert.True(t, exists, "default config saved to disk")

	assert.False(t, cfg.IncludeTTY())
	assert.False(t, cfg.DebugLogging())
	assert.True(t, cfg.DrivesEnabled())
	assert.False(t, cfg.DrivesForcePoll())
	assert.Equal(t, DefaultBackoff, cfg.WatcherBackoff())
	assert.Equal(t, DefaultRescanInterval, cfg.DrivesRescanInterval())
	assert.Equal(t, Source{}, cfg.Source())
}

func TestNewConfig_LoadsValues(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `
config_schema = 1
debug_logging = true

[watcher]
include_tty = true
backoff = "250ms"

[source]
sysfs_root = "/host/sys"
mount_table = "/host/proc/mounts"

[drives]
rescan_interval = "5s"
force_poll = true
`)

	cfg, err := NewConfig(fs, testConfigDir, BaseDefaults)
	require.NoError(t, err)

	assert.True(t, cfg.DebugLogging())
	assert.True(t, cfg.IncludeTTY())
	assert.Equal(t, 250*time.Millisecond, cfg.WatcherBackoff())
	assert.Equal(t, Source{SysfsRoot: "/host/sys", MountTable: "/host/proc/mounts"}, cfg.Source())
	assert.True(t, cfg.DrivesEnabled(), "missing keys keep their defaults")
	assert.True(t, cfg.DrivesForcePoll())
	assert.Equal(t, 5*time.Second, cfg.DrivesRescanInterval())
}

func TestNewConfig_EnvPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv(CfgEnv, "/etc/usbevents.toml")

	cfg, err := NewConfig(fs, testConfigDir, BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, "/etc/usbevents.toml", cfg.Path())

	exists, err := afero.Exists(fs, "/etc/usbevents.toml")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		schema  bool
	}{
		{name: "bad toml", content: "config_schema = [\n"},
		{name: "schema mismatch", content: "config_schema = 99\n", schema: true},
		{name: "bad duration", content: "config_schema = 1\n[watcher]\nbackoff = \"soon\"\n"},
		{name: "negative duration", content: "config_schema = 1\n[drives]\nrescan_interval = \"-1s\"\n"},
		{name: "relative path", content: "config_schema = 1\n[source]\nsysfs_root = \"sys\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeConfig(t, fs, tt.content)

			_, err := NewConfig(fs, testConfigDir, BaseDefaults)
			require.Error(t, err)
			if tt.schema {
				require.ErrorIs(t, err, ErrSchemaMismatch)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	cfg, err := NewConfig(fs, testConfigDir, BaseDefaults)
	require.NoError(t, err)

	cfg.SetIncludeTTY(true)
	cfg.SetDebugLogging(true)
	require.NoError(t, cfg.Save())

	reloaded, err := NewConfig(fs, testConfigDir, BaseDefaults)
	require.NoError(t, err)
	assert.True(t, reloaded.IncludeTTY())
	assert.True(t, reloaded.DebugLogging())
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, parseDuration("", time.Second))
	assert.Equal(t, time.Second, parseDuration("junk", time.Second))
	assert.Equal(t, time.Second, parseDuration("0s", time.Second))
	assert.Equal(t, 2*time.Minute, parseDuration("2m", time.Second))
}
