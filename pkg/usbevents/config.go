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

package usbevents

import (
	"context"

	"github.com/ZaparooProject/usbevents/pkg/config"
	"github.com/ZaparooProject/usbevents/pkg/drives"
	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/ZaparooProject/usbevents/pkg/platform/linux"
	"github.com/ZaparooProject/usbevents/pkg/watcher"
	"github.com/spf13/afero"
)

// SourceConfig maps the source section of the user config to the Linux
// source settings.
func SourceConfig(cfg *config.Instance) linux.Config {
	s := cfg.Source()
	return linux.Config{
		SysfsRoot:   s.SysfsRoot,
		UdevDataDir: s.UdevDataDir,
		MountTable:  s.MountTable,
	}
}

// NewMonitorFromConfig builds a Monitor over the system source using the
// user config. A configured mount table also seeds the drive path list.
// h may be nil.
func NewMonitorFromConfig(cfg *config.Instance, h watcher.Handler) *Monitor {
	mc := MonitorConfig{
		Handler:        h,
		Open:           SystemSource(SourceConfig(cfg)),
		SessionOptions: []watcher.Option{watcher.WithBackoff(cfg.WatcherBackoff())},
		Watch: Options{
			IncludeSecondarySubsystem: cfg.IncludeTTY(),
		},
	}

	if table := cfg.Source().MountTable; table != "" {
		mc.InitialMounts = func(context.Context) ([]mounts.Entry, error) {
			return mounts.ReadTable(afero.NewOsFs(), table)
		}
	}

	if cfg.DrivesEnabled() {
		opts := drives.Options{
			MountTable:     cfg.Source().MountTable,
			RescanInterval: cfg.DrivesRescanInterval(),
			ForcePoll:      cfg.DrivesForcePoll(),
		}
		mc.Detector = func() (drives.Detector, error) {
			return drives.New(opts)
		}
	}

	return NewMonitor(mc)
}
