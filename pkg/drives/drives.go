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

// Package drives reports removable storage volumes as they are mounted and
// unmounted.
package drives

import (
	"time"

	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// DefaultRescanInterval is the longest time between mount table rescans
// when the table is polled. Some minimal systems never signal a change on
// the mount table file.
const DefaultRescanInterval = 1 * time.Second

// MountEvent represents a filesystem mount of a removable volume.
type MountEvent struct {
	// DeviceID identifies the volume across mount cycles: a filesystem
	// UUID or serial when known, else the device node.
	DeviceID string

	// DeviceNode is the block device path, e.g. "/dev/sdb1". May be empty.
	DeviceNode string

	// MountPath is the directory the volume is mounted on.
	MountPath string

	VolumeLabel string

	// DeviceType is "USB", "SD", "removable" or "unknown".
	DeviceType string
}

// Detector emits mount and unmount events for removable volumes.
type Detector interface {
	// Events delivers mounts. The channel is closed by Stop.
	Events() <-chan MountEvent

	// Unmounts delivers the DeviceID of unmounted volumes. The channel is
	// closed by Stop.
	Unmounts() <-chan string

	// Start begins monitoring. It fails if the platform facility cannot be
	// set up.
	Start() error

	// Stop ends monitoring and closes both channels.
	Stop()

	// Forget drops a volume from tracking so it is reported again on the
	// next scan.
	Forget(deviceID string)
}

// Options configure a Detector. Zero values select the defaults.
type Options struct {
	Fs    afero.Fs
	Clock clockwork.Clock

	// MountTable is read by the polling detector.
	MountTable string

	// ByUUIDDir holds filesystem UUID links to device nodes.
	ByUUIDDir string

	RescanInterval time.Duration

	// ForcePoll skips D-Bus and polls the mount table.
	ForcePoll bool
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.MountTable == "" {
		o.MountTable = mounts.ProcMounts
	}
	if o.ByUUIDDir == "" {
		o.ByUUIDDir = "/dev/disk/by-uuid"
	}
	if o.RescanInterval <= 0 {
		o.RescanInterval = DefaultRescanInterval
	}
	return o
}
