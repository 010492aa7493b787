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

// Package platform defines the contract between the watcher and resolver
// and the host's device notification and device tree facilities.
package platform

import (
	"context"
	"errors"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/mounts"
)

const (
	SubsystemUSB   = "usb"
	SubsystemTTY   = "tty"
	SubsystemSCSI  = "scsi"
	SubsystemBlock = "block"

	DevTypePartition = "partition"
	DevTypeDisk      = "disk"
)

var (
	// ErrSourceUnavailable is returned when the device source cannot be
	// initialized or enumerated.
	ErrSourceUnavailable = errors.New("device source unavailable")

	// ErrSubscriptionFailed is returned when live event delivery or its
	// filters cannot be set up.
	ErrSubscriptionFailed = errors.New("device event subscription failed")

	// ErrNoDevice is returned by tree lookups that find nothing.
	ErrNoDevice = errors.New("no such device")
)

// Filter selects the device classes a source reports.
type Filter struct {
	// IncludeSecondary also reports the secondary device class (serial
	// ttys) alongside USB devices.
	IncludeSecondary bool
}

// Subsystems returns the subsystems matched by the filter.
func (f Filter) Subsystems() []string {
	if f.IncludeSecondary {
		return []string{SubsystemUSB, SubsystemTTY}
	}
	return []string{SubsystemUSB}
}

// Matches reports whether a device in subsystem passes the filter.
func (f Filter) Matches(subsystem string) bool {
	for _, s := range f.Subsystems() {
		if s == subsystem {
			return true
		}
	}
	return false
}

// Source supplies device objects for initial enumeration and live
// notification, device tree relationships, and the mount table. A Source is
// owned by one user at a time; it is not safe for concurrent calls.
type Source interface {
	// Enumerate returns the devices currently present that match filter.
	Enumerate(ctx context.Context, filter Filter) ([]device.Raw, error)

	// Subscribe opens live event delivery for devices matching filter.
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)

	// DeviceBySysPath looks up a device tree node.
	DeviceBySysPath(sysPath string) (device.Raw, error)

	// ChildMatching returns the first descendant of parent in subsystem,
	// and of devType when devType is not empty. Order is platform defined.
	ChildMatching(parent device.Raw, subsystem, devType string) (device.Raw, error)

	// MountTable returns the current mount table in table order.
	MountTable() ([]mounts.Entry, error)

	Close() error
}

// Subscription is a live stream of device events.
type Subscription interface {
	// Events delivers devices in the order the platform reports them. The
	// channel is closed when the subscription ends.
	Events() <-chan device.Raw

	// Errors delivers transient wait failures. The subscription keeps
	// running after sending one.
	Errors() <-chan error

	// Close ends the subscription and wakes any blocked wait immediately.
	// It is safe to call more than once.
	Close() error
}
