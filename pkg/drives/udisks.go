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

package drives

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2Path           = "/org/freedesktop/UDisks2"
	udisks2BlockInterface = "org.freedesktop.UDisks2.Block"
	udisks2FSInterface    = "org.freedesktop.UDisks2.Filesystem"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager"
)

func variantString(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func variantBool(props map[string]dbus.Variant, key string) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

// variantBytePath decodes the NUL terminated byte strings UDisks2 uses for
// paths.
func variantBytePath(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if b, ok := v.Value().([]byte); ok && len(b) > 0 {
			return strings.TrimRight(string(b), "\x00")
		}
	}
	return ""
}

// blockDeviceID prefers the filesystem UUID, then the serial, then the
// device node.
func blockDeviceID(props map[string]dbus.Variant) string {
	if id := variantString(props, "IdUUID"); id != "" {
		return id
	}
	if serial := variantString(props, "IdSerial"); serial != "" {
		return serial
	}
	return variantBytePath(props, "Device")
}

func blockDeviceType(props map[string]dbus.Variant) string {
	if _, ok := props["ConnectionBus"]; ok {
		switch variantString(props, "ConnectionBus") {
		case "usb":
			return "USB"
		case "sdio":
			return "SD"
		default:
			return "removable"
		}
	}
	if variantBool(props, "Removable") {
		return "removable"
	}
	return "unknown"
}

// mountEventFromBlock builds the event for a UDisks2 block object that
// carries a filesystem. ok is false for system or hidden devices and for
// devices without any usable ID.
func mountEventFromBlock(interfaces map[string]map[string]dbus.Variant, mountPath string) (MountEvent, bool) {
	blockProps, hasBlock := interfaces[udisks2BlockInterface]
	if _, hasFS := interfaces[udisks2FSInterface]; !hasBlock || !hasFS {
		return MountEvent{}, false
	}
	if variantBool(blockProps, "HintSystem") || variantBool(blockProps, "HintIgnore") {
		return MountEvent{}, false
	}

	id := blockDeviceID(blockProps)
	if id == "" || mountPath == "" {
		return MountEvent{}, false
	}

	return MountEvent{
		DeviceID:    id,
		DeviceNode:  variantBytePath(blockProps, "Device"),
		MountPath:   mountPath,
		VolumeLabel: variantString(blockProps, "IdLabel"),
		DeviceType:  blockDeviceType(blockProps),
	}, true
}

// firstMountPoint returns the first entry of a Filesystem MountPoints
// property.
func firstMountPoint(fsProps map[string]dbus.Variant) string {
	v, ok := fsProps["MountPoints"]
	if !ok {
		return ""
	}
	points, ok := v.Value().([][]byte)
	if !ok {
		return ""
	}
	for _, mp := range points {
		if p := strings.TrimRight(string(mp), "\x00"); p != "" {
			return p
		}
	}
	return ""
}
