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

package linux

import (
	"maps"
	"strings"

	"github.com/ZaparooProject/usbevents/pkg/device"
)

// Device is a device tree node read from sysfs or decoded from a uevent
// message. It implements device.Raw.
type Device struct {
	props     map[string]string
	sysPath   string
	subsystem string
	action    string
}

func newDevice(sysPath, subsystem, action string, props map[string]string) *Device {
	if props == nil {
		props = make(map[string]string)
	}
	if subsystem == "" {
		subsystem = props["SUBSYSTEM"]
	}
	if name := props[device.PropDevName]; name != "" && !strings.HasPrefix(name, "/") {
		// The kernel reports device names relative to /dev.
		props[device.PropDevName] = "/dev/" + name
	}
	return &Device{
		props:     props,
		sysPath:   sysPath,
		subsystem: subsystem,
		action:    action,
	}
}

func (d *Device) SysPath() string   { return d.sysPath }
func (d *Device) DevNode() string   { return d.props[device.PropDevName] }
func (d *Device) Subsystem() string { return d.subsystem }
func (d *Device) DevType() string   { return d.props["DEVTYPE"] }
func (d *Device) Action() string    { return d.action }

func (d *Device) Property(key string) (string, bool) {
	v, ok := d.props[key]
	return v, ok
}

// Properties returns a copy of all device properties.
func (d *Device) Properties() map[string]string {
	return maps.Clone(d.props)
}

// devNum returns the MAJOR and MINOR properties, if the device has them.
func (d *Device) devNum() (major, minor string, ok bool) {
	major, minor = d.props["MAJOR"], d.props["MINOR"]
	return major, minor, major != "" && minor != ""
}

// mergeMissing adds properties from extra that the device does not
// already carry.
func (d *Device) mergeMissing(extra map[string]string) {
	for k, v := range extra {
		if _, ok := d.props[k]; !ok {
			d.props[k] = v
		}
	}
}
