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

package fixtures

import (
	"github.com/ZaparooProject/usbevents/pkg/device"
)

// Common raw device fixtures for use in tests

// RawDevice is a plain in-memory device.Raw.
type RawDevice struct {
	Props  map[string]string
	Path   string
	Node   string
	Subsys string
	Type   string
	Act    string
}

func (d *RawDevice) SysPath() string   { return d.Path }
func (d *RawDevice) DevNode() string   { return d.Node }
func (d *RawDevice) Subsystem() string { return d.Subsys }
func (d *RawDevice) DevType() string   { return d.Type }
func (d *RawDevice) Action() string    { return d.Act }

func (d *RawDevice) Property(key string) (string, bool) {
	v, ok := d.Props[key]
	return v, ok
}

// WithAction returns a copy of the device carrying the given hotplug action.
func (d *RawDevice) WithAction(action string) *RawDevice {
	c := *d
	c.Act = action
	return &c
}

// NewFlashDrive creates a sample USB mass-storage device with typical udev
// properties.
func NewFlashDrive() *RawDevice {
	return &RawDevice{
		Path:   "/sys/devices/pci0000:00/0000:00:14.0/usb1/1-2",
		Node:   "/dev/bus/usb/001/004",
		Subsys: "usb",
		Type:   "usb_device",
		Props: map[string]string{
			device.PropDevName:            "/dev/bus/usb/001/004",
			device.PropModel:              "DataTraveler_3.0",
			device.PropModelFromDatabase:  "DataTraveler 100 G3/G4/SE9 G2/50 Kyson",
			device.PropModelID:            "1666",
			device.PropSerialShort:        "60A44C413C5DF0A1A9B1009F",
			device.PropVendor:             "Kingston",
			device.PropVendorFromDatabase: "Kingston Technology",
			device.PropVendorID:           "0951",
		},
	}
}

// NewSerialAdapter creates a sample USB serial adapter tty device.
func NewSerialAdapter() *RawDevice {
	return &RawDevice{
		Path:   "/sys/devices/pci0000:00/0000:00:14.0/usb1/1-3/1-3:1.0/ttyUSB0/tty/ttyUSB0",
		Node:   "/dev/ttyUSB0",
		Subsys: "tty",
		Props: map[string]string{
			device.PropDevName:  "/dev/ttyUSB0",
			device.PropModel:    "CP2102_USB_to_UART_Bridge_Controller",
			device.PropModelID:  "ea60",
			device.PropVendor:   "Silicon_Labs",
			device.PropVendorID: "10c4",
		},
	}
}

// NewHub creates a sample root hub that exposes no properties beyond its
// device tree path.
func NewHub() *RawDevice {
	return &RawDevice{
		Path:   "/sys/devices/pci0000:00/0000:00:14.0/usb2",
		Node:   "/dev/bus/usb/002/001",
		Subsys: "usb",
		Type:   "usb_device",
	}
}
