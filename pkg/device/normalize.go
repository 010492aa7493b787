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

package device

import "errors"

// ErrMalformed marks a raw device that cannot be reported, such as a live
// event without a device node.
var ErrMalformed = errors.New("malformed device event")

// Property keys looked up on a raw device. These are the udev names; other
// platform sources map their own attributes onto them.
const (
	PropDevName            = "DEVNAME"
	PropModel              = "ID_MODEL"
	PropModelFromDatabase  = "ID_MODEL_FROM_DATABASE"
	PropModelID            = "ID_MODEL_ID"
	PropSerialShort        = "ID_SERIAL_SHORT"
	PropVendor             = "ID_VENDOR"
	PropVendorFromDatabase = "ID_VENDOR_FROM_DATABASE"
	PropVendorID           = "ID_VENDOR_ID"
)

// Raw is a platform device object as supplied by a platform device source,
// either from enumeration or from a live event.
type Raw interface {
	// SysPath is the canonical device tree path.
	SysPath() string

	// DevNode is the device node path, or empty if the device has none.
	DevNode() string

	Subsystem() string
	DevType() string

	// Action is the hotplug action that produced this object ("add",
	// "remove", ...). Empty for devices surfaced by enumeration.
	Action() string

	// Property returns a device property and whether it was present.
	Property(key string) (string, bool)
}

// Normalize converts a raw device into a Record. Every field is optional:
// a missing property leaves the field empty, an oversized one is truncated.
// A nil raw device yields the zero Record.
func Normalize(raw Raw) Record {
	if raw == nil {
		return Record{}
	}

	prop := func(key string) string {
		v, _ := raw.Property(key)
		return truncate(v)
	}

	rec := Record{
		DeviceName:         prop(PropDevName),
		DeviceSystemPath:   truncate(raw.SysPath()),
		Product:            prop(PropModel),
		ProductDescription: prop(PropModelFromDatabase),
		ProductID:          prop(PropModelID),
		SerialNumber:       prop(PropSerialShort),
		Vendor:             prop(PropVendor),
		VendorDescription:  prop(PropVendorFromDatabase),
		VendorID:           prop(PropVendorID),
	}
	if rec.DeviceName == "" {
		rec.DeviceName = truncate(raw.DevNode())
	}

	return rec
}
