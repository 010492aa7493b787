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

// Package device holds the normalized snapshot of a USB device that is
// handed to watcher callbacks, and the rules for building one from a raw
// platform device.
package device

import (
	"strings"
	"unicode/utf8"
)

// MaxFieldLen is the maximum length in bytes of any Record field. Longer
// values are truncated.
const MaxFieldLen = 512

// Record is an immutable snapshot of a device's identifying attributes at the
// moment of an event. Empty string means the attribute was not reported.
type Record struct {
	// DeviceName is the device node path (e.g. "/dev/bus/usb/001/004").
	DeviceName string

	// DeviceSystemPath is the device's path in the platform device tree
	// (e.g. "/sys/devices/pci0000:00/0000:00:14.0/usb1/1-2"). It is the key
	// used for later tree lookups such as mount resolution.
	DeviceSystemPath string

	Product            string
	ProductDescription string
	ProductID          string
	SerialNumber       string
	Vendor             string
	VendorDescription  string
	VendorID           string
}

// IsZero reports whether no field is set.
func (r Record) IsZero() bool {
	return r == Record{}
}

func (r Record) String() string {
	var b strings.Builder
	b.WriteString("DeviceName: ")
	b.WriteString(r.DeviceName)
	b.WriteString(", DeviceSystemPath: ")
	b.WriteString(r.DeviceSystemPath)
	b.WriteString(", Product: ")
	b.WriteString(r.Product)
	b.WriteString(", ProductDescription: ")
	b.WriteString(r.ProductDescription)
	b.WriteString(", ProductID: ")
	b.WriteString(r.ProductID)
	b.WriteString(", SerialNumber: ")
	b.WriteString(r.SerialNumber)
	b.WriteString(", Vendor: ")
	b.WriteString(r.Vendor)
	b.WriteString(", VendorDescription: ")
	b.WriteString(r.VendorDescription)
	b.WriteString(", VendorID: ")
	b.WriteString(r.VendorID)
	return b.String()
}

// truncate cuts s to at most MaxFieldLen bytes without splitting a UTF-8
// sequence.
func truncate(s string) string {
	if len(s) <= MaxFieldLen {
		return s
	}
	cut := MaxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
