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
	"path/filepath"
	"regexp"
)

// usbPortPattern matches USB port path names like "1-2", "1-2.3" or
// "1-2.3.1".
var usbPortPattern = regexp.MustCompile(`^\d+-[\d.]+$`)

// USBPortPath walks up a sysfs device path to the USB port it hangs off,
// e.g. /sys/devices/pci0000:00/.../usb1/1-2/1-2.3/1-2.3:1.0/tty/ttyUSB0
// gives "1-2.3". It returns "" for devices not below a USB port.
func USBPortPath(sysPath string) string {
	current := filepath.Clean(sysPath)
	for current != "/" && current != "." && current != "" {
		base := filepath.Base(current)
		if usbPortPattern.MatchString(base) {
			return base
		}
		current = filepath.Dir(current)
	}
	return ""
}
