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
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/usbevents/pkg/platform"
	"github.com/spf13/afero"
)

// readUdevDB reads the properties udev stored for a device node. Block
// devices are keyed "b<major>:<minor>", everything else "c<major>:<minor>".
func readUdevDB(fs afero.Fs, dir, subsystem, major, minor string) (map[string]string, error) {
	kind := "c"
	if subsystem == platform.SubsystemBlock {
		kind = "b"
	}
	name := filepath.Join(dir, fmt.Sprintf("%s%s:%s", kind, major, minor))

	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open udev data %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "E:")
		if !ok {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok && key != "" {
			props[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return props, fmt.Errorf("failed to read udev data %s: %w", name, err)
	}
	return props, nil
}
