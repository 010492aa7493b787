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

package mounts

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// SystemTable returns the host mount table through gopsutil, which covers
// platforms without a readable /proc/mounts.
func SystemTable(ctx context.Context) ([]Entry, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	table := make([]Entry, 0, len(parts))
	for _, p := range parts {
		table = append(table, Entry{
			Source: p.Device,
			Dir:    p.Mountpoint,
			FSType: p.Fstype,
		})
	}
	return table, nil
}

// RemovableDirs returns the mount directories of table entries that look like
// removable media, in table order.
func RemovableDirs(table []Entry) []string {
	var dirs []string
	for _, e := range table {
		if IsRemovableMountDir(e.Dir) {
			dirs = append(dirs, e.Dir)
		}
	}
	return dirs
}
