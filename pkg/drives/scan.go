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
	"path/filepath"
	"slices"
	"strings"

	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/spf13/afero"
)

var systemFSTypes = []string{
	"sysfs", "proc", "devtmpfs", "devpts", "tmpfs", "cgroup",
	"cgroup2", "pstore", "bpf", "configfs", "selinuxfs", "debugfs",
	"tracefs", "fusectl", "fuse.portal", "mqueue", "hugetlbfs",
	"autofs", "efivarfs", "binfmt_misc", "overlay",
}

// removableMounts picks the removable volumes out of a mount table, keyed by
// DeviceID. The first mount of a device wins.
func removableMounts(table []mounts.Entry, deviceID func(devNode string) string) map[string]MountEvent {
	current := make(map[string]MountEvent)
	for _, e := range table {
		if slices.Contains(systemFSTypes, e.FSType) {
			continue
		}
		if !strings.HasPrefix(e.Source, "/dev/") {
			continue
		}
		if !mounts.IsRemovableMountDir(e.Dir) {
			continue
		}

		id := deviceID(e.Source)
		if id == "" {
			id = e.Source
		}
		if _, dup := current[id]; dup {
			continue
		}
		current[id] = MountEvent{
			DeviceID:    id,
			DeviceNode:  e.Source,
			MountPath:   e.Dir,
			VolumeLabel: filepath.Base(e.Dir),
			DeviceType:  "removable",
		}
	}
	return current
}

// diffMounts returns the mounts in cur missing from prev, and the IDs in
// prev missing from cur, both sorted by ID.
func diffMounts(prev, cur map[string]MountEvent) (added []MountEvent, removed []string) {
	for id, ev := range cur {
		if _, ok := prev[id]; !ok {
			added = append(added, ev)
		}
	}
	for id := range prev {
		if _, ok := cur[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.SortFunc(added, func(a, b MountEvent) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	slices.Sort(removed)
	return added, removed
}

// uuidLookup maps device nodes to filesystem UUIDs through the links in
// dir. It returns "" when no link points at the node.
func uuidLookup(fs afero.Fs, dir string) func(devNode string) string {
	return func(devNode string) string {
		reader, ok := fs.(afero.LinkReader)
		if !ok {
			return ""
		}
		entries, err := afero.ReadDir(fs, dir)
		if err != nil {
			return ""
		}
		for _, entry := range entries {
			target, err := reader.ReadlinkIfPossible(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			if filepath.Clean(target) == devNode {
				return entry.Name()
			}
		}
		return ""
	}
}
