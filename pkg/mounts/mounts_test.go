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
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const sampleProcMounts = `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
/dev/nvme0n1p2 / ext4 rw,relatime 0 0
/dev/sdb1 /media/user/KINGSTON vfat rw,nosuid,nodev,relatime 0 0
/dev/sdc /run/media/user/My\040Drive exfat rw,nosuid,nodev,relatime 0 0
`

func TestParseTable(t *testing.T) {
	t.Parallel()

	table, err := ParseTable(strings.NewReader(sampleProcMounts))
	require.NoError(t, err)
	require.Len(t, table, 5)

	assert.Equal(t, Entry{Source: "sysfs", Dir: "/sys", FSType: "sysfs"}, table[0])
	assert.Equal(t, Entry{Source: "/dev/sdb1", Dir: "/media/user/KINGSTON", FSType: "vfat"}, table[3])
	assert.Equal(t, "/run/media/user/My Drive", table[4].Dir, "octal escapes should be decoded")
}

func TestParseTable_SkipsJunk(t *testing.T) {
	t.Parallel()

	table, err := ParseTable(strings.NewReader("\n# comment\nlonely\n/dev/sda1 /boot\n"))
	require.NoError(t, err)

	assert.Equal(t, []Entry{{Source: "/dev/sda1", Dir: "/boot"}}, table)
}

func TestReadTable(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ProcMounts, []byte(sampleProcMounts), 0o444))

	table, err := ReadTable(fs, ProcMounts)
	require.NoError(t, err)
	assert.Len(t, table, 5)
}

func TestReadTable_Missing(t *testing.T) {
	t.Parallel()

	_, err := ReadTable(afero.NewMemMapFs(), ProcMounts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open mount table")
}

func TestFindMountPoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		devNode string
		want    string
		table   []Entry
		found   bool
	}{
		{
			name: "specific entry listed first wins",
			table: []Entry{
				{Source: "/dev/sdb1", Dir: "/mnt/usb"},
				{Source: "/dev/sdb", Dir: "/mnt/other"},
			},
			devNode: "/dev/sdb1",
			want:    "/mnt/usb",
			found:   true,
		},
		{
			name: "table order is authoritative",
			table: []Entry{
				{Source: "/dev/sdb", Dir: "/mnt/other"},
				{Source: "/dev/sdb1", Dir: "/mnt/usb"},
			},
			devNode: "/dev/sdb1",
			want:    "/mnt/other",
			found:   true,
		},
		{
			name:    "whole disk",
			table:   []Entry{{Source: "/dev/sdc", Dir: "/mnt/fallback"}},
			devNode: "/dev/sdc",
			want:    "/mnt/fallback",
			found:   true,
		},
		{
			name:    "source longer than node",
			table:   []Entry{{Source: "/dev/sdb12", Dir: "/mnt/x"}},
			devNode: "/dev/sdb1",
		},
		{
			name:    "empty source never matches",
			table:   []Entry{{Source: "", Dir: "/"}},
			devNode: "/dev/sdb1",
		},
		{
			name:    "empty node",
			table:   []Entry{{Source: "/dev/sdb1", Dir: "/mnt/usb"}},
			devNode: "",
		},
		{
			name:    "no table",
			devNode: "/dev/sdb1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := FindMountPoint(tt.table, tt.devNode)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindMountPoint_FirstPrefixProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		node := "/dev/" + rapid.StringMatching(`sd[a-d][0-9]?`).Draw(t, "node")
		n := rapid.IntRange(0, 6).Draw(t, "rows")
		table := make([]Entry, n)
		for i := range table {
			table[i] = Entry{
				Source: "/dev/" + rapid.StringMatching(`sd[a-d][0-9]?`).Draw(t, "src"),
				Dir:    "/mnt/" + rapid.StringMatching(`[a-z]{1,4}`).Draw(t, "dir"),
			}
		}

		got, ok := FindMountPoint(table, node)

		for _, e := range table {
			if strings.HasPrefix(node, e.Source) {
				if !ok || got != e.Dir {
					t.Fatalf("expected first prefix match %q, got %q (%v)", e.Dir, got, ok)
				}
				return
			}
		}
		if ok {
			t.Fatalf("unexpected match %q", got)
		}
	})
}

func TestIsRemovableMountDir(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRemovableMountDir("/media/user/KINGSTON"))
	assert.True(t, IsRemovableMountDir("/run/media/user/USB"))
	assert.True(t, IsRemovableMountDir("/mnt/usb"))
	assert.True(t, IsRemovableMountDir("/Volumes/MyUSB"))
	assert.False(t, IsRemovableMountDir("/"))
	assert.False(t, IsRemovableMountDir("/home"))
	assert.False(t, IsRemovableMountDir("/media"))
}

func TestRemovableDirs(t *testing.T) {
	t.Parallel()

	table, err := ParseTable(strings.NewReader(sampleProcMounts))
	require.NoError(t, err)

	assert.Equal(t, []string{"/media/user/KINGSTON", "/run/media/user/My Drive"}, RemovableDirs(table))
}
