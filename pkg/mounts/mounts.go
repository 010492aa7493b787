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

// Package mounts reads the host mount table and matches device nodes
// against it.
package mounts

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ProcMounts is the Linux kernel mount table.
const ProcMounts = "/proc/mounts"

// Entry is one row of the mount table.
type Entry struct {
	Source string
	Dir    string
	FSType string
}

// ParseTable reads a mount table in fstab/proc format. Row order is kept,
// since it decides which entry wins a lookup.
func ParseTable(r io.Reader) ([]Entry, error) {
	var table []Entry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		entry := Entry{
			Source: unescape(fields[0]),
			Dir:    unescape(fields[1]),
		}
		if len(fields) > 2 {
			entry.FSType = fields[2]
		}
		table = append(table, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	return table, nil
}

// ReadTable parses the mount table at path.
func ReadTable(fs afero.Fs, path string) ([]Entry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mount table %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return ParseTable(f)
}

// FindMountPoint returns the directory of the first entry whose source is a
// prefix of devNode. A table listing "/dev/sdb" before "/dev/sdb1" therefore
// answers "/dev/sdb1" with the "/dev/sdb" mount.
func FindMountPoint(table []Entry, devNode string) (string, bool) {
	if devNode == "" {
		return "", false
	}
	for _, e := range table {
		if e.Source == "" || e.Dir == "" {
			continue
		}
		if strings.HasPrefix(devNode, e.Source) {
			return e.Dir, true
		}
	}
	return "", false
}

// IsRemovableMountDir reports whether dir is under one of the locations
// desktop automounters and users put removable media.
func IsRemovableMountDir(dir string) bool {
	for _, prefix := range []string{"/media/", "/mnt/", "/run/media/", "/Volumes/"} {
		if strings.HasPrefix(dir, prefix) {
			return true
		}
	}
	return false
}

// unescape decodes the octal escapes the kernel uses for whitespace and
// backslashes in mount table fields ("\040" for a space).
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
