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

// Package linux implements platform.Source over sysfs, the udev database
// and the udev netlink multicast group.
package linux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/ZaparooProject/usbevents/pkg/platform"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultSysfsRoot   = "/sys"
	DefaultUdevDataDir = "/run/udev/data"

	// maxChildDepth bounds the descendant search below a device. A mass
	// storage partition sits about seven levels under its USB device.
	maxChildDepth = 12
)

// Config locates the host facilities a Source reads.
type Config struct {
	Fs          afero.Fs
	SysfsRoot   string
	UdevDataDir string
	MountTable  string
}

func (c Config) withDefaults() Config {
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.SysfsRoot == "" {
		c.SysfsRoot = DefaultSysfsRoot
	}
	if c.UdevDataDir == "" {
		c.UdevDataDir = DefaultUdevDataDir
	}
	if c.MountTable == "" {
		c.MountTable = mounts.ProcMounts
	}
	return c
}

// Source is the Linux platform.Source.
type Source struct {
	cfg Config
}

var _ platform.Source = (*Source)(nil)

// New checks that the sysfs root is readable and returns a Source over it.
func New(cfg Config) (*Source, error) {
	cfg = cfg.withDefaults()
	info, err := cfg.Fs.Stat(cfg.SysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", platform.ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", platform.ErrSourceUnavailable, cfg.SysfsRoot)
	}
	return &Source{cfg: cfg}, nil
}

// Enumerate lists the devices of each filter subsystem found under the
// class and bus directories of sysfs, sorted by device path.
func (s *Source) Enumerate(ctx context.Context, filter platform.Filter) ([]device.Raw, error) {
	seen := make(map[string]struct{})
	var found []*Device

	for _, subsystem := range filter.Subsystems() {
		dirs := []string{
			filepath.Join(s.cfg.SysfsRoot, "class", subsystem),
			filepath.Join(s.cfg.SysfsRoot, "bus", subsystem, "devices"),
		}
		for _, dir := range dirs {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("enumerate cancelled: %w", err)
			}

			entries, err := afero.ReadDir(s.cfg.Fs, dir)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", dir, err)
			}

			for _, entry := range entries {
				sysPath := s.resolveEntry(dir, entry.Name())
				if _, ok := seen[sysPath]; ok {
					continue
				}
				seen[sysPath] = struct{}{}

				dev, err := s.readDevice(sysPath)
				if err != nil {
					log.Debug().Err(err).Str("syspath", sysPath).Msg("skipping unreadable device")
					continue
				}
				if dev.Subsystem() != subsystem {
					continue
				}
				log.Debug().
					Str("syspath", sysPath).
					Str("devnode", dev.DevNode()).
					Str("port", USBPortPath(sysPath)).
					Msg("enumerated device")
				found = append(found, dev)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].SysPath() < found[j].SysPath()
	})

	out := make([]device.Raw, len(found))
	for i, dev := range found {
		out[i] = dev
	}
	return out, nil
}

// DeviceBySysPath reads the device at sysPath.
func (s *Source) DeviceBySysPath(sysPath string) (device.Raw, error) {
	if sysPath == "" {
		return nil, platform.ErrNoDevice
	}
	return s.readDevice(filepath.Clean(sysPath))
}

// ChildMatching searches the directories below parent breadth first, in
// name order within each level.
func (s *Source) ChildMatching(parent device.Raw, subsystem, devType string) (device.Raw, error) {
	if parent == nil || parent.SysPath() == "" {
		return nil, platform.ErrNoDevice
	}

	type node struct {
		path  string
		depth int
	}
	queue := []node{{path: parent.SysPath()}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth > 0 {
			dev, err := s.readDevice(cur.path)
			if err == nil && dev.Subsystem() == subsystem && (devType == "" || dev.DevType() == devType) {
				return dev, nil
			}
		}
		if cur.depth >= maxChildDepth {
			continue
		}

		entries, err := afero.ReadDir(s.cfg.Fs, cur.path)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			// Links point back up or across the tree.
			if !entry.IsDir() || entry.Mode()&os.ModeSymlink != 0 {
				continue
			}
			queue = append(queue, node{
				path:  filepath.Join(cur.path, entry.Name()),
				depth: cur.depth + 1,
			})
		}
	}

	return nil, fmt.Errorf("%w: no %s %s below %s", platform.ErrNoDevice, subsystem, devType, parent.SysPath())
}

// MountTable reads the configured mount table.
func (s *Source) MountTable() ([]mounts.Entry, error) {
	table, err := mounts.ReadTable(s.cfg.Fs, s.cfg.MountTable)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	return table, nil
}

// Subscribe opens a netlink socket on the udev multicast group. Only events
// for the filter's subsystems are delivered.
func (s *Source) Subscribe(ctx context.Context, filter platform.Filter) (platform.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe cancelled: %w", err)
	}

	sysfsRoot := s.cfg.SysfsRoot
	parse := func(msg []byte) (device.Raw, error) {
		dev, err := ParseMessage(msg, sysfsRoot)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(dev.Subsystem()) {
			return nil, nil
		}
		return dev, nil
	}

	sub, err := openNetlink(parse)
	if err != nil {
		return nil, fmt.Errorf("failed to open uevent socket: %w", err)
	}
	return sub, nil
}

func (*Source) Close() error {
	return nil
}

// resolveEntry turns a class or bus directory entry, normally a symlink
// into /sys/devices, into the device path.
func (s *Source) resolveEntry(dir, name string) string {
	entry := filepath.Join(dir, name)
	reader, ok := s.cfg.Fs.(afero.LinkReader)
	if !ok {
		return entry
	}
	target, err := reader.ReadlinkIfPossible(entry)
	if err != nil {
		return entry
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	return filepath.Clean(target)
}

// readDevice loads a device from its uevent file and fills in what udev
// recorded about it.
func (s *Source) readDevice(sysPath string) (*Device, error) {
	f, err := s.cfg.Fs.Open(filepath.Join(sysPath, "uevent"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", platform.ErrNoDevice, sysPath)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open uevent for %s: %w", sysPath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing uevent file")
		}
	}()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok && key != "" {
			props[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read uevent for %s: %w", sysPath, err)
	}

	dev := newDevice(sysPath, s.subsystemOf(sysPath), "", props)
	if major, minor, ok := dev.devNum(); ok {
		db, err := readUdevDB(s.cfg.Fs, s.cfg.UdevDataDir, dev.Subsystem(), major, minor)
		if err != nil {
			log.Debug().Err(err).Str("syspath", sysPath).Msg("no udev database entry")
		}
		dev.mergeMissing(db)
	}
	return dev, nil
}

func (s *Source) subsystemOf(sysPath string) string {
	reader, ok := s.cfg.Fs.(afero.LinkReader)
	if !ok {
		return ""
	}
	target, err := reader.ReadlinkIfPossible(filepath.Join(sysPath, "subsystem"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}
