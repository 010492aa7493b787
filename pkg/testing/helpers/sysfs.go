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

package helpers

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// SysfsFixture builds a fake sysfs tree, udev database and mount table
// under a real directory, so symlinks behave as they do in /sys.
//
// Example:
//
//	fx := helpers.NewSysfsFixture(t.TempDir())
//	usb, err := fx.AddUSBStorage("1-2", "sdb", "sdb1")
type SysfsFixture struct {
	Fs          afero.Fs
	Root        string
	SysfsRoot   string
	UdevDataDir string
	MountTable  string
}

// NewSysfsFixture creates an empty fixture below dir.
func NewSysfsFixture(dir string) *SysfsFixture {
	return &SysfsFixture{
		Fs:          afero.NewOsFs(),
		Root:        dir,
		SysfsRoot:   filepath.Join(dir, "sys"),
		UdevDataDir: filepath.Join(dir, "run", "udev", "data"),
		MountTable:  filepath.Join(dir, "proc", "mounts"),
	}
}

// AddDevice creates a device directory at devices/<rel> with a uevent
// file and a subsystem link, and returns its path.
func (f *SysfsFixture) AddDevice(rel, subsystem string, uevent map[string]string) (string, error) {
	devPath := filepath.Join(f.SysfsRoot, "devices", rel)
	if err := f.Fs.MkdirAll(devPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create device directory %s: %w", devPath, err)
	}

	if err := afero.WriteFile(f.Fs, filepath.Join(devPath, "uevent"), []byte(envLines(uevent)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write uevent for %s: %w", devPath, err)
	}

	if subsystem != "" {
		subsysDir := filepath.Join(f.SysfsRoot, "bus", subsystem)
		if subsystem == "tty" || subsystem == "block" || subsystem == "scsi_host" {
			subsysDir = filepath.Join(f.SysfsRoot, "class", subsystem)
		}
		if err := f.Fs.MkdirAll(subsysDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create subsystem directory: %w", err)
		}
		if err := f.symlink(subsysDir, filepath.Join(devPath, "subsystem")); err != nil {
			return "", err
		}
	}

	return devPath, nil
}

// Link registers a device in a class or bus listing directory, relative to
// the sysfs root (e.g. "bus/usb/devices").
func (f *SysfsFixture) Link(listing, devPath string) error {
	dir := filepath.Join(f.SysfsRoot, listing)
	if err := f.Fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create listing %s: %w", dir, err)
	}
	return f.symlink(devPath, filepath.Join(dir, filepath.Base(devPath)))
}

// AddUdevData writes a udev database entry, e.g. name "c189:3".
func (f *SysfsFixture) AddUdevData(name string, props map[string]string) error {
	if err := f.Fs.MkdirAll(f.UdevDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create udev data directory: %w", err)
	}
	var b strings.Builder
	b.WriteString("I:1234567\n")
	for _, line := range strings.Split(strings.TrimSpace(envLines(props)), "\n") {
		if line != "" {
			b.WriteString("E:" + line + "\n")
		}
	}
	b.WriteString("G:systemd\n")
	path := filepath.Join(f.UdevDataDir, name)
	if err := afero.WriteFile(f.Fs, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write udev data %s: %w", path, err)
	}
	return nil
}

// WriteMounts writes the mount table, one /proc/mounts line per entry.
func (f *SysfsFixture) WriteMounts(lines ...string) error {
	if err := f.Fs.MkdirAll(filepath.Dir(f.MountTable), 0o755); err != nil {
		return fmt.Errorf("failed to create mount table directory: %w", err)
	}
	data := strings.Join(lines, "\n") + "\n"
	if err := afero.WriteFile(f.Fs, f.MountTable, []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write mount table: %w", err)
	}
	return nil
}

// USBStorage holds the paths created by AddUSBStorage.
type USBStorage struct {
	USB        string
	Interface  string
	Host       string
	SCSIDevice string
	Disk       string
	Partitions []string
}

// AddUSBStorage creates a USB mass storage device on the given port with
// the usual interface, SCSI host, target, device and block nodes below it.
// With no partitions only the whole disk node exists.
func (f *SysfsFixture) AddUSBStorage(port, disk string, partitions ...string) (USBStorage, error) {
	var out USBStorage
	base := "pci0000:00/0000:00:14.0/usb1/" + port
	bus := strings.SplitN(port, "-", 2)[0]

	var err error
	out.USB, err = f.AddDevice(base, "usb", map[string]string{
		"DEVTYPE": "usb_device",
		"DEVNAME": "bus/usb/00" + bus + "/004",
		"MAJOR":   "189",
		"MINOR":   "3",
		"PRODUCT": "951/1666/110",
	})
	if err != nil {
		return out, err
	}
	if err := f.Link("bus/usb/devices", out.USB); err != nil {
		return out, err
	}

	out.Interface, err = f.AddDevice(base+"/"+port+":1.0", "usb", map[string]string{
		"DEVTYPE":   "usb_interface",
		"INTERFACE": "8/6/80",
	})
	if err != nil {
		return out, err
	}
	if err := f.Link("bus/usb/devices", out.Interface); err != nil {
		return out, err
	}

	hostRel := base + "/" + port + ":1.0/host6"
	out.Host, err = f.AddDevice(hostRel, "scsi", map[string]string{"DEVTYPE": "scsi_host"})
	if err != nil {
		return out, err
	}
	if _, err := f.AddDevice(hostRel+"/scsi_host/host6", "scsi_host", nil); err != nil {
		return out, err
	}
	if _, err := f.AddDevice(hostRel+"/target6:0:0", "scsi", map[string]string{"DEVTYPE": "scsi_target"}); err != nil {
		return out, err
	}

	sdevRel := hostRel + "/target6:0:0/6:0:0:0"
	out.SCSIDevice, err = f.AddDevice(sdevRel, "scsi", map[string]string{"DEVTYPE": "scsi_device"})
	if err != nil {
		return out, err
	}

	diskRel := sdevRel + "/block/" + disk
	out.Disk, err = f.AddDevice(diskRel, "block", map[string]string{
		"DEVTYPE": "disk",
		"DEVNAME": disk,
		"MAJOR":   "8",
		"MINOR":   "16",
	})
	if err != nil {
		return out, err
	}

	for i, part := range partitions {
		p, err := f.AddDevice(diskRel+"/"+part, "block", map[string]string{
			"DEVTYPE": "partition",
			"DEVNAME": part,
			"MAJOR":   "8",
			"MINOR":   fmt.Sprint(17 + i),
			"PARTN":   fmt.Sprint(i + 1),
		})
		if err != nil {
			return out, err
		}
		out.Partitions = append(out.Partitions, p)
	}

	return out, nil
}

func (f *SysfsFixture) symlink(target, link string) error {
	linker, ok := f.Fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("filesystem %s does not support symlinks", f.Fs.Name())
	}
	rel, err := filepath.Rel(filepath.Dir(link), target)
	if err != nil {
		return fmt.Errorf("failed to relativize %s: %w", target, err)
	}
	if err := linker.SymlinkIfPossible(rel, link); err != nil {
		return fmt.Errorf("failed to link %s: %w", link, err)
	}
	return nil
}

func envLines(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + props[k] + "\n")
	}
	return b.String()
}
