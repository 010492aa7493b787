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

// Package resolver maps a USB device to the directory its storage is
// mounted on.
package resolver

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/ZaparooProject/usbevents/pkg/platform"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when the device has no mounted storage. It is a
// normal negative result.
var ErrNotFound = errors.New("mount point not found")

// Resolver walks the device tree of a Source. Every call does a fresh walk
// and mount table read; nothing is cached.
type Resolver struct {
	src platform.Source
}

func New(src platform.Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the mount directory of the storage below the device at
// sysPath. The first partition of the device's first storage bridge child
// is used. Media without a partition table fall back to the whole disk
// node, then to the bridge node's own device node.
func (r *Resolver) Resolve(sysPath string) (string, error) {
	if r.src == nil {
		return "", fmt.Errorf("%w: no device source", ErrNotFound)
	}

	node, err := r.src.DeviceBySysPath(sysPath)
	if err != nil || node == nil {
		return "", fmt.Errorf("%w: no device at %s", ErrNotFound, sysPath)
	}

	bridge, err := r.src.ChildMatching(node, platform.SubsystemSCSI, "")
	if err != nil || bridge == nil {
		return "", fmt.Errorf("%w: %s has no storage bridge", ErrNotFound, sysPath)
	}

	devNode := r.blockNode(bridge)
	if devNode == "" {
		return "", fmt.Errorf("%w: %s has no block device", ErrNotFound, sysPath)
	}

	table, err := r.src.MountTable()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read mount table")
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	dir, ok := mounts.FindMountPoint(table, devNode)
	if !ok {
		return "", fmt.Errorf("%w: %s is not mounted", ErrNotFound, devNode)
	}

	log.Debug().
		Str("syspath", sysPath).
		Str("devnode", devNode).
		Str("mount", dir).
		Msg("resolved mount point")
	return dir, nil
}

func (r *Resolver) blockNode(bridge device.Raw) string {
	part, err := r.src.ChildMatching(bridge, platform.SubsystemBlock, platform.DevTypePartition)
	if err == nil && part != nil && part.DevNode() != "" {
		return part.DevNode()
	}

	disk, err := r.src.ChildMatching(bridge, platform.SubsystemBlock, platform.DevTypeDisk)
	if err == nil && disk != nil && disk.DevNode() != "" {
		log.Debug().Str("devnode", disk.DevNode()).Msg("no partition, using whole disk")
		return disk.DevNode()
	}

	return bridge.DevNode()
}

// ResolveMountPoint calls cb exactly once with the mount directory, or ""
// when none is found.
func (r *Resolver) ResolveMountPoint(sysPath string, cb func(mountPath string)) {
	dir, err := r.Resolve(sysPath)
	if err != nil {
		log.Debug().Err(err).Str("syspath", sysPath).Msg("mount point not resolved")
		dir = ""
	}
	if cb != nil {
		cb(dir)
	}
}
