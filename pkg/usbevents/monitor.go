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

package usbevents

import (
	"context"
	"errors"
	"slices"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/drives"
	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/ZaparooProject/usbevents/pkg/watcher"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Handler receives device events after the Monitor has tracked them.
	// May be nil.
	Handler watcher.Handler

	// Detector builds the drive mount detector. Nil disables drive events.
	Detector func() (drives.Detector, error)

	// InitialMounts lists the mount table used to seed the drive path list.
	// Nil reads the host table.
	InitialMounts func(ctx context.Context) ([]mounts.Entry, error)

	OnMount   func(drives.MountEvent)
	OnUnmount func(deviceID string)

	Open           SourceOpener
	SessionOptions []watcher.Option
	Watch          Options
}

// Monitor runs a device watch and a drive mount detector together and keeps
// the current device list and drive path list.
type Monitor struct {
	cancel   context.CancelFunc
	detector drives.Detector
	tracker  *watcher.Tracker
	watcher  *Watcher
	paths    map[string]string
	cfg      MonitorConfig
	mu       syncutil.RWMutex
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.InitialMounts == nil {
		cfg.InitialMounts = mounts.SystemTable
	}
	return &Monitor{
		cfg:     cfg,
		tracker: watcher.NewTracker(cfg.Handler),
		watcher: NewWatcher(cfg.Open, cfg.SessionOptions...),
		paths:   make(map[string]string),
	}
}

// Run blocks until ctx is cancelled, Stop is called, or the device watch
// fails to start. The drive detector failing on its own only disables
// drive events.
func (m *Monitor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return watcher.ErrAlreadyRunning
	}
	m.cancel = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
	}()

	m.tracker.Reset()
	m.seedDrivePaths(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// the drive loop follows gctx, so end it with the watch
		defer cancel()
		return m.watcher.StartWatcher(
			gctx,
			m.tracker.OnInserted,
			m.tracker.OnRemoved,
			m.cfg.Watch,
		)
	})
	if m.cfg.Detector != nil {
		g.Go(func() error {
			m.runDrives(gctx)
			return nil
		})
	}

	//nolint:wrapcheck // errors from StartWatcher are already wrapped
	return g.Wait()
}

// Stop ends a running Monitor. It returns without waiting.
func (m *Monitor) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// Devices returns the devices currently present.
func (m *Monitor) Devices() []device.Record {
	return m.tracker.Devices()
}

// DrivePaths returns the mount directories of removable drives, sorted.
func (m *Monitor) DrivePaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.paths))
	for _, p := range m.paths {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// ForgetDrive drops a drive from the running detector's tracking so its
// mount is reported again on the next scan.
func (m *Monitor) ForgetDrive(deviceID string) {
	m.mu.RLock()
	det := m.detector
	m.mu.RUnlock()

	if det != nil {
		det.Forget(deviceID)
	}
}

// ResolveMountPoint looks up the mount directory of a USB device. See
// Watcher.ResolveMountPoint.
func (m *Monitor) ResolveMountPoint(sysPath string, cb MountPointCallback) {
	m.watcher.ResolveMountPoint(sysPath, cb)
}

func (m *Monitor) seedDrivePaths(ctx context.Context) {
	table, err := m.cfg.InitialMounts(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("cannot read mount table for drive paths")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.paths)
	for _, dir := range mounts.RemovableDirs(table) {
		m.paths[dir] = dir
	}
	log.Debug().Strs("paths", mounts.RemovableDirs(table)).Msg("seeded drive paths")
}

func (m *Monitor) runDrives(ctx context.Context) {
	det, err := m.cfg.Detector()
	if err != nil {
		if errors.Is(err, errors.ErrUnsupported) {
			log.Info().Msg("drive mount events not supported on this platform")
		} else {
			log.Warn().Err(err).Msg("failed to create drive detector")
		}
		return
	}
	if err := det.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to start drive detector")
		return
	}

	m.mu.Lock()
	m.detector = det
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.detector = nil
		m.mu.Unlock()
		det.Stop()
	}()

	events := det.Events()
	unmounts := det.Unmounts()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.driveMounted(ev)
		case id, ok := <-unmounts:
			if !ok {
				return
			}
			m.driveEjected(id)
		}
	}
}

func (m *Monitor) driveMounted(ev drives.MountEvent) {
	m.mu.Lock()
	// a seeded entry is keyed by its path
	delete(m.paths, ev.MountPath)
	m.paths[ev.DeviceID] = ev.MountPath
	m.mu.Unlock()

	log.Info().
		Str("device_id", ev.DeviceID).
		Str("devnode", ev.DeviceNode).
		Str("mount", ev.MountPath).
		Str("type", ev.DeviceType).
		Msg("drive mounted")

	if m.cfg.OnMount != nil {
		m.cfg.OnMount(ev)
	}
}

func (m *Monitor) driveEjected(deviceID string) {
	m.mu.Lock()
	path, ok := m.paths[deviceID]
	delete(m.paths, deviceID)
	m.mu.Unlock()

	log.Info().Str("device_id", deviceID).Str("mount", path).Bool("tracked", ok).Msg("drive ejected")

	if m.cfg.OnUnmount != nil {
		m.cfg.OnUnmount(deviceID)
	}
}
