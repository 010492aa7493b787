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
	"sync"

	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// pollDetector rescans the mount table when it signals a change and at a
// fixed interval.
type pollDetector struct {
	opts        Options
	deviceID    func(devNode string) string
	events      chan MountEvent
	unmounts    chan string
	stopChan    chan struct{}
	changed     chan struct{}
	mountedDevs map[string]MountEvent
	wg          sync.WaitGroup
	mu          syncutil.RWMutex
	stopOnce    sync.Once
}

func newPollDetector(opts Options) *pollDetector {
	opts = opts.withDefaults()
	return &pollDetector{
		opts:        opts,
		deviceID:    uuidLookup(opts.Fs, opts.ByUUIDDir),
		events:      make(chan MountEvent, 10),
		unmounts:    make(chan string, 10),
		stopChan:    make(chan struct{}),
		changed:     make(chan struct{}, 1),
		mountedDevs: make(map[string]MountEvent),
	}
}

func (d *pollDetector) Events() <-chan MountEvent {
	return d.events
}

func (d *pollDetector) Unmounts() <-chan string {
	return d.unmounts
}

func (d *pollDetector) Start() error {
	if _, err := mounts.ReadTable(d.opts.Fs, d.opts.MountTable); err != nil {
		return err
	}

	// Change notification needs the real file; other filesystems rely on
	// the periodic rescan.
	if _, ok := d.opts.Fs.(*afero.OsFs); ok {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			watchTableChanges(d.opts.MountTable, d.changed, d.stopChan)
		}()
	}

	log.Debug().
		Str("table", d.opts.MountTable).
		Dur("rescan_interval", d.opts.RescanInterval).
		Msg("watching mount table for removable drives")

	d.wg.Add(1)
	go d.run()
	return nil
}

func (d *pollDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
		d.wg.Wait()
		close(d.events)
		close(d.unmounts)
	})
}

func (d *pollDetector) Forget(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mountedDevs, deviceID)
	log.Debug().Str("device_id", deviceID).Msg("forgot mount from poll tracking")
}

func (d *pollDetector) run() {
	defer d.wg.Done()

	ticker := d.opts.Clock.NewTicker(d.opts.RescanInterval)
	defer ticker.Stop()

	d.scan("initial")
	for {
		select {
		case <-d.stopChan:
			return
		case <-d.changed:
			d.scan("table changed")
		case <-ticker.Chan():
			d.scan("periodic interval")
		}
	}
}

func (d *pollDetector) scan(reason string) {
	table, err := mounts.ReadTable(d.opts.Fs, d.opts.MountTable)
	if err != nil {
		log.Warn().Err(err).Msg("failed to rescan mount table")
		return
	}
	current := removableMounts(table, d.deviceID)

	d.mu.Lock()
	added, removed := diffMounts(d.mountedDevs, current)
	for _, ev := range added {
		d.mountedDevs[ev.DeviceID] = ev
	}
	for _, id := range removed {
		delete(d.mountedDevs, id)
	}
	d.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		log.Debug().
			Str("reason", reason).
			Int("mounted", len(added)).
			Int("unmounted", len(removed)).
			Msg("mount scan completed")
	}

	for _, ev := range added {
		select {
		case d.events <- ev:
			log.Debug().
				Str("device_id", ev.DeviceID).
				Str("mount_path", ev.MountPath).
				Msg("mount detected (poll)")
		case <-d.stopChan:
			return
		}
	}
	for _, id := range removed {
		select {
		case d.unmounts <- id:
			log.Debug().Str("device_id", id).Msg("unmount detected (poll)")
		case <-d.stopChan:
			return
		}
	}
}
