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

//go:build darwin

package drives

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	volumesPath = "/Volumes"

	mntLocal      = 0x00001000
	mntDontBrowse = 0x00100000

	volumeDebounce = 100 * time.Millisecond
)

var (
	systemVolumes    = []string{"Macintosh HD", "Preboot", "Recovery", "VM", "Data", "System", "Update"}
	removableFSTypes = []string{"msdos", "exfat", "hfs", "apfs"}
)

// volumesDetector watches /Volumes, where macOS mounts removable media.
type volumesDetector struct {
	opts        Options
	watcher     *fsnotify.Watcher
	events      chan MountEvent
	unmounts    chan string
	stopChan    chan struct{}
	mountedDevs map[string]MountEvent
	wg          sync.WaitGroup
	mu          syncutil.RWMutex
	stopOnce    sync.Once
}

func New(opts Options) (Detector, error) {
	return &volumesDetector{
		opts:        opts.withDefaults(),
		events:      make(chan MountEvent, 10),
		unmounts:    make(chan string, 10),
		stopChan:    make(chan struct{}),
		mountedDevs: make(map[string]MountEvent),
	}, nil
}

func (d *volumesDetector) Events() <-chan MountEvent {
	return d.events
}

func (d *volumesDetector) Unmounts() <-chan string {
	return d.unmounts
}

func (d *volumesDetector) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(volumesPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", volumesPath, err)
	}
	d.watcher = watcher

	d.wg.Add(1)
	go d.watch()

	log.Debug().Msg("watching /Volumes for drive mounts")
	return nil
}

func (d *volumesDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		d.wg.Wait()
		close(d.events)
		close(d.unmounts)
	})
}

func (d *volumesDetector) Forget(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mountedDevs, deviceID)
}

func (d *volumesDetector) watch() {
	defer d.wg.Done()

	debounce := d.opts.Clock.NewTimer(volumeDebounce)
	debounce.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-d.stopChan:
			debounce.Stop()
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Dir(ev.Name) != volumesPath {
				continue
			}
			pending[ev.Name] = struct{}{}
			debounce.Reset(volumeDebounce)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fsnotify error")
		case <-debounce.Chan():
			for path := range pending {
				d.checkVolume(path)
			}
			pending = make(map[string]struct{})
		}
	}
}

func (d *volumesDetector) checkVolume(mountPath string) {
	info, err := d.opts.Fs.Stat(mountPath)
	if errors.Is(err, fs.ErrNotExist) {
		d.volumeGone(mountPath)
		return
	} else if err != nil || !info.IsDir() {
		return
	}

	name := filepath.Base(mountPath)
	if isSystemVolume(name) || !isRemovableVolume(mountPath) {
		return
	}

	id := volumeID(mountPath)
	if id == "" {
		id = name
	}

	d.mu.Lock()
	if _, exists := d.mountedDevs[id]; exists {
		d.mu.Unlock()
		return
	}
	ev := MountEvent{
		DeviceID:    id,
		MountPath:   mountPath,
		VolumeLabel: name,
		DeviceType:  "removable",
	}
	d.mountedDevs[id] = ev
	d.mu.Unlock()

	select {
	case d.events <- ev:
		log.Debug().Str("device_id", id).Str("mount_path", mountPath).Msg("volume mount detected")
	case <-d.stopChan:
	}
}

func (d *volumesDetector) volumeGone(mountPath string) {
	d.mu.Lock()
	var found string
	for id, ev := range d.mountedDevs {
		if ev.MountPath == mountPath {
			found = id
			break
		}
	}
	if found != "" {
		delete(d.mountedDevs, found)
	}
	d.mu.Unlock()

	if found == "" {
		return
	}
	select {
	case d.unmounts <- found:
		log.Debug().Str("device_id", found).Str("mount_path", mountPath).Msg("volume unmount detected")
	case <-d.stopChan:
	}
}

func isSystemVolume(name string) bool {
	for _, sys := range systemVolumes {
		if name == sys || strings.HasPrefix(name, sys+" ") {
			return true
		}
	}
	return false
}

func isRemovableVolume(mountPath string) bool {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(mountPath, &stat); err != nil {
		return false
	}
	if stat.Flags&mntLocal == 0 || stat.Flags&mntDontBrowse != 0 {
		return false
	}

	fstype := make([]byte, 0, len(stat.Fstypename))
	for _, b := range stat.Fstypename {
		if b == 0 {
			break
		}
		fstype = append(fstype, byte(b))
	}
	return slices.Contains(removableFSTypes, string(fstype))
}

// volumeID derives an ID from the filesystem ID, which is stable for a
// mounted volume.
func volumeID(mountPath string) string {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(mountPath, &stat); err != nil {
		return ""
	}
	return fmt.Sprintf("%x-%x", stat.Fsid.Val[0], stat.Fsid.Val[1])
}
