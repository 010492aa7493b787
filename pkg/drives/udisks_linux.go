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

//go:build linux

package drives

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

// udisksDetector follows UDisks2 object manager signals on the system bus.
type udisksDetector struct {
	conn         *dbus.Conn
	signals      chan *dbus.Signal
	events       chan MountEvent
	unmounts     chan string
	stopChan     chan struct{}
	mountedDevs  map[string]MountEvent
	pathMappings map[dbus.ObjectPath]string
	wg           sync.WaitGroup
	mu           syncutil.RWMutex
	stopOnce     sync.Once
}

// New returns the UDisks2 detector when the service is on the system bus,
// otherwise a detector polling the mount table.
func New(opts Options) (Detector, error) {
	if !opts.ForcePoll && udisksAvailable() {
		log.Debug().Msg("using D-Bus/UDisks2 for drive detection")
		return &udisksDetector{
			events:       make(chan MountEvent, 10),
			unmounts:     make(chan string, 10),
			stopChan:     make(chan struct{}),
			mountedDevs:  make(map[string]MountEvent),
			pathMappings: make(map[dbus.ObjectPath]string),
		}, nil
	}

	log.Debug().Msg("D-Bus unavailable, polling the mount table for drives")
	return newPollDetector(opts), nil
}

func udisksAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		// A private connection can be closed without touching the shared
		// one Start uses.
		conn, err := dbus.SystemBusPrivate()
		if err != nil {
			done <- false
			return
		}
		defer func() { _ = conn.Close() }()

		if err := conn.Auth(nil); err != nil {
			done <- false
			return
		}
		if err := conn.Hello(); err != nil {
			done <- false
			return
		}

		var names []string
		obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
		if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
			done <- false
			return
		}
		for _, name := range names {
			if name == udisks2Service {
				done <- true
				return
			}
		}
		done <- false
	}()

	select {
	case available := <-done:
		return available
	case <-ctx.Done():
		return false
	}
}

func (d *udisksDetector) Events() <-chan MountEvent {
	return d.events
}

func (d *udisksDetector) Unmounts() <-chan string {
	return d.unmounts
}

func (d *udisksDetector) Start() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	d.conn = conn

	for _, member := range []string{"InterfacesAdded", "InterfacesRemoved"} {
		if err := d.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(udisks2Path),
			dbus.WithMatchInterface(dbusObjectManager),
			dbus.WithMatchMember(member),
		); err != nil {
			return fmt.Errorf("failed to add match for %s: %w", member, err)
		}
	}

	d.signals = make(chan *dbus.Signal, 10)
	d.conn.Signal(d.signals)

	d.wg.Add(1)
	go d.listen(d.signals)
	return nil
}

func (d *udisksDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
		d.wg.Wait()
		// The system bus connection is shared, so only the signal
		// channel is released.
		if d.conn != nil {
			d.conn.RemoveSignal(d.signals)
		}
		close(d.events)
		close(d.unmounts)
	})
}

func (d *udisksDetector) Forget(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.mountedDevs, deviceID)
	for path, id := range d.pathMappings {
		if id == deviceID {
			delete(d.pathMappings, path)
			break
		}
	}
	log.Debug().Str("device_id", deviceID).Msg("forgot mount from D-Bus tracking")
}

func (d *udisksDetector) listen(signals chan *dbus.Signal) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case sig := <-signals:
			if sig == nil {
				return
			}
			switch sig.Name {
			case dbusObjectManager + ".InterfacesAdded":
				d.interfacesAdded(sig)
			case dbusObjectManager + ".InterfacesRemoved":
				d.interfacesRemoved(sig)
			}
		}
	}
}

func (d *udisksDetector) interfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	objectPath, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	interfaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}

	mountPath := firstMountPoint(interfaces[udisks2FSInterface])
	if mountPath == "" {
		mountPath = d.mountPoint(objectPath)
	}
	ev, ok := mountEventFromBlock(interfaces, mountPath)
	if !ok {
		return
	}

	d.mu.Lock()
	d.mountedDevs[ev.DeviceID] = ev
	d.pathMappings[objectPath] = ev.DeviceID
	d.mu.Unlock()

	select {
	case d.events <- ev:
		log.Debug().
			Str("device_id", ev.DeviceID).
			Str("mount_path", ev.MountPath).
			Str("label", ev.VolumeLabel).
			Msg("mount detected")
	case <-d.stopChan:
	}
}

func (d *udisksDetector) interfacesRemoved(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	objectPath, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	interfaces, ok := sig.Body[1].([]string)
	if !ok {
		return
	}

	hasFS := false
	for _, iface := range interfaces {
		if iface == udisks2FSInterface {
			hasFS = true
			break
		}
	}
	if !hasFS {
		return
	}

	d.mu.Lock()
	deviceID, exists := d.pathMappings[objectPath]
	if exists {
		delete(d.mountedDevs, deviceID)
		delete(d.pathMappings, objectPath)
	}
	d.mu.Unlock()

	if !exists {
		return
	}
	select {
	case d.unmounts <- deviceID:
		log.Debug().Str("device_id", deviceID).Msg("unmount detected")
	case <-d.stopChan:
	}
}

// mountPoint reads the Filesystem MountPoints property of an object.
func (d *udisksDetector) mountPoint(objectPath dbus.ObjectPath) string {
	obj := d.conn.Object(udisks2Service, objectPath)
	v, err := obj.GetProperty(udisks2FSInterface + ".MountPoints")
	if err != nil {
		log.Debug().Err(err).Str("path", string(objectPath)).Msg("no mount points")
		return ""
	}
	return firstMountPoint(map[string]dbus.Variant{"MountPoints": v})
}
