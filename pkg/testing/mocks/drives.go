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

package mocks

import (
	"sync"

	"github.com/ZaparooProject/usbevents/pkg/drives"
)

// Detector is a channel backed drives.Detector driven by tests.
type Detector struct {
	StartErr  error
	events    chan drives.MountEvent
	unmounts  chan string
	stopped   chan struct{}
	forgotten []string
	stopOnce  sync.Once
	mu        sync.Mutex
}

func NewDetector() *Detector {
	return &Detector{
		events:   make(chan drives.MountEvent),
		unmounts: make(chan string),
		stopped:  make(chan struct{}),
	}
}

func (d *Detector) Events() <-chan drives.MountEvent { return d.events }
func (d *Detector) Unmounts() <-chan string          { return d.unmounts }

func (d *Detector) Start() error {
	return d.StartErr
}

func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
}

// Stopped is closed once Stop has been called.
func (d *Detector) Stopped() <-chan struct{} { return d.stopped }

func (d *Detector) Forget(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forgotten = append(d.forgotten, deviceID)
}

// Forgotten returns the device IDs passed to Forget.
func (d *Detector) Forgotten() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.forgotten...)
}

// Mount delivers a mount event. It returns false if the detector was
// stopped first.
func (d *Detector) Mount(ev drives.MountEvent) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.stopped:
		return false
	}
}

// Unmount delivers an unmount. It returns false if the detector was stopped
// first.
func (d *Detector) Unmount(deviceID string) bool {
	select {
	case d.unmounts <- deviceID:
		return true
	case <-d.stopped:
		return false
	}
}
