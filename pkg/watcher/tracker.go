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

package watcher

import (
	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
)

// Tracker is a Handler that keeps the list of devices currently present
// before passing each event on.
type Tracker struct {
	next    Handler
	devices []device.Record
	mu      syncutil.RWMutex
}

// NewTracker wraps next. A nil next only tracks.
func NewTracker(next Handler) *Tracker {
	if next == nil {
		next = HandlerFuncs{}
	}
	return &Tracker{next: next}
}

func (t *Tracker) OnInserted(rec device.Record) {
	t.mu.Lock()
	t.devices = append(t.devices, rec)
	t.mu.Unlock()

	t.next.OnInserted(rec)
}

// OnRemoved drops the first tracked device with the same device node and
// device tree path. Removal events carry fewer properties than insertions,
// so other fields are not compared.
func (t *Tracker) OnRemoved(rec device.Record) {
	t.mu.Lock()
	for i, d := range t.devices {
		if d.DeviceName == rec.DeviceName && d.DeviceSystemPath == rec.DeviceSystemPath {
			t.devices = append(t.devices[:i], t.devices[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	t.next.OnRemoved(rec)
}

// Devices returns a snapshot of the tracked devices in insertion order.
func (t *Tracker) Devices() []device.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]device.Record, len(t.devices))
	copy(out, t.devices)
	return out
}

// Reset forgets all tracked devices.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.devices = nil
	t.mu.Unlock()
}
