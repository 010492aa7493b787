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
	"testing"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(name, path string) device.Record {
	return device.Record{DeviceName: name, DeviceSystemPath: path, Vendor: "Kingston"}
}

func TestTracker_InsertAndRemove(t *testing.T) {
	t.Parallel()

	next := NewChannelHandler(4)
	tr := NewTracker(next)

	a := testRecord("/dev/bus/usb/001/004", "/sys/devices/usb1/1-2")
	b := testRecord("/dev/bus/usb/001/005", "/sys/devices/usb1/1-3")
	tr.OnInserted(a)
	tr.OnInserted(b)
	assert.Equal(t, []device.Record{a, b}, tr.Devices())

	// Removal events carry fewer properties than insertions.
	tr.OnRemoved(device.Record{DeviceName: a.DeviceName, DeviceSystemPath: a.DeviceSystemPath})
	assert.Equal(t, []device.Record{b}, tr.Devices())

	kinds := []device.Kind{
		(<-next.Events()).Kind,
		(<-next.Events()).Kind,
		(<-next.Events()).Kind,
	}
	assert.Equal(t, []device.Kind{device.KindInserted, device.KindInserted, device.KindRemoved}, kinds)
}

func TestTracker_RemoveMatchesNameAndPath(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	a := testRecord("/dev/bus/usb/001/004", "/sys/devices/usb1/1-2")
	tr.OnInserted(a)

	tr.OnRemoved(testRecord("/dev/bus/usb/001/004", "/sys/devices/usb1/1-9"))
	tr.OnRemoved(testRecord("/dev/bus/usb/001/009", "/sys/devices/usb1/1-2"))
	require.Len(t, tr.Devices(), 1)

	tr.OnRemoved(a)
	assert.Empty(t, tr.Devices())
}

func TestTracker_RemovesFirstDuplicateOnly(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	a := testRecord("/dev/ttyUSB0", "/sys/devices/usb1/1-2/tty/ttyUSB0")
	tr.OnInserted(a)
	tr.OnInserted(a)

	tr.OnRemoved(a)
	assert.Len(t, tr.Devices(), 1)
}

func TestTracker_DevicesIsACopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	tr.OnInserted(testRecord("/dev/sdb", "/sys/block/sdb"))

	devs := tr.Devices()
	devs[0].DeviceName = "changed"
	assert.Equal(t, "/dev/sdb", tr.Devices()[0].DeviceName)

	tr.Reset()
	assert.Empty(t, tr.Devices())
}

func TestHandlerFuncs_NilFuncs(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		h := HandlerFuncs{}
		h.OnInserted(device.Record{})
		h.OnRemoved(device.Record{})
	})

	var got string
	h := HandlerFuncs{Removed: func(rec device.Record) { got = rec.DeviceName }}
	h.OnInserted(testRecord("/dev/a", "/sys/a"))
	h.OnRemoved(testRecord("/dev/b", "/sys/b"))
	assert.Equal(t, "/dev/b", got)
}

func TestChannelHandler_Close(t *testing.T) {
	t.Parallel()

	h := NewChannelHandler(2)
	h.OnInserted(testRecord("/dev/a", "/sys/a"))
	h.OnRemoved(testRecord("/dev/a", "/sys/a"))
	h.Close()

	var events []Event
	for ev := range h.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, device.KindInserted, events[0].Kind)
	assert.Equal(t, device.KindRemoved, events[1].Kind)
}
