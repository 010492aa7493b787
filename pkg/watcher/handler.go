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

import "github.com/ZaparooProject/usbevents/pkg/device"

// Handler receives device events from a Session. Calls are made from the
// goroutine running Session.Start, one at a time and in event order. A
// handler that blocks holds up the session, including its shutdown.
type Handler interface {
	OnInserted(rec device.Record)
	OnRemoved(rec device.Record)
}

// HandlerFuncs adapts a pair of functions to Handler. Nil functions are
// skipped.
type HandlerFuncs struct {
	Inserted func(rec device.Record)
	Removed  func(rec device.Record)
}

func (h HandlerFuncs) OnInserted(rec device.Record) {
	if h.Inserted != nil {
		h.Inserted(rec)
	}
}

func (h HandlerFuncs) OnRemoved(rec device.Record) {
	if h.Removed != nil {
		h.Removed(rec)
	}
}

// Event is a device event delivered through a ChannelHandler.
type Event struct {
	Record device.Record
	Kind   device.Kind
}

// ChannelHandler forwards events to a channel. Sends block until the
// consumer reads, so an unread channel stalls the session.
type ChannelHandler struct {
	events chan Event
}

// NewChannelHandler creates a ChannelHandler with the given channel buffer.
func NewChannelHandler(buffer int) *ChannelHandler {
	return &ChannelHandler{events: make(chan Event, buffer)}
}

func (c *ChannelHandler) Events() <-chan Event {
	return c.events
}

func (c *ChannelHandler) OnInserted(rec device.Record) {
	c.events <- Event{Kind: device.KindInserted, Record: rec}
}

func (c *ChannelHandler) OnRemoved(rec device.Record) {
	c.events <- Event{Kind: device.KindRemoved, Record: rec}
}

// Close closes the event channel. Call it only after the session using the
// handler has returned.
func (c *ChannelHandler) Close() {
	close(c.events)
}
