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

package device

// Kind is the effect a hotplug action has on callers.
type Kind int

const (
	KindIgnored Kind = iota
	KindInserted
	KindRemoved
)

func (k Kind) String() string {
	switch k {
	case KindInserted:
		return "inserted"
	case KindRemoved:
		return "removed"
	default:
		return "ignored"
	}
}

// Classify maps a platform action string to its effect. An empty action is
// a device that already existed when it was surfaced, and counts as
// inserted. Actions such as "change" and "move" are ignored.
func Classify(action string) Kind {
	switch action {
	case "", "add", "bind", "online":
		return KindInserted
	case "remove", "unbind", "offline":
		return KindRemoved
	default:
		return KindIgnored
	}
}
