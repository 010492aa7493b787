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

package linux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	libudevPrefix = "libudev\x00"
	libudevMagic  = uint32(0xfeedcafe)

	// udev_monitor_netlink_header: prefix[8], magic, header_size,
	// properties_off, properties_len, then four filter words.
	libudevHeaderLen = 40
)

var (
	errShortMessage = errors.New("uevent message too short")
	errBadMagic     = errors.New("libudev magic number mismatch")
	errBadOffset    = errors.New("libudev properties offset out of range")
	errNoDevPath    = errors.New("uevent message has no DEVPATH")
)

// ParseMessage decodes one netlink uevent message, either in libudev
// framing or plain kernel framing, into a Device rooted at sysfsRoot.
func ParseMessage(msg []byte, sysfsRoot string) (*Device, error) {
	var payload []byte
	switch {
	case bytes.HasPrefix(msg, []byte(libudevPrefix)):
		p, err := libudevPayload(msg)
		if err != nil {
			return nil, err
		}
		payload = p
	default:
		// Kernel framing starts with "action@devpath" before the properties.
		head, rest, found := bytes.Cut(msg, []byte{0})
		if !found || !bytes.Contains(head, []byte("@")) {
			return nil, fmt.Errorf("%w: no header", errShortMessage)
		}
		payload = rest
	}

	props := parseEnv(payload)
	devPath := props["DEVPATH"]
	if devPath == "" {
		return nil, errNoDevPath
	}

	return newDevice(path.Join(sysfsRoot, devPath), props["SUBSYSTEM"], props["ACTION"], props), nil
}

func libudevPayload(msg []byte) ([]byte, error) {
	if len(msg) < libudevHeaderLen {
		return nil, errShortMessage
	}
	// The magic is in network byte order, the offsets in host order.
	if binary.BigEndian.Uint32(msg[8:12]) != libudevMagic {
		return nil, errBadMagic
	}
	off := binary.NativeEndian.Uint32(msg[16:20])
	size := binary.NativeEndian.Uint32(msg[20:24])
	if off < libudevHeaderLen || uint64(off) >= uint64(len(msg)) {
		return nil, errBadOffset
	}
	end := uint64(len(msg))
	if size > 0 && uint64(off)+uint64(size) < end {
		end = uint64(off) + uint64(size)
	}
	return msg[off:end], nil
}

// parseEnv splits NUL separated KEY=VALUE pairs. Entries without a "=" are
// skipped.
func parseEnv(payload []byte) map[string]string {
	props := make(map[string]string)
	for _, field := range bytes.Split(payload, []byte{0}) {
		key, value, ok := strings.Cut(string(field), "=")
		if !ok || key == "" {
			continue
		}
		props[key] = value
	}
	return props
}
