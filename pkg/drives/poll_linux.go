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
	"errors"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// watchTableChanges polls the mount table for POLLPRI, which the kernel
// raises once per mount table change on each open file, and signals
// changed. It returns when stop is closed.
func watchTableChanges(path string, changed chan<- struct{}, stop <-chan struct{}) {
	f, err := os.Open(path)
	if err != nil {
		log.Debug().Err(err).Msg("mount table change notification unavailable")
		return
	}
	defer func() { _ = f.Close() }()

	fds := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
	for {
		select {
		case <-stop:
			return
		default:
		}

		// Bounded wait so stop is noticed.
		n, err := unix.Poll(fds, 500)
		if errors.Is(err, unix.EINTR) {
			continue
		} else if err != nil {
			log.Warn().Err(err).Msg("poll on mount table failed")
			return
		}
		if n == 0 || fds[0].Revents&(unix.POLLPRI|unix.POLLERR) == 0 {
			continue
		}

		select {
		case changed <- struct{}{}:
		default:
		}
	}
}
