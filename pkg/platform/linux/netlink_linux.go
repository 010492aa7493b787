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

package linux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// udevMonitorGroup is the netlink multicast group udev rebroadcasts
// processed events on.
const udevMonitorGroup = 2

type parseFunc func(msg []byte) (device.Raw, error)

type netlinkSubscription struct {
	events    chan device.Raw
	errs      chan error
	done      chan struct{}
	parse     parseFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	endOnce   sync.Once
	sockFD    int
	wakeFD    int
}

func openNetlink(parse parseFunc) (*netlinkSubscription, error) {
	sockFD, err := unix.Socket(
		unix.AF_NETLINK,
		unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK,
		unix.NETLINK_KOBJECT_UEVENT,
	)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	// Pid 0 lets the kernel pick a port id, so several sockets can be open
	// in one process.
	if err := unix.Bind(sockFD, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: udevMonitorGroup,
	}); err != nil {
		_ = unix.Close(sockFD)
		return nil, fmt.Errorf("bind: %w", err)
	}

	return newNetlinkSubscription(sockFD, parse)
}

// newNetlinkSubscription starts reading datagrams from the nonblocking
// socket sockFD. The subscription owns sockFD from here on, also when an
// error is returned.
func newNetlinkSubscription(sockFD int, parse parseFunc) (*netlinkSubscription, error) {
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(sockFD)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	s := &netlinkSubscription{
		events: make(chan device.Raw),
		errs:   make(chan error),
		done:   make(chan struct{}),
		parse:  parse,
		sockFD: sockFD,
		wakeFD: wakeFD,
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (s *netlinkSubscription) Events() <-chan device.Raw { return s.events }
func (s *netlinkSubscription) Errors() <-chan error      { return s.errs }

// Close wakes the reader through the eventfd, waits for it to exit and
// releases both descriptors.
func (s *netlinkSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		buf := make([]byte, 8)
		binary.NativeEndian.PutUint64(buf, 1)
		if _, werr := unix.Write(s.wakeFD, buf); werr != nil {
			log.Debug().Err(werr).Msg("failed to write uevent wakeup")
		}

		s.wg.Wait()
		s.endEvents()

		err = errors.Join(unix.Close(s.sockFD), unix.Close(s.wakeFD))
	})
	return err
}

// endEvents closes the event channel, which tells the session the source
// is gone.
func (s *netlinkSubscription) endEvents() {
	s.endOnce.Do(func() { close(s.events) })
}

func (s *netlinkSubscription) readLoop() {
	defer s.wg.Done()

	fds := []unix.PollFd{
		{Fd: int32(s.sockFD), Events: unix.POLLIN},
		{Fd: int32(s.wakeFD), Events: unix.POLLIN},
	}

	for {
		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); errors.Is(err, unix.EINTR) {
			continue
		} else if err != nil {
			if !s.sendErr(fmt.Errorf("poll: %w", err)) {
				return
			}
			continue
		}

		if fds[1].Revents != 0 {
			return
		}

		revents := fds[0].Revents
		if revents&unix.POLLNVAL != 0 {
			// the descriptor is gone, nothing more can arrive
			s.sendErr(fmt.Errorf("uevent socket revents %#x", revents))
			s.endEvents()
			return
		}
		// POLLERR is cleared by the next receive, which hands back the
		// pending error. Queued datagrams are read on the following turns.
		if revents&(unix.POLLIN|unix.POLLERR) == 0 {
			continue
		}

		msg, err := s.readMsg()
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		} else if err != nil {
			// ENOBUFS means the kernel dropped events for this socket.
			if !s.sendErr(err) {
				return
			}
			continue
		}

		dev, err := s.parse(msg)
		if err != nil {
			log.Debug().Err(err).Int("len", len(msg)).Msg("ignoring uevent message")
			continue
		}
		if dev == nil {
			continue
		}

		select {
		case s.events <- dev:
		case <-s.done:
			return
		}
	}
}

// readMsg peeks at the pending datagram with a growing buffer until it
// fits, then reads it.
func (s *netlinkSubscription) readMsg() ([]byte, error) {
	pageSize := os.Getpagesize()
	buf := make([]byte, pageSize)
	for {
		n, _, err := unix.Recvfrom(s.sockFD, buf, unix.MSG_PEEK)
		if err != nil {
			return nil, fmt.Errorf("recvfrom: %w", err)
		}
		if n < len(buf) {
			break
		}
		buf = make([]byte, len(buf)+pageSize)
	}

	n, _, err := unix.Recvfrom(s.sockFD, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("recvfrom: %w", err)
	}
	return buf[:n], nil
}

func (s *netlinkSubscription) sendErr(err error) bool {
	select {
	case s.errs <- err:
		return true
	case <-s.done:
		return false
	}
}
