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

// Package usbevents is the library surface: watch USB devices come and go
// and find where their storage is mounted.
package usbevents

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbevents/pkg/platform"
	"github.com/ZaparooProject/usbevents/pkg/platform/linux"
	"github.com/ZaparooProject/usbevents/pkg/resolver"
	"github.com/ZaparooProject/usbevents/pkg/watcher"
	"github.com/rs/zerolog/log"
)

// DeviceCallback receives a device that was inserted or removed.
type DeviceCallback func(rec device.Record)

// MountPointCallback receives a mount directory, or "" when none was found.
type MountPointCallback func(mountPath string)

// Options configure StartWatcher.
type Options struct {
	// IncludeSecondarySubsystem also watches serial ttys alongside USB
	// devices.
	IncludeSecondarySubsystem bool
}

// SourceOpener opens a platform source. Each watch session and each mount
// lookup gets its own source.
type SourceOpener func() (platform.Source, error)

// SystemSource opens the Linux sysfs and netlink source described by cfg.
func SystemSource(cfg linux.Config) SourceOpener {
	return func() (platform.Source, error) {
		src, err := linux.New(cfg)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// Watcher runs one watch session at a time. It holds no package level
// state, so independent Watchers may run side by side.
type Watcher struct {
	open        SourceOpener
	session     *watcher.Session
	cancel      context.CancelFunc
	sessionOpts []watcher.Option
	mu          syncutil.Mutex
}

func NewWatcher(open SourceOpener, opts ...watcher.Option) *Watcher {
	return &Watcher{
		open:        open,
		sessionOpts: opts,
	}
}

// StartWatcher reports every present device to inserted, then follows
// hotplug events until StopWatcher is called or ctx is cancelled. It blocks
// for the whole session.
//
// An error wrapping platform.ErrSourceUnavailable or
// platform.ErrSubscriptionFailed means the watch never started; a nil
// return means it ran and was stopped. Callbacks run on the calling
// goroutine; one that never returns stalls shutdown.
func (w *Watcher) StartWatcher(ctx context.Context, inserted, removed DeviceCallback, opts Options) error {
	if w.open == nil {
		return fmt.Errorf("%w: no source opener", platform.ErrSourceUnavailable)
	}

	w.mu.Lock()
	if w.session != nil {
		w.mu.Unlock()
		return watcher.ErrAlreadyRunning
	}
	src, err := w.open()
	if err != nil {
		w.mu.Unlock()
		if errors.Is(err, platform.ErrSourceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", platform.ErrSourceUnavailable, err)
	}
	session := watcher.New(src, w.sessionOpts...)
	ctx, cancel := context.WithCancel(ctx)
	w.session = session
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.session = nil
		w.cancel = nil
		w.mu.Unlock()

		if err := src.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing device source")
		}
	}()

	handler := watcher.HandlerFuncs{Inserted: inserted, Removed: removed}
	return session.Start(ctx, handler, watcher.Options{
		IncludeSecondarySubsystem: opts.IncludeSecondarySubsystem,
	})
}

// StopWatcher asks the running session to end and returns immediately. It
// is safe from any goroutine and does nothing when no session runs.
func (w *Watcher) StopWatcher() {
	w.mu.Lock()
	session, cancel := w.session, w.cancel
	w.mu.Unlock()

	if session == nil {
		return
	}
	// cancel reaches a session that has not begun its run yet
	cancel()
	session.Stop()
}

// Done returns a channel closed when the running session has ended. It is
// already closed when no session runs.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()

	if session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return session.Done()
}

// ResolveMountPoint calls cb once with the mount directory of the storage
// on the USB device at sysPath, or "" if it is not mounted. It is
// independent of any running session.
func (w *Watcher) ResolveMountPoint(sysPath string, cb MountPointCallback) {
	report := func(p string) {
		if cb != nil {
			cb(p)
		}
	}

	if w.open == nil {
		report("")
		return
	}
	src, err := w.open()
	if err != nil {
		log.Warn().Err(err).Msg("device source unavailable for mount lookup")
		report("")
		return
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing device source")
		}
	}()

	resolver.New(src).ResolveMountPoint(sysPath, report)
}
