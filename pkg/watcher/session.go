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

// Package watcher runs the device watch lifecycle: report the devices that
// are already present, then follow live hotplug events until stopped.
//
// A Session moves through Idle -> Enumerating -> Monitoring -> Stopping ->
// Idle. Start blocks for the whole session, so callers run it on its own
// goroutine and call Stop from anywhere to end it.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbevents/pkg/platform"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultBackoff is the pause after a transient wait failure before
// waiting again.
const DefaultBackoff = 100 * time.Millisecond

// ErrAlreadyRunning is returned by Start when the session is not idle.
var ErrAlreadyRunning = errors.New("watch session already running")

// State is a Session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateEnumerating
	StateMonitoring
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateMonitoring:
		return "monitoring"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configure a single Start call.
type Options struct {
	// IncludeSecondarySubsystem also watches serial ttys alongside USB
	// devices.
	IncludeSecondarySubsystem bool
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for backoff delays.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithBackoff sets the delay after a transient wait failure.
func WithBackoff(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// run is the per-Start cancellation state.
type run struct {
	stop     chan struct{}
	done     chan struct{}
	id       string
	stopOnce sync.Once
}

func (r *run) signal() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopped(ctx context.Context) bool {
	select {
	case <-r.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Session owns one watch over a platform source. The source is used
// exclusively by the session while Start runs and is not closed by it.
// Separate Sessions over separate sources may run concurrently.
type Session struct {
	src     platform.Source
	clock   clockwork.Clock
	run     *run
	backoff time.Duration
	state   State
	mu      syncutil.Mutex
}

// New creates an idle Session reading from src.
func New(src platform.Source, opts ...Option) *Session {
	s := &Session{
		src:     src,
		clock:   clockwork.NewRealClock(),
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the running Start returns. When the
// session is idle the channel is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return closedChan
	}
	return s.run.done
}

// Stop asks a running session to end and returns without waiting. It is
// safe to call from any goroutine, more than once, and while idle, where it
// does nothing. The session notices at its next wait point; a handler call
// in progress is not interrupted. Use Done to wait for the exit.
func (s *Session) Stop() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil {
		return
	}
	r.signal()
}

// Start runs the session until Stop is called or ctx is cancelled, and
// blocks until then. Every present device with a device node is first
// reported to h as inserted; live events follow in arrival order.
//
// Start returns nil after a requested shutdown. It returns an error wrapping
// platform.ErrSourceUnavailable or platform.ErrSubscriptionFailed when the
// session cannot be set up, and ErrAlreadyRunning if the session is busy.
// In every case the session is idle again when Start returns.
func (s *Session) Start(ctx context.Context, h Handler, opts Options) error {
	if h == nil {
		h = HandlerFuncs{}
	}

	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	r := &run{
		id:   uuid.NewString(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.run = r
	s.state = StateEnumerating
	s.mu.Unlock()

	defer s.finish(r)

	logger := log.With().Str("session", r.id).Logger()

	if s.src == nil {
		return fmt.Errorf("%w: no device source", platform.ErrSourceUnavailable)
	}

	filter := platform.Filter{IncludeSecondary: opts.IncludeSecondarySubsystem}

	logger.Debug().Stringer("state", StateEnumerating).Msg("watch session state")
	devs, err := s.src.Enumerate(ctx, filter)
	if err != nil && r.stopped(ctx) {
		logger.Debug().Err(err).Msg("stop requested during enumeration")
		return nil
	} else if err != nil {
		logger.Error().Err(err).Msg("device enumeration failed")
		return fmt.Errorf("%w: enumerate: %w", platform.ErrSourceUnavailable, err)
	}
	for _, raw := range devs {
		if r.stopped(ctx) {
			logger.Debug().Msg("stop requested during enumeration")
			return nil
		}
		if raw == nil || raw.DevNode() == "" {
			continue
		}
		h.OnInserted(device.Normalize(raw))
	}
	logger.Debug().Int("devices", len(devs)).Msg("initial enumeration complete")

	if r.stopped(ctx) {
		return nil
	}

	sub, err := s.src.Subscribe(ctx, filter)
	if err != nil && r.stopped(ctx) {
		return nil
	} else if err != nil {
		logger.Error().Err(err).Msg("device event subscription failed")
		return fmt.Errorf("%w: %w", platform.ErrSubscriptionFailed, err)
	}

	s.setState(&logger, StateMonitoring)
	s.monitor(ctx, &logger, r, h, sub)

	s.setState(&logger, StateStopping)
	if err := sub.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing device event subscription")
	}

	return nil
}

// monitor waits on the live event stream and the stop signal together
// until one of the stop conditions fires.
func (s *Session) monitor(
	ctx context.Context,
	logger *zerolog.Logger,
	r *run,
	h Handler,
	sub platform.Subscription,
) {
	warnLimit := rate.NewLimiter(rate.Every(time.Second), 1)

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case raw, ok := <-sub.Events():
			if !ok {
				logger.Warn().Msg("device event stream closed")
				return
			}
			if r.stopped(ctx) {
				return
			}
			dispatch(logger, h, raw)
		case err := <-sub.Errors():
			if warnLimit.Allow() {
				logger.Warn().Err(err).Dur("backoff", s.backoff).Msg("device event wait failed")
			} else {
				logger.Debug().Err(err).Msg("device event wait failed")
			}
			select {
			case <-s.clock.After(s.backoff):
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func dispatch(logger *zerolog.Logger, h Handler, raw device.Raw) {
	if raw == nil || raw.DevNode() == "" || raw.SysPath() == "" {
		logger.Debug().Err(device.ErrMalformed).Msg("skipping device event")
		return
	}

	kind := device.Classify(raw.Action())
	logger.Debug().
		Str("action", raw.Action()).
		Str("syspath", raw.SysPath()).
		Str("devnode", raw.DevNode()).
		Stringer("kind", kind).
		Msg("device event")

	switch kind {
	case device.KindInserted:
		h.OnInserted(device.Normalize(raw))
	case device.KindRemoved:
		h.OnRemoved(device.Normalize(raw))
	case device.KindIgnored:
	}
}

func (s *Session) setState(logger *zerolog.Logger, state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	logger.Debug().Stringer("state", state).Msg("watch session state")
}

func (s *Session) finish(r *run) {
	s.mu.Lock()
	s.state = StateIdle
	s.run = nil
	s.mu.Unlock()

	r.signal()
	close(r.done)
}
