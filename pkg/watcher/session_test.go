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
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/platform"
	"github.com/ZaparooProject/usbevents/pkg/testing/fixtures"
	"github.com/ZaparooProject/usbevents/pkg/testing/mocks"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testTimeout = 2 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startAsync(ctx context.Context, s *Session, h Handler, opts Options) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx, h, opts)
	}()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(testTimeout):
		t.Fatal("session did not return")
		return nil
	}
}

func nextEvent(t *testing.T, h *ChannelHandler) Event {
	t.Helper()
	select {
	case ev := <-h.Events():
		return ev
	case <-time.After(testTimeout):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestStart_EnumeratesBeforeMonitoring(t *testing.T) {
	t.Parallel()

	h := NewChannelHandler(10)
	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}

	noNode := &fixtures.RawDevice{Path: "/sys/devices/pci0000:00/0000:00:14.0/usb1/1-4", Subsys: "usb"}
	src.On("Enumerate", mock.Anything, platform.Filter{}).
		Return([]device.Raw{fixtures.NewFlashDrive(), noNode, fixtures.NewHub()}, nil)

	var seenAtSubscribe int
	src.On("Subscribe", mock.Anything, platform.Filter{}).
		Run(func(mock.Arguments) { seenAtSubscribe = len(h.Events()) }).
		Return(sub, nil)

	s := New(src)
	errCh := startAsync(context.Background(), s, h, Options{})

	first := nextEvent(t, h)
	second := nextEvent(t, h)
	assert.Equal(t, device.KindInserted, first.Kind)
	assert.Equal(t, "/dev/bus/usb/001/004", first.Record.DeviceName)
	assert.Equal(t, device.KindInserted, second.Kind)
	assert.Equal(t, "/dev/bus/usb/002/001", second.Record.DeviceName)

	// A live event is only taken once monitoring has begun.
	require.True(t, sub.Send(fixtures.NewSerialAdapter().WithAction("add")))
	assert.Equal(t, "/dev/ttyUSB0", nextEvent(t, h).Record.DeviceName)

	s.Stop()
	require.NoError(t, waitErr(t, errCh))

	assert.Equal(t, 2, seenAtSubscribe, "all enumerated devices reported before subscribing")
	assert.Empty(t, h.Events(), "device without a node must not be reported")
	src.AssertExpectations(t)
}

func TestStart_PassesSecondarySubsystemFilter(t *testing.T) {
	t.Parallel()

	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	filter := platform.Filter{IncludeSecondary: true}
	src.On("Enumerate", mock.Anything, filter).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, filter).Return(sub, nil)

	s := New(src)
	errCh := startAsync(context.Background(), s, nil, Options{IncludeSecondarySubsystem: true})

	require.True(t, sub.Send(fixtures.NewHub().WithAction("change")))
	s.Stop()
	require.NoError(t, waitErr(t, errCh))
	src.AssertExpectations(t)
}

func TestMonitor_ActionTaxonomy(t *testing.T) {
	t.Parallel()

	h := NewChannelHandler(10)
	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	s := New(src)
	errCh := startAsync(context.Background(), s, h, Options{})

	drive := fixtures.NewFlashDrive()
	for _, action := range []string{"add", "change", "move", "remove", "bind", "unbind", "online", "offline", ""} {
		require.True(t, sub.Send(drive.WithAction(action)), action)
	}
	// Devices without a node are malformed and skipped.
	require.True(t, sub.Send(&fixtures.RawDevice{Path: drive.Path, Act: "add"}))

	s.Stop()
	require.NoError(t, waitErr(t, errCh))
	h.Close()

	kinds := make([]device.Kind, 0, 7)
	for ev := range h.Events() {
		kinds = append(kinds, ev.Kind)
		assert.Equal(t, drive.Path, ev.Record.DeviceSystemPath)
	}
	assert.Equal(t, []device.Kind{
		device.KindInserted, // add
		device.KindRemoved,  // remove
		device.KindInserted, // bind
		device.KindRemoved,  // unbind
		device.KindInserted, // online
		device.KindRemoved,  // offline
		device.KindInserted, // no action
	}, kinds)
}

func TestMonitor_TruncatesOversizedFields(t *testing.T) {
	t.Parallel()

	h := NewChannelHandler(1)
	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	s := New(src)
	errCh := startAsync(context.Background(), s, h, Options{})

	raw := fixtures.NewFlashDrive().WithAction("add")
	raw.Props = map[string]string{device.PropVendor: strings.Repeat("K", 4096)}
	require.True(t, sub.Send(raw))

	ev := nextEvent(t, h)
	assert.Len(t, ev.Record.Vendor, device.MaxFieldLen)

	s.Stop()
	require.NoError(t, waitErr(t, errCh))
}

func TestStop_EndsMonitoringAndClosesSubscription(t *testing.T) {
	t.Parallel()

	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	inserted := 0
	s := New(src)
	errCh := startAsync(context.Background(), s, HandlerFuncs{
		Inserted: func(device.Record) { inserted++ },
	}, Options{})

	require.True(t, sub.Send(fixtures.NewFlashDrive().WithAction("add")))
	s.Stop()
	require.NoError(t, waitErr(t, errCh))

	select {
	case <-sub.Closed():
	default:
		t.Fatal("subscription was not closed")
	}
	assert.False(t, sub.Send(fixtures.NewFlashDrive().WithAction("add")), "no events taken after exit")
	assert.Equal(t, 1, inserted)
	assert.Equal(t, StateIdle, s.State())
}

func TestStop_IdempotentAndSafeWhenIdle(t *testing.T) {
	t.Parallel()

	s := New(&mocks.MockSource{})

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
	assert.Equal(t, StateIdle, s.State())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed while idle")
	}
}

func TestStop_TwiceWhileRunning(t *testing.T) {
	t.Parallel()

	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	s := New(src)
	errCh := startAsync(context.Background(), s, nil, Options{})
	require.True(t, sub.Send(fixtures.NewHub().WithAction("change")))

	done := s.Done()
	s.Stop()
	s.Stop()
	require.NoError(t, waitErr(t, errCh))

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("Done not closed after Start returned")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	t.Parallel()

	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	s := New(src)
	errCh := startAsync(context.Background(), s, nil, Options{})
	require.True(t, sub.Send(fixtures.NewHub().WithAction("change")))
	assert.Equal(t, StateMonitoring, s.State())

	err := s.Start(context.Background(), nil, Options{})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	s.Stop()
	require.NoError(t, waitErr(t, errCh))
	src.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestStart_CanRestartAfterStop(t *testing.T) {
	t.Parallel()

	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{fixtures.NewFlashDrive()}, nil)

	s := New(src)
	for range 2 {
		sub := mocks.NewSubscription()
		src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil).Once()

		h := NewChannelHandler(1)
		errCh := startAsync(context.Background(), s, h, Options{})
		assert.Equal(t, device.KindInserted, nextEvent(t, h).Kind)
		require.True(t, sub.Send(fixtures.NewHub().WithAction("change")))

		s.Stop()
		require.NoError(t, waitErr(t, errCh))
	}
}

func TestStart_SourceUnavailable(t *testing.T) {
	t.Parallel()

	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return(nil, errors.New("sysfs not mounted"))

	s := New(src)
	err := s.Start(context.Background(), nil, Options{})

	require.ErrorIs(t, err, platform.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "sysfs not mounted")
	assert.Equal(t, StateIdle, s.State())
	src.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything)
}

func TestStart_NilSource(t *testing.T) {
	t.Parallel()

	err := New(nil).Start(context.Background(), nil, Options{})
	require.ErrorIs(t, err, platform.ErrSourceUnavailable)
}

func TestStart_SubscriptionFailed(t *testing.T) {
	t.Parallel()

	h := NewChannelHandler(1)
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{fixtures.NewFlashDrive()}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(nil, errors.New("netlink: permission denied"))

	s := New(src)
	err := s.Start(context.Background(), h, Options{})

	require.ErrorIs(t, err, platform.ErrSubscriptionFailed)
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, h.Events(), 1, "enumeration results were still delivered")
}

func TestStop_DuringEnumeration(t *testing.T) {
	t.Parallel()

	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{
		fixtures.NewFlashDrive(), fixtures.NewHub(), fixtures.NewSerialAdapter(),
	}, nil)

	s := New(src)
	var got []device.Record
	err := s.Start(context.Background(), HandlerFuncs{
		Inserted: func(rec device.Record) {
			got = append(got, rec)
			s.Stop()
		},
	}, Options{})

	require.NoError(t, err)
	assert.Len(t, got, 1, "remaining enumeration callbacks skipped after Stop")
	src.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything)
}

func TestMonitor_TransientErrorBacksOff(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	h := NewChannelHandler(1)
	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	s := New(src, WithClock(clock))
	errCh := startAsync(context.Background(), s, h, Options{})

	require.True(t, sub.SendError(errors.New("interrupted system call")))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "session should wait on the backoff timer")
	assert.Equal(t, StateMonitoring, s.State())

	clock.Advance(DefaultBackoff)

	require.True(t, sub.Send(fixtures.NewFlashDrive().WithAction("remove")))
	assert.Equal(t, device.KindRemoved, nextEvent(t, h).Kind)

	s.Stop()
	require.NoError(t, waitErr(t, errCh))
}

func TestStop_DuringBackoff(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	s := New(src, WithClock(clock), WithBackoff(time.Hour))
	errCh := startAsync(context.Background(), s, nil, Options{})

	require.True(t, sub.SendError(errors.New("EINTR")))
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	s.Stop()
	require.NoError(t, waitErr(t, errCh))
}

func TestStart_ContextCancel(t *testing.T) {
	t.Parallel()

	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(src)
	errCh := startAsync(ctx, s, nil, Options{})
	require.True(t, sub.Send(fixtures.NewHub().WithAction("change")))

	cancel()
	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, StateIdle, s.State())
}

func TestMonitor_StreamClosedEndsSession(t *testing.T) {
	t.Parallel()

	sub := mocks.NewSubscription()
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).Return([]device.Raw{}, nil)
	src.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil)

	s := New(src)
	errCh := startAsync(context.Background(), s, nil, Options{})
	require.True(t, sub.Send(fixtures.NewHub().WithAction("change")))

	sub.End()
	require.NoError(t, waitErr(t, errCh))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "enumerating", StateEnumerating.String())
	assert.Equal(t, "monitoring", StateMonitoring.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestStart_CancelledEnumerationIsNotAFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &mocks.MockSource{}
	src.On("Enumerate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	s := New(src)
	require.NoError(t, s.Start(ctx, nil, Options{}))
	assert.Equal(t, StateIdle, s.State())
	src.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything)
}
