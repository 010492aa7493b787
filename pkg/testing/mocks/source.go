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

package mocks

import (
	"context"
	"sync"

	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/mounts"
	"github.com/ZaparooProject/usbevents/pkg/platform"
	"github.com/stretchr/testify/mock"
)

// MockSource is a testify mock for platform.Source.
//
// Example:
//
//	src := &mocks.MockSource{}
//	src.On("Enumerate", mock.Anything, platform.Filter{}).Return([]device.Raw{dev}, nil)
//	src.On("Subscribe", mock.Anything, platform.Filter{}).Return(sub, nil)
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Enumerate(ctx context.Context, filter platform.Filter) ([]device.Raw, error) {
	args := m.Called(ctx, filter)
	devs, _ := args.Get(0).([]device.Raw)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return devs, args.Error(1)
}

func (m *MockSource) Subscribe(ctx context.Context, filter platform.Filter) (platform.Subscription, error) {
	args := m.Called(ctx, filter)
	sub, _ := args.Get(0).(platform.Subscription)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return sub, args.Error(1)
}

func (m *MockSource) DeviceBySysPath(sysPath string) (device.Raw, error) {
	args := m.Called(sysPath)
	dev, _ := args.Get(0).(device.Raw)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return dev, args.Error(1)
}

func (m *MockSource) ChildMatching(parent device.Raw, subsystem, devType string) (device.Raw, error) {
	args := m.Called(parent, subsystem, devType)
	dev, _ := args.Get(0).(device.Raw)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return dev, args.Error(1)
}

func (m *MockSource) MountTable() ([]mounts.Entry, error) {
	args := m.Called()
	table, _ := args.Get(0).([]mounts.Entry)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return table, args.Error(1)
}

func (m *MockSource) Close() error {
	args := m.Called()
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return args.Error(0)
}

// Subscription is a channel backed platform.Subscription driven by tests.
type Subscription struct {
	events chan device.Raw
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

// NewSubscription creates a Subscription. Sends block until the watcher
// receives them, so a returned Send means the event was taken.
func NewSubscription() *Subscription {
	return &Subscription{
		events: make(chan device.Raw),
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (s *Subscription) Events() <-chan device.Raw { return s.events }
func (s *Subscription) Errors() <-chan error      { return s.errs }

func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed is closed once Close has been called.
func (s *Subscription) Closed() <-chan struct{} { return s.closed }

// Send delivers a device event. It returns false if the subscription was
// closed before the event was taken.
func (s *Subscription) Send(dev device.Raw) bool {
	select {
	case s.events <- dev:
		return true
	case <-s.closed:
		return false
	}
}

// SendError delivers a transient wait error.
func (s *Subscription) SendError(err error) bool {
	select {
	case s.errs <- err:
		return true
	case <-s.closed:
		return false
	}
}

// End closes the event channel, as a source does when it goes away.
func (s *Subscription) End() {
	close(s.events)
}
