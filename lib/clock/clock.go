// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the handful of time operations the transport
// and session layers depend on: reading the current time, waiting, and
// scheduling a delayed callback.
//
// Production code receives Real(). Tests receive a FakeClock and move
// time forward explicitly with Advance, so reconnect backoff and
// app-info rate limiting can be exercised without sleeping.
package clock

import "time"

// Clock is the time source injected into every component that
// schedules work. Components never call time.Now or time.AfterFunc
// directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc runs f after d has elapsed. The returned Timer can
	// cancel a call that has not happened yet.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop cancels the call. Reports false if the call already ran or
	// was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
