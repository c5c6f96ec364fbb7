// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Glimpse packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests never block forever on an event channel that a regression has
// silenced. These helpers are the only place in the test suite where
// real wall-clock timeouts appear; everything else runs on an injected
// mock clock.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil

import (
	"fmt"
	"time"
)

// failer is the subset of *testing.T these helpers need. An interface
// keeps the package free of a testing import in non-test builds.
type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test.
//
//	event := testutil.RequireReceive(t, events, 5*time.Second, "waiting for peer-joined")
func RequireReceive[T any](t failer, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", formatMessage(msgAndArgs))
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
	}
	panic("unreachable")
}

// RequireNoReceive asserts that ch stays silent for the given window.
// Use it to verify suppression behavior (no duplicate events, no event
// for an unchanged quality level).
func RequireNoReceive[T any](t failer, ch <-chan T, window time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v: %s", v, formatMessage(msgAndArgs))
	case <-time.After(window):
	}
}

// RequireClosed waits for ch to be closed (or receive a value) within
// timeout, or fails the test.
func RequireClosed(t failer, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for channel close: %s", timeout, formatMessage(msgAndArgs))
	}
}

func formatMessage(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return "(no message)"
	}
	if format, ok := msgAndArgs[0].(string); ok && len(msgAndArgs) > 1 {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	if len(msgAndArgs) == 1 {
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	return fmt.Sprintf("%v", msgAndArgs)
}
