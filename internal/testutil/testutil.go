// Package testutil provides shared test utilities and fakes for attendance tests.
package testutil

import (
	"testing"
	"time"

	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// DefaultWait bounds how long helpers wait for asynchronous work.
const DefaultWait = 2 * time.Second

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Recorder collects envelopes delivered to a subscriber.
type Recorder struct {
	mu        sync.Mutex
	envelopes []envelope.Envelope
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends env. It has the signature of a subscriber callback.
func (r *Recorder) Record(env envelope.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}

// Envelopes returns a copy of everything recorded.
func (r *Recorder) Envelopes() []envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]envelope.Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// Count returns the number of recorded envelopes.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

// OfType returns recorded envelopes of type t.
func (r *Recorder) OfType(t envelope.Type) []envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []envelope.Envelope
	for _, env := range r.envelopes {
		if env.Type() == t {
			out = append(out, env)
		}
	}
	return out
}

// Statuses returns the messages of recorded CONNECTION_STATUS envelopes.
func (r *Recorder) Statuses() []string {
	var out []string
	for _, env := range r.OfType(envelope.TypeConnectionStatus) {
		out = append(out, env.Message())
	}
	return out
}

// WaitForType waits until at least n envelopes of type t were recorded.
func (r *Recorder) WaitForType(t *testing.T, typ envelope.Type, n int) []envelope.Envelope {
	t.Helper()
	WaitFor(t, DefaultWait, func() bool {
		return len(r.OfType(typ)) >= n
	}, "envelopes of type "+string(typ))
	return r.OfType(typ)
}

// WaitForStatus waits until a CONNECTION_STATUS with message was recorded
// at least n times.
func (r *Recorder) WaitForStatus(t *testing.T, message string, n int) {
	t.Helper()
	WaitFor(t, DefaultWait, func() bool {
		count := 0
		for _, m := range r.Statuses() {
			if m == message {
				count++
			}
		}
		return count >= n
	}, "connection status "+message)
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = nil
}

// AssertEqual is a simple equality assertion helper.
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue asserts that a condition is true.
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("%s: expected true, got false", msg)
	}
}

// AssertFalse asserts that a condition is false.
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Errorf("%s: expected false, got true", msg)
	}
}

// AssertNoError asserts that an error is nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}
