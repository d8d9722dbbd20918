// Package runner executes expanded scheduler commands as child processes.
//
// This is the only package in the adapter that touches the operating
// system's process table. Everything above it works with the captured
// Result.
package runner

import (
	"context"
	"time"
)

// MaxCaptureBytes caps how much of each output stream is retained.
// Beyond the cap the stream keeps draining (so the child never blocks on a
// full pipe) but nothing further is stored and Truncated is set.
const MaxCaptureBytes = 1 << 20 // 1 MiB

// Result is the outcome of one command execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// TimedOut is set when the command exceeded its timeout and the
	// process group was terminated. ExitCode is not meaningful then.
	TimedOut bool

	// Truncated is set when either stream exceeded MaxCaptureBytes.
	Truncated bool
}

// Runner runs one command to completion and captures its output.
// A non-zero exit is a normal Result, not an error; errors are reserved for
// failures to execute at all (spawn failure, backend unreachable).
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (Result, error)

	// Ready reports whether the runner can execute commands right now.
	Ready(ctx context.Context) error

	Close() error
}

// capBuffer stores up to cap bytes and counts the rest.
type capBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func newCapBuffer() *capBuffer {
	return &capBuffer{limit: MaxCaptureBytes}
}

func (b *capBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - len(b.buf); remaining > 0 {
		if len(p) <= remaining {
			b.buf = append(b.buf, p...)
		} else {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *capBuffer) String() string { return string(b.buf) }
