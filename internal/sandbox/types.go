// Package sandbox executes shell commands for a channel's bash tool, either
// directly on the host or inside a named container, and translates paths
// between the two (spec §4.1 "Sandbox Executor").
package sandbox

import (
	"errors"
	"fmt"
)

// Kind selects which backend an Executor talks to.
type Kind string

const (
	KindHost   Kind = "host"
	KindDocker Kind = "docker"
)

// Sentinel errors an Executor returns, wrapped with context via fmt.Errorf's
// %w so callers can errors.Is against them regardless of backend.
var (
	ErrNotFound         = errors.New("sandbox: not found")
	ErrNotADirectory    = errors.New("sandbox: not a directory")
	ErrPermissionDenied = errors.New("sandbox: permission denied")
	ErrIOError          = errors.New("sandbox: io error")
)

// Result is the outcome of one command execution.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Truncated  bool // true if Stdout/Stderr were cut to the rolling tail buffer
	DurationMS int64
}

// Options tune a single Exec call.
type Options struct {
	// ArtifactPath, if set, receives the full untruncated combined output
	// (stdout+stderr interleaved as written), independent of the in-memory
	// rolling tail buffer used for Result.Stdout/Stderr.
	ArtifactPath string
}

func wrapExit(kind Kind, name string, err error) error {
	return fmt.Errorf("sandbox(%s): backend %q: %w", kind, name, err)
}
