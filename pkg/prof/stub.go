//go:build !profile

package prof

import (
	"errors"
	"io"
)

// Profiling errors, defined for API compatibility.
var (
	ErrActive         = errors.New("profile session already active")
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile names a pprof profile.
type Profile string

// Profiles.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// String returns the profile name.
func (p Profile) String() string {
	return string(p)
}

// Session is an inert profile session.
type Session struct{}

// Enabled reports whether profiling is compiled in.
func Enabled() bool { return false }

// Start is a no-op when built without the "profile" tag.
func Start(string) (*Session, error) {
	return &Session{}, nil
}

// Stop is a no-op when built without the "profile" tag.
func (s *Session) Stop() error { return nil }

// Dir returns the empty string when built without the "profile" tag.
func (s *Session) Dir() string { return "" }

// Snapshot is a no-op when built without the "profile" tag.
func Snapshot(io.Writer, Profile, int) error { return nil }
