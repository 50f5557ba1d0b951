//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrActive indicates a session is already recording.
	ErrActive = errors.New("profile session already active")

	// ErrInvalidProfile indicates an unknown profile, or the CPU profile
	// where only snapshots are accepted.
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

// snapshots are written when a session stops.
var snapshots = []Profile{ProfileBlock, ProfileMutex, ProfileGoroutine, ProfileHeap}

// Sampling rates applied for the lifetime of a session.
const (
	blockRate     = 1
	mutexFraction = 1
)

var (
	// mu guards active.
	mu     sync.Mutex
	active bool
)

// Session is an active profile recording.
type Session struct {
	dir  string
	cpu  *os.File
	once sync.Once
	err  error
}

// Enabled reports whether profiling is compiled in.
func Enabled() bool { return true }

// Start creates dir if needed, begins CPU profiling into it and enables
// block and mutex sampling. Only one session may be active.
func Start(dir string) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if active {
		return nil, ErrActive
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, fileName(ProfileCPU)))
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}

	runtime.SetBlockProfileRate(blockRate)
	runtime.SetMutexProfileFraction(mutexFraction)
	active = true
	return &Session{dir: dir, cpu: f}, nil
}

// Stop ends the CPU profile, writes the snapshot profiles and restores the
// sampling rates. It is safe to call more than once.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		pprof.StopCPUProfile()
		errs := []error{s.cpu.Close()}
		for _, p := range snapshots {
			errs = append(errs, s.write(p))
		}

		runtime.SetBlockProfileRate(0)
		runtime.SetMutexProfileFraction(0)
		active = false
		s.err = errors.Join(errs...)
	})
	return s.err
}

// Dir returns the directory the session writes to.
func (s *Session) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

func (s *Session) write(p Profile) error {
	f, err := os.Create(filepath.Join(s.dir, fileName(p)))
	if err != nil {
		return err
	}
	defer f.Close()
	return Snapshot(f, p, 0)
}

// Snapshot writes profile p to w. Debug level 0 is binary protobuf, 1 is
// text. The CPU profile is only available through a [Session].
func Snapshot(w io.Writer, p Profile, debug int) error {
	if p == ProfileCPU {
		return fmt.Errorf("%w: %s needs a session", ErrInvalidProfile, p)
	}
	prof := pprof.Lookup(string(p))
	if prof == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, p)
	}
	return prof.WriteTo(w, debug)
}

func fileName(p Profile) string {
	return string(p) + ".prof"
}
