// Package prof captures runtime profiles of a drive session.
//
// It wraps [runtime/pprof] and is conditionally compiled using the
// "profile" build tag:
//
//	go build -tags profile ./examples/sim-hal/gdromctl
//
// Without the tag every function is a no-op, so profiling hooks can stay in
// place at no cost.
//
// # Sessions
//
// A [Session] records a CPU profile for its whole lifetime and turns on
// block and mutex sampling, which is where contention on the drive's bus
// lock shows up. Stopping the session writes the snapshot profiles next to
// the CPU profile:
//
//	s, err := prof.Start("profiles")
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// The directory then holds cpu.prof, block.prof, mutex.prof,
// goroutine.prof and heap.prof, ready for go tool pprof.
//
// # Snapshots
//
// [Snapshot] writes a single profile to any writer. Debug level 1 gives
// human-readable text:
//
//	prof.Snapshot(os.Stdout, prof.ProfileGoroutine, 1)
package prof
