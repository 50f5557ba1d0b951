// Package pkg provides shared utilities for the softgdrom drive engine.
//
// This package contains common functionality used by the engine, its
// hardware abstraction layer, and the simulated controller, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the drive result taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDrive, "drive initialized", "sectorSize", 2048)
//
// # Errors
//
// Every drive operation reports one of a small set of outcomes. Failures are
// sentinel values, wrapped with context where useful:
//
//	if errors.Is(err, pkg.ErrDiscChanged) {
//	    // Re-read the TOC
//	}
//
// [ResultOf] converts any returned error back to its numeric [Result].
package pkg
