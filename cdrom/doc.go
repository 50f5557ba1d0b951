// Package cdrom implements a command-and-transfer engine for an optical disc
// drive controlled through resident controller firmware.
//
// It is platform-agnostic and reaches the hardware only via the interfaces
// of the github.com/ardnew/softgdrom/cdrom/hal package: the firmware
// command primitives, interrupt delivery, a periodic tick, a monotonic
// clock, cache maintenance and system bus access.
//
// # Architecture
//
// The engine is organized around a single in-flight command:
//
//   - Submission posts a command and retries transient refusals
//   - Completion is detected by polling, by the periodic tick, or by the
//     DMA transfer interrupt
//   - Transfers move sectors by PIO or DMA, blocking or not
//   - Streaming pulls a long read one chunk at a time
//   - The bus lock serializes all controller traffic
//
// Ticks and interrupts never touch engine state directly. They post to a
// pre-allocated event slot consumed by a coordinator goroutine, which
// resolves completions, wakes sleeping callers and releases the bus lock on
// behalf of non-blocking transfers.
//
// # Read Modes
//
//   - ModePIO: host-driven transfer, polled
//   - ModePIOIRQ: host-driven transfer, completion observed by the tick
//   - ModeDMA: controller-driven transfer, polled
//   - ModeDMAIRQ: controller-driven transfer, completion by interrupt
//
// DMA destinations must be 32-byte aligned and PIO destinations 2-byte
// aligned. Misaligned buffers are rejected before the controller is used.
//
// # Interrupt Context
//
// Stream callbacks run in interrupt context. Their context reports true
// from [InInterrupt]; operations given such a context never block on the
// bus lock.
//
// # Example
//
//	d := cdrom.New(platform, cdrom.DefaultOptions())
//	if err := d.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Shutdown()
//
//	toc, err := d.ReadTOC(ctx, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	lba := cdrom.LocateDataTrack(toc)
//
//	buf := make([]byte, 16*d.SectorSize())
//	err = d.ReadSectors(ctx, buf, int(lba), 16, cdrom.ModePIO)
package cdrom
