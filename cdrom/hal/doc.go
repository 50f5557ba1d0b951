// Package hal defines the Hardware Abstraction Layer interfaces for the
// disc drive engine.
//
// The HAL provides a platform-agnostic boundary between the engine in
// [github.com/ardnew/softgdrom/cdrom] and the disc controller. The controller
// firmware is reached only through the [Firmware] primitives: submit, check,
// abort, PIO transfer and DMA transfer, with size-check variants and callback
// arming. No other path touches the disc.
//
// # Sibling Facilities
//
// The engine also needs:
//   - [Interrupts]: register/unregister and enable/disable per source, with
//     chain-to-previous semantics
//   - [Ticker]: a single periodic callback with no phase guarantee
//   - [Clock]: a monotonic millisecond clock for poll timeouts
//   - [Cache]: data-cache invalidate and instruction-cache flush
//   - [Memory]: word access used by drive reactivation and the DMA unlock
//
// [Platform] bundles them for the engine constructor.
//
// # Interrupt Context
//
// [IRQHandler] and tick handlers run asynchronously. They must not block or
// allocate; the engine's handlers only record an event for its completion
// coordinator.
//
// # Example
//
//	type myFirmware struct {
//	    // Platform-specific fields
//	}
//
//	func (f *myFirmware) SendCommand(cmd hal.Command, param any) hal.Handle {
//	    // Post the command to the controller
//	    return 1
//	}
//
//	// ... implement remaining Firmware methods
//
// A simulated controller for testing is available in
// [github.com/ardnew/softgdrom/cdrom/hal/sim].
package hal
