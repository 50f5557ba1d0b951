// Package sim provides a simulated disc controller and platform for the
// drive engine.
//
// A [Machine] implements every interface of the hal package. Commands
// advance one step per ExecServer call, reads fill buffers with a
// deterministic [Pattern], and DMA transfers complete asynchronously and
// raise the transfer interrupt. Faults such as refused submissions, disc
// changes, hung commands and ignored aborts are injected through [Config]
// or the Machine's setters.
//
// Every firmware call is recorded so tests can check call ordering and
// that no two commands were ever open at once.
package sim
