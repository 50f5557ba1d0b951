package cdrom

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// StreamStart opens a streaming read of count sectors starting at sector.
// Any session already open is stopped first. Chunks are then pulled with
// [Drive.StreamRequest].
func (d *Drive) StreamStart(ctx context.Context, sector, count int, mode ReadMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: invalid stream mode %d", pkg.ErrSys, int(mode))
	}

	d.bus.Lock()
	defer d.bus.Unlock()

	if err := d.streamStopLocked(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentStream, "previous stream stopped with error", "err", err)
	}

	d.mu.Lock()
	d.streamMode = mode
	cb := d.streamCB
	d.mu.Unlock()

	cmd := hal.CmdPIOReadStream
	if mode.IsDMA() {
		cmd = hal.CmdDMAReadStream
	}
	irq := mode == ModeDMAIRQ || mode == ModePIOIRQ
	params := &hal.StreamParams{Sector: sector, Count: count}

	if err := d.execLocked(ctx, cmd, params, 0, irq); err != nil {
		d.mu.Lock()
		d.streamMode = ModeNone
		d.mu.Unlock()
		return err
	}

	if cb != nil && mode.IsPIO() {
		d.fw.PIOCallback(d.notify)
	}
	pkg.LogInfo(pkg.ComponentStream, "stream started",
		"sector", sector, "count", count, "mode", mode)
	return nil
}

// StreamStop ends the stream session. With abort set and a DMA transfer in
// flight the transfer is aborted; otherwise the session is drained and a
// command still streaming is aborted.
func (d *Drive) StreamStop(ctx context.Context, abort bool) error {
	d.mu.Lock()
	h := d.handle
	dma := d.dmaInProgress
	if !h.Valid() {
		d.streamMode = ModeNone
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if abort && dma {
		return d.Abort(ctx, d.opts.StreamAbortTimeout, true)
	}

	if !d.bus.lockFor(InInterrupt(ctx)) {
		return fmt.Errorf("%w: bus busy", pkg.ErrSys)
	}
	defer d.bus.Unlock()
	return d.streamStopLocked(ctx)
}

// streamStopLocked drains the open stream to a terminal state. The caller
// holds the bus lock.
func (d *Drive) streamStopLocked(ctx context.Context) error {
	d.mu.Lock()
	h := d.handle
	open := h.Valid() && d.streamMode != ModeNone
	if !open {
		d.streamMode = ModeNone
	}
	d.mu.Unlock()
	if !open {
		return nil
	}

	var (
		st  hal.CommandStatus
		err error
	)
	for {
		d.fw.ExecServer()
		resp := d.fw.CheckCommand(h, &st)
		d.record(resp, st)

		if resp.Failed() {
			err = fmt.Errorf("%w: stream failed, err1=%d", pkg.ErrSys, st.Err1)
			break
		}
		if resp == hal.ResponseCompleted || resp == hal.ResponseNoActive {
			break
		}
		if resp == hal.ResponseStreaming || ctx.Err() != nil {
			pkg.LogDebug(pkg.ComponentStream, "aborting open stream", "handle", h)
			return d.abortLocked(h, d.opts.StreamAbortTimeout)
		}
		runtime.Gosched()
	}

	d.clearSession()
	pkg.LogInfo(pkg.ComponentStream, "stream stopped")
	return err
}

// StreamRequest transfers the next chunk of the open stream into buf.
//
// In DMA modes a non-blocking request posts the transfer and returns at
// once; the bus stays locked until the transfer interrupt arrives, and the
// stream callback is notified. A blocking request returns when the chunk is
// in buf. PIO requests always complete before returning.
//
// From interrupt context only non-blocking requests are accepted, and they
// fail with ErrSys instead of waiting for the bus.
func (d *Drive) StreamRequest(ctx context.Context, buf []byte, block bool) error {
	irq := InInterrupt(ctx)
	if irq && block {
		return fmt.Errorf("%w: blocking stream request from interrupt context", pkg.ErrSys)
	}

	d.mu.Lock()
	h := d.handle
	mode := d.streamMode
	busy := d.dmaInProgress
	d.mu.Unlock()

	if !h.Valid() || mode == ModeNone {
		return pkg.ErrNoActive
	}
	if busy {
		pkg.LogError(pkg.ComponentStream, "previous transfer still in progress")
		return fmt.Errorf("%w: transfer in progress", pkg.ErrSys)
	}
	if len(buf) == 0 {
		return fmt.Errorf("%w: empty stream buffer", pkg.ErrSys)
	}
	addr := bufferAddr(buf)
	if err := checkAlign(addr, mode); err != nil {
		pkg.LogError(pkg.ComponentStream, "request rejected", "mode", mode, "err", err)
		return err
	}
	chunk := &hal.Chunk{Buf: buf, Addr: addr}
	if mode.IsDMA() {
		chunk.Addr = d.prepareDMA(addr, len(buf))
	}

	if !d.bus.lockFor(irq) {
		return fmt.Errorf("%w: bus busy", pkg.ErrSys)
	}

	// The session may have ended while waiting for the bus.
	d.mu.Lock()
	stale := d.handle != h || d.streamMode != mode || d.dmaInProgress
	d.mu.Unlock()
	if stale {
		d.bus.Unlock()
		return pkg.ErrNoActive
	}

	if mode.IsDMA() {
		if (!block || mode == ModeDMAIRQ) && !d.running() {
			d.bus.Unlock()
			return errNotRunning("DMA stream request")
		}
		owner := ownerCaller
		if irq {
			owner = ownerForeign
		}
		return d.requestDMA(ctx, h, chunk, mode, block, owner)
	}

	final, err := d.requestPIO(ctx, h, chunk)
	d.bus.Unlock()
	if final {
		// The firmware does not notify the last chunk of a stream.
		d.notifyStream()
	}
	return err
}

// requestDMA posts one DMA chunk. The caller holds the bus lock; for a
// non-blocking request it passes to the completion path.
func (d *Drive) requestDMA(ctx context.Context, h hal.Handle, chunk *hal.Chunk, mode ReadMode, block bool, owner lockOwner) error {
	wait := block && mode == ModeDMAIRQ

	d.mu.Lock()
	d.dmaInProgress = true
	d.dmaWaiting = wait
	if !block {
		d.dmaOwner = owner
	}
	if wait {
		d.dmaDone.Drain()
	}
	d.mu.Unlock()

	if rs := d.fw.DMATransfer(h, chunk); rs < 0 {
		d.mu.Lock()
		d.dmaInProgress = false
		d.dmaWaiting = false
		d.dmaOwner = ownerNone
		d.mu.Unlock()
		d.bus.Unlock()
		return fmt.Errorf("%w: DMA transfer refused", pkg.ErrSys)
	}
	if !block {
		return nil
	}
	defer d.bus.Unlock()

	if wait {
		if err := d.await(ctx, d.dmaDone); err != nil {
			d.abortLocked(h, d.opts.StreamAbortTimeout)
			return fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
		}
	}

	_, err := d.drainChunk(ctx, h, d.fw.DMACheck)

	d.mu.Lock()
	d.dmaInProgress = false
	d.dmaWaiting = false
	d.mu.Unlock()
	return err
}

// requestPIO transfers one PIO chunk by polling. It reports whether the
// chunk was the last of the stream.
func (d *Drive) requestPIO(ctx context.Context, h hal.Handle, chunk *hal.Chunk) (bool, error) {
	if rs := d.fw.PIOTransfer(h, chunk); rs < 0 {
		return false, fmt.Errorf("%w: PIO transfer refused", pkg.ErrSys)
	}
	return d.drainChunk(ctx, h, d.fw.PIOCheck)
}

// drainChunk polls until the posted chunk is transferred or the stream
// ends. It reports whether the stream has no bytes left.
func (d *Drive) drainChunk(ctx context.Context, h hal.Handle, check func(hal.Handle, *int) int) (bool, error) {
	var st hal.CommandStatus
	for {
		d.fw.ExecServer()
		resp := d.fw.CheckCommand(h, &st)
		d.record(resp, st)

		switch {
		case resp.Failed():
			return false, fmt.Errorf("%w: stream failed, err1=%d", pkg.ErrSys, st.Err1)
		case resp == hal.ResponseCompleted || resp == hal.ResponseNoActive:
			d.setHandle(0)
			return false, nil
		}

		var left int
		if check(h, &left) == 0 {
			return left == 0, nil
		}
		if err := ctx.Err(); err != nil {
			d.abortLocked(h, d.opts.StreamAbortTimeout)
			return false, fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
		}
		runtime.Gosched()
	}
}

// StreamProgress reports the bytes outstanding in the current transfer, or
// in the stream once idle, and whether a transfer is running. It does not
// take the bus lock.
func (d *Drive) StreamProgress() (remaining int, running bool) {
	d.mu.Lock()
	h := d.handle
	mode := d.streamMode
	d.mu.Unlock()

	if !h.Valid() || mode == ModeNone {
		return 0, false
	}

	var rv int
	if mode.IsDMA() {
		rv = d.fw.DMACheck(h, &remaining)
	} else {
		rv = d.fw.PIOCheck(h, &remaining)
	}
	return remaining, rv != 0
}

// SetStreamCallback registers cb to be notified of chunk completions. A nil
// cb unregisters it. In PIO modes the firmware hook is armed immediately.
func (d *Drive) SetStreamCallback(cb StreamCallback) {
	d.mu.Lock()
	d.streamCB = cb
	mode := d.streamMode
	d.mu.Unlock()

	if !mode.IsPIO() {
		return
	}
	if cb != nil {
		d.fw.PIOCallback(d.notify)
	} else {
		d.fw.PIOCallback(nil)
	}
}
