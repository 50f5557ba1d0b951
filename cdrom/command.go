package cdrom

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// Exec submits cmd and polls it to completion with no timeout.
func (d *Drive) Exec(ctx context.Context, cmd hal.Command, param any) error {
	return d.exec(ctx, cmd, param, 0, false)
}

// ExecTimed submits cmd and polls it for at most timeout. On expiry the
// command is aborted and ErrTimeout returned. A zero timeout never expires.
func (d *Drive) ExecTimed(ctx context.Context, cmd hal.Command, param any, timeout time.Duration) error {
	return d.exec(ctx, cmd, param, timeout, false)
}

// ExecIRQ submits cmd and sleeps until the completion coordinator observes
// it finish. Cancelling ctx aborts the command.
func (d *Drive) ExecIRQ(ctx context.Context, cmd hal.Command, param any) error {
	return d.exec(ctx, cmd, param, 0, true)
}

func (d *Drive) exec(ctx context.Context, cmd hal.Command, param any, timeout time.Duration, irq bool) error {
	d.bus.Lock()
	defer d.bus.Unlock()
	return d.execLocked(ctx, cmd, param, timeout, irq)
}

// submit posts cmd to the firmware, retrying transient refusals. The caller
// holds the bus lock.
func (d *Drive) submit(cmd hal.Command, param any) (hal.Handle, error) {
	if !cmd.Valid() {
		return 0, fmt.Errorf("%w: invalid command %d", pkg.ErrSys, int(cmd))
	}

	h := d.fw.SendCommand(cmd, param)
	for n := d.opts.SubmitRetries; !h.Valid() && n > 0; n-- {
		d.fw.ExecServer()
		runtime.Gosched()
		h = d.fw.SendCommand(cmd, param)
	}
	if !h.Valid() {
		pkg.LogWarn(pkg.ComponentCommand, "command refused",
			"cmd", cmd, "retries", d.opts.SubmitRetries)
		return 0, fmt.Errorf("%w: %s refused", pkg.ErrSys, cmd)
	}

	pkg.LogDebug(pkg.ComponentCommand, "command submitted", "cmd", cmd, "handle", h)
	return h, nil
}

// execLocked runs one command to a terminal state. The caller holds the bus
// lock.
func (d *Drive) execLocked(ctx context.Context, cmd hal.Command, param any, timeout time.Duration, irq bool) error {
	d.mu.Lock()
	open := d.handle.Valid() && d.streamMode != ModeNone
	d.mu.Unlock()
	if open {
		return fmt.Errorf("%w: %s while a stream is open", pkg.ErrSys, cmd)
	}
	if irq && !d.running() {
		return errNotRunning(cmd.String())
	}

	h, err := d.submit(cmd, param)
	if err != nil {
		return err
	}
	d.setHandle(h)

	var resp hal.Response
	if irq {
		resp, err = d.waitCommand(ctx, h)
	} else {
		resp, err = d.poll(ctx, h, timeout)
	}
	if err != nil {
		pkg.LogError(pkg.ComponentCommand, "command timed out",
			"cmd", cmd, "handle", h, "timeout", timeout)
		d.abortLocked(h, d.opts.ExecAbortTimeout)
		return err
	}

	d.mu.Lock()
	if resp != hal.ResponseStreaming {
		d.handle = 0
	}
	st := d.status
	d.mu.Unlock()

	if err := result(resp, st); err != nil {
		pkg.LogDebug(pkg.ComponentCommand, "command failed",
			"cmd", cmd, "response", resp, "err1", st.Err1, "err2", st.Err2)
		return fmt.Errorf("%w: %s", err, cmd)
	}
	return nil
}

// poll services the firmware until h leaves the processing state. A zero
// timeout never expires. Cancelling ctx counts as expiry.
func (d *Drive) poll(ctx context.Context, h hal.Handle, timeout time.Duration) (hal.Response, error) {
	var st hal.CommandStatus
	begin := d.clock.Milliseconds()
	for {
		d.fw.ExecServer()
		resp := d.fw.CheckCommand(h, &st)
		d.record(resp, st)

		if !resp.Pending() {
			return resp, nil
		}
		if timeout > 0 && hal.Elapsed(d.clock, begin) >= timeout {
			return resp, fmt.Errorf("%w: after %v", pkg.ErrTimeout, timeout)
		}
		if err := ctx.Err(); err != nil {
			return resp, fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
		}
		runtime.Gosched()
	}
}

// waitCommand checks h once and, if it is still pending, hands it to the
// completion coordinator and sleeps until it finishes.
func (d *Drive) waitCommand(ctx context.Context, h hal.Handle) (hal.Response, error) {
	var st hal.CommandStatus
	d.fw.ExecServer()
	resp := d.fw.CheckCommand(h, &st)
	d.record(resp, st)
	if !resp.Pending() {
		return resp, nil
	}

	d.mu.Lock()
	d.cmdDone.Drain()
	d.cmdInProgress = true
	d.mu.Unlock()

	if err := d.await(ctx, d.cmdDone); err != nil {
		return resp, fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resp, nil
}

// await blocks on s until it is signalled or ctx is done. On cancellation
// the pending completion is withdrawn from the coordinator. If the
// coordinator already committed to signalling, the signal is consumed.
func (d *Drive) await(ctx context.Context, s *semaphore) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	if d.cmdInProgress || d.dmaWaiting {
		d.cmdInProgress = false
		d.dmaInProgress = false
		d.dmaWaiting = false
		d.mu.Unlock()
		return ctx.Err()
	}
	d.mu.Unlock()

	s.Wait()
	return nil
}

// Abort aborts the command in flight and waits up to timeout for the
// controller to acknowledge. If it does not, the controller is reset and
// ErrTimeout returned. abortDMA selects the DMA-aware path: a blocking DMA
// transfer is aborted in hardware and its issuer finishes the cleanup, while
// a non-blocking one gives up the bus lock it holds to this call.
func (d *Drive) Abort(ctx context.Context, timeout time.Duration, abortDMA bool) error {
	d.mu.Lock()
	h := d.handle
	if !h.Valid() {
		// A stream that ran to its end leaves its mode behind.
		unhook := d.resetSessionLocked()
		d.mu.Unlock()
		if unhook {
			d.fw.PIOCallback(nil)
		}
		return pkg.ErrNoActive
	}

	takeOver := false
	if abortDMA && d.dmaInProgress {
		if d.dmaOwner == ownerNone {
			// The waiter retires the handle once it observes the abort.
			unhook := d.resetStreamLocked()
			d.mu.Unlock()
			pkg.LogInfo(pkg.ComponentCommand, "aborting blocking transfer", "handle", h)
			if unhook {
				d.fw.PIOCallback(nil)
			}
			d.fw.AbortCommand(h)
			return nil
		}
		pkg.LogInfo(pkg.ComponentCommand, "taking over transfer lock",
			"handle", h, "owner", d.dmaOwner)
		d.dmaInProgress = false
		d.cmdInProgress = false
		d.dmaOwner = ownerNone
		takeOver = true
	}
	d.mu.Unlock()

	if !takeOver {
		if !d.bus.lockFor(InInterrupt(ctx)) {
			return fmt.Errorf("%w: bus busy", pkg.ErrSys)
		}
		// The handle may have retired while waiting for the lock.
		if h = d.Handle(); !h.Valid() {
			d.clearSession()
			d.bus.Unlock()
			return pkg.ErrNoActive
		}
	}
	defer d.bus.Unlock()
	return d.abortLocked(h, timeout)
}

// abortLocked aborts h and clears the session. The caller holds the bus
// lock.
func (d *Drive) abortLocked(h hal.Handle, timeout time.Duration) error {
	d.fw.AbortCommand(h)

	var (
		st  hal.CommandStatus
		err error
	)
	begin := d.clock.Milliseconds()
	for {
		d.fw.ExecServer()
		resp := d.fw.CheckCommand(h, &st)
		d.record(resp, st)
		if !resp.Pending() && resp != hal.ResponseStreaming {
			break
		}
		if timeout > 0 && hal.Elapsed(d.clock, begin) >= timeout {
			pkg.LogError(pkg.ComponentCommand, "abort timed out, resetting controller",
				"handle", h, "timeout", timeout)
			d.fw.Reset()
			d.fw.Init()
			err = fmt.Errorf("%w: abort after %v", pkg.ErrTimeout, timeout)
			break
		}
		runtime.Gosched()
	}

	d.clearSession()
	return err
}

// clearSession forgets the handle and any stream session.
func (d *Drive) clearSession() {
	d.mu.Lock()
	unhook := d.resetSessionLocked()
	d.mu.Unlock()

	if unhook {
		d.fw.PIOCallback(nil)
	}
}

// resetSessionLocked clears the handle and stream session with d.mu held.
// It reports whether the firmware PIO hook must be disarmed.
func (d *Drive) resetSessionLocked() bool {
	d.handle = 0
	d.cmdInProgress = false
	return d.resetStreamLocked()
}

// resetStreamLocked clears the stream mode and callback with d.mu held.
func (d *Drive) resetStreamLocked() bool {
	unhook := d.streamCB != nil && d.streamMode.IsPIO()
	d.streamMode = ModeNone
	d.streamCB = nil
	return unhook
}
