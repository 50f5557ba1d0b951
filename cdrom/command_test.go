package cdrom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/cdrom/hal/sim"
	"github.com/ardnew/softgdrom/pkg"
)

// =============================================================================
// Exec Tests
// =============================================================================

func TestExec_Completes(t *testing.T) {
	d, m := newDrive(t)

	require.NoError(t, d.Exec(context.Background(), hal.CmdStop, nil))

	sends := m.CallsOf(sim.OpSend)
	require.Len(t, sends, 1)
	assert.Equal(t, hal.CmdStop, sends[0].Cmd)
	assert.False(t, d.Handle().Valid())
	assert.Equal(t, 0, m.OpenCommands())
}

func TestExec_InvalidCommand(t *testing.T) {
	d, m := newDrive(t)

	err := d.Exec(context.Background(), hal.CmdMax, nil)

	assert.ErrorIs(t, err, pkg.ErrSys)
	assert.Empty(t, m.CallsOf(sim.OpSend))
}

func TestExec_SubmitRetries(t *testing.T) {
	tests := []struct {
		name      string
		refusals  int
		wantErr   error
		wantSends int
	}{
		{"accepted", 0, nil, 1},
		{"transient", 3, nil, 4},
		{"exhausted", 20, pkg.ErrSys, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, m := newDrive(t)
			m.InjectRefusals(tt.refusals)

			err := d.Exec(context.Background(), hal.CmdStop, nil)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, m.CallsOf(sim.OpSend), tt.wantSends)
			assert.False(t, d.Handle().Valid())
		})
	}
}

func TestExec_NoDisc(t *testing.T) {
	d, m := newDrive(t)
	m.SetDiscPresent(false)

	_, err := d.ReadTOC(context.Background(), 0)

	assert.ErrorIs(t, err, pkg.ErrNoDisc)
	assert.Equal(t, pkg.ResultNoDisc, pkg.ResultOf(err))
	assert.Equal(t, int32(hal.SenseNoDisc), d.LastStatus().Err1)
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestExecTimed_TimeoutAbortsOnce(t *testing.T) {
	d, m := newDrive(t)
	m.SetHang(hal.CmdStop, true)

	err := d.ExecTimed(context.Background(), hal.CmdStop, nil, 20*time.Millisecond)

	require.ErrorIs(t, err, pkg.ErrTimeout)
	sends := m.CallsOf(sim.OpSend)
	aborts := m.CallsOf(sim.OpAbort)
	require.Len(t, sends, 1)
	require.Len(t, aborts, 1)
	assert.Equal(t, sends[0].Handle, aborts[0].Handle)
	assert.Empty(t, m.CallsOf(sim.OpReset))
	assert.False(t, d.Handle().Valid())
	assert.Equal(t, 0, m.OpenCommands())
}

func TestExecTimed_AbortEscalatesToReset(t *testing.T) {
	d, m := newDrive(t, func(_ *sim.Config, o *Options) {
		o.ExecAbortTimeout = 30 * time.Millisecond
	})
	m.SetHang(hal.CmdStop, true)
	m.SetIgnoreAbort(true)

	err := d.ExecTimed(context.Background(), hal.CmdStop, nil, 20*time.Millisecond)

	require.ErrorIs(t, err, pkg.ErrTimeout)
	assert.Len(t, m.CallsOf(sim.OpAbort), 1)
	assert.Len(t, m.CallsOf(sim.OpReset), 1)
	assert.Len(t, m.CallsOf(sim.OpInit), 1)
	assert.False(t, d.Handle().Valid())
	assert.Equal(t, 0, m.OpenCommands())
}

func TestExec_CancelledContext(t *testing.T) {
	d, m := newDrive(t)
	m.SetHang(hal.CmdStop, true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Exec(ctx, hal.CmdStop, nil)

	assert.ErrorIs(t, err, pkg.ErrTimeout)
	assert.Len(t, m.CallsOf(sim.OpAbort), 1)
}

// =============================================================================
// Interrupt-Driven Exec Tests
// =============================================================================

func TestExecIRQ_Completes(t *testing.T) {
	d, m := newDrive(t)

	toc := new(hal.TOC)
	err := d.ExecIRQ(context.Background(), hal.CmdGetTOC2, &hal.TOCParams{TOC: toc})

	require.NoError(t, err)
	assert.Equal(t, 2, toc.LastTrack())
	assert.False(t, d.Handle().Valid())
	assert.Equal(t, 0, m.OpenCommands())
}

func TestExecIRQ_Failure(t *testing.T) {
	d, m := newDrive(t)
	m.SetDiscPresent(false)

	err := d.ExecIRQ(context.Background(), hal.CmdGetTOC2, &hal.TOCParams{TOC: new(hal.TOC)})

	assert.ErrorIs(t, err, pkg.ErrNoDisc)
}

func TestExecIRQ_CancelAborts(t *testing.T) {
	d, m := newDrive(t)
	m.SetHang(hal.CmdStop, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := d.ExecIRQ(ctx, hal.CmdStop, nil)

	require.ErrorIs(t, err, pkg.ErrTimeout)
	assert.Len(t, m.CallsOf(sim.OpAbort), 1)
	assert.False(t, d.Handle().Valid())

	// A later command is not confused by the withdrawn completion.
	m.SetHang(hal.CmdStop, false)
	require.NoError(t, d.ExecIRQ(context.Background(), hal.CmdStop, nil))
	assert.Equal(t, 0, d.cmdDone.Count())
}

func TestExecIRQ_NotInitialized(t *testing.T) {
	d, m := newIdleDrive(t)

	err := d.ExecIRQ(context.Background(), hal.CmdStop, nil)

	assert.ErrorIs(t, err, pkg.ErrSys)
	assert.Empty(t, m.CallsOf(sim.OpSend))
}

// =============================================================================
// Abort Tests
// =============================================================================

func TestAbort_Idle(t *testing.T) {
	d, m := newDrive(t)

	err := d.Abort(context.Background(), time.Second, false)

	assert.ErrorIs(t, err, pkg.ErrNoActive)
	assert.Empty(t, m.CallsOf(sim.OpAbort))
}

func TestAbort_ClearsStream(t *testing.T) {
	for _, mode := range []ReadMode{ModePIO, ModeDMA, ModeDMAIRQ, ModePIOIRQ} {
		t.Run(mode.String(), func(t *testing.T) {
			d, m := newDrive(t)
			ctx := context.Background()

			require.NoError(t, d.StreamStart(ctx, 0, 4, mode))
			require.True(t, d.Handle().Valid())

			require.NoError(t, d.Abort(ctx, time.Second, false))

			assert.False(t, d.Handle().Valid())
			assert.Equal(t, ModeNone, d.StreamMode())
			assert.Len(t, m.CallsOf(sim.OpAbort), 1)
			assert.Equal(t, 0, m.OpenCommands())
		})
	}
}

func TestAbort_FinishedStream(t *testing.T) {
	d, m := newDrive(t)
	ctx := context.Background()

	d.SetStreamCallback(func(context.Context) {})
	require.NoError(t, d.StreamStart(ctx, 40, 2, ModeDMA))
	for i := 0; i < 2; i++ {
		require.NoError(t, d.StreamRequest(ctx, alignedBuf(2048, 0), true))
	}
	// The command retired on its own; only the session is left.
	require.False(t, d.Handle().Valid())

	err := d.Abort(ctx, time.Second, false)

	assert.ErrorIs(t, err, pkg.ErrNoActive)
	assert.Equal(t, ModeNone, d.StreamMode())
	assert.Nil(t, d.streamCallback())
	assert.Empty(t, m.CallsOf(sim.OpAbort))
}

func TestAbort_IdleDropsPIOHook(t *testing.T) {
	d, m := newDrive(t)

	d.mu.Lock()
	d.streamMode = ModePIO
	d.mu.Unlock()
	d.SetStreamCallback(func(context.Context) {})
	m.ResetCalls()

	err := d.Abort(context.Background(), time.Second, false)

	assert.ErrorIs(t, err, pkg.ErrNoActive)
	assert.Equal(t, ModeNone, d.StreamMode())
	hooks := m.CallsOf(sim.OpPIOCallback)
	require.Len(t, hooks, 1)
	assert.Equal(t, 0, hooks[0].Arg)
}

func TestAbort_TakesOverTransferLock(t *testing.T) {
	d, m := newDrive(t)
	ctx := context.Background()

	require.NoError(t, d.StreamStart(ctx, 0, 4, ModeDMA))

	// With the interrupt masked the transfer never completes, so the bus
	// stays with the completion path.
	m.Disable(hal.EventGDDMA)
	require.NoError(t, d.StreamRequest(ctx, alignedBuf(2048, 0), false))
	require.True(t, d.bus.isHeld())

	err := d.StreamRequest(ctx, alignedBuf(2048, 0), false)
	assert.ErrorIs(t, err, pkg.ErrSys)

	require.NoError(t, d.Abort(ctx, time.Second, true))

	assert.False(t, d.bus.isHeld())
	assert.False(t, d.dmaBusy())
	assert.False(t, d.Handle().Valid())
	assert.Equal(t, ModeNone, d.StreamMode())
	m.Enable(hal.EventGDDMA)
	require.NoError(t, d.Exec(ctx, hal.CmdStop, nil))
}

func TestAbort_RacesTransferCompletion(t *testing.T) {
	d, m := newDrive(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, d.StreamStart(ctx, i, 2, ModeDMA))
		require.NoError(t, d.StreamRequest(ctx, alignedBuf(2048, 0), false))

		require.NoError(t, d.Abort(ctx, time.Second, true))

		assert.False(t, d.Handle().Valid())
		assert.Equal(t, ModeNone, d.StreamMode())

		// Let the interrupt of this transfer land before the next one.
		want := len(m.CallsOf(sim.OpDMATransfer))
		require.Eventually(t, func() bool {
			return m.Raised(hal.EventGDDMA) == want && !d.bus.isHeld()
		}, time.Second, time.Millisecond)
	}

	assert.Equal(t, 0, m.Overlaps())
	assert.Equal(t, 1, m.MaxInFlight())
}
