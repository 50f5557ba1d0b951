package cdrom

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// PlayCDDA plays audio from start to end, repeating repeat times. repeat is
// clamped to [MaxRepeat], which repeats forever. mode is [CDDATracks] or
// [CDDASectors].
func (d *Drive) PlayCDDA(ctx context.Context, start, end, repeat, mode int) error {
	if repeat > MaxRepeat {
		repeat = MaxRepeat
	}
	if repeat < 0 {
		repeat = 0
	}
	params := &hal.PlayParams{Start: start, End: end, Repeat: repeat}

	switch mode {
	case CDDATracks:
		return d.Exec(ctx, hal.CmdPlay, params)
	case CDDASectors:
		return d.Exec(ctx, hal.CmdPlay2, params)
	}
	return fmt.Errorf("%w: invalid CDDA mode %d", pkg.ErrSys, mode)
}

// PauseCDDA pauses audio playback.
func (d *Drive) PauseCDDA(ctx context.Context) error {
	return d.Exec(ctx, hal.CmdPause, nil)
}

// ResumeCDDA resumes paused audio playback.
func (d *Drive) ResumeCDDA(ctx context.Context) error {
	return d.Exec(ctx, hal.CmdRelease, nil)
}

// SpinDown stops the disc.
func (d *Drive) SpinDown(ctx context.Context) error {
	return d.Exec(ctx, hal.CmdStop, nil)
}

// Subcode reads subcode data of the last sector read into buf. which
// selects the subcode channel.
func (d *Drive) Subcode(ctx context.Context, buf []byte, which int) error {
	return d.Exec(ctx, hal.CmdGetSCD, &hal.SubcodeParams{Which: which, Buf: buf})
}

// Status returns the drive state and disc type. It may be called from
// interrupt context, in which case it fails rather than wait for the bus.
func (d *Drive) Status(ctx context.Context) (hal.DriveInfo, error) {
	failed := hal.DriveInfo{Status: hal.StatusReadFail, Disc: hal.DiscFail}

	if !d.bus.lockFor(InInterrupt(ctx)) {
		return failed, fmt.Errorf("%w: bus busy", pkg.ErrSys)
	}

	var (
		info hal.DriveInfo
		rv   hal.Response
	)
	for {
		rv = d.fw.CheckDrive(&info)
		if rv != hal.ResponseBusy {
			break
		}
		runtime.Gosched()
	}
	d.bus.Unlock()

	if rv.Failed() {
		return failed, fmt.Errorf("%w: drive check failed", pkg.ErrSys)
	}
	return info, nil
}
