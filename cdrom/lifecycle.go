package cdrom

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// Init brings the drive up: it reactivates the controller, resets the
// firmware, lifts the DMA protection, installs the interrupt and tick
// handlers and reinitializes the drive. Calling Init again is a no-op.
//
// A failing drive reinitialization is logged but not returned; an empty
// drive at boot is normal.
func (d *Drive) Init(ctx context.Context) error {
	d.life.Lock()
	defer d.life.Unlock()

	d.mu.Lock()
	if d.inited {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	d.bus.Lock()
	if !d.opts.SkipReactivation {
		d.reactivate()
	}
	d.fw.Reset()
	d.fw.Init()
	patched := d.unlockDMA()
	d.bus.Unlock()

	pkg.LogDebug(pkg.ComponentLifecycle, "DMA protection lifted", "patched", patched)

	d.quit = make(chan struct{})
	d.wg.Add(1)
	go d.coordinate(d.quit)

	for i, evt := range hal.DMAEvents {
		prev := d.irq.SetHandler(evt, d.dmaHandler(i))
		if prev != nil {
			d.prevIRQ[i].Store(&prev)
		} else {
			d.irq.Enable(evt)
		}
		d.enabled[i] = prev == nil
	}

	tick, err := d.ticker.AddTickHandler(d.onTickEvent)
	if err != nil {
		d.restoreHandlers()
		d.stopCoordinator()
		return fmt.Errorf("%w: install tick handler: %v", pkg.ErrSys, err)
	}
	d.tick = tick

	d.mu.Lock()
	d.inited = true
	d.mu.Unlock()
	pkg.LogInfo(pkg.ComponentLifecycle, "drive initialized")

	if err := d.Reinit(ctx, Default, Default, Default); err != nil {
		pkg.LogWarn(pkg.ComponentLifecycle, "drive reinit failed", "err", err)
	}
	return nil
}

// Shutdown removes the handlers installed by Init and stops the completion
// coordinator.
func (d *Drive) Shutdown() error {
	d.life.Lock()
	defer d.life.Unlock()

	d.mu.Lock()
	if !d.inited {
		d.mu.Unlock()
		return nil
	}
	d.inited = false
	d.mu.Unlock()

	err := d.ticker.RemoveTickHandler(d.tick)
	d.restoreHandlers()
	d.stopCoordinator()

	pkg.LogInfo(pkg.ComponentLifecycle, "drive shut down")
	if err != nil {
		return fmt.Errorf("%w: remove tick handler: %v", pkg.ErrSys, err)
	}
	return nil
}

// dmaHandler returns the interrupt handler for the i'th DMA event.
func (d *Drive) dmaHandler(i int) hal.IRQHandler {
	return func(evt hal.Event) {
		d.onDMAEvent(evt)
		if prev := d.prevIRQ[i].Load(); prev != nil {
			(*prev)(evt)
		}
	}
}

// restoreHandlers puts back the handlers found by Init, or masks and
// removes the sources Init enabled.
func (d *Drive) restoreHandlers() {
	for i, evt := range hal.DMAEvents {
		if prev := d.prevIRQ[i].Swap(nil); prev != nil {
			d.irq.SetHandler(evt, *prev)
			continue
		}
		if d.enabled[i] {
			d.irq.Disable(evt)
			d.enabled[i] = false
		}
		d.irq.RemoveHandler(evt)
	}
}

func (d *Drive) stopCoordinator() {
	if d.quit == nil {
		return
	}
	close(d.quit)
	d.wg.Wait()
	d.quit = nil
}

// reactivate sends the boot ROM size to the controller and reads every
// word of the ROM across the bus so the controller can verify it. A custom
// bootstrap only needs its first kilobyte checked.
func (d *Drive) reactivate() {
	size := hal.ReactivateStandardSize
	if d.mem.Read16(hal.BIOSBase) == hal.BootstrapCustom {
		size = hal.ReactivateCustomSize
	}

	d.mem.Write32(hal.RegReactivate, uint32(size-1))
	for off := 0; off < size; off += 4 {
		_ = d.mem.Read32(hal.BIOSBase + uintptr(off))
	}
	pkg.LogDebug(pkg.ComponentLifecycle, "controller reactivated", "bytes", size)
}

// unlockDMA rewrites the boot code's system-memory-only protection value so
// DMA may target all of memory, then programs the protection register. It
// returns the number of words patched.
func (d *Drive) unlockDMA() int {
	n := 0
	for off := uintptr(0); off < hal.ProtectionScanSize; off += 4 {
		addr := hal.SysMemBase + off
		if d.mem.Read32(addr) == hal.DMAUnlockSysMem {
			d.mem.Write32(addr, hal.DMAUnlockAllMem)
			n++
		}
	}
	if n > 0 {
		d.cache.FlushInstruction(hal.SysMemBase, hal.ProtectionScanSize)
	}
	d.mem.Write32(hal.RegDMAProtection, hal.DMAUnlockAllMem)
	return n
}

// Reinit reinitializes the drive, retrying through any number of disc
// changes, then applies the sector format. Pass [Default] for any format
// field to use its default.
func (d *Drive) Reinit(ctx context.Context, part, cdxa, size int) error {
	for {
		err := d.ExecTimed(ctx, hal.CmdInit, nil, d.opts.InitTimeout)
		switch {
		case errors.Is(err, pkg.ErrDiscChanged):
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", pkg.ErrTimeout, ctx.Err())
			}
			pkg.LogDebug(pkg.ComponentLifecycle, "disc changed, retrying init")
			continue
		case errors.Is(err, pkg.ErrNoDisc),
			errors.Is(err, pkg.ErrSys),
			errors.Is(err, pkg.ErrTimeout):
			return err
		}
		return d.SetSectorFormat(ctx, part, cdxa, size)
	}
}

// SetSectorSize reinitializes the drive with the given sector size.
func (d *Drive) SetSectorSize(ctx context.Context, size int) error {
	return d.Reinit(ctx, Default, Default, size)
}

// SetSectorFormat configures which part of each sector is read, the CD-XA
// mode and the sector size. [Default] fields are chosen for the disc: a
// 2352-byte size reads whole raw sectors, anything else reads the data area
// of 2048-byte sectors in the disc's CD-XA mode.
func (d *Drive) SetSectorFormat(_ context.Context, part, cdxa, size int) error {
	d.bus.Lock()
	defer d.bus.Unlock()

	if size == 2352 {
		if cdxa == Default {
			cdxa = 0
		}
		if part == Default {
			part = hal.SectorPartWhole
		}
	} else {
		if cdxa == Default {
			var info hal.DriveInfo
			d.fw.CheckDrive(&info)
			cdxa = 1024
			if info.Disc == hal.DiscCDROMXA {
				cdxa = 2048
			}
		}
		if part == Default {
			part = hal.SectorPartData
		}
		if size == Default {
			size = 2048
		}
	}

	d.mu.Lock()
	d.sectorSize = size
	d.mu.Unlock()

	params := &hal.SectorModeParams{Part: part, CDXA: cdxa, Size: size}
	if rv := d.fw.SectorMode(params); rv != 0 {
		return fmt.Errorf("%w: sector mode %d rejected", pkg.ErrSys, size)
	}
	pkg.LogDebug(pkg.ComponentLifecycle, "sector format set",
		"part", part, "cdxa", cdxa, "size", size)
	return nil
}
