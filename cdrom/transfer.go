package cdrom

import (
	"context"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// bufferAddr returns the address of the first byte of buf.
func bufferAddr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}

// NewBuffer returns an n-byte buffer aligned for DMA transfers.
func NewBuffer(n int) []byte {
	raw := make([]byte, n+DMAAlign)
	off := int((DMAAlign - bufferAddr(raw)%DMAAlign) % DMAAlign)
	return raw[off : off+n : off+n]
}

// checkAlign validates the destination alignment for mode.
func checkAlign(addr uintptr, mode ReadMode) error {
	switch {
	case mode.IsDMA() && addr%DMAAlign != 0:
		return fmt.Errorf("%w: DMA buffer %#x not %d-byte aligned", pkg.ErrSys, addr, DMAAlign)
	case mode.IsPIO() && addr%PIOAlign != 0:
		return fmt.Errorf("%w: PIO buffer %#x not %d-byte aligned", pkg.ErrSys, addr, PIOAlign)
	case !mode.Valid():
		return fmt.Errorf("%w: invalid read mode %d", pkg.ErrSys, int(mode))
	}
	return nil
}

// prepareDMA translates addr for the controller and invalidates the data
// cache over the destination unless the area is coherent.
func (d *Drive) prepareDMA(addr uintptr, n int) uintptr {
	if !d.cache.Uncached(addr) {
		d.cache.InvalidateData(addr, n)
	}
	return d.cache.Physical(addr)
}

// ReadSectors reads count sectors starting at sector into buf.
//
// buf must hold count sectors of the current sector size. DMA modes need a
// 32-byte aligned buf, PIO modes a 2-byte aligned one. Parameter errors
// return ErrSys before the controller is touched.
func (d *Drive) ReadSectors(ctx context.Context, buf []byte, sector, count int, mode ReadMode) error {
	size := d.SectorSize()
	if count <= 0 {
		return fmt.Errorf("%w: sector count %d", pkg.ErrSys, count)
	}
	n := count * size
	if len(buf) < n {
		return fmt.Errorf("%w: buffer holds %d bytes, need %d", pkg.ErrSys, len(buf), n)
	}

	addr := bufferAddr(buf)
	if err := checkAlign(addr, mode); err != nil {
		pkg.LogError(pkg.ComponentTransfer, "read rejected", "mode", mode, "err", err)
		return err
	}

	params := &hal.ReadParams{Sector: sector, Count: count, Buf: buf[:n], Addr: addr}
	pkg.LogDebug(pkg.ComponentTransfer, "read sectors",
		"sector", sector, "count", count, "mode", mode)

	switch mode {
	case ModeDMAIRQ:
		params.Addr = d.prepareDMA(addr, n)
		return d.readDMAIRQ(ctx, params)
	case ModeDMA:
		params.Addr = d.prepareDMA(addr, n)
		return d.Exec(ctx, hal.CmdDMARead, params)
	case ModePIOIRQ:
		return d.ExecIRQ(ctx, hal.CmdPIORead, params)
	default:
		return d.Exec(ctx, hal.CmdPIORead, params)
	}
}

// readDMAIRQ runs a DMA read whose completion is signalled by the transfer
// interrupt. The tick path keeps polling the command in case it fails
// without raising the interrupt.
func (d *Drive) readDMAIRQ(ctx context.Context, params *hal.ReadParams) error {
	if !d.running() {
		return errNotRunning("DMA interrupt read")
	}

	d.bus.Lock()
	defer d.bus.Unlock()

	d.mu.Lock()
	if d.handle.Valid() && d.streamMode != ModeNone {
		d.mu.Unlock()
		return fmt.Errorf("%w: DMA read while a stream is open", pkg.ErrSys)
	}
	d.dmaDone.Drain()
	d.dmaInProgress = true
	d.dmaWaiting = true
	d.dmaOwner = ownerNone
	d.mu.Unlock()

	h, err := d.submit(hal.CmdDMARead, params)
	if err != nil {
		d.finishDMA()
		return err
	}
	d.setHandle(h)

	var (
		st   hal.CommandStatus
		resp hal.Response
	)
	for {
		d.fw.ExecServer()
		resp = d.fw.CheckCommand(h, &st)
		d.record(resp, st)
		if resp != hal.ResponseBusy {
			break
		}
		runtime.Gosched()
	}

	d.mu.Lock()
	wait := true
	switch {
	case !d.dmaWaiting:
		// The interrupt already arrived; its signal is on the way.
	case resp == hal.ResponseProcessing && d.dmaInProgress:
		d.cmdInProgress = true
	default:
		// Finished or failed without needing the interrupt.
		d.dmaInProgress = false
		d.dmaWaiting = false
		wait = false
	}
	d.mu.Unlock()

	if wait {
		if err := d.await(ctx, d.dmaDone); err != nil {
			d.abortLocked(h, d.opts.ExecAbortTimeout)
			return fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
		}
		d.mu.Lock()
		resp, st = d.resp, d.status
		d.mu.Unlock()

		if resp.Pending() {
			if resp, err = d.poll(ctx, h, 0); err != nil {
				d.abortLocked(h, d.opts.ExecAbortTimeout)
				return err
			}
			st = d.LastStatus()
		}
	}

	d.finishDMA()
	return dmaReadResult(resp, st)
}

// dmaReadResult maps the final state of an interrupt-driven DMA read. The
// coordinator may have retired the command before the last poll, so
// NoActive is success here.
func dmaReadResult(resp hal.Response, st hal.CommandStatus) error {
	if resp == hal.ResponseNoActive {
		return nil
	}
	if err := result(resp, st); err != nil {
		return fmt.Errorf("%w: %s", err, hal.CmdDMARead)
	}
	return nil
}

// finishDMA clears the transfer state of a one-shot DMA read and drops any
// stale completion signal.
func (d *Drive) finishDMA() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handle = 0
	d.cmdInProgress = false
	d.dmaInProgress = false
	d.dmaWaiting = false
	d.dmaOwner = ownerNone
	d.dmaDone.Drain()
}
