package cdrom

import (
	"sync/atomic"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// Pending event bits.
const (
	eventTick uint32 = 1 << iota
	eventDMA
)

// eventSlot is the pre-allocated hand-off between interrupt producers and
// the coordinator goroutine. Posting sets a bit and never blocks.
type eventSlot struct {
	pending atomic.Uint32
	wake    chan struct{}
}

func (s *eventSlot) init() {
	s.wake = make(chan struct{}, 1)
}

func (s *eventSlot) post(bits uint32) {
	for {
		old := s.pending.Load()
		if s.pending.CompareAndSwap(old, old|bits) {
			break
		}
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *eventSlot) take() uint32 {
	return s.pending.Swap(0)
}

// onTickEvent is installed as the periodic tick handler.
func (d *Drive) onTickEvent() {
	d.events.post(eventTick)
}

// onDMAEvent records a DMA interrupt for the coordinator.
func (d *Drive) onDMAEvent(hal.Event) {
	d.events.post(eventDMA)
}

// coordinate is the completion coordinator. It owns every state transition
// driven by ticks and interrupts.
func (d *Drive) coordinate(quit <-chan struct{}) {
	defer d.wg.Done()

	pkg.LogDebug(pkg.ComponentDrive, "coordinator started")
	for {
		select {
		case <-quit:
			pkg.LogDebug(pkg.ComponentDrive, "coordinator stopped")
			return
		case <-d.events.wake:
		}

		bits := d.events.take()
		if bits&eventDMA != 0 {
			d.completeDMA()
		}
		if bits&eventTick != 0 {
			d.completeTick()
		}
	}
}

// completeTick re-polls a command handed to the coordinator.
func (d *Drive) completeTick() {
	d.mu.Lock()
	if !d.cmdInProgress {
		d.mu.Unlock()
		return
	}
	h := d.handle
	d.mu.Unlock()

	var st hal.CommandStatus
	d.fw.ExecServer()
	resp := d.fw.CheckCommand(h, &st)

	d.mu.Lock()
	defer d.mu.Unlock()

	// Withdrawn or resolved by the DMA path while polling.
	if !d.cmdInProgress || d.handle != h {
		return
	}
	d.resp, d.status = resp, st
	if resp.Pending() {
		return
	}

	d.cmdInProgress = false
	if d.dmaInProgress {
		d.dmaInProgress = false
		if d.dmaWaiting {
			d.dmaWaiting = false
			d.dmaDone.Signal()
		}
		return
	}
	d.cmdDone.Signal()
}

// completeDMA resolves a DMA transfer completion.
func (d *Drive) completeDMA() {
	d.mu.Lock()
	if !d.dmaInProgress {
		d.mu.Unlock()
		return
	}
	d.dmaInProgress = false
	repoll := d.cmdInProgress
	d.cmdInProgress = false
	h := d.handle
	signal := d.dmaWaiting
	d.dmaWaiting = false
	owner := d.dmaOwner
	d.dmaOwner = ownerNone
	streaming := d.streamMode != ModeNone
	d.mu.Unlock()

	if repoll {
		var st hal.CommandStatus
		d.fw.ExecServer()
		d.record(d.fw.CheckCommand(h, &st), st)
	}

	switch {
	case signal:
		d.dmaDone.Signal()
	case owner != ownerNone:
		pkg.LogDebug(pkg.ComponentTransfer, "transfer done, releasing bus", "owner", owner)
		d.bus.Unlock()
	}

	if streaming {
		d.fw.DMACallback(d.notify)
	}
}
