package cdrom

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// StreamCallback is notified when a stream chunk completes. It runs in
// interrupt context: ctx reports true from [InInterrupt] and the callback
// must not block. It may issue non-blocking [Drive.StreamRequest] calls.
type StreamCallback func(ctx context.Context)

type interruptKey struct{}

// irqCtx is handed to callbacks and handlers running in interrupt context.
var irqCtx = context.WithValue(context.Background(), interruptKey{}, true)

// InInterrupt reports whether ctx was created for interrupt context.
func InInterrupt(ctx context.Context) bool {
	v, _ := ctx.Value(interruptKey{}).(bool)
	return v
}

// Drive is the command-and-transfer engine for a single optical drive.
//
// All public operations are safe for concurrent use. They serialize on the
// bus lock, which is held across the whole submit and poll lifecycle of each
// operation.
type Drive struct {
	fw     hal.Firmware
	irq    hal.Interrupts
	ticker hal.Ticker
	clock  hal.Clock
	cache  hal.Cache
	mem    hal.Memory
	opts   Options

	bus busLock

	// life serializes Init and Shutdown.
	life sync.Mutex

	// State guarded by mu. mu is never held across a firmware call that
	// may run an interrupt handler synchronously.
	mu            sync.Mutex
	handle        hal.Handle
	resp          hal.Response
	status        hal.CommandStatus
	cmdInProgress bool
	dmaInProgress bool
	dmaWaiting    bool      // a caller waits on dmaDone
	dmaOwner      lockOwner // bus lock handed to the completion path
	streamMode    ReadMode
	streamCB      StreamCallback
	sectorSize    int
	inited        bool

	cmdDone *semaphore
	dmaDone *semaphore

	events  eventSlot
	prevIRQ [len(hal.DMAEvents)]atomic.Pointer[hal.IRQHandler]
	enabled [len(hal.DMAEvents)]bool
	tick    hal.TickHandle
	hasTick bool
	quit    chan struct{}
	wg      sync.WaitGroup

	// notify is notifyStream bound once, so arming a firmware hook does
	// not allocate.
	notify func()
}

// New creates a drive engine driven through p. The drive is inert until
// [Drive.Init] is called.
func New(p hal.Platform, opts Options) *Drive {
	d := &Drive{
		fw:         p.Firmware,
		irq:        p.Interrupts,
		ticker:     p.Ticker,
		clock:      p.Clock,
		cache:      p.Cache,
		mem:        p.Memory,
		opts:       opts.withDefaults(),
		streamMode: ModeNone,
		sectorSize: 2048,
		cmdDone:    newSemaphore(),
		dmaDone:    newSemaphore(),
	}
	if d.clock == nil {
		d.clock = hal.MonotonicClock{}
	}
	d.events.init()
	d.notify = d.notifyStream
	return d
}

// SectorSize returns the cached sector size in bytes.
func (d *Drive) SectorSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sectorSize
}

// StreamMode returns the mode of the open stream session, or ModeNone.
func (d *Drive) StreamMode() ReadMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamMode
}

// Handle returns the handle of the command in flight, or zero.
func (d *Drive) Handle() hal.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

// LastStatus returns the status block refreshed by the most recent poll.
func (d *Drive) LastStatus() hal.CommandStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// running reports whether Init has installed the completion coordinator.
// Interrupt-driven operations need it.
func (d *Drive) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inited
}

// errNotRunning is returned by interrupt-driven operations before Init.
func errNotRunning(op string) error {
	return fmt.Errorf("%w: %s needs an initialized drive", pkg.ErrSys, op)
}

// notifyStream delivers a chunk completion to the registered callback.
func (d *Drive) notifyStream() {
	d.mu.Lock()
	cb := d.streamCB
	d.mu.Unlock()

	if cb != nil {
		cb(irqCtx)
	}
}

func (d *Drive) setHandle(h hal.Handle) {
	d.mu.Lock()
	d.handle = h
	d.mu.Unlock()
}

// record stores the outcome of a poll.
func (d *Drive) record(resp hal.Response, st hal.CommandStatus) {
	d.mu.Lock()
	d.resp = resp
	d.status = st
	d.mu.Unlock()
}

// result maps a terminal response and its status block to an error.
func result(resp hal.Response, st hal.CommandStatus) error {
	switch resp {
	case hal.ResponseCompleted, hal.ResponseStreaming:
		return nil
	case hal.ResponseNoActive:
		return pkg.ErrNoActive
	}
	switch st.Err1 {
	case hal.SenseNoDisc:
		return pkg.ErrNoDisc
	case hal.SenseDiscChanged:
		return pkg.ErrDiscChanged
	}
	return pkg.ErrSys
}
