package sim

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// ErrUnknownTick is returned when removing a tick handler that is not
// installed.
var ErrUnknownTick = errors.New("sim: unknown tick handler")

// Range is a recorded cache maintenance range.
type Range struct {
	Addr uintptr
	Len  int
}

// platform holds the simulated interrupt, tick, clock, cache and memory
// facilities.
type platform struct {
	cfg *Config

	irqMu    sync.Mutex
	handlers map[hal.Event]hal.IRQHandler
	enabled  map[hal.Event]bool
	raised   map[hal.Event]int

	tickMu   sync.Mutex
	ticks    map[hal.TickHandle]func()
	nextTick hal.TickHandle
	tickStop chan struct{}
	tickWG   sync.WaitGroup

	clockMs atomic.Uint64
	host    hal.MonotonicClock

	cacheMu     sync.Mutex
	invalidated []Range
	flushed     []Range
	uncached    bool

	memMu     sync.Mutex
	regs      map[uintptr]uint32
	sysmem    []uint32
	biosReads atomic.Int64
}

func (p *platform) init(cfg *Config) {
	p.cfg = cfg
	p.handlers = make(map[hal.Event]hal.IRQHandler)
	p.enabled = make(map[hal.Event]bool)
	p.raised = make(map[hal.Event]int)
	p.ticks = make(map[hal.TickHandle]func())
	p.regs = make(map[uintptr]uint32)
	p.sysmem = make([]uint32, hal.ProtectionScanSize/4)

	// Spread the protection words across the scanned window.
	if n := cfg.ProtectionWords; n > 0 {
		stride := len(p.sysmem) / n
		for i := 0; i < n; i++ {
			p.sysmem[i*stride+1] = hal.DMAUnlockSysMem
		}
	}
}

func (p *platform) close() {
	p.tickMu.Lock()
	stop := p.tickStop
	p.tickStop = nil
	p.tickMu.Unlock()

	if stop != nil {
		close(stop)
		p.tickWG.Wait()
	}
}

// SetHandler implements hal.Interrupts.
func (p *platform) SetHandler(evt hal.Event, h hal.IRQHandler) hal.IRQHandler {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()

	prev := p.handlers[evt]
	p.handlers[evt] = h
	return prev
}

// RemoveHandler implements hal.Interrupts.
func (p *platform) RemoveHandler(evt hal.Event) {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	delete(p.handlers, evt)
}

// Enable implements hal.Interrupts.
func (p *platform) Enable(evt hal.Event) {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	p.enabled[evt] = true
}

// Disable implements hal.Interrupts.
func (p *platform) Disable(evt hal.Event) {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	p.enabled[evt] = false
}

// Raise delivers evt to its handler if one is installed and the source is
// enabled. It reports whether a handler ran.
func (p *platform) Raise(evt hal.Event) bool {
	p.irqMu.Lock()
	h := p.handlers[evt]
	on := p.enabled[evt]
	p.raised[evt]++
	p.irqMu.Unlock()

	if h == nil || !on {
		return false
	}
	h(evt)
	return true
}

// Handler returns the handler installed for evt.
func (p *platform) Handler(evt hal.Event) hal.IRQHandler {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	return p.handlers[evt]
}

// Enabled reports whether evt is unmasked.
func (p *platform) Enabled(evt hal.Event) bool {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	return p.enabled[evt]
}

// Raised returns how many times evt was raised.
func (p *platform) Raised(evt hal.Event) int {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	return p.raised[evt]
}

// AddTickHandler implements hal.Ticker. The first handler starts the tick
// goroutine when a tick period is configured.
func (p *platform) AddTickHandler(fn func()) (hal.TickHandle, error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	p.nextTick++
	p.ticks[p.nextTick] = fn

	if p.cfg.TickPeriod > 0 && p.tickStop == nil {
		p.tickStop = make(chan struct{})
		p.tickWG.Add(1)
		go p.tickLoop(p.cfg.TickPeriod, p.tickStop)
	}
	return p.nextTick, nil
}

// RemoveTickHandler implements hal.Ticker.
func (p *platform) RemoveTickHandler(h hal.TickHandle) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	if _, ok := p.ticks[h]; !ok {
		return ErrUnknownTick
	}
	delete(p.ticks, h)
	return nil
}

func (p *platform) tickLoop(period time.Duration, stop <-chan struct{}) {
	defer p.tickWG.Done()

	t := time.NewTicker(period)
	defer t.Stop()

	pkg.LogDebug(pkg.ComponentSim, "ticker started", "period", period)
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			p.Tick()
		}
	}
}

// Tick runs every installed tick handler once.
func (p *platform) Tick() {
	p.tickMu.Lock()
	fns := make([]func(), 0, len(p.ticks))
	for _, fn := range p.ticks {
		fns = append(fns, fn)
	}
	p.tickMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// TickHandlers returns the number of installed tick handlers.
func (p *platform) TickHandlers() int {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	return len(p.ticks)
}

// Milliseconds implements hal.Clock.
func (p *platform) Milliseconds() uint64 {
	if step := p.cfg.ClockStep; step > 0 {
		return p.clockMs.Add(uint64(step / time.Millisecond))
	}
	return p.host.Milliseconds() + p.clockMs.Load()
}

// Advance moves the clock forward by d.
func (p *platform) Advance(d time.Duration) {
	p.clockMs.Add(uint64(d / time.Millisecond))
}

// Physical implements hal.Cache. Simulated memory is flat.
func (p *platform) Physical(addr uintptr) uintptr {
	return addr
}

// Uncached implements hal.Cache.
func (p *platform) Uncached(uintptr) bool {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.uncached
}

// SetUncached makes every address report as coherent.
func (p *platform) SetUncached(uncached bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.uncached = uncached
}

// InvalidateData implements hal.Cache.
func (p *platform) InvalidateData(addr uintptr, n int) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.invalidated = append(p.invalidated, Range{addr, n})
}

// FlushInstruction implements hal.Cache.
func (p *platform) FlushInstruction(addr uintptr, n int) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.flushed = append(p.flushed, Range{addr, n})
}

// Invalidated returns the recorded data cache invalidations.
func (p *platform) Invalidated() []Range {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return append([]Range(nil), p.invalidated...)
}

// Flushed returns the recorded instruction cache flushes.
func (p *platform) Flushed() []Range {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return append([]Range(nil), p.flushed...)
}

func (p *platform) sysmemIndex(addr uintptr) (int, bool) {
	if addr < hal.SysMemBase || addr >= hal.SysMemBase+hal.ProtectionScanSize {
		return 0, false
	}
	return int(addr-hal.SysMemBase) / 4, true
}

// Read16 implements hal.Memory.
func (p *platform) Read16(addr uintptr) uint16 {
	if addr == hal.BIOSBase {
		if p.cfg.CustomBootstrap {
			return hal.BootstrapCustom
		}
		return hal.BootstrapStandard
	}
	return uint16(p.Read32(addr &^ 3) >> (8 * (addr & 2)))
}

// Read32 implements hal.Memory.
func (p *platform) Read32(addr uintptr) uint32 {
	if addr < hal.ReactivateStandardSize {
		p.biosReads.Add(1)
		return 0
	}
	p.memMu.Lock()
	defer p.memMu.Unlock()
	if i, ok := p.sysmemIndex(addr); ok {
		return p.sysmem[i]
	}
	return p.regs[addr]
}

// Write32 implements hal.Memory.
func (p *platform) Write32(addr uintptr, v uint32) {
	p.memMu.Lock()
	defer p.memMu.Unlock()
	if i, ok := p.sysmemIndex(addr); ok {
		p.sysmem[i] = v
		return
	}
	p.regs[addr] = v
}

// BIOSReads returns the number of word reads from the boot ROM.
func (p *platform) BIOSReads() int64 {
	return p.biosReads.Load()
}

// Register returns the last value written to a register address.
func (p *platform) Register(addr uintptr) uint32 {
	p.memMu.Lock()
	defer p.memMu.Unlock()
	return p.regs[addr]
}

// CountWords returns how many words of the protection window hold v.
func (p *platform) CountWords(v uint32) int {
	p.memMu.Lock()
	defer p.memMu.Unlock()

	n := 0
	for _, w := range p.sysmem {
		if w == v {
			n++
		}
	}
	return n
}
