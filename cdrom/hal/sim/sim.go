package sim

import (
	"runtime"
	"sync"

	"github.com/ardnew/softgdrom/cdrom/hal"
	"github.com/ardnew/softgdrom/pkg"
)

// Sense code for requests outside the disc.
const senseIllegalRequest = 5

// Call is one recorded firmware call.
type Call struct {
	Op     string
	Cmd    hal.Command
	Handle hal.Handle
	Arg    int
}

// Recorded operation names.
const (
	OpSend        = "send"
	OpAbort       = "abort"
	OpReset       = "reset"
	OpInit        = "init"
	OpSectorMode  = "sector-mode"
	OpPIOTransfer = "pio-transfer"
	OpDMATransfer = "dma-transfer"
	OpPIOCallback = "pio-callback"
	OpDMACallback = "dma-callback"
)

// command is a submitted command tracked by the controller.
type command struct {
	handle hal.Handle
	cmd    hal.Command
	param  any
	state  hal.Response
	steps  int
	status hal.CommandStatus

	// Stream state
	dma       bool
	sector    int
	pos       int // bytes already handed out
	left      int // bytes not yet handed out
	chunk     []byte
	chunkOff  int
	dmaActive bool
	dmaLen    int
}

// Machine is a simulated disc controller together with the platform
// facilities around it. It implements every [hal] interface and records each
// firmware call so tests can check ordering and exclusivity.
type Machine struct {
	cfg Config

	mu          sync.Mutex
	cmds        map[hal.Handle]*command
	nextHandle  hal.Handle
	sectorSize  int
	refuse      int
	discChanges int
	busyChecks  int
	hang        map[hal.Command]bool
	drive       hal.DriveStatus
	pioCB       func()
	calls       []Call
	checks      int
	overlaps    int
	maxInFlight int
	lastPlay    hal.PlayParams
	lastMode    hal.SectorModeParams
	dmaWG       sync.WaitGroup

	platform
}

// New creates a simulated controller.
func New(cfg Config) *Machine {
	cfg = cfg.withDefaults()
	m := &Machine{
		cfg:         cfg,
		cmds:        make(map[hal.Handle]*command),
		sectorSize:  cfg.SectorSize,
		refuse:      cfg.RefuseSubmits,
		discChanges: cfg.DiscChanges,
		busyChecks:  cfg.BusyChecks,
		hang:        make(map[hal.Command]bool),
		drive:       hal.StatusStandby,
	}
	for _, c := range cfg.Hang {
		m.hang[c] = true
	}
	if !cfg.Disc.Present {
		m.drive = hal.StatusNoDisc
	}
	m.platform.init(&m.cfg)
	return m
}

// Platform returns the machine as a [hal.Platform].
func (m *Machine) Platform() hal.Platform {
	return hal.Platform{
		Firmware:   m,
		Interrupts: m,
		Ticker:     m,
		Clock:      m,
		Cache:      m,
		Memory:     m,
	}
}

// Close stops the ticker and waits for in-flight DMA transfers.
func (m *Machine) Close() error {
	m.platform.close()
	m.dmaWG.Wait()
	return nil
}

// Pattern returns the byte the simulated disc holds at offset off of sector.
func Pattern(sector, off int, seed uint8) byte {
	return byte(sector*7+off) ^ seed
}

func (m *Machine) fill(dst []byte, sector, streamOff int) {
	size := m.sectorSize
	for i := range dst {
		o := streamOff + i
		dst[i] = Pattern(sector+o/size, o%size, m.cfg.Disc.Seed)
	}
}

func (m *Machine) record(c Call) {
	m.calls = append(m.calls, c)
}

// SendCommand implements hal.Firmware.
func (m *Machine) SendCommand(cmd hal.Command, param any) hal.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refuse > 0 {
		m.refuse--
		m.record(Call{Op: OpSend, Cmd: cmd})
		return 0
	}
	if len(m.cmds) > 0 {
		m.overlaps++
		pkg.LogWarn(pkg.ComponentSim, "command submitted while another is open",
			"cmd", cmd, "open", len(m.cmds))
	}

	m.nextHandle++
	c := &command{
		handle: m.nextHandle,
		cmd:    cmd,
		param:  param,
		state:  hal.ResponseProcessing,
		steps:  m.cfg.CommandSteps,
	}
	m.cmds[c.handle] = c
	if len(m.cmds) > m.maxInFlight {
		m.maxInFlight = len(m.cmds)
	}
	m.record(Call{Op: OpSend, Cmd: cmd, Handle: c.handle})
	return c.handle
}

// ExecServer implements hal.Firmware.
func (m *Machine) ExecServer() {
	var after []func()

	m.mu.Lock()
	for _, c := range m.cmds {
		if fn := m.step(c); fn != nil {
			after = append(after, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

// step advances c by one service slice. It returns work to run after the
// lock is released.
func (m *Machine) step(c *command) func() {
	switch c.state {
	case hal.ResponseProcessing:
		if m.hang[c.cmd] {
			return nil
		}
		if c.steps--; c.steps > 0 {
			return nil
		}
		return m.complete(c)

	case hal.ResponseStreaming:
		if c.chunk != nil && !c.dma {
			n := len(c.chunk) - c.chunkOff
			if n > m.cfg.ChunkStep {
				n = m.cfg.ChunkStep
			}
			m.fill(c.chunk[c.chunkOff:c.chunkOff+n], c.sector, c.pos-len(c.chunk)+c.chunkOff)
			c.chunkOff += n
			if c.chunkOff < len(c.chunk) {
				return nil
			}
			c.chunk = nil
			c.chunkOff = 0
			// The firmware does not notify the final chunk of a stream.
			if c.left > 0 && m.pioCB != nil {
				return m.pioCB
			}
			return nil
		}
		if c.chunk == nil && !c.dmaActive && c.left == 0 {
			c.state = hal.ResponseCompleted
		}
	}
	return nil
}

// complete finishes a processing command according to its kind.
func (m *Machine) complete(c *command) func() {
	if c.cmd == hal.CmdInit && m.discChanges > 0 {
		m.discChanges--
		m.fail(c, hal.SenseDiscChanged)
		return nil
	}
	if needsDisc(c.cmd) && !m.cfg.Disc.Present {
		m.fail(c, hal.SenseNoDisc)
		return nil
	}

	c.state = hal.ResponseCompleted
	switch p := c.param.(type) {
	case *hal.ReadParams:
		if p.Sector < 0 || p.Sector+p.Count > m.cfg.Disc.Sectors || len(p.Buf) < p.Count*m.sectorSize {
			m.fail(c, senseIllegalRequest)
			return nil
		}
		m.fill(p.Buf[:p.Count*m.sectorSize], p.Sector, 0)
		c.status.Size = int32(p.Count * m.sectorSize)
		if c.cmd == hal.CmdDMARead {
			return func() { m.Raise(hal.EventGDDMA) }
		}

	case *hal.StreamParams:
		if p.Sector < 0 || p.Sector+p.Count > m.cfg.Disc.Sectors {
			m.fail(c, senseIllegalRequest)
			return nil
		}
		c.state = hal.ResponseStreaming
		c.dma = c.cmd == hal.CmdDMAReadStream || c.cmd == hal.CmdDMAReadStreamEx
		c.sector = p.Sector
		c.left = p.Count * m.sectorSize

	case *hal.TOCParams:
		if p.TOC != nil {
			m.buildTOC(p.TOC)
		}

	case *hal.PlayParams:
		m.lastPlay = *p
		m.drive = hal.StatusPlaying

	case *hal.SubcodeParams:
		for i := range p.Buf {
			p.Buf[i] = byte(p.Which + i)
		}
		c.status.Size = int32(len(p.Buf))
	}

	switch c.cmd {
	case hal.CmdPause:
		m.drive = hal.StatusPaused
	case hal.CmdRelease:
		m.drive = hal.StatusPlaying
	case hal.CmdStop, hal.CmdInit:
		m.drive = hal.StatusStandby
	}
	return nil
}

func (m *Machine) fail(c *command, sense int32) {
	c.state = hal.ResponseFailed
	c.status.Err1 = sense
}

func needsDisc(cmd hal.Command) bool {
	switch cmd {
	case hal.CmdInit, hal.CmdPIORead, hal.CmdDMARead, hal.CmdGetTOC, hal.CmdGetTOC2,
		hal.CmdPlay, hal.CmdPlay2, hal.CmdGetSCD, hal.CmdDMAReadStream,
		hal.CmdPIOReadStream, hal.CmdDMAReadStreamEx, hal.CmdPIOReadStreamEx:
		return true
	}
	return false
}

func (m *Machine) buildTOC(toc *hal.TOC) {
	*toc = hal.TOC{}
	tracks := m.cfg.Disc.Tracks
	for i, t := range tracks {
		toc.Entry[i] = hal.TOCEntry(t.Control, t.ADR, t.LBA)
	}
	if len(tracks) == 0 {
		return
	}
	first, last := tracks[0], tracks[len(tracks)-1]
	toc.First = hal.TOCTrackWord(first.Control, first.ADR, 1)
	toc.Last = hal.TOCTrackWord(last.Control, last.ADR, uint8(len(tracks)))
	toc.LeadOut = hal.TOCEntry(last.Control, last.ADR, uint32(m.cfg.Disc.Sectors))
}

// CheckCommand implements hal.Firmware.
func (m *Machine) CheckCommand(h hal.Handle, status *hal.CommandStatus) hal.Response {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks++
	c, ok := m.cmds[h]
	if !ok {
		*status = hal.CommandStatus{}
		return hal.ResponseNoActive
	}
	*status = c.status
	switch c.state {
	case hal.ResponseCompleted, hal.ResponseFailed:
		delete(m.cmds, h)
	}
	return c.state
}

// AbortCommand implements hal.Firmware.
func (m *Machine) AbortCommand(h hal.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Call{Op: OpAbort, Handle: h})
	if m.cfg.IgnoreAbort {
		return
	}
	delete(m.cmds, h)
}

// Reset implements hal.Firmware.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Call{Op: OpReset})
	m.cmds = make(map[hal.Handle]*command)
	m.pioCB = nil
}

// Init implements hal.Firmware.
func (m *Machine) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Call{Op: OpInit})
}

// CheckDrive implements hal.Firmware.
func (m *Machine) CheckDrive(info *hal.DriveInfo) hal.Response {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busyChecks > 0 {
		m.busyChecks--
		return hal.ResponseBusy
	}
	info.Status = m.drive
	info.Disc = hal.DiscType(m.cfg.Disc.Type)
	if !m.cfg.Disc.Present {
		info.Disc = hal.DiscFail
	}
	return 0
}

// SectorMode implements hal.Firmware.
func (m *Machine) SectorMode(params *hal.SectorModeParams) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if params.Get {
		params.Size = m.sectorSize
		return 0
	}
	m.record(Call{Op: OpSectorMode, Arg: params.Size})
	if params.Size <= 0 {
		return -1
	}
	m.lastMode = *params
	m.sectorSize = params.Size
	return 0
}

// streamFor returns the streaming command h if it streams in the given mode.
func (m *Machine) streamFor(h hal.Handle, dma bool) *command {
	c, ok := m.cmds[h]
	if !ok || c.state != hal.ResponseStreaming || c.dma != dma {
		return nil
	}
	return c
}

// PIOTransfer implements hal.Firmware.
func (m *Machine) PIOTransfer(h hal.Handle, chunk *hal.Chunk) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Call{Op: OpPIOTransfer, Handle: h, Arg: len(chunk.Buf)})
	c := m.streamFor(h, false)
	if c == nil || c.chunk != nil || c.left == 0 {
		return -1
	}
	n := min(len(chunk.Buf), c.left)
	c.chunk = chunk.Buf[:n]
	c.chunkOff = 0
	c.pos += n
	c.left -= n
	return 0
}

// PIOCheck implements hal.Firmware.
func (m *Machine) PIOCheck(h hal.Handle, remaining *int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cmds[h]
	if !ok {
		*remaining = 0
		return 0
	}
	if c.chunk != nil {
		*remaining = len(c.chunk) - c.chunkOff
		return 1
	}
	*remaining = c.left
	return 0
}

// DMATransfer implements hal.Firmware. The copy runs asynchronously and
// raises [hal.EventGDDMA] when done.
func (m *Machine) DMATransfer(h hal.Handle, chunk *hal.Chunk) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Call{Op: OpDMATransfer, Handle: h, Arg: len(chunk.Buf)})
	c := m.streamFor(h, true)
	if c == nil || c.dmaActive || c.left == 0 {
		return -1
	}
	n := min(len(chunk.Buf), c.left)
	buf, off := chunk.Buf[:n], c.pos
	c.pos += n
	c.left -= n
	c.dmaActive = true
	c.dmaLen = n

	m.dmaWG.Add(1)
	go func() {
		defer m.dmaWG.Done()
		runtime.Gosched()

		m.mu.Lock()
		if _, live := m.cmds[c.handle]; live {
			m.fill(buf, c.sector, off)
		}
		c.dmaActive = false
		c.dmaLen = 0
		m.mu.Unlock()

		// The end-of-transfer interrupt fires even for an aborted command.
		m.Raise(hal.EventGDDMA)
	}()
	return 0
}

// DMACheck implements hal.Firmware.
func (m *Machine) DMACheck(h hal.Handle, remaining *int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cmds[h]
	if !ok {
		*remaining = 0
		return 0
	}
	if c.dmaActive {
		*remaining = c.dmaLen
		return 1
	}
	*remaining = c.left
	return 0
}

// PIOCallback implements hal.Firmware.
func (m *Machine) PIOCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	arg := 0
	if fn != nil {
		arg = 1
	}
	m.record(Call{Op: OpPIOCallback, Arg: arg})
	m.pioCB = fn
}

// DMACallback implements hal.Firmware.
func (m *Machine) DMACallback(fn func()) {
	m.mu.Lock()
	m.record(Call{Op: OpDMACallback})
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Calls returns a copy of the recorded call log.
func (m *Machine) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns the recorded calls with the given operation.
func (m *Machine) CallsOf(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Call
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (m *Machine) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Overlaps returns how many commands were submitted while another was open.
func (m *Machine) Overlaps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlaps
}

// MaxInFlight returns the largest number of simultaneously open commands.
func (m *Machine) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// OpenCommands returns the number of commands not yet retired.
func (m *Machine) OpenCommands() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cmds)
}

// SectorSize returns the configured sector size.
func (m *Machine) SectorSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sectorSize
}

// LastPlay returns the parameters of the last CDDA play command.
func (m *Machine) LastPlay() hal.PlayParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPlay
}

// LastSectorMode returns the last sector format applied.
func (m *Machine) LastSectorMode() hal.SectorModeParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMode
}

// SetDiscPresent inserts or removes the disc.
func (m *Machine) SetDiscPresent(present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.Disc.Present = present
	if present {
		m.drive = hal.StatusStandby
	} else {
		m.drive = hal.StatusNoDisc
	}
}

// SetHang makes cmd hang or resume.
func (m *Machine) SetHang(cmd hal.Command, hang bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang[cmd] = hang
}

// SetIgnoreAbort controls whether AbortCommand is honored.
func (m *Machine) SetIgnoreAbort(ignore bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.IgnoreAbort = ignore
}

// InjectDiscChanges makes the next n CmdInit commands report disc-changed.
func (m *Machine) InjectDiscChanges(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discChanges = n
}

// InjectRefusals makes the next n submissions fail transiently.
func (m *Machine) InjectRefusals(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refuse = n
}
