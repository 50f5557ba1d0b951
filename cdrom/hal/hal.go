package hal

import "fmt"

// Command identifies a drive command understood by the controller firmware.
type Command int

// Controller firmware commands.
const (
	CmdPIORead         Command = 16 // Read sectors by PIO
	CmdDMARead         Command = 17 // Read sectors by DMA
	CmdGetTOC          Command = 18 // Read TOC, single session
	CmdGetTOC2         Command = 19 // Read TOC for a session
	CmdPlay            Command = 20 // Play CDDA by track
	CmdPlay2           Command = 21 // Play CDDA by sector
	CmdPause           Command = 22 // Pause CDDA
	CmdRelease         Command = 23 // Resume CDDA
	CmdInit            Command = 24 // Initialize the drive
	CmdDMAAbort        Command = 25 // Abort a DMA transfer
	CmdOpenTray        Command = 26 // Open the tray
	CmdSeek            Command = 27 // Seek to a sector
	CmdDMAReadStream   Command = 28 // Open a DMA read stream
	CmdNop             Command = 29 // No operation
	CmdReqMode         Command = 30 // Request mode
	CmdSetMode         Command = 31 // Set mode
	CmdScanCD          Command = 32 // Scan CD
	CmdStop            Command = 33 // Spin down
	CmdGetSCD          Command = 34 // Read subcode
	CmdGetSES          Command = 35 // Read session info
	CmdReqStat         Command = 36 // Request status
	CmdPIOReadStream   Command = 37 // Open a PIO read stream
	CmdDMAReadStreamEx Command = 38 // Open a DMA read stream, extended
	CmdPIOReadStreamEx Command = 39 // Open a PIO read stream, extended
	CmdGetVersion      Command = 40 // Read firmware version
	CmdMax             Command = 47 // Upper bound, exclusive
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdPIORead:
		return "pio-read"
	case CmdDMARead:
		return "dma-read"
	case CmdGetTOC:
		return "get-toc"
	case CmdGetTOC2:
		return "get-toc2"
	case CmdPlay:
		return "play"
	case CmdPlay2:
		return "play2"
	case CmdPause:
		return "pause"
	case CmdRelease:
		return "release"
	case CmdInit:
		return "init"
	case CmdStop:
		return "stop"
	case CmdGetSCD:
		return "get-scd"
	case CmdDMAReadStream:
		return "dma-read-stream"
	case CmdPIOReadStream:
		return "pio-read-stream"
	default:
		return fmt.Sprintf("cmd(%d)", int(c))
	}
}

// Valid reports whether c is inside the range accepted by the firmware.
func (c Command) Valid() bool {
	return c > 0 && c < CmdMax
}

// Handle is an opaque command token returned by the firmware.
// Zero or negative values mean no command.
type Handle int32

// Valid reports whether h refers to a submitted command.
func (h Handle) Valid() bool {
	return h > 0
}

// Response is the controller-reported state of a command.
type Response int32

// Command responses. Any negative value is an error state.
const (
	ResponseFailed     Response = -1
	ResponseNoActive   Response = 0
	ResponseProcessing Response = 1
	ResponseCompleted  Response = 2
	ResponseStreaming  Response = 3
	ResponseBusy       Response = 4
)

// Pending reports whether the command has not reached a terminal state.
func (r Response) Pending() bool {
	return r == ResponseProcessing || r == ResponseBusy
}

// Failed reports whether r is an error state.
func (r Response) Failed() bool {
	return r < 0
}

// String returns a human-readable response name.
func (r Response) String() string {
	switch r {
	case ResponseNoActive:
		return "no-active"
	case ResponseProcessing:
		return "processing"
	case ResponseCompleted:
		return "completed"
	case ResponseStreaming:
		return "streaming"
	case ResponseBusy:
		return "busy"
	default:
		if r < 0 {
			return "failed"
		}
		return "unknown"
	}
}

// CommandStatus is the four-word status block refreshed on every check.
type CommandStatus struct {
	Err1 int32 // Primary error code (sense key)
	Err2 int32 // Secondary error code
	Size int32 // Bytes transferred so far
	ATA  int32 // ATA status register snapshot
}

// Primary error codes reported in [CommandStatus.Err1].
const (
	SenseNoDisc      = 2
	SenseDiscChanged = 6
)

// DriveStatus is the drive state reported by [Firmware.CheckDrive].
type DriveStatus int32

// Drive status values.
const (
	StatusReadFail DriveStatus = -1
	StatusBusy     DriveStatus = 0
	StatusPaused   DriveStatus = 1
	StatusStandby  DriveStatus = 2
	StatusPlaying  DriveStatus = 3
	StatusSeeking  DriveStatus = 4
	StatusScanning DriveStatus = 5
	StatusOpen     DriveStatus = 6
	StatusNoDisc   DriveStatus = 7
	StatusRetry    DriveStatus = 8
	StatusError    DriveStatus = 9
	StatusFatal    DriveStatus = 12
)

// String returns a human-readable drive status.
func (s DriveStatus) String() string {
	switch s {
	case StatusReadFail:
		return "read-fail"
	case StatusBusy:
		return "busy"
	case StatusPaused:
		return "paused"
	case StatusStandby:
		return "standby"
	case StatusPlaying:
		return "playing"
	case StatusSeeking:
		return "seeking"
	case StatusScanning:
		return "scanning"
	case StatusOpen:
		return "open"
	case StatusNoDisc:
		return "no-disc"
	case StatusRetry:
		return "retry"
	case StatusError:
		return "error"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DiscType identifies the kind of disc in the drive.
type DiscType int32

// Disc types.
const (
	DiscCDDA    DiscType = 0x00
	DiscCDROM   DiscType = 0x10
	DiscCDROMXA DiscType = 0x20
	DiscCDI     DiscType = 0x30
	DiscGDROM   DiscType = 0x80
	DiscFail    DiscType = 0xf0
)

// String returns a human-readable disc type.
func (t DiscType) String() string {
	switch t {
	case DiscCDDA:
		return "CD-DA"
	case DiscCDROM:
		return "CD-ROM"
	case DiscCDROMXA:
		return "CD-ROM XA"
	case DiscCDI:
		return "CD-i"
	case DiscGDROM:
		return "GD-ROM"
	case DiscFail:
		return "fail"
	default:
		return "unknown"
	}
}

// DriveInfo is filled by [Firmware.CheckDrive].
type DriveInfo struct {
	Status DriveStatus
	Disc   DiscType
}

// Sector parts selectable with [SectorModeParams.Part].
const (
	SectorPartWhole = 0x1000 // Whole 2352-byte sector
	SectorPartData  = 0x2000 // Data area only
)

// SectorModeParams configures the sector format with [Firmware.SectorMode].
type SectorModeParams struct {
	Get  bool // false = set, true = get
	Part int  // SectorPartWhole or SectorPartData
	CDXA int  // CD-XA mode selector
	Size int  // Sector size in bytes
}

// ReadParams is the parameter block for CmdPIORead and CmdDMARead.
type ReadParams struct {
	Sector int     // Starting sector
	Count  int     // Number of sectors
	Buf    []byte  // Destination
	Addr   uintptr // Destination address as seen by the controller
	Test   bool    // Firmware test mode
}

// StreamParams is the parameter block for the stream-opening commands.
type StreamParams struct {
	Sector int
	Count  int
}

// TOCParams is the parameter block for CmdGetTOC2.
type TOCParams struct {
	Session int
	TOC     *TOC
}

// PlayParams is the parameter block for CmdPlay and CmdPlay2.
type PlayParams struct {
	Start  int
	End    int
	Repeat int // 0-15, 15 = infinite
}

// SubcodeParams is the parameter block for CmdGetSCD.
type SubcodeParams struct {
	Which int
	Buf   []byte
}

// Chunk describes one stream transfer posted with [Firmware.PIOTransfer] or
// [Firmware.DMATransfer].
type Chunk struct {
	Buf  []byte  // Destination
	Addr uintptr // Destination address as seen by the controller
}

// Firmware is the controller firmware interface. It is the only path to the
// disc; the drive engine never touches controller registers directly.
//
// Implementations need not be safe for concurrent use by multiple command
// issuers; the engine serializes command traffic with its bus lock. They must
// tolerate ExecServer and CheckCommand being called from the engine's
// completion coordinator while a caller waits.
type Firmware interface {
	// SendCommand posts cmd with its parameter block and returns a handle.
	// A zero handle is a transient refusal; the caller may retry.
	SendCommand(cmd Command, param any) Handle

	// ExecServer gives the firmware a slice of time to advance commands.
	ExecServer()

	// CheckCommand reports the state of h and refreshes status.
	CheckCommand(h Handle, status *CommandStatus) Response

	// AbortCommand requests that h be aborted.
	AbortCommand(h Handle)

	// Reset resets the controller.
	Reset()

	// Init reinitializes the controller firmware after Reset.
	Init()

	// CheckDrive fills info with the drive state. Returns ResponseBusy while
	// the drive cannot answer, a negative value on failure.
	CheckDrive(info *DriveInfo) Response

	// SectorMode sets or gets the sector format. Returns 0 on success.
	SectorMode(params *SectorModeParams) int

	// PIOTransfer posts a chunk transfer on the open PIO stream h.
	// Returns a negative value if the transfer could not be posted.
	PIOTransfer(h Handle, chunk *Chunk) int

	// PIOCheck returns non-zero while a PIO chunk is transferring. It stores
	// the bytes left in the running chunk or, once idle, the bytes left in
	// the stream.
	PIOCheck(h Handle, remaining *int) int

	// DMATransfer posts a chunk transfer on the open DMA stream h.
	// Returns a negative value if the transfer could not be posted.
	DMATransfer(h Handle, chunk *Chunk) int

	// DMACheck is the DMA counterpart of PIOCheck.
	DMACheck(h Handle, remaining *int) int

	// PIOCallback arms fn to be called by the firmware when a PIO chunk
	// completes. A nil fn disarms it.
	PIOCallback(fn func())

	// DMACallback delivers a DMA chunk completion notification to fn.
	// A nil fn is ignored.
	DMACallback(fn func())
}

// Event identifies an interrupt source.
type Event uint16

// DMA interrupt sources raised by the disc controller.
const (
	EventGDDMA            Event = 0x000e // DMA transfer complete
	EventGDDMAOverrun     Event = 0x020c // DMA overrun
	EventGDDMAIllegalAddr Event = 0x020d // DMA to an illegal address
)

// DMAEvents lists the interrupt sources the drive engine handles.
var DMAEvents = [...]Event{EventGDDMA, EventGDDMAOverrun, EventGDDMAIllegalAddr}

// IRQHandler handles an interrupt event. Handlers run in interrupt context:
// they must not block or allocate.
type IRQHandler func(evt Event)

// Interrupts is the interrupt-delivery facility.
type Interrupts interface {
	// SetHandler installs h for evt and returns the previously installed
	// handler, or nil.
	SetHandler(evt Event, h IRQHandler) IRQHandler

	// RemoveHandler removes the handler for evt.
	RemoveHandler(evt Event)

	// Enable unmasks evt.
	Enable(evt Event)

	// Disable masks evt.
	Disable(evt Event)
}

// TickHandle identifies an installed tick handler.
type TickHandle int

// Ticker is the periodic-tick facility. Handlers run at a fixed cadence with
// no phase guarantee and must not block.
type Ticker interface {
	AddTickHandler(fn func()) (TickHandle, error)
	RemoveTickHandler(h TickHandle) error
}

// Clock is a monotonic millisecond clock.
type Clock interface {
	Milliseconds() uint64
}

// Cache is the cache-maintenance facility.
type Cache interface {
	// Physical translates addr to the form written into DMA descriptors.
	Physical(addr uintptr) uintptr

	// Uncached reports whether addr lies in a memory area that is coherent
	// with DMA and needs no invalidation.
	Uncached(addr uintptr) bool

	// InvalidateData invalidates the data cache over [addr, addr+n).
	InvalidateData(addr uintptr, n int)

	// FlushInstruction flushes the instruction cache over [addr, addr+n).
	FlushInstruction(addr uintptr, n int)
}

// Memory is word access to the system bus, used for drive reactivation and
// the DMA protection unlock.
type Memory interface {
	Read16(addr uintptr) uint16
	Read32(addr uintptr) uint32
	Write32(addr uintptr, v uint32)
}

// Platform bundles the collaborators the drive engine is driven through.
type Platform struct {
	Firmware   Firmware
	Interrupts Interrupts
	Ticker     Ticker
	Clock      Clock
	Cache      Cache
	Memory     Memory
}
