package cdrom

import "time"

// ReadMode selects how sectors move from the controller to memory.
type ReadMode int

// Read modes.
const (
	ModeNone   ReadMode = -1 // No stream session
	ModePIO    ReadMode = 0  // Host-driven transfer, polled
	ModeDMA    ReadMode = 1  // Controller-driven transfer, polled
	ModeDMAIRQ ReadMode = 2  // Controller-driven transfer, interrupt completion
	ModePIOIRQ ReadMode = 3  // Host-driven transfer, tick-driven completion
)

// String returns a human-readable mode name.
func (m ReadMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModePIO:
		return "pio"
	case ModeDMA:
		return "dma"
	case ModeDMAIRQ:
		return "dma-irq"
	case ModePIOIRQ:
		return "pio-irq"
	default:
		return "unknown"
	}
}

// IsDMA reports whether m is a DMA mode.
func (m ReadMode) IsDMA() bool {
	return m == ModeDMA || m == ModeDMAIRQ
}

// IsPIO reports whether m is a PIO mode.
func (m ReadMode) IsPIO() bool {
	return m == ModePIO || m == ModePIOIRQ
}

// Valid reports whether m names a transfer mode.
func (m ReadMode) Valid() bool {
	return m.IsDMA() || m.IsPIO()
}

// ParseReadMode converts a mode name to a ReadMode.
func ParseReadMode(name string) (ReadMode, bool) {
	for _, m := range []ReadMode{ModePIO, ModeDMA, ModeDMAIRQ, ModePIOIRQ} {
		if m.String() == name {
			return m, true
		}
	}
	return ModeNone, false
}

// CDDA play modes.
const (
	CDDATracks  = 1 // Start and end are track numbers
	CDDASectors = 2 // Start and end are sector numbers
)

// MaxRepeat is the largest CDDA repeat count; it means repeat forever.
const MaxRepeat = 15

// Default marks a sector format field that should take its default value.
const Default = -1

// Buffer alignment required by each transfer kind.
const (
	DMAAlign = 32
	PIOAlign = 2
)

// Options configures a Drive.
type Options struct {
	// SubmitRetries bounds the attempts made when the firmware refuses a
	// command transiently.
	SubmitRetries int

	// InitTimeout bounds each CmdInit poll during Reinit.
	InitTimeout time.Duration

	// ExecAbortTimeout is the abort budget used when a poll times out.
	ExecAbortTimeout time.Duration

	// StreamAbortTimeout is the abort budget used when stopping a stream.
	StreamAbortTimeout time.Duration

	// SkipReactivation disables the boot ROM bus scan during Init.
	SkipReactivation bool
}

// DefaultOptions returns the standard drive options.
func DefaultOptions() Options {
	return Options{
		SubmitRetries:      10,
		InitTimeout:        10 * time.Second,
		ExecAbortTimeout:   500 * time.Millisecond,
		StreamAbortTimeout: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SubmitRetries <= 0 {
		o.SubmitRetries = d.SubmitRetries
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = d.InitTimeout
	}
	if o.ExecAbortTimeout <= 0 {
		o.ExecAbortTimeout = d.ExecAbortTimeout
	}
	if o.StreamAbortTimeout <= 0 {
		o.StreamAbortTimeout = d.StreamAbortTimeout
	}
	return o
}
