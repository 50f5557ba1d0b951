package pkg

import "errors"

// Drive result errors. A nil error corresponds to [ResultOK].
var (
	// ErrNoActive indicates the controller has no active command.
	ErrNoActive = errors.New("no active command")

	// ErrNoDisc indicates there is no disc in the drive.
	ErrNoDisc = errors.New("no disc")

	// ErrDiscChanged indicates the disc was changed since the last command.
	ErrDiscChanged = errors.New("disc changed")

	// ErrTimeout indicates a poll-based wait exceeded its timeout.
	ErrTimeout = errors.New("command timeout")

	// ErrSys indicates a system error, including rejected parameters.
	ErrSys = errors.New("system error")
)

// Result is the numeric form of a drive operation outcome.
type Result int

// Result values.
const (
	ResultOK          Result = iota // Operation completed
	ResultNoDisc                    // No disc in drive
	ResultDiscChanged               // Disc changed
	ResultSys                       // System error
	ResultAborted                   // Command aborted
	ResultNoActive                  // No active command
	ResultTimeout                   // Timed out
)

// String returns a string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNoDisc:
		return "no disc"
	case ResultDiscChanged:
		return "disc changed"
	case ResultSys:
		return "system error"
	case ResultAborted:
		return "aborted"
	case ResultNoActive:
		return "no active"
	case ResultTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the result.
func (r Result) Error() error {
	switch r {
	case ResultOK:
		return nil
	case ResultNoDisc:
		return ErrNoDisc
	case ResultDiscChanged:
		return ErrDiscChanged
	case ResultNoActive:
		return ErrNoActive
	case ResultTimeout:
		return ErrTimeout
	default:
		return ErrSys
	}
}

// ResultOf maps an error returned by the drive engine back to its Result.
// Errors outside the taxonomy map to [ResultSys].
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNoDisc):
		return ResultNoDisc
	case errors.Is(err, ErrDiscChanged):
		return ResultDiscChanged
	case errors.Is(err, ErrNoActive):
		return ResultNoActive
	case errors.Is(err, ErrTimeout):
		return ResultTimeout
	default:
		return ResultSys
	}
}
