// Package scanner coordinates the barcode scanning lifecycle: camera
// acquisition, decode sessions, detection filtering, and the state machine
// that ties them together.
package scanner

// State is the scanner lifecycle phase. There is no terminal state; the
// machine cycles for as long as the process runs.
type State int

const (
	// StateIdle means no camera is held and no decoding is happening.
	StateIdle State = iota
	// StateStarting means a camera stream is being acquired.
	StateStarting
	// StateScanning means frames are flowing through the decoder.
	StateScanning
	// StateSuccess means a detection was accepted and the session stopped.
	StateSuccess
	// StateError means startup failed; recovery requires an explicit Retry.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateScanning:
		return "scanning"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
