package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnsupported is the permanent condition reported at construction when
// the platform offers no speech-to-text capability. It is distinct from
// runtime recognition errors: no start/stop operations exist in this mode.
var ErrUnsupported = errors.New("speech recognition is not available")

// State models the capture lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	// StateError is a transient sub-state, always followed by a return
	// to idle. The engine never auto-restarts out of it.
	StateError State = "error"
)

// ErrorCode is the fixed recognition failure taxonomy.
type ErrorCode string

const (
	ErrorNoSpeech     ErrorCode = "no_speech"
	ErrorAudioCapture ErrorCode = "audio_capture"
	ErrorNotAllowed   ErrorCode = "not_allowed"
	ErrorNetwork      ErrorCode = "network"
	ErrorOther        ErrorCode = "other"
)

// RecognitionError is a classified capture failure.
type RecognitionError struct {
	Code   ErrorCode
	Detail string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition error (%s): %s", e.Code, e.Detail)
}

// Classify maps an arbitrary stream failure into the fixed taxonomy.
func Classify(err error) *RecognitionError {
	var recErr *RecognitionError
	if errors.As(err, &recErr) {
		return recErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &RecognitionError{Code: ErrorNetwork, Detail: err.Error()}
	}
	return &RecognitionError{Code: ErrorOther, Detail: err.Error()}
}

// Result is one recognition fragment. Final fragments are delivered to the
// sink the moment they are recognized; interim fragments only update the
// display buffer and never mutate persisted state.
type Result struct {
	Text  string
	Final bool
}

// StreamConfig describes provider-agnostic recognition settings.
type StreamConfig struct {
	Language       string
	InterimResults bool
}

// Stream is one live recognition session. Results is closed when the
// stream ends; Err then reports why, nil meaning a clean end-of-stream.
type Stream interface {
	Results() <-chan Result
	Err() error
	Close() error
}

// Provider starts recognition streams against a platform capability.
type Provider interface {
	Start(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Sink receives engine events. Only FinalText carries text that may touch
// persisted answer state.
type Sink interface {
	FinalText(text string)
	InterimText(text string)
	StateChanged(state State)
	RecognitionError(err *RecognitionError)
}
