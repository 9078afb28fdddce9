package transcribe

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultRestartDelay spaces out automatic restarts after the platform ends
// a session, so a capability that immediately ends every session cannot
// spin the engine in a tight loop.
const DefaultRestartDelay = 500 * time.Millisecond

// Options tunes engine behavior.
type Options struct {
	Config       StreamConfig
	RestartDelay time.Duration
}

// Engine wraps a recognition provider into a stable start/stop contract
// with automatic restart after platform-imposed session timeouts.
type Engine struct {
	provider Provider
	sink     Sink
	cfg      StreamConfig
	delay    time.Duration

	mu       sync.Mutex
	state    State
	stream   Stream
	starting bool
	stopped  bool
	gen      int
	interim  string
	restart  *time.Timer
}

// NewEngine creates an engine. A nil provider means the platform offers no
// speech-to-text capability; that is reported as ErrUnsupported here so no
// engine with start/stop operations ever exists in that mode.
func NewEngine(provider Provider, sink Sink, opts Options) (*Engine, error) {
	if provider == nil {
		return nil, ErrUnsupported
	}
	delay := opts.RestartDelay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	return &Engine{
		provider: provider,
		sink:     sink,
		cfg:      opts.Config,
		delay:    delay,
		state:    StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Interim returns the latest not-yet-final fragment for display.
func (e *Engine) Interim() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interim
}

// Start begins continuous capture. It is a no-op when already listening or
// while another Start is dialing, so a user Start racing the restart timer
// never opens a second stream. Any stale interim text and pending restart
// are cleared on entry.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateListening || e.starting {
		e.mu.Unlock()
		return nil
	}
	e.starting = true
	e.stopped = false
	e.interim = ""
	e.cancelRestartLocked()
	e.mu.Unlock()

	stream, err := e.provider.Start(ctx, e.cfg)

	e.mu.Lock()
	e.starting = false
	if err != nil {
		e.mu.Unlock()
		recErr := Classify(err)
		e.sink.RecognitionError(recErr)
		return recErr
	}
	if e.stopped {
		// Stop arrived while the dial was in flight; the fresh stream
		// must not outlive it.
		e.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	e.gen++
	gen := e.gen
	e.stream = stream
	e.state = StateListening
	e.mu.Unlock()

	e.sink.StateChanged(StateListening)
	go e.consume(ctx, stream, gen)
	return nil
}

// Stop ends capture. Any pending automatic restart is suppressed.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.cancelRestartLocked()
	stream := e.stream
	e.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
}

// Close is the teardown path: it unconditionally stops any active capture
// so no audio stream is leaked when the owning view goes away.
func (e *Engine) Close() {
	e.Stop()
}

func (e *Engine) consume(ctx context.Context, stream Stream, gen int) {
	for res := range stream.Results() {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		e.mu.Lock()
		if gen != e.gen {
			e.mu.Unlock()
			return
		}
		if res.Final {
			e.interim = ""
		} else {
			e.interim = text
		}
		e.mu.Unlock()

		if res.Final {
			e.sink.FinalText(text)
		} else {
			e.sink.InterimText(text)
		}
	}

	err := stream.Err()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.stream = nil
	e.interim = ""
	stopped := e.stopped

	if err != nil {
		// Errors stop capture for good: the caller must start again.
		e.state = StateError
		e.mu.Unlock()
		recErr := Classify(err)
		slog.Warn("recognition stream failed", "code", recErr.Code, "detail", recErr.Detail)
		e.sink.StateChanged(StateError)
		e.sink.RecognitionError(recErr)

		// The error callback may have started a new capture already; a
		// stale Idle must not overwrite its Listening state.
		e.mu.Lock()
		current := gen == e.gen
		if current {
			e.state = StateIdle
		}
		e.mu.Unlock()
		if current {
			e.sink.StateChanged(StateIdle)
		}
		return
	}

	e.state = StateIdle
	if !stopped {
		// Platform-imposed end of stream: restart after a short delay
		// unless the caller stops in the interim.
		e.restart = time.AfterFunc(e.delay, func() {
			e.mu.Lock()
			suppressed := e.stopped || e.state == StateListening
			e.mu.Unlock()
			if suppressed {
				return
			}
			if err := e.Start(ctx); err != nil {
				slog.Warn("recognition restart failed", "error", err)
			}
		})
	}
	e.mu.Unlock()
	e.sink.StateChanged(StateIdle)
}

func (e *Engine) cancelRestartLocked() {
	if e.restart != nil {
		e.restart.Stop()
		e.restart = nil
	}
}
