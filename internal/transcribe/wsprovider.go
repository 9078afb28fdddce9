package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// WSConfig controls the websocket recognizer connection.
type WSConfig struct {
	// URL of the recognizer endpoint, ws:// or wss:// (http schemes are
	// rewritten). The recognizer owns the microphone; this client only
	// receives transcript events.
	URL string
}

// WSProvider implements Provider against a streaming recognizer that
// pushes interim and final transcript fragments over a websocket.
type WSProvider struct {
	cfg WSConfig
}

// NewWSProvider returns a provider, or nil when no recognizer endpoint is
// configured — the caller treats nil as capability absence.
func NewWSProvider(cfg WSConfig) *WSProvider {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}
	return &WSProvider{cfg: cfg}
}

func (p *WSProvider) Start(ctx context.Context, cfg StreamConfig) (Stream, error) {
	wsURL, err := recognizerURL(p.cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &RecognitionError{Code: ErrorNetwork, Detail: fmt.Sprintf("connect recognizer: %v", err)}
	}

	start := map[string]any{
		"type":            "start",
		"language":        cfg.Language,
		"interim_results": cfg.InterimResults,
	}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return nil, &RecognitionError{Code: ErrorNetwork, Detail: fmt.Sprintf("start recognizer session: %v", err)}
	}

	s := &wsStream{
		conn:    conn,
		results: make(chan Result, 64),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn

	results chan Result
	done    chan struct{}
	quit    chan struct{}

	errMu   sync.Mutex
	err     error
	stopped bool

	closeOnce sync.Once
}

func (s *wsStream) Results() <-chan Result {
	return s.results
}

func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.stopped = true
		s.errMu.Unlock()
		close(s.quit)
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`))
		_ = s.conn.Close()
	})
	<-s.done
	return s.Err()
}

// setErr records the first failure. Read errors caused by a deliberate
// Close are not failures.
func (s *wsStream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.stopped {
		return
	}
	if s.err == nil {
		s.err = err
	}
}

type recognizerEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (s *wsStream) readLoop() {
	defer func() {
		close(s.results)
		close(s.done)
		_ = s.conn.Close()
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(&RecognitionError{Code: ErrorNetwork, Detail: err.Error()})
			return
		}

		var event recognizerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}

		switch strings.ToLower(event.Type) {
		case "error":
			s.setErr(recognizerError(event))
			return
		case "end":
			// Clean end of stream, e.g. a platform session timeout.
			return
		default:
			text := strings.TrimSpace(event.Transcript)
			if text == "" {
				continue
			}
			select {
			case s.results <- Result{Text: text, Final: event.IsFinal}:
			case <-s.quit:
				return
			}
		}
	}
}

// recognizerError maps the recognizer's error codes onto the fixed
// taxonomy. Unknown codes fall through to ErrorOther.
func recognizerError(event recognizerEvent) *RecognitionError {
	detail := strings.TrimSpace(event.Message)
	if detail == "" {
		detail = "recognizer returned an unknown error"
	}
	code := ErrorOther
	switch strings.ToLower(event.Code) {
	case "no-speech", "no_speech":
		code = ErrorNoSpeech
	case "audio-capture", "audio_capture":
		code = ErrorAudioCapture
	case "not-allowed", "not_allowed", "permission-denied":
		code = ErrorNotAllowed
	case "network":
		code = ErrorNetwork
	}
	return &RecognitionError{Code: code, Detail: detail}
}

func recognizerURL(raw string) (string, error) {
	base := strings.TrimSpace(raw)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid recognizer URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.New("recognizer URL must use ws or wss scheme")
	}
	return u.String(), nil
}
