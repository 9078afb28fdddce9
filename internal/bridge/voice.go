package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/uteach-dev/uteach/internal/i18n"
	"github.com/uteach-dev/uteach/internal/session"
	"github.com/uteach-dev/uteach/internal/transcribe"
)

// Voice owns the speech engine and feeds finalized transcripts into the
// session controller. Interim text is held for display only and never
// touches the draft.
type Voice struct {
	ctrl   *session.Controller
	engine *transcribe.Engine

	mu      sync.Mutex
	state   transcribe.State
	interim string
	lastErr *transcribe.RecognitionError
}

// NewVoice wires a recognizer provider to the controller. A nil provider
// means the capability is absent; transcribe.ErrUnsupported is returned.
func NewVoice(provider transcribe.Provider, ctrl *session.Controller, opts transcribe.Options) (*Voice, error) {
	v := &Voice{ctrl: ctrl, state: transcribe.StateIdle}
	engine, err := transcribe.NewEngine(provider, v, opts)
	if err != nil {
		return nil, err
	}
	v.engine = engine
	return v, nil
}

// Start begins listening.
func (v *Voice) Start(ctx context.Context) error {
	v.mu.Lock()
	v.lastErr = nil
	v.mu.Unlock()
	return v.engine.Start(ctx)
}

// Stop ends listening. Already-finalized text stays in the draft.
func (v *Voice) Stop() {
	v.engine.Stop()
}

// FinalText implements transcribe.Sink.
func (v *Voice) FinalText(text string) {
	v.mu.Lock()
	v.interim = ""
	v.mu.Unlock()
	if err := v.ctrl.AppendTranscript(text); err != nil {
		slog.Warn("dropping transcript fragment", "error", err)
	}
}

// InterimText implements transcribe.Sink.
func (v *Voice) InterimText(text string) {
	v.mu.Lock()
	v.interim = text
	v.mu.Unlock()
}

// StateChanged implements transcribe.Sink.
func (v *Voice) StateChanged(state transcribe.State) {
	v.mu.Lock()
	v.state = state
	if state == transcribe.StateListening {
		v.lastErr = nil
	}
	v.mu.Unlock()
}

// RecognitionError implements transcribe.Sink.
func (v *Voice) RecognitionError(recErr *transcribe.RecognitionError) {
	v.mu.Lock()
	v.lastErr = recErr
	v.mu.Unlock()
	slog.Warn("recognition error", "code", recErr.Code, "detail", recErr.Detail)
}

type voiceStatus struct {
	Supported bool             `json:"supported"`
	State     transcribe.State `json:"state"`
	Interim   string           `json:"interim,omitempty"`
	Error     *voiceError      `json:"error,omitempty"`
}

type voiceError struct {
	Code    transcribe.ErrorCode `json:"code"`
	Message string               `json:"message"`
}

func (v *Voice) status(ctx context.Context) voiceStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := voiceStatus{Supported: true, State: v.state, Interim: v.interim}
	if v.lastErr != nil {
		st.Error = &voiceError{
			Code:    v.lastErr.Code,
			Message: i18n.T(ctx, recognitionMsgID(v.lastErr.Code)),
		}
	}
	return st
}

func recognitionMsgID(code transcribe.ErrorCode) string {
	switch code {
	case transcribe.ErrorNoSpeech:
		return "RecognitionNoSpeech"
	case transcribe.ErrorAudioCapture:
		return "RecognitionAudioCapture"
	case transcribe.ErrorNotAllowed:
		return "RecognitionNotAllowed"
	case transcribe.ErrorNetwork:
		return "RecognitionNetwork"
	default:
		return "RecognitionOther"
	}
}

func (h *Handler) handleVoiceState(w http.ResponseWriter, r *http.Request) {
	if h.voice == nil {
		writeJSON(w, http.StatusOK, voiceStatus{Supported: false, State: transcribe.StateIdle})
		return
	}
	writeJSON(w, http.StatusOK, h.voice.status(r.Context()))
}

func (h *Handler) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if h.voice == nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: i18n.T(r.Context(), "VoiceUnsupported")})
		return
	}
	// The stream outlives this request; do not tie it to the request context.
	if err := h.voice.Start(context.WithoutCancel(r.Context())); err != nil {
		var recErr *transcribe.RecognitionError
		if errors.As(err, &recErr) {
			writeJSON(w, http.StatusBadGateway, errorBody{Error: i18n.T(r.Context(), recognitionMsgID(recErr.Code))})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.voice.status(r.Context()))
}

func (h *Handler) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	if h.voice == nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: i18n.T(r.Context(), "VoiceUnsupported")})
		return
	}
	h.voice.Stop()
	writeJSON(w, http.StatusOK, h.voice.status(r.Context()))
}
