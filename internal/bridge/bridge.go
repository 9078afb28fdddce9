package bridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uteach-dev/uteach/internal/api"
	"github.com/uteach-dev/uteach/internal/i18n"
	"github.com/uteach-dev/uteach/internal/model"
	"github.com/uteach-dev/uteach/internal/session"
)

// Handler exposes the session controller and voice input over a local
// JSON API for the UI process.
type Handler struct {
	ctrl  *session.Controller
	voice *Voice
}

// New creates a new Handler. voice may be nil when no recognizer is
// configured; the voice endpoints then report the capability as absent.
func New(ctrl *session.Controller, voice *Voice) *Handler {
	return &Handler{ctrl: ctrl, voice: voice}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Post("/upload", h.handleUpload)
	r.Post("/generate", h.handleGenerate)
	r.Post("/sessions/{sessionID}/resume", h.handleResume)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Post("/select", h.handleSelect)
	r.Put("/draft", h.handleDraft)
	r.Post("/draft/append", h.handleDraftAppend)
	r.Post("/submit", h.handleSubmit)
	r.Get("/history", h.handleHistory)
	r.Delete("/history", h.handleClearHistory)
	r.Post("/signout", h.handleSignOut)
	r.Get("/voice/state", h.handleVoiceState)
	r.Post("/voice/start", h.handleVoiceStart)
	r.Post("/voice/stop", h.handleVoiceStop)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath string `json:"file_path"`
		URL      string `json:"url"`
		Title    string `json:"title"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	mat, err := h.ctrl.Upload(r.Context(), session.UploadInput{
		FilePath: req.FilePath,
		URL:      req.URL,
		Title:    req.Title,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		model.Material
		Message string `json:"message"`
	}{
		Material: mat,
		Message: i18n.Td(r.Context(), "MaterialUploaded", map[string]any{
			"Title": mat.Title,
			"Chars": mat.Chars,
		}),
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level   model.Level   `json:"level"`
		Persona model.Persona `json:"persona"`
		Count   int           `json:"num_questions"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.ctrl.Generate(r.Context(), req.Level, req.Persona, req.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		SessionID string           `json:"session_id"`
		Questions []model.Question `json:"questions"`
		Message   string           `json:"message"`
	}{
		SessionID: sess.ID,
		Questions: sess.Questions,
		Message:   i18n.Tp(r.Context(), "QuestionsReady", len(sess.Questions)),
	})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ctrl.Resume(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, "SessionDeleted")
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestionID string `json:"question_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.Select(req.QuestionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.SetDraft(req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDraftAppend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.AppendTranscript(req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	fb, err := h.ctrl.Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Feedback *model.Feedback `json:"feedback"`
	}{Feedback: fb})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.ctrl.History(r.Context())
	if err != nil {
		// The merged local view is still worth showing offline.
		if len(summaries) > 0 && api.KindOf(err) == api.KindTransport {
			slog.Warn("history fetch degraded to local cache", "error", err)
			writeJSON(w, http.StatusOK, struct {
				Sessions []model.SessionSummary `json:"sessions"`
				Offline  bool                   `json:"offline"`
			}{Sessions: summaries, Offline: true})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions []model.SessionSummary `json:"sessions"`
	}{Sessions: summaries})
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.ClearHistory(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, "HistoryCleared")
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if h.voice != nil {
		h.voice.Stop()
	}
	if err := h.ctrl.SignOut(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, msgID string) {
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{Message: i18n.T(r.Context(), msgID)})
}

// writeError maps controller and backend errors onto HTTP statuses. User
// guidance is localized; backend detail strings pass through verbatim.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSubmitInFlight):
		writeJSON(w, http.StatusConflict, errorBody{Error: i18n.T(r.Context(), "SubmitInFlight")})
	case errors.Is(err, session.ErrBlankAnswer):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: i18n.T(r.Context(), "AnswerBlank")})
	case errors.Is(err, session.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrMaterialSource),
		errors.Is(err, session.ErrInvalidLevel),
		errors.Is(err, session.ErrNoMaterial),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrUnknownQuestion),
		errors.Is(err, session.ErrNoQuestionSelected):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrStaleResponse):
		w.WriteHeader(http.StatusNoContent)
	default:
		writeAPIError(w, r, err)
	}
}

func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case api.KindRateLimited:
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: i18n.T(r.Context(), "RateLimited")})
		case api.KindValidation:
			writeJSON(w, http.StatusBadRequest, errorBody{Error: apiErr.Message})
		case api.KindTransport:
			writeJSON(w, http.StatusBadGateway, errorBody{Error: apiErr.Message})
		default:
			status := apiErr.HTTPStatus
			if status == 0 {
				status = http.StatusBadGateway
			}
			writeJSON(w, status, errorBody{Error: apiErr.Message})
		}
		return
	}
	slog.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}
