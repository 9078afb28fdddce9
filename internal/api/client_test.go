package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/uteach-dev/uteach/internal/auth"
	"github.com/uteach-dev/uteach/internal/model"
)

func TestGenerateQuestionsDefaultsCount(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/materials/generate-questions" {
			t.Errorf("path = %s, want /materials/generate-questions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": "sess-1",
			"questions": []map[string]string{
				{"id": "q1", "question": "What is entropy?"},
				{"id": "q2", "question": "Why does it increase?"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	sessionID, questions, err := c.GenerateQuestions(context.Background(), "mat-1",
		model.LevelIntermediate, model.Persona{Type: model.PersonaCurious}, 0)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}

	if got["material_id"] != "mat-1" {
		t.Errorf("material_id = %v, want mat-1", got["material_id"])
	}
	if got["level"] != "intermediate" {
		t.Errorf("level = %v, want intermediate", got["level"])
	}
	if got["persona"] != "curious" {
		t.Errorf("persona = %v, want curious", got["persona"])
	}
	if got["num_questions"] != float64(5) {
		t.Errorf("num_questions = %v, want default 5", got["num_questions"])
	}

	if sessionID != "sess-1" {
		t.Errorf("sessionID = %q, want sess-1", sessionID)
	}
	if len(questions) != 2 || questions[0].Text != "What is entropy?" {
		t.Errorf("questions = %+v", questions)
	}
}

func TestGenerateQuestionsCustomPersonaSendsDescription(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"session_id": "s", "questions": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	persona := model.Persona{Type: model.PersonaCustom, Name: "Mika", Description: "a first-year nursing student"}
	if _, _, err := c.GenerateQuestions(context.Background(), "mat-1", model.LevelBeginner, persona, 3); err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if got["persona"] != "a first-year nursing student" {
		t.Errorf("persona = %v, want the custom description", got["persona"])
	}
}

func TestGenerateQuestionsValidationSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := New(srv.URL, nil)

	_, _, err := c.GenerateQuestions(context.Background(), "", model.LevelBeginner, model.Persona{}, 5)
	if KindOf(err) != KindValidation {
		t.Errorf("empty material id: kind = %q, want validation", KindOf(err))
	}
	_, _, err = c.GenerateQuestions(context.Background(), "mat-1", model.LevelBeginner, model.Persona{}, -1)
	if KindOf(err) != KindValidation {
		t.Errorf("negative count: kind = %q, want validation", KindOf(err))
	}
	if calls != 0 {
		t.Errorf("server saw %d calls, want 0", calls)
	}
}

func TestSubmitAnswerParsesFeedback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["session_id"] != "sess-1" || req["question_id"] != "q1" || req["answer_text"] != "Because heat flows." {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"feedback": map[string]any{
				"score":        82,
				"strengths":    []string{"clear causal chain"},
				"suggestions":  []string{"define the system boundary"},
				"model_answer": "Heat flows from hot to cold because...",
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	fb, err := c.SubmitAnswer(context.Background(), "sess-1", "q1", "Because heat flows.")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if fb.Score != 82 {
		t.Errorf("Score = %d, want 82", fb.Score)
	}
	if len(fb.Strengths) != 1 || len(fb.Suggestions) != 1 {
		t.Errorf("feedback lists = %+v", fb)
	}
	if fb.ModelAnswer == "" {
		t.Errorf("ModelAnswer missing")
	}
}

func TestUploadPDFSendsMultipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatalf("write temp pdf: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/pdf" {
			t.Errorf("path = %s, want /upload/pdf", r.URL.Path)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		if header.Filename != "notes.pdf" {
			t.Errorf("filename = %q, want notes.pdf", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]any{"material_id": "mat-1", "chars": 1234})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	mat, err := c.UploadPDF(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadPDF: %v", err)
	}
	if mat.ID != "mat-1" || mat.Chars != 1234 {
		t.Errorf("material = %+v", mat)
	}
	if mat.Title != "notes.pdf" {
		t.Errorf("Title = %q, want notes.pdf", mat.Title)
	}
}

func TestUploadURLRejectsInvalidURL(t *testing.T) {
	c := New("http://unused.invalid", nil)
	_, err := c.UploadURL(context.Background(), "not a url", "")
	if KindOf(err) != KindValidation {
		t.Errorf("kind = %q, want validation", KindOf(err))
	}
}

func TestRateLimitedSurfacesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Rate limit exceeded. Try again in 60 seconds."})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.History(context.Background())
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %q, want rate_limited", KindOf(err))
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is not *Error: %v", err)
	}
	if apiErr.Message != "Rate limit exceeded. Try again in 60 seconds." {
		t.Errorf("Message = %q, want the detail string verbatim", apiErr.Message)
	}
}

func TestServerErrorDetailVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "material_id not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, _, err := c.GenerateQuestions(context.Background(), "mat-x", model.LevelBeginner, model.Persona{}, 5)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is not *Error: %v", err)
	}
	if apiErr.Kind != KindServer || apiErr.HTTPStatus != http.StatusBadRequest {
		t.Errorf("got %+v, want server error with status 400", apiErr)
	}
	if apiErr.Message != "material_id not found" {
		t.Errorf("Message = %q, want detail verbatim", apiErr.Message)
	}
}

func TestTransportErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := New(srv.URL, nil)
	_, err := c.History(context.Background())
	if KindOf(err) != KindTransport {
		t.Errorf("kind = %q, want transport", KindOf(err))
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"sessions": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, auth.StaticSource("tok-123"))
	if _, err := c.History(context.Background()); err != nil {
		t.Fatalf("History: %v", err)
	}
	if authz != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want 'Bearer tok-123'", authz)
	}
}

type failingSource struct{}

func (failingSource) Token(context.Context) (string, error) {
	return "", errors.New("keychain locked")
}

func TestTokenFailureProceedsUnauthenticated(t *testing.T) {
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"sessions": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, failingSource{})
	if _, err := c.History(context.Background()); err != nil {
		t.Fatalf("History should succeed without a token: %v", err)
	}
	if authz != "" {
		t.Errorf("Authorization = %q, want empty", authz)
	}
}

func TestDeleteSessionEscapesID(t *testing.T) {
	var escaped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		escaped = r.URL.EscapedPath()
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	if err := c.DeleteSession(context.Background(), "a/b c"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if escaped != "/sessions/a%2Fb%20c" {
		t.Errorf("path = %q, want /sessions/a%%2Fb%%20c", escaped)
	}

	if err := c.DeleteSession(context.Background(), ""); KindOf(err) != KindValidation {
		t.Errorf("empty id: kind = %q, want validation", KindOf(err))
	}
}
