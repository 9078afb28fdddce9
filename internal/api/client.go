package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uteach-dev/uteach/internal/auth"
	"github.com/uteach-dev/uteach/internal/model"
)

// Client is the API gateway client: the single place that attaches bearer
// credentials, normalizes errors, and exposes the typed backend operations.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
}

// New creates a gateway client. tokens may be nil for fully
// unauthenticated use.
func New(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		tokens:  tokens,
	}
}

// UploadPDF uploads a PDF file as new material.
func (c *Client) UploadPDF(ctx context.Context, path string) (model.Material, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Material{}, validationErr("open file: %v", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return model.Material{}, fmt.Errorf("create multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return model.Material{}, fmt.Errorf("read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return model.Material{}, fmt.Errorf("finish multipart form: %w", err)
	}

	var resp struct {
		MaterialID string `json:"material_id"`
		Chars      int    `json:"chars"`
	}
	if err := c.do(ctx, http.MethodPost, "/upload/pdf", mw.FormDataContentType(), &body, &resp); err != nil {
		return model.Material{}, err
	}
	return model.Material{ID: resp.MaterialID, Chars: resp.Chars, Title: filepath.Base(path)}, nil
}

// UploadURL registers a web page as new material. An empty title defaults
// to the URL on the server side.
func (c *Client) UploadURL(ctx context.Context, pageURL, title string) (model.Material, error) {
	if _, err := url.ParseRequestURI(pageURL); err != nil {
		return model.Material{}, validationErr("invalid url: %v", err)
	}
	req := struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
	}{URL: pageURL, Title: title}

	var resp struct {
		MaterialID string `json:"material_id"`
		Chars      int    `json:"chars"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/upload/url", req, &resp); err != nil {
		return model.Material{}, err
	}
	if title == "" {
		title = pageURL
	}
	return model.Material{ID: resp.MaterialID, Chars: resp.Chars, Title: title}, nil
}

// GenerateQuestions asks the backend for a new question batch. count must
// be positive; the server rejects out-of-range values. A zero count
// defaults to 5.
func (c *Client) GenerateQuestions(ctx context.Context, materialID string, level model.Level, persona model.Persona, count int) (string, []model.Question, error) {
	if materialID == "" {
		return "", nil, validationErr("material id is required")
	}
	if count == 0 {
		count = 5
	}
	if count < 0 {
		return "", nil, validationErr("question count must be positive, got %d", count)
	}

	personaValue := string(persona.Type)
	if persona.Type == model.PersonaCustom && persona.Description != "" {
		personaValue = persona.Description
	}
	req := struct {
		MaterialID   string `json:"material_id"`
		Level        string `json:"level"`
		Persona      string `json:"persona"`
		NumQuestions int    `json:"num_questions"`
	}{MaterialID: materialID, Level: string(level), Persona: personaValue, NumQuestions: count}

	var resp struct {
		SessionID string           `json:"session_id"`
		Questions []model.Question `json:"questions"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/materials/generate-questions", req, &resp); err != nil {
		return "", nil, err
	}
	return resp.SessionID, resp.Questions, nil
}

// SubmitAnswer sends an answer for scoring and returns the feedback.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID, questionID, answerText string) (model.Feedback, error) {
	req := struct {
		SessionID  string `json:"session_id"`
		QuestionID string `json:"question_id"`
		AnswerText string `json:"answer_text"`
	}{SessionID: sessionID, QuestionID: questionID, AnswerText: answerText}

	var resp struct {
		Feedback model.Feedback `json:"feedback"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/sessions/answer", req, &resp); err != nil {
		return model.Feedback{}, err
	}
	return resp.Feedback, nil
}

// History fetches the server-side session listing, newest first.
func (c *Client) History(ctx context.Context) ([]model.SessionSummary, error) {
	var resp struct {
		Sessions []model.SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/history", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// DeleteSession removes one session on the server.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return validationErr("session id is required")
	}
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), "", nil, nil)
}

// ClearHistory removes all of the caller's sessions on the server.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/history", "", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(data), respBody)
}

// do issues one request. A retrievable token is attached as a bearer
// credential; token retrieval failure does not block the call — the request
// proceeds unauthenticated and the server decides whether that is
// acceptable.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, respBody any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			slog.Warn("token retrieval failed, proceeding unauthenticated", "error", err)
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return normalizeHTTPError(resp)
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return &Error{Kind: KindServer, Message: "malformed response body: " + err.Error(), HTTPStatus: resp.StatusCode}
	}
	return nil
}

// normalizeHTTPError maps a non-2xx response into the shared error shape.
// The backend sends FastAPI-style {"detail": "..."} bodies; detail is
// surfaced verbatim when present.
func normalizeHTTPError(resp *http.Response) *Error {
	kind := KindServer
	if resp.StatusCode == http.StatusTooManyRequests {
		kind = KindRateLimited
	}

	message := resp.Status
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(data) > 0 {
		var body struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &body) == nil && body.Detail != "" {
			message = body.Detail
		}
	}
	return &Error{Kind: kind, Message: message, HTTPStatus: resp.StatusCode}
}
