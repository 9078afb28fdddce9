package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/uteach-dev/uteach/internal/model"
)

// State models the learning-session lifecycle.
type State string

const (
	StateEmpty              State = "empty"
	StateMaterialUploaded   State = "material_uploaded"
	StateQuestionsGenerated State = "questions_generated"
	StateQuestionSelected   State = "question_selected"
	StateAnswerDrafted      State = "answer_drafted"
	StateSubmitting         State = "submitting"
	StateFeedbackShown      State = "feedback_shown"
)

// Local validation failures. None of these ever reach the network.
var (
	ErrMaterialSource     = errors.New("exactly one of file or url must be supplied")
	ErrInvalidLevel       = errors.New("invalid level")
	ErrNoMaterial         = errors.New("no material uploaded")
	ErrNoSession          = errors.New("no active session")
	ErrSessionNotFound    = errors.New("session not found")
	ErrUnknownQuestion    = errors.New("question does not belong to this session")
	ErrNoQuestionSelected = errors.New("no question selected")
	ErrBlankAnswer        = errors.New("answer is blank")
	ErrSubmitInFlight     = errors.New("a submission is already in flight")
	// ErrStaleResponse marks a submission that resolved after its session
	// was abandoned; the feedback was discarded.
	ErrStaleResponse = errors.New("submission resolved for an abandoned session")
)

// Store is the durability mechanism the controller writes through. It has
// no business logic of its own; see the store package.
type Store interface {
	SaveQuestions(userID, sessionID string, questions []model.Question) error
	Questions(userID, sessionID string) ([]model.Question, error)
	SaveSelected(userID, sessionID, questionID string) error
	Selected(userID, sessionID string) (string, error)
	SaveDraft(userID, sessionID, text string) error
	Draft(userID, sessionID string) (string, error)
	SavePersona(userID, sessionID string, p model.Persona) error
	Persona(userID, sessionID string) (model.Persona, error)
	PutSummary(userID string, sum model.SessionSummary) error
	Summaries(userID string) ([]model.SessionSummary, error)
	Clear(userID, sessionID string) error
	ClearAll(userID string) error
}

// Gateway is the backend contract the controller consumes.
type Gateway interface {
	UploadPDF(ctx context.Context, path string) (model.Material, error)
	UploadURL(ctx context.Context, pageURL, title string) (model.Material, error)
	GenerateQuestions(ctx context.Context, materialID string, level model.Level, persona model.Persona, count int) (string, []model.Question, error)
	SubmitAnswer(ctx context.Context, sessionID, questionID, answerText string) (model.Feedback, error)
	History(ctx context.Context) ([]model.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ClearHistory(ctx context.Context) error
}

// Controller orchestrates Upload → Generate → Teach → Feedback. It is the
// sole writer of session state; the store is durability, the gateway is
// the backend. Safe for concurrent use: draft writes from typing and voice
// input are serialized in arrival order.
type Controller struct {
	store  Store
	gw     Gateway
	userID string

	mu       sync.Mutex
	state    State
	material *model.Material
	sess     *model.Session
	busy     bool
	// submitGen advances whenever the active session is replaced or
	// abandoned; a completing submission compares its issue-time value
	// and discards itself when the world has moved on.
	submitGen int
}

func New(store Store, gw Gateway, userID string) *Controller {
	return &Controller{
		store:  store,
		gw:     gw,
		userID: userID,
		state:  StateEmpty,
	}
}

// UploadInput carries the material source. Exactly one of FilePath and URL
// must be set.
type UploadInput struct {
	FilePath string
	URL      string
	Title    string
}

// Upload registers new material. Supplying neither or both sources is a
// local validation failure and is never sent to the server.
func (c *Controller) Upload(ctx context.Context, in UploadInput) (model.Material, error) {
	hasFile := in.FilePath != ""
	hasURL := in.URL != ""
	if hasFile == hasURL {
		return model.Material{}, ErrMaterialSource
	}

	var (
		mat model.Material
		err error
	)
	if hasFile {
		mat, err = c.gw.UploadPDF(ctx, in.FilePath)
	} else {
		mat, err = c.gw.UploadURL(ctx, in.URL, in.Title)
	}
	if err != nil {
		return model.Material{}, err
	}

	c.mu.Lock()
	c.material = &mat
	c.sess = nil
	c.state = StateMaterialUploaded
	c.mu.Unlock()

	slog.Info("material uploaded", "material_id", mat.ID, "chars", mat.Chars)
	return mat, nil
}

// Generate requests a new question batch for the uploaded material. Each
// call yields a new session id; sessions are never regenerated in place.
func (c *Controller) Generate(ctx context.Context, level model.Level, persona model.Persona, count int) (*model.Session, error) {
	c.mu.Lock()
	if c.material == nil {
		c.mu.Unlock()
		return nil, ErrNoMaterial
	}
	mat := *c.material
	c.mu.Unlock()

	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}

	sessionID, questions, err := c.gw.GenerateQuestions(ctx, mat.ID, level, persona, count)
	if err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:         sessionID,
		MaterialID: mat.ID,
		Level:      level,
		Persona:    persona,
		Questions:  questions,
	}

	if err := c.store.SaveQuestions(c.userID, sessionID, questions); err != nil {
		return nil, err
	}
	if err := c.store.SavePersona(c.userID, sessionID, persona); err != nil {
		return nil, err
	}
	if err := c.store.PutSummary(c.userID, model.SessionSummary{
		SessionID:     sessionID,
		MaterialID:    mat.ID,
		MaterialTitle: mat.Title,
		Level:         level,
		Questions:     questions,
	}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sess = sess
	c.busy = false
	c.submitGen++
	c.state = StateQuestionsGenerated
	snapshot := cloneSession(sess)
	c.mu.Unlock()

	slog.Info("questions generated", "session_id", sessionID, "count", len(questions))
	return snapshot, nil
}

// Resume restores a persisted session, e.g. after a reload. The draft is
// restored exactly as last saved; feedback is never restored — it must be
// earned again by resubmitting.
func (c *Controller) Resume(sessionID string) (*model.Session, error) {
	questions, err := c.store.Questions(c.userID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrSessionNotFound
	}

	persona, err := c.store.Persona(c.userID, sessionID)
	if err != nil {
		return nil, err
	}
	draft, err := c.store.Draft(c.userID, sessionID)
	if err != nil {
		return nil, err
	}
	selectedID, err := c.store.Selected(c.userID, sessionID)
	if err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:        sessionID,
		Persona:   persona,
		Questions: questions,
		Draft:     draft,
	}
	if sum := c.summaryFor(sessionID); sum != nil {
		sess.MaterialID = sum.MaterialID
		sess.Level = sum.Level
	}

	// The persisted selection must still name one of the session's own
	// questions; anything else falls back to the first question, and the
	// corrected default is written back so the foreign id does not stay
	// in the store.
	sess.Selected = sess.Question(selectedID)
	if sess.Selected == nil {
		sess.Selected = &sess.Questions[0]
		if err := c.store.SaveSelected(c.userID, sessionID, sess.Selected.ID); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.sess = sess
	c.busy = false
	c.submitGen++
	c.state = draftState(sess)
	snapshot := cloneSession(sess)
	c.mu.Unlock()
	return snapshot, nil
}

// Select makes a question current. An empty id selects the first question.
// Any shown feedback is cleared; the new question must be submitted on its
// own before feedback appears again.
func (c *Controller) Select(questionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return ErrNoSession
	}
	if questionID == "" {
		if len(c.sess.Questions) == 0 {
			return ErrUnknownQuestion
		}
		questionID = c.sess.Questions[0].ID
	}
	q := c.sess.Question(questionID)
	if q == nil {
		return ErrUnknownQuestion
	}

	if c.sess.Selected == nil || c.sess.Selected.ID != q.ID {
		c.sess.Feedback = nil
	}
	c.sess.Selected = q
	c.state = draftState(c.sess)
	return c.store.SaveSelected(c.userID, c.sess.ID, q.ID)
}

// SetDraft replaces the draft answer and persists it immediately, so a
// reload mid-draft restores exactly the last-typed text. The draft and
// feedback are independent: editing never clears feedback.
func (c *Controller) SetDraft(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setDraftLocked(text)
}

// AppendTranscript appends a finalized voice fragment to the draft. Calls
// interleaved with SetDraft apply in arrival order; last writer wins.
func (c *Controller) AppendTranscript(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ErrNoSession
	}
	draft := c.sess.Draft
	if draft != "" && !strings.HasSuffix(draft, " ") {
		draft += " "
	}
	return c.setDraftLocked(draft + text)
}

func (c *Controller) setDraftLocked(text string) error {
	if c.sess == nil {
		return ErrNoSession
	}
	c.sess.Draft = text
	if c.state != StateSubmitting && c.state != StateFeedbackShown {
		c.state = draftState(c.sess)
	}
	return c.store.SaveDraft(c.userID, c.sess.ID, text)
}

// CanSubmit reports whether a submission is currently allowed: an active
// session, a selected question, a non-blank answer, and no submission
// already in flight.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked() == nil
}

func (c *Controller) canSubmitLocked() error {
	switch {
	case c.busy:
		return ErrSubmitInFlight
	case c.sess == nil:
		return ErrNoSession
	case c.sess.Selected == nil:
		return ErrNoQuestionSelected
	case strings.TrimSpace(c.sess.Draft) == "":
		return ErrBlankAnswer
	}
	return nil
}

// Submit sends the draft answer for scoring. Previous feedback is cleared
// before the request is dispatched so a stale score is never shown against
// a pending answer. At most one submission per session is in flight; a
// second attempt is rejected locally. A response arriving after the
// session was abandoned is discarded and reported as ErrStaleResponse.
func (c *Controller) Submit(ctx context.Context) (*model.Feedback, error) {
	c.mu.Lock()
	if err := c.canSubmitLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.busy = true
	c.sess.Feedback = nil
	c.state = StateSubmitting
	gen := c.submitGen
	sessionID := c.sess.ID
	questionID := c.sess.Selected.ID
	answer := c.sess.Draft
	c.mu.Unlock()

	fb, err := c.gw.SubmitAnswer(ctx, sessionID, questionID, answer)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.submitGen || c.sess == nil || c.sess.ID != sessionID {
		// The view moved on while the call was in flight; whatever came
		// back must not leak into another session's state, and must not
		// release a newer submission's in-flight lock.
		slog.Debug("discarding stale submission result", "session_id", sessionID)
		return nil, ErrStaleResponse
	}
	c.busy = false

	if err != nil {
		// The draft survives; the user stays where they were and may retry.
		c.state = draftState(c.sess)
		return nil, err
	}

	c.sess.Feedback = &fb
	c.state = StateFeedbackShown
	return &fb, nil
}

// History merges the remote listing with locally cached summaries:
// de-duplicated by session id, remote entries authoritative on conflict,
// local-only entries kept as a bridge until the remote copy appears. When
// the remote fetch fails the local cache is returned alongside the error.
func (c *Controller) History(ctx context.Context) ([]model.SessionSummary, error) {
	local, err := c.store.Summaries(c.userID)
	if err != nil {
		return nil, err
	}

	remote, remoteErr := c.gw.History(ctx)
	if remoteErr != nil {
		return local, remoteErr
	}

	merged := make([]model.SessionSummary, 0, len(remote)+len(local))
	seen := make(map[string]bool, len(remote))
	for _, sum := range remote {
		merged = append(merged, sum)
		seen[sum.SessionID] = true
	}
	for _, sum := range local {
		if !seen[sum.SessionID] {
			merged = append(merged, sum)
		}
	}
	return merged, nil
}

// DeleteSession removes one session remotely and locally. Deleting the
// active session abandons it.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.gw.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if err := c.store.Clear(c.userID, sessionID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && c.sess.ID == sessionID {
		c.abandonLocked()
	}
	return nil
}

// ClearHistory removes every session remotely and locally.
func (c *Controller) ClearHistory(ctx context.Context) error {
	if err := c.gw.ClearHistory(ctx); err != nil {
		return err
	}
	if err := c.store.ClearAll(c.userID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
	return nil
}

// SignOut wipes the user's local namespace and resets the controller.
// Nothing is sent to the server.
func (c *Controller) SignOut() error {
	if err := c.store.ClearAll(c.userID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.material = nil
	c.abandonLocked()
	c.state = StateEmpty
	return nil
}

// Snapshot is a consistent read-only view of the controller for display.
type Snapshot struct {
	State     State            `json:"state"`
	Busy      bool             `json:"busy"`
	CanSubmit bool             `json:"can_submit"`
	Material  *model.Material  `json:"material,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Level     model.Level      `json:"level,omitempty"`
	Persona   *model.Persona   `json:"persona,omitempty"`
	Questions []model.Question `json:"questions,omitempty"`
	Selected  *model.Question  `json:"selected,omitempty"`
	Draft     string           `json:"draft"`
	Feedback  *model.Feedback  `json:"feedback,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:     c.state,
		Busy:      c.busy,
		CanSubmit: c.canSubmitLocked() == nil,
	}
	if c.material != nil {
		mat := *c.material
		snap.Material = &mat
	}
	if c.sess != nil {
		sess := cloneSession(c.sess)
		snap.SessionID = sess.ID
		snap.Level = sess.Level
		snap.Persona = &sess.Persona
		snap.Questions = sess.Questions
		snap.Selected = sess.Selected
		snap.Draft = sess.Draft
		snap.Feedback = sess.Feedback
	}
	return snap
}

func (c *Controller) abandonLocked() {
	c.sess = nil
	c.busy = false
	c.submitGen++
	if c.material != nil {
		c.state = StateMaterialUploaded
	} else {
		c.state = StateEmpty
	}
}

func (c *Controller) summaryFor(sessionID string) *model.SessionSummary {
	summaries, err := c.store.Summaries(c.userID)
	if err != nil {
		return nil
	}
	for i := range summaries {
		if summaries[i].SessionID == sessionID {
			return &summaries[i]
		}
	}
	return nil
}

// draftState maps a session's selection and draft onto the teach-loop
// states.
func draftState(sess *model.Session) State {
	switch {
	case sess.Selected == nil:
		return StateQuestionsGenerated
	case strings.TrimSpace(sess.Draft) == "":
		return StateQuestionSelected
	default:
		return StateAnswerDrafted
	}
}

func cloneSession(sess *model.Session) *model.Session {
	out := &model.Session{
		ID:         sess.ID,
		MaterialID: sess.MaterialID,
		Level:      sess.Level,
		Persona:    sess.Persona,
		Questions:  append([]model.Question(nil), sess.Questions...),
		Draft:      sess.Draft,
	}
	if sess.Selected != nil {
		q := *sess.Selected
		out.Selected = &q
	}
	if sess.Feedback != nil {
		fb := *sess.Feedback
		out.Feedback = &fb
	}
	return out
}
