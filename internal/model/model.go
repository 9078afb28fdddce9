package model

// Level represents the difficulty the AI student asks at.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Valid reports whether the level is one of the accepted values.
func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// PersonaType identifies a question-asking style.
type PersonaType string

const (
	PersonaCurious    PersonaType = "curious"
	PersonaPractical  PersonaType = "practical"
	PersonaAnalytical PersonaType = "analytical"
	PersonaCustom     PersonaType = "custom"
)

// Persona describes the AI student's character during question generation.
// Attached to a session at generation time and never mutated afterward.
type Persona struct {
	Type        PersonaType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
}

// Material is uploaded source content reduced to text by the backend.
// The client only ever holds the id, the character count, and the title.
type Material struct {
	ID    string `json:"material_id"`
	Chars int    `json:"chars"`
	Title string `json:"title,omitempty"`
}

// Question is one generated question. Order within a session is significant.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"question"`
}

// Feedback is the scored evaluation of a submitted answer. It is produced
// only by the remote scorer and fully replaced on each submission.
type Feedback struct {
	Score       int      `json:"score"`
	Strengths   []string `json:"strengths"`
	Suggestions []string `json:"suggestions"`
	ModelAnswer string   `json:"model_answer"`
}

// Session is one generation batch of questions tied to one material,
// one persona, and one level. The question sequence is immutable once
// generated; only selection, draft, and feedback mutate.
type Session struct {
	ID         string
	MaterialID string
	Level      Level
	Persona    Persona
	Questions  []Question

	// Selected is the currently selected question, nil when none.
	Selected *Question
	// Draft is the in-progress answer text for the session.
	Draft string
	// Feedback for the most recent submission, nil until one succeeds.
	// Cleared whenever the selection changes or a new submission starts.
	Feedback *Feedback
}

// Question returns the session question with the given id, or nil.
func (s *Session) Question(id string) *Question {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i]
		}
	}
	return nil
}

// SessionSummary is one entry in the history/dashboard listing.
type SessionSummary struct {
	SessionID     string     `json:"session_id"`
	MaterialID    string     `json:"material_id"`
	MaterialTitle string     `json:"material_title,omitempty"`
	Level         Level      `json:"level"`
	Questions     []Question `json:"questions"`
}
