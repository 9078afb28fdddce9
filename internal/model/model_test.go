package model

import "testing"

func TestLevelValid(t *testing.T) {
	valid := []Level{LevelBeginner, LevelIntermediate, LevelAdvanced}
	for _, l := range valid {
		if !l.Valid() {
			t.Errorf("Valid(%s) = false", l)
		}
	}
	for _, l := range []Level{"", "expert", "BEGINNER"} {
		if l.Valid() {
			t.Errorf("Valid(%q) = true", l)
		}
	}
}

func TestSessionQuestionLookup(t *testing.T) {
	s := &Session{Questions: []Question{{ID: "q1", Text: "a"}, {ID: "q2", Text: "b"}}}

	if q := s.Question("q2"); q == nil || q.Text != "b" {
		t.Errorf("Question(q2) = %+v", q)
	}
	if q := s.Question("q9"); q != nil {
		t.Errorf("Question(q9) = %+v, want nil", q)
	}

	// The returned pointer aliases the session's own slice entry.
	s.Question("q1").Text = "changed"
	if s.Questions[0].Text != "changed" {
		t.Errorf("lookup returned a copy")
	}
}
