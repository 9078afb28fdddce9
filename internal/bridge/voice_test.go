package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/uteach-dev/uteach/internal/i18n"
	"github.com/uteach-dev/uteach/internal/model"
	"github.com/uteach-dev/uteach/internal/session"
	"github.com/uteach-dev/uteach/internal/store"
	"github.com/uteach-dev/uteach/internal/transcribe"
)

type idleProvider struct{}

func (idleProvider) Start(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	return nil, errors.New("not used in this test")
}

func newVoiceFixture(t *testing.T) (*Voice, *session.Controller) {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctrl := session.New(db, &stubGateway{}, "u1")
	if _, err := ctrl.Upload(context.Background(), session.UploadInput{FilePath: "/tmp/notes.pdf"}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := ctrl.Generate(context.Background(), model.LevelBeginner, model.Persona{Type: model.PersonaCurious}, 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := ctrl.Select(""); err != nil {
		t.Fatalf("Select: %v", err)
	}

	v, err := NewVoice(idleProvider{}, ctrl, transcribe.Options{})
	if err != nil {
		t.Fatalf("NewVoice: %v", err)
	}
	return v, ctrl
}

func TestNewVoiceWithoutProvider(t *testing.T) {
	_, err := NewVoice(nil, nil, transcribe.Options{})
	if !errors.Is(err, transcribe.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestVoiceFinalTextFeedsDraft(t *testing.T) {
	v, ctrl := newVoiceFixture(t)

	v.InterimText("the sched")
	if st := v.status(context.Background()); st.Interim != "the sched" {
		t.Errorf("interim = %q", st.Interim)
	}

	v.FinalText("the scheduler multiplexes goroutines")

	if got := ctrl.Snapshot().Draft; got != "the scheduler multiplexes goroutines" {
		t.Errorf("draft = %q, want the finalized fragment", got)
	}
	// Finalizing clears the interim display.
	if st := v.status(context.Background()); st.Interim != "" {
		t.Errorf("interim = %q after final, want empty", st.Interim)
	}
}

func TestVoiceErrorLocalized(t *testing.T) {
	v, _ := newVoiceFixture(t)

	v.RecognitionError(&transcribe.RecognitionError{Code: transcribe.ErrorNoSpeech, Detail: "silence"})

	ctx := i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("en"))
	st := v.status(ctx)
	if st.Error == nil {
		t.Fatalf("status error missing")
	}
	if st.Error.Code != transcribe.ErrorNoSpeech {
		t.Errorf("code = %s, want no_speech", st.Error.Code)
	}
	if st.Error.Message != "No speech was detected. Please try again." {
		t.Errorf("message = %q", st.Error.Message)
	}

	// A successful restart clears the surfaced error.
	v.StateChanged(transcribe.StateListening)
	if st := v.status(ctx); st.Error != nil {
		t.Errorf("error survived a return to listening")
	}
}
