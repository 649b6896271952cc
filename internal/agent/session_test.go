package agent

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sadiq-Teslim/kula-website/internal/capability"
	"github.com/Sadiq-Teslim/kula-website/internal/conversation"
	"github.com/Sadiq-Teslim/kula-website/internal/speech"
	"github.com/Sadiq-Teslim/kula-website/internal/vision"
	"github.com/rs/zerolog"
)

type fakeTransport struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeTransport) Interact(ctx context.Context, message string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, message)
	entered, gate := f.entered, f.gate
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func (f *fakeTransport) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeModel struct {
	preds []vision.Prediction
	err   error
}

func (m fakeModel) Predict(ctx context.Context, img image.Image) ([]vision.Prediction, error) {
	return m.preds, m.err
}

type fakeRecognizer struct {
	mu    sync.Mutex
	ev    speech.Events
	ctx   context.Context
	stops int
}

func (f *fakeRecognizer) Start(ctx context.Context, lang string, ev speech.Events) error {
	f.mu.Lock()
	f.ev = ev
	f.ctx = ctx
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeRecognizer) events() speech.Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ev
}

func blankDecode([]byte) (image.Image, string, error) {
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), "png", nil
}

func readyClassifier(t *testing.T, m vision.Model) *vision.Classifier {
	t.Helper()
	c := vision.NewClassifier(vision.LoaderFunc(func(ctx context.Context) (vision.Model, error) { return m, nil }), zerolog.Nop())
	if _, err := c.Load(context.Background()).Await(context.Background()); err != nil {
		t.Fatalf("load model: %v", err)
	}
	return c
}

func newSession(t *testing.T, tr Transport, v Vision, rec speech.Recognizer, opts ...Option) *Session {
	t.Helper()
	s := New(Deps{Transport: tr, Vision: v, Recognizer: rec, Decode: blankDecode, Log: zerolog.Nop()}, opts...)
	s.Bind(context.Background())
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func speakers(turns []conversation.Turn) string {
	var b strings.Builder
	for i, tu := range turns {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(string(tu.Speaker))
	}
	return b.String()
}

func TestSession_TextExchange(t *testing.T) {
	tr := &fakeTransport{reply: "I am well, Mama."}
	s := newSession(t, tr, readyClassifier(t, fakeModel{}), nil)

	if err := s.SetText("How are you?"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %s", speakers(snap.Turns))
	}
	if snap.Turns[0].Speaker != conversation.SpeakerUser || snap.Turns[0].Text != "How are you?" {
		t.Fatalf("unexpected user turn %+v", snap.Turns[0])
	}
	if snap.Turns[1].Speaker != conversation.SpeakerAssistant || snap.Turns[1].Text != "I am well, Mama." {
		t.Fatalf("unexpected assistant turn %+v", snap.Turns[1])
	}
	if snap.Awaiting || snap.Text != "" || snap.State != StateIdle {
		t.Fatalf("expected settled idle session, got %+v", snap)
	}
	if got := tr.calls(); len(got) != 1 || got[0] != "How are you?" {
		t.Fatalf("unexpected prompts %v", got)
	}
}

func TestSession_BlankSubmissionRejected(t *testing.T) {
	tr := &fakeTransport{reply: "unused"}
	s := newSession(t, tr, readyClassifier(t, fakeModel{}), nil)
	_ = s.SetText("   \n\t")
	err := s.Submit(context.Background())
	if !errors.Is(err, ErrInputRejected) {
		t.Fatalf("expected ErrInputRejected, got %v", err)
	}
	if n := len(s.Snapshot().Turns); n != 0 {
		t.Fatalf("store mutated: %d turns", n)
	}
	if len(tr.calls()) != 0 {
		t.Fatalf("transport must not be called")
	}
}

func TestSession_PhotoOnlySubmission(t *testing.T) {
	tr := &fakeTransport{reply: "Keep her cool and hydrated."}
	model := fakeModel{preds: []vision.Prediction{{Label: "Healthy", Confidence: 0.2}, {Label: "Fever", Confidence: 0.8}}}
	s := newSession(t, tr, readyClassifier(t, model), nil)

	if err := s.StageImage(Attachment{Source: SourceUpload, Ref: "baby.jpg", Data: []byte("img")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if n := len(s.Snapshot().Turns); n != 0 {
		t.Fatalf("staging must not append a turn, got %d", n)
	}
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %s", speakers(snap.Turns))
	}
	user := snap.Turns[0]
	if user.Text != "Analysis Result: Fever" || user.Attachment != "baby.jpg" {
		t.Fatalf("unexpected user turn %+v", user)
	}
	prompts := tr.calls()
	want := "I have analyzed a photo and the result is: Fever. What is your advice?"
	if len(prompts) != 1 || prompts[0] != want {
		t.Fatalf("unexpected prompt %v", prompts)
	}
	if snap.Attachment != nil || snap.Awaiting {
		t.Fatalf("expected attachment cleared and not awaiting, got %+v", snap)
	}
}

func TestSession_PhotoWithTextAndTies(t *testing.T) {
	tr := &fakeTransport{reply: "ok"}
	model := fakeModel{preds: []vision.Prediction{{Label: "A", Confidence: 0.40}, {Label: "B", Confidence: 0.91}, {Label: "C", Confidence: 0.91}}}
	s := newSession(t, tr, readyClassifier(t, model), nil)

	_ = s.SetText("She has been crying.")
	if err := s.StageImage(Attachment{Source: SourceCamera, Ref: "camera-1", Data: []byte("img")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	user := s.Snapshot().Turns[0]
	if user.Text != "She has been crying.\nAnalysis Result: B" {
		t.Fatalf("unexpected rewritten turn %q", user.Text)
	}
	want := "I have analyzed a photo and the result is: B. She has been crying. What is your advice?"
	if got := tr.calls(); got[0] != want {
		t.Fatalf("unexpected prompt %q", got[0])
	}
}

func TestSession_TransportTimeoutAppendsApology(t *testing.T) {
	tr := &fakeTransport{gate: make(chan struct{})}
	s := newSession(t, tr, readyClassifier(t, fakeModel{}), nil, WithTimeout(20*time.Millisecond))

	_ = s.SetText("Is this normal?")
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit must absorb transport failures, got %v", err)
	}
	snap := s.Snapshot()
	last := snap.Turns[len(snap.Turns)-1]
	if last.Speaker != conversation.SpeakerAssistant || last.Text != ApologyText {
		t.Fatalf("expected apology as last turn, got %+v", last)
	}
	for _, tu := range snap.Turns {
		if tu.Speaker == conversation.SpeakerPending {
			t.Fatalf("pending turn left behind: %s", speakers(snap.Turns))
		}
	}
	if snap.Text != "" || snap.Awaiting {
		t.Fatalf("expected cleared text and settled state, got %+v", snap)
	}
}

func TestSession_TransportErrorAndEmptyReply(t *testing.T) {
	cases := []struct {
		name string
		tr   *fakeTransport
	}{
		{name: "error", tr: &fakeTransport{err: errors.New("503")}},
		{name: "empty", tr: &fakeTransport{reply: "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t, tc.tr, readyClassifier(t, fakeModel{}), nil)
			_ = s.SetText("hello")
			_ = s.Submit(context.Background())
			snap := s.Snapshot()
			if speakers(snap.Turns) != "user,assistant" || snap.Turns[1].Text != ApologyText {
				t.Fatalf("unexpected turns %+v", snap.Turns)
			}
		})
	}
}

func TestSession_AwaitingDuringRequest(t *testing.T) {
	tr := &fakeTransport{reply: "done", entered: make(chan struct{}, 1), gate: make(chan struct{})}
	s := newSession(t, tr, readyClassifier(t, fakeModel{}), &fakeRecognizer{})

	_ = s.SetText("first")
	errc := make(chan error, 1)
	go func() { errc <- s.Submit(context.Background()) }()
	<-tr.entered

	snap := s.Snapshot()
	if !snap.Awaiting {
		t.Fatalf("expected awaiting while request is outstanding")
	}
	if speakers(snap.Turns) != "user,pending" {
		t.Fatalf("expected pending turn last, got %s", speakers(snap.Turns))
	}
	if err := s.SetText("second"); !errors.Is(err, ErrInputRejected) {
		t.Fatalf("compose while awaiting should be rejected, got %v", err)
	}
	if err := s.Submit(context.Background()); !errors.Is(err, ErrInputRejected) {
		t.Fatalf("second submit should be rejected, got %v", err)
	}
	if err := s.StartVoice(); !errors.Is(err, ErrInputRejected) {
		t.Fatalf("voice while awaiting should be rejected, got %v", err)
	}
	if err := s.StageImage(Attachment{Ref: "x"}); !errors.Is(err, ErrInputRejected) {
		t.Fatalf("staging while awaiting should be rejected, got %v", err)
	}

	close(tr.gate)
	if err := <-errc; err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap = s.Snapshot()
	if snap.Awaiting || speakers(snap.Turns) != "user,assistant" {
		t.Fatalf("unexpected final state %+v", snap)
	}
}

func TestSession_ClassificationFailureKeepsInput(t *testing.T) {
	tr := &fakeTransport{reply: "unused"}
	s := newSession(t, tr, readyClassifier(t, fakeModel{err: errors.New("tensor shape mismatch")}), nil)

	_ = s.SetText("look at this")
	_ = s.StageImage(Attachment{Source: SourceUpload, Ref: "rash.png", Data: []byte("img")})
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := s.Snapshot()
	if speakers(snap.Turns) != "user,assistant" || snap.Turns[1].Text != AnalysisFailedText {
		t.Fatalf("unexpected turns %+v", snap.Turns)
	}
	if len(tr.calls()) != 0 {
		t.Fatalf("transport must not be called after a classification failure")
	}
	if snap.Awaiting || snap.State != StateStagingImage {
		t.Fatalf("expected staging state for retry, got %s", snap.State)
	}
	if snap.Text != "look at this" || snap.Attachment == nil || snap.Attachment.Ref != "rash.png" {
		t.Fatalf("expected text and attachment kept, got %+v", snap)
	}
}

func TestSession_DecodeFailureIsClassificationFailure(t *testing.T) {
	tr := &fakeTransport{reply: "unused"}
	s := New(Deps{
		Transport: tr,
		Vision:    readyClassifier(t, fakeModel{preds: []vision.Prediction{{Label: "Fever", Confidence: 1}}}),
		Decode:    func([]byte) (image.Image, string, error) { return nil, "", errors.New("not an image") },
		Log:       zerolog.Nop(),
	})
	s.Bind(context.Background())
	defer s.Close()
	_ = s.StageImage(Attachment{Ref: "notes.txt", Data: []byte("text")})
	_ = s.Submit(context.Background())
	turns := s.Snapshot().Turns
	if len(turns) != 2 || turns[0].Text != AnalyzingText || turns[1].Text != AnalysisFailedText {
		t.Fatalf("unexpected turns %+v", turns)
	}
}

func TestSession_StageImageRequiresReadyModel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	loading := vision.NewClassifier(vision.LoaderFunc(func(ctx context.Context) (vision.Model, error) {
		<-release
		return fakeModel{}, nil
	}), zerolog.Nop())
	s := newSession(t, &fakeTransport{}, loading, nil)

	err := s.StageImage(Attachment{Ref: "a.jpg"})
	if !errors.Is(err, capability.ErrCapabilityUnavailable) {
		t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Notice != NoticeModelLoading || len(snap.Turns) != 0 || snap.Attachment != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	failed := vision.NewClassifier(vision.LoaderFunc(func(ctx context.Context) (vision.Model, error) {
		return nil, errors.New("404")
	}), zerolog.Nop())
	s2 := newSession(t, &fakeTransport{}, failed, nil)
	waitFor(t, func() bool { return s2.Snapshot().Model == capability.StateFailed })
	_ = s2.StageImage(Attachment{Ref: "a.jpg"})
	if s2.Snapshot().Notice != NoticeModelFailed {
		t.Fatalf("expected failed-model notice, got %q", s2.Snapshot().Notice)
	}
}

func TestSession_ReplaceAndRemoveImage(t *testing.T) {
	s := newSession(t, &fakeTransport{}, readyClassifier(t, fakeModel{}), nil)
	_ = s.StageImage(Attachment{Ref: "one.jpg"})
	if err := s.StageImage(Attachment{Ref: "two.jpg"}); err != nil {
		t.Fatalf("restage: %v", err)
	}
	if got := s.Snapshot().Attachment.Ref; got != "two.jpg" {
		t.Fatalf("expected replaced attachment, got %q", got)
	}
	_ = s.SetText("note")
	if err := s.RemoveImage(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	snap := s.Snapshot()
	if snap.Attachment != nil || snap.State != StateComposing {
		t.Fatalf("expected composing without attachment, got %+v", snap)
	}
	if err := s.RemoveImage(); !errors.Is(err, ErrInputRejected) {
		t.Fatalf("expected rejection removing twice, got %v", err)
	}
}

func TestSession_VoiceEndWithoutResult(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newSession(t, &fakeTransport{reply: "unused"}, readyClassifier(t, fakeModel{}), rec)

	if err := s.StartVoice(); err != nil {
		t.Fatalf("start voice: %v", err)
	}
	if !s.Snapshot().Capturing {
		t.Fatalf("expected capturing")
	}
	rec.events().OnEnd()
	waitFor(t, func() bool { return !s.Snapshot().Capturing })
	snap := s.Snapshot()
	if len(snap.Turns) != 0 || snap.State != StateIdle {
		t.Fatalf("expected no turns and idle, got %+v", snap)
	}
}

func TestSession_VoiceHeardSubmits(t *testing.T) {
	rec := &fakeRecognizer{}
	tr := &fakeTransport{reply: "Give her water."}
	s := newSession(t, tr, readyClassifier(t, fakeModel{}), rec)

	if err := s.ToggleVoice(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	rec.events().OnResult("my baby is thirsty")
	waitFor(t, func() bool { return len(s.Snapshot().Turns) == 2 && !s.Snapshot().Awaiting })
	snap := s.Snapshot()
	if snap.Turns[0].Text != "my baby is thirsty" || snap.Turns[1].Text != "Give her water." {
		t.Fatalf("unexpected turns %+v", snap.Turns)
	}
	if snap.Capturing {
		t.Fatalf("capture should have ended")
	}
}

func TestSession_ToggleStopsVoice(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newSession(t, &fakeTransport{}, readyClassifier(t, fakeModel{}), rec)
	_ = s.SetText("draft")
	_ = s.ToggleVoice()
	if err := s.SetText("typing"); !errors.Is(err, ErrInputRejected) {
		t.Fatalf("typing while capturing should be rejected, got %v", err)
	}
	_ = s.ToggleVoice()
	waitFor(t, func() bool { return !s.Snapshot().Capturing })
	snap := s.Snapshot()
	if snap.State != StateComposing || snap.Text != "draft" || len(snap.Turns) != 0 {
		t.Fatalf("expected to rest in composing with draft, got %+v", snap)
	}
}

func TestSession_VoiceCaptureScopedToSession(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newSession(t, &fakeTransport{}, readyClassifier(t, fakeModel{}), rec)
	if err := s.StartVoice(); err != nil {
		t.Fatalf("start voice: %v", err)
	}
	rec.mu.Lock()
	ctx := rec.ctx
	rec.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		t.Fatalf("expected a live capture context")
	}
	s.Close()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("capture context should end with the session")
	}
}

func TestSession_StopVoiceWithoutCaptureIsNoop(t *testing.T) {
	rec := &fakeRecognizer{}
	s := newSession(t, &fakeTransport{}, readyClassifier(t, fakeModel{}), rec)
	s.StopVoice()
	rec.mu.Lock()
	stops := rec.stops
	rec.mu.Unlock()
	if stops != 0 {
		t.Fatalf("expected no recognizer stop without a capture, got %d", stops)
	}
}

func TestSession_VoiceUnavailable(t *testing.T) {
	s := newSession(t, &fakeTransport{}, readyClassifier(t, fakeModel{}), nil)
	err := s.StartVoice()
	if !errors.Is(err, capability.ErrCapabilityUnavailable) {
		t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
	}
	if s.Snapshot().Notice != NoticeVoiceOff {
		t.Fatalf("expected voice notice")
	}
}

func TestSession_CloseDropsLateCallbacks(t *testing.T) {
	rec := &fakeRecognizer{}
	tr := &fakeTransport{reply: "unused"}
	s := newSession(t, tr, readyClassifier(t, fakeModel{}), rec)
	_ = s.StartVoice()
	stale := rec.events()
	s.Close()
	stale.OnResult("too late")
	time.Sleep(20 * time.Millisecond)
	if n := len(s.Snapshot().Turns); n != 0 || len(tr.calls()) != 0 {
		t.Fatalf("late callback reached the conversation: %d turns", n)
	}
}

func TestSession_ChangesNotify(t *testing.T) {
	s := newSession(t, &fakeTransport{}, readyClassifier(t, fakeModel{}), nil)
	// drain the notification from model load
	select {
	case <-s.Changes():
	case <-time.After(time.Second):
	}
	_ = s.SetText("hi")
	select {
	case <-s.Changes():
	case <-time.After(time.Second):
		t.Fatalf("expected change notification")
	}
}
