package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sadiq-Teslim/kula-website/internal/capability"
	"github.com/Sadiq-Teslim/kula-website/internal/conversation"
	"github.com/Sadiq-Teslim/kula-website/internal/speech"
	"github.com/Sadiq-Teslim/kula-website/internal/transport"
	"github.com/Sadiq-Teslim/kula-website/internal/vision"
	"github.com/rs/zerolog"
)

const (
	// AnalyzingText is the provisional user turn for a photo-only submission.
	AnalyzingText = "Analyzing photo..."
	// TypingText is the pending placeholder shown while a reply is outstanding.
	TypingText = "..."
	// ApologyText replaces the pending turn when the service cannot be reached.
	ApologyText = "Sorry Mama, I could not reach Kula right now. Please try again."
	// AnalysisFailedText is appended when a staged photo cannot be classified.
	AnalysisFailedText = "Sorry Mama, I could not analyze that photo. Please try again."

	NoticeModelLoading = "The photo model is still loading. Please wait a moment."
	NoticeModelFailed  = "The photo model could not be loaded, so photos are unavailable."
	NoticeVoiceOff     = "Voice input is not available."

	DefaultTimeout = transport.DefaultTimeout
)

// AnalysisLine formats the user-visible result of a photo analysis.
func AnalysisLine(label string) string { return "Analysis Result: " + label }

// AnalysisPrompt builds the outbound message for an analyzed photo, with the
// user's free text folded in when present.
func AnalysisPrompt(label, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Sprintf("I have analyzed a photo and the result is: %s. What is your advice?", label)
	}
	return fmt.Sprintf("I have analyzed a photo and the result is: %s. %s What is your advice?", label, text)
}

// Deps are the capabilities a session orchestrates. Transport and Vision are
// required. Speech defaults to a speech.Adapter when Recognizer is set.
type Deps struct {
	Transport  Transport
	Vision     Vision
	Speech     Speech
	Recognizer speech.Recognizer
	Decode     DecodeFunc
	Log        zerolog.Logger
}

type Option func(*Session)

// WithTimeout bounds each request to the advisory service.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSpeechLang sets the recognition language of the default speech adapter.
func WithSpeechLang(lang string) Option {
	return func(s *Session) { s.lang = lang }
}

// Snapshot is a copy of everything a renderer needs.
type Snapshot struct {
	Turns      []conversation.Turn
	State      State
	Text       string
	Attachment *Attachment
	Notice     string
	Awaiting   bool
	Capturing  bool
	Model      capability.State
	VoiceReady bool
}

// Session orchestrates typed, spoken and photo input into one conversation
// for a single user. All state is guarded by mu; slow work runs unlocked.
type Session struct {
	transport  Transport
	vision     Vision
	speech     Speech
	recognizer speech.Recognizer
	decode     DecodeFunc
	log        zerolog.Logger
	timeout    time.Duration
	lang       string

	conv    *conversation.Log
	changes chan struct{}

	mu         sync.Mutex
	coord      Coordinator
	text       string
	attachment *Attachment
	notice     string
	voiceGen   uint64
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// New constructs a session. Call Bind before use.
func New(d Deps, opts ...Option) *Session {
	s := &Session{
		transport:  d.Transport,
		vision:     d.Vision,
		speech:     d.Speech,
		recognizer: d.Recognizer,
		decode:     d.Decode,
		log:        d.Log,
		timeout:    DefaultTimeout,
		conv:       conversation.NewLog(),
		changes:    make(chan struct{}, 1),
		ctx:        context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.decode == nil {
		s.decode = vision.Decode
	}
	if s.speech == nil && s.recognizer != nil {
		s.speech = speech.NewAdapter(s.lang, s.log)
	}
	return s
}

// Bind attaches the session's capabilities: it binds the speech recognizer
// and starts loading the classification model. ctx scopes the session.
func (s *Session) Bind(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	bctx := s.ctx
	s.mu.Unlock()

	if s.speech != nil && s.recognizer != nil {
		s.speech.Bind(s.recognizer)
	}
	if s.vision == nil {
		return
	}
	fut := s.vision.Load(bctx)
	go func() {
		_, err := fut.Await(bctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("photo model unavailable")
		}
		s.notify()
	}()
}

// Close unbinds speech and drops any callback that arrives afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.voiceGen++
	cancel := s.cancel
	s.mu.Unlock()
	if s.speech != nil {
		s.speech.Unbind()
	}
	if cancel != nil {
		cancel()
	}
}

// Changes fires after any state change. Notifications are coalesced;
// receivers should read Snapshot.
func (s *Session) Changes() <-chan struct{} { return s.changes }

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Turns:     s.conv.Turns(),
		State:     s.coord.State(),
		Text:      s.text,
		Notice:    s.notice,
		Awaiting:  s.coord.State().Awaiting(),
		Capturing: s.coord.State() == StateCapturingVoice,
	}
	if s.attachment != nil {
		a := *s.attachment
		snap.Attachment = &a
	}
	if s.vision != nil {
		snap.Model = s.vision.State()
	}
	snap.VoiceReady = s.voiceReady()
	return snap
}

func (s *Session) voiceReady() bool {
	return s.speech != nil && s.speech.Bound()
}

func (s *Session) hasTextLocked() bool { return strings.TrimSpace(s.text) != "" }

// SetText replaces the composed text.
func (s *Session) SetText(text string) error {
	s.mu.Lock()
	ev := EventCompose
	if strings.TrimSpace(text) == "" {
		ev = EventClearText
	}
	if _, err := s.coord.Fire(ev, strings.TrimSpace(text) != ""); err != nil {
		s.mu.Unlock()
		return err
	}
	s.text = text
	s.mu.Unlock()
	s.notify()
	return nil
}

// StageImage holds att for the next submission, replacing any staged photo.
// The photo model must be ready.
func (s *Session) StageImage(att Attachment) error {
	s.mu.Lock()
	if !s.coord.Can(EventStageImage) {
		st := s.coord.State()
		s.mu.Unlock()
		return &TransitionError{From: st, Event: EventStageImage}
	}
	if s.vision == nil || !s.vision.Ready() {
		s.notice = NoticeModelLoading
		if s.vision != nil && s.vision.State() == capability.StateFailed {
			s.notice = NoticeModelFailed
		}
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("stage image: %w", capability.ErrCapabilityUnavailable)
	}
	_, _ = s.coord.Fire(EventStageImage, s.hasTextLocked())
	s.attachment = &att
	s.notice = ""
	s.mu.Unlock()
	s.log.Debug().Str("source", string(att.Source)).Str("ref", att.Ref).Msg("photo staged")
	s.notify()
	return nil
}

func (s *Session) RemoveImage() error {
	s.mu.Lock()
	if _, err := s.coord.Fire(EventRemoveImage, s.hasTextLocked()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.attachment = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// StartVoice begins a single voice capture. The capture is scoped to the
// session, not to the caller. A heard utterance becomes the composed text and
// is submitted immediately.
func (s *Session) StartVoice() error {
	s.mu.Lock()
	if !s.coord.Can(EventStartVoice) {
		st := s.coord.State()
		s.mu.Unlock()
		return &TransitionError{From: st, Event: EventStartVoice}
	}
	if !s.voiceReady() {
		s.notice = NoticeVoiceOff
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("start voice: %w", capability.ErrCapabilityUnavailable)
	}
	_, _ = s.coord.Fire(EventStartVoice, s.hasTextLocked())
	s.voiceGen++
	gen := s.voiceGen
	s.notice = ""
	sessCtx := s.ctx
	s.mu.Unlock()
	s.notify()

	fut, err := s.speech.Start(sessCtx)
	if err != nil {
		s.mu.Lock()
		if gen == s.voiceGen && s.coord.State() == StateCapturingVoice {
			_, _ = s.coord.Fire(EventVoiceEnded, s.hasTextLocked())
		}
		s.mu.Unlock()
		s.notify()
		if errors.Is(err, speech.ErrAlreadyCapturing) {
			return nil
		}
		return fmt.Errorf("start voice: %w", err)
	}
	go func() {
		u, err := fut.Await(sessCtx)
		if err != nil {
			u = speech.Utterance{}
		}
		s.onUtterance(gen, u)
	}()
	return nil
}

func (s *Session) onUtterance(gen uint64, u speech.Utterance) {
	s.mu.Lock()
	if s.closed || gen != s.voiceGen || s.coord.State() != StateCapturingVoice {
		s.mu.Unlock()
		return
	}
	if !u.Heard {
		_, _ = s.coord.Fire(EventVoiceEnded, s.hasTextLocked())
		s.mu.Unlock()
		s.log.Debug().Msg("voice capture ended without a result")
		s.notify()
		return
	}
	_, _ = s.coord.Fire(EventVoiceHeard, true)
	s.text = u.Transcript
	ctx := s.ctx
	s.mu.Unlock()
	s.log.Info().Str("transcript", u.Transcript).Msg("voice heard")
	s.notify()
	if err := s.Submit(ctx); err != nil {
		s.log.Warn().Err(err).Msg("voice submission rejected")
	}
}

// StopVoice ends an active capture without a result.
func (s *Session) StopVoice() {
	if s.speech == nil || !s.speech.Capturing() {
		return
	}
	s.speech.Stop()
}

// ToggleVoice stops an active capture or starts a new one.
func (s *Session) ToggleVoice() error {
	s.mu.Lock()
	capturing := s.coord.State() == StateCapturingVoice
	s.mu.Unlock()
	if capturing {
		s.StopVoice()
		return nil
	}
	return s.StartVoice()
}

// Submit sends the composed text and any staged photo. It returns
// ErrInputRejected when there is nothing to send or a reply is outstanding.
// Classification and transport failures are absorbed into the conversation
// as assistant turns and are not returned.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	text, att := s.text, s.attachment
	if strings.TrimSpace(text) == "" && att == nil {
		st := s.coord.State()
		s.mu.Unlock()
		return &TransitionError{From: st, Event: EventSubmit}
	}
	if _, err := s.coord.Fire(EventSubmit, true); err != nil {
		s.mu.Unlock()
		return err
	}
	userText, ref := text, ""
	if att != nil {
		ref = att.Ref
		if strings.TrimSpace(text) == "" {
			userText = AnalyzingText
		}
	}
	userTok := s.conv.Append(conversation.SpeakerUser, userText, ref)
	s.notice = ""
	s.mu.Unlock()
	s.notify()

	defer s.settle()

	prompt := text
	if att != nil {
		label, err := s.analyze(ctx, *att)
		if err != nil {
			s.log.Warn().Err(err).Str("turn_id", userTok.String()).Msg("photo analysis failed")
			s.mu.Lock()
			s.conv.Append(conversation.SpeakerAssistant, AnalysisFailedText, "")
			s.mu.Unlock()
			return nil
		}
		rewritten := AnalysisLine(label)
		if strings.TrimSpace(text) != "" {
			rewritten = text + "\n" + rewritten
		}
		prompt = AnalysisPrompt(label, text)
		s.mu.Lock()
		if err := s.conv.Rewrite(userTok, rewritten); err != nil {
			s.log.Error().Err(err).Str("turn_id", userTok.String()).Msg("rewrite user turn")
		}
		_, _ = s.coord.Fire(EventAnalyzed, true)
		s.mu.Unlock()
		s.log.Info().Str("label", label).Msg("photo analyzed")
		s.notify()
	}

	s.mu.Lock()
	pendingTok := s.conv.Append(conversation.SpeakerPending, TypingText, "")
	s.text = ""
	s.attachment = nil
	s.mu.Unlock()
	s.notify()

	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	reply, err := s.transport.Interact(rctx, prompt)
	cancel()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}

	s.mu.Lock()
	if rerr := s.conv.Remove(pendingTok); rerr != nil {
		s.log.Error().Err(rerr).Str("turn_id", pendingTok.String()).Msg("remove pending turn")
	}
	if err != nil {
		s.conv.Append(conversation.SpeakerAssistant, ApologyText, "")
	} else {
		s.conv.Append(conversation.SpeakerAssistant, reply, "")
	}
	s.mu.Unlock()

	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		s.log.Warn().Err(err).Int64("elapsed_ms", elapsed).Msg("advisory request failed")
	} else {
		s.log.Info().Int64("elapsed_ms", elapsed).Int("reply_len", len(reply)).Msg("advisory reply")
	}
	return nil
}

// settle leaves the awaiting state on every exit path of Submit.
func (s *Session) settle() {
	s.mu.Lock()
	switch s.coord.State() {
	case StateResolving:
		_, _ = s.coord.Fire(EventAnalysisFailed, s.hasTextLocked())
	case StateSubmitting:
		_, _ = s.coord.Fire(EventResolved, s.hasTextLocked())
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) analyze(ctx context.Context, att Attachment) (string, error) {
	img, _, err := s.decode(att.Data)
	if err != nil {
		return "", &vision.ClassificationError{Err: err}
	}
	preds, err := s.vision.Classify(ctx, img).Await(ctx)
	if err != nil {
		return "", err
	}
	top, ok := vision.Top(preds)
	if !ok {
		return "", &vision.ClassificationError{Err: errors.New("no predictions")}
	}
	return top.Label, nil
}
