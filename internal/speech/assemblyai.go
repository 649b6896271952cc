package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultStreamingURL is the AssemblyAI realtime endpoint.
	DefaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"

	// SilenceThreshold is the inactivity window after the last transcript
	// update before the utterance is considered complete.
	SilenceThreshold = 900 * time.Millisecond
	// ContinuationExtension lengthens the silence window when the transcript
	// ends on a word that implies more is coming.
	ContinuationExtension = 1200 * time.Millisecond
	// NoSpeechTimeout ends a capture in which nothing was transcribed.
	NoSpeechTimeout = 8 * time.Second
	// MaxCapture bounds a single activation.
	MaxCapture = 30 * time.Second

	chunkBytes = 3200 // 100ms of 16kHz PCM16 mono
)

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
	Formatted  bool   `json:"turn_is_formatted"`
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// AssemblyAIRecognizer streams microphone audio to AssemblyAI and finalizes a
// single utterance per activation.
type AssemblyAIRecognizer struct {
	APIKey           string
	Endpoint         string
	Source           AudioSource
	SampleRate       int
	SilenceThreshold time.Duration
	NoSpeechTimeout  time.Duration
	MaxCapture       time.Duration
	Dialer           *websocket.Dialer

	log zerolog.Logger

	mu      sync.Mutex
	cur     *captureRun
	opening bool
	aborted bool
}

func NewAssemblyAIRecognizer(apiKey string, src AudioSource, log zerolog.Logger) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		APIKey:           apiKey,
		Endpoint:         DefaultStreamingURL,
		Source:           src,
		SampleRate:       16000,
		SilenceThreshold: SilenceThreshold,
		NoSpeechTimeout:  NoSpeechTimeout,
		MaxCapture:       MaxCapture,
		Dialer:           &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:              log.With().Str("component", "assemblyai").Logger(),
	}
}

// ErrStoppedWhileOpening is returned by Start when Stop was called while the
// connection was still being established.
var ErrStoppedWhileOpening = errors.New("assemblyai: stopped while connecting")

// Start dials the streaming service and begins pumping audio. The dial runs
// without holding the recognizer lock; a Stop that lands during the dial
// discards the run once it is open.
func (r *AssemblyAIRecognizer) Start(ctx context.Context, lang string, ev Events) error {
	if r.APIKey == "" {
		return errors.New("assemblyai: API key is empty")
	}
	if r.Source == nil {
		return errors.New("assemblyai: no audio source")
	}
	r.mu.Lock()
	if r.cur != nil || r.opening {
		r.mu.Unlock()
		return ErrAlreadyCapturing
	}
	r.opening, r.aborted = true, false
	r.mu.Unlock()

	run, err := r.open(ctx, lang, ev)

	r.mu.Lock()
	r.opening = false
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if r.aborted {
		r.mu.Unlock()
		run.teardown()
		return ErrStoppedWhileOpening
	}
	// a timer may already have finished the run
	if !run.stopped() {
		r.cur = run
	}
	r.mu.Unlock()

	if ev.OnStart != nil {
		ev.OnStart()
	}
	go run.readMessages(r.SilenceThreshold)
	go run.pumpAudio()
	return nil
}

// open dials the service and the audio source.
func (r *AssemblyAIRecognizer) open(ctx context.Context, lang string, ev Events) (*captureRun, error) {
	if lang != "" && !strings.HasPrefix(strings.ToLower(lang), "en") {
		r.log.Warn().Str("lang", lang).Msg("streaming model is english only")
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprint(r.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	wsURL := r.Endpoint + "?" + params.Encode()
	headers := map[string][]string{"Authorization": {r.APIKey}}

	conn, resp, err := r.Dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			r.log.Warn().Int("status", resp.StatusCode).Msg("assemblyai handshake rejected")
		}
		return nil, fmt.Errorf("assemblyai: connect: %w", err)
	}
	audio, err := r.Source.Open(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("assemblyai: open audio: %w", err)
	}

	run := &captureRun{
		owner:  r,
		conn:   conn,
		audio:  audio,
		ev:     ev,
		stopCh: make(chan struct{}),
		log:    r.log,
		vad:    newVoiceDetector(),
	}
	run.accMu.Lock()
	defer run.accMu.Unlock()
	run.noSpeech = time.AfterFunc(r.NoSpeechTimeout, func() {
		if run.latest() == "" {
			run.log.Debug().Msg("no speech detected")
			run.finish("", false)
		}
	})
	run.maxTimer = time.AfterFunc(r.MaxCapture, func() {
		t := run.latest()
		run.finish(t, t != "")
	})
	return run, nil
}

// Stop ends the active capture without a result. Safe to call at any time,
// including while Start is still connecting.
func (r *AssemblyAIRecognizer) Stop() {
	r.mu.Lock()
	run := r.cur
	if r.opening {
		r.aborted = true
	}
	r.mu.Unlock()
	if run != nil {
		run.finish("", false)
	}
}

func (r *AssemblyAIRecognizer) release(run *captureRun) {
	r.mu.Lock()
	if r.cur == run {
		r.cur = nil
	}
	r.mu.Unlock()
}

// captureRun is the state of one activation.
type captureRun struct {
	owner *AssemblyAIRecognizer
	conn  *websocket.Conn
	audio io.ReadCloser
	ev    Events
	log   zerolog.Logger

	writeMu sync.Mutex
	stopCh  chan struct{}
	once    sync.Once

	vad *voiceDetector

	accMu      sync.Mutex
	transcript string
	lastVoice  time.Time
	window     time.Duration
	silence    *time.Timer
	noSpeech   *time.Timer
	maxTimer   *time.Timer
}

func (c *captureRun) latest() string {
	c.accMu.Lock()
	defer c.accMu.Unlock()
	return strings.TrimSpace(c.transcript)
}

// finish tears the run down once and then delivers the callbacks outside of
// any lock so a callback may call Stop.
func (c *captureRun) finish(transcript string, heard bool) {
	if !c.teardown() {
		return
	}
	c.owner.release(c)
	if heard && c.ev.OnResult != nil {
		c.ev.OnResult(transcript)
	}
	if c.ev.OnEnd != nil {
		c.ev.OnEnd()
	}
}

// teardown stops timers and closes the connection and audio. It reports
// whether this call did the work.
func (c *captureRun) teardown() bool {
	first := false
	c.once.Do(func() {
		first = true
		close(c.stopCh)
		c.accMu.Lock()
		for _, t := range []*time.Timer{c.silence, c.noSpeech, c.maxTimer} {
			if t != nil {
				t.Stop()
			}
		}
		c.accMu.Unlock()
		c.writeMu.Lock()
		_ = c.conn.WriteJSON(map[string]string{"type": "Terminate"})
		c.writeMu.Unlock()
		_ = c.conn.Close()
		_ = c.audio.Close()
	})
	return first
}

func (c *captureRun) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// onSilence finalizes once neither transcript updates nor voice energy were
// seen for the current window.
func (c *captureRun) onSilence() {
	c.accMu.Lock()
	if since := time.Since(c.lastVoice); !c.lastVoice.IsZero() && since < c.window {
		wait := c.window - since
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		c.silence.Reset(wait)
		c.accMu.Unlock()
		return
	}
	c.accMu.Unlock()
	t := c.latest()
	c.finish(t, t != "")
}

func (c *captureRun) pumpAudio() {
	buf := make([]byte, chunkBytes)
	for {
		n, err := c.audio.Read(buf)
		if n > 0 {
			if c.stopped() {
				return
			}
			if c.vad.Feed(buf[:n]) {
				c.accMu.Lock()
				c.lastVoice = time.Now()
				c.accMu.Unlock()
			}
			c.writeMu.Lock()
			werr := c.conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			c.writeMu.Unlock()
			if werr != nil {
				if !c.stopped() {
					c.log.Warn().Err(werr).Msg("error sending audio")
				}
				c.finish("", false)
				return
			}
		}
		if err != nil {
			if c.stopped() {
				return
			}
			// audio ended: flush whatever was heard so far
			t := c.latest()
			c.finish(t, t != "")
			return
		}
	}
}

func (c *captureRun) readMessages(silence time.Duration) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.stopped() {
				c.log.Warn().Err(err).Msg("error reading message")
				t := c.latest()
				c.finish(t, t != "")
			}
			return
		}
		c.processMessage(message, silence)
	}
}

func (c *captureRun) processMessage(message []byte, silence time.Duration) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		c.log.Warn().Err(err).Msg("error unmarshaling message")
		return
	}
	switch base.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			c.log.Debug().Str("session", msg.ID).Msg("assemblyai session began")
		}
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn().Err(err).Msg("error unmarshaling turn")
			return
		}
		text := strings.TrimSpace(msg.Transcript)
		if text == "" {
			return
		}
		if msg.EndOfTurn && !isContinuationLikely(text) {
			c.finish(text, true)
			return
		}
		wait := silence
		if isContinuationLikely(text) {
			wait += ContinuationExtension
		}
		c.accMu.Lock()
		c.transcript = text
		c.window = wait
		if c.silence == nil {
			c.silence = time.AfterFunc(wait, c.onSilence)
		} else {
			c.silence.Reset(wait)
		}
		c.accMu.Unlock()
	case "Termination":
		t := c.latest()
		c.finish(t, t != "")
	case "Error":
		var msg errorMessage
		_ = json.Unmarshal(message, &msg)
		c.log.Warn().Str("error", msg.Error).Msg("assemblyai error")
		c.finish("", false)
	default:
		c.log.Debug().Str("type", base.Type).Msg("unknown message type")
	}
}

func isContinuationLikely(text string) bool {
	_, ok := continuationWords[lastWord(text)]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "so": {},
	"if": {}, "when": {}, "because": {}, "since": {}, "until": {},
	"um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
	"my": {}, "the": {}, "a": {}, "an": {},
}
