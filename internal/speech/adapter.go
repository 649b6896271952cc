package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Sadiq-Teslim/kula-website/internal/capability"
	"github.com/rs/zerolog"
)

var (
	ErrNotBound         = errors.New("speech: no recognizer bound")
	ErrAlreadyCapturing = errors.New("speech: already capturing")
)

// Events are the callbacks a Recognizer delivers for one activation.
type Events struct {
	// OnStart fires as the underlying capture begins.
	OnStart func()
	// OnResult delivers a finalized transcript.
	OnResult func(transcript string)
	// OnEnd fires when capture stops, with or without a prior result.
	OnEnd func()
}

// Recognizer is the callback based speech capability. Implementations must
// tolerate Stop being called from inside an event callback.
type Recognizer interface {
	Start(ctx context.Context, lang string, ev Events) error
	Stop()
}

// Utterance is the single outcome of one capture. Heard is false when capture
// ended without a result (cancel, silence or device error).
type Utterance struct {
	Transcript string
	Heard      bool
}

// Adapter turns a Recognizer into single-shot futures. Each activation yields
// at most one transcript; the recognizer is stopped after the first result.
type Adapter struct {
	lang string
	log  zerolog.Logger

	mu     sync.Mutex
	rec    Recognizer
	gen    uint64
	active *capability.Future[Utterance]
	// cancelled is the generation most recently ended by Stop or Unbind.
	cancelled uint64
}

func NewAdapter(lang string, log zerolog.Logger) *Adapter {
	if lang == "" {
		lang = "en-US"
	}
	return &Adapter{lang: lang, log: log.With().Str("component", "speech").Logger()}
}

// Bind attaches rec, detaching any previously bound recognizer first.
func (a *Adapter) Bind(rec Recognizer) {
	a.Unbind()
	a.mu.Lock()
	a.rec = rec
	a.mu.Unlock()
}

// Unbind stops any capture and detaches the recognizer. Callbacks from earlier
// activations are dropped from here on.
func (a *Adapter) Unbind() {
	a.mu.Lock()
	rec, fut := a.rec, a.active
	a.rec, a.active = nil, nil
	if fut != nil {
		a.cancelled = a.gen
	}
	a.gen++
	a.mu.Unlock()
	if fut != nil {
		fut.Resolve(Utterance{})
	}
	if rec != nil {
		rec.Stop()
	}
}

func (a *Adapter) Bound() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec != nil
}

func (a *Adapter) Capturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

// Start requests a capture. A failure of the recognizer to start is reported
// through the returned future as an empty utterance, like any other end
// without a result.
func (a *Adapter) Start(ctx context.Context) (*capability.Future[Utterance], error) {
	a.mu.Lock()
	if a.rec == nil {
		a.mu.Unlock()
		return nil, ErrNotBound
	}
	if a.active != nil {
		a.mu.Unlock()
		return nil, ErrAlreadyCapturing
	}
	a.gen++
	gen, rec := a.gen, a.rec
	fut := capability.NewFuture[Utterance]()
	a.active = fut
	a.mu.Unlock()

	ev := Events{
		OnStart: func() {
			a.log.Debug().Uint64("gen", gen).Msg("capture started")
		},
		OnResult: func(transcript string) {
			text := strings.TrimSpace(transcript)
			if a.finish(gen, Utterance{Transcript: text, Heard: text != ""}) {
				rec.Stop()
			}
		},
		OnEnd: func() {
			a.finish(gen, Utterance{})
		},
	}
	if err := rec.Start(ctx, a.lang, ev); err != nil {
		a.log.Warn().Err(err).Msg("recognizer failed to start")
		a.finish(gen, Utterance{})
		return fut, nil
	}
	// A Stop or Unbind may have landed while the recognizer was starting.
	a.mu.Lock()
	stale := a.cancelled == gen
	a.mu.Unlock()
	if stale {
		rec.Stop()
	}
	return fut, nil
}

// Stop ends the current capture early. The pending future resolves with an
// empty utterance.
func (a *Adapter) Stop() {
	a.mu.Lock()
	rec, fut := a.rec, a.active
	a.active = nil
	if fut != nil {
		a.cancelled = a.gen
	}
	a.gen++
	a.mu.Unlock()
	if fut == nil {
		return
	}
	fut.Resolve(Utterance{})
	if rec != nil {
		rec.Stop()
	}
}

// finish resolves the activation identified by gen. Stale generations are
// ignored; it reports whether the outcome was delivered.
func (a *Adapter) finish(gen uint64, u Utterance) bool {
	a.mu.Lock()
	if gen != a.gen || a.active == nil {
		a.mu.Unlock()
		return false
	}
	fut := a.active
	a.active = nil
	a.mu.Unlock()
	fut.Resolve(u)
	a.log.Debug().Bool("heard", u.Heard).Msg("capture finished")
	return true
}
