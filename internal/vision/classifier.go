package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/Sadiq-Teslim/kula-website/internal/capability"
	"github.com/rs/zerolog"
)

// Prediction is one ranked label produced by a model.
type Prediction struct {
	Label      string  `json:"className"`
	Confidence float64 `json:"probability"`
}

// Model classifies a decoded image into a ranked list of labels.
type Model interface {
	Predict(ctx context.Context, img image.Image) ([]Prediction, error)
}

// Loader produces a ready Model.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Model, error)

func (f LoaderFunc) Load(ctx context.Context) (Model, error) { return f(ctx) }

// ModelLoadError reports that the model could not be made ready.
type ModelLoadError struct{ Err error }

func (e *ModelLoadError) Error() string { return "model load failed: " + e.Err.Error() }
func (e *ModelLoadError) Unwrap() error { return e.Err }

// ClassificationError reports a rejected classification attempt. It is
// terminal for that attempt; the adapter never retries.
type ClassificationError struct{ Err error }

func (e *ClassificationError) Error() string { return "classification failed: " + e.Err.Error() }
func (e *ClassificationError) Unwrap() error { return e.Err }

var errNoPredictions = errors.New("model returned no predictions")

// Classifier owns the model handle and exposes load and classify as futures.
type Classifier struct {
	loader Loader
	handle capability.Handle[Model]
	log    zerolog.Logger

	mu      sync.Mutex
	loading *capability.Future[Model]
}

func NewClassifier(loader Loader, log zerolog.Logger) *Classifier {
	return &Classifier{loader: loader, log: log.With().Str("component", "vision").Logger()}
}

// Load starts loading the model once. Subsequent calls return the same future.
func (c *Classifier) Load(ctx context.Context) *capability.Future[Model] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading != nil {
		return c.loading
	}
	fut := capability.NewFuture[Model]()
	c.loading = fut
	if c.loader == nil {
		err := &ModelLoadError{Err: errors.New("no model configured")}
		c.handle.Begin()
		c.handle.Fail(err)
		fut.Reject(err)
		return fut
	}
	c.handle.Begin()
	go func() {
		start := time.Now()
		m, err := c.loader.Load(ctx)
		if err == nil && m == nil {
			err = errors.New("loader returned no model")
		}
		if err != nil {
			lerr := &ModelLoadError{Err: err}
			c.handle.Fail(lerr)
			c.log.Error().Err(err).Msg("model load failed")
			fut.Reject(lerr)
			return
		}
		c.handle.Ready(m)
		c.log.Info().Int64("elapsed_ms", time.Since(start).Milliseconds()).Msg("model loaded")
		fut.Resolve(m)
	}()
	return fut
}

func (c *Classifier) State() capability.State { return c.handle.State() }

func (c *Classifier) Ready() bool { return c.handle.State() == capability.StateReady }

// Classify runs the model on img. A classifier that is not ready yields a
// future rejected with capability.ErrCapabilityUnavailable.
func (c *Classifier) Classify(ctx context.Context, img image.Image) *capability.Future[[]Prediction] {
	m, err := c.handle.Get()
	if err != nil {
		return capability.Rejected[[]Prediction](err)
	}
	fut := capability.NewFuture[[]Prediction]()
	go func() {
		preds, err := m.Predict(ctx, img)
		if err == nil && len(preds) == 0 {
			err = errNoPredictions
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("classification rejected")
			fut.Reject(&ClassificationError{Err: err})
			return
		}
		fut.Resolve(preds)
	}()
	return fut
}

// Top returns the most confident prediction. The scan uses a strict greater
// than comparison so the first label wins ties.
func Top(preds []Prediction) (Prediction, bool) {
	if len(preds) == 0 {
		return Prediction{}, false
	}
	best := preds[0]
	for _, p := range preds[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, true
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.0f%%)", p.Label, p.Confidence*100)
}
