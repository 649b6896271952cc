package agent

import (
	"context"
	"image"

	"github.com/Sadiq-Teslim/kula-website/internal/capability"
	"github.com/Sadiq-Teslim/kula-website/internal/speech"
	"github.com/Sadiq-Teslim/kula-website/internal/vision"
)

// Transport sends one prompt to the advisory service and returns its reply.
type Transport interface {
	Interact(ctx context.Context, message string) (string, error)
}

// Vision is the image classification capability.
type Vision interface {
	Load(ctx context.Context) *capability.Future[vision.Model]
	State() capability.State
	Ready() bool
	Classify(ctx context.Context, img image.Image) *capability.Future[[]vision.Prediction]
}

// Speech is the single-shot voice capture capability.
type Speech interface {
	Bind(rec speech.Recognizer)
	Unbind()
	Bound() bool
	Capturing() bool
	Start(ctx context.Context) (*capability.Future[speech.Utterance], error)
	Stop()
}

// DecodeFunc turns encoded image bytes into a bitmap.
type DecodeFunc func(data []byte) (image.Image, string, error)

// ImageSource records where a staged photo came from.
type ImageSource string

const (
	SourceUpload ImageSource = "upload"
	SourceCamera ImageSource = "camera"
)

// Attachment is a staged photo. Ref is an opaque display reference (a file
// path or capture name); Data holds the encoded image.
type Attachment struct {
	Source ImageSource
	Ref    string
	Data   []byte
}
