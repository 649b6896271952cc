package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// metadata mirrors the Teachable Machine image model metadata.json.
type metadata struct {
	ModelName string   `json:"modelName"`
	Labels    []string `json:"labels"`
	ImageSize int      `json:"imageSize"`
}

// HTTPLoader loads a hosted image model. ModelURL is the model directory
// (its metadata.json describes the labels); PredictURL accepts a JPEG body and
// answers with [{"className": ..., "probability": ...}].
type HTTPLoader struct {
	ModelURL   string
	PredictURL string
	HTTPClient *http.Client
}

func NewHTTPLoader(modelURL, predictURL string) *HTTPLoader {
	return &HTTPLoader{
		ModelURL:   modelURL,
		PredictURL: predictURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (l *HTTPLoader) Load(ctx context.Context) (Model, error) {
	if strings.TrimSpace(l.ModelURL) == "" {
		return nil, fmt.Errorf("model url missing")
	}
	if strings.TrimSpace(l.PredictURL) == "" {
		return nil, fmt.Errorf("predict url missing")
	}
	metaURL := strings.TrimRight(l.ModelURL, "/") + "/metadata.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch metadata: status=%d", resp.StatusCode)
	}
	var md metadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(md.Labels) == 0 {
		return nil, fmt.Errorf("metadata lists no labels")
	}
	return &HTTPModel{
		Name:       md.ModelName,
		Labels:     md.Labels,
		predictURL: l.PredictURL,
		client:     l.HTTPClient,
	}, nil
}

// HTTPModel is a loaded remote model.
type HTTPModel struct {
	Name   string
	Labels []string

	predictURL string
	client     *http.Client
}

// Predict posts img as JPEG and returns predictions in the model's label
// order, which is the order ties are resolved in.
func (m *HTTPModel) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.predictURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("predict: status=%d body=%s", resp.StatusCode, string(b))
	}
	var preds []Prediction
	if err := json.NewDecoder(resp.Body).Decode(&preds); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	m.orderByLabels(preds)
	return preds, nil
}

func (m *HTTPModel) orderByLabels(preds []Prediction) {
	rank := make(map[string]int, len(m.Labels))
	for i, l := range m.Labels {
		rank[l] = i
	}
	pos := func(label string) int {
		if r, ok := rank[label]; ok {
			return r
		}
		return len(m.Labels)
	}
	sort.SliceStable(preds, func(i, j int) bool { return pos(preds[i].Label) < pos(preds[j].Label) })
}
