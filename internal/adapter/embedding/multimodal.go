package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/elliot-woods/pgvector-search/internal/adapter/imaging"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

const (
	JinaBaseURL       = "https://api.jina.ai/v1"
	DefaultMaxImgSide = 512
)

// Multimodal talks to a Jina-compatible /embeddings endpoint that accepts
// both {"text": ...} and {"image": <base64>} inputs and returns vectors in
// a shared space.
type Multimodal struct {
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	maxImgSide int
	client     *http.Client
}

var _ port.Embedder = (*Multimodal)(nil)

// Options configures a Multimodal embedder.
type Options struct {
	Model      string
	BaseURL    string
	APIKeyEnv  string
	Dimension  int
	MaxImgSide int
	Timeout    time.Duration
}

type embeddingRequest struct {
	Model string           `json:"model"`
	Input []map[string]any `json:"input"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewJinaEmbedder targets the hosted Jina API. The API key is read from
// the environment variable named by opts.APIKeyEnv.
func NewJinaEmbedder(opts Options) (*Multimodal, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = JinaBaseURL
	}
	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		return nil, errs.Errorf(errs.CodeConfig, "API key not found in environment variable: %s", opts.APIKeyEnv)
	}
	return newMultimodal(apiKey, opts)
}

// NewLocalEmbedder targets a self-hosted server exposing the same schema,
// e.g. a CLIP model behind an OpenAI-style gateway. No API key is sent
// unless opts.APIKeyEnv names a set variable.
func NewLocalEmbedder(opts Options) (*Multimodal, error) {
	if opts.BaseURL == "" {
		return nil, errs.New(errs.CodeConfig, "local embedding provider requires a base URL")
	}
	var apiKey string
	if opts.APIKeyEnv != "" {
		apiKey = os.Getenv(opts.APIKeyEnv)
	}
	return newMultimodal(apiKey, opts)
}

func newMultimodal(apiKey string, opts Options) (*Multimodal, error) {
	if opts.Model == "" {
		return nil, errs.New(errs.CodeConfig, "embedding model name is required")
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = knownDimension(opts.Model)
	}
	if dimension <= 0 {
		return nil, errs.Errorf(errs.CodeConfig, "unknown dimension for model %s; set embedding.dimension", opts.Model)
	}
	if opts.MaxImgSide <= 0 {
		opts.MaxImgSide = DefaultMaxImgSide
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	return &Multimodal{
		apiKey:     apiKey,
		model:      opts.Model,
		baseURL:    opts.BaseURL,
		dimension:  dimension,
		maxImgSide: opts.MaxImgSide,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

func knownDimension(model string) int {
	switch model {
	case "jina-clip-v1":
		return 768
	case "jina-clip-v2":
		return 1024
	case "clip-vit-base-patch32", "openai/clip-vit-base-patch32", "clip-vit-base-patch16":
		return 512
	case "clip-vit-large-patch14", "openai/clip-vit-large-patch14":
		return 768
	default:
		return 0
	}
}

func (e *Multimodal) EmbedImage(ctx context.Context, img image.Image) (domain.Vector, error) {
	data, err := imaging.EncodePNG(imaging.Fit(img, e.maxImgSide))
	if err != nil {
		return nil, err
	}
	return e.embedOne(ctx, map[string]any{"image": base64.StdEncoding.EncodeToString(data)})
}

func (e *Multimodal) EmbedText(ctx context.Context, text string) (domain.Vector, error) {
	if text == "" {
		return nil, errs.New(errs.CodeInvalidInput, "empty text probe")
	}
	return e.embedOne(ctx, map[string]any{"text": text})
}

func (e *Multimodal) embedOne(ctx context.Context, input map[string]any) (domain.Vector, error) {
	vectors, err := e.embedBatch(ctx, []map[string]any{input})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, errs.New(errs.CodeEncode, "embedding returned empty result")
	}
	if len(vectors[0]) != e.dimension {
		return nil, errs.Errorf(errs.CodeEncode, "embedding dimension mismatch: expected %d, got %d", e.dimension, len(vectors[0]))
	}
	return vectors[0], nil
}

func (e *Multimodal) embedBatch(ctx context.Context, inputs []map[string]any) ([]domain.Vector, error) {
	reqBody := embeddingRequest{
		Model: e.model,
		Input: inputs,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEncode, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEncode, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEncode, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEncode, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Errorf(errs.CodeEncode, "API returned status %d: %s", resp.StatusCode, bodyPreview(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, errs.Wrapf(err, errs.CodeEncode, "failed to parse response (body: %s)", bodyPreview(body))
	}

	if embResp.Error != nil {
		return nil, errs.Errorf(errs.CodeEncode, "API error: %s", embResp.Error.Message)
	}

	vectors := make([]domain.Vector, len(inputs))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(vectors) {
			vectors[data.Index] = data.Embedding
		}
	}

	return vectors, nil
}

func (e *Multimodal) Dimension() int {
	return e.dimension
}

func (e *Multimodal) ModelName() string {
	return e.model
}

func bodyPreview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return fmt.Sprintf("%q", s)
}
