// Package embed provides the client for the external embedding capability.
package embed

import (
	"context"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/errors"
)

// normTolerance is the allowed deviation from unit length before the
// vector is renormalized locally.
const normTolerance = 1e-3

// Embedder obtains dense vectors for text.
type Embedder interface {
	// Embed returns the L2-normalized embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension N.
	Dimension() int
}

// Client is an Embedder backed by an OpenAI-compatible embeddings endpoint.
type Client struct {
	api     *openai.Client
	model   string
	dim     int
	timeout time.Duration
	retry   errors.RetryConfig
}

// NewClient creates an embedding client from configuration.
func NewClient(cfg config.EmbeddingConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dim:     cfg.VectorSize,
		timeout: cfg.Timeout,
		retry:   errors.DefaultRetryConfig(),
	}
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.dim
}

// Embed obtains the embedding for text. The backing service may truncate
// long inputs; callers must not assume lossless embedding of arbitrarily
// long text. Transport failures are Transient; empty or malformed vectors
// are Upstream.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New(errors.KindInputInvalid, "empty text")
	}

	return errors.RetryWithResult(ctx, c.retry, func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.model),
			Input: []string{text},
		})
		if err != nil {
			return nil, errors.Wrap(errors.KindTransient, "embedding service unavailable", err)
		}

		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, errors.New(errors.KindUpstream, "embedding service returned empty vector")
		}
		vec := resp.Data[0].Embedding
		if c.dim > 0 && len(vec) != c.dim {
			return nil, errors.Newf(errors.KindUpstream,
				"embedding dimension mismatch: got %d, want %d", len(vec), c.dim)
		}

		return normalize(vec)
	})
}

// normalize renormalizes vec to unit length when it deviates beyond
// tolerance. A zero vector is an upstream defect.
func normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, errors.New(errors.KindUpstream, "embedding service returned zero vector")
	}
	if math.Abs(norm-1) <= normTolerance {
		return vec, nil
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

var _ Embedder = (*Client)(nil)
