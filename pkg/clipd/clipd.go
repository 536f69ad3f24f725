// Package clipd provides an HTTP client for the external CLIP encoder and
// quality-scorer sidecar. The sidecar owns the model weights; this client
// only moves bytes and checks shapes.
package clipd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/styleatlas/style-engine/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client talks to a clipd sidecar over HTTP.
type Client struct {
	baseURL string
	dims    int
	client  *http.Client
	limiter *resilience.Limiter
}

// Opts configures the client.
type Opts struct {
	BaseURL string
	Dims    int
	Timeout time.Duration
	// RatePerSec caps requests to the sidecar; zero disables the cap.
	RatePerSec float64
}

// New creates a clipd client.
func New(opts Opts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	var lim *resilience.Limiter
	if opts.RatePerSec > 0 {
		lim = resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.RatePerSec, Burst: 2})
	}
	return &Client{
		baseURL: opts.BaseURL,
		dims:    opts.Dims,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: lim,
	}
}

type embedImagesReq struct {
	Images []string `json:"images"` // base64
}

type embedTextsReq struct {
	Texts []string `json:"texts"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type scoreResp struct {
	Aesthetic []float64 `json:"aesthetic"`
	Quality   []float64 `json:"quality"`
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("clipd: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("clipd: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("clipd: %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clipd: %s: decode: %w", path, err)
	}
	return nil
}

func (c *Client) checkShape(got, want int, vecs [][]float32) error {
	if got != want {
		return fmt.Errorf("clipd: got %d embeddings, want %d", got, want)
	}
	for i, v := range vecs {
		if len(v) != c.dims {
			return fmt.Errorf("clipd: embedding %d has dim %d, want %d", i, len(v), c.dims)
		}
	}
	return nil
}

// EmbedImages encodes raw image bytes into unit-norm vectors, one per image.
func (c *Client) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	req := embedImagesReq{Images: make([]string, len(images))}
	for i, img := range images {
		req.Images[i] = base64.StdEncoding.EncodeToString(img)
	}
	var out embedResp
	if err := c.post(ctx, "/v1/embed/images", req, &out); err != nil {
		return nil, err
	}
	if err := c.checkShape(len(out.Embeddings), len(images), out.Embeddings); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

// EmbedTexts encodes text strings into unit-norm vectors, one per text.
// Empty strings are valid input: the sidecar encodes the empty prompt so
// batch shapes stay uniform.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var out embedResp
	if err := c.post(ctx, "/v1/embed/texts", embedTextsReq{Texts: texts}, &out); err != nil {
		return nil, err
	}
	if err := c.checkShape(len(out.Embeddings), len(texts), out.Embeddings); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

// ScoreImages rates raw image bytes, returning one aesthetic and one quality
// score per image.
func (c *Client) ScoreImages(ctx context.Context, images [][]byte) ([]float64, []float64, error) {
	req := embedImagesReq{Images: make([]string, len(images))}
	for i, img := range images {
		req.Images[i] = base64.StdEncoding.EncodeToString(img)
	}
	var out scoreResp
	if err := c.post(ctx, "/v1/score/images", req, &out); err != nil {
		return nil, nil, err
	}
	if len(out.Aesthetic) != len(images) || len(out.Quality) != len(images) {
		return nil, nil, fmt.Errorf("clipd: got %d/%d scores, want %d", len(out.Aesthetic), len(out.Quality), len(images))
	}
	return out.Aesthetic, out.Quality, nil
}
