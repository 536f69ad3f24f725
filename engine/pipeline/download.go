package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/pkg/fn"
)

// maxImageBytes caps a single download. Anything larger is not a product
// image worth embedding.
const maxImageBytes = 20 << 20

// DownloaderOpts configures image fetching.
type DownloaderOpts struct {
	Concurrency int
	Timeout     time.Duration
	Retries     int
	RatePerSec  float64
	UserAgent   string
}

// Downloader fetches image bytes for a batch of items with bounded
// concurrency, per-item retries and an optional global rate limit.
type Downloader struct {
	client      *http.Client
	limiter     *rate.Limiter
	concurrency int
	retry       fn.RetryOpts
	userAgent   string
}

// NewDownloader builds a Downloader around an instrumented HTTP client.
func NewDownloader(opts DownloaderOpts) *Downloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	d := &Downloader{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		concurrency: opts.Concurrency,
		retry: fn.RetryOpts{
			MaxAttempts: opts.Retries,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
		},
		userAgent: opts.UserAgent,
	}
	if opts.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), int(opts.RatePerSec)+1)
	}
	return d
}

// Fetched pairs an item with its downloaded bytes.
type Fetched struct {
	Item  domain.Item
	Bytes []byte
}

// FetchAll downloads every item's image concurrently. Results come back in
// input order; each entry is either the bytes or the item's terminal
// download error after retries.
func (d *Downloader) FetchAll(ctx context.Context, items []domain.Item) []fn.Result[Fetched] {
	return fn.ParMapResult(items, d.concurrency, func(item domain.Item) fn.Result[Fetched] {
		r := fn.Retry(ctx, d.retry, func(ctx context.Context) fn.Result[[]byte] {
			return fn.FromPair(d.fetch(ctx, item.ImageURL))
		})
		data, err := r.Unwrap()
		if err != nil {
			return fn.Err[Fetched](fmt.Errorf("download %s: %w", item.ContentHash, err))
		}
		return fn.Ok(Fetched{Item: item, Bytes: data})
	})
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}
