package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"deepfrog/internal/logger"
)

const (
	DefaultRetryMax = 2
	DefaultTimeout  = 60 * time.Second
)

type Options struct {
	RetryMax     int
	Timeout      time.Duration
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	CheckRetry   retryablehttp.CheckRetry
}

// New returns a retrying client that logs through the shared logger and
// hands the final response back to the caller instead of an error when
// retries run out.
func New(opts Options) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	c.HTTPClient.Timeout = opts.Timeout
	if opts.RetryWaitMin > 0 {
		c.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		c.RetryWaitMax = opts.RetryWaitMax
	}
	c.Logger = logger.NewLeveledLogrus(logger.GetLogger())
	c.Backoff = retryablehttp.DefaultBackoff
	c.CheckRetry = opts.CheckRetry
	if c.CheckRetry == nil {
		c.CheckRetry = RetryPolicy
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// RetryPolicy retries connection errors, 429 and 5xx. Context errors and
// other 4xx responses are final.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
