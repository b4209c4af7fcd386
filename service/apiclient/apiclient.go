package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// StatusError is returned for any non-200 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unable to fetch rates due to code: %d", e.Code)
}

// Config tunes timeouts, retries and request rate.
type Config struct {
	Timeout           time.Duration     // per request
	MaxAttempts       int               // total tries including the first, below 1 means one
	InitialBackoff    time.Duration     // doubled after every retry
	RequestsPerSecond float64           // 0 means one request per second
	Burst             int               // 0 means 10
	Headers           map[string]string // added to every request
}

type Client struct {
	httpClient  *http.Client     // HTTP client used to communicate with the API.
	rateLimiter *rate.Limiter    // Rate limiter for provider apis
	retrier     *retrier.Retrier // Backoff for transient failures
}

func New(cfg Config) *Client {
	limit := rate.Every(time.Second)
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	retries := cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}

	headers := cfg.Headers

	return &Client{
		rateLimiter: rate.NewLimiter(limit, burst),
		retrier:     retrier.New(retrier.ExponentialBackoff(retries, cfg.InitialBackoff), transientClassifier{}),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: roundTripperFn(
				func(req *http.Request) (*http.Response, error) {
					req.Header.Set("Accept", "application/json")
					for k, v := range headers {
						req.Header.Set(k, v)
					}

					return http.DefaultTransport.RoundTrip(req)
				},
			),
		},
	}
}

// Get fetches url into v, retrying rate-limited and transport failures.
// A *bytes.Buffer target receives the raw body.
func (c *Client) Get(ctx context.Context, url string, v interface{}) error {
	attempt := 0
	return c.retrier.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		if buf, ok := v.(*bytes.Buffer); ok {
			buf.Reset()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		err = c.Do(ctx, req, v)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("host", req.URL.Host).Msg("provider request failed")
		}
		return err
	})
}

func (c *Client) Do(ctx context.Context, req *http.Request, v interface{}) error {
	err := c.rateLimiter.Wait(ctx)
	if err != nil {
		return err
	}

	log.Debug().Str("host", req.URL.Host).Str("path", req.URL.Path).Msg("fetching information from API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	switch v := v.(type) {
	case nil:
	case io.Writer:
		_, err = io.Copy(v, resp.Body)
	default:
		decErr := json.NewDecoder(resp.Body).Decode(v)
		if decErr == io.EOF {
			decErr = nil // ignore EOF errors caused by empty response body
		}
		if decErr != nil {
			err = decErr
		}
	}

	return err
}

// transientClassifier retries 429 responses and transport errors
// (timeouts, refused or reset connections). Everything else fails at once.
type transientClassifier struct{}

func (transientClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusTooManyRequests {
			return retrier.Retry
		}
		return retrier.Fail
	}

	if errors.Is(err, context.Canceled) {
		return retrier.Fail
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retrier.Retry
	}

	return retrier.Fail
}

type roundTripperFn func(*http.Request) (*http.Response, error)

func (fn roundTripperFn) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}
