package prototype

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/protoboard/retry"
)

// Sentinel errors callers branch on.
var (
	// ErrNotFound means the prototype or version does not exist on the
	// storage service.
	ErrNotFound = errors.New("prototype: not found")
	// ErrUnavailable means the circuit breaker is open and no call was made.
	ErrUnavailable = errors.New("prototype: storage unavailable")
)

// ClientOptions configures a storage Client.
type ClientOptions struct {
	// BaseURL is the storage service root, e.g. "http://localhost:9090".
	BaseURL string
	// Timeout bounds each HTTP attempt. Default: 10s.
	Timeout time.Duration
	// Attempts is the total number of tries per call. Default: 3.
	Attempts int
	// Backoff is the base delay between attempts, doubling each retry.
	// Default: 250ms.
	Backoff time.Duration
	// Breaker guards calls; nil installs NewBreaker().
	Breaker *Breaker
	// HTTPClient overrides the transport (tests). Default: a client bound
	// by Timeout.
	HTTPClient *http.Client
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *ClientOptions) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 250 * time.Millisecond
	}
	if o.Breaker == nil {
		o.Breaker = NewBreaker()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client talks JSON over HTTP to the document-storage service, with bounded
// retries and a circuit breaker. Endpoint shape:
//
//	GET  /prototypes/{id}
//	POST /prototypes
//	PUT  /prototypes/{id}
//	GET  /prototypes/{id}/versions
//	POST /prototypes/{id}/restore
type Client struct {
	base     string
	http     *http.Client
	breaker  *Breaker
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewClient builds a Client from opts.
func NewClient(opts ClientOptions) *Client {
	opts.defaults()
	return &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		http:     opts.HTTPClient,
		breaker:  opts.Breaker,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		logger:   opts.Logger,
	}
}

// Breaker exposes the breaker for health reporting.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Get fetches a prototype by ID.
func (c *Client) Get(ctx context.Context, id string) (*Prototype, error) {
	var p Prototype
	if err := c.call(ctx, http.MethodGet, "/prototypes/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create makes a new prototype with the given name and returns it.
func (c *Client) Create(ctx context.Context, name string) (*Prototype, error) {
	var p Prototype
	in := map[string]string{"name": name}
	if err := c.call(ctx, http.MethodPost, "/prototypes", in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Put persists the full document and returns the storage receipt.
func (c *Client) Put(ctx context.Context, p *Prototype) (*SaveReceipt, error) {
	var r SaveReceipt
	if err := c.call(ctx, http.MethodPut, "/prototypes/"+url.PathEscape(p.ID), p, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Versions lists stored revisions of a prototype, newest first.
func (c *Client) Versions(ctx context.Context, id string) ([]VersionInfo, error) {
	var vs []VersionInfo
	if err := c.call(ctx, http.MethodGet, "/prototypes/"+url.PathEscape(id)+"/versions", nil, &vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// Restore rolls the prototype back to version on the service and returns the
// restored document.
func (c *Client) Restore(ctx context.Context, id string, version int64) (*Prototype, error) {
	var p Prototype
	in := map[string]int64{"version": version}
	if err := c.call(ctx, http.MethodPost, "/prototypes/"+url.PathEscape(id)+"/restore", in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// call runs one JSON exchange with retries and breaker accounting. Transport
// errors and 5xx are retried with backoff; 4xx are permanent. A 404 counts
// as a healthy response for the breaker: the service answered.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if !c.breaker.Allow() {
		return ErrUnavailable
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("prototype: marshal request: %w", err)
		}
	}

	_, err := retry.Do(ctx, retry.Exponential(c.attempts, c.backoff), func() (struct{}, error) {
		return struct{}{}, c.once(ctx, method, path, body, out)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.breaker.RecordSuccess()
			return err
		}
		c.breaker.RecordFailure()
		c.logger.Warn("prototype: call failed",
			"method", method, "path", path, "error", err)
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

// once performs a single HTTP attempt.
func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return retry.Permanent(fmt.Errorf("prototype: build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("prototype: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("prototype: %s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.Permanent(fmt.Errorf("prototype: %s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("prototype: decode response: %w", err)
	}
	return nil
}
