// Package transport delivers canonical documents to a remote party over
// HTTP(S).
//
// Requests are routed as <endpoint>/<kind>/<party_id>/<id>[/<uid>] and carry
// the document as JSON. Retrying failed deliveries is the caller's concern;
// the client sends each request exactly once.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/resource"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum response body read (1MB)
	MaxResponseSize = 1 * 1024 * 1024

	// UserAgent is the default user agent string
	UserAgent = "peersync/1.0"
)

// Response is a delivered request's outcome.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Accepted reports a 202: the peer queued the document for later processing.
func (r Response) Accepted() bool {
	return r.StatusCode == http.StatusAccepted
}

// Request addresses one delivery.
type Request struct {
	Method   string
	Kind     string
	Identity resource.Identity
	// UID addresses a child; empty targets the top-level resource.
	UID string
	// Body is sent as JSON; nil sends no body.
	Body *canon.Object
}

// Client sends documents to a remote party.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// HTTPClient is the default Client implementation.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	userAgent string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(h *HTTPClient) {
		h.userAgent = ua
	}
}

// New creates a client for endpoint. If timeout is 0, uses DefaultTimeout.
func New(endpoint string, timeout time.Duration, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be http or https", endpoint)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &HTTPClient{
		endpoint:  strings.TrimRight(endpoint, "/"),
		client:    &http.Client{Timeout: timeout},
		userAgent: UserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the base URL without a trailing slash.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

// URL builds the address of req.
func (c *HTTPClient) URL(req Request) string {
	segments := []string{req.Kind, req.Identity.PartyID, req.Identity.ID}
	if req.UID != "" {
		segments = append(segments, req.UID)
	}
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.endpoint + "/" + strings.Join(segments, "/")
}

// Do sends req. A non-2xx status returns the Response together with an
// *HTTPError.
func (c *HTTPClient) Do(ctx context.Context, req Request) (Response, error) {
	target := c.URL(req)

	var body io.Reader
	if req.Body != nil {
		data, err := canon.Marshal(*req.Body)
		if err != nil {
			return Response{}, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// +1 to detect if limit exceeded
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return Response{}, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	out := Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, NewHTTPError(resp.StatusCode, target, resp.Status)
	}
	return out, nil
}

// Put sends a full document.
func (c *HTTPClient) Put(ctx context.Context, kind string, id resource.Identity, doc canon.Object) (Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Kind: kind, Identity: id, Body: &doc})
}

// Patch sends a merge-patch document.
func (c *HTTPClient) Patch(ctx context.Context, kind string, id resource.Identity, doc canon.Object) (Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Kind: kind, Identity: id, Body: &doc})
}

// Delete removes a resource, or one child when uid is set.
func (c *HTTPClient) Delete(ctx context.Context, kind string, id resource.Identity, uid string) (Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Kind: kind, Identity: id, UID: uid})
}
