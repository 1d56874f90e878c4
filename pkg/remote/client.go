package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://10.0.0.2:8887/api"

// TokenSource yields the bearer credential for outgoing requests. An empty
// token means the request is sent without an Authorization header.
type TokenSource interface {
	Token() string
}

type TokenSourceFunc func() string

func (f TokenSourceFunc) Token() string { return f() }

// Client performs authenticated JSON calls against the conversation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	metrics    *Metrics
	userAgent  string
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithTokenSource(ts TokenSource) ClientOption {
	return func(cl *Client) {
		cl.tokens = ts
	}
}

func WithMetrics(m *Metrics) ClientOption {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// WithUserAgent overrides the User-Agent header. An empty ua keeps the
// default.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithTimeout sets the timeout of the underlying http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.httpClient.Timeout = d
	}
}

// WithInsecureSkipVerify accepts self-signed server certificates, which the
// development backend uses.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(cl *Client) {
		if !skip {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		cl.httpClient.Transport = transport
	}
}

func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base URL %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "chatmirror",
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request describes a single call. Path is relative to the base URL. Body,
// when non-nil, is encoded as JSON. Headers override the defaults.
type Request struct {
	Op      string
	Method  string
	Path    string
	Body    any
	Headers map[string]string
}

// Do performs the call and decodes the response envelope. Application
// errors are not returned here: callers inspect the envelope code. Network
// failures and bodies that are not JSON objects return a *TransportError.
func (c *Client) Do(ctx context.Context, req Request) (env *Envelope, err error) {
	start := time.Now()
	op := req.Op
	if op == "" {
		op = req.Method + " " + req.Path
	}
	defer func() {
		obsErr := err
		if obsErr == nil {
			obsErr = env.Err(op)
		}
		c.metrics.observe(op, obsErr, time.Since(start))
	}()

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: could not encode request body", op)
		}
		body = bytes.NewReader(b)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: could not create request", op)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	log.Debug().
		Str("op", op).
		Str("method", method).
		Str("url", httpReq.URL.String()).
		Str("request_id", requestID).
		Msg("sending remote request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: errors.Wrap(err, "could not read response body")}
	}

	env, err = ParseEnvelope(respBody)
	if err != nil {
		return nil, &TransportError{Op: op, Err: errors.Wrapf(err, "http status %d", resp.StatusCode)}
	}

	log.Debug().
		Str("op", op).
		Str("request_id", requestID).
		Int("http_status", resp.StatusCode).
		Int("code", env.Code).
		Msg("received remote response")

	return env, nil
}

func isTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
