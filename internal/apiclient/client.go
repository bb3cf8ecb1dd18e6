package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lannaspeech/lanna/internal/tokenstore"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "lanna-cli"
)

// Refresher exchanges the stored refresh token for a new pair.
// staleAccess is the access token the rejected request carried; an
// implementation may return the stored pair without a network call when it
// has already been replaced.
type Refresher interface {
	RefreshAfter(ctx context.Context, staleAccess string) (tokenstore.TokenPair, error)
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      tokenstore.Store
	Actor      tokenstore.ActorKind
	Refresher  Refresher
	// OnAuthExpired runs when a request is still rejected after a successful refresh.
	OnAuthExpired func()

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// Client sends requests to the Lanna API with the actor's bearer token and
// refreshes it once when the server answers 401.
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	store         tokenstore.Store
	actor         tokenstore.ActorKind
	refresher     Refresher
	onAuthExpired func()
	timeout       time.Duration
	limiter       *rate.Limiter
	userAgent     string
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:       base,
		http:          opts.HTTPClient,
		store:         opts.Store,
		actor:         opts.Actor,
		refresher:     opts.Refresher,
		onAuthExpired: opts.OnAuthExpired,
		timeout:       opts.Timeout,
		userAgent:     opts.UserAgent,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.store == nil {
		c.store = tokenstore.NewMemory()
	}
	if c.actor == "" {
		c.actor = tokenstore.User
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)

	return c, nil
}

func (c *Client) Actor() tokenstore.ActorKind { return c.actor }

func (c *Client) Store() tokenstore.Store { return c.store }

type authMode int

const (
	authStore authMode = iota
	authExplicit
	authNone
	authOptional
)

type requestConfig struct {
	query     url.Values
	header    http.Header
	timeout   time.Duration
	auth      authMode
	bearer    string
	noRefresh bool
}

type RequestOption func(*requestConfig)

func WithQuery(q url.Values) RequestOption {
	return func(rc *requestConfig) { rc.query = q }
}

func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) { rc.header.Set(key, value) }
}

// WithTimeout overrides the client timeout for each attempt of this request.
func WithTimeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.timeout = d }
}

// WithBearer sends token instead of the stored access token. The response is
// never intercepted.
func WithBearer(token string) RequestOption {
	return func(rc *requestConfig) {
		rc.auth = authExplicit
		rc.bearer = token
	}
}

func WithoutAuth() RequestOption {
	return func(rc *requestConfig) { rc.auth = authNone }
}

// WithOptionalAuth attaches the stored token when there is one and sends the
// request anonymously otherwise.
func WithOptionalAuth() RequestOption {
	return func(rc *requestConfig) { rc.auth = authOptional }
}

// WithoutRefresh reports a 401 as Unauthorized instead of refreshing.
func WithoutRefresh() RequestOption {
	return func(rc *requestConfig) { rc.noRefresh = true }
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("decode response: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do sends one logical request. body may be nil, []byte, json.RawMessage,
// io.Reader, *Multipart, or any value that marshals to JSON.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	rc := requestConfig{header: make(http.Header), timeout: c.timeout}
	for _, opt := range opts {
		opt(&rc)
	}

	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: encode body: %w", method, path, err)
	}
	if contentType != "" && rc.header.Get("Content-Type") == "" {
		rc.header.Set("Content-Type", contentType)
	}

	target := c.resolve(path, rc.query)
	requestID := uuid.NewString()

	if rc.auth == authOptional {
		rc.auth = authNone
		if _, ok := c.store.Get(c.actor); ok {
			rc.auth = authStore
		}
	}

	var token string
	switch rc.auth {
	case authExplicit:
		token = rc.bearer
	case authStore:
		pair, ok := c.store.Get(c.actor)
		if !ok {
			return nil, &Error{Kind: KindAuthExpired, Method: method, Path: path, Message: "no stored session"}
		}
		token = pair.AccessToken
	}

	resp, err := c.attempt(ctx, method, path, target, payload, token, requestID, rc)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}

	first := statusError(method, path, resp.StatusCode, resp.Body)
	if resp.StatusCode != http.StatusUnauthorized || rc.auth != authStore || rc.noRefresh || c.refresher == nil {
		return nil, first
	}

	log.Printf("apiclient: %s %s got 401, refreshing %s token", method, path, c.actor)
	pair, err := c.refresher.RefreshAfter(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, transportError(ctx, method, path, ctx.Err())
		}
		return nil, &Error{
			Kind:       KindAuthExpired,
			Method:     method,
			Path:       path,
			StatusCode: first.StatusCode,
			Message:    first.Message,
			Err:        err,
		}
	}

	retry, err := c.attempt(ctx, method, path, target, payload, pair.AccessToken, requestID, rc)
	if err != nil {
		return nil, err
	}
	if retry.StatusCode < 400 {
		return retry, nil
	}

	retryErr := statusError(method, path, retry.StatusCode, retry.Body)
	if retry.StatusCode == http.StatusUnauthorized {
		retryErr.Kind = KindAuthExpired
		if c.onAuthExpired != nil {
			c.onAuthExpired()
		}
	}
	return nil, retryErr
}

func (c *Client) attempt(ctx context.Context, method, path, target string, payload []byte, token, requestID string, rc requestConfig) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(ctx, method, path, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	for k, v := range rc.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		log.Printf("apiclient: %s %s failed after %s: %v", method, path, time.Since(start).Round(time.Millisecond), err)
		return nil, transportError(ctx, method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportError(ctx, method, path, err)
	}
	log.Printf("apiclient: %s %s -> %d in %s", method, path, httpResp.StatusCode, time.Since(start).Round(time.Millisecond))

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case json.RawMessage:
		return b, "application/json", nil
	case []byte:
		return b, "application/octet-stream", nil
	case *Multipart:
		return b.encode()
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/octet-stream", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, body, opts...)
}

// GetJSON decodes the response of a GET into out. out may be nil.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out, opts...)
}

// SendJSON sends in and decodes the response into out. Either may be nil.
func (c *Client) SendJSON(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	resp, err := c.Do(ctx, method, path, in, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}
