// Package admin is the back-office API: user management, audio records and
// analytics. Its client must belong to an admin session.
package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/tokenstore"
)

const (
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
)

type Options struct {
	// Retries is the number of extra attempts for analytics reads.
	Retries    int
	RetryDelay time.Duration
}

type Client struct {
	api        *apiclient.Client
	retries    int
	retryDelay time.Duration
}

func New(api *apiclient.Client, opts Options) (*Client, error) {
	if api.Actor() != tokenstore.Admin {
		return nil, fmt.Errorf("admin client needs an admin session, got %s", api.Actor())
	}
	c := &Client{api: api, retries: opts.Retries, retryDelay: opts.RetryDelay}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	return c, nil
}

// Page selects one page of a listing. Zero values use the server defaults.
type Page struct {
	Page    int
	PerPage int
	SortBy  string
	Order   string
}

func (p Page) values() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
	}
	if p.Order != "" {
		q.Set("order", strings.ToLower(p.Order))
	}
	return q
}

func (p Page) validate() error {
	if p.Order != "" && !strings.EqualFold(p.Order, "asc") && !strings.EqualFold(p.Order, "desc") {
		return &apiclient.Error{
			Kind:    apiclient.KindValidation,
			Message: fmt.Sprintf("order must be asc or desc, got %q", p.Order),
			Fields:  map[string]string{"order": "must be asc or desc"},
		}
	}
	if p.Page < 0 || p.PerPage < 0 {
		return &apiclient.Error{Kind: apiclient.KindValidation, Message: "page numbers must not be negative"}
	}
	return nil
}

// Pagination is the envelope shared by paged listings.
type Pagination struct {
	Total       int `json:"total"`
	Pages       int `json:"pages"`
	CurrentPage int `json:"current_page"`
}

// getWithRetry reads path into out, retrying transport and server failures.
// Client errors are returned at once.
func (c *Client) getWithRetry(ctx context.Context, path string, q url.Values, out any) error {
	op := func() (struct{}, error) {
		err := c.api.GetJSON(ctx, path, out, apiclient.WithQuery(q))
		if err == nil {
			return struct{}{}, nil
		}
		switch apiclient.KindOf(err) {
		case apiclient.KindNetwork, apiclient.KindTimeout, apiclient.KindServer:
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(uint(c.retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("admin: %s failed, retrying in %v: %v", path, next, err)
		}),
	)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	return c.api.SendJSON(ctx, method, path, in, out)
}

func validation(field, msg string) error {
	return &apiclient.Error{
		Kind:    apiclient.KindValidation,
		Message: field + " " + msg,
		Fields:  map[string]string{field: msg},
	}
}

func checkID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", validation(field, "is required")
	}
	if strings.ContainsAny(id, "/?#") {
		return "", validation(field, "is not a valid id")
	}
	return id, nil
}

func userPath(id string, rest ...string) (string, error) {
	id, err := checkID("user_id", id)
	if err != nil {
		return "", err
	}
	return "/admin/users/" + id + strings.Join(rest, ""), nil
}

// CreateAdmin registers another administrator account.
func (c *Client) CreateAdmin(ctx context.Context, username, email, password string) (string, error) {
	fields := map[string]string{}
	if strings.TrimSpace(username) == "" {
		fields["username"] = "required"
	}
	if !strings.Contains(email, "@") {
		fields["email"] = "must be a valid address"
	}
	if password == "" {
		fields["password"] = "required"
	}
	if len(fields) > 0 {
		return "", &apiclient.Error{Kind: apiclient.KindValidation, Message: "missing required fields", Fields: fields}
	}

	in := map[string]string{"username": strings.TrimSpace(username), "email": email, "password": password}
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.send(ctx, http.MethodPost, "/admin/create", in, &out); err != nil {
		return "", fmt.Errorf("create admin: %w", err)
	}
	return out.Message, nil
}
