package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lannaspeech/lanna/internal/apiclient"
)

type User struct {
	UserID       string        `json:"user_id"`
	Username     string        `json:"username"`
	Email        string        `json:"email"`
	Gender       string        `json:"gender,omitempty"`
	BirthDate    string        `json:"birth_date,omitempty"`
	Age          int           `json:"age,omitempty"`
	IsActive     bool          `json:"is_active"`
	AudioRecords []AudioRecord `json:"audio_records,omitempty"`
}

type UserList struct {
	Users []User `json:"users"`
	Pagination
}

// UserUpdate carries the fields to change; nil fields are left alone.
type UserUpdate struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (u UserUpdate) IsZero() bool {
	return u.Username == nil && u.Email == nil && u.IsActive == nil
}

type UserStats struct {
	TotalUsers    int `json:"total_users"`
	ActiveUsers   int `json:"active_users"`
	InactiveUsers int `json:"inactive_users"`
}

// SearchParams filters the advanced user search. Nil pointers are omitted.
type SearchParams struct {
	Query    string
	MinAge   *int
	MaxAge   *int
	Gender   string
	IsActive *bool
	Page
}

func (p SearchParams) values() url.Values {
	q := p.Page.values()
	if p.Query != "" {
		q.Set("query", p.Query)
	}
	if p.MinAge != nil {
		q.Set("min_age", strconv.Itoa(*p.MinAge))
	}
	if p.MaxAge != nil {
		q.Set("max_age", strconv.Itoa(*p.MaxAge))
	}
	if p.Gender != "" {
		q.Set("gender", p.Gender)
	}
	if p.IsActive != nil {
		q.Set("is_active", strconv.FormatBool(*p.IsActive))
	}
	return q
}

func (c *Client) ListUsers(ctx context.Context, page Page) (UserList, error) {
	if err := page.validate(); err != nil {
		return UserList{}, err
	}
	var out UserList
	if err := c.api.GetJSON(ctx, "/admin/users", &out, apiclient.WithQuery(page.values())); err != nil {
		return UserList{}, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// GetUser returns the user with their audio records.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	path, err := userPath(id)
	if err != nil {
		return User{}, err
	}
	var out User
	if err := c.api.GetJSON(ctx, path, &out); err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	path, err := userPath(id)
	if err != nil {
		return User{}, err
	}
	if upd.IsZero() {
		return User{}, fmt.Errorf("update user %s: nothing to change", id)
	}
	if upd.Email != nil && !strings.Contains(*upd.Email, "@") {
		return User{}, validation("email", "must be a valid address")
	}
	if upd.Username != nil && strings.TrimSpace(*upd.Username) == "" {
		return User{}, validation("username", "must not be empty")
	}
	var out User
	if err := c.send(ctx, http.MethodPut, path, upd, &out); err != nil {
		return User{}, fmt.Errorf("update user %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	path, err := userPath(id)
	if err != nil {
		return err
	}
	if err := c.send(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}

func (c *Client) UserStats(ctx context.Context) (UserStats, error) {
	var out UserStats
	if err := c.api.GetJSON(ctx, "/admin/users/stats", &out); err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	return out, nil
}

// SearchUsers matches q against usernames and emails.
func (c *Client) SearchUsers(ctx context.Context, q string, page Page) (UserList, error) {
	if err := page.validate(); err != nil {
		return UserList{}, err
	}
	values := page.values()
	values.Set("q", q)
	var out UserList
	if err := c.api.GetJSON(ctx, "/admin/users/search", &out, apiclient.WithQuery(values)); err != nil {
		return UserList{}, fmt.Errorf("search users: %w", err)
	}
	return out, nil
}

func (c *Client) AdvancedSearch(ctx context.Context, params SearchParams) (UserList, error) {
	if err := params.Page.validate(); err != nil {
		return UserList{}, err
	}
	if params.MinAge != nil && params.MaxAge != nil && *params.MinAge > *params.MaxAge {
		return UserList{}, validation("min_age", "must not exceed max_age")
	}
	var out UserList
	if err := c.api.GetJSON(ctx, "/admin/users/advanced-search", &out, apiclient.WithQuery(params.values())); err != nil {
		return UserList{}, fmt.Errorf("advanced search: %w", err)
	}
	return out, nil
}

func (c *Client) UserAudioRecords(ctx context.Context, id string, page Page) (AudioRecordList, error) {
	path, err := userPath(id, "/audio_records")
	if err != nil {
		return AudioRecordList{}, err
	}
	var out AudioRecordList
	if err := c.api.GetJSON(ctx, path, &out, apiclient.WithQuery(page.values())); err != nil {
		return AudioRecordList{}, fmt.Errorf("audio records for %s: %w", id, err)
	}
	return out, nil
}
