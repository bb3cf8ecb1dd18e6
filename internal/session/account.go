package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/lannaspeech/lanna/internal/apiclient"
)

type ProfileDetails struct {
	Firstname   string `json:"firstname"`
	Lastname    string `json:"lastname"`
	Country     string `json:"country"`
	State       string `json:"state"`
	PhoneNumber string `json:"phone_number"`
}

type Profile struct {
	Username  string         `json:"username"`
	Email     string         `json:"email"`
	Gender    string         `json:"gender"`
	BirthDate string         `json:"birth_date"`
	Details   ProfileDetails `json:"profile"`
}

// ProfileUpdate carries only the fields to change.
type ProfileUpdate struct {
	Email     string          `json:"email,omitempty"`
	Gender    string          `json:"gender,omitempty"`
	BirthDate string          `json:"birth_date,omitempty"`
	Details   *ProfileDetails `json:"profile,omitempty"`
}

func (m *Manager) profilePath() (string, error) {
	if m.endpoints.Profile == "" {
		return "", ErrUnsupported
	}
	sess, ok := m.Session()
	if !ok || sess.ActorName == "" {
		return "", ErrNoSession
	}
	return m.endpoints.Profile + url.PathEscape(sess.ActorName), nil
}

func (m *Manager) GetProfile(ctx context.Context) (Profile, error) {
	path, err := m.profilePath()
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := m.client.GetJSON(ctx, path, &p, apiclient.WithTimeout(m.profileTimeout)); err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile patches the signed-in user's profile. Validation failures
// carry per-field detail; see apiclient.FieldErrors.
func (m *Manager) UpdateProfile(ctx context.Context, upd ProfileUpdate) error {
	path, err := m.profilePath()
	if err != nil {
		return err
	}
	if err := validateBirthDate(upd.BirthDate); err != nil {
		return err
	}
	if upd.Email != "" && !strings.Contains(upd.Email, "@") {
		return &apiclient.Error{
			Kind:    apiclient.KindValidation,
			Message: "invalid email address",
			Fields:  map[string]string{"email": "must contain @"},
		}
	}
	if err := m.client.SendJSON(ctx, http.MethodPatch, path, upd, nil, apiclient.WithTimeout(m.profileTimeout)); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// ValidatePassword enforces the server's password rule: at least 8
// characters with an uppercase letter and a digit.
func ValidatePassword(pw string) error {
	var upper, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if len([]rune(pw)) < 8 || !upper || !digit {
		return &apiclient.Error{
			Kind:    apiclient.KindValidation,
			Message: "password must be at least 8 characters and include an uppercase letter and a digit",
			Fields:  map[string]string{"new_password": "too weak"},
		}
	}
	return nil
}

func (m *Manager) ChangePassword(ctx context.Context, current, next, confirm string) error {
	if m.endpoints.ChangePassword == "" {
		return ErrUnsupported
	}
	if fields := missingFields(map[string]string{"current_password": current, "new_password": next, "confirm_password": confirm}); fields != nil {
		return &apiclient.Error{Kind: apiclient.KindValidation, Message: "all password fields are required", Fields: fields}
	}
	if next != confirm {
		return &apiclient.Error{
			Kind:    apiclient.KindValidation,
			Message: "new password and confirmation do not match",
			Fields:  map[string]string{"confirm_password": "does not match"},
		}
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}

	body := map[string]string{
		"current_password": current,
		"new_password":     next,
		"confirm_password": confirm,
	}
	if err := m.sendWithPassword(ctx, http.MethodPost, m.endpoints.ChangePassword, body, "current_password"); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// DeleteAccount removes the user account and signs out locally.
func (m *Manager) DeleteAccount(ctx context.Context, password string) error {
	if m.endpoints.DeleteAccount == "" {
		return ErrUnsupported
	}
	if password == "" {
		return &apiclient.Error{Kind: apiclient.KindValidation, Message: "password is required", Fields: map[string]string{"password": "required"}}
	}
	if err := m.sendWithPassword(ctx, http.MethodDelete, m.endpoints.DeleteAccount, map[string]string{"password": password}, "password"); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if done := m.clearLocal(false); done != nil {
		<-done
	}
	return nil
}

func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	if m.endpoints.ForgotPassword == "" {
		return ErrUnsupported
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return &apiclient.Error{Kind: apiclient.KindValidation, Message: "email is required", Fields: map[string]string{"email": "required"}}
	}
	err := m.client.SendJSON(ctx, http.MethodPost, m.endpoints.ForgotPassword, map[string]string{"email": email}, nil, apiclient.WithoutAuth())
	if err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using the token from a reset email.
func (m *Manager) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.endpoints.ResetPassword == "" {
		return ErrUnsupported
	}
	if strings.TrimSpace(token) == "" {
		return &apiclient.Error{Kind: apiclient.KindValidation, Message: "reset token is required", Fields: map[string]string{"token": "required"}}
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	body := map[string]string{"token": token, "new_password": newPassword}
	if err := m.client.SendJSON(ctx, http.MethodPost, m.endpoints.ResetPassword, body, nil, apiclient.WithoutAuth()); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// sendWithPassword sends a request the server rejects with 401 when the
// confirming password is wrong. Such a 401 must not trigger the interceptor's
// teardown, so the token is renewed up front when close to expiry, and the
// 401 is reported as a validation failure on field. A token without an exp
// claim cannot be checked up front; its first 401 is answered with one
// refresh and a retry.
func (m *Manager) sendWithPassword(ctx context.Context, method, path string, body any, field string) error {
	sess, ok := m.Session()
	unknownExpiry := ok && sess.ExpiresAt.IsZero()
	if ok && !unknownExpiry && time.Until(sess.ExpiresAt) < time.Minute {
		if _, err := m.Refresh(ctx); err != nil {
			return err
		}
	}
	err := m.client.SendJSON(ctx, method, path, body, nil, apiclient.WithoutRefresh())
	if unknownExpiry && apiclient.IsKind(err, apiclient.KindUnauthorized) {
		if _, rerr := m.RefreshAfter(ctx, sess.AccessToken); rerr != nil {
			return rerr
		}
		err = m.client.SendJSON(ctx, method, path, body, nil, apiclient.WithoutRefresh())
	}
	if apiclient.IsKind(err, apiclient.KindUnauthorized) {
		var apiErr *apiclient.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			apiErr.Kind = apiclient.KindValidation
			if apiErr.Fields == nil {
				apiErr.Fields = map[string]string{field: "incorrect"}
			}
		}
	}
	return err
}

func validateBirthDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return &apiclient.Error{
			Kind:    apiclient.KindValidation,
			Message: "birth date must use YYYY-MM-DD",
			Fields:  map[string]string{"birth_date": "use YYYY-MM-DD"},
		}
	}
	return nil
}

func missingFields(values map[string]string) map[string]string {
	var fields map[string]string
	for k, v := range values {
		if strings.TrimSpace(v) == "" {
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[k] = "required"
		}
	}
	return fields
}
