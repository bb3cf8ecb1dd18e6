package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Kind classifies a failed request for display.
type Kind string

const (
	KindNetwork      Kind = "network_unreachable"
	KindTimeout      Kind = "timeout"
	KindCanceled     Kind = "canceled"
	KindServer       Kind = "server_error"
	KindValidation   Kind = "validation_error"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindAuthExpired  Kind = "auth_expired"
)

// Error is returned for every failed request.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int // zero when no response was received
	Message    string
	Fields     map[string]string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "api error"
	}
	var b strings.Builder
	if e.Method != "" {
		fmt.Fprintf(&b, "%s %s: ", e.Method, e.Path)
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FieldErrors returns field-level validation details carried by err, if any.
func FieldErrors(err error) map[string]string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Fields
	}
	return nil
}

// transportError classifies a failure where no response was received.
func transportError(ctx context.Context, method, path string, err error) *Error {
	e := &Error{Method: method, Path: path, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		e.Kind = KindTimeout
		e.Message = "request timed out"
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		e.Kind = KindCanceled
		e.Message = "request canceled"
	default:
		e.Kind = KindNetwork
		e.Message = "no response from server"
	}
	return e
}

// statusError classifies a response with an error status.
func statusError(method, path string, status int, body []byte) *Error {
	e := &Error{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Message:    errorMessage(body),
		Fields:     fieldErrors(body),
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = KindUnauthorized
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status >= 400 && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindServer
	}
	return e
}

var messageKeys = []string{"error", "message", "details", "msg"}

// maxMessageLen bounds, in bytes, the message taken from a non-JSON body.
const maxMessageLen = 200

// errorMessage extracts the first human message from a JSON error body.
// Non-JSON bodies are returned trimmed.
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxMessageLen {
			cut := maxMessageLen
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			msg = msg[:cut]
		}
		return msg
	}
	for _, key := range messageKeys {
		v := gjson.GetBytes(body, key)
		if v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// fieldErrors extracts {"errors": {"field": "msg"}} or {"fields": {...}} details.
func fieldErrors(body []byte) map[string]string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	var fields map[string]string
	for _, key := range []string{"errors", "fields"} {
		v := gjson.GetBytes(body, key)
		if !v.IsObject() {
			continue
		}
		v.ForEach(func(k, val gjson.Result) bool {
			if fields == nil {
				fields = make(map[string]string)
			}
			if val.IsArray() {
				parts := val.Array()
				msgs := make([]string, 0, len(parts))
				for _, p := range parts {
					msgs = append(msgs, p.String())
				}
				fields[k.String()] = strings.Join(msgs, "; ")
			} else {
				fields[k.String()] = val.String()
			}
			return true
		})
	}
	return fields
}
