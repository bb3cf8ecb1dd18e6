package tui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/config"
	"github.com/lannaspeech/lanna/internal/realtime"
)

func newPlainPrinter(t *testing.T) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut), &out, &errOut
}

func TestPrinter_Plain(t *testing.T) {
	p, out, errOut := newPlainPrinter(t)
	if !p.Plain() {
		t.Fatal("expected plain output for a buffer with NO_COLOR")
	}

	p.Header("Profile")
	p.Field("username", "alice")
	p.Field("email", "")
	p.Success("saved %d records", 2)
	p.Warn("slow down")
	p.Error(&apiclient.Error{Kind: apiclient.KindNotFound, Message: "user 9"})

	want := "Profile\n\n  username: alice\n  email: -\n✓ saved 2 records\n"
	if out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
	wantErr := "! slow down\n✗ Not found: user 9\n"
	if errOut.String() != wantErr {
		t.Errorf("stderr = %q, want %q", errOut.String(), wantErr)
	}
}

func TestPrinter_Table(t *testing.T) {
	p, out, _ := newPlainPrinter(t)

	table := p.Table("id", "username")
	table.AddRow("7", "alice")
	table.AddRow("8", "bob")
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}
	if err := table.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	got := out.String()
	for _, s := range []string{"alice", "bob", "7", "8"} {
		if !strings.Contains(got, s) {
			t.Errorf("table output missing %q:\n%s", s, got)
		}
	}
	if !strings.Contains(strings.ToUpper(got), "USERNAME") {
		t.Errorf("table output missing header:\n%s", got)
	}
	if strings.Index(got, "alice") > strings.Index(got, "bob") {
		t.Errorf("rows out of order:\n%s", got)
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("file not found"), "file not found"},
		{
			"network",
			&apiclient.Error{Kind: apiclient.KindNetwork, Err: errors.New("dial tcp: refused")},
			"Cannot reach the Lanna server. Check the server address and your connection.",
		},
		{"timeout", &apiclient.Error{Kind: apiclient.KindTimeout}, "The request timed out. Try again."},
		{"canceled", &apiclient.Error{Kind: apiclient.KindCanceled, Err: context.Canceled}, "Request canceled."},
		{"expired", &apiclient.Error{Kind: apiclient.KindAuthExpired}, "Your session has expired. Sign in again."},
		{"unauthorized", &apiclient.Error{Kind: apiclient.KindUnauthorized, Message: "admin only"}, "Not authorized: admin only"},
		{"server", &apiclient.Error{Kind: apiclient.KindServer, Message: "boom"}, "Server error: boom"},
		{"wrapped", fmt.Errorf("load profile: %w", &apiclient.Error{Kind: apiclient.KindNotFound, Message: "no such user"}), "Not found: no such user"},
		{"validation without fields", &apiclient.Error{Kind: apiclient.KindValidation, Message: "bad input"}, "bad input"},
		{
			"validation single field",
			&apiclient.Error{Kind: apiclient.KindValidation, Message: "email is invalid", Fields: map[string]string{"email": "is invalid"}},
			"email: is invalid",
		},
		{
			"validation fields sorted",
			&apiclient.Error{Kind: apiclient.KindValidation, Message: "invalid input", Fields: map[string]string{"username": "taken", "email": "is invalid"}},
			"invalid input\n  email: is invalid\n  username: taken",
		},
		{"reply", &realtime.ReplyError{Event: "translate", Message: "model unavailable"}, "Server rejected the request: model unavailable"},
		{"disconnected", fmt.Errorf("translate: %w", realtime.ErrDisconnected), "Lost the realtime connection to the server."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatError(tt.err); got != tt.want {
				t.Errorf("FormatError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogo(t *testing.T) {
	logo := Logo()
	if !strings.Contains(logo, "|_|\\__,_|") {
		t.Errorf("Logo() missing art:\n%s", logo)
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) error
		input string
		ok    bool
	}{
		{"duration", validDuration, "15m", true},
		{"duration zero", validDuration, "0", true},
		{"duration negative", validDuration, "-1s", false},
		{"duration garbage", validDuration, "soon", false},
		{"positive int", validPositiveInt, " 1024 ", true},
		{"positive int zero", validPositiveInt, "0", false},
		{"non-negative int", validNonNegativeInt, "0", true},
		{"non-negative int negative", validNonNegativeInt, "-2", false},
		{"float", validNonNegativeFloat, "2.5", true},
		{"float negative", validNonNegativeFloat, "-0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.input)
			if (err == nil) != tt.ok {
				t.Errorf("check(%q) error = %v, want ok=%v", tt.input, err, tt.ok)
			}
		})
	}
}

func TestCheckURL(t *testing.T) {
	if err := checkURL("https://lanna.example/api", "http", "https"); err != nil {
		t.Errorf("https URL rejected: %v", err)
	}
	if err := checkURL("wss://lanna.example/ws", "ws", "wss"); err != nil {
		t.Errorf("wss URL rejected: %v", err)
	}
	if err := checkURL("lanna.example", "http", "https"); err == nil {
		t.Error("URL without scheme accepted")
	}
	if err := checkURL("http://", "http", "https"); err == nil {
		t.Error("URL without host accepted")
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration(" 750ms ")
	if err != nil || d != 750*time.Millisecond {
		t.Errorf("parseDuration() = %v, %v", d, err)
	}
}

func TestSummaryAndLabels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Session.RefreshInterval = 0
	cfg.Notifications.Enabled = false

	summary := strings.Join(summaryLines(cfg), "\n")
	for _, s := range []string{cfg.Server.BaseURL, "th → km", "10 MB", "off"} {
		if !strings.Contains(summary, s) {
			t.Errorf("summary missing %q:\n%s", s, summary)
		}
	}

	if got := sectionLabel(cfg, SectionNotifications); got != "Notifications (off)" {
		t.Errorf("notifications label = %q", got)
	}
	cfg.Notifications.Enabled = true
	cfg.Notifications.Type = "desktop"
	if got := sectionLabel(cfg, SectionNotifications); got != "Notifications (desktop)" {
		t.Errorf("notifications label = %q", got)
	}
	if got := sectionLabel(cfg, SectionServer); !strings.Contains(got, cfg.Server.BaseURL) {
		t.Errorf("server label = %q", got)
	}
}
