package notify

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	n := Log{}

	t.Run("SessionExpired", func(t *testing.T) {
		buf.Reset()
		n.SessionExpired("admin")
		if out := buf.String(); !strings.Contains(out, "Lanna") || !strings.Contains(out, "admin session expired") {
			t.Errorf("unexpected log output: %s", out)
		}
	})

	t.Run("Notify", func(t *testing.T) {
		buf.Reset()
		n.Notify("Refreshed", "user tokens renewed")
		out := buf.String()
		if !strings.Contains(out, "Refreshed") || !strings.Contains(out, "user tokens renewed") {
			t.Errorf("log output should contain title and message, got: %s", out)
		}
	})

	t.Run("Error", func(t *testing.T) {
		buf.Reset()
		n.Error("server unreachable")
		out := buf.String()
		if !strings.Contains(out, "Lanna Error") || !strings.Contains(out, "server unreachable") {
			t.Errorf("log output should contain error message, got: %s", out)
		}
	})
}

func TestNopNotifier(t *testing.T) {
	nop := Nop{}
	nop.SessionExpired("user")
	nop.Notify("title", "message")
	nop.Error("test message")
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		kind string
		want Notifier
	}{
		{"desktop", Desktop{}},
		{"log", Log{}},
		{"none", Nop{}},
		{"", Nop{}},
		{"unknown", Nop{}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			if got := FromConfig(tt.kind); got != tt.want {
				t.Errorf("FromConfig(%q) = %T, want %T", tt.kind, got, tt.want)
			}
		})
	}
}
