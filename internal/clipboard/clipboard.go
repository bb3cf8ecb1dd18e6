// Package clipboard copies transcriptions and translations to the system
// clipboard and reads text back from it.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

const DefaultTimeout = 3 * time.Second

// ErrUnavailable is returned when no clipboard tool can be found.
var ErrUnavailable = errors.New("no clipboard tool found (install wl-clipboard, xclip or xsel)")

// Clipboard prefers wl-copy/wl-paste on Wayland and falls back to whatever
// atotto/clipboard finds (xclip, xsel, pbcopy).
type Clipboard struct {
	timeout time.Duration
	// overridable in tests
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
	wayland  bool
}

func New(timeout time.Duration) *Clipboard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Clipboard{
		timeout:  timeout,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
		wayland:  os.Getenv("WAYLAND_DISPLAY") != "",
	}
}

func (c *Clipboard) useWayland() bool {
	if !c.wayland {
		return false
	}
	_, err := c.lookPath("wl-copy")
	return err == nil
}

func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("nothing to copy")
	}
	if c.useWayland() {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		cmd := c.command(ctx, "wl-copy")
		cmd.Stdin = strings.NewReader(text)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("wl-copy failed: %w", err)
		}
		return nil
	}
	if clipboard.Unsupported {
		return ErrUnavailable
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}

// Paste returns the clipboard text.
func (c *Clipboard) Paste(ctx context.Context) (string, error) {
	if c.useWayland() {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out, err := c.command(ctx, "wl-paste", "--no-newline").Output()
		if err != nil {
			return "", fmt.Errorf("wl-paste failed: %w", err)
		}
		return string(out), nil
	}
	if clipboard.Unsupported {
		return "", ErrUnavailable
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}
