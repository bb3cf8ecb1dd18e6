package recording

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

// fakeRecorder swaps pw-record for a local command producing raw bytes.
func fakeRecorder(name string, args ...string) *Recorder {
	r := NewDefaultRecorder()
	r.check = func(context.Context) error { return nil }
	r.command = func(ctx context.Context, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, name, args...)
	}
	return r
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SampleRate != 16000 {
		t.Errorf("default sample rate should be 16000, got %d", config.SampleRate)
	}
	if config.Channels != 1 {
		t.Errorf("default channels should be 1, got %d", config.Channels)
	}
	if config.Format != "s16" {
		t.Errorf("default format should be s16, got %s", config.Format)
	}
	if config.BufferSize != 8192 {
		t.Errorf("default buffer size should be 8192, got %d", config.BufferSize)
	}
	if config.ChannelBufferSize != 30 {
		t.Errorf("default channel buffer size should be 30, got %d", config.ChannelBufferSize)
	}
	if config.Timeout != 5*time.Minute {
		t.Errorf("default timeout should be 5m, got %v", config.Timeout)
	}
}

func TestRecorderValidateConfig(t *testing.T) {
	valid := DefaultConfig()
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"invalid sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"invalid channels", func(c *Config) { c.Channels = 0 }, true},
		{"invalid buffer size", func(c *Config) { c.BufferSize = 0 }, true},
		{"invalid channel buffer size", func(c *Config) { c.ChannelBufferSize = 0 }, true},
		{"empty format", func(c *Config) { c.Format = "" }, true},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, true},
		{"no timeout", func(c *Config) { c.Timeout = 0 }, false},
		{"unaligned buffer size", func(c *Config) { c.BufferSize = 8193 }, false},
		{"stereo", func(c *Config) { c.SampleRate = 48000; c.Channels = 2 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			err := NewRecorder(config).validateConfig()
			if tt.expectError && err == nil {
				t.Errorf("expected error for config %+v", config)
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error for config %+v: %v", config, err)
			}
		})
	}
}

func TestRecorderBuildPwRecordArgs(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected []string
	}{
		{
			name:     "default config",
			config:   DefaultConfig(),
			expected: []string{"--format", "s16", "--rate", "16000", "--channels", "1", "-"},
		},
		{
			name: "with device",
			config: Config{
				SampleRate: 48000,
				Channels:   2,
				Format:     "f32",
				Device:     "alsa_input.usb-mic",
			},
			expected: []string{"--format", "f32", "--rate", "48000", "--channels", "2", "-", "--target", "alsa_input.usb-mic"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := NewRecorder(tt.config).buildPwRecordArgs()
			if len(args) != len(tt.expected) {
				t.Fatalf("got %v, expected %v", args, tt.expected)
			}
			for i, arg := range args {
				if arg != tt.expected[i] {
					t.Errorf("arg[%d] = %q, expected %q", i, arg, tt.expected[i])
				}
			}
		})
	}
}

func TestRecorder_Capture(t *testing.T) {
	r := fakeRecorder("head", "-c", "6400", "/dev/zero")

	pcm, err := r.Capture(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(pcm) != 6400 {
		t.Errorf("captured %d bytes, want 6400", len(pcm))
	}
	if r.IsRecording() {
		t.Error("recorder should be idle after Capture")
	}
}

func TestRecorder_CaptureStopsAtDuration(t *testing.T) {
	r := fakeRecorder("sleep", "5")

	start := time.Now()
	_, err := r.Capture(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrEmptyCapture) {
		t.Errorf("expected ErrEmptyCapture, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Capture should stop near its duration, took %v", elapsed)
	}
}

func TestRecorder_CaptureRejectsBadDuration(t *testing.T) {
	if _, err := NewDefaultRecorder().Capture(context.Background(), 0); err == nil {
		t.Error("expected error for zero duration")
	}
}

func TestRecorder_StartFailsWhenUnavailable(t *testing.T) {
	r := NewDefaultRecorder()
	r.check = func(context.Context) error { return errors.New("no pipewire") }

	if _, _, err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error when PipeWire is unavailable")
	}
	if r.IsRecording() {
		t.Error("failed Start must leave the recorder idle")
	}
}

func TestRecorder_StartCommandFailure(t *testing.T) {
	r := fakeRecorder("/nonexistent/lanna-capture")

	frames, errs, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for range frames {
	}
	if err := <-errs; err == nil {
		t.Error("expected start error on the error channel")
	}
	r.Wait()
}

func TestRecorderErrorConditions(t *testing.T) {
	t.Run("double start", func(t *testing.T) {
		recorder := NewDefaultRecorder()
		recorder.recording.Store(true)
		defer recorder.recording.Store(false)

		_, _, err := recorder.Start(context.Background())
		if err == nil || err.Error() != "already recording" {
			t.Errorf("expected already recording, got %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		recorder := NewRecorder(Config{SampleRate: -1})
		if _, _, err := recorder.Start(context.Background()); err == nil {
			t.Error("Start should return error with invalid config")
		}
		if recorder.IsRecording() {
			t.Error("recorder should stay idle")
		}
	})

	t.Run("stop before start", func(t *testing.T) {
		if err := NewDefaultRecorder().Stop(); err != nil {
			t.Errorf("stop should not error when not recording: %v", err)
		}
	})
}
