package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:     "http://localhost:8080/api",
			RealtimeURL: "ws://localhost:8080/ws",
		},
		Session: SessionConfig{
			RefreshInterval: 15 * time.Minute,
			Store:           "file",
			StorePath:       defaultStorePath("credentials.json"),
		},
		HTTP: HTTPConfig{
			Timeout:        15 * time.Second,
			UploadTimeout:  30 * time.Second,
			ProfileTimeout: 5 * time.Second,
			Burst:          1,
		},
		Upload: UploadConfig{
			MaxFileSize:       10 << 20,
			AllowedExtensions: []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"},
		},
		Translation: TranslationConfig{
			SourceLang: "th",
			TargetLang: "km",
			Debounce:   500 * time.Millisecond,
		},
		Analytics: AnalyticsConfig{
			Retries:    3,
			RetryDelay: time.Second,
		},
		Recording: RecordingConfig{
			SampleRate:        16000,
			Channels:          1,
			Format:            "s16",
			BufferSize:        8192,
			Device:            "",
			ChannelBufferSize: 30,
			Timeout:           5 * time.Minute,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Type:    "log",
		},
	}
}

func defaultStorePath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "lanna", name)
}
