package config

import "time"

type Config struct {
	Server        ServerConfig        `toml:"server"`
	Session       SessionConfig       `toml:"session"`
	HTTP          HTTPConfig          `toml:"http"`
	Upload        UploadConfig        `toml:"upload"`
	Translation   TranslationConfig   `toml:"translation"`
	Analytics     AnalyticsConfig     `toml:"analytics"`
	Recording     RecordingConfig     `toml:"recording"`
	Notifications NotificationsConfig `toml:"notifications"`
}

type ServerConfig struct {
	BaseURL     string `toml:"base_url" env:"BASE_URL"`
	RealtimeURL string `toml:"realtime_url" env:"REALTIME_URL"`
}

type SessionConfig struct {
	RefreshInterval time.Duration `toml:"refresh_interval" env:"REFRESH_INTERVAL"`
	Store           string        `toml:"store" env:"STORE"` // "memory", "file", "sqlite"
	StorePath       string        `toml:"store_path" env:"STORE_PATH"`
}

type HTTPConfig struct {
	Timeout           time.Duration `toml:"timeout"`
	UploadTimeout     time.Duration `toml:"upload_timeout"`
	ProfileTimeout    time.Duration `toml:"profile_timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"` // 0 = unlimited
	Burst             int           `toml:"burst"`
}

type UploadConfig struct {
	MaxFileSize       int64    `toml:"max_file_size"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

type TranslationConfig struct {
	SourceLang string        `toml:"source_lang"`
	TargetLang string        `toml:"target_lang"`
	Debounce   time.Duration `toml:"debounce"`
}

type AnalyticsConfig struct {
	Retries    int           `toml:"retries"`
	RetryDelay time.Duration `toml:"retry_delay"`
}

type RecordingConfig struct {
	SampleRate        int           `toml:"sample_rate"`
	Channels          int           `toml:"channels"`
	Format            string        `toml:"format"`
	BufferSize        int           `toml:"buffer_size"`
	Device            string        `toml:"device"`
	ChannelBufferSize int           `toml:"channel_buffer_size"`
	Timeout           time.Duration `toml:"timeout"`
}

type NotificationsConfig struct {
	Enabled bool   `toml:"enabled"`
	Type    string `toml:"type"` // "desktop", "log", "none"
}
