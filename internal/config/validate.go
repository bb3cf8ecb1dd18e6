package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lannaspeech/lanna/internal/language"
)

func (c *Config) Validate() error {
	// Server
	if err := validateURL(c.Server.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("invalid server.base_url: %w", err)
	}
	if c.Server.RealtimeURL != "" {
		if err := validateURL(c.Server.RealtimeURL, "ws", "wss"); err != nil {
			return fmt.Errorf("invalid server.realtime_url: %w", err)
		}
	}

	// Session
	if c.Session.RefreshInterval < 0 {
		return fmt.Errorf("invalid session.refresh_interval: %v", c.Session.RefreshInterval)
	}
	validStores := map[string]bool{"memory": true, "file": true, "sqlite": true}
	if !validStores[c.Session.Store] {
		return fmt.Errorf("invalid session.store: %s (must be memory, file, or sqlite)", c.Session.Store)
	}
	if c.Session.Store != "memory" && strings.TrimSpace(c.Session.StorePath) == "" {
		return fmt.Errorf("invalid session.store_path: empty (required for %s store)", c.Session.Store)
	}

	// HTTP
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("invalid http.timeout: %v", c.HTTP.Timeout)
	}
	if c.HTTP.UploadTimeout <= 0 {
		return fmt.Errorf("invalid http.upload_timeout: %v", c.HTTP.UploadTimeout)
	}
	if c.HTTP.ProfileTimeout <= 0 {
		return fmt.Errorf("invalid http.profile_timeout: %v", c.HTTP.ProfileTimeout)
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid http.requests_per_second: %v", c.HTTP.RequestsPerSecond)
	}
	if c.HTTP.Burst < 0 {
		return fmt.Errorf("invalid http.burst: %d", c.HTTP.Burst)
	}

	// Upload
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("invalid upload.max_file_size: %d", c.Upload.MaxFileSize)
	}
	for _, ext := range c.Upload.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("invalid upload.allowed_extensions: %q (must start with a dot)", ext)
		}
	}

	// Translation
	if !language.IsSupported(c.Translation.SourceLang) {
		return fmt.Errorf("invalid translation.source_lang: %s (must be th or km)", c.Translation.SourceLang)
	}
	if !language.IsSupported(c.Translation.TargetLang) {
		return fmt.Errorf("invalid translation.target_lang: %s (must be th or km)", c.Translation.TargetLang)
	}
	if c.Translation.Debounce < 0 {
		return fmt.Errorf("invalid translation.debounce: %v", c.Translation.Debounce)
	}

	// Analytics
	if c.Analytics.Retries < 0 {
		return fmt.Errorf("invalid analytics.retries: %d", c.Analytics.Retries)
	}
	if c.Analytics.RetryDelay < 0 {
		return fmt.Errorf("invalid analytics.retry_delay: %v", c.Analytics.RetryDelay)
	}

	// Recording
	if c.Recording.SampleRate <= 0 {
		return fmt.Errorf("invalid recording.sample_rate: %d", c.Recording.SampleRate)
	}
	if c.Recording.Channels <= 0 {
		return fmt.Errorf("invalid recording.channels: %d", c.Recording.Channels)
	}
	if c.Recording.BufferSize <= 0 {
		return fmt.Errorf("invalid recording.buffer_size: %d", c.Recording.BufferSize)
	}
	if c.Recording.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid recording.channel_buffer_size: %d", c.Recording.ChannelBufferSize)
	}
	if c.Recording.Format == "" {
		return fmt.Errorf("invalid recording.format: empty")
	}
	if c.Recording.Timeout <= 0 {
		return fmt.Errorf("invalid recording.timeout: %v", c.Recording.Timeout)
	}

	// Notifications
	validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
	if c.Notifications.Enabled && !validTypes[c.Notifications.Type] {
		return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s (must be %s with a host)", raw, strings.Join(schemes, " or "))
}
