package config

import (
	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/notify"
	"github.com/lannaspeech/lanna/internal/recording"
	"github.com/lannaspeech/lanna/internal/session"
	"github.com/lannaspeech/lanna/internal/tokenstore"
)

func (c *Config) ToRecordingConfig() recording.Config {
	return recording.Config{
		SampleRate:        c.Recording.SampleRate,
		Channels:          c.Recording.Channels,
		Format:            c.Recording.Format,
		BufferSize:        c.Recording.BufferSize,
		Device:            c.Recording.Device,
		ChannelBufferSize: c.Recording.ChannelBufferSize,
		Timeout:           c.Recording.Timeout,
	}
}

// ToClientOptions returns the transport settings shared by every actor client.
func (c *Config) ToClientOptions() apiclient.Options {
	return apiclient.Options{
		BaseURL:           c.Server.BaseURL,
		Timeout:           c.HTTP.Timeout,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
		Burst:             c.HTTP.Burst,
	}
}

func (c *Config) OpenStore() (tokenstore.Store, error) {
	return tokenstore.Open(c.Session.Store, c.Session.StorePath)
}

func (c *Config) Notifier() notify.Notifier {
	if !c.Notifications.Enabled {
		return notify.Nop{}
	}
	return notify.FromConfig(c.Notifications.Type)
}

func (c *Config) ToSessionOptions(actor tokenstore.ActorKind, store tokenstore.Store) session.Options {
	interval := c.Session.RefreshInterval
	if interval == 0 {
		// zero in the file means disabled; the manager treats zero as default
		interval = -1
	}
	return session.Options{
		Actor:           actor,
		Endpoints:       session.EndpointsFor(actor),
		Store:           store,
		Client:          c.ToClientOptions(),
		RefreshInterval: interval,
		ProfileTimeout:  c.HTTP.ProfileTimeout,
		Notifier:        c.Notifier(),
	}
}
