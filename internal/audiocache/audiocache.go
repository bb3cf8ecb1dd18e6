// Package audiocache keeps the audio, transcription and translation a user is
// working on for the lifetime of their session.
package audiocache

import (
	"context"
	"log"
	"sync"

	"github.com/lannaspeech/lanna/internal/session"
)

type Entry struct {
	FileName      string `json:"file_name,omitempty"`
	Audio         []byte `json:"audio,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	Translation   string `json:"translation,omitempty"`
}

func (e Entry) IsZero() bool {
	return e.FileName == "" && len(e.Audio) == 0 && e.Transcription == "" && e.Translation == ""
}

type Cache struct {
	mu    sync.RWMutex
	entry Entry
}

func New() *Cache {
	return &Cache{}
}

// Get returns a copy of the current entry.
func (c *Cache) Get() Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entry
	e.Audio = append([]byte(nil), c.entry.Audio...)
	return e
}

// Update merges the non-empty fields of patch into the entry. A new file name
// or new audio starts a new item, so stale text from the previous one is
// dropped unless patch carries its own.
func (c *Cache) Update(patch Entry) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	newItem := (patch.FileName != "" && patch.FileName != c.entry.FileName) || len(patch.Audio) > 0
	if newItem {
		c.entry.Transcription = ""
		c.entry.Translation = ""
	}
	if patch.FileName != "" {
		c.entry.FileName = patch.FileName
	}
	if len(patch.Audio) > 0 {
		c.entry.Audio = append([]byte(nil), patch.Audio...)
	}
	if patch.Transcription != "" {
		c.entry.Transcription = patch.Transcription
	}
	if patch.Translation != "" {
		c.entry.Translation = patch.Translation
	}

	e := c.entry
	e.Audio = append([]byte(nil), c.entry.Audio...)
	return e
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = Entry{}
}

// Watch clears the cache whenever the session leaves Authenticated. It
// returns when ctx is done or states is closed.
func (c *Cache) Watch(ctx context.Context, states <-chan session.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if s == session.Anonymous {
				log.Printf("audiocache: session ended, clearing cached audio")
				c.Clear()
			}
		}
	}
}
