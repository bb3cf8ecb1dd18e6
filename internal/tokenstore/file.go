package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// File persists credentials as a JSON document readable only by the owner.
// Every mutation rewrites the whole file through a temp file and rename.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

func (f *File) Get(kind ActorKind) (TokenPair, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.load()
	if err != nil {
		log.Printf("tokenstore: read %s: %v", f.path, err)
		return TokenPair{}, false
	}
	r, ok := records[kind]
	if !ok || r.Tokens.IsZero() {
		return TokenPair{}, false
	}
	return r.Tokens, true
}

func (f *File) Set(kind ActorKind, pair TokenPair) {
	if pair.IsZero() {
		return
	}
	f.update(func(records map[ActorKind]record) {
		r := records[kind]
		r.Tokens = pair
		records[kind] = r
	})
}

func (f *File) Identity(kind ActorKind) (Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.load()
	if err != nil {
		log.Printf("tokenstore: read %s: %v", f.path, err)
		return Identity{}, false
	}
	r, ok := records[kind]
	if !ok || !r.HasID {
		return Identity{}, false
	}
	return r.Identity, true
}

func (f *File) SetIdentity(kind ActorKind, id Identity) {
	f.update(func(records map[ActorKind]record) {
		r := records[kind]
		r.Identity = id
		r.HasID = true
		records[kind] = r
	})
}

func (f *File) Clear(kind ActorKind) {
	f.update(func(records map[ActorKind]record) {
		delete(records, kind)
	})
}

func (f *File) update(mutate func(map[ActorKind]record)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		log.Printf("tokenstore: read %s: %v", f.path, err)
		return
	}
	mutate(records)
	if err := f.save(records); err != nil {
		log.Printf("tokenstore: write %s: %v", f.path, err)
	}
}

func (f *File) load() (map[ActorKind]record, error) {
	records := make(map[ActorKind]record)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return records, nil
}

func (f *File) save(records map[ActorKind]record) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
