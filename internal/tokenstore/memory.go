package tokenstore

import "sync"

type record struct {
	Tokens   TokenPair `json:"tokens"`
	Identity Identity  `json:"identity"`
	HasID    bool      `json:"has_identity"`
}

// Memory keeps credentials for the lifetime of the process.
type Memory struct {
	mu      sync.RWMutex
	records map[ActorKind]record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[ActorKind]record)}
}

func (m *Memory) Get(kind ActorKind) (TokenPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[kind]
	if !ok || r.Tokens.IsZero() {
		return TokenPair{}, false
	}
	return r.Tokens, true
}

func (m *Memory) Set(kind ActorKind, pair TokenPair) {
	if pair.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[kind]
	r.Tokens = pair
	m.records[kind] = r
}

func (m *Memory) Identity(kind ActorKind) (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[kind]
	if !ok || !r.HasID {
		return Identity{}, false
	}
	return r.Identity, true
}

func (m *Memory) SetIdentity(kind ActorKind, id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[kind]
	r.Identity = id
	r.HasID = true
	m.records[kind] = r
}

func (m *Memory) Clear(kind ActorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, kind)
}
