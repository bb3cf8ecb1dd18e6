package tokenstore

import (
	"fmt"
	"strings"
)

// ActorKind names an independent token namespace.
type ActorKind string

const (
	User  ActorKind = "user"
	Admin ActorKind = "admin"
)

func (k ActorKind) String() string { return string(k) }

// ParseActorKind accepts "user" or "admin" (case-insensitive).
func ParseActorKind(s string) (ActorKind, error) {
	switch ActorKind(strings.ToLower(strings.TrimSpace(s))) {
	case User:
		return User, nil
	case Admin:
		return Admin, nil
	default:
		return "", fmt.Errorf("unknown actor kind: %q (must be user or admin)", s)
	}
}

// TokenPair is the credential pair issued by a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IsZero reports whether no access token is present.
func (p TokenPair) IsZero() bool { return p.AccessToken == "" }

// Identity is the actor the stored tokens belong to.
type Identity struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
}

// Store persists token pairs and identities per actor kind.
// Implementations never return errors: a storage failure is logged and the
// operation becomes a no-op, so Get must always be treated as possibly absent.
type Store interface {
	Get(kind ActorKind) (TokenPair, bool)
	Set(kind ActorKind, pair TokenPair)
	Identity(kind ActorKind) (Identity, bool)
	SetIdentity(kind ActorKind, id Identity)
	// Clear removes both the token pair and the identity.
	Clear(kind ActorKind)
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open builds a Store for the named backend. path is ignored for memory.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendFile:
		if path == "" {
			return nil, fmt.Errorf("file token store requires a path")
		}
		return NewFile(path), nil
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite token store requires a path")
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported token store backend: %s (must be memory, file, or sqlite)", backend)
	}
}

// MaskToken shortens a token for logs.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:6] + "..." + token[len(token)-4:]
}
