package store

import (
	"encoding/json"
	"time"

	"catbook/api/internal/perm"

	"github.com/google/uuid"
)

// User is one externally authenticated account. Username is nil until
// the user claims one.
type User struct {
	ID          string
	Username    *string
	DisplayName string
	CreatedAt   time.Time
}

// Ref is one persistent document identity. Its head points at the
// snapshot being autosaved into; earlier snapshots are frozen history.
type Ref struct {
	ID        uuid.UUID
	DocType   string
	Head      int64
	CreatedAt time.Time
}

type Snapshot struct {
	ID          int64
	ForRef      uuid.UUID
	Content     json.RawMessage
	LastUpdated time.Time
	Frozen      bool
}

// RefPermissions is the stored permission set of one ref: the owner,
// the level granted to anyone, and per-user grants.
type RefPermissions struct {
	Owner  string
	Anyone perm.Level
	Users  map[string]perm.Level
}

// Allows reports whether the user holds at least the wanted level.
func (p RefPermissions) Allows(user string, want perm.Level) bool {
	if user != "" && user == p.Owner {
		return true
	}
	level := p.Anyone
	if user != "" {
		if granted, ok := p.Users[user]; ok && granted > level {
			level = granted
		}
	}
	return level.AtLeast(want)
}

// RefStub is the listing/search projection of a ref.
type RefStub struct {
	ID        uuid.UUID
	DocType   string
	Name      string
	Owner     string
	UpdatedAt time.Time
}
