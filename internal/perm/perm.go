// Package perm defines document permission levels. Levels form a chain
// and are enforced server-side; clients only carry them for display and
// optimistic checks.
package perm

import "fmt"

type Level int

const (
	Deny Level = iota
	Read
	Write
	Maintain
	Own
)

var levelNames = map[Level]string{
	Deny:     "deny",
	Read:     "read",
	Write:    "write",
	Maintain: "maintain",
	Own:      "own",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "deny"
}

func (l Level) AtLeast(want Level) bool { return l >= want }

// Parse normalizes a wire string to a level, defaulting to deny.
func Parse(s string) Level {
	for l, name := range levelNames {
		if name == s {
			return l
		}
	}
	return Deny
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(text []byte) error {
	*l = Parse(string(text))
	return nil
}

// Permissions attaches to a document at creation time. Owner may be
// empty for anonymous documents; Anyone is the level granted to every
// user, authenticated or not.
type Permissions struct {
	Owner  string `json:"owner,omitempty"`
	Anyone Level  `json:"anyone"`
}

// Allows reports whether the user may act at the wanted level.
func (p Permissions) Allows(user string, want Level) bool {
	if p.Owner != "" && user == p.Owner {
		return Own.AtLeast(want)
	}
	return p.Anyone.AtLeast(want)
}

func (p Permissions) Validate() error {
	if p.Anyone < Deny || p.Anyone > Own {
		return fmt.Errorf("invalid anyone level %d", p.Anyone)
	}
	return nil
}
