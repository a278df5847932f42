package markov

import (
	"encoding/json"
	"strings"
)

// DefaultStateSize is the number of words per chain unit used when a Root is
// created without an explicit state size.
const DefaultStateSize = 2

// Root is one logical chain instance. StateSize cannot change once the Root
// has been persisted.
type Root struct {
	ID        string `json:"id"`
	StateSize int    `json:"stateSize"`
}

// Entry is a node keyed by an observed block of StateSize words. Its child
// fragments are the windows that followed the block in some input sentence.
type Entry struct {
	ID     int64
	RootID string
	Block  string
}

// Role tags which kind of parent owns a Fragment.
type Role uint8

const (
	// RoleStart marks a fragment that can open a sentence.
	RoleStart Role = iota + 1
	// RoleEnd marks a fragment that can close a sentence.
	RoleEnd
	// RoleChild marks a continuation fragment owned by an Entry.
	RoleChild
)

func (r Role) String() string {
	switch r {
	case RoleStart:
		return "start"
	case RoleEnd:
		return "end"
	case RoleChild:
		return "child"
	default:
		return "unknown"
	}
}

// Parent identifies the single owner of a Fragment. The zero value is not a
// valid parent; use StartOf, EndOf or ChildOf.
type Parent struct {
	role    Role
	rootID  string
	entryID int64
}

// StartOf returns the parent for the start fragments of a root.
func StartOf(rootID string) Parent {
	return Parent{role: RoleStart, rootID: rootID}
}

// EndOf returns the parent for the end fragments of a root.
func EndOf(rootID string) Parent {
	return Parent{role: RoleEnd, rootID: rootID}
}

// ChildOf returns the parent for the continuation fragments of an entry.
func ChildOf(entry Entry) Parent {
	return Parent{role: RoleChild, rootID: entry.RootID, entryID: entry.ID}
}

// Role reports which kind of owner this is.
func (p Parent) Role() Role { return p.role }

// RootID is the root that ultimately owns the fragment.
func (p Parent) RootID() string { return p.rootID }

// EntryID is the owning entry for RoleChild parents and 0 otherwise.
func (p Parent) EntryID() int64 { return p.entryID }

// Fragment is a window of StateSize words with exactly one parent.
type Fragment struct {
	ID     int64
	Parent Parent
	Words  string
}

// Reference links a Fragment back to one original input string, plus the
// payload supplied with it the first time the pair was seen.
type Reference struct {
	ID         int64           `json:"-"`
	FragmentID int64           `json:"-"`
	String     string          `json:"string"`
	Custom     json.RawMessage `json:"custom,omitempty"`
}

// Item is a single corpus input: the sentence and an optional opaque payload.
type Item struct {
	String string          `json:"string"`
	Custom json.RawMessage `json:"custom,omitempty"`
}

// splitWords tokenizes on single spaces only. No normalization is applied, so
// double spaces produce empty words exactly as they appear.
func splitWords(s string) []string {
	return strings.Split(s, " ")
}

// wordCount counts the words of a joined window.
func wordCount(words string) int {
	return len(splitWords(words))
}

// window returns words[from:to] joined by spaces, clamping both bounds to the
// slice. An empty string means the window holds no words.
func window(words []string, from, to int) (string, int) {
	if from > len(words) {
		from = len(words)
	}
	if to > len(words) {
		to = len(words)
	}
	if from < 0 {
		from = 0
	}
	if to <= from {
		return "", 0
	}
	return strings.Join(words[from:to], " "), to - from
}
