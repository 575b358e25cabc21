// Package session owns per-user conversation state: the identity fields
// fixed at creation and the rolling history of turns.
package session

import (
	"context"
	"slices"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Turn is one message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Record is the durable state of one user. Nickname and AccountTag are set
// when the record is created and never change afterwards.
type Record struct {
	UserKey    string `json:"-"`
	Nickname   string `json:"nickname"`
	AccountTag string `json:"account_tag"`
	History    []Turn `json:"history"`
}

// Clone returns a copy whose history can be modified freely.
func (r Record) Clone() Record {
	r.History = slices.Clone(r.History)
	if r.History == nil {
		r.History = []Turn{}
	}
	return r
}

// Store persists the full set of records. Save always receives the whole
// mapping and replaces whatever was stored before.
type Store interface {
	// Load returns every stored record keyed by user key. A store that has
	// never been written returns an empty map and no error.
	Load(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, records map[string]Record) error
}
