// Package session holds per-conversation state for the gateway: the
// active entity under discussion and the sources of the last answer.
// Single-node deployments use the in-memory store; configuring a Redis
// address swaps in the shared store with identical semantics.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a missing or expired session.
var ErrNotFound = errors.New("session: not found")

// Course is the resolved owning course of the active entity.
type Course struct {
	ChunkID string `json:"chunk_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Title   string `json:"title,omitempty"`
}

// State is the conversation state for one session id.
type State struct {
	ID               string                   `json:"id"`
	ActiveEntityID   string                   `json:"active_entity_id,omitempty"`
	ActiveEntityName string                   `json:"active_entity_name,omitempty"`
	ActiveEntityType string                   `json:"active_entity_type,omitempty"`
	ActiveCourse     *Course                  `json:"active_course,omitempty"`
	LastSources      []string                 `json:"last_sources,omitempty"`
	LastPayloads     []map[string]interface{} `json:"last_payloads,omitempty"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Store persists conversation state with a TTL refreshed on every save.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) error
	// Touch extends the TTL without mutating the state.
	Touch(ctx context.Context, id string) error
}
