package session

import (
	"context"
	"errors"
	"time"

	"skill-forge/internal/agent"
	"skill-forge/internal/draft"
	"skill-forge/internal/protocol"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateAwaitingChannel State = "awaiting_channel"
	StateIdle            State = "idle"
	StateActive          State = "active"
	StateClosed          State = "closed"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrTooManyProcesses = errors.New("too many running agent processes")
)

// Info is a snapshot of a session.
type Info struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	HasChannel   bool      `json:"hasChannel"`
	HasProcess   bool      `json:"hasProcess"`
	Draft        string    `json:"draft,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Stats summarizes the registry.
type Stats struct {
	Sessions  int `json:"sessions"`
	Processes int `json:"processes"`
	Channels  int `json:"channels"`
	Pending   int `json:"pendingEvents"`
}

// Channel is a push connection to one client. Send blocks until the message
// is queued for delivery or the channel closes.
type Channel interface {
	ID() string
	Send(msg *protocol.Message) error
	Close()
	Done() <-chan struct{}
}

// Spawner starts agent processes. *agent.Runner implements it.
type Spawner interface {
	Start(ctx context.Context, sessionID string, opts agent.StartOptions, sink agent.Sink) (agent.Handle, error)
}

// Watcher observes draft directories on behalf of sessions.
type Watcher interface {
	Watch(sessionID, dir string) error
	Unwatch(sessionID string)
}

// ChatOptions is one user chat message.
type ChatOptions struct {
	Message string
	// Kind of draft scaffolded when a new process starts.
	Kind draft.Kind
	// Draft continues an existing draft when a new process starts.
	Draft string
}
