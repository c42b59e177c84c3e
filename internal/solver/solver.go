// Package solver defines the opaque messaging channel the orchestrator uses
// to talk to an external solver agent. The transport itself, how the bytes
// actually travel, is an external collaborator; this package only fixes the
// shape of one request/reply exchange.
package solver

import "context"

// Message is one request to the solver: either the initial task payload for
// a brand-new conversation, or a follow-up payload continuing an existing
// one. Payload is opaque JSON-serializable data; the solver package never
// inspects its fields.
type Message struct {
	// New marks this as the conversation's first message. The transport may
	// use this to open a new session rather than continue one.
	New bool
	// Payload is serialized to JSON text before it crosses the channel.
	Payload any
}

// Messenger sends one message to a solver endpoint and returns its reply as
// raw text. A Messenger implementation owns request timeouts and retries;
// Send should return promptly once it has a reply or a terminal error.
type Messenger interface {
	Send(ctx context.Context, endpoint string, msg Message) (reply string, err error)
}
