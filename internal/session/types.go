// Package session implements the client-side session protocol: it
// correlates the upload leg with the realtime channel, keeps the
// conversation history, and enforces single-flight request discipline with
// timeout- and disconnect-based recovery.
package session

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry in the conversation history. Messages are immutable
// once created; the history is append-only and only ever cleared wholesale.
type Message struct {
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Callbacks defines UI notifications emitted by the Coordinator.
// All callbacks are optional; nil callbacks are ignored. They are invoked
// with the coordinator's internal lock held, so they must not call back into
// the coordinator.
type Callbacks struct {
	// OnMessage is called for every message appended to the history,
	// including the caller's own optimistic user messages.
	OnMessage func(Message)

	// OnProgress is called when the upload progress percentage changes.
	OnProgress func(percent int)

	// OnProcessing is called when the processing lock flips.
	OnProcessing func(active bool)

	// OnImageCleared is called after ClearImage wiped the session.
	OnImageCleared func()
}
