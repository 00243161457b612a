package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound event names delivered by the analysis backend.
const (
	// EventConnectionResponse is the handshake frame sent by the server
	// right after the WebSocket is accepted. It carries the connection
	// identifier used to correlate uploads with this channel.
	EventConnectionResponse = "connection_response"

	// EventMessage is a chat turn from the assistant.
	EventMessage = "message"

	// EventTyping toggles the backend's "working on it" indicator.
	EventTyping = "typing"

	// EventMetadataResult carries the result of an image analysis.
	EventMetadataResult = "metadata_result"

	// EventError is a backend-reported error.
	EventError = "error"

	// EventImageUploaded is an advisory notification that an upload
	// correlated with this connection finished server-side.
	EventImageUploaded = "image_uploaded"
)

// Outbound event names sent to the analysis backend.
const (
	// EventAnalyzeImage asks the backend to analyze an uploaded image.
	EventAnalyzeImage = "analyze_image"

	// EventClearImage tells the backend the active image was discarded.
	EventClearImage = "clear_image"
)

// Lifecycle pseudo-events synthesized locally by the Manager. They are never
// parsed off the wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Frame is the wire format for channel events: a named event with an
// optional JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseFrame decodes a wire frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("parse frame: missing event name")
	}
	return f, nil
}

// ConnectionResponseData is the payload of a connection_response frame.
type ConnectionResponseData struct {
	SID     string `json:"sid"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// MessageData is the payload of an inbound message event.
type MessageData struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TypingData is the payload of a typing event.
type TypingData struct {
	Status bool `json:"status"`
}

// MetadataResultData is the payload of a metadata_result event. Analysis is
// the conversational answer when the backend ran the language model; it is
// empty for plain metadata extraction.
type MetadataResultData struct {
	Metadata       map[string]any `json:"metadata"`
	Analysis       string         `json:"analysis,omitempty"`
	OriginalPrompt string         `json:"original_prompt,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// ImageUploadedData is the payload of an image_uploaded event.
type ImageUploadedData struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OutboundMessage is the payload of an outbound message event: the user's
// question plus the server-side path of the image it refers to.
type OutboundMessage struct {
	Content   string `json:"content"`
	ImagePath string `json:"image_path,omitempty"`
}

// AnalyzeImageData is the payload of an outbound analyze_image event.
type AnalyzeImageData struct {
	ImagePath string `json:"image_path"`
}
