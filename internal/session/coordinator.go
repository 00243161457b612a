package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/esannihith/Image-meta-attribute-ai/internal/realtime"
	"github.com/esannihith/Image-meta-attribute-ai/internal/upload"
)

// User-facing message text for locally generated assistant messages.
const (
	msgOfflinePreview = "Image preview is ready, but analysis is unavailable while disconnected from the server."
	msgOfflineAsk     = "Not connected to the analysis server, so your question could not be sent. It will not be retried."
	msgUploadFailed   = "Upload failed. Please try again."
	msgUploadNetwork  = "Upload failed because of a network error. Please check your connection and try again."
	msgMissingPath    = "Upload succeeded but the server response was missing the stored file path."
	msgProcessed      = "Image processed successfully. You can now ask questions about it."
	msgTimeout        = "The server took too long to respond. Please try asking again."

	// errorPrefix marks backend-reported errors in the transcript.
	errorPrefix = "Error: "
)

// Channel is the realtime transport consumed by the coordinator. It is
// satisfied by *realtime.Manager.
type Channel interface {
	IsConnected() bool
	ConnectionID() string
	Send(event string, payload any) error
	On(event string, h realtime.Handler)
}

// Uploader is the bulk-upload primitive consumed by the coordinator: submit
// a file, observe progress, receive exactly one terminal outcome. It is
// satisfied by *upload.Client.
type Uploader interface {
	Upload(ctx context.Context, path, socketID string, progress upload.ProgressFunc) upload.Outcome
}

// Config configures a Coordinator.
type Config struct {
	Channel  Channel
	Uploader Uploader
	// Previews is the local preview store; optional.
	Previews *PreviewStore
	// Callbacks receive UI notifications; all optional.
	Callbacks Callbacks
	// QuestionTimeout bounds how long a question may await an answer.
	// Defaults to 60 seconds.
	QuestionTimeout time.Duration
	Logger          *slog.Logger
}

// Coordinator drives one analysis session: it submits uploads, asks
// questions over the channel, and reacts to inbound events to maintain the
// conversation history and the single-flight processing lock.
//
// All state lives behind one mutex taken by every entry point (operations,
// inbound reactor, upload callbacks, the timeout timer), so each reaction is
// atomic. Inbound events are delivered by the channel's single read loop and
// therefore processed in arrival order. The processing lock is a
// protocol-level single-flight guarantee, not a concurrency primitive:
// callers are expected to refuse new requests at the UI boundary while it is
// held, and the coordinator does not re-check beyond its documented
// preconditions.
type Coordinator struct {
	channel         Channel
	uploader        Uploader
	previews        *PreviewStore
	cb              Callbacks
	questionTimeout time.Duration
	logger          *slog.Logger

	mu         sync.Mutex
	history    []Message
	preview    *Preview
	imagePath  string // server-side path of the active image
	processing bool
	progress   int
	timeout    *time.Timer
	uploadSeq  int // generation counter: progress and outcomes of superseded uploads are ignored
}

// New creates a Coordinator and subscribes its reactor to the channel.
// Subscriptions are per event name and survive reconnects.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		channel:         cfg.Channel,
		uploader:        cfg.Uploader,
		previews:        cfg.Previews,
		cb:              cfg.Callbacks,
		questionTimeout: cfg.QuestionTimeout,
		logger:          cfg.Logger,
	}
	if c.questionTimeout <= 0 {
		c.questionTimeout = 60 * time.Second
	}

	for _, event := range []string{
		realtime.EventMessage,
		realtime.EventTyping,
		realtime.EventMetadataResult,
		realtime.EventError,
		realtime.EventImageUploaded,
		realtime.EventDisconnect,
	} {
		event := event
		c.channel.On(event, func(data json.RawMessage) {
			c.handleEvent(event, data)
		})
	}

	return c
}

// BeginUpload submits an image for analysis. The caller is responsible for
// static validation (file type and size); it is not re-checked here.
//
// A local preview is created immediately, independent of network success.
// When connected, the upload runs in the background: progress updates arrive
// through Callbacks.OnProgress, and the processing lock is held until the
// analysis result (not merely the upload response) arrives over the channel,
// or a terminal failure is observed. BeginUpload never blocks the caller.
func (c *Coordinator) BeginUpload(path string) {
	c.mu.Lock()

	if c.previews != nil {
		if p, err := c.previews.Save(path); err == nil {
			if c.preview != nil {
				c.previews.Remove(c.preview.ID)
			}
			c.preview = &p
		} else if c.logger != nil {
			c.logger.Warn("failed to save preview", "path", path, "error", err)
		}
	}

	c.progress = 0
	c.notifyProgressLocked()

	if !c.channel.IsConnected() {
		c.appendLocked(SenderAssistant, msgOfflinePreview)
		c.mu.Unlock()
		return
	}

	c.setProcessingLocked(true)
	c.uploadSeq++
	seq := c.uploadSeq
	sid := c.channel.ConnectionID()
	c.mu.Unlock()

	go c.runUpload(seq, path, sid)
}

// runUpload drives one upload attempt to its terminal outcome.
func (c *Coordinator) runUpload(seq int, path, sid string) {
	outcome := c.uploader.Upload(context.Background(), path, sid, func(pct int) {
		c.mu.Lock()
		if seq == c.uploadSeq && pct > c.progress {
			if pct > 100 {
				pct = 100
			}
			c.progress = pct
			c.notifyProgressLocked()
		}
		c.mu.Unlock()
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.uploadSeq {
		// A newer upload superseded this one; its terminal handling
		// owns the lock and progress now.
		return
	}

	switch outcome.Status {
	case upload.StatusNetworkFailure:
		if c.logger != nil {
			c.logger.Warn("upload network failure", "error", outcome.Err)
		}
		c.appendLocked(SenderAssistant, msgUploadNetwork)
		c.resolveLocked()

	case upload.StatusHTTPFailure:
		text := msgUploadFailed
		if outcome.ErrorBody != "" {
			text = errorPrefix + outcome.ErrorBody
		}
		c.appendLocked(SenderAssistant, text)
		c.resolveLocked()

	case upload.StatusSuccess:
		c.handleUploadPayloadLocked(outcome.Payload)
	}
}

// handleUploadPayloadLocked reacts to the structured payload of an
// HTTP-level successful upload. On application-level success the lock stays
// held: the backend analyzes the image out-of-band and reports back over the
// channel, and only that result (or an error, timeout, or disconnect)
// resolves the request.
func (c *Coordinator) handleUploadPayloadLocked(p *upload.Payload) {
	if p == nil || !p.Success {
		text := msgUploadFailed
		if p != nil && p.Error != "" {
			text = errorPrefix + p.Error
		}
		c.appendLocked(SenderAssistant, text)
		c.resolveLocked()
		return
	}

	fi, ok := p.FileInfo()
	if !ok || fi.FilePath == "" {
		c.appendLocked(SenderAssistant, msgMissingPath)
		c.resolveLocked()
		return
	}

	c.imagePath = fi.FilePath

	if err := c.channel.Send(realtime.EventAnalyzeImage, realtime.AnalyzeImageData{ImagePath: fi.FilePath}); err != nil {
		// The channel dropped between the upload and the analysis
		// request; the disconnect reactor has released or will release
		// the lock, but resolve here too in case the send failed for
		// another reason.
		if c.logger != nil {
			c.logger.Warn("failed to request analysis", "error", err)
		}
		c.appendLocked(SenderAssistant, msgOfflinePreview)
		c.resolveLocked()
	}
}

// Ask sends a question about the active image. The user's message is
// appended optimistically, regardless of connectivity. Asking requires an
// analyzed image; calls without one are ignored (the UI disables input in
// that state). Ask never blocks the caller.
func (c *Coordinator) Ask(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.imagePath == "" {
		return
	}

	c.appendLocked(SenderUser, text)

	if !c.channel.IsConnected() {
		c.appendLocked(SenderAssistant, msgOfflineAsk)
		return
	}

	c.setProcessingLocked(true)

	// Exactly one timer is live at a time.
	if c.timeout != nil {
		c.timeout.Stop()
	}
	c.timeout = time.AfterFunc(c.questionTimeout, c.onQuestionTimeout)

	if err := c.channel.Send(realtime.EventMessage, realtime.OutboundMessage{
		Content:   text,
		ImagePath: c.imagePath,
	}); err != nil {
		// Dropped between the connectivity check and the write.
		if c.logger != nil {
			c.logger.Warn("failed to send question", "error", err)
		}
		c.appendLocked(SenderAssistant, msgOfflineAsk)
		c.resolveLocked()
	}
}

// onQuestionTimeout fires when a question has awaited an answer too long.
// A timer that lost the race with a terminal event finds its handle already
// cleared and does nothing.
func (c *Coordinator) onQuestionTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout == nil {
		return
	}
	c.timeout = nil

	if c.logger != nil {
		c.logger.Warn("question timed out", "timeout", c.questionTimeout)
	}
	c.appendLocked(SenderAssistant, msgTimeout)
	c.setProcessingLocked(false)
}

// ClearImage discards the active image and the conversation wholesale: the
// preview is revoked, the history cleared, and any in-flight request state
// abandoned. When connected, the backend is notified best-effort; a failure
// to notify is not surfaced. Idempotent.
func (c *Coordinator) ClearImage() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.preview != nil && c.previews != nil {
		c.previews.Remove(c.preview.ID)
	}
	c.preview = nil
	c.imagePath = ""
	c.history = nil
	c.progress = 0
	c.resolveLocked()

	if c.channel.IsConnected() {
		if err := c.channel.Send(realtime.EventClearImage, struct{}{}); err != nil && c.logger != nil {
			c.logger.Debug("clear_image notification failed", "error", err)
		}
	}

	if c.cb.OnImageCleared != nil {
		c.cb.OnImageCleared()
	}
}

// handleEvent is the inbound reactor: every named channel event (and the
// locally synthesized disconnect) funnels through here, serialized by the
// coordinator lock.
func (c *Coordinator) handleEvent(event string, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event {
	case realtime.EventMessage:
		var d realtime.MessageData
		if err := json.Unmarshal(data, &d); err != nil {
			c.logMalformed(event, err)
			return
		}
		// Late answers after a timeout are appended rather than
		// suppressed: dropping them could lose a legitimate reply.
		c.appendLocked(SenderAssistant, d.Content)
		c.resolveLocked()

	case realtime.EventTyping:
		var d realtime.TypingData
		if err := json.Unmarshal(data, &d); err != nil {
			c.logMalformed(event, err)
			return
		}
		// Typing mirrors the backend's activity into the lock directly.
		// It is the only path that moves the lock without touching the
		// question timer.
		if c.processing != d.Status {
			c.processing = d.Status
			c.notifyProcessingLocked()
		}

	case realtime.EventMetadataResult:
		var d realtime.MetadataResultData
		if err := json.Unmarshal(data, &d); err != nil {
			c.logMalformed(event, err)
			return
		}
		text := d.Analysis
		if text == "" {
			text = msgProcessed
		}
		c.appendLocked(SenderAssistant, text)
		if c.progress < 100 {
			c.progress = 100
			c.notifyProgressLocked()
		}
		c.resolveLocked()

	case realtime.EventError:
		var d realtime.ErrorData
		if err := json.Unmarshal(data, &d); err != nil {
			c.logMalformed(event, err)
			return
		}
		c.appendLocked(SenderAssistant, errorPrefix+d.Message)
		c.resolveLocked()

	case realtime.EventImageUploaded:
		var d realtime.ImageUploadedData
		if err := json.Unmarshal(data, &d); err != nil {
			c.logMalformed(event, err)
			return
		}
		// Advisory only: the lock and timer are untouched.
		if d.Message != "" {
			c.appendLocked(SenderAssistant, d.Message)
		}

	case realtime.EventDisconnect:
		// In-flight request state is abandoned; history and the image
		// reference survive the drop.
		c.resolveLocked()
	}
}

// resolveLocked processes a terminal outcome: it cancels the pending
// question timeout and releases the processing lock. Every terminal path
// (answer, analysis result, error, timeout, disconnect, upload failure)
// funnels through here so cancel-on-terminal is enforced in one place.
func (c *Coordinator) resolveLocked() {
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	c.setProcessingLocked(false)
}

// setProcessingLocked flips the processing lock, notifying only on change.
func (c *Coordinator) setProcessingLocked(active bool) {
	if c.processing == active {
		return
	}
	c.processing = active
	c.notifyProcessingLocked()
}

func (c *Coordinator) notifyProcessingLocked() {
	if c.cb.OnProcessing != nil {
		c.cb.OnProcessing(c.processing)
	}
}

func (c *Coordinator) notifyProgressLocked() {
	if c.cb.OnProgress != nil {
		c.cb.OnProgress(c.progress)
	}
}

// appendLocked appends a message to the history and notifies the UI.
func (c *Coordinator) appendLocked(sender Sender, content string) {
	msg := Message{Content: content, Sender: sender, Timestamp: time.Now()}
	c.history = append(c.history, msg)
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(msg)
	}
}

func (c *Coordinator) logMalformed(event string, err error) {
	if c.logger != nil {
		c.logger.Warn("malformed event payload", "event", event, "error", err)
	}
}

// History returns a copy of the conversation history.
func (c *Coordinator) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

// Processing reports whether a request is currently in flight.
func (c *Coordinator) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// UploadProgress returns the current upload percentage in [0, 100].
func (c *Coordinator) UploadProgress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// HasImage reports whether an analyzed image is available to ask about.
func (c *Coordinator) HasImage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imagePath != ""
}

// ImagePath returns the server-side path of the active image, or "".
func (c *Coordinator) ImagePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imagePath
}

// Preview returns the current local preview, or nil.
func (c *Coordinator) Preview() *Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}
