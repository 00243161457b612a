// Package backend provides an in-process mock of the image-analysis server
// for integration tests: the multipart upload endpoint plus the realtime
// event channel, speaking the same wire protocol as the real backend.
package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".tiff": true,
	".webp": true,
}

// Behavior tunes how the mock reacts to client requests.
type Behavior struct {
	// AnalysisText is the analysis sent with metadata_result.
	AnalysisText string

	// AnswerFunc produces the reply to a question. Nil uses a default
	// echo reply.
	AnswerFunc func(content string) string

	// Silent suppresses replies to questions, for timeout testing.
	Silent bool

	// ErrorOnAsk, when non-empty, answers every question with an error
	// event instead of a message.
	ErrorOnAsk string

	// RejectUploads, when non-empty, fails every upload with this error.
	RejectUploads string
}

// Backend is the mock server. Create with New, read the base URL from URL.
type Backend struct {
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	behavior Behavior
	nextSID  int
	conns    map[string]*clientConn
	uploads  map[string]uploadRecord
	cleared  int
}

type clientConn struct {
	sid string
	ws  *websocket.Conn

	// writeMu serializes writes: the read loop and the upload handler
	// both send frames.
	writeMu sync.Mutex
}

type uploadRecord struct {
	filename string
	size     int64
	path     string
}

// New starts a mock backend. It is shut down with the test.
func New(t testingT) *Backend {
	b := &Backend{
		behavior: Behavior{AnalysisText: "Here is what I found in the image."},
		conns:    make(map[string]*clientConn),
		uploads:  make(map[string]uploadRecord),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	mux.HandleFunc("/upload", b.handleUpload)
	mux.HandleFunc("/uploads/", b.handleUploadInfo)

	b.srv = httptest.NewServer(mux)
	b.URL = b.srv.URL
	t.Cleanup(b.srv.Close)
	return b
}

// testingT is the subset of *testing.T the mock needs.
type testingT interface {
	Cleanup(func())
}

// SetBehavior replaces the mock's behavior.
func (b *Backend) SetBehavior(beh Behavior) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.behavior = beh
}

// ClearedCount reports how many clear_image events arrived.
func (b *Backend) ClearedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleared
}

// DropConnections closes every realtime connection server-side.
func (b *Backend) DropConnections() {
	b.mu.Lock()
	conns := make([]*clientConn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[string]*clientConn)
	b.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

func (b *Backend) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.nextSID++
	sid := fmt.Sprintf("mock-sid-%d", b.nextSID)
	c := &clientConn{sid: sid, ws: ws}
	b.conns[sid] = c
	b.mu.Unlock()

	c.send("connection_response", map[string]any{
		"sid":    sid,
		"status": "connected",
	})

	defer func() {
		b.mu.Lock()
		delete(b.conns, sid)
		b.mu.Unlock()
		ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		b.handleFrame(c, frame.Event, frame.Data)
	}
}

func (b *Backend) handleFrame(c *clientConn, event string, data json.RawMessage) {
	b.mu.Lock()
	beh := b.behavior
	b.mu.Unlock()

	switch event {
	case "analyze_image":
		var d struct {
			ImagePath string `json:"image_path"`
		}
		json.Unmarshal(data, &d)

		c.send("typing", map[string]any{"status": true})
		c.send("metadata_result", map[string]any{
			"metadata": map[string]any{
				"file_info": map[string]any{"file_path": d.ImagePath},
				"exif":      map[string]any{"camera": "MockCam 3000"},
			},
			"analysis": beh.AnalysisText,
		})
		c.send("typing", map[string]any{"status": false})

	case "message":
		var d struct {
			Content   string `json:"content"`
			ImagePath string `json:"image_path"`
		}
		json.Unmarshal(data, &d)

		if beh.Silent {
			return
		}
		if beh.ErrorOnAsk != "" {
			c.send("error", map[string]any{"message": beh.ErrorOnAsk})
			return
		}

		reply := "You asked: " + d.Content
		if beh.AnswerFunc != nil {
			reply = beh.AnswerFunc(d.Content)
		}
		c.send("typing", map[string]any{"status": true})
		c.send("message", map[string]any{"role": "assistant", "content": reply})
		c.send("typing", map[string]any{"status": false})

	case "clear_image":
		b.mu.Lock()
		b.cleared++
		b.mu.Unlock()
	}
}

func (c *clientConn) send(event string, data any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteJSON(map[string]any{"event": event, "data": data})
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid multipart body"})
		return
	}

	b.mu.Lock()
	beh := b.behavior
	b.mu.Unlock()
	if beh.RejectUploads != "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": beh.RejectUploads})
		return
	}

	socketID := r.FormValue("socket_id")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "no file provided"})
		return
	}
	defer file.Close()

	if !allowedExtensions[strings.ToLower(filepath.Ext(header.Filename))] {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "File type not allowed"})
		return
	}

	size, _ := io.Copy(io.Discard, file)
	saved := time.Now().Format("20060102150405") + "_" + header.Filename
	path := "/srv/uploads/" + saved

	b.mu.Lock()
	b.uploads[header.Filename] = uploadRecord{filename: header.Filename, size: size, path: path}
	conn := b.conns[socketID]
	b.mu.Unlock()

	// The real backend notifies the originating connection out-of-band.
	if conn != nil {
		conn.send("image_uploaded", map[string]any{
			"success": true,
			"message": "Image received: " + header.Filename,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"metadata": map[string]any{
			"file_info": map[string]any{
				"original_filename": header.Filename,
				"saved_filename":    saved,
				"file_size":         size,
				"file_path":         path,
			},
		},
	})
}

func (b *Backend) handleUploadInfo(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/uploads/")

	b.mu.Lock()
	rec, ok := b.uploads[name]
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"file_info": map[string]any{
			"filename":  rec.filename,
			"file_size": rec.size,
			"file_path": rec.path,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
