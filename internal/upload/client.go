// Package upload implements the bulk-data leg of the protocol: a multipart
// HTTP upload with progress reporting and a single structured terminal
// outcome. The analysis answer itself arrives later over the realtime
// channel; this package only covers getting the bytes to the backend.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Status classifies an upload's terminal outcome.
type Status string

const (
	// StatusSuccess means the HTTP exchange completed with a 2xx status
	// and a decoded payload. The payload itself may still report an
	// application-level failure.
	StatusSuccess Status = "success"
	// StatusHTTPFailure means the server answered outside the 2xx range.
	StatusHTTPFailure Status = "http_failure"
	// StatusNetworkFailure means the request never completed at the
	// transport layer.
	StatusNetworkFailure Status = "network_failure"
)

// FileInfo describes the stored file as reported by the backend.
type FileInfo struct {
	OriginalFilename string `json:"original_filename"`
	SavedFilename    string `json:"saved_filename"`
	UploadTime       string `json:"upload_time"`
	FileSize         int64  `json:"file_size"`
	FilePath         string `json:"file_path"`
}

// Payload is the backend's structured upload response.
type Payload struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// FileInfo extracts the file_info block from the metadata, if present.
func (p *Payload) FileInfo() (FileInfo, bool) {
	if len(p.Metadata) == 0 {
		return FileInfo{}, false
	}
	var meta struct {
		FileInfo *FileInfo `json:"file_info"`
	}
	if err := json.Unmarshal(p.Metadata, &meta); err != nil || meta.FileInfo == nil {
		return FileInfo{}, false
	}
	return *meta.FileInfo, true
}

// Outcome is the single terminal result of an upload attempt. Exactly one of
// the failure fields is meaningful depending on Status.
type Outcome struct {
	Status     Status
	HTTPStatus int
	Payload    *Payload
	// ErrorBody holds the response body of a non-2xx answer, decoded to
	// the payload's error text when possible.
	ErrorBody string
	// Err is the transport error for StatusNetworkFailure.
	Err error
}

// Info describes a previously uploaded file, from the upload-info endpoint.
type Info struct {
	Filename     string `json:"filename"`
	FileSize     int64  `json:"file_size"`
	LastModified string `json:"last_modified"`
	FilePath     string `json:"file_path"`
}

// Client performs uploads against the analysis backend.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(client *Client) {
		client.logger = l
	}
}

// New creates an upload client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload streams the file at path to the backend as multipart form data.
// socketID is the correlation identifier attached so the backend can address
// asynchronous results at the caller's realtime connection; it may be empty.
// progress, if non-nil, receives monotonic percentage updates, all delivered
// before Upload returns its terminal outcome.
func (c *Client) Upload(ctx context.Context, path, socketID string, progress ProgressFunc) Outcome {
	f, err := os.Open(path)
	if err != nil {
		return Outcome{Status: StatusNetworkFailure, Err: fmt.Errorf("open file: %w", err)}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Outcome{Status: StatusNetworkFailure, Err: fmt.Errorf("stat file: %w", err)}
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	// The multipart body is produced concurrently so the file streams
	// through the progress reader instead of being buffered whole.
	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()

		if socketID != "" {
			if werr = form.WriteField("socket_id", socketID); werr != nil {
				return
			}
		}
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			werr = err
			return
		}
		if _, werr = io.Copy(part, newProgressReader(f, stat.Size(), progress)); werr != nil {
			return
		}
		werr = form.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return Outcome{Status: StatusNetworkFailure, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("upload transport failure", "error", err)
		}
		return Outcome{Status: StatusNetworkFailure, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Status: StatusNetworkFailure, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := string(body)
		// The backend reports errors as {success: false, error: "..."}
		// even on non-2xx statuses; prefer the extracted text.
		var p Payload
		if json.Unmarshal(body, &p) == nil && p.Error != "" {
			errBody = p.Error
		}
		if c.logger != nil {
			c.logger.Warn("upload rejected", "status", resp.StatusCode, "error", errBody)
		}
		return Outcome{Status: StatusHTTPFailure, HTTPStatus: resp.StatusCode, ErrorBody: errBody}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Outcome{Status: StatusNetworkFailure, Err: fmt.Errorf("decode response: %w", err)}
	}

	if c.logger != nil {
		c.logger.Debug("upload completed", "status", resp.StatusCode, "success", payload.Success)
	}
	return Outcome{Status: StatusSuccess, HTTPStatus: resp.StatusCode, Payload: &payload}
}

// UploadInfo fetches information about a previously uploaded file.
func (c *Client) UploadInfo(ctx context.Context, filename string) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/uploads/"+url.PathEscape(filename), nil)
	if err != nil {
		return nil, fmt.Errorf("upload info: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("upload not found: %s", filename)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload info: status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success  bool  `json:"success"`
		FileInfo *Info `json:"file_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("upload info: decode: %w", err)
	}
	if result.FileInfo == nil {
		return nil, fmt.Errorf("upload info: missing file_info in response")
	}
	return result.FileInfo, nil
}
