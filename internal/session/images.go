package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Preview storage limits.
const (
	// MaxImageSize is the largest image accepted for preview and upload.
	MaxImageSize = 10 * 1024 * 1024 // 10 MB
)

// Supported image MIME types, matching what the backend accepts.
var supportedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/tiff": ".tiff",
	"image/webp": ".webp",
}

var (
	ErrImageTooLarge     = errors.New("image exceeds maximum size")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrPreviewNotFound   = errors.New("preview not found")
)

// Preview is a local, revocable copy of a picked image. It exists so the UI
// can render the image immediately, independent of upload success, and is
// removed when revoked.
type Preview struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// PreviewStore keeps local preview copies of picked images in a directory.
// It is safe for concurrent use.
type PreviewStore struct {
	mu      sync.Mutex
	baseDir string
	logger  *slog.Logger
}

// NewPreviewStore creates a preview store rooted at baseDir, creating the
// directory if needed.
func NewPreviewStore(baseDir string, logger *slog.Logger) (*PreviewStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create previews directory: %w", err)
	}
	return &PreviewStore{baseDir: baseDir, logger: logger}, nil
}

// Save copies the file at srcPath into the store and returns its preview.
// The source's MIME type is sniffed from content and validated.
func (s *PreviewStore) Save(srcPath string) (Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return Preview{}, fmt.Errorf("failed to read image: %w", err)
	}

	if len(data) > MaxImageSize {
		return Preview{}, ErrImageTooLarge
	}

	mimeType := http.DetectContentType(data)
	ext, ok := supportedImageTypes[mimeType]
	if !ok {
		// Content sniffing cannot identify every TIFF; fall back to
		// the file extension before rejecting.
		ext = strings.ToLower(filepath.Ext(srcPath))
		if mt := MimeTypeFromExt(ext); mt != "" {
			mimeType = mt
		} else {
			return Preview{}, ErrUnsupportedFormat
		}
	}

	id := "img_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + ext
	dst := filepath.Join(s.baseDir, id)
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return Preview{}, fmt.Errorf("failed to write preview: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("preview saved", "preview_id", id, "size", len(data), "mime_type", mimeType)
	}

	return Preview{
		ID:        id,
		Path:      dst,
		Name:      filepath.Base(srcPath),
		MimeType:  mimeType,
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}, nil
}

// Remove revokes a preview, deleting its local copy. Removing an unknown
// preview returns ErrPreviewNotFound.
func (s *PreviewStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrPreviewNotFound
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove preview: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("preview removed", "preview_id", id)
	}
	return nil
}

// Clear removes every stored preview.
func (s *PreviewStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to list previews: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		os.Remove(filepath.Join(s.baseDir, entry.Name()))
	}
	return nil
}

// MimeTypeFromExt returns the MIME type for a file extension, or "".
func MimeTypeFromExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	for mimeType, e := range supportedImageTypes {
		if e == ext {
			return mimeType
		}
	}
	return ""
}

// IsSupportedImageType checks if a MIME type is accepted for upload.
func IsSupportedImageType(mimeType string) bool {
	_, ok := supportedImageTypes[mimeType]
	return ok
}

// IsSupportedImageExt checks if a file extension is accepted for upload.
func IsSupportedImageExt(ext string) bool {
	return MimeTypeFromExt(ext) != ""
}
