package imagegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/storage"
)

const maxImageBytes = 15 << 20

// Uploader stores a downloaded image and returns the URL it is served from.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Mirror copies generated images into object storage so published sites do
// not hotlink the generator.
type Mirror struct {
	uploader Uploader
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// NewMirror constructs a Mirror. A nil client uses a 60 second timeout.
func NewMirror(uploader Uploader, client *http.Client, logger *slog.Logger) Mirror {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Mirror{uploader: uploader, client: client, logger: logger, now: time.Now}
}

// MirrorAll returns placeholder name to URL. An image that fails to mirror
// keeps its direct generator URL.
func (m Mirror) MirrorAll(ctx context.Context, images []Image) map[string]string {
	urls := make(map[string]string, len(images))
	for _, img := range images {
		urls[img.Name] = img.URL
		if m.uploader == nil {
			continue
		}
		mirrored, err := m.Mirror(ctx, img)
		if err != nil {
			m.logger.Warn("image mirror failed, keeping direct url", "placeholder", img.Name, "error", err)
			continue
		}
		urls[img.Name] = mirrored
	}
	return urls
}

// Mirror downloads one image and uploads it.
func (m Mirror) Mirror(ctx context.Context, img Image) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("downloaded image is empty")
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unexpected content type %q", contentType)
	}

	key := storage.ObjectKey("images", img.Name, extensionFor(contentType), m.now())
	return m.uploader.Upload(ctx, key, contentType, data)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
