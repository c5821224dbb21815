// Package selection owns the user's source video and its local preview reference.
package selection

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"media-ingest/internal/domain"
)

// AcceptedMediaType is the only source container the pipeline accepts.
const AcceptedMediaType = "video/mp4"

var (
	// ErrTooManyFiles is returned when more than one file is offered at once.
	ErrTooManyFiles = errors.New("only one file can be selected")

	// ErrUnsupportedMediaType is returned when the file is not an MP4 video.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// Helper keeps at most one MediaSelection and the preview reference derived from it.
// A new selection replaces the old one wholesale and revokes its preview.
type Helper struct {
	previews *Previews
	log      zerolog.Logger
	readFile func(name string) ([]byte, error)
	stat     func(name string) (os.FileInfo, error)
	now      func() time.Time

	mu         sync.Mutex
	current    *domain.MediaSelection
	previewRef string
}

// NewHelper creates a helper that registers previews in previews.
func NewHelper(previews *Previews, log zerolog.Logger) *Helper {
	return &Helper{
		previews: previews,
		log:      log,
		readFile: os.ReadFile,
		stat:     os.Stat,
		now:      time.Now,
	}
}

// Select replaces the current selection with the single file in paths.
// An empty paths list is a no-op and returns the existing selection.
// On error the existing selection is left untouched.
func (h *Helper) Select(paths []string) (*domain.MediaSelection, error) {
	candidates := make([]string, 0, len(paths))
	for _, p := range paths {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			candidates = append(candidates, trimmed)
		}
	}

	switch len(candidates) {
	case 0:
		h.log.Debug().Msg("empty selection ignored")
		return h.Current(), nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: got %d", ErrTooManyFiles, len(candidates))
	}

	sel, err := h.load(candidates[0])
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	previous := h.previewRef
	h.current = sel
	h.previewRef = h.previews.Create(sel)
	h.mu.Unlock()

	if previous != "" {
		h.previews.Revoke(previous)
	}

	h.log.Info().Str("file", sel.Name).Int64("bytes", sel.Size).Msg("video selected")
	return sel, nil
}

// Current returns the active selection or nil.
func (h *Helper) Current() *domain.MediaSelection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// PreviewURL returns the active preview reference or "".
func (h *Helper) PreviewURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.previewRef
}

// Close releases the preview reference. The selection itself stays readable.
func (h *Helper) Close() {
	h.mu.Lock()
	ref := h.previewRef
	h.previewRef = ""
	h.mu.Unlock()

	if ref != "" {
		h.previews.Revoke(ref)
	}
}

func (h *Helper) load(path string) (*domain.MediaSelection, error) {
	info, err := h.stat(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	data, err := h.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if !mimetype.Detect(data).Is(AcceptedMediaType) {
		return nil, fmt.Errorf("%w: %s is not %s", ErrUnsupportedMediaType, filepath.Base(path), AcceptedMediaType)
	}

	return &domain.MediaSelection{
		Name:       filepath.Base(path),
		Path:       path,
		MediaType:  AcceptedMediaType,
		Size:       int64(len(data)),
		SelectedAt: h.now().UTC(),
		Data:       data,
	}, nil
}
