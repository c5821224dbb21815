package selection

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-ingest/internal/domain"
)

// PreviewPrefix is the URL path under which preview references are served.
const PreviewPrefix = "/preview/"

type previewEntry struct {
	name      string
	mediaType string
	data      []byte
	created   time.Time
}

// Previews hands out revocable URL references to selected media so the UI can
// play a local preview. A revoked reference answers 404 and its payload is released.
type Previews struct {
	mu      sync.RWMutex
	entries map[string]previewEntry
}

// NewPreviews creates an empty preview registry.
func NewPreviews() *Previews {
	return &Previews{entries: make(map[string]previewEntry)}
}

// Create registers sel and returns its reference, e.g. "/preview/<token>".
func (p *Previews) Create(sel *domain.MediaSelection) string {
	token := uuid.NewString()

	p.mu.Lock()
	p.entries[token] = previewEntry{
		name:      sel.Name,
		mediaType: sel.MediaType,
		data:      sel.Data,
		created:   time.Now(),
	}
	p.mu.Unlock()

	return PreviewPrefix + token
}

// Revoke invalidates ref. It reports whether ref was active.
func (p *Previews) Revoke(ref string) bool {
	token, ok := tokenFromPath(ref)
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[token]; !exists {
		return false
	}
	delete(p.entries, token)
	return true
}

// Active returns the number of live references.
func (p *Previews) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// ServeHTTP serves GET/HEAD /preview/{token} with range support.
func (p *Previews) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := tokenFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	p.mu.RLock()
	entry, exists := p.entries[token]
	p.mu.RUnlock()
	if !exists {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", entry.mediaType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, entry.name, entry.created, bytes.NewReader(entry.data))
}

// Handles reports whether path belongs to the preview namespace.
func Handles(path string) bool {
	return strings.HasPrefix(path, PreviewPrefix)
}

func tokenFromPath(path string) (string, bool) {
	if !Handles(path) {
		return "", false
	}
	token := strings.TrimPrefix(path, PreviewPrefix)
	if token == "" || strings.Contains(token, "/") {
		return "", false
	}
	return token, true
}
