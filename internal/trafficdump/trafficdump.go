// Package trafficdump writes one debug file per request with the bodies
// that crossed the relay: origin request, upstream request, upstream
// response, relayed response. Off by default; secrets are masked before
// anything hits disk.
package trafficdump

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgefn/gemini-relay/internal/credstore"
)

const contextKey = "gmr.dump"

type Config struct {
	Enabled  bool
	Dir      string
	MaxBytes int
}

// Recorder accumulates sections for one request and flushes on Close.
type Recorder struct {
	mu       sync.Mutex
	path     string
	maxBytes int
	secrets  []string
	sections []string
}

// Start creates a recorder for the request and attaches it to the gin
// context. Returns nil when dumping is disabled.
func Start(c *gin.Context, cfg Config, requestID string, secrets ...string) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(requestID)
	if id == "" {
		id = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	rec := &Recorder{
		path:     filepath.Join(dir, id+".log"),
		maxBytes: cfg.MaxBytes,
		secrets:  secrets,
	}
	if c != nil {
		c.Set(contextKey, rec)
	}
	return rec, nil
}

// FromContext returns the recorder attached to the request, if any.
func FromContext(c *gin.Context) *Recorder {
	if c == nil {
		return nil
	}
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	rec, _ := v.(*Recorder)
	return rec
}

// Append records one section. Body is truncated to MaxBytes and all
// registered secrets are masked.
func (r *Recorder) Append(section string, body []byte) {
	if r == nil {
		return
	}
	b, truncated := limitBytes(body, r.maxBytes)
	text := string(b)
	for _, s := range r.secrets {
		if strings.TrimSpace(s) == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, credstore.Mask(s))
	}
	header := fmt.Sprintf("--- %s @ %s ---", section, time.Now().Format(time.RFC3339Nano))
	if truncated {
		header += " (truncated)"
	}
	r.mu.Lock()
	r.sections = append(r.sections, header+"\n"+text+"\n")
	r.mu.Unlock()
}

// Close flushes the accumulated sections to the dump file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sections) == 0 {
		return nil
	}
	return os.WriteFile(r.path, []byte(strings.Join(r.sections, "\n")), 0o600)
}

// Path returns the dump file path.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func limitBytes(b []byte, limit int) ([]byte, bool) {
	if limit <= 0 || len(b) <= limit {
		return b, false
	}
	return b[:limit], true
}
