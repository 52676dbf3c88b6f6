package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts assistant markdown into HTML previews for the timeline.
// Rendering happens once per distinct content string; finalized entries are
// re-requested by every reconnecting client, so results are memoized.
type Renderer struct {
	md    goldmark.Markdown
	cache *cache.Cache
}

// NewRenderer creates a markdown renderer with a short-lived result cache
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		cache: cache.New(10*time.Minute, 5*time.Minute),
	}
}

// Render converts markdown to HTML. On conversion failure the raw text is
// returned so the client still has something to show.
func (r *Renderer) Render(content string) string {
	if content == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(content))
	key := hex.EncodeToString(sum[:16])
	if cached, found := r.cache.Get(key); found {
		return cached.(string)
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		log.Printf("⚠️ Markdown render failed: %v", err)
		return content
	}

	rendered := buf.String()
	r.cache.Set(key, rendered, cache.DefaultExpiration)
	return rendered
}
