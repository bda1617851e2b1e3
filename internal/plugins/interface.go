package plugins

import (
	"context"
	"fmt"

	"github.com/pders01/fitlist/internal/validation"
)

// Locator is what a plugin knows about a submitted workout URL before any
// page is fetched.
type Locator struct {
	// OriginalURL is the submitted URL with the query string removed
	OriginalURL string
	// CanonicalURL is the best static guess at the page's canonical address.
	// The fetcher replaces it with the final response URL.
	CanonicalURL string
	// Candidates are tried in order until one answers with a page
	Candidates []string
	// Metadata carries host-specific details (region, slug, id)
	Metadata map[string]string
}

// Plugin defines the interface that host-specific canonicalisers must implement
type Plugin interface {
	// Name returns the plugin name for identification
	Name() string

	// CanHandle returns true if this plugin can handle the given URL
	CanHandle(url string) bool

	// Canonicalize maps a URL to its canonical form and the ordered list of
	// addresses worth fetching. It performs no network I/O.
	Canonicalize(ctx context.Context, url string) (*Locator, error)

	// Priority returns the priority of this plugin (higher = higher priority)
	Priority() int
}

// Registry manages all registered plugins
type Registry struct {
	plugins []Plugin
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{plugins: make([]Plugin, 0)}
}

// Register adds a plugin to the registry
func (r *Registry) Register(plugin Plugin) {
	r.plugins = append(r.plugins, plugin)
}

// FindPlugin returns the highest priority plugin that can handle url, or nil.
func (r *Registry) FindPlugin(url string) Plugin {
	var bestPlugin Plugin
	highestPriority := -1

	for _, plugin := range r.plugins {
		if plugin.CanHandle(url) && plugin.Priority() > highestPriority {
			bestPlugin = plugin
			highestPriority = plugin.Priority()
		}
	}

	return bestPlugin
}

// Canonicalize resolves url through the best matching plugin. Without one,
// the normalized URL is the canonical guess and the stripped URL the only
// candidate.
func (r *Registry) Canonicalize(ctx context.Context, url string) (*Locator, error) {
	stripped := validation.StripQuery(url)
	if stripped == "" {
		return nil, fmt.Errorf("canonicalize: empty URL")
	}

	plugin := r.FindPlugin(stripped)
	if plugin == nil {
		return &Locator{
			OriginalURL:  stripped,
			CanonicalURL: validation.Normalize(stripped),
			Candidates:   []string{stripped},
			Metadata:     make(map[string]string),
		}, nil
	}

	loc, err := plugin.Canonicalize(ctx, stripped)
	if err != nil {
		return nil, fmt.Errorf("canonicalize with %s: %w", plugin.Name(), err)
	}
	if loc.Metadata == nil {
		loc.Metadata = make(map[string]string)
	}
	loc.Metadata["plugin"] = plugin.Name()
	return loc, nil
}

// ListPlugins returns all registered plugins
func (r *Registry) ListPlugins() []Plugin {
	return append([]Plugin(nil), r.plugins...)
}
