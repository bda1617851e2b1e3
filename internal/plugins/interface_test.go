package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPlugin is a test plugin for testing the registry
type mockPlugin struct {
	name         string
	priority     int
	canHandle    func(string) bool
	canonicalize func(context.Context, string) (*Locator, error)
}

func (p *mockPlugin) Name() string {
	return p.name
}

func (p *mockPlugin) CanHandle(url string) bool {
	if p.canHandle != nil {
		return p.canHandle(url)
	}
	return false
}

func (p *mockPlugin) Canonicalize(ctx context.Context, url string) (*Locator, error) {
	if p.canonicalize != nil {
		return p.canonicalize(ctx, url)
	}
	return &Locator{OriginalURL: url, CanonicalURL: url, Candidates: []string{url}}, nil
}

func (p *mockPlugin) Priority() int {
	return p.priority
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	plugin := &mockPlugin{name: "test", priority: 50}

	registry.Register(plugin)

	assert.Equal(t, 1, len(registry.plugins))
	assert.Equal(t, plugin, registry.plugins[0])
}

func TestRegistry_FindPlugin(t *testing.T) {
	registry := NewRegistry()

	low := &mockPlugin{
		name:      "low-priority",
		priority:  10,
		canHandle: func(url string) bool { return url == "https://example.com/w/1" },
	}
	high := &mockPlugin{
		name:      "high-priority",
		priority:  100,
		canHandle: func(url string) bool { return url == "https://example.com/w/1" },
	}
	other := &mockPlugin{
		name:      "different-url",
		priority:  200,
		canHandle: func(url string) bool { return url == "https://other.com/w/1" },
	}

	registry.Register(low)
	registry.Register(high)
	registry.Register(other)

	t.Run("finds highest priority plugin", func(t *testing.T) {
		assert.Equal(t, high, registry.FindPlugin("https://example.com/w/1"))
	})

	t.Run("finds specific plugin", func(t *testing.T) {
		assert.Equal(t, other, registry.FindPlugin("https://other.com/w/1"))
	})

	t.Run("returns nil for no matching plugin", func(t *testing.T) {
		assert.Nil(t, registry.FindPlugin("https://nomatch.com"))
	})
}

func TestRegistry_Canonicalize(t *testing.T) {
	ctx := context.Background()

	t.Run("with matching plugin", func(t *testing.T) {
		registry := NewRegistry()
		var seen string
		registry.Register(&mockPlugin{
			name:      "test",
			priority:  50,
			canHandle: func(string) bool { return true },
			canonicalize: func(_ context.Context, url string) (*Locator, error) {
				seen = url
				return &Locator{
					OriginalURL:  url,
					CanonicalURL: "https://test.com/canonical",
					Candidates:   []string{"https://test.com/canonical", url},
				}, nil
			},
		})

		loc, err := registry.Canonicalize(ctx, "https://test.com/page?utm=1")
		require.NoError(t, err)
		assert.Equal(t, "https://test.com/page", seen, "query stripped before the plugin runs")
		assert.Equal(t, "https://test.com/canonical", loc.CanonicalURL)
		assert.Equal(t, []string{"https://test.com/canonical", "https://test.com/page"}, loc.Candidates)
		assert.Equal(t, "test", loc.Metadata["plugin"])
	})

	t.Run("without matching plugin", func(t *testing.T) {
		registry := NewRegistry()

		loc, err := registry.Canonicalize(ctx, "HTTP://Example.com/w/1/?a=b")
		require.NoError(t, err)
		assert.Equal(t, "HTTP://Example.com/w/1/", loc.OriginalURL)
		assert.Equal(t, "http://example.com/w/1", loc.CanonicalURL)
		assert.Equal(t, []string{"HTTP://Example.com/w/1/"}, loc.Candidates)
		assert.NotNil(t, loc.Metadata)
	})

	t.Run("plugin error is wrapped", func(t *testing.T) {
		registry := NewRegistry()
		boom := errors.New("boom")
		registry.Register(&mockPlugin{
			name:         "broken",
			canHandle:    func(string) bool { return true },
			canonicalize: func(context.Context, string) (*Locator, error) { return nil, boom },
		})

		_, err := registry.Canonicalize(ctx, "https://x.com/1")
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewRegistry().Canonicalize(ctx, "  ?q=1")
		assert.Error(t, err)
	})
}

func TestRegistry_ListPlugins(t *testing.T) {
	registry := NewRegistry()

	plugin1 := &mockPlugin{name: "plugin1", priority: 10}
	plugin2 := &mockPlugin{name: "plugin2", priority: 20}

	registry.Register(plugin1)
	registry.Register(plugin2)

	plugins := registry.ListPlugins()

	assert.Equal(t, 2, len(plugins))
	assert.Contains(t, plugins, plugin1)
	assert.Contains(t, plugins, plugin2)

	// Verify it returns a copy (modifying returned slice doesn't affect registry)
	plugins[0] = nil
	assert.Equal(t, 2, len(registry.plugins))
	assert.NotNil(t, registry.plugins[0])
}
