package viewport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestories/storyrunner/internal/config"
	"github.com/corestories/storyrunner/internal/model"
)

func baseConfig() *config.RunConfig {
	return &config.RunConfig{
		ViewportSizes:   []model.Viewport{{Name: "desktop", Width: 1280, Height: 800}, {Name: "mobile", Width: 375, Height: 667}},
		DefaultViewport: "desktop",
	}
}

func TestResolveUsesPerStoryOverrideFirst(t *testing.T) {
	cfg := baseConfig()
	cfg.PerStory = map[string]config.PerStoryOverride{
		"story-a": {Viewport: &config.ViewportRef{Name: "mobile"}},
	}
	r := New(cfg)
	story := &model.Story{ID: "story-a", DeclaredViewport: &model.Viewport{Name: "declared", Width: 999, Height: 999}}
	r.Resolve(story)
	require.NotNil(t, story.Resolved)
	assert.Equal(t, "mobile", story.Resolved.Name)
}

func TestResolveFallsBackToDeclaredViewport(t *testing.T) {
	cfg := baseConfig()
	r := New(cfg)
	story := &model.Story{ID: "story-b", DeclaredViewport: &model.Viewport{Name: "declared", Width: 500, Height: 500}}
	r.Resolve(story)
	require.NotNil(t, story.Resolved)
	assert.Equal(t, 500, story.Resolved.Width)
}

func TestResolveFallsBackToDefaultViewport(t *testing.T) {
	cfg := baseConfig()
	r := New(cfg)
	story := &model.Story{ID: "story-c"}
	r.Resolve(story)
	require.NotNil(t, story.Resolved)
	assert.Equal(t, "desktop", story.Resolved.Name)
}

func TestResolveAllPopulatesEveryStory(t *testing.T) {
	cfg := baseConfig()
	r := New(cfg)
	stories := []model.Story{{ID: "a"}, {ID: "b"}}
	r.ResolveAll(stories)
	for _, s := range stories {
		assert.NotNil(t, s.Resolved)
	}
}
