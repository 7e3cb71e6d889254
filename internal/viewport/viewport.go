// Package viewport resolves, for each story, the viewport a worker should
// emulate, by the precedence chain of spec.md §4.3.
package viewport

import (
	"github.com/corestories/storyrunner/internal/config"
	"github.com/corestories/storyrunner/internal/model"
)

// Resolver precomputes a viewport for every story before dispatch.
type Resolver struct {
	cfg *config.RunConfig
}

func New(cfg *config.RunConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve attaches the resolved viewport to story.Resolved, following
// spec.md §4.3: (a) perStory override, (b) story-declared viewport, (c)
// defaultViewport, else leave unset.
func (r *Resolver) Resolve(story *model.Story) {
	if ov := r.cfg.ResolvePerStoryViewport(story.ID); ov != nil {
		story.Resolved = ov
		return
	}

	if story.DeclaredViewport != nil {
		story.Resolved = story.DeclaredViewport
		return
	}

	if r.cfg.DefaultViewport != "" {
		for _, v := range r.cfg.ViewportSizes {
			if v.Name == r.cfg.DefaultViewport {
				vv := v
				story.Resolved = &vv
				return
			}
		}
	}

	story.Resolved = nil
}

// ResolveAll resolves viewports for every story in place.
func (r *Resolver) ResolveAll(stories []model.Story) {
	for i := range stories {
		r.Resolve(&stories[i])
	}
}
