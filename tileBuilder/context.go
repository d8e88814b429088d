package tileBuilder

import (
	"context"
	"log"

	"github.com/maxsupermanhd/TileSync/render"
	"github.com/maxsupermanhd/TileSync/render/renderers"
	resourcecache "github.com/maxsupermanhd/TileSync/resourceCache"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

// RenderContext is the renderer together with the chunks prepared by it.
// It is owned by one chunk loop and replaced as a whole when it breaks.
type RenderContext struct {
	Renderer render.Renderer
	Cache    *resourcecache.Cache
}

func (rc *RenderContext) Close() error {
	rc.Cache.Clear()
	return rc.Renderer.Close()
}

// ContextFactory creates a fresh render context.
type ContextFactory func(ctx context.Context) (*RenderContext, error)

// NewContextFactory returns a factory of named renderers reading scenes from storage.
func NewContextFactory(logger *log.Logger, rendererName string, storage sceneStorage.SceneStorage, opts resourcecache.Options) ContextFactory {
	return func(ctx context.Context) (*RenderContext, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := renderers.ConstructRenderer(rendererName, logger)
		if err != nil {
			return nil, err
		}
		return &RenderContext{
			Renderer: r,
			Cache:    resourcecache.NewCache(logger, r, storage, opts),
		}, nil
	}
}
