package renderers

import (
	"errors"
	"fmt"
	"log"

	"github.com/maxsupermanhd/TileSync/render"
)

var ErrUnknownRenderer = errors.New("unknown renderer")

// ConstructRenderer creates a fresh renderer by name. Every call returns a
// new instance so a broken one can be thrown away.
func ConstructRenderer(name string, logger *log.Logger) (render.Renderer, error) {
	switch name {
	case "", "software":
		return NewSoftwareRenderer(logger), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownRenderer, name)
	}
}
