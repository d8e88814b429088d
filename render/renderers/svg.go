package renderers

import (
	"fmt"
	"strings"

	"github.com/maxsupermanhd/TileSync/render"
)

// SVGFloor draws one floor of the grid inside rect as a vector document.
// Walls are drawn as lines on the side given by rotation (0 west, 1 north,
// 2 east, 3 south), other objects as filled boxes.
func SVGFloor(grid *render.CombinedGrid, rect render.Rect, level, pxpersquare int, wallsOnly bool) []byte {
	px := float64(pxpersquare)
	w := rect.Width * px
	h := rect.Height * px
	// world to document coordinates, north up
	tx := func(wx float64) float64 { return (wx - rect.X) * px }
	ty := func(wz float64) float64 { return (rect.Z + rect.Height - wz) * px }

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%g" height="%g" viewBox="0 0 %g %g">`+"\n", w, h, w, h)
	if !wallsOnly {
		b.WriteString(`<g fill="#7f7f7f" fill-opacity="0.5">` + "\n")
		for wz := int(rect.Z); wz < int(rect.Z+rect.Height); wz++ {
			for wx := int(rect.X); wx < int(rect.X+rect.Width); wx++ {
				if grid.CollisionAt(level, wx, wz)&1 == 0 {
					continue
				}
				fmt.Fprintf(&b, `<rect x="%g" y="%g" width="%g" height="%g"/>`+"\n", tx(float64(wx)), ty(float64(wz+1)), px, px)
			}
		}
		b.WriteString("</g>\n")
	}
	b.WriteString(`<g stroke="#000000" stroke-width="` + fmt.Sprintf("%g", max(1, px/4)) + `" fill="#a0522d">` + "\n")
	for _, l := range grid.LocsIn(level, rect) {
		x0, z0 := float64(l.X), float64(l.Z)
		x1, z1 := x0+float64(max(1, l.SizeX)), z0+float64(max(1, l.SizeZ))
		if l.IsWall() {
			switch l.Rotation % 4 {
			case 0:
				x1 = x0
			case 1:
				z0 = z1
			case 2:
				x0 = x1
			case 3:
				z1 = z0
			}
			fmt.Fprintf(&b, `<line x1="%g" y1="%g" x2="%g" y2="%g"/>`+"\n", tx(x0), ty(z0), tx(x1), ty(z1))
			continue
		}
		if wallsOnly {
			continue
		}
		fmt.Fprintf(&b, `<rect x="%g" y="%g" width="%g" height="%g" data-id="%d"/>`+"\n", tx(x0), ty(z1), (x1-x0)*px, (z1-z0)*px, l.ID)
	}
	b.WriteString("</g>\n</svg>\n")
	return []byte(b.String())
}
