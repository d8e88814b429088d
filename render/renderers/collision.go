package renderers

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/maxsupermanhd/TileSync/render"
)

var (
	blockedColor = color.RGBA{R: 0xc8, G: 0x1e, B: 0x1e, A: 0xa0}
	wallColor    = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
)

// Collision flags: bit 0 blocks the whole square, bits 8-11 are walls on
// the west, north, east and south edge.
const (
	CollisionBlocked   = 1
	CollisionWallWest  = 0x100
	CollisionWallNorth = 0x200
	CollisionWallEast  = 0x400
	CollisionWallSouth = 0x800
)

// CollisionImage rasterizes collision flags of one floor inside rect.
func CollisionImage(grid *render.CombinedGrid, rect render.Rect, level, pxpersquare int) *image.RGBA {
	w := int(rect.Width) * pxpersquare
	h := int(rect.Height) * pxpersquare
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	edge := max(1, pxpersquare/8)
	for wz := int(rect.Z); wz < int(rect.Z+rect.Height); wz++ {
		// top of the image is north
		py := (int(rect.Z+rect.Height) - wz - 1) * pxpersquare
		for wx := int(rect.X); wx < int(rect.X+rect.Width); wx++ {
			px := (wx - int(rect.X)) * pxpersquare
			flags := grid.CollisionAt(level, wx, wz)
			if flags == 0 {
				continue
			}
			sq := image.Rect(px, py, px+pxpersquare, py+pxpersquare)
			if flags&CollisionBlocked != 0 {
				draw.Draw(img, sq, &image.Uniform{blockedColor}, image.Point{}, draw.Src)
			}
			if flags&CollisionWallWest != 0 {
				draw.Draw(img, image.Rect(sq.Min.X, sq.Min.Y, sq.Min.X+edge, sq.Max.Y), &image.Uniform{wallColor}, image.Point{}, draw.Src)
			}
			if flags&CollisionWallNorth != 0 {
				draw.Draw(img, image.Rect(sq.Min.X, sq.Min.Y, sq.Max.X, sq.Min.Y+edge), &image.Uniform{wallColor}, image.Point{}, draw.Src)
			}
			if flags&CollisionWallEast != 0 {
				draw.Draw(img, image.Rect(sq.Max.X-edge, sq.Min.Y, sq.Max.X, sq.Max.Y), &image.Uniform{wallColor}, image.Point{}, draw.Src)
			}
			if flags&CollisionWallSouth != 0 {
				draw.Draw(img, image.Rect(sq.Min.X, sq.Max.Y-edge, sq.Max.X, sq.Max.Y), &image.Uniform{wallColor}, image.Point{}, draw.Src)
			}
		}
	}
	return img
}
