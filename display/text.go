package display

import (
	"image"

	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var face = basicfont.Face7x13

// Glyph cell size of DrawText.
const (
	GlyphWidth  = 7
	GlyphHeight = 13
)

// DrawText blits s with its top left corner at x, y, glyph mask pixel by
// pixel, and returns the x just past the last glyph. Only set mask pixels
// are drawn so the background shows through.
func (c *Canvas) DrawText(x, y int, s string, col Color) int {
	dot := fixed.P(x, y+face.Ascent)
	for _, r := range s {
		dr, mask, maskp, advance, ok := face.Glyph(dot, r)
		if !ok {
			continue
		}
		c.blitMask(dr, mask, maskp, col)
		dot.X += advance
	}
	return dot.X.Round()
}

// TextBox paints the glyph cells of n characters at x, y with col, used to
// wipe text before redrawing it.
func (c *Canvas) TextBox(x, y, n int, col Color) {
	c.FillBox(x, y, n*GlyphWidth, GlyphHeight, col)
}

func (c *Canvas) blitMask(dr image.Rectangle, mask image.Image, maskp image.Point, col Color) {
	for py := 0; py < dr.Dy(); py++ {
		for px := 0; px < dr.Dx(); px++ {
			_, _, _, a := mask.At(maskp.X+px, maskp.Y+py).RGBA()
			if a >= 0x8000 {
				c.Plot(dr.Min.X+px, dr.Min.Y+py, col)
			}
		}
	}
}
