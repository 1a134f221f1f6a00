// Package display draws the dashboard into an off-screen canvas and
// publishes it to a memory mapped framebuffer and text console.
package display

import (
	"image"
)

// Default geometry of the dashboard panel.
const (
	DefaultWidth  = 1024
	DefaultHeight = 600
	DefaultCols   = 128
	DefaultRows   = 37
)

// Color is a 0RGB pixel as the framebuffer stores it.
type Color uint32

const (
	Black  Color = 0x000000
	White  Color = 0xffffff
	Grey   Color = 0x777777
	Red    Color = 0xff4444
	Green  Color = 0x44ff44
	Yellow Color = 0xffff55
	Border Color = 0x000077
)

// Canvas is the renderer's private frame: 32-bit pixels plus a grid of
// console cells, each char | attr<<8. Drawing marks the touched pixel area
// dirty so a publish only has to copy what changed.
type Canvas struct {
	Width, Height int
	Pix           []Color

	Cols, Rows int
	Cells      []uint16

	attr  uint8
	dirty image.Rectangle
}

const defaultAttr = 0x1c

func NewCanvas(width, height, cols, rows int) *Canvas {
	c := &Canvas{
		Width:  width,
		Height: height,
		Pix:    make([]Color, width*height),
		Cols:   cols,
		Rows:   rows,
		Cells:  make([]uint16, cols*rows),
		attr:   defaultAttr,
	}
	c.ClearText()
	return c
}

// Bounds is the pixel area of the canvas.
func (c *Canvas) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.Width, c.Height)
}

// At returns the pixel at x, y or Black outside the canvas.
func (c *Canvas) At(x, y int) Color {
	if !(image.Point{x, y}).In(c.Bounds()) {
		return Black
	}
	return c.Pix[y*c.Width+x]
}

// Dirty is the pixel area drawn since the last TakeDirty.
func (c *Canvas) Dirty() image.Rectangle {
	return c.dirty
}

// TakeDirty returns the dirty area and resets it.
func (c *Canvas) TakeDirty() image.Rectangle {
	r := c.dirty
	c.dirty = image.Rectangle{}
	return r
}

func (c *Canvas) touch(r image.Rectangle) {
	c.dirty = c.dirty.Union(r)
}
