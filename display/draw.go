package display

import (
	"image"
)

// area clips the w x h box at x, y to the canvas.
func (c *Canvas) area(x, y, w, h int) image.Rectangle {
	return image.Rect(x, y, x+w, y+h).Intersect(c.Bounds())
}

func (c *Canvas) Clear(col Color) {
	for i := range c.Pix {
		c.Pix[i] = col
	}
	c.touch(c.Bounds())
}

func (c *Canvas) Plot(x, y int, col Color) {
	if x < 0 || y < 0 || x >= c.Width || y >= c.Height {
		return
	}
	c.Pix[y*c.Width+x] = col
	c.touch(image.Rect(x, y, x+1, y+1))
}

func (c *Canvas) HLine(x, y, w int, col Color) {
	c.FillBox(x, y, w, 1, col)
}

func (c *Canvas) VLine(x, y, h int, col Color) {
	c.FillBox(x, y, 1, h, col)
}

// FillBox fills a w x h box; whatever falls outside the canvas is skipped.
func (c *Canvas) FillBox(x, y, w, h int, col Color) {
	r := c.area(x, y, w, h)
	if r.Empty() {
		return
	}
	for row := r.Min.Y; row < r.Max.Y; row++ {
		line := c.Pix[row*c.Width+r.Min.X : row*c.Width+r.Max.X]
		for i := range line {
			line[i] = col
		}
	}
	c.touch(r)
}

// Rect draws the outline of a w x h box.
func (c *Canvas) Rect(x, y, w, h int, col Color) {
	if w <= 0 || h <= 0 {
		return
	}
	c.HLine(x, y, w, col)
	if h == 1 {
		return
	}
	c.HLine(x, y+h-1, w, col)
	c.VLine(x, y+1, h-2, col)
	c.VLine(x+w-1, y+1, h-2, col)
}

// ScrollLeft moves the content of a box n pixels to the left. The n
// rightmost columns keep their old content for the caller to redraw.
func (c *Canvas) ScrollLeft(x, y, w, h, n int) {
	r := c.area(x, y, w, h)
	if r.Empty() || n <= 0 || n >= r.Dx() {
		return
	}
	for row := r.Min.Y; row < r.Max.Y; row++ {
		base := row * c.Width
		copy(c.Pix[base+r.Min.X:base+r.Max.X-n], c.Pix[base+r.Min.X+n:base+r.Max.X])
	}
	c.touch(r)
}

// Line draws from x0, y0 to x1, y1 inclusive.
func (c *Canvas) Line(x0, y0, x1, y1 int, col Color) {
	dx, sx := abs(x1-x0), 1
	if x0 > x1 {
		sx = -1
	}
	dy, sy := -abs(y1-y0), 1
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		c.Plot(x0, y0, col)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// Circle draws the outline of a circle of radius r around xc, yc.
func (c *Canvas) Circle(xc, yc, r int, col Color) {
	if r <= 0 {
		return
	}
	x, y, e := -r, 0, 2-2*r
	for x < 0 {
		c.Plot(xc-x, yc+y, col)
		c.Plot(xc-y, yc-x, col)
		c.Plot(xc+x, yc-y, col)
		c.Plot(xc+y, yc+x, col)
		r = e
		if r <= y {
			y++
			e += 2*y + 1
		}
		if r > x || e > y {
			x++
			e += 2*x + 1
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
