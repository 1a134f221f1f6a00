package display

// box is the drawable area of a widget and its value range. Setting a
// widget up draws its borders, which shrink the area.
type box struct {
	X, Y, W, H int
	Min, Max   float64

	Ink    Color
	Ink2   Color
	Paper  Color
	Border Color
}

func (b *box) clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// height maps v to a y offset in the area: Min is at the bottom (H), Max
// at the top (0).
func (b *box) height(v float64) int {
	v = b.clamp(v)
	resol := (b.Max - b.Min) / float64(b.H)
	if resol < 0 {
		resol = -resol
	}
	r := int((v - b.Min) / resol)
	if r > b.H {
		return 0
	}
	return b.H - r
}

// border draws n rectangles inward from the current edge.
func (b *box) border(c *Canvas, col Color, n int) {
	for ; n > 0; n-- {
		c.Rect(b.X, b.Y, b.W, b.H, col)
		b.X++
		b.Y++
		b.W -= 2
		b.H -= 2
	}
}

func (b *box) cls(c *Canvas) {
	c.FillBox(b.X, b.Y, b.W, b.H, b.Paper)
}

// Hist is a strip chart scrolling left one pixel per update.
type Hist struct {
	box
}

func NewHist(x, y, w, h int, min, max float64, ink Color) *Hist {
	return &Hist{box{X: x, Y: y, W: w, H: h, Min: min, Max: max, Ink: ink, Paper: Black, Border: Border}}
}

func (w *Hist) Setup(c *Canvas) {
	w.border(c, w.Border, 1)
	w.border(c, w.Paper, 1)
	w.cls(c)
}

func (w *Hist) Update(c *Canvas, v float64) {
	const step = 1
	top := w.height(v)
	c.ScrollLeft(w.X, w.Y, w.W, w.H, step)
	x := w.X + w.W - step
	if top > 0 {
		c.FillBox(x, w.Y, step, top, w.Paper)
	}
	if top < w.H {
		c.FillBox(x, w.Y+top, step, w.H-top, w.Ink)
	}
}

// Level is a vertical bar. Its untouched background is Ink2 so the highest
// level reached stays visible.
type Level struct {
	box
	last int
}

func NewLevel(x, y, w, h int, min, max float64, ink Color) *Level {
	return &Level{box: box{X: x, Y: y, W: w, H: h, Min: min, Max: max, Ink: ink, Ink2: 0x000033, Paper: Black, Border: Border}}
}

func (w *Level) Setup(c *Canvas) {
	w.border(c, w.Border, 1)
	c.FillBox(w.X, w.Y, w.W, w.H, w.Ink2)
	w.last = w.H
}

// Update only repaints the band between the previous and the new level.
func (w *Level) Update(c *Canvas, v float64) {
	lev := w.height(v)
	if lev == w.last {
		return
	}
	switch {
	case lev == w.H:
		w.cls(c)
	case lev == 0:
		c.FillBox(w.X, w.Y, w.W, w.H, w.Ink)
	case lev < w.last:
		c.FillBox(w.X, w.Y+lev, w.W, w.last-lev, w.Ink)
	default:
		c.FillBox(w.X, w.Y+w.last, w.W, lev-w.last, w.Paper)
	}
	w.last = lev
}

// Diff is a horizontal bar growing from the centre: left in Ink for
// negative values, right in Ink2 for positive ones.
type Diff struct {
	box
	last int
}

func NewDiff(x, y, w, h int, min, max float64) *Diff {
	return &Diff{box: box{X: x, Y: y, W: w, H: h, Min: min, Max: max, Ink: 0x4444ff, Ink2: 0xff4444, Paper: Black, Border: Border}}
}

func (w *Diff) Setup(c *Canvas) {
	w.border(c, w.Border, 1)
	w.border(c, Black, 1)
	w.cls(c)
	w.last = w.W / 2
}

func (w *Diff) Update(c *Canvas, v float64) {
	span := w.Max - w.Min
	if span < 0 {
		span = -span
	}
	curr := int((w.clamp(v) - w.Min) / span * float64(w.W))
	if curr > w.W {
		curr = w.W
	}
	if curr == w.last {
		return
	}
	half := w.W / 2
	if curr < half {
		if w.last >= half {
			c.FillBox(w.X+half, w.Y, w.W-half, w.H, w.Paper)
			w.last = half
		}
		if curr < w.last {
			c.FillBox(w.X+curr, w.Y, w.last-curr, w.H, w.Ink)
		} else {
			c.FillBox(w.X+w.last, w.Y, curr-w.last, w.H, w.Paper)
		}
	} else {
		if w.last < half {
			c.FillBox(w.X, w.Y, half, w.H, w.Paper)
			w.last = half
		}
		if curr > w.last {
			c.FillBox(w.X+w.last, w.Y, curr-w.last, w.H, w.Ink2)
		} else {
			c.FillBox(w.X+curr, w.Y, w.last-curr, w.H, w.Paper)
		}
	}
	w.last = curr
}

// Cursor plots an x/y pair as a 3x3 dot and leaves an Ink2 trail where
// the dot was.
type Cursor struct {
	box
	lastX, lastY int
	drawn        bool
}

func NewCursor(x, y, w, h int, rng float64, ink Color) *Cursor {
	return &Cursor{box: box{X: x, Y: y, W: w, H: h, Min: -rng, Max: rng, Ink: ink, Ink2: 0x000033, Paper: Black, Border: Border}}
}

func (w *Cursor) Setup(c *Canvas) {
	w.border(c, w.Border, 1)
	w.border(c, Black, 1)
	w.cls(c)
	w.drawn = false
}

// Position is where Update puts the dot for xv, yv. Larger y values are
// further up.
func (w *Cursor) Position(xv, yv float64) (int, int) {
	span := w.Max - w.Min
	x := w.X + int((w.clamp(xv)-w.Min)/span*float64(w.W-1))
	y := w.Y + int((w.Max-w.clamp(yv))/span*float64(w.H-1))
	return x, y
}

func (w *Cursor) Update(c *Canvas, xv, yv float64) {
	x, y := w.Position(xv, yv)
	if w.drawn && x == w.lastX && y == w.lastY {
		return
	}
	if w.drawn {
		c.FillBox(w.lastX-1, w.lastY-1, 3, 3, w.Ink2)
	}
	c.FillBox(x-1, y-1, 3, 3, w.Ink)
	w.lastX, w.lastY, w.drawn = x, y, true
}
