package display

// Console colors are VGA palette indexes.
const (
	ConsoleBlack  = 0
	ConsoleRed    = 4
	ConsoleGrey   = 7
	ConsoleYellow = 14
	ConsoleWhite  = 15
)

// Ink sets the foreground of following Puts calls.
func (c *Canvas) Ink(col int) {
	c.attr = (c.attr & 0xe0) | uint8(col&15)<<1
}

// Paper sets the background of following Puts calls.
func (c *Canvas) Paper(col int) {
	c.attr = (c.attr & 0x1e) | uint8(col&7)<<5
}

// ClearText blanks every console cell with the current attribute.
func (c *Canvas) ClearText() {
	blank := uint16(' ') | uint16(c.attr)<<8
	for i := range c.Cells {
		c.Cells[i] = blank
	}
}

// Puts writes s at column x, row y. Text running past the last cell is
// cut. '|' and '^' stand for the console font's a-grave and degree sign.
func (c *Canvas) Puts(x, y int, s string) {
	if x < 0 || y < 0 || x >= c.Cols {
		return
	}
	pos := y*c.Cols + x
	for i := 0; i < len(s) && pos < len(c.Cells); i++ {
		ch := s[i]
		switch ch {
		case '|':
			ch = 0x85
		case '^':
			ch = 0xf8
		}
		c.Cells[pos] = uint16(ch) | uint16(c.attr)<<8
		pos++
	}
}

// TextAt returns n characters of the console starting at column x, row y.
func (c *Canvas) TextAt(x, y, n int) string {
	out := make([]byte, 0, n)
	for pos := y*c.Cols + x; pos < len(c.Cells) && len(out) < n; pos++ {
		out = append(out, byte(c.Cells[pos]))
	}
	return string(out)
}

// AttrAt returns the attribute byte of the cell at column x, row y.
func (c *Canvas) AttrAt(x, y int) uint8 {
	return uint8(c.Cells[y*c.Cols+x] >> 8)
}
