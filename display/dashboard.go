package display

import (
	"fmt"
	"math"

	"github.com/jd3nn1s/dashlog"
)

// Dashboard lays out the gauges on a 1024x600 canvas and keeps them up to
// date from snapshots. The strip charts scroll once per drawn snapshot.
type Dashboard struct {
	c *Canvas

	drawn     bool
	screen    dashlog.Screen
	codes     int
	codesDone bool

	throttle, rpm, load, speed             *Hist
	throttleLvl, rpmLvl, loadLvl, speedLvl *Level
	trimShort, trimLong                    *Diff
	accel, gyro                            *Cursor

	needle [2]int
}

func NewDashboard(c *Canvas) *Dashboard {
	return &Dashboard{c: c}
}

// Draw brings the canvas up to date with s.
func (d *Dashboard) Draw(s *dashlog.Snapshot) {
	switch s.Screen {
	case dashlog.ScreenCodes:
		if !d.drawn || d.screen != s.Screen || d.codes != len(s.Codes) || d.codesDone != s.CodesDone {
			d.drawCodes(s)
		}
	default:
		if !d.drawn || d.screen != s.Screen {
			d.setupGauges()
		}
		d.updateGauges(s)
	}
	d.drawn = true
	d.screen = s.Screen
	d.codes = len(s.Codes)
	d.codesDone = s.CodesDone
}

func (d *Dashboard) reset() {
	d.c.Clear(Black)
	d.c.Paper(ConsoleBlack)
	d.c.Ink(ConsoleGrey)
	d.c.ClearText()
}

func (d *Dashboard) drawCodes(s *dashlog.Snapshot) {
	c := d.c
	d.reset()
	c.Paper(ConsoleRed)
	c.Ink(ConsoleGrey)
	c.Puts(3, 3, " TROUBLE CODES ")
	c.Paper(ConsoleBlack)
	c.Ink(ConsoleYellow)
	switch {
	case len(s.Codes) > 0:
		for i, code := range s.Codes {
			c.Puts(3, 6+3*i, fmt.Sprintf("%s  %s", code, code.Description()))
		}
	case s.CodesDone:
		c.Puts(3, 6, "no stored codes")
	default:
		c.Puts(3, 6, "reading stored codes...")
	}
}

func (d *Dashboard) setupGauges() {
	c := d.c
	d.reset()

	c.Ink(ConsoleWhite)
	c.Puts(1, 0, "S")
	c.Puts(5, 0, "L")
	c.Puts(7, 0, "throttle:")
	c.Puts(28, 0, "rpm:")
	c.Puts(121, 0, "R")
	c.Puts(125, 0, "T")
	c.Puts(6, 8, "load:")
	c.Puts(31, 8, "speed:")
	c.Puts(8, 16, "air:")
	c.Puts(42, 16, "battery:")
	c.Puts(4, 17, "coolant:")
	c.Puts(46, 17, "oil:")
	c.Puts(100, 32, "STFT")
	c.Puts(100, 35, "LTFT")
	c.Ink(ConsoleYellow)

	d.accel = NewCursor(60, 34, 205, 204, 512, 0xf3f399)
	d.gyro = NewCursor(60, 290, 205, 204, 512, 0xf5f577)
	d.throttle = NewHist(265, 34, 695, 102, 0, 100, 0xff2222)
	d.throttleLvl = NewLevel(992, 34, 32, 566, 0, 100, 0xff2222)
	d.rpm = NewHist(265, 136, 695, 102, 700, 3800, 0x00ff00)
	d.rpmLvl = NewLevel(960, 34, 32, 566, 700, 3800, 0x00ff00)
	d.load = NewHist(265, 290, 695, 102, 0, 100, 0x1111ff)
	d.loadLvl = NewLevel(30, 34, 30, 566, 0, 100, 0x1111ff)
	d.speed = NewHist(265, 392, 695, 102, 0, 100, 0x00ee44)
	d.speedLvl = NewLevel(0, 34, 30, 566, 0, 100, 0x00ee44)
	d.trimShort = NewDiff(290, 504, 500, 48, -25, 25)
	d.trimLong = NewDiff(290, 552, 500, 48, -25, 25)

	for _, w := range []interface{ Setup(*Canvas) }{
		d.accel, d.gyro,
		d.throttle, d.throttleLvl, d.rpm, d.rpmLvl,
		d.load, d.loadLvl, d.speed, d.speedLvl,
		d.trimShort, d.trimLong,
	} {
		w.Setup(c)
	}

	c.DrawText(860, 514, "REC", Grey)
	c.DrawText(860, 544, "GPS", Grey)
	c.Circle(compassX, compassY, compassR, Grey)
	d.needle = [2]int{compassX, compassY}
}

const (
	compassX = 920
	compassY = 552
	compassR = 36
)

func (d *Dashboard) updateGauges(s *dashlog.Snapshot) {
	c := d.c
	value := func(ch dashlog.Channel) float64 {
		v, _ := s.Value(ch)
		return v
	}

	d.throttle.Update(c, value(dashlog.ChannelThrottle))
	d.throttleLvl.Update(c, value(dashlog.ChannelThrottle))
	d.rpm.Update(c, value(dashlog.ChannelRPM))
	d.rpmLvl.Update(c, value(dashlog.ChannelRPM))
	d.load.Update(c, value(dashlog.ChannelEngineLoad))
	d.loadLvl.Update(c, value(dashlog.ChannelEngineLoad))
	d.speed.Update(c, value(dashlog.ChannelWheelSpeed))
	d.speedLvl.Update(c, value(dashlog.ChannelWheelSpeed))
	d.trimShort.Update(c, value(dashlog.ChannelFuelTrimShort))
	d.trimLong.Update(c, value(dashlog.ChannelFuelTrimLong))
	if sl := s.Slot(dashlog.ChannelAccel); sl.Valid {
		d.accel.Update(c, sl.Vec[0], sl.Vec[1])
	}
	if sl := s.Slot(dashlog.ChannelGyro); sl.Valid {
		d.gyro.Update(c, sl.Vec[0], sl.Vec[1])
	}

	d.field(s, 17, 0, 7, dashlog.ChannelThrottle, func(v float64) string { return fmt.Sprintf("%.1f%%", v) })
	d.field(s, 33, 0, 5, dashlog.ChannelRPM, func(v float64) string { return fmt.Sprintf("%d", int(v)) })
	d.field(s, 12, 8, 4, dashlog.ChannelEngineLoad, func(v float64) string { return fmt.Sprintf("%d%%", int(v)) })
	d.field(s, 38, 8, 10, dashlog.ChannelWheelSpeed, func(v float64) string {
		if int(v) == 0 {
			return "stopped"
		}
		return fmt.Sprintf("%d km/h", int(v))
	})
	d.field(s, 52, 8, 6, dashlog.ChannelGPSSpeed, func(v float64) string { return fmt.Sprintf("(%d)", int(v)) })
	d.field(s, 13, 16, 5, dashlog.ChannelIntakeAirTemp, degrees)
	d.field(s, 51, 16, 7, dashlog.ChannelBattery, func(v float64) string { return fmt.Sprintf("%.1f V", v) })
	d.field(s, 13, 17, 5, dashlog.ChannelCoolantTemp, degrees)
	d.field(s, 51, 17, 5, dashlog.ChannelOilTemp, degrees)

	_, fix := s.Value(dashlog.ChannelLatitude)
	c.Puts(49, 0, flag(s.GPSSynced, "SYNC"))
	c.Puts(55, 0, flag(fix, "GPS"))

	d.indicators(s, fix)
	d.textPanel(s)
	d.compass(s)
}

// field prints a channel value padded to width, or "--" before the first
// reading.
func (d *Dashboard) field(s *dashlog.Snapshot, x, y, width int, ch dashlog.Channel, format func(float64) string) {
	text := "--"
	if v, ok := s.Value(ch); ok {
		text = format(v)
	}
	d.c.Puts(x, y, fmt.Sprintf("%-*.*s", width, width, text))
}

func degrees(v float64) string {
	return fmt.Sprintf("%d^", int(math.Round(v)))
}

func flag(on bool, s string) string {
	if on {
		return s
	}
	return fmt.Sprintf("%*s", len(s), "")
}

func (d *Dashboard) indicators(s *dashlog.Snapshot, fix bool) {
	rec := Grey
	switch {
	case s.Storage.Failing:
		rec = Red
	case s.Storage.Synced:
		rec = Green
	}
	gps := Grey
	switch {
	case s.GPSSynced:
		gps = Green
	case fix:
		gps = Yellow
	}
	for _, r := range []int{8, 5, 2} {
		d.c.Circle(848, 520, r, rec)
		d.c.Circle(848, 550, r, gps)
	}
}

// textPanel fills the area under the gyro cursor with the slower figures.
func (d *Dashboard) textPanel(s *dashlog.Snapshot) {
	const x, y, chars = 66, 500, 27
	num := func(ch dashlog.Channel, format string) string {
		if v, ok := s.Value(ch); ok {
			return fmt.Sprintf(format, v)
		}
		return "--"
	}
	lines := []string{
		"econ " + num(dashlog.ChannelFuelEconShort, "%.1f l/100km"),
		"avg  " + num(dashlog.ChannelFuelEconMedium, "%.1f l/100km"),
		"lat  " + num(dashlog.ChannelLatitude, "%.5f"),
		"lon  " + num(dashlog.ChannelLongitude, "%.5f"),
		"alt  " + num(dashlog.ChannelAltitude, "%.0f m"),
		fmt.Sprintf("buf  %d lost %d", s.Storage.Pending, s.Storage.Evicted+s.DroppedRecords),
	}
	for i, line := range lines {
		ly := y + i*(GlyphHeight+1)
		d.c.TextBox(x, ly, chars, Black)
		d.c.DrawText(x, ly, line, White)
	}
}

// compass points a needle along the GPS track, 0 degrees up.
func (d *Dashboard) compass(s *dashlog.Snapshot) {
	track, ok := s.Value(dashlog.ChannelTrack)
	if !ok {
		return
	}
	rad := track * math.Pi / 180
	x := compassX + int(math.Round(math.Sin(rad)*(compassR-4)))
	y := compassY - int(math.Round(math.Cos(rad)*(compassR-4)))
	if [2]int{x, y} == d.needle {
		return
	}
	d.c.Line(compassX, compassY, d.needle[0], d.needle[1], Black)
	d.c.Line(compassX, compassY, x, y, Yellow)
	d.needle = [2]int{x, y}
}
