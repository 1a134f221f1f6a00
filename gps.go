package dashlog

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jd3nn1s/skytraq"
	log "github.com/sirupsen/logrus"
)

const (
	knotsToKmh = 1.852
	// fixes dated before this come from a receiver that has not seen a
	// satellite yet and still counts from its firmware epoch
	minGPSYear = 2016
)

// to allow testing
var gpsConnect = func(p string) (SkyTraq, error) {
	return skytraq.Connect(p)
}

var nmeaConnect = func(p string, baud int) (LineReader, error) {
	return openSerialLines(p, baud)
}

// skytraqSource reads binary navigation data. The receiver reports no UTC
// time in nav data, so it never corrects the clock.
type skytraqSource struct {
	port     string
	maxHDOP  float64
	c        SkyTraq
	tb       *Timebase
	sendChan chan<- Reading
	ctx      context.Context
}

func (g *skytraqSource) Open() error {
	c, err := gpsConnect(g.port)
	if err != nil {
		return err
	}
	g.c = c
	return nil
}

func (g *skytraqSource) Close() error {
	if g.c == nil {
		return nil
	}
	err := g.c.Close()
	g.c = nil
	return err
}

func (g *skytraqSource) Start(ctx context.Context) error {
	g.ctx = ctx
	return g.c.Start(ctx, skytraq.Callbacks{
		SoftwareVersion: func(version skytraq.SoftwareVersion) {
			log.Infof("software version: %v", version)
		},
		NavData: g.navDataFn,
	})
}

func (g *skytraqSource) Name() string {
	return "gps"
}

func (g *skytraqSource) navDataFn(navData skytraq.NavData) {
	if navData.Fix == skytraq.FixNone {
		log.Warnf("no satellite fix")
		return
	}
	// nav data carries HDOP in hundredths
	if hdop := float64(navData.HDOP) / 100; hdop > g.maxHDOP {
		log.WithField("HDOP", hdop).Warn("poor resolution")
		return
	}
	// ECEF velocity in cm/s
	speed := math.Sqrt(math.Pow(float64(navData.VX), 2)+
		math.Pow(float64(navData.VY), 2)+
		math.Pow(float64(navData.VZ), 2)) * 0.036

	ctx := g.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := at(g.tb.Now())
	if err := emit(ctx, g.sendChan, GPSSpeed{Captured: now, Value: speed, Track: -1}); err != nil {
		return
	}
	_ = emit(ctx, g.sendChan, GPSPosition{
		Captured:  now,
		Latitude:  float64(navData.Latitude) / 1e7,
		Longitude: float64(navData.Longitude) / 1e7,
		Altitude:  float64(navData.Altitude) / 100,
	})
}

// nmeaSource reads RMC and GGA sentences from a serial receiver. GGA
// supplies fix quality, HDOP and altitude for the RMC that follows it.
type nmeaSource struct {
	port     string
	baud     int
	maxHDOP  float64
	lines    LineReader
	tb       *Timebase
	clock    *ClockSync
	sendChan chan<- Reading

	fixValid bool
	hdop     float64
	altitude float64
}

func (g *nmeaSource) Name() string {
	return "gps"
}

func (g *nmeaSource) Open() error {
	lines, err := nmeaConnect(g.port, g.baud)
	if err != nil {
		return err
	}
	g.lines = lines
	// until a GGA says otherwise
	g.fixValid, g.hdop = true, 0
	return nil
}

func (g *nmeaSource) Close() error {
	if g.lines == nil {
		return nil
	}
	return g.lines.Close()
}

func (g *nmeaSource) Start(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks ReadLine
			_ = g.lines.Close()
		case <-stop:
		}
	}()

	for {
		line, err := g.lines.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			log.WithField("err", err).Debug("unparseable nmea sentence")
			continue
		}
		switch sentence.DataType() {
		case nmea.TypeGGA:
			g.handleGGA(sentence.(nmea.GGA))
		case nmea.TypeRMC:
			if err := g.handleRMC(ctx, sentence.(nmea.RMC)); err != nil {
				return err
			}
		}
	}
}

func (g *nmeaSource) handleGGA(m nmea.GGA) {
	g.fixValid = m.FixQuality != nmea.Invalid
	g.hdop = m.HDOP
	g.altitude = m.Altitude
}

func (g *nmeaSource) handleRMC(ctx context.Context, m nmea.RMC) error {
	if m.Validity != nmea.ValidRMC || !g.fixValid {
		log.Warnf("no satellite fix")
		return nil
	}
	if g.hdop > g.maxHDOP {
		log.WithField("HDOP", g.hdop).Warn("poor resolution")
		return nil
	}

	gpsTime, timeOK := rmcTime(m)
	if timeOK && g.clock != nil {
		// correct the clock before anything is stamped against it
		g.clock.Correct(gpsTime)
	}

	now := at(g.tb.Now())
	readings := []Reading{
		GPSSpeed{Captured: now, Value: m.Speed * knotsToKmh, Track: m.Course},
		GPSPosition{Captured: now, Latitude: m.Latitude, Longitude: m.Longitude, Altitude: g.altitude},
	}
	if timeOK {
		readings = append(readings, GPSTimeSync{Captured: now, GPSTime: gpsTime})
	}
	for _, r := range readings {
		if err := emit(ctx, g.sendChan, r); err != nil {
			return err
		}
	}
	return nil
}

func rmcTime(m nmea.RMC) (time.Time, bool) {
	if !m.Date.Valid || !m.Time.Valid {
		return time.Time{}, false
	}
	t := time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
	if t.Year() < minGPSYear {
		return time.Time{}, false
	}
	return t, true
}

// runGPS runs the configured receiver backend until ctx is done.
func runGPS(ctx context.Context, cfg GPSConfig, tb *Timebase, clock *ClockSync, sendChan chan<- Reading) error {
	var r Retryable
	switch cfg.Backend {
	case "skytraq":
		r = &skytraqSource{port: cfg.Port, maxHDOP: cfg.MaxHDOP, tb: tb, sendChan: sendChan}
	default:
		r = &nmeaSource{port: cfg.Port, baud: cfg.Baud, maxHDOP: cfg.MaxHDOP, tb: tb, clock: clock, sendChan: sendChan}
	}
	err := retry(ctx, r)
	log.Infof("gps done: %v", err)
	return nil
}
