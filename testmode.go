package dashlog

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// walker wanders within [min, max], moving at most a twentieth of the range
// per step.
type walker struct {
	min, max float64
	v        float64
	rng      *rand.Rand
}

func newWalker(rng *rand.Rand, min, max float64) *walker {
	return &walker{min: min, max: max, v: min + (max-min)/2, rng: rng}
}

func (w *walker) step() float64 {
	w.v += (w.max - w.min) / 20 * (w.rng.Float64()*2 - 1)
	if w.v < w.min {
		w.v = w.min
	} else if w.v > w.max {
		w.v = w.max
	}
	return w.v
}

type simChannel struct {
	name     string
	min, max float64
	reading  func(c Captured, v float64) Reading
}

var simChannels = []simChannel{
	{"battery", 11.8, 14.6, func(c Captured, v float64) Reading { return BatteryVoltage{c, v} }},
	{"rpm", 800, 3000, func(c Captured, v float64) Reading { return RPM{c, int(v)} }},
	{"engine_load", 0, 100, func(c Captured, v float64) Reading { return EngineLoad{c, v} }},
	{"speed", 0, 80, func(c Captured, v float64) Reading { return WheelSpeed{c, v} }},
	{"throttle", 0, 100, func(c Captured, v float64) Reading { return Throttle{c, v} }},
	{"coolant", 20, 120, func(c Captured, v float64) Reading { return CoolantTemp{c, v} }},
	{"intake_air", -5, 50, func(c Captured, v float64) Reading { return IntakeAirTemp{c, v} }},
	{"oil", 20, 130, func(c Captured, v float64) Reading { return OilTemp{c, v} }},
	{"fuel_trim_short", -25, 25, func(c Captured, v float64) Reading { return FuelTrimShort{c, v} }},
	{"fuel_trim_long", -25, 25, func(c Captured, v float64) Reading { return FuelTrimLong{c, v} }},
	{"fuel_econ_short", 3, 30, func(c Captured, v float64) Reading { return FuelEconShort{c, v} }},
	{"fuel_econ_medium", 5, 12, func(c Captured, v float64) Reading { return FuelEconMedium{c, v} }},
}

// runTestMode feeds simulated readings for every source until ctx is done.
// The trouble code scan finds nothing.
func runTestMode(ctx context.Context, imu IMUConfig, tb *Timebase, sendChan chan<- Reading) error {
	log.Info("running in test mode")
	if err := emit(ctx, sendChan, DiagnosticCodesDone{at(tb.Now()), 0}); err != nil {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, ch := range simChannels {
		ch := ch
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		g.Go(func() error {
			simulate(ctx, ch, rng, tb, sendChan)
			return nil
		})
	}
	g.Go(func() error {
		simulateGPS(ctx, tb, sendChan)
		return nil
	})
	g.Go(func() error {
		imu.Backend = "sim"
		return runIMU(ctx, imu, tb, sendChan)
	})
	return g.Wait()
}

func simulate(ctx context.Context, ch simChannel, rng *rand.Rand, tb *Timebase, sendChan chan<- Reading) {
	w := newWalker(rng, ch.min, ch.max)
	for {
		if err := emit(ctx, sendChan, ch.reading(at(tb.Now()), w.v)); err != nil {
			return
		}
		w.step()
		if !sleepCtx(ctx, time.Duration(300+rng.Intn(300))*time.Millisecond) {
			return
		}
	}
}

// simulateGPS drives a slow loop around a fixed point at 5 Hz with a time
// sync once a second.
func simulateGPS(ctx context.Context, tb *Timebase, sendChan chan<- Reading) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	speed := newWalker(rng, 0, 100)
	track := 0.0
	lat, lon := 52.52, 13.405

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		track += 1.5
		if track >= 360 {
			track -= 360
		}
		lat += 0.00001
		lon += 0.00001
		c := at(tb.Now())
		readings := []Reading{
			GPSSpeed{Captured: c, Value: speed.step(), Track: track},
			GPSPosition{Captured: c, Latitude: lat, Longitude: lon, Altitude: 34},
		}
		if n%5 == 0 {
			readings = append(readings, GPSTimeSync{Captured: c, GPSTime: time.Now().UTC()})
		}
		for _, r := range readings {
			if emit(ctx, sendChan, r) != nil {
				return
			}
		}
	}
}

// simMotion is a motion sensor producing small noise around zero.
type simMotion struct {
	rng *rand.Rand
}

func newSimMotion() *simMotion {
	return &simMotion{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *simMotion) ReadMotion() (Motion, error) {
	m := Motion{HasMag: true}
	for i := range m.Accel {
		m.Accel[i] = int16(s.rng.Intn(16) - 8)
		m.Gyro[i] = int16(s.rng.Intn(16) - 8)
		m.Mag[i] = int16(s.rng.Intn(16) - 8)
	}
	return m, nil
}

func (s *simMotion) Close() error {
	return nil
}
