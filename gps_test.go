package dashlog

import (
	"context"
	"github.com/adrianmo/go-nmea"
	"github.com/jd3nn1s/skytraq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

const (
	ggaGood    = "$GPGGA,101530.00,5231.200,N,01324.300,E,1,08,0.9,34.5,M,46.9,M,,*52"
	ggaHighDOP = "$GPGGA,101530.00,5231.200,N,01324.300,E,1,08,9.9,34.5,M,46.9,M,,*5B"
	ggaNoFix   = "$GPGGA,101530.00,5231.200,N,01324.300,E,0,00,99.9,0.0,M,0.0,M,,*62"
	rmcGood    = "$GPRMC,101530.00,A,5231.200,N,01324.300,E,10.0,84.4,171026,,,A*52"
	rmcVoid    = "$GPRMC,101530.00,V,5231.200,N,01324.300,E,0.0,0.0,171026,,,N*43"
	rmcEpoch   = "$GPRMC,000001.00,A,5231.200,N,01324.300,E,0.0,0.0,060104,,,A*5C"
)

func TestRunGPS(t *testing.T) {
	gpsChan := make(chan Reading, 4)

	origGPSConnect := gpsConnect
	defer func() {
		gpsConnect = origGPSConnect
	}()

	stub := createGPSStub()
	gpsConnect = func(p string) (SkyTraq, error) {
		return stub, nil
	}

	gpsRetryable := &skytraqSource{
		maxHDOP:  5,
		tb:       NewTimebase(),
		sendChan: gpsChan,
	}

	// close before opening
	assert.NoError(t, gpsRetryable.Close())
	assert.NoError(t, gpsRetryable.Open())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		_ = gpsRetryable.Start(ctx)
		wg.Done()
	}()
	<-stub.startChan

	stub.fnChan <- func() {
		stub.callbacks.SoftwareVersion(skytraq.SoftwareVersion{
			Kernel:   skytraq.Version{1, 2, 3},
			ODM:      skytraq.Version{4, 5, 6},
			Revision: skytraq.Version{7, 8, 9},
		})
	}

	navData := skytraq.NavData{
		Fix:            skytraq.Fix3D,
		SatelliteCount: 1,
		Latitude:       2,
		Longitude:      3,
		Altitude:       4,
		VX:             5,
		VY:             7,
		VZ:             8,
		HDOP:           9,
	}
	stub.fnChan <- func() {
		stub.callbacks.NavData(navData)
	}

	// read some data
	assert.IsType(t, GPSSpeed{}, <-gpsChan)

	cancel()
	wg.Wait()
}

func TestNavDataFn(t *testing.T) {
	gpsChan := make(chan Reading, 4)
	gpsRetryable := skytraqSource{
		maxHDOP:  5,
		tb:       NewTimebase(),
		sendChan: gpsChan,
	}

	navData := skytraq.NavData{
		Fix:            skytraq.FixNone,
		SatelliteCount: 1,
		Latitude:       2,
		Longitude:      3,
		Altitude:       4,
		VX:             5,
		VY:             7,
		VZ:             8,
		HDOP:           9,
	}

	gpsRetryable.navDataFn(navData)
	assertNoData(t, gpsChan, "unexpected data on channel as there is no fix")

	navData.Fix = skytraq.Fix3D
	gpsRetryable.navDataFn(navData)
	speed := (<-gpsChan).(GPSSpeed)
	assert.InDelta(t, 0.42290, speed.Value, 1e-5)
	assert.Less(t, speed.Track, 0.0)
	pos := (<-gpsChan).(GPSPosition)
	assert.InDelta(t, 2e-7, pos.Latitude, 1e-12)
	assert.InDelta(t, 3e-7, pos.Longitude, 1e-12)
	assert.InDelta(t, 0.04, pos.Altitude, 1e-9)

	// HDOP is reported in hundredths
	navData.HDOP = 600
	gpsRetryable.navDataFn(navData)
	assertNoData(t, gpsChan, "unexpected data on channel as there is high HDOP")
}

func assertNoData(t *testing.T, ch <-chan Reading, msg string) {
	select {
	case <-ch:
		assert.Fail(t, msg)
	default:
	}
}

func parseSentence(t *testing.T, raw string) nmea.Sentence {
	s, err := nmea.Parse(raw)
	require.NoError(t, err)
	return s
}

func withClock(offset time.Duration) (set *[]time.Time, restore func()) {
	origSet, origNow := setSystemClock, systemNow
	calls := []time.Time{}
	setSystemClock = func(tm time.Time) error {
		calls = append(calls, tm)
		return nil
	}
	systemNow = func() time.Time {
		return time.Date(2026, 10, 17, 10, 15, 30, 0, time.UTC).Add(offset)
	}
	return &calls, func() {
		setSystemClock, systemNow = origSet, origNow
	}
}

func TestNMEAFix(t *testing.T) {
	calls, restore := withClock(-time.Hour)
	defer restore()

	tb := NewTimebase()
	ch := make(chan Reading, 8)
	g := &nmeaSource{
		maxHDOP:  5,
		tb:       tb,
		clock:    &ClockSync{Policy: ClockOnce, Threshold: 2 * time.Second, Timebase: tb},
		sendChan: ch,
		fixValid: true,
	}
	ctx := context.Background()

	g.handleGGA(parseSentence(t, ggaGood).(nmea.GGA))
	require.NoError(t, g.handleRMC(ctx, parseSentence(t, rmcGood).(nmea.RMC)))

	speed := (<-ch).(GPSSpeed)
	assert.InDelta(t, 18.52, speed.Value, 1e-9)
	assert.InDelta(t, 84.4, speed.Track, 1e-9)
	pos := (<-ch).(GPSPosition)
	assert.InDelta(t, 52.52, pos.Latitude, 1e-9)
	assert.InDelta(t, 13.405, pos.Longitude, 1e-9)
	assert.InDelta(t, 34.5, pos.Altitude, 1e-9)
	ts := (<-ch).(GPSTimeSync)
	want := time.Date(2026, 10, 17, 10, 15, 30, 0, time.UTC)
	assert.Equal(t, want, ts.GPSTime)

	// the clock was set before the readings were stamped
	require.Len(t, *calls, 1)
	assert.Equal(t, want, (*calls)[0])
	assert.InDelta(t, float64(StampOf(want)), float64(speed.CapturedAt()), float64(time.Second/time.Microsecond))

	// once only
	require.NoError(t, g.handleRMC(ctx, parseSentence(t, rmcGood).(nmea.RMC)))
	assert.Len(t, *calls, 1)
}

func TestNMEAQualityGate(t *testing.T) {
	ch := make(chan Reading, 8)
	g := &nmeaSource{
		maxHDOP:  5,
		tb:       NewTimebase(),
		sendChan: ch,
		fixValid: true,
	}
	ctx := context.Background()

	g.handleGGA(parseSentence(t, ggaHighDOP).(nmea.GGA))
	require.NoError(t, g.handleRMC(ctx, parseSentence(t, rmcGood).(nmea.RMC)))
	assertNoData(t, ch, "fix with high HDOP was not dropped")

	g.handleGGA(parseSentence(t, ggaNoFix).(nmea.GGA))
	require.NoError(t, g.handleRMC(ctx, parseSentence(t, rmcGood).(nmea.RMC)))
	assertNoData(t, ch, "fix without GGA fix was not dropped")

	g.handleGGA(parseSentence(t, ggaGood).(nmea.GGA))
	require.NoError(t, g.handleRMC(ctx, parseSentence(t, rmcVoid).(nmea.RMC)))
	assertNoData(t, ch, "void RMC was not dropped")
}

func TestNMEAUnsetReceiverClock(t *testing.T) {
	calls, restore := withClock(-time.Hour)
	defer restore()

	tb := NewTimebase()
	ch := make(chan Reading, 8)
	g := &nmeaSource{
		maxHDOP:  5,
		tb:       tb,
		clock:    &ClockSync{Policy: ClockOnce, Threshold: time.Second, Timebase: tb},
		sendChan: ch,
		fixValid: true,
	}
	require.NoError(t, g.handleRMC(context.Background(), parseSentence(t, rmcEpoch).(nmea.RMC)))
	assert.IsType(t, GPSSpeed{}, <-ch)
	assert.IsType(t, GPSPosition{}, <-ch)
	assertNoData(t, ch, "time sync from an unset receiver clock")
	assert.Empty(t, *calls)
}

func TestNMEASource(t *testing.T) {
	lines := createLineReaderStub()
	origNMEAConnect := nmeaConnect
	nmeaConnect = func(string, int) (LineReader, error) {
		return lines, nil
	}
	defer func() {
		nmeaConnect = origNMEAConnect
	}()

	ch := make(chan Reading, 8)
	g := &nmeaSource{maxHDOP: 5, tb: NewTimebase(), sendChan: ch}
	require.NoError(t, g.Open())

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		assert.ErrorIs(t, g.Start(ctx), context.Canceled)
		wg.Done()
	}()

	lines.lines <- "garbage\r\n"
	lines.lines <- "$GPGGA,broken*00\r\n"
	lines.lines <- ggaGood + "\r\n"
	lines.lines <- rmcGood + "\r\n"
	assert.IsType(t, GPSSpeed{}, <-ch)
	assert.IsType(t, GPSPosition{}, <-ch)
	assert.IsType(t, GPSTimeSync{}, <-ch)

	cancel()
	wg.Wait()
}

func TestRMCTime(t *testing.T) {
	tm, ok := rmcTime(parseSentence(t, rmcGood).(nmea.RMC))
	assert.True(t, ok)
	assert.Equal(t, 2026, tm.Year())
	assert.Equal(t, time.October, tm.Month())

	_, ok = rmcTime(parseSentence(t, rmcEpoch).(nmea.RMC))
	assert.False(t, ok)
}
