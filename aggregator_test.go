package dashlog

import (
	"context"
	"github.com/jd3nn1s/dashlog/obd"
	"github.com/jd3nn1s/dashlog/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	base    time.Time
	elapsed atomic.Int64
}

func (c *fakeClock) now() time.Time {
	return c.base.Add(time.Duration(c.elapsed.Load()))
}

func (c *fakeClock) set(d time.Duration) {
	c.elapsed.Store(int64(d))
}

func testAggregatorConfig() AggregatorConfig {
	cfg := DefaultConfig().Aggregator
	cfg.RenderInterval = dur(2 * time.Millisecond)
	cfg.CodesDisplay = dur(3 * time.Second)
	cfg.FrameQueue = 256
	return cfg
}

func startAggregator(t *testing.T, cfg AggregatorConfig, fwds ...Forwarder) (*Aggregator, *fakeClock, func()) {
	codec, err := record.NewCodec(nil)
	require.NoError(t, err)
	a := NewAggregator(cfg, codec, NewTimebase())
	for _, fwd := range fwds {
		a.AddForwarder(fwd)
	}
	clock := &fakeClock{base: time.Now()}
	a.now = clock.now

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		assert.NoError(t, a.Run(ctx))
		wg.Done()
	}()
	return a, clock, func() {
		cancel()
		wg.Wait()
	}
}

// waitFrame reads frames until match returns true, checking every frame
// on the way with each.
func waitFrame(t *testing.T, a *Aggregator, each func(Snapshot), match func(Snapshot) bool) Snapshot {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-a.Frames().C():
			require.True(t, ok, "frame queue closed")
			if each != nil {
				each(s)
			}
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for frame")
			return Snapshot{}
		}
	}
}

func TestAggregatorCodesScreen(t *testing.T) {
	a, clock, stop := startAggregator(t, testAggregatorConfig())
	defer stop()

	tb := NewTimebase()
	a.Readings() <- DiagnosticErrorCode{Captured: at(tb.Now()), Code: 0x0301, Index: 0}
	a.Readings() <- DiagnosticErrorCode{Captured: at(tb.Now()), Code: 0x0420, Index: 1}
	a.Readings() <- DiagnosticCodesDone{Captured: at(tb.Now()), Count: 2}
	a.Readings() <- RPM{at(tb.Now()), 900}

	codesOnly := func(s Snapshot) {
		assert.Equal(t, ScreenCodes, s.Screen)
	}
	s := waitFrame(t, a, codesOnly, func(s Snapshot) bool {
		return s.CodesDone && len(s.Codes) == 2
	})
	assert.Equal(t, []obd.Code{0x0301, 0x0420}, s.Codes)

	// still inside the display period
	clock.set(2900 * time.Millisecond)
	deadline := time.Now().Add(50 * time.Millisecond)
	waitFrame(t, a, codesOnly, func(Snapshot) bool {
		return time.Now().After(deadline)
	})

	clock.set(3 * time.Second)
	s = waitFrame(t, a, nil, func(s Snapshot) bool {
		return s.Screen == ScreenGauges
	})
	rpm, ok := s.Value(ChannelRPM)
	assert.True(t, ok)
	assert.Equal(t, 900.0, rpm)
}

func TestAggregatorNoCodes(t *testing.T) {
	a, _, stop := startAggregator(t, testAggregatorConfig())
	defer stop()

	a.Readings() <- DiagnosticCodesDone{Count: 0}
	s := waitFrame(t, a, nil, func(s Snapshot) bool {
		return s.Screen == ScreenGauges
	})
	assert.Empty(t, s.Codes)
	assert.True(t, s.CodesDone)
}

func TestAggregatorCodesTimeout(t *testing.T) {
	cfg := testAggregatorConfig()
	cfg.CodesTimeout = dur(10 * time.Second)
	a, clock, stop := startAggregator(t, cfg)
	defer stop()

	waitFrame(t, a, nil, func(s Snapshot) bool {
		return s.Screen == ScreenCodes
	})
	clock.set(11 * time.Second)
	waitFrame(t, a, nil, func(s Snapshot) bool {
		return s.Screen == ScreenGauges
	})
}

func TestAggregatorRecords(t *testing.T) {
	fwd := &forwarderStub{}
	a, _, stop := startAggregator(t, testAggregatorConfig(), fwd)

	t0 := StampOf(time.Now())
	a.Readings() <- RPM{at(t0), 3000}
	a.Readings() <- RPM{at(t0 + 10000), 3200}
	a.Readings() <- StorageStatus{Captured: at(t0 + 20000), Synced: true}
	stop()

	codec, _ := record.NewCodec(nil)
	var recs []record.Record
	for r := range a.Records().C() {
		recs = append(recs, r)
	}
	// the status is display only
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Len(t, r.Bytes(), record.Size)
		assert.Equal(t, record.KindEngine, r.Kind())
	}
	assert.Equal(t, int64(t0), recs[0].Stamp())
	rpm, ok := codec.Value(recs[1], "rpm")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, rpm, 3000.0)
	assert.LessOrEqual(t, rpm, 3200.0)
	changed, _ := codec.Value(recs[1], "changed")
	assert.Equal(t, float64(record.ChangedFirst), changed)
	assert.Equal(t, 2, fwd.Len())
}

func TestAggregatorPersistenceBackpressure(t *testing.T) {
	cfg := testAggregatorConfig()
	cfg.RecordQueue = 1
	cfg.PersistWait = dur(time.Millisecond)
	a, _, stop := startAggregator(t, cfg)

	for i := 0; i < 5; i++ {
		a.Readings() <- Throttle{at(Stamp(i)), float64(i)}
	}
	stop()

	var recs []record.Record
	for r := range a.Records().C() {
		recs = append(recs, r)
	}
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(4), a.Records().Dropped())
	// the newest survives
	assert.Equal(t, int64(4), recs[0].Stamp())
}

func TestAggregatorStateUpdates(t *testing.T) {
	codec, err := record.NewCodec(nil)
	require.NoError(t, err)
	st := newState(nil)

	_, persist, err := st.recordFor(codec, GPSSpeed{Captured: at(1), Value: 88, Track: -1})
	require.NoError(t, err)
	assert.True(t, persist)
	assert.False(t, st.slots[ChannelTrack].Valid)
	assert.Equal(t, 88.0, st.value(ChannelGPSSpeed))

	rec, _, err := st.recordFor(codec, AccelSample{Captured: at(2), Axes: [3]int16{1, 2, 3}})
	require.NoError(t, err)
	d, err := codec.Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, 3.0, d.Value("az"))
	assert.Equal(t, float64(record.ChangedFirst), d.Value("changed"))

	rec, persist, err = st.recordFor(codec, MagSample{Captured: at(2), Axes: [3]int16{-7, 0, 300}})
	require.NoError(t, err)
	assert.True(t, persist)
	assert.Equal(t, record.KindMagnetic, rec.Kind())
	mz, _ := codec.Value(rec, "mz")
	assert.Equal(t, 300.0, mz)
	assert.Equal(t, [3]float64{-7, 0, 300}, st.slots[ChannelMag].Vec)

	_, _, err = st.recordFor(codec, GPSTimeSync{Captured: at(3), GPSTime: time.Now()})
	require.NoError(t, err)
	assert.True(t, st.gpsSynced)

	rec, _, err = st.recordFor(codec, DiagnosticCodesDone{Captured: at(4), Count: 3})
	require.NoError(t, err)
	assert.Equal(t, record.KindDTC, rec.Kind())
	count, _ := codec.Value(rec, "count")
	assert.Equal(t, 3.0, count)
}
