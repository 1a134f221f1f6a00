package dashlog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Stamp is a capture timestamp in microseconds since the Unix epoch.
type Stamp int64

func StampOf(t time.Time) Stamp {
	return Stamp(t.UnixMicro())
}

func (s Stamp) Time() time.Time {
	return time.UnixMicro(int64(s))
}

func (s Stamp) Sub(o Stamp) time.Duration {
	return time.Duration(s-o) * time.Microsecond
}

// Timebase stamps readings. It is anchored to the wall clock once and then
// advanced by the monotonic clock, so setting the system clock does not make
// stamps jump; only Align moves it, and never backwards.
type Timebase struct {
	start  time.Time
	offset atomic.Int64
	last   atomic.Int64
}

func NewTimebase() *Timebase {
	return &Timebase{start: time.Now()}
}

func (tb *Timebase) Now() Stamp {
	now := StampOf(tb.start) + Stamp(time.Since(tb.start)/time.Microsecond) + Stamp(tb.offset.Load())
	for {
		last := tb.last.Load()
		if int64(now) <= last {
			return Stamp(last)
		}
		if tb.last.CompareAndSwap(last, int64(now)) {
			return now
		}
	}
}

// Align re-anchors the timebase so that Now corresponds to ref. Stamps
// already handed out are not revisited; if ref is behind, stamps hold still
// until real time catches up.
func (tb *Timebase) Align(ref time.Time) time.Duration {
	local := StampOf(tb.start) + Stamp(time.Since(tb.start)/time.Microsecond) + Stamp(tb.offset.Load())
	delta := StampOf(ref) - local
	tb.offset.Add(int64(delta))
	return delta.Sub(0)
}

type ClockPolicy string

const (
	ClockOff      ClockPolicy = "off"
	ClockOnce     ClockPolicy = "once"
	ClockPeriodic ClockPolicy = "periodic"
)

// to allow testing
var setSystemClock = func(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&tv)
}

var systemNow = time.Now

// ClockSync owns the one shared side effect in the process: correcting the
// system clock from a verified GPS time fix. Only the GPS source calls it.
type ClockSync struct {
	Policy    ClockPolicy
	Threshold time.Duration
	Interval  time.Duration
	Timebase  *Timebase

	mu       sync.Mutex
	lastSync time.Time
	synced   bool
}

// Correct is called for each verified GPS time. The timebase is aligned
// whatever the policy; the policy only decides whether the system clock is
// set too. It reports whether the system clock was set.
func (cs *ClockSync) Correct(gpsTime time.Time) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.synced && (cs.Policy != ClockPeriodic || gpsTime.Sub(cs.lastSync) < cs.Interval) {
		return false
	}

	drift := gpsTime.Sub(systemNow())
	if drift < 0 {
		drift = -drift
	}
	if drift < cs.Threshold {
		cs.markSynced(gpsTime)
		return false
	}
	if cs.Policy != ClockOnce && cs.Policy != ClockPeriodic {
		cs.markSynced(gpsTime)
		return false
	}

	if err := setSystemClock(gpsTime); err != nil {
		log.WithField("err", errors.Wrap(err, "settimeofday")).Warn("unable to correct system clock")
		// the timebase still follows GPS so stored stamps line up
		cs.markSynced(gpsTime)
		return false
	}
	log.WithField("drift", drift).Info("system clock corrected from gps")
	cs.markSynced(gpsTime)
	return true
}

func (cs *ClockSync) markSynced(gpsTime time.Time) {
	if cs.Timebase != nil {
		if d := cs.Timebase.Align(gpsTime); d > cs.Threshold || -d > cs.Threshold {
			log.WithField("delta", d).Info("timebase aligned to gps")
		}
	}
	cs.synced = true
	cs.lastSync = gpsTime
}

func (cs *ClockSync) Synced() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.synced
}

func NewClockSync(cfg GPSConfig, tb *Timebase) *ClockSync {
	return &ClockSync{
		Policy:    ClockPolicy(cfg.Clock),
		Threshold: cfg.ClockThreshold.Duration,
		Interval:  cfg.ClockInterval.Duration,
		Timebase:  tb,
	}
}
