package dashlog

import (
	"github.com/jd3nn1s/dashlog/obd"
)

// Channel identifies one slot of aggregator state.
type Channel int

const (
	ChannelThrottle Channel = iota
	ChannelRPM
	ChannelEngineLoad
	ChannelWheelSpeed
	ChannelGPSSpeed
	ChannelTrack
	ChannelFuelEconShort
	ChannelFuelEconMedium
	ChannelFuelTrimShort
	ChannelFuelTrimLong
	ChannelCoolantTemp
	ChannelIntakeAirTemp
	ChannelOilTemp
	ChannelBattery
	ChannelAccel
	ChannelGyro
	ChannelLatitude
	ChannelLongitude
	ChannelAltitude
	ChannelMag

	numChannels
)

var channelNames = [numChannels]string{
	"throttle",
	"rpm",
	"engine_load",
	"wheel_speed",
	"gps_speed",
	"track",
	"fuel_econ_short",
	"fuel_econ_medium",
	"fuel_trim_short",
	"fuel_trim_long",
	"coolant",
	"intake_air",
	"oil",
	"battery",
	"accel",
	"gyro",
	"latitude",
	"longitude",
	"altitude",
	"mag",
}

func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return "unknown"
	}
	return channelNames[c]
}

func ChannelByName(name string) (Channel, bool) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), true
		}
	}
	return 0, false
}

// Slot is the current value of one channel. Vector channels fill Vec.
type Slot struct {
	Value float64
	Vec   [3]float64
	At    Stamp
	Valid bool
}

type Screen int

const (
	ScreenCodes Screen = iota
	ScreenGauges
)

// Snapshot is an immutable copy of aggregator state handed to the renderer.
type Snapshot struct {
	Screen Screen
	At     Stamp
	// Codes found by the startup scan; CodesDone once the scan finished.
	Codes     []obd.Code
	CodesDone bool
	Slots     [numChannels]Slot
	Storage   StorageStatus
	GPSSynced bool
	// DroppedFrames and DroppedRecords count sink queue evictions.
	DroppedFrames  uint64
	DroppedRecords uint64
}

func (s *Snapshot) Slot(c Channel) Slot {
	return s.Slots[c]
}

// Value returns a scalar channel's value and whether it has been seen.
func (s *Snapshot) Value(c Channel) (float64, bool) {
	sl := s.Slots[c]
	return sl.Value, sl.Valid
}

// state is owned by the aggregator goroutine.
type state struct {
	slots     [numChannels]Slot
	smoothers [numChannels]*Smoother
	vectors   [numChannels]vectorSmoother
	codes     []obd.Code
	codesDone bool
	storage   StorageStatus
	gpsSynced bool
}

func newState(cfg map[string]SmoothingConfig) *state {
	st := &state{}
	for name, sc := range cfg {
		c, ok := ChannelByName(name)
		if !ok {
			continue
		}
		if c == ChannelAccel || c == ChannelGyro || c == ChannelMag {
			st.vectors[c] = newVectorSmoother(sc.Samples, sc.Span.Duration)
		} else {
			st.smoothers[c] = NewSmoother(sc.Samples, sc.Span.Duration)
		}
	}
	return st
}

// set stores v, smoothed if the channel has a smoother, and returns what
// was stored.
func (st *state) set(c Channel, at Stamp, v float64) float64 {
	if sm := st.smoothers[c]; sm != nil {
		v = sm.Add(at, v)
	}
	st.slots[c] = Slot{Value: v, At: at, Valid: true}
	return v
}

func (st *state) setVec(c Channel, at Stamp, axes [3]int16) [3]float64 {
	var v [3]float64
	if st.vectors[c][0] != nil {
		v = st.vectors[c].Add(at, axes)
	} else {
		for i := range axes {
			v[i] = float64(axes[i])
		}
	}
	st.slots[c] = Slot{Vec: v, At: at, Valid: true}
	return v
}

func (st *state) value(c Channel) float64 {
	return st.slots[c].Value
}

func (st *state) snapshot(screen Screen, at Stamp) Snapshot {
	s := Snapshot{
		Screen:    screen,
		At:        at,
		CodesDone: st.codesDone,
		Slots:     st.slots,
		Storage:   st.storage,
		GPSSynced: st.gpsSynced,
	}
	if len(st.codes) > 0 {
		s.Codes = append([]obd.Code(nil), st.codes...)
	}
	return s
}
