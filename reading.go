package dashlog

import (
	"github.com/jd3nn1s/dashlog/obd"
	"time"
)

// Reading is one value produced by a sensor source. The set of readings is
// closed: only types in this package implement it and the aggregator
// switches over all of them.
type Reading interface {
	CapturedAt() Stamp
	reading()
}

// Captured carries the capture timestamp common to every reading.
type Captured struct {
	At Stamp
}

func (c Captured) CapturedAt() Stamp {
	return c.At
}

func (Captured) reading() {}

func at(s Stamp) Captured {
	return Captured{At: s}
}

// Throttle position in percent.
type Throttle struct {
	Captured
	Value float64
}

type RPM struct {
	Captured
	Value int
}

// EngineLoad in percent.
type EngineLoad struct {
	Captured
	Value float64
}

// WheelSpeed in km/h as reported by the vehicle.
type WheelSpeed struct {
	Captured
	Value float64
}

// GPSSpeed in km/h. Track is the heading in degrees, negative when unknown.
type GPSSpeed struct {
	Captured
	Value float64
	Track float64
}

// FuelEconShort is the instantaneous consumption in l/100km.
type FuelEconShort struct {
	Captured
	Value float64
}

// FuelEconMedium is the consumption averaged over the last few km.
type FuelEconMedium struct {
	Captured
	Value float64
}

type FuelTrimShort struct {
	Captured
	Value float64
}

type FuelTrimLong struct {
	Captured
	Value float64
}

// AccelSample is a raw accelerometer sample, x y z.
type AccelSample struct {
	Captured
	Axes [3]int16
}

// GyroSample is a raw gyroscope sample, x y z.
type GyroSample struct {
	Captured
	Axes [3]int16
}

// MagSample is a raw magnetometer sample, x y z.
type MagSample struct {
	Captured
	Axes [3]int16
}

// GPSTimeSync records the GPS time observed at a local timestamp, so stored
// data can be re-aligned after the fact.
type GPSTimeSync struct {
	Captured
	GPSTime time.Time
}

type GPSPosition struct {
	Captured
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// OBDValue is any mode 01 parameter without a reading type of its own,
// such as catalyst temperatures or timing advance.
type OBDValue struct {
	Captured
	PID   uint8
	Value float64
}

// DiagnosticErrorCode is one stored trouble code found at startup.
type DiagnosticErrorCode struct {
	Captured
	Code  obd.Code
	Index int
}

// DiagnosticCodesDone ends the startup trouble code scan.
type DiagnosticCodesDone struct {
	Captured
	Count int
}

type CoolantTemp struct {
	Captured
	Value float64
}

type IntakeAirTemp struct {
	Captured
	Value float64
}

type OilTemp struct {
	Captured
	Value float64
}

type BatteryVoltage struct {
	Captured
	Value float64
}

// StorageStatus is raised by the persistence sink. It only affects the
// display and is never stored.
type StorageStatus struct {
	Captured
	Synced  bool
	Failing bool
	Pending int
	Evicted uint64
}
