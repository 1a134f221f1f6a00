package dashlog

import (
	"context"

	"github.com/jd3nn1s/dashlog/lemoncan"
	"github.com/jd3nn1s/dashlog/obd"
	"github.com/jd3nn1s/dashlog/record"
	"github.com/jd3nn1s/kw1281"
	"github.com/jd3nn1s/skytraq"
)

type KW1281 interface {
	Close() error
	Start(context.Context, kw1281.Callbacks) error
}

// OBDBus is an ELM327 session.
type OBDBus interface {
	Init(obd.Protocol) error
	ReadCapabilities() error
	Supported(obd.Param) bool
	TroubleCodes() ([]obd.Code, error)
	Query(obd.Param) (float64, error)
	Close() error
}

type SkyTraq interface {
	Close() error
	Start(context.Context, skytraq.Callbacks) error
}

// LineReader yields NMEA sentences one line at a time.
type LineReader interface {
	ReadLine() (string, error)
	Close() error
}

type CANBus interface {
	Close() error
	Start(context.Context, lemoncan.Callbacks) error
}

// Motion is one raw inertial sample. Mag is only filled in when HasMag is
// set; not every sensor carries a magnetometer.
type Motion struct {
	Accel  [3]int16
	Gyro   [3]int16
	Mag    [3]int16
	HasMag bool
}

// MotionSensor returns one raw sample per call. Close may be called from
// another goroutine to unblock a pending read, and more than once.
type MotionSensor interface {
	ReadMotion() (Motion, error)
	Close() error
}

// Forwarder receives every persisted record. Forward must not block.
type Forwarder interface {
	Forward(record.Record) error
}
