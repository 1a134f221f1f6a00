// Package obd talks to the on-board diagnostics bus through an ELM327
// compatible dongle and decides which parameter to ask for next.
//
// The legacy buses supported here (ISO 9141-2, ISO 14230 KWP2000) answer one
// query every 200-250 ms, so the order of queries matters more than anything
// else for how responsive the dashboard feels.
package obd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Param is one pollable value. Mode 01 parameters are addressed by PID, the
// rest by a raw AT command.
type Param struct {
	Name string
	PID  uint8
	// AT is set for dongle commands such as ATRV.
	AT    string
	Bytes int
	// RequiresEngine parameters are only polled while RPM is non zero.
	RequiresEngine bool
	Decode         func(b []byte) float64
}

func (p Param) Command() string {
	if p.AT != "" {
		return p.AT
	}
	return fmt.Sprintf("01%02X", p.PID)
}

func (p Param) String() string {
	return p.Name
}

func percent(b []byte) float64 {
	return float64(b[0]) * 100 / 255
}

func temperature(b []byte) float64 {
	return float64(b[0]) - 40
}

func trim(b []byte) float64 {
	return float64(b[0])*100/128 - 100
}

func word(b []byte) float64 {
	return float64(uint16(b[0])<<8 | uint16(b[1]))
}

func count(b []byte) float64 {
	return float64(b[0])
}

func catalyst(b []byte) float64 {
	return word(b)/10 - 40
}

var (
	ParamRPM = Param{Name: "rpm", PID: 0x0c, Bytes: 2, Decode: func(b []byte) float64 {
		return word(b) / 4
	}}
	ParamThrottle   = Param{Name: "throttle", PID: 0x11, Bytes: 1, Decode: percent}
	ParamEngineLoad = Param{Name: "engine_load", PID: 0x04, Bytes: 1, Decode: percent}
	ParamSpeed      = Param{Name: "speed", PID: 0x0d, Bytes: 1, Decode: func(b []byte) float64 {
		return float64(b[0])
	}}
	ParamCoolant   = Param{Name: "coolant", PID: 0x05, Bytes: 1, Decode: temperature}
	ParamIntakeAir = Param{Name: "intake_air", PID: 0x0f, Bytes: 1, Decode: temperature}
	ParamMAF       = Param{Name: "maf", PID: 0x10, Bytes: 2, RequiresEngine: true, Decode: func(b []byte) float64 {
		return word(b) / 100
	}}
	ParamFuelTrimShort = Param{Name: "fuel_trim_short", PID: 0x06, Bytes: 1, RequiresEngine: true, Decode: trim}
	ParamFuelTrimLong  = Param{Name: "fuel_trim_long", PID: 0x07, Bytes: 1, RequiresEngine: true, Decode: trim}
	// ParamBattery is read from the dongle's own voltage sense, not the ECU.
	ParamBattery = Param{Name: "battery", AT: "ATRV"}

	// ParamMILStatus is byte A of PID 01: bit 7 is the check engine lamp,
	// the low bits the number of stored codes.
	ParamMILStatus = Param{Name: "mil_status", PID: 0x01, Bytes: 4, Decode: func(b []byte) float64 {
		return float64(b[0])
	}}
	// ParamFuelStatus packs both banks' fuel system status as bank1<<8 | bank2.
	ParamFuelStatus     = Param{Name: "fuel_status", PID: 0x03, Bytes: 2, Decode: word}
	ParamFuelTrimShort2 = Param{Name: "fuel_trim_short_2", PID: 0x08, Bytes: 1, RequiresEngine: true, Decode: trim}
	ParamFuelTrimLong2  = Param{Name: "fuel_trim_long_2", PID: 0x09, Bytes: 1, RequiresEngine: true, Decode: trim}
	// ParamTiming is the ignition advance in degrees before TDC.
	ParamTiming = Param{Name: "timing", PID: 0x0e, Bytes: 1, RequiresEngine: true, Decode: func(b []byte) float64 {
		return float64(b[0])/2 - 64
	}}
	// ParamRuntime is seconds since engine start.
	ParamRuntime = Param{Name: "runtime", PID: 0x1f, Bytes: 2, RequiresEngine: true, Decode: word}
	// ParamMILDistance is km driven with the check engine lamp on.
	ParamMILDistance = Param{Name: "mil_distance", PID: 0x21, Bytes: 2, RequiresEngine: true, Decode: word}
	// ParamFuelRailRelative is kPa above manifold vacuum.
	ParamFuelRailRelative = Param{Name: "fuel_rail_relative", PID: 0x22, Bytes: 2, RequiresEngine: true, Decode: func(b []byte) float64 {
		return word(b) * 0.079
	}}
	// ParamFuelRail is the diesel or direct injection rail gauge pressure in kPa.
	ParamFuelRail = Param{Name: "fuel_rail", PID: 0x23, Bytes: 2, RequiresEngine: true, Decode: func(b []byte) float64 {
		return word(b) * 10
	}}
	ParamEGR        = Param{Name: "egr", PID: 0x2c, Bytes: 1, Decode: percent}
	ParamEGRError   = Param{Name: "egr_error", PID: 0x2d, Bytes: 1, Decode: trim}
	ParamEvapPurge  = Param{Name: "evap_purge", PID: 0x2e, Bytes: 1, RequiresEngine: true, Decode: percent}
	ParamFuelLevel  = Param{Name: "fuel_level", PID: 0x2f, Bytes: 1, Decode: percent}
	ParamWarmups    = Param{Name: "warmups", PID: 0x30, Bytes: 1, RequiresEngine: true, Decode: count}
	ParamBarometric = Param{Name: "barometric", PID: 0x33, Bytes: 1, Decode: count}
	// Catalyst temperatures in degrees C, by bank and sensor.
	ParamCatalystB1S1 = Param{Name: "catalyst_b1s1", PID: 0x3c, Bytes: 2, RequiresEngine: true, Decode: catalyst}
	ParamCatalystB2S1 = Param{Name: "catalyst_b2s1", PID: 0x3d, Bytes: 2, RequiresEngine: true, Decode: catalyst}
	ParamCatalystB1S2 = Param{Name: "catalyst_b1s2", PID: 0x3e, Bytes: 2, RequiresEngine: true, Decode: catalyst}
	ParamCatalystB2S2 = Param{Name: "catalyst_b2s2", PID: 0x3f, Bytes: 2, RequiresEngine: true, Decode: catalyst}
)

var catalog = []Param{
	ParamRPM,
	ParamThrottle,
	ParamEngineLoad,
	ParamSpeed,
	ParamCoolant,
	ParamIntakeAir,
	ParamMAF,
	ParamFuelTrimShort,
	ParamFuelTrimLong,
	ParamBattery,
	ParamMILStatus,
	ParamFuelStatus,
	ParamFuelTrimShort2,
	ParamFuelTrimLong2,
	ParamTiming,
	ParamRuntime,
	ParamMILDistance,
	ParamFuelRailRelative,
	ParamFuelRail,
	ParamEGR,
	ParamEGRError,
	ParamEvapPurge,
	ParamFuelLevel,
	ParamWarmups,
	ParamBarometric,
	ParamCatalystB1S1,
	ParamCatalystB2S1,
	ParamCatalystB1S2,
	ParamCatalystB2S2,
}

// Lookup finds a parameter by name.
func Lookup(name string) (Param, error) {
	for _, p := range catalog {
		if p.Name == strings.ToLower(name) {
			return p, nil
		}
	}
	return Param{}, errors.Errorf("unknown obd parameter %q", name)
}

// Entry is a parameter with its share of the bus.
type Entry struct {
	Param  Param
	Weight int
}

// DefaultEntries mirrors the classic polling loop: the four basic values go
// out five times for every slower one.
func DefaultEntries() []Entry {
	return []Entry{
		{ParamRPM, 5},
		{ParamThrottle, 5},
		{ParamEngineLoad, 5},
		{ParamSpeed, 5},
		{ParamMAF, 2},
		{ParamCoolant, 1},
		{ParamIntakeAir, 1},
		{ParamFuelTrimShort, 1},
		{ParamFuelTrimLong, 1},
		{ParamBattery, 1},
	}
}
