package dashlog

import (
	"github.com/jd3nn1s/dashlog/record"
)

// recordFor folds r into the aggregator state and builds the record that
// describes it. Group kinds carry the group's current values and a bitmask
// of which field this reading changed. persist is false for readings that
// only concern the display.
func (st *state) recordFor(codec *record.Codec, r Reading) (rec record.Record, persist bool, err error) {
	at := r.CapturedAt()
	stamp := int64(at)

	engine := func(changed uint8) (record.Record, bool, error) {
		rec, err := codec.Encode(record.KindEngine, stamp,
			st.value(ChannelRPM),
			st.value(ChannelThrottle),
			st.value(ChannelEngineLoad),
			st.value(ChannelWheelSpeed),
			float64(changed))
		return rec, true, err
	}
	fuel := func(changed uint8) (record.Record, bool, error) {
		rec, err := codec.Encode(record.KindFuel, stamp,
			st.value(ChannelFuelEconShort),
			st.value(ChannelFuelEconMedium),
			st.value(ChannelFuelTrimShort),
			st.value(ChannelFuelTrimLong),
			float64(changed))
		return rec, true, err
	}
	temps := func(changed uint8) (record.Record, bool, error) {
		rec, err := codec.Encode(record.KindTemps, stamp,
			st.value(ChannelCoolantTemp),
			st.value(ChannelIntakeAirTemp),
			st.value(ChannelOilTemp),
			st.value(ChannelBattery),
			float64(changed))
		return rec, true, err
	}
	inertial := func(changed uint8) (record.Record, bool, error) {
		a := st.slots[ChannelAccel].Vec
		g := st.slots[ChannelGyro].Vec
		rec, err := codec.Encode(record.KindInertial, stamp,
			a[0], a[1], a[2], g[0], g[1], g[2], float64(changed))
		return rec, true, err
	}

	switch v := r.(type) {
	case RPM:
		st.set(ChannelRPM, at, float64(v.Value))
		return engine(record.ChangedFirst)
	case Throttle:
		st.set(ChannelThrottle, at, v.Value)
		return engine(record.ChangedSecond)
	case EngineLoad:
		st.set(ChannelEngineLoad, at, v.Value)
		return engine(record.ChangedThird)
	case WheelSpeed:
		st.set(ChannelWheelSpeed, at, v.Value)
		return engine(record.ChangedFourth)

	case FuelEconShort:
		st.set(ChannelFuelEconShort, at, v.Value)
		return fuel(record.ChangedFirst)
	case FuelEconMedium:
		st.set(ChannelFuelEconMedium, at, v.Value)
		return fuel(record.ChangedSecond)
	case FuelTrimShort:
		st.set(ChannelFuelTrimShort, at, v.Value)
		return fuel(record.ChangedThird)
	case FuelTrimLong:
		st.set(ChannelFuelTrimLong, at, v.Value)
		return fuel(record.ChangedFourth)

	case CoolantTemp:
		st.set(ChannelCoolantTemp, at, v.Value)
		return temps(record.ChangedFirst)
	case IntakeAirTemp:
		st.set(ChannelIntakeAirTemp, at, v.Value)
		return temps(record.ChangedSecond)
	case OilTemp:
		st.set(ChannelOilTemp, at, v.Value)
		return temps(record.ChangedThird)
	case BatteryVoltage:
		st.set(ChannelBattery, at, v.Value)
		return temps(record.ChangedFourth)

	case AccelSample:
		st.setVec(ChannelAccel, at, v.Axes)
		return inertial(record.ChangedFirst)
	case GyroSample:
		st.setVec(ChannelGyro, at, v.Axes)
		return inertial(record.ChangedSecond)

	case MagSample:
		m := st.setVec(ChannelMag, at, v.Axes)
		rec, err = codec.Encode(record.KindMagnetic, stamp, m[0], m[1], m[2])
		return rec, true, err

	case GPSSpeed:
		speed := st.set(ChannelGPSSpeed, at, v.Value)
		st.slots[ChannelTrack] = Slot{Value: v.Track, At: at, Valid: v.Track >= 0}
		rec, err = codec.Encode(record.KindGPS, stamp, speed, v.Track)
		return rec, true, err
	case GPSPosition:
		lat := st.set(ChannelLatitude, at, v.Latitude)
		lon := st.set(ChannelLongitude, at, v.Longitude)
		alt := st.set(ChannelAltitude, at, v.Altitude)
		rec, err = codec.Encode(record.KindPosition, stamp, lat, lon, alt)
		return rec, true, err
	case GPSTimeSync:
		st.gpsSynced = true
		rec, err = codec.Encode(record.KindTimeSync, stamp, float64(v.GPSTime.UnixMicro()))
		return rec, true, err

	case OBDValue:
		rec, err = codec.Encode(record.KindOBD, stamp, float64(v.PID), v.Value)
		return rec, true, err

	case DiagnosticErrorCode:
		st.codes = append(st.codes, v.Code)
		rec, err = codec.Encode(record.KindDTC, stamp, float64(v.Code), float64(v.Index), 0)
		return rec, true, err
	case DiagnosticCodesDone:
		st.codesDone = true
		// code 0 marks the end of the scan
		rec, err = codec.Encode(record.KindDTC, stamp, 0, 0, float64(v.Count))
		return rec, true, err

	case StorageStatus:
		st.storage = v
		return rec, false, nil
	}
	return rec, false, nil
}
