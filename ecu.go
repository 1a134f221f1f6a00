package dashlog

import (
	"context"
	"math"

	"github.com/jd3nn1s/dashlog/obd"
	"github.com/jd3nn1s/kw1281"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// to allow testing
var ecuConnect = func(p string) (KW1281, error) {
	return kw1281.Connect(p)
}

var obdConnect = func(cfg OBDConfig) (OBDBus, error) {
	return obd.Open(cfg.Port, cfg.Baud, cfg.Timeout.Duration)
}

// kw1281Source reads VAG measurement groups. The library picks the groups,
// so there is no scheduling on this side.
type kw1281Source struct {
	port     string
	c        KW1281
	tb       *Timebase
	sendChan chan<- Reading
	// stored codes are not read over KW1281
	announced bool
}

func (e *kw1281Source) Name() string {
	return "ecu"
}

func (e *kw1281Source) Open() error {
	c, err := ecuConnect(e.port)
	if err != nil {
		return err
	}
	e.c = c
	return nil
}

func (e *kw1281Source) Close() error {
	if e.c == nil {
		return nil
	}
	err := e.c.Close()
	e.c = nil
	return err
}

func (e *kw1281Source) Start(ctx context.Context) error {
	if !e.announced {
		if err := emit(ctx, e.sendChan, DiagnosticCodesDone{Captured: at(e.tb.Now())}); err != nil {
			return err
		}
		e.announced = true
	}
	return e.c.Start(ctx, kw1281.Callbacks{
		ECUDetails: func(details *kw1281.ECUDetails) {
			log.WithField("partNumber", details.PartNumber).Info("ecu connected")
			for _, line := range details.Details {
				log.Infof("ECU: %s", line)
			}
		},
		Measurement: func(group kw1281.MeasurementGroup, measurements []*kw1281.Measurement) {
			now := at(e.tb.Now())
			for _, m := range measurements {
				if m == nil || m.MeasurementValue == nil {
					continue
				}
				var r Reading
				switch m.Metric {
				case kw1281.MetricRPM:
					r = RPM{now, int(castToFloat64(m.Value))}
				case kw1281.MetricBatteryVoltage:
					r = BatteryVoltage{now, castToFloat64(m.Value)}
				case kw1281.MetricThrottleAngle:
					r = Throttle{now, castToFloat64(m.Value)}
				case kw1281.MetricAirIntakeTemp:
					r = IntakeAirTemp{now, castToFloat64(m.Value)}
				case kw1281.MetricCoolantTemp:
					r = CoolantTemp{now, castToFloat64(m.Value)}
				case kw1281.MetricSpeed:
					r = WheelSpeed{now, castToFloat64(m.Value)}
				default:
					continue
				}
				if err := emit(ctx, e.sendChan, r); err != nil {
					return
				}
			}
		},
	})
}

func castToFloat64(val interface{}) float64 {
	switch v := val.(type) {
	case int:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

// elm327Source polls mode 01 parameters through an ELM327 dongle. The bus
// answers roughly four queries a second, so which parameter goes next is
// left to a weighted scheduler.
type elm327Source struct {
	cfg      OBDConfig
	entries  []obd.Entry
	tb       *Timebase
	sendChan chan<- Reading

	bus   OBDBus
	sched *obd.Scheduler
	fuel  *obd.FuelEstimator

	codesScanned bool
	rpm          float64
	speed        float64
}

func newELM327Source(cfg OBDConfig, entries []obd.Entry, tb *Timebase, sendChan chan<- Reading) *elm327Source {
	return &elm327Source{
		cfg:      cfg,
		entries:  entries,
		tb:       tb,
		sendChan: sendChan,
		fuel:     obd.NewFuelEstimator(cfg.FuelWindow),
	}
}

func (e *elm327Source) Name() string {
	return "obd"
}

func (e *elm327Source) Open() error {
	bus, err := obdConnect(e.cfg)
	if err != nil {
		return err
	}
	e.bus = bus
	if err := bus.Init(obd.Protocol(e.cfg.Protocol)); err != nil {
		return errors.Wrap(err, "dongle init")
	}
	if err := bus.ReadCapabilities(); err != nil {
		return errors.Wrap(err, "capabilities")
	}

	var entries []obd.Entry
	for _, entry := range e.entries {
		if !bus.Supported(entry.Param) {
			log.WithField("pid", entry.Param.Name).Info("not supported by vehicle, skipping")
			continue
		}
		entries = append(entries, entry)
	}
	sched, err := obd.NewScheduler(entries)
	if err != nil {
		return err
	}
	e.sched = sched
	e.rpm = 0
	return nil
}

func (e *elm327Source) Close() error {
	if e.bus == nil {
		return nil
	}
	err := e.bus.Close()
	e.bus = nil
	return err
}

func (e *elm327Source) Start(ctx context.Context) error {
	if !e.codesScanned {
		if err := e.scanCodes(ctx); err != nil {
			return err
		}
		e.codesScanned = true
	}

	eligible := func(p obd.Param) bool {
		return !p.RequiresEngine || e.rpm > 0
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, ok := e.sched.Next(eligible)
		if !ok {
			return errors.New("nothing to poll")
		}
		v, err := e.bus.Query(p)
		if err != nil {
			switch errors.Cause(err) {
			case obd.ErrNoData, obd.ErrMalformed:
				log.WithField("pid", p.Name).WithField("err", err).Debug("skipping parameter")
				if p.Name == obd.ParamRPM.Name {
					// an ECU that stops answering RPM has the engine off
					e.rpm = 0
				}
				continue
			}
			return errors.Wrapf(err, "query %s", p.Name)
		}
		for _, r := range e.readingsFor(p, v, e.tb.Now()) {
			if err := emit(ctx, e.sendChan, r); err != nil {
				return err
			}
		}
	}
}

func (e *elm327Source) scanCodes(ctx context.Context) error {
	codes, err := e.bus.TroubleCodes()
	if err != nil {
		if errors.Cause(err) != obd.ErrMalformed {
			return errors.Wrap(err, "trouble codes")
		}
		log.WithField("err", err).Warn("unreadable trouble codes, ignoring")
		codes = nil
	}
	for i, code := range codes {
		log.WithField("code", code.String()).Warn("stored trouble code")
		r := DiagnosticErrorCode{Captured: at(e.tb.Now()), Code: code, Index: i}
		if err := emit(ctx, e.sendChan, r); err != nil {
			return err
		}
	}
	if err := emit(ctx, e.sendChan, DiagnosticCodesDone{Captured: at(e.tb.Now()), Count: len(codes)}); err != nil {
		return err
	}

	// the lamp state is read once, next to the codes it belongs to
	if !e.bus.Supported(obd.ParamMILStatus) {
		return nil
	}
	v, err := e.bus.Query(obd.ParamMILStatus)
	if err != nil {
		log.WithField("err", err).Debug("unable to read mil status")
		return nil
	}
	return emit(ctx, e.sendChan, OBDValue{at(e.tb.Now()), obd.ParamMILStatus.PID, v})
}

func (e *elm327Source) readingsFor(p obd.Param, v float64, now Stamp) []Reading {
	c := at(now)
	switch p.Name {
	case obd.ParamRPM.Name:
		e.rpm = v
		return []Reading{RPM{c, int(math.Round(v))}}
	case obd.ParamThrottle.Name:
		return []Reading{Throttle{c, v}}
	case obd.ParamEngineLoad.Name:
		return []Reading{EngineLoad{c, v}}
	case obd.ParamSpeed.Name:
		e.speed = v
		return []Reading{WheelSpeed{c, v}}
	case obd.ParamCoolant.Name:
		return []Reading{CoolantTemp{c, v}}
	case obd.ParamIntakeAir.Name:
		return []Reading{IntakeAirTemp{c, v}}
	case obd.ParamFuelTrimShort.Name:
		return []Reading{FuelTrimShort{c, v}}
	case obd.ParamFuelTrimLong.Name:
		return []Reading{FuelTrimLong{c, v}}
	case obd.ParamBattery.Name:
		return []Reading{BatteryVoltage{c, v}}
	case obd.ParamMAF.Name:
		var out []Reading
		short, shortOK, medium, mediumOK := e.fuel.Update(v, e.speed, now.Time())
		if shortOK {
			out = append(out, FuelEconShort{c, short})
		}
		if mediumOK {
			out = append(out, FuelEconMedium{c, medium})
		}
		return out
	}
	if p.AT != "" {
		return nil
	}
	return []Reading{OBDValue{c, p.PID, v}}
}

// runECU runs the configured diagnostic bus backend until ctx is done.
func runECU(ctx context.Context, cfg OBDConfig, entries []obd.Entry, tb *Timebase, sendChan chan<- Reading) error {
	var r Retryable
	switch cfg.Backend {
	case "kw1281":
		r = &kw1281Source{port: cfg.Port, tb: tb, sendChan: sendChan}
	default:
		r = newELM327Source(cfg, entries, tb, sendChan)
	}
	err := retry(ctx, r)
	log.Infof("ecu done: %v", err)
	return nil
}
