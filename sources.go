package dashlog

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RunSources starts every enabled sensor source, or the simulators in test
// mode, and returns once all of them have stopped. Device errors are retried
// inside each source; only a bad parameter schedule is returned, as an
// InitError.
func RunSources(ctx context.Context, cfg *Config, tb *Timebase, clock *ClockSync, sendChan chan<- Reading) error {
	if cfg.TestMode {
		return runTestMode(ctx, cfg.IMU, tb, sendChan)
	}
	entries, err := cfg.Schedule()
	if err != nil {
		return NewInitError(err, "obd schedule")
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.OBD.Enabled {
		g.Go(func() error {
			return runECU(ctx, cfg.OBD, entries, tb, sendChan)
		})
	} else {
		log.Info("obd disabled, no trouble code scan")
		g.Go(func() error {
			_ = emit(ctx, sendChan, DiagnosticCodesDone{at(tb.Now()), 0})
			return nil
		})
	}
	if cfg.GPS.Enabled {
		g.Go(func() error {
			return runGPS(ctx, cfg.GPS, tb, clock, sendChan)
		})
	}
	if cfg.IMU.Enabled {
		g.Go(func() error {
			return runIMU(ctx, cfg.IMU, tb, sendChan)
		})
	}
	if cfg.CAN.Enabled {
		g.Go(func() error {
			return runCAN(ctx, cfg.CAN, tb, sendChan)
		})
	}
	return g.Wait()
}
