package dashlog

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	retrySleep    = time.Second
	maxRetrySleep = 30 * time.Second
)

// Retryable is a device session: Open acquires the device, Start runs until
// the device fails or ctx is done, Close releases it.
type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// retry keeps r running until ctx is done, reopening it after every error
// with an exponentially growing pause.
func retry(ctx context.Context, r Retryable) error {
	errStarting := errors.New("starting")
	err := errStarting
	sleep := retrySleep
	for {
		select {
		case <-ctx.Done():
			closeQuietly(r)
			return ctx.Err()
		default:
		}
		if err != nil {
			if err != errStarting {
				log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
				closeQuietly(r)
				if !sleepCtx(ctx, sleep) {
					continue
				}
				sleep *= 2
				if sleep > maxRetrySleep {
					sleep = maxRetrySleep
				}
			}
			err = r.Open()
			if err != nil {
				continue
			}
			log.Infof("%s: opened", r.Name())
		}
		err = r.Start(ctx)
		if err == nil {
			sleep = retrySleep
		}
	}
}

func closeQuietly(r Retryable) {
	if err := r.Close(); err != nil {
		log.WithField("err", err).Warnf("%s: unable to close", r.Name())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emit hands r to the aggregator, blocking while the channel is full.
func emit(ctx context.Context, ch chan<- Reading, r Reading) error {
	select {
	case ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
