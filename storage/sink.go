package storage

import (
	"context"
	"time"

	"github.com/jd3nn1s/dashlog/record"
	log "github.com/sirupsen/logrus"
)

// time the "synced" indicator stays on after a flush
const syncedFor = 2377 * time.Millisecond

// to allow testing
var shutdownGrace = 2 * time.Second

// Store is where flushed records go.
type Store interface {
	Write(recs []record.Record) error
	Close() error
}

type Config struct {
	// Capacity of the in-memory buffer in records.
	Capacity       int
	FlushInterval  time.Duration
	FlushThreshold int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
}

type Status struct {
	Synced  bool
	Failing bool
	Pending int
	Evicted uint64
}

// Sink buffers records from the aggregator and flushes them to a Store on
// an interval or once enough are pending. A failed flush keeps the records
// and is retried with exponential backoff; records are only lost by ring
// eviction.
type Sink struct {
	cfg      Config
	store    Store
	buf      *PacketBuffer
	onStatus func(Status)

	failures    int
	nextAttempt time.Time
	status      Status
}

// NewSink creates a sink. onStatus may be nil; it must not block.
func NewSink(cfg Config, store Store, onStatus func(Status)) *Sink {
	if onStatus == nil {
		onStatus = func(Status) {}
	}
	return &Sink{
		cfg:      cfg,
		store:    store,
		buf:      NewPacketBuffer(cfg.Capacity),
		onStatus: onStatus,
	}
}

func (s *Sink) Pending() int {
	return s.buf.Pending()
}

func (s *Sink) Evicted() uint64 {
	return s.buf.Evicted()
}

// Run consumes in until it is closed, or until ctx is done and in has been
// drained, then makes a last attempt to flush and closes the store.
func (s *Sink) Run(ctx context.Context, in <-chan record.Record) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			log.WithField("err", err).Warn("unable to close store")
		}
	}()

	flushTimer := time.NewTimer(s.cfg.FlushInterval)
	defer flushTimer.Stop()
	syncedTimer := time.NewTimer(time.Hour)
	syncedTimer.Stop()
	defer syncedTimer.Stop()

	attempt := func() {
		if time.Now().Before(s.nextAttempt) {
			return
		}
		s.flush()
		resetTimer(flushTimer, s.untilNext())
		if s.status.Synced {
			resetTimer(syncedTimer, syncedFor)
		}
	}

	for {
		select {
		case r, ok := <-in:
			if !ok {
				s.finish()
				return nil
			}
			s.add(r)
			if s.buf.Pending() >= s.cfg.FlushThreshold {
				attempt()
			}
		case <-flushTimer.C:
			if s.buf.Pending() == 0 {
				flushTimer.Reset(s.cfg.FlushInterval)
				continue
			}
			attempt()
		case <-syncedTimer.C:
			s.status.Synced = false
			s.report()
		case <-ctx.Done():
			s.drain(in)
			s.finish()
			return nil
		}
	}
}

func (s *Sink) add(r record.Record) {
	if s.buf.Append(r) && s.buf.Evicted()%1000 == 1 {
		log.WithField("evicted", s.buf.Evicted()).Warn("storage buffer full, evicting oldest records")
	}
}

// drain takes what the aggregator still hands over during shutdown.
func (s *Sink) drain(in <-chan record.Record) {
	grace := time.NewTimer(shutdownGrace)
	defer grace.Stop()
	for {
		select {
		case r, ok := <-in:
			if !ok {
				return
			}
			s.add(r)
		case <-grace.C:
			return
		}
	}
}

func (s *Sink) finish() {
	if s.buf.Pending() == 0 {
		return
	}
	s.flush()
	if n := s.buf.Pending(); n > 0 {
		log.WithField("lost", n).Error("final flush failed")
	}
}

func (s *Sink) flush() {
	recs := s.buf.Peek(0)
	err := s.store.Write(recs)
	if err != nil {
		s.failures++
		backoff := s.cfg.RetryBackoff << (s.failures - 1)
		if backoff > s.cfg.MaxBackoff || backoff <= 0 {
			backoff = s.cfg.MaxBackoff
		}
		s.nextAttempt = time.Now().Add(backoff)
		log.WithField("err", err).
			WithField("pending", len(recs)).
			WithField("retryIn", backoff).
			Error("flush failed")
		s.status.Failing = true
		s.status.Synced = false
		s.report()
		return
	}
	s.buf.Consume(len(recs))
	if s.failures > 0 {
		log.WithField("failures", s.failures).Info("flush recovered")
	}
	s.failures = 0
	s.nextAttempt = time.Time{}
	log.WithField("records", len(recs)).Debug("flushed")
	s.status.Failing = false
	s.status.Synced = true
	s.report()
}

func (s *Sink) untilNext() time.Duration {
	if d := time.Until(s.nextAttempt); d > 0 {
		return d
	}
	return s.cfg.FlushInterval
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (s *Sink) report() {
	s.status.Pending = s.buf.Pending()
	s.status.Evicted = s.buf.Evicted()
	s.onStatus(s.status)
}
