package dashlog

import (
	"context"
	"time"

	"github.com/jd3nn1s/dashlog/queue"
	"github.com/jd3nn1s/dashlog/record"
	log "github.com/sirupsen/logrus"
)

type phase int

const (
	phaseCodes phase = iota // waiting for the startup trouble code scan
	phaseHold               // showing the codes that were found
	phaseSteady
)

// Aggregator is the single consumer of every source's readings. It keeps
// current-value state, turns each reading into a record for persistence and
// forwarders, and triggers the renderer at a fixed interval.
type Aggregator struct {
	cfg   AggregatorConfig
	codec *record.Codec
	tb    *Timebase

	readings   chan Reading
	frames     *queue.Queue[Snapshot]
	records    *queue.Queue[record.Record]
	forwarders []Forwarder

	st      *state
	phase   phase
	started time.Time
	doneAt  time.Time

	// to allow testing
	now func() time.Time
}

func NewAggregator(cfg AggregatorConfig, codec *record.Codec, tb *Timebase) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		codec:    codec,
		tb:       tb,
		readings: make(chan Reading, cfg.Readings),
		frames:   queue.New[Snapshot](cfg.FrameQueue),
		records:  queue.New[record.Record](cfg.RecordQueue),
		st:       newState(cfg.Smoothing),
		now:      time.Now,
	}
}

// Readings is the shared channel every source sends to. A full channel
// blocks the sender.
func (a *Aggregator) Readings() chan<- Reading {
	return a.readings
}

// Frames feeds the renderer; a slow renderer loses the oldest frames.
func (a *Aggregator) Frames() *queue.Queue[Snapshot] {
	return a.frames
}

// Records feeds the persistence sink.
func (a *Aggregator) Records() *queue.Queue[record.Record] {
	return a.records
}

// AddForwarder must be called before Run.
func (a *Aggregator) AddForwarder(fwd Forwarder) {
	a.forwarders = append(a.forwarders, fwd)
}

// Run consumes readings until ctx is done. Readings already queued at that
// point are still recorded, then the sink queues are closed so the sinks
// can finish.
func (a *Aggregator) Run(ctx context.Context) error {
	defer a.records.Close()
	defer a.frames.Close()

	a.started = a.now()
	a.phase = phaseCodes
	a.pushFrame()

	ticker := time.NewTicker(a.cfg.RenderInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n := a.drain()
			log.WithField("drained", n).
				WithField("droppedRecords", a.records.Dropped()).
				WithField("droppedFrames", a.frames.Dropped()).
				Info("aggregator stopped")
			return nil
		case r := <-a.readings:
			a.handle(r)
		case <-ticker.C:
			a.advance()
			a.pushFrame()
		}
	}
}

func (a *Aggregator) drain() int {
	n := 0
	for {
		select {
		case r := <-a.readings:
			a.handle(r)
			n++
		default:
			return n
		}
	}
}

func (a *Aggregator) handle(r Reading) {
	rec, persist, err := a.st.recordFor(a.codec, r)
	if err != nil {
		log.WithField("err", err).Warnf("unable to encode %T", r)
		return
	}

	switch r.(type) {
	case DiagnosticErrorCode:
		// each code shows up on screen as soon as it is known
		a.pushFrame()
	case DiagnosticCodesDone:
		a.advance()
	}

	if !persist {
		return
	}
	if a.records.PushWithin(rec, a.cfg.PersistWait.Duration) {
		log.Debug("persistence queue full, dropped oldest record")
	}
	for _, fwd := range a.forwarders {
		if err := fwd.Forward(rec); err != nil {
			log.WithField("err", err).Debug("unable to forward record")
		}
	}
}

// advance moves through the startup phases.
func (a *Aggregator) advance() {
	now := a.now()
	switch a.phase {
	case phaseCodes:
		if !a.st.codesDone {
			if now.Sub(a.started) < a.cfg.CodesTimeout.Duration {
				return
			}
			log.Warn("no trouble code scan result, continuing without")
			a.st.codesDone = true
		}
		a.doneAt = now
		if len(a.st.codes) == 0 {
			a.enterSteady()
			return
		}
		log.WithField("codes", len(a.st.codes)).Info("showing trouble codes")
		a.phase = phaseHold
		fallthrough
	case phaseHold:
		if now.Sub(a.doneAt) >= a.cfg.CodesDisplay.Duration {
			a.enterSteady()
		}
	}
}

func (a *Aggregator) enterSteady() {
	a.phase = phaseSteady
	log.WithField("after", a.now().Sub(a.started)).Info("dashboard running")
}

func (a *Aggregator) pushFrame() {
	screen := ScreenGauges
	if a.phase != phaseSteady {
		screen = ScreenCodes
	}
	snap := a.st.snapshot(screen, a.tb.Now())
	snap.DroppedFrames = a.frames.Dropped()
	snap.DroppedRecords = a.records.Dropped()
	a.frames.PushDropOldest(snap)
}
