package dashlog

import (
	"context"
	"io"
	"sync"

	"github.com/jd3nn1s/dashlog/lemoncan"
	"github.com/jd3nn1s/dashlog/obd"
	"github.com/jd3nn1s/dashlog/record"
	"github.com/jd3nn1s/kw1281"
	"github.com/jd3nn1s/skytraq"
)

type sensorStub struct {
	startChan chan struct{}
	errChan   chan error
	fnChan    chan func()
}

type kw1281Stub struct {
	sensorStub
	callbacks kw1281.Callbacks
}

type skytraqStub struct {
	sensorStub
	callbacks skytraq.Callbacks
}

type canBusStub struct {
	sensorStub
	callbacks lemoncan.Callbacks
}

func createSensorStub() *sensorStub {
	ret := sensorStub{
		startChan: make(chan struct{}),
		errChan:   make(chan error),
		fnChan:    make(chan func()),
	}
	return &ret
}

func (s *sensorStub) Close() error {
	return nil
}

func (s *sensorStub) start(ctx context.Context) error {
	select {
	case s.startChan <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.errChan:
			return err
		case fn := <-s.fnChan:
			fn()
		}
	}
}

func createECUStub() *kw1281Stub {
	return &kw1281Stub{
		sensorStub: *createSensorStub(),
	}
}

func (k *kw1281Stub) Start(ctx context.Context, callbacks kw1281.Callbacks) error {
	k.callbacks = callbacks
	return k.sensorStub.start(ctx)
}

func createGPSStub() *skytraqStub {
	return &skytraqStub{
		sensorStub: *createSensorStub(),
	}
}

func (k *skytraqStub) Start(ctx context.Context, callbacks skytraq.Callbacks) error {
	k.callbacks = callbacks
	return k.sensorStub.start(ctx)
}

func createCANBusStub() *canBusStub {
	return &canBusStub{
		sensorStub: *createSensorStub(),
	}
}

func (c *canBusStub) Start(ctx context.Context, callbacks lemoncan.Callbacks) error {
	c.callbacks = callbacks
	return c.sensorStub.start(ctx)
}

// obdBusStub answers queries from a fixed table.
type obdBusStub struct {
	mu          sync.Mutex
	initErr     error
	unsupported map[string]bool
	codes       []obd.Code
	codesErr    error
	values      map[string]float64
	errs        map[string]error
	queried     []string
	closed      bool
}

func (b *obdBusStub) Init(obd.Protocol) error {
	return b.initErr
}

func (b *obdBusStub) ReadCapabilities() error {
	return nil
}

func (b *obdBusStub) Supported(p obd.Param) bool {
	return !b.unsupported[p.Name]
}

func (b *obdBusStub) TroubleCodes() ([]obd.Code, error) {
	return b.codes, b.codesErr
}

func (b *obdBusStub) Query(p obd.Param) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queried = append(b.queried, p.Name)
	if err := b.errs[p.Name]; err != nil {
		return 0, err
	}
	return b.values[p.Name], nil
}

func (b *obdBusStub) Queried() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.queried...)
}

func (b *obdBusStub) Close() error {
	b.closed = true
	return nil
}

// lineReaderStub hands out lines sent on lines until it is closed.
type lineReaderStub struct {
	lines chan string
	once  sync.Once
	done  chan struct{}
}

func createLineReaderStub() *lineReaderStub {
	return &lineReaderStub{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
}

func (l *lineReaderStub) ReadLine() (string, error) {
	select {
	case line := <-l.lines:
		return line, nil
	case <-l.done:
		return "", io.EOF
	}
}

func (l *lineReaderStub) Close() error {
	l.once.Do(func() {
		close(l.done)
	})
	return nil
}

type motionStub struct {
	motion Motion
	err    error
	reads  int
}

func (m *motionStub) ReadMotion() (Motion, error) {
	m.reads++
	return m.motion, m.err
}

func (m *motionStub) Close() error {
	return nil
}

type forwarderStub struct {
	mu      sync.Mutex
	records []record.Record
}

func (fwd *forwarderStub) Forward(rec record.Record) error {
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	fwd.records = append(fwd.records, rec)
	return nil
}

func (fwd *forwarderStub) Len() int {
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	return len(fwd.records)
}

// nextReading waits for the next reading of type T, skipping others.
func nextReading[T Reading](ch <-chan Reading) T {
	for r := range ch {
		if v, ok := r.(T); ok {
			return v
		}
	}
	var zero T
	return zero
}
