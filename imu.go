package dashlog

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// to allow testing
var imuConnect = func(cfg IMUConfig) (MotionSensor, error) {
	switch cfg.Backend {
	case "mpu9250":
		return openMPU9250(cfg.SPI, cfg.CSPin, cfg.Calibrate)
	case "sim":
		return newSimMotion(), nil
	default:
		lines, err := openSerialLines(cfg.Port, cfg.Baud)
		if err != nil {
			return nil, err
		}
		return &serialMotion{lines: lines}, nil
	}
}

type mpuMotion struct {
	imu *mpu9250.MPU9250
}

// to allow testing
var newSpiTransport = mpu9250.NewSpiTransport

// The mpu9250 SPI transport has no Close and holds its port for good, so
// one transport per bus and chip select is opened and reused by every
// reconnect.
var (
	spiMu         sync.Mutex
	spiTransports = map[string]*mpu9250.SpiTransport{}
)

func spiTransport(spi, csPin string, cs gpio.PinOut) (*mpu9250.SpiTransport, error) {
	spiMu.Lock()
	defer spiMu.Unlock()
	key := spi + "/" + csPin
	if tr, ok := spiTransports[key]; ok {
		return tr, nil
	}
	tr, err := newSpiTransport(spi, cs)
	if err != nil {
		return nil, err
	}
	spiTransports[key] = tr
	return tr, nil
}

func openMPU9250(spi, csPin string, calibrate bool) (*mpuMotion, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, errors.Errorf("imu chip select pin %q not found", csPin)
	}
	tr, err := spiTransport(spi, csPin, cs)
	if err != nil {
		return nil, errors.Wrap(err, "imu spi transport")
	}
	imu, err := mpu9250.New(tr)
	if err != nil {
		return nil, errors.Wrap(err, "imu device")
	}
	if err := imu.Init(); err != nil {
		return nil, errors.Wrap(err, "imu init")
	}
	if calibrate {
		if err := imu.Calibrate(); err != nil {
			return nil, errors.Wrap(err, "imu calibrate")
		}
	}
	return &mpuMotion{imu: imu}, nil
}

func (m *mpuMotion) ReadMotion() (Motion, error) {
	reads := []func() (int16, error){
		m.imu.GetAccelerationX, m.imu.GetAccelerationY, m.imu.GetAccelerationZ,
		m.imu.GetRotationX, m.imu.GetRotationY, m.imu.GetRotationZ,
	}
	var v [6]int16
	for i, read := range reads {
		var err error
		if v[i], err = read(); err != nil {
			return Motion{}, errors.Wrap(err, "imu read")
		}
	}
	var mo Motion
	copy(mo.Accel[:], v[:3])
	copy(mo.Gyro[:], v[3:])
	return mo, nil
}

// Close leaves the shared SPI transport open for the next connect.
func (m *mpuMotion) Close() error {
	return nil
}

// serialMotion reads the microcontroller dongle's text records:
//
//	A <counter> <mag x y z> <acc x y z> <rot x y z> Z
//
// Values are unsigned 10 bit readings centred on 512.
type serialMotion struct {
	lines LineReader
}

const imuCentre = 512

func (s *serialMotion) ReadMotion() (Motion, error) {
	for {
		line, err := s.lines.ReadLine()
		if err != nil {
			return Motion{}, err
		}
		if m, ok := parseIMURecord(line); ok {
			return m, nil
		}
	}
}

func parseIMURecord(line string) (m Motion, ok bool) {
	start := strings.IndexByte(line, 'A')
	end := strings.LastIndexByte(line, 'Z')
	if start < 0 || end <= start {
		return m, false
	}
	fields := strings.Fields(line[start+1 : end])
	if len(fields) != 10 {
		return m, false
	}
	var v [9]int16
	for i, f := range fields[1:] {
		n, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return m, false
		}
		v[i] = int16(int(n) - imuCentre)
	}
	copy(m.Mag[:], v[0:3])
	copy(m.Accel[:], v[3:6])
	copy(m.Gyro[:], v[6:9])
	m.HasMag = true
	return m, true
}

func (s *serialMotion) Close() error {
	return s.lines.Close()
}

// imuSource samples a motion sensor on a fixed period. Deadlines are
// absolute, so a slow read does not shift every later sample.
type imuSource struct {
	cfg      IMUConfig
	sensor   MotionSensor
	tb       *Timebase
	sendChan chan<- Reading

	missed  atomic.Uint64
	lastLog time.Time
	// to allow testing
	now func() time.Time
}

func newIMUSource(cfg IMUConfig, tb *Timebase, sendChan chan<- Reading) *imuSource {
	return &imuSource{cfg: cfg, tb: tb, sendChan: sendChan, now: time.Now}
}

func (s *imuSource) Name() string {
	return "imu"
}

func (s *imuSource) Open() error {
	sensor, err := imuConnect(s.cfg)
	if err != nil {
		return err
	}
	s.sensor = sensor
	return nil
}

func (s *imuSource) Close() error {
	if s.sensor == nil {
		return nil
	}
	err := s.sensor.Close()
	s.sensor = nil
	return err
}

func (s *imuSource) Missed() uint64 {
	return s.missed.Load()
}

func (s *imuSource) Start(ctx context.Context) error {
	sensor := s.sensor
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks a read from a sensor that went quiet
			_ = sensor.Close()
		case <-stop:
		}
	}()

	period := s.cfg.Period.Duration
	next := s.now().Add(period)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		m, err := sensor.ReadMotion()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c := at(s.tb.Now())
		readings := []Reading{AccelSample{c, m.Accel}, GyroSample{c, m.Gyro}}
		if m.HasMag {
			readings = append(readings, MagSample{c, m.Mag})
		}
		for _, r := range readings {
			if err := emit(ctx, s.sendChan, r); err != nil {
				return err
			}
		}

		next = s.nextDeadline(next, period)
		timer.Reset(time.Until(next))
	}
}

// nextDeadline advances from the deadline just served. When that lands in
// the past the missed ticks are counted and skipped.
func (s *imuSource) nextDeadline(prev time.Time, period time.Duration) time.Time {
	next := prev.Add(period)
	now := s.now()
	if !now.After(next) {
		return next
	}
	skipped := uint64(now.Sub(next)/period) + 1
	s.missed.Add(skipped)
	next = next.Add(time.Duration(skipped) * period)
	if now.Sub(s.lastLog) >= time.Second {
		log.WithField("missed", s.missed.Load()).Warn("imu sample deadline missed")
		s.lastLog = now
	}
	return next
}

// runIMU runs the inertial sampler until ctx is done.
func runIMU(ctx context.Context, cfg IMUConfig, tb *Timebase, sendChan chan<- Reading) error {
	s := newIMUSource(cfg, tb, sendChan)
	err := retry(ctx, s)
	log.WithField("missed", s.Missed()).Infof("imu done: %v", err)
	return nil
}
