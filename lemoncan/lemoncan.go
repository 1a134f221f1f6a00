// Package lemoncan decodes the sensor frames broadcast on the car's CAN bus
// by the add-on sensor board: oil and coolant temperature and wheel speed.
package lemoncan

import (
	"context"
	"encoding/binary"
	"github.com/brutella/can"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	frameOilTemp     uint32 = 0x100
	frameCoolantTemp uint32 = 0x101
	frameWheelSpeed  uint32 = 0x103
)

type FloatResultFn func(v float64)

type Callbacks struct {
	// OilTemp and CoolantTemp in degrees C
	OilTemp     FloatResultFn
	CoolantTemp FloatResultFn
	// WheelSpeed in km/h
	WheelSpeed FloatResultFn
}

type CANBus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
}

type Connection struct {
	bus CANBus
	cb  Callbacks
}

// to allow testing
var newBus = func(portName string) (CANBus, error) {
	return can.NewBusForInterfaceWithName(portName)
}

func Connect(portName string) (*Connection, error) {
	bus, err := newBus(portName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open can interface %s", portName)
	}

	c := &Connection{
		bus: bus,
	}
	return c, nil
}

// Start delivers decoded frames to cb until ctx is done or the bus fails.
func (c *Connection) Start(ctx context.Context, cb Callbacks) error {
	c.cb = cb
	c.bus.SubscribeFunc(c.handleFrame)
	log.Info("CAN bus opened and subscribed")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			log.WithField("err", ctx.Err()).Info("stopping can bus")
			if err := c.bus.Disconnect(); err != nil {
				log.WithField("err", err).Warn("unable to disconnect canbus after context")
			}
		case <-stop:
		}
	}()

	if err := c.bus.ConnectAndPublish(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Connection) Close() error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	return c.bus.Disconnect()
}

func (c *Connection) handleFrame(frame can.Frame) {
	log.WithField("canID", frame.ID).
		WithField("length", frame.Length).
		Debug("received canbus frame")

	var cb FloatResultFn
	var v float64
	var err error
	switch frame.ID {
	case frameOilTemp:
		cb = c.cb.OilTemp
		v, err = int16Result(frame, 10)
	case frameCoolantTemp:
		cb = c.cb.CoolantTemp
		v, err = int16Result(frame, 10)
	case frameWheelSpeed:
		cb = c.cb.WheelSpeed
		v, err = uint16Result(frame, 100)
	default:
		log.WithField("canID", frame.ID).
			Debug("ignoring unknown canID")
		return
	}

	if cb == nil {
		log.WithField("canID", frame.ID).Debug("no callback registered")
		return
	}
	if err != nil {
		log.WithField("canID", frame.ID).WithField("err", err).Warn("unable to decode frame")
		return
	}
	log.WithField("canID", frame.ID).
		WithField("value", v).
		Debug("calling callback function")
	cb(v)
}

func uint16Result(frame can.Frame, divisor float64) (float64, error) {
	if frame.Length != 2 {
		return 0, errors.Errorf("incorrect frame size for uint16: %v", frame.Length)
	}
	return float64(binary.LittleEndian.Uint16(frame.Data[0:2])) / divisor, nil
}

func int16Result(frame can.Frame, divisor float64) (float64, error) {
	if frame.Length != 2 {
		return 0, errors.Errorf("incorrect frame size for int16: %v", frame.Length)
	}
	return float64(int16(binary.LittleEndian.Uint16(frame.Data[0:2]))) / divisor, nil
}
