package dashlog

import (
	"context"

	"github.com/jd3nn1s/dashlog/lemoncan"
	log "github.com/sirupsen/logrus"
)

type canBus struct {
	iface    string
	c        CANBus
	tb       *Timebase
	sendChan chan<- Reading
}

func (bus *canBus) Open() error {
	c, err := canBusConnect(bus.iface)
	if err != nil {
		return err
	}
	bus.c = c
	return nil
}

func (bus *canBus) Close() error {
	if bus.c == nil {
		return nil
	}
	err := bus.c.Close()
	bus.c = nil
	return err
}

func (bus *canBus) Start(ctx context.Context) error {
	send := func(r Reading) {
		if err := emit(ctx, bus.sendChan, r); err != nil {
			log.WithField("err", err).Debug("canbus reading not delivered")
		}
	}
	return bus.c.Start(ctx, lemoncan.Callbacks{
		WheelSpeed: func(v float64) {
			send(WheelSpeed{at(bus.tb.Now()), v})
		},
		CoolantTemp: func(v float64) {
			send(CoolantTemp{at(bus.tb.Now()), v})
		},
		OilTemp: func(v float64) {
			send(OilTemp{at(bus.tb.Now()), v})
		},
	})
}

func (bus *canBus) Name() string {
	return "canbus"
}

// to allow testing
var canBusConnect = func(p string) (CANBus, error) {
	return lemoncan.Connect(p)
}

func runCAN(ctx context.Context, cfg CANConfig, tb *Timebase, sendChan chan<- Reading) error {
	err := retry(ctx, &canBus{
		iface:    cfg.Interface,
		tb:       tb,
		sendChan: sendChan,
	})
	log.Infof("canbus done: %v", err)
	return nil
}
