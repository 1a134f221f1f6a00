package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jd3nn1s/dashlog/conf"
	"github.com/jd3nn1s/dashlog/record"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Header struct {
	Type uint8
}

const (
	TypeRecords = 1
)

// records per datagram, keeps a packet within a 1500 byte MTU
const maxBatch = 60

const maxPacketSize = 1 + maxBatch*record.Size

type UDPConfig struct {
	Server   string        `toml:"server"`
	Port     int           `toml:"port"`
	Interval conf.Duration `toml:"interval"`
}

func (c UDPConfig) Enabled() bool {
	return c.Server != ""
}

// UDPForwarder sends queued records at most once per interval, as a
// datagram of a Header followed by up to maxBatch records.
type UDPForwarder struct {
	Config UDPConfig

	conn net.Conn
	outbox
	sent uint64
}

func NewUDPForwarder(config UDPConfig) (*UDPForwarder, error) {
	if config.Interval.Duration <= 0 {
		config.Interval.Duration = 100 * time.Millisecond
	}
	udp := &UDPForwarder{
		Config: config,
		outbox: newOutbox(4 * maxBatch),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Forward(rec record.Record) error {
	udp.push(rec)
	return nil
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	defer udp.Close()
	limiter := time.NewTicker(udp.Config.Interval.Duration)
	defer limiter.Stop()
	for {
		select {
		case <-ctx.Done():
			log.WithField("sent", udp.sent).
				WithField("dropped", udp.Dropped()).
				Info("udp forwarder stopped")
			return nil
		case <-limiter.C:
		}
		batch := udp.take()
		if len(batch) == 0 {
			continue
		}
		if err := udp.forward(batch); err != nil {
			log.WithField("err", err).Error("unable to forward records to server")
			continue
		}
		udp.sent += uint64(len(batch))
	}
}

func (udp *UDPForwarder) take() []record.Record {
	var batch []record.Record
	for len(batch) < maxBatch {
		select {
		case rec := <-udp.q.C():
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (udp *UDPForwarder) forward(recs []record.Record) error {
	buf := bytes.NewBuffer(make([]byte, 0, maxPacketSize))
	hdr := Header{
		Type: TypeRecords,
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	for i := range recs {
		buf.Write(recs[i][:])
	}
	_, err := udp.conn.Write(buf.Bytes())
	return errors.Wrap(err, "unable to send udp packet")
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxPacketSize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial udp forwarding server")
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		conn.Close()
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}

// DecodePacket splits a datagram written by UDPForwarder into records.
func DecodePacket(p []byte) ([]record.Record, error) {
	hdr := Header{}
	rdr := bytes.NewReader(p)
	if err := binary.Read(rdr, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "unable to read udp packet header")
	}
	if hdr.Type != TypeRecords {
		return nil, errors.Errorf("unexpected packet type %d", hdr.Type)
	}
	var recs []record.Record
	rd := record.NewReader(rdr)
	for {
		rec, err := rd.Next()
		if err != nil {
			if errors.Cause(err) == io.EOF {
				return recs, nil
			}
			return recs, err
		}
		recs = append(recs, rec)
	}
}
